package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

// Service implements Notifier as an async pipeline: bounded queue, one worker,
// token-bucket rate limit, best-effort fanout to all configured sinks.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	sinks   []Sink
	limiter *rate.Limiter

	queue    chan Notification
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	started  bool
}

func NewService(cfg Config, log logx.Logger, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Service{
		log:   log,
		cfg:   cfg,
		sinks: sinks,
		// Burst equals the per-second rate so short spikes don't block.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan Notification, cfg.QueueSize),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.cfg.Enabled {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	stopCh := s.stopCh
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(ctx, stopCh)
	}()
	s.log.Info("notifier started", logx.Int("queue_size", s.cfg.QueueSize), logx.Int("rate_per_sec", s.cfg.RatePerSec), logx.Int("sinks", len(s.sinks)))
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()
	s.workerWG.Wait()
	s.log.Info("notifier stopped")
}

// Notify enqueues a delivery. It never blocks: when the queue is full or the
// service is stopped, the notification is dropped with a log line.
func (s *Service) Notify(title, body string, urgency Urgency) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		s.log.Debug("notifier not running; dropping", logx.String("title", title))
		return
	}
	if urgency == "" {
		urgency = UrgencyNormal
	}
	n := Notification{Title: title, Body: body, Urgency: urgency, At: time.Now()}
	select {
	case s.queue <- n:
	default:
		s.log.Warn("notifier queue full; dropping", logx.String("title", title))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case n := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	for _, sink := range s.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := sink.Send(sendCtx, n)
		cancel()
		if err != nil {
			s.log.Warn("notification delivery failed", logx.String("sink", sink.Name()), logx.String("title", n.Title), logx.Err(err))
		}
	}
}
