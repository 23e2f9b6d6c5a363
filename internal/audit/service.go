package audit

import (
	"context"
	"sync"
	"time"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/eventbus"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

// Service bridges the run event bus into the audit store. It owns one
// consumer goroutine; append failures are logged, never propagated back into
// job execution.
type Service struct {
	log   logx.Logger
	store Store

	mu    sync.Mutex
	unsub func()
	wg    sync.WaitGroup
}

func NewService(store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, store: store}
}

// Start subscribes to the bus. A nil store makes Start a no-op.
func (s *Service) Start(bus eventbus.Bus) {
	if s.store == nil || bus == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return
	}
	ch, unsub := bus.Subscribe(64)
	s.unsub = unsub
	s.wg.Add(1)
	go s.consume(ch)
}

// Stop unsubscribes and waits for the consumer to drain.
func (s *Service) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub == nil {
		return
	}
	unsub()
	s.wg.Wait()
}

func (s *Service) consume(ch <-chan eventbus.RunEvent) {
	defer s.wg.Done()
	for ev := range ch {
		entry := Entry{
			At:      ev.Time,
			Event:   ev.Type,
			JobID:   ev.JobID,
			JobName: ev.JobName,
			RunID:   ev.RunID,
			Status:  ev.Status,
			TookMS:  ev.Duration.Milliseconds(),
			Error:   ev.Error,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.store.Append(ctx, entry); err != nil {
			s.log.Warn("audit append failed", logx.String("job", ev.JobID), logx.Err(err))
		}
		cancel()
	}
}
