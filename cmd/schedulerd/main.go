package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/api"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/audit"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/config"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/engine"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/eventbus"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/executor"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/httpapi"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/notify"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logx.New(cfg.LogConfig())
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	manager.SetLogger(log)

	st := store.New(cfg.Scheduler.DataDir, log.With(logx.String("comp", "store")))
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer st.Close()

	bus := eventbus.New()

	auditStore, err := audit.Open(cfg.AuditOpenConfig(), log.With(logx.String("comp", "audit")))
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	auditSvc := audit.NewService(auditStore, log.With(logx.String("comp", "audit")))
	auditSvc.Start(bus)
	defer func() {
		auditSvc.Stop()
		if auditStore != nil {
			_ = auditStore.Close()
		}
	}()

	notifier, stopNotifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stopNotifier()

	runner := executor.New(cfg.ExecConfig(), log.With(logx.String("comp", "executor")))

	eng := engine.New(st, notifier, bus,
		engine.Config{TickInterval: cfg.TickInterval()},
		log.With(logx.String("comp", "engine")))
	eng.Configure(runner)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	svc := api.NewService(st, eng, log.With(logx.String("comp", "api")))

	if addr := cfg.HTTPAddr(); addr != "" {
		srv := httpapi.New(addr, svc, log.With(logx.String("comp", "http")))
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("http api failed", logx.Err(err))
			}
		}()
		defer func() {
			shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shCancel()
			_ = srv.Shutdown(shCtx)
		}()
	}

	// Hot reload: only the clock and notifier knobs apply without restart.
	go func() {
		if err := manager.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	updates := manager.Subscribe(1)
	defer manager.Unsubscribe(updates)
	go func() {
		for next := range updates {
			eng.Apply(engine.Config{TickInterval: next.TickInterval()})
			log.Info("applied config update", logx.Duration("tick", next.TickInterval()))
		}
	}()

	notifySystemd(ctx, log)

	log.Info("scheduler daemon up", logx.String("data_dir", cfg.Scheduler.DataDir))
	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")
	return nil
}

// buildNotifier assembles the sink stack from config. The log sink is always
// attached so notifications are visible even with everything else off.
func buildNotifier(ctx context.Context, cfg *config.Config, log logx.Logger) (notify.Notifier, func(), error) {
	nc := cfg.NotifyConfig()
	if !nc.Enabled {
		return notify.NopNotifier{}, func() {}, nil
	}

	sinks := []notify.Sink{notify.NewLogSink(log.With(logx.String("comp", "notify")))}
	if cfg.Notifier.Command != "" {
		sinks = append(sinks, notify.NewCommandSink(cfg.Notifier.Command))
	}
	if tg := cfg.Notifier.Telegram; tg != nil {
		sink, err := notify.NewTelegramSink(tg.Token, tg.ChatID)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	svc := notify.NewService(nc, log.With(logx.String("comp", "notify")), sinks...)
	svc.Start(ctx)
	return svc, svc.Stop, nil
}

// notifySystemd reports readiness and services the watchdog when running
// under systemd; both are no-ops elsewhere.
func notifySystemd(ctx context.Context, log logx.Logger) {
	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); ok {
		log.Debug("systemd readiness notified")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
