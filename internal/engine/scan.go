package engine

import (
	"errors"
	"time"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/eventbus"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/notify"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/schedule"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

// Scan runs one due-job pass. Exported for tests; the ticker calls it with
// the current time.
//
// A due job skipped because the cap was reached keeps its nextRun and is
// picked up on a later tick.
func (e *Engine) Scan(now time.Time) {
	settings := e.store.Settings()
	if !settings.Enabled {
		return
	}
	nowMs := now.UnixMilli()

	maxConcurrent := settings.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	for _, job := range e.store.Jobs() {
		if !job.Enabled || job.Status == store.JobPaused {
			continue
		}
		if job.NextRun == nil || *job.NextRun > nowMs {
			continue
		}

		e.mu.Lock()
		if _, dup := e.running[job.ID]; dup {
			e.mu.Unlock()
			continue
		}
		if len(e.running) >= maxConcurrent {
			e.mu.Unlock()
			e.log.Debug("concurrency cap reached; deferring job", logx.String("job", job.ID), logx.Int("cap", maxConcurrent))
			continue
		}
		e.running[job.ID] = struct{}{}
		e.mu.Unlock()

		e.startJob(job)
	}

	e.advanceEvents(nowMs)
}

// advanceEvents fires due reminder events. They carry no action and never
// interact with the concurrency cap.
func (e *Engine) advanceEvents(nowMs int64) {
	for _, ev := range e.store.Events() {
		if !ev.Enabled || ev.NextRun == nil || *ev.NextRun > nowMs {
			continue
		}
		e.notifier.Notify(ev.Title, ev.Description, notify.UrgencyNormal)
		if e.bus != nil {
			e.bus.Publish(eventbus.RunEvent{Type: eventbus.TypeEventFired, JobID: ev.ID, JobName: ev.Title})
		}
		_, err := e.store.MutateEvent(ev.ID, func(cur *store.ScheduledEvent) {
			fired := nowMs
			cur.LastRun = &fired
			cur.NextRun = schedule.NextRunMillis(cur.Schedule, time.UnixMilli(nowMs))
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("event advance failed", logx.String("event", ev.ID), logx.Err(err))
		}
	}
}
