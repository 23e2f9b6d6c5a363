package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/eventbus"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/notify"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/schedule"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

// RunNow triggers a job immediately, bypassing the schedule check and the
// concurrency cap (manual triggers are deliberately not throttled). It fails
// fast when the job does not exist or is already executing.
func (e *Engine) RunNow(id string) error {
	job, ok := e.store.Job(id)
	if !ok {
		return store.ErrNotFound
	}

	e.mu.Lock()
	if _, dup := e.running[id]; dup {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running[id] = struct{}{}
	e.mu.Unlock()

	e.startJob(job)
	return nil
}

// startJob assumes the caller already registered the id in the running set.
func (e *Engine) startJob(job store.ScheduledJob) {
	e.mu.Lock()
	exec := e.exec
	e.mu.Unlock()
	if exec == nil {
		e.release(job.ID)
		return
	}

	e.jobWG.Add(1)
	go func() {
		defer e.jobWG.Done()
		e.executeJob(exec, job)
	}()
}

func (e *Engine) executeJob(exec Executor, job store.ScheduledJob) {
	startedAt := time.Now()
	startMs := startedAt.UnixMilli()
	run := store.JobRun{
		ID:        uuid.NewString(),
		StartedAt: startMs,
		Status:    store.RunRunning,
	}
	e.log.Info("job starting", logx.String("job", job.ID), logx.String("name", job.Name), logx.String("run", run.ID))

	if _, err := e.store.MutateJob(job.ID, func(cur *store.ScheduledJob) {
		cur.Status = store.JobRunning
		cur.LastRun = &startMs
	}); err != nil {
		// Deleted between scan and start; nothing to do.
		e.release(job.ID)
		return
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.RunEvent{
			Type: eventbus.TypeJobStarted, JobID: job.ID, JobName: job.Name,
			RunID: run.ID, Status: string(store.RunRunning),
		})
	}
	if job.NotifyOnStart {
		e.notifier.Notify("Job started: "+job.Name, job.Description, notify.UrgencyNormal)
	}

	res, execErr := runSafely(exec, job)

	completedMs := time.Now().UnixMilli()
	run.CompletedAt = &completedMs
	if execErr != nil {
		run.Status = store.RunFailed
		run.Error = execErr.Error()
	} else {
		run.Status = store.RunCompleted
		if res != nil {
			run.Output = res.Output
			run.Metadata = res.Metadata
		}
	}

	e.finishRun(job, run, startedAt)
}

// runSafely isolates executor panics so a bad executor can never take the
// engine down; a panic is recorded like any other failure.
func runSafely(exec Executor, job store.ScheduledJob) (res *ExecResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("executor panic: %v\n%s", r, debug.Stack())
		}
	}()
	return exec.Execute(context.Background(), job)
}

// finishRun records the outcome: prepend to history (bounded ring, newest
// first), return the job to idle, and recompute nextRun from "now". It
// re-reads the current record, so a concurrently renamed or edited job keeps
// those edits; a concurrently deleted job drops the history update silently.
func (e *Engine) finishRun(job store.ScheduledJob, run store.JobRun, startedAt time.Time) {
	now := time.Now()
	retention := e.store.Settings().HistoryRetentionDays

	updated, err := e.store.MutateJob(job.ID, func(cur *store.ScheduledJob) {
		history := make([]store.JobRun, 0, len(cur.History)+1)
		history = append(history, run)
		history = append(history, cur.History...)
		if len(history) > store.HistoryLimit {
			history = history[:store.HistoryLimit]
		}
		cur.History = pruneHistory(history, retention, now)
		cur.Status = store.JobIdle
		cur.NextRun = schedule.NextRunMillis(cur.Schedule, now)
	})

	e.release(job.ID)

	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Error("run result persist failed", logx.String("job", job.ID), logx.Err(err))
		}
		return
	}

	dur := now.Sub(startedAt)
	if run.Status == store.RunFailed {
		e.log.Warn("job failed", logx.String("job", job.ID), logx.String("name", updated.Name), logx.Duration("dur", dur), logx.String("err", run.Error))
		if e.bus != nil {
			e.bus.Publish(eventbus.RunEvent{
				Type: eventbus.TypeJobFailed, JobID: job.ID, JobName: updated.Name,
				RunID: run.ID, Status: string(run.Status), Duration: dur, Error: run.Error,
			})
		}
		if updated.NotifyOnError {
			e.notifier.Notify("Job failed: "+updated.Name, run.Error, notify.UrgencyCritical)
		}
		return
	}

	e.log.Info("job completed", logx.String("job", job.ID), logx.String("name", updated.Name), logx.Duration("dur", dur))
	if e.bus != nil {
		e.bus.Publish(eventbus.RunEvent{
			Type: eventbus.TypeJobCompleted, JobID: job.ID, JobName: updated.Name,
			RunID: run.ID, Status: string(run.Status), Duration: dur,
		})
	}
	if updated.NotifyOnComplete {
		e.notifier.Notify("Job completed: "+updated.Name, run.Output, notify.UrgencyNormal)
	}
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

// pruneHistory drops entries older than the retention window. Retention of
// zero or less keeps everything (the 50-entry ring still applies).
func pruneHistory(history []store.JobRun, retentionDays int, now time.Time) []store.JobRun {
	if retentionDays <= 0 {
		return history
	}
	cutoff := now.AddDate(0, 0, -retentionDays).UnixMilli()
	out := history[:0]
	for _, h := range history {
		if h.StartedAt >= cutoff {
			out = append(out, h)
		}
	}
	return out
}
