package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/eventbus"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/notify"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/schedule"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(title, body string, urgency notify.Urgency) {
	n.mu.Lock()
	n.calls = append(n.calls, string(urgency)+": "+title)
	n.mu.Unlock()
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func newTestEngine(t *testing.T, exec Executor) (*Engine, *store.Store, *recordingNotifier) {
	t.Helper()
	st := store.New(t.TempDir(), logx.Nop())
	if err := st.Initialize(); err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(st.Close)

	n := &recordingNotifier{}
	e := New(st, n, eventbus.New(), Config{TickInterval: time.Hour}, logx.Nop())
	if exec != nil {
		e.Configure(exec)
	}
	return e, st, n
}

func dueJob(id string) store.ScheduledJob {
	now := time.Now()
	due := now.Add(-time.Second).UnixMilli()
	created := now.UnixMilli()
	return store.ScheduledJob{
		ID:      id,
		Name:    "job " + id,
		Enabled: true,
		Schedule: schedule.Schedule{
			Type: schedule.KindInterval, Every: 1, Unit: schedule.UnitMinutes,
		},
		Action:    store.JobAction{Type: store.ActionPrompt, Prompt: "hi"},
		Status:    store.JobIdle,
		NextRun:   &due,
		History:   []store.JobRun{},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStartRequiresExecutor(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t, nil)
	if err := e.Start(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Start without executor = %v, want ErrNotConfigured", err)
	}
}

func TestScanRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		<-release
		return &ExecResult{Output: "done"}, nil
	})
	e, st, _ := newTestEngine(t, exec)

	maxJobs := 2
	if _, err := st.UpdateSettings(store.SettingsPatch{MaxConcurrentJobs: &maxJobs}); err != nil {
		t.Fatal(err)
	}
	ids := []string{"c-1", "c-2", "c-3", "c-4", "c-5"}
	for _, id := range ids {
		if err := st.AddJob(dueJob(id)); err != nil {
			t.Fatal(err)
		}
	}

	e.Scan(time.Now())

	if got := e.RunningCount(); got != maxJobs {
		t.Fatalf("running = %d, want %d", got, maxJobs)
	}
	// The deferred jobs keep their nextRun and stay idle.
	idle := 0
	for _, id := range ids {
		j, _ := st.Job(id)
		if !e.IsRunning(id) {
			if j.Status != store.JobIdle || j.NextRun == nil {
				t.Fatalf("deferred job %s: status=%s nextRun=%v", id, j.Status, j.NextRun)
			}
			idle++
		}
	}
	if idle != len(ids)-maxJobs {
		t.Fatalf("idle = %d, want %d", idle, len(ids)-maxJobs)
	}

	close(release)
	e.Wait()
	if got := e.RunningCount(); got != 0 {
		t.Fatalf("running after completion = %d, want 0", got)
	}
}

func TestIntervalJobLifecycle(t *testing.T) {
	t.Parallel()
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		return &ExecResult{Output: "ok", Metadata: map[string]any{"exit": 0}}, nil
	})
	e, st, _ := newTestEngine(t, exec)
	if err := st.AddJob(dueJob("l-1")); err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	e.Scan(before)
	e.Wait()

	j, ok := st.Job("l-1")
	if !ok {
		t.Fatal("job vanished")
	}
	if j.Status != store.JobIdle {
		t.Fatalf("status = %s, want idle", j.Status)
	}
	if len(j.History) != 1 {
		t.Fatalf("history = %d entries, want 1", len(j.History))
	}
	run := j.History[0]
	if run.Status != store.RunCompleted || run.Output != "ok" {
		t.Fatalf("run = %+v", run)
	}
	if run.CompletedAt == nil || *run.CompletedAt < run.StartedAt {
		t.Fatalf("completedAt = %v", run.CompletedAt)
	}
	if j.LastRun == nil {
		t.Fatal("lastRun not set")
	}
	// nextRun recomputed from completion time: one minute ahead.
	if j.NextRun == nil || *j.NextRun <= before.UnixMilli() {
		t.Fatalf("nextRun = %v, want > scan time", j.NextRun)
	}
	if *j.NextRun > time.Now().Add(2*time.Minute).UnixMilli() {
		t.Fatalf("nextRun too far out: %d", *j.NextRun)
	}
}

func TestFailedRunRecordedAndNotified(t *testing.T) {
	t.Parallel()
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		return nil, errors.New("process exited with code 2")
	})
	e, st, n := newTestEngine(t, exec)
	job := dueJob("f-1")
	job.NotifyOnError = true
	if err := st.AddJob(job); err != nil {
		t.Fatal(err)
	}

	e.Scan(time.Now())
	e.Wait()

	j, _ := st.Job("f-1")
	if len(j.History) != 1 || j.History[0].Status != store.RunFailed {
		t.Fatalf("history = %+v", j.History)
	}
	if !strings.Contains(j.History[0].Error, "code 2") {
		t.Fatalf("error = %q", j.History[0].Error)
	}
	found := false
	for _, c := range n.titles() {
		if strings.Contains(c, "critical") && strings.Contains(c, "Job failed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no urgent failure notification in %v", n.titles())
	}
}

func TestExecutorPanicBecomesFailedRun(t *testing.T) {
	t.Parallel()
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		panic("boom")
	})
	e, st, _ := newTestEngine(t, exec)
	if err := st.AddJob(dueJob("p-1")); err != nil {
		t.Fatal(err)
	}
	e.Scan(time.Now())
	e.Wait()

	j, _ := st.Job("p-1")
	if len(j.History) != 1 || j.History[0].Status != store.RunFailed {
		t.Fatalf("history = %+v", j.History)
	}
	if !strings.Contains(j.History[0].Error, "panic") {
		t.Fatalf("error = %q", j.History[0].Error)
	}
	if e.RunningCount() != 0 {
		t.Fatal("running set leaked after panic")
	}
}

func TestHistoryRingBound(t *testing.T) {
	t.Parallel()
	var seq int
	var mu sync.Mutex
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		mu.Lock()
		seq++
		out := seq
		mu.Unlock()
		return &ExecResult{Output: strconv.Itoa(out)}, nil
	})
	e, st, _ := newTestEngine(t, exec)
	if err := st.AddJob(dueJob("h-1")); err != nil {
		t.Fatal(err)
	}
	job, _ := st.Job("h-1")

	for i := 0; i < 60; i++ {
		e.mu.Lock()
		e.running["h-1"] = struct{}{}
		e.mu.Unlock()
		e.executeJob(exec, job)
	}

	j, _ := st.Job("h-1")
	if len(j.History) != store.HistoryLimit {
		t.Fatalf("history = %d, want %d", len(j.History), store.HistoryLimit)
	}
	// Newest first.
	if j.History[0].Output != "60" || j.History[store.HistoryLimit-1].Output != "11" {
		t.Fatalf("ring order wrong: first=%s last=%s", j.History[0].Output, j.History[store.HistoryLimit-1].Output)
	}
}

func TestScanSkipsPausedAndDisabled(t *testing.T) {
	t.Parallel()
	var ran int32
	var mu sync.Mutex
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		mu.Lock()
		ran++
		mu.Unlock()
		return nil, nil
	})
	e, st, _ := newTestEngine(t, exec)

	paused := dueJob("s-paused")
	paused.Status = store.JobPaused
	pausedNext := *paused.NextRun
	disabled := dueJob("s-disabled")
	disabled.Enabled = false
	if err := st.AddJob(paused); err != nil {
		t.Fatal(err)
	}
	if err := st.AddJob(disabled); err != nil {
		t.Fatal(err)
	}

	e.Scan(time.Now())
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if ran != 0 {
		t.Fatalf("ran = %d, want 0", ran)
	}
	j, _ := st.Job("s-paused")
	if j.NextRun == nil || *j.NextRun != pausedNext {
		t.Fatal("paused job's nextRun was advanced by the scan")
	}
}

func TestScanHonorsGlobalKillSwitch(t *testing.T) {
	t.Parallel()
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		t.Error("executor invoked while scheduler disabled")
		return nil, nil
	})
	e, st, _ := newTestEngine(t, exec)
	off := false
	if _, err := st.UpdateSettings(store.SettingsPatch{Enabled: &off}); err != nil {
		t.Fatal(err)
	}
	if err := st.AddJob(dueJob("k-1")); err != nil {
		t.Fatal(err)
	}
	e.Scan(time.Now())
	e.Wait()
}

func TestRunNow(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		<-release
		return nil, nil
	})
	e, st, _ := newTestEngine(t, exec)
	if err := st.AddJob(dueJob("n-1")); err != nil {
		t.Fatal(err)
	}

	if err := e.RunNow("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("RunNow(missing) = %v, want ErrNotFound", err)
	}
	if err := e.RunNow("n-1"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	// Second trigger while running: already-running, and no second run appears.
	if err := e.RunNow("n-1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("duplicate RunNow = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	e.Wait()
	j, _ := st.Job("n-1")
	if len(j.History) != 1 {
		t.Fatalf("history = %d runs, want 1", len(j.History))
	}
}

func TestRunNowExceedsCap(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		<-release
		return nil, nil
	})
	e, st, _ := newTestEngine(t, exec)
	one := 1
	if _, err := st.UpdateSettings(store.SettingsPatch{MaxConcurrentJobs: &one}); err != nil {
		t.Fatal(err)
	}
	if err := st.AddJob(dueJob("x-1")); err != nil {
		t.Fatal(err)
	}
	if err := st.AddJob(dueJob("x-2")); err != nil {
		t.Fatal(err)
	}

	e.Scan(time.Now())
	if e.RunningCount() != 1 {
		t.Fatalf("running = %d, want 1", e.RunningCount())
	}
	// Manual triggers are not throttled by the cap.
	var manual string
	for _, id := range []string{"x-1", "x-2"} {
		if !e.IsRunning(id) {
			manual = id
		}
	}
	if err := e.RunNow(manual); err != nil {
		t.Fatalf("RunNow above cap: %v", err)
	}
	if e.RunningCount() != 2 {
		t.Fatalf("running = %d, want 2", e.RunningCount())
	}
	close(release)
	e.Wait()
}

func TestScanAdvancesReminderEvents(t *testing.T) {
	t.Parallel()
	e, st, n := newTestEngine(t, ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		return nil, nil
	}))
	due := time.Now().Add(-time.Second).UnixMilli()
	now := time.Now().UnixMilli()
	ev := store.ScheduledEvent{
		ID: "ev-1", Title: "water the plants", Enabled: true,
		Schedule: schedule.Schedule{Type: schedule.KindInterval, Every: 1, Unit: schedule.UnitHours},
		NextRun:  &due, CreatedAt: now, UpdatedAt: now,
	}
	if err := st.AddEvent(ev); err != nil {
		t.Fatal(err)
	}

	e.Scan(time.Now())
	e.Wait()

	got, _ := st.Event("ev-1")
	if got.LastRun == nil {
		t.Fatal("event lastRun not set")
	}
	if got.NextRun == nil || *got.NextRun <= time.Now().UnixMilli() {
		t.Fatalf("event nextRun = %v, want future", got.NextRun)
	}
	found := false
	for _, c := range n.titles() {
		if strings.Contains(c, "water the plants") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no reminder notification in %v", n.titles())
	}
}

func TestOnceJobExpiresAfterRun(t *testing.T) {
	t.Parallel()
	exec := ExecutorFunc(func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
		return nil, nil
	})
	e, st, _ := newTestEngine(t, exec)
	job := dueJob("o-1")
	job.Schedule = schedule.Schedule{Type: schedule.KindOnce, At: time.Now().Add(-time.Minute).UnixMilli()}
	if err := st.AddJob(job); err != nil {
		t.Fatal(err)
	}

	e.Scan(time.Now())
	e.Wait()

	j, _ := st.Job("o-1")
	if j.NextRun != nil {
		t.Fatalf("one-shot nextRun = %v, want absent", j.NextRun)
	}
}
