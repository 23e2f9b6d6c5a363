package store

import (
	"github.com/ahostbr/kuroryuu-public-sub001/internal/schedule"
)

// SchemaVersion is the current persisted document version. Older documents are
// migrated in memory at load time.
const SchemaVersion = 2

// HistoryLimit bounds the per-job run history ring.
const HistoryLimit = 50

// JobStatus is the runtime state of a job. It is persisted for UI continuity
// but the engine's running-set is authoritative for "running".
type JobStatus string

const (
	JobIdle    JobStatus = "idle"
	JobRunning JobStatus = "running"
	JobPaused  JobStatus = "paused"
)

// RunStatus is the state of a single execution attempt.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ExecutionMode governs whether the spawned process is hidden and reaped
// (background) or left visible and alive (interactive).
type ExecutionMode string

const (
	ModeBackground  ExecutionMode = "background"
	ModeInteractive ExecutionMode = "interactive"
)

// ActionType discriminates the job action union.
type ActionType string

const (
	ActionPrompt ActionType = "prompt"
	ActionTeam   ActionType = "team"
	ActionScript ActionType = "script"
)

// JobAction describes what a job does when it fires. Exactly one variant is
// active, selected by Type; the other variants' fields stay zero.
type JobAction struct {
	Type ActionType `json:"type"`

	// prompt (also used by team actions with a prompt strategy)
	Prompt        string        `json:"prompt,omitempty"`
	Workdir       string        `json:"workdir,omitempty"`
	Model         string        `json:"model,omitempty"`
	AllowedTools  []string      `json:"allowedTools,omitempty"`
	ExecutionMode ExecutionMode `json:"executionMode,omitempty"`

	// team
	TeamID            string   `json:"teamId,omitempty"`
	TaskIDs           []string `json:"taskIds,omitempty"`
	ExecutionStrategy string   `json:"executionStrategy,omitempty"`

	// script. TimeoutMinutes nil means the default; explicit 0 disables the
	// timeout entirely.
	ScriptPath     string   `json:"scriptPath,omitempty"`
	Args           []string `json:"args,omitempty"`
	TimeoutMinutes *int     `json:"timeoutMinutes,omitempty"`
}

// JobRun is one execution attempt. Immutable once CompletedAt is set.
type JobRun struct {
	ID          string         `json:"id"`
	StartedAt   int64          `json:"startedAt"`
	CompletedAt *int64         `json:"completedAt,omitempty"`
	Status      RunStatus      `json:"status"`
	Error       string         `json:"error,omitempty"`
	Output      string         `json:"output,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ScheduledJob is the mutable job aggregate. All mutation goes through Store.
type ScheduledJob struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Enabled     bool              `json:"enabled"`
	Schedule    schedule.Schedule `json:"schedule"`
	Action      JobAction         `json:"action"`
	Status      JobStatus         `json:"status"`
	LastRun     *int64            `json:"lastRun,omitempty"`
	NextRun     *int64            `json:"nextRun,omitempty"`
	History     []JobRun          `json:"history"`
	CreatedAt   int64             `json:"createdAt"`
	UpdatedAt   int64             `json:"updatedAt"`
	Tags        []string          `json:"tags,omitempty"`

	NotifyOnStart    bool `json:"notifyOnStart"`
	NotifyOnComplete bool `json:"notifyOnComplete"`
	NotifyOnError    bool `json:"notifyOnError"`
}

// ScheduledEvent is a reminder-only trigger: no action, no history, no
// concurrency interaction. Due events just fire a notification.
type ScheduledEvent struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Enabled     bool              `json:"enabled"`
	Schedule    schedule.Schedule `json:"schedule"`
	LastRun     *int64            `json:"lastRun,omitempty"`
	NextRun     *int64            `json:"nextRun,omitempty"`
	CreatedAt   int64             `json:"createdAt"`
	UpdatedAt   int64             `json:"updatedAt"`
}

// SchedulerSettings holds subsystem-wide knobs, persisted with the jobs.
type SchedulerSettings struct {
	Enabled              bool `json:"enabled"`
	MaxConcurrentJobs    int  `json:"maxConcurrentJobs"`
	HistoryRetentionDays int  `json:"historyRetentionDays"`
	DefaultNotifyOnError bool `json:"defaultNotifyOnError"`
}

// SchedulerData is the persisted document root.
type SchedulerData struct {
	Version  int               `json:"version"`
	Jobs     []ScheduledJob    `json:"jobs"`
	Events   []ScheduledEvent  `json:"events"`
	Settings SchedulerSettings `json:"settings"`
}

// DefaultSettings are applied on first run and backfilled by migration.
func DefaultSettings() SchedulerSettings {
	return SchedulerSettings{
		Enabled:              true,
		MaxConcurrentJobs:    3,
		HistoryRetentionDays: 30,
		DefaultNotifyOnError: true,
	}
}

func defaultData() *SchedulerData {
	return &SchedulerData{
		Version:  SchemaVersion,
		Jobs:     []ScheduledJob{},
		Events:   []ScheduledEvent{},
		Settings: DefaultSettings(),
	}
}

// JobPatch is a shallow merge of provided fields over an existing job.
// Nested values (Schedule, Action) are replaced wholesale, not deep-merged.
type JobPatch struct {
	Name             *string            `json:"name,omitempty"`
	Description      *string            `json:"description,omitempty"`
	Enabled          *bool              `json:"enabled,omitempty"`
	Schedule         *schedule.Schedule `json:"schedule,omitempty"`
	Action           *JobAction         `json:"action,omitempty"`
	Tags             *[]string          `json:"tags,omitempty"`
	NotifyOnStart    *bool              `json:"notifyOnStart,omitempty"`
	NotifyOnComplete *bool              `json:"notifyOnComplete,omitempty"`
	NotifyOnError    *bool              `json:"notifyOnError,omitempty"`
}

// Apply merges the provided fields over j.
func (p JobPatch) Apply(j *ScheduledJob) {
	if p.Name != nil {
		j.Name = *p.Name
	}
	if p.Description != nil {
		j.Description = *p.Description
	}
	if p.Enabled != nil {
		j.Enabled = *p.Enabled
	}
	if p.Schedule != nil {
		j.Schedule = *p.Schedule
	}
	if p.Action != nil {
		j.Action = *p.Action
	}
	if p.Tags != nil {
		j.Tags = *p.Tags
	}
	if p.NotifyOnStart != nil {
		j.NotifyOnStart = *p.NotifyOnStart
	}
	if p.NotifyOnComplete != nil {
		j.NotifyOnComplete = *p.NotifyOnComplete
	}
	if p.NotifyOnError != nil {
		j.NotifyOnError = *p.NotifyOnError
	}
}

// EventPatch mirrors JobPatch for reminder events.
type EventPatch struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
	Schedule    *schedule.Schedule `json:"schedule,omitempty"`
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	Enabled              *bool `json:"enabled,omitempty"`
	MaxConcurrentJobs    *int  `json:"maxConcurrentJobs,omitempty"`
	HistoryRetentionDays *int  `json:"historyRetentionDays,omitempty"`
	DefaultNotifyOnError *bool `json:"defaultNotifyOnError,omitempty"`
}
