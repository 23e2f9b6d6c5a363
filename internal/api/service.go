package api

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/engine"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/schedule"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

// Runner is the slice of the engine the façade needs.
type Runner interface {
	RunNow(id string) error
	IsRunning(id string) bool
}

// Service is the CRUD and control surface the rest of the application calls.
// Every method returns an Envelope and never an error.
type Service struct {
	log    logx.Logger
	store  *store.Store
	runner Runner
}

func NewService(st *store.Store, runner Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, store: st, runner: runner}
}

// CreateJobParams is the parameter bag for createJob. Enabled defaults to
// true; NotifyOnError defaults from the global settings when absent.
type CreateJobParams struct {
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Enabled          *bool             `json:"enabled,omitempty"`
	Schedule         schedule.Schedule `json:"schedule"`
	Action           store.JobAction   `json:"action"`
	Tags             []string          `json:"tags,omitempty"`
	NotifyOnStart    bool              `json:"notifyOnStart,omitempty"`
	NotifyOnComplete bool              `json:"notifyOnComplete,omitempty"`
	NotifyOnError    *bool             `json:"notifyOnError,omitempty"`
}

type UpdateJobParams struct {
	ID string `json:"id"`
	store.JobPatch
}

type IDParams struct {
	ID string `json:"id"`
}

// HistoryQuery filters run history. Empty JobID means all jobs merged.
type HistoryQuery struct {
	JobID  string          `json:"jobId,omitempty"`
	Status store.RunStatus `json:"status,omitempty"`
	Since  int64           `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// HistoryEntry is one run annotated with its owning job.
type HistoryEntry struct {
	JobID   string `json:"jobId"`
	JobName string `json:"jobName"`
	store.JobRun
}

func (s *Service) ListJobs() Envelope {
	jobs := s.store.Jobs()
	for i := range jobs {
		s.overlayRunning(&jobs[i])
	}
	return ok(jobs)
}

func (s *Service) GetJob(id string) Envelope {
	job, found := s.store.Job(id)
	if !found {
		return fail(CodeNotFound, "job not found: "+id)
	}
	s.overlayRunning(&job)
	return ok(job)
}

// overlayRunning patches the returned status with the engine's live view.
// The persisted status can lag behind the running set while a run is in
// flight.
func (s *Service) overlayRunning(j *store.ScheduledJob) {
	if s.runner != nil && s.runner.IsRunning(j.ID) {
		j.Status = store.JobRunning
	}
}

func (s *Service) CreateJob(p CreateJobParams) Envelope {
	if p.Name == "" {
		return fail(CodeInvalid, "job name is required")
	}
	if err := p.Schedule.Validate(); err != nil {
		return fail(CodeInvalid, err.Error())
	}
	if err := validateAction(p.Action); err != nil {
		return fail(CodeInvalid, err.Error())
	}

	now := time.Now()
	nowMs := now.UnixMilli()
	settings := s.store.Settings()

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	notifyOnError := settings.DefaultNotifyOnError
	if p.NotifyOnError != nil {
		notifyOnError = *p.NotifyOnError
	}

	job := store.ScheduledJob{
		ID:               uuid.NewString(),
		Name:             p.Name,
		Description:      p.Description,
		Enabled:          enabled,
		Schedule:         p.Schedule,
		Action:           p.Action,
		Status:           store.JobIdle,
		NextRun:          schedule.NextRunMillis(p.Schedule, now),
		History:          []store.JobRun{},
		CreatedAt:        nowMs,
		UpdatedAt:        nowMs,
		Tags:             p.Tags,
		NotifyOnStart:    p.NotifyOnStart,
		NotifyOnComplete: p.NotifyOnComplete,
		NotifyOnError:    notifyOnError,
	}
	if err := s.store.AddJob(job); err != nil {
		return storageFail(err)
	}
	s.log.Info("job created", logx.String("job", job.ID), logx.String("name", job.Name))
	return ok(job)
}

func (s *Service) UpdateJob(p UpdateJobParams) Envelope {
	if p.ID == "" {
		return fail(CodeInvalid, "job id is required")
	}
	if p.Schedule != nil {
		if err := p.Schedule.Validate(); err != nil {
			return fail(CodeInvalid, err.Error())
		}
	}
	if p.Action != nil {
		if err := validateAction(*p.Action); err != nil {
			return fail(CodeInvalid, err.Error())
		}
	}

	job, err := s.store.MutateJob(p.ID, func(j *store.ScheduledJob) {
		p.JobPatch.Apply(j)
		// Only a schedule change invalidates the computed nextRun.
		if p.Schedule != nil {
			j.NextRun = schedule.NextRunMillis(j.Schedule, time.Now())
		}
	})
	if err != nil {
		return storageFail(err)
	}
	return ok(job)
}

func (s *Service) DeleteJob(id string) Envelope {
	if err := s.store.DeleteJob(id); err != nil {
		return storageFail(err)
	}
	s.log.Info("job deleted", logx.String("job", id))
	return ok(map[string]string{"id": id})
}

func (s *Service) RunJobNow(id string) Envelope {
	if s.runner == nil {
		return fail(CodeInternal, "engine not available")
	}
	if err := s.runner.RunNow(id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fail(CodeNotFound, "job not found: "+id)
		case errors.Is(err, engine.ErrAlreadyRunning):
			return fail(CodeAlreadyRunning, "job is already running: "+id)
		default:
			return fail(CodeInternal, err.Error())
		}
	}
	return ok(map[string]string{"id": id, "status": string(store.JobRunning)})
}

// PauseJob parks the job: the scan skips it and its nextRun goes stale on
// purpose.
func (s *Service) PauseJob(id string) Envelope {
	job, err := s.store.MutateJob(id, func(j *store.ScheduledJob) {
		j.Status = store.JobPaused
	})
	if err != nil {
		return storageFail(err)
	}
	return ok(job)
}

// ResumeJob returns the job to idle and recomputes nextRun from now, so a
// long pause never causes a burst of catch-up runs.
func (s *Service) ResumeJob(id string) Envelope {
	job, err := s.store.MutateJob(id, func(j *store.ScheduledJob) {
		j.Status = store.JobIdle
		j.NextRun = schedule.NextRunMillis(j.Schedule, time.Now())
	})
	if err != nil {
		return storageFail(err)
	}
	return ok(job)
}

func (s *Service) GetJobHistory(q HistoryQuery) Envelope {
	var jobs []store.ScheduledJob
	if q.JobID != "" {
		job, found := s.store.Job(q.JobID)
		if !found {
			return fail(CodeNotFound, "job not found: "+q.JobID)
		}
		jobs = []store.ScheduledJob{job}
	} else {
		jobs = s.store.Jobs()
	}

	entries := []HistoryEntry{}
	for _, job := range jobs {
		for _, run := range job.History {
			if q.Status != "" && run.Status != q.Status {
				continue
			}
			if q.Since > 0 && run.StartedAt < q.Since {
				continue
			}
			entries = append(entries, HistoryEntry{JobID: job.ID, JobName: job.Name, JobRun: run})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAt > entries[j].StartedAt
	})
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return ok(entries)
}

func (s *Service) GetSettings() Envelope {
	return ok(s.store.Settings())
}

func (s *Service) UpdateSettings(p store.SettingsPatch) Envelope {
	if p.MaxConcurrentJobs != nil && *p.MaxConcurrentJobs <= 0 {
		return fail(CodeInvalid, "maxConcurrentJobs must be positive")
	}
	if p.HistoryRetentionDays != nil && *p.HistoryRetentionDays <= 0 {
		return fail(CodeInvalid, "historyRetentionDays must be positive")
	}
	settings, err := s.store.UpdateSettings(p)
	if err != nil {
		return storageFail(err)
	}
	return ok(settings)
}

func validateAction(a store.JobAction) error {
	switch a.Type {
	case store.ActionPrompt:
		if a.Prompt == "" {
			return errors.New("prompt action requires prompt text")
		}
	case store.ActionTeam:
		if a.TeamID == "" {
			return errors.New("team action requires teamId")
		}
	case store.ActionScript:
		if a.ScriptPath == "" {
			return errors.New("script action requires scriptPath")
		}
	default:
		return errors.New("unknown action type: " + string(a.Type))
	}
	return nil
}

func storageFail(err error) Envelope {
	if errors.Is(err, store.ErrNotFound) {
		return fail(CodeNotFound, err.Error())
	}
	return fail(CodeStorage, err.Error())
}
