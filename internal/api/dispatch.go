package api

import (
	"encoding/json"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
)

// Action names accepted by Dispatch.
const (
	ActionListJobs       = "listJobs"
	ActionGetJob         = "getJob"
	ActionCreateJob      = "createJob"
	ActionUpdateJob      = "updateJob"
	ActionDeleteJob      = "deleteJob"
	ActionRunJobNow      = "runJobNow"
	ActionPauseJob       = "pauseJob"
	ActionResumeJob      = "resumeJob"
	ActionGetJobHistory  = "getJobHistory"
	ActionGetSettings    = "getSettings"
	ActionUpdateSettings = "updateSettings"
)

// Dispatch routes a named action with a raw parameter bag to the matching
// method. Unknown actions and malformed parameters come back as envelopes,
// like every other failure.
func (s *Service) Dispatch(action string, params json.RawMessage) Envelope {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	switch action {
	case ActionListJobs:
		return s.ListJobs()
	case ActionGetJob:
		p, env := decode[IDParams](params)
		if env != nil {
			return *env
		}
		return s.GetJob(p.ID)
	case ActionCreateJob:
		p, env := decode[CreateJobParams](params)
		if env != nil {
			return *env
		}
		return s.CreateJob(p)
	case ActionUpdateJob:
		p, env := decode[UpdateJobParams](params)
		if env != nil {
			return *env
		}
		return s.UpdateJob(p)
	case ActionDeleteJob:
		p, env := decode[IDParams](params)
		if env != nil {
			return *env
		}
		return s.DeleteJob(p.ID)
	case ActionRunJobNow:
		p, env := decode[IDParams](params)
		if env != nil {
			return *env
		}
		return s.RunJobNow(p.ID)
	case ActionPauseJob:
		p, env := decode[IDParams](params)
		if env != nil {
			return *env
		}
		return s.PauseJob(p.ID)
	case ActionResumeJob:
		p, env := decode[IDParams](params)
		if env != nil {
			return *env
		}
		return s.ResumeJob(p.ID)
	case ActionGetJobHistory:
		p, env := decode[HistoryQuery](params)
		if env != nil {
			return *env
		}
		return s.GetJobHistory(p)
	case ActionGetSettings:
		return s.GetSettings()
	case ActionUpdateSettings:
		p, env := decode[store.SettingsPatch](params)
		if env != nil {
			return *env
		}
		return s.UpdateSettings(p)
	default:
		return fail(CodeInvalid, "unknown action: "+action)
	}
}

func decode[T any](raw json.RawMessage) (T, *Envelope) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		env := fail(CodeInvalid, "invalid parameters: "+err.Error())
		return p, &env
	}
	return p, nil
}
