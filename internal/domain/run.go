package domain

import "time"

type RunState string

const (
	RunProvisioning RunState = "provisioning"
	RunSelecting    RunState = "selecting"
	RunScoring      RunState = "scoring"
	RunPersisting   RunState = "persisting"
	RunDone         RunState = "done"
	RunFailed       RunState = "failed"
	RunSkipped      RunState = "skipped"
)

func (s RunState) Terminal() bool {
	return s == RunDone || s == RunFailed || s == RunSkipped
}

type FailureStage string

const (
	StageScoring    FailureStage = "scoring"
	StagePersisting FailureStage = "persisting"
)

// RecordFailure is one record that did not make it into the Sentiment table
// during a run.
type RecordFailure struct {
	ID    string       `json:"id"`
	Stage FailureStage `json:"stage"`
	Kind  string       `json:"kind,omitempty"`
	Error string       `json:"error"`
}

// RunReport summarizes one annotation run.
type RunReport struct {
	RunID           string          `json:"run_id"`
	Backend         string          `json:"backend,omitempty"`
	State           RunState        `json:"state"`
	Selected        int             `json:"selected"`
	Scored          int             `json:"scored"`
	FailedToScore   int             `json:"failed_to_score"`
	Persisted       int             `json:"persisted"`
	FailedToPersist int             `json:"failed_to_persist"`
	NotAttempted    int             `json:"not_attempted"`
	Canceled        bool            `json:"canceled"`
	Failures        []RecordFailure `json:"failures,omitempty"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
}

func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
