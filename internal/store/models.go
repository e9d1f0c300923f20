package store

import "time"

// Outcome values stored with each run.
const (
	OutcomeCompleted    = "completed"
	OutcomeActionFailed = "action_failed"
	OutcomeLoginFailed  = "login_failed"
)

// Run records one execution of a site flow
type Run struct {
	ID         string    `json:"id"`
	Site       string    `json:"site"`
	Flow       string    `json:"flow"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail"`
	AuthStage  string    `json:"auth_stage"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
