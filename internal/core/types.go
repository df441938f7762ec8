// Package core runs a deployment: it turns the top-level action list into
// constructed actions and executes them in order against the admin API.
package core

import "time"

// RunStatus tracks a run's lifecycle, and that of each action within it.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ActionResult records the outcome of one action.
type ActionResult struct {
	Name        string    `json:"name"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Duration is zero until the action completes.
func (r ActionResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Run is one execution of the action list.
type Run struct {
	UUID        string         `json:"uuid"`
	Environment string         `json:"environment"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Results     []ActionResult `json:"results"`
}

// Failed returns the result of the action that aborted the run, if any.
func (r *Run) Failed() *ActionResult {
	for i := range r.Results {
		if r.Results[i].Status == RunError {
			return &r.Results[i]
		}
	}
	return nil
}
