// Package annotaterun runs one annotation pass as a Temporal workflow so it
// can be scheduled and retried by the cluster.
package annotaterun

const (
	WorkflowName = "annotation_run"
	ActivityRun  = "annotation_run_execute"

	// ErrTypeConfig marks activity failures that no retry can fix.
	ErrTypeConfig = "ConfigError"
)

type Input struct {
	// Limit overrides the configured default row limit when set.
	Limit *int `json:"limit,omitempty"`
}
