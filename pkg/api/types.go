package api

// Public, serialisable views of cluster state and run history, as printed by
// the CLI with --output json.

type NodeStatus struct {
	Role    string `json:"role" yaml:"role"`
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	State   string `json:"state" yaml:"state"`
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

type NodeOutcome struct {
	ID         string    `json:"id" yaml:"id"`
	Role       string    `json:"role" yaml:"role"`
	Address    string    `json:"address,omitempty" yaml:"address,omitempty"`
	Status     RunStatus `json:"status" yaml:"status"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`
}

type RunRecord struct {
	ID         int64         `json:"id" yaml:"id"`
	Operation  string        `json:"operation" yaml:"operation"`
	StartedAt  string        `json:"started_at" yaml:"started_at"`
	DurationMS int64         `json:"duration_ms" yaml:"duration_ms"`
	Status     RunStatus     `json:"status" yaml:"status"`
	Nodes      int           `json:"nodes" yaml:"nodes"`
	Failed     int           `json:"failed" yaml:"failed"`
	Results    []NodeOutcome `json:"results,omitempty" yaml:"results,omitempty"`
}

// StatusOf maps an error string to a RunStatus.
func StatusOf(errText string) RunStatus {
	if errText != "" {
		return RunFailed
	}
	return RunSucceeded
}
