package model

// Stage is a coarse phase label describing where a job is in its generation
// pipeline. The sequence is strictly advancing in the common case, but the
// tracker accepts whatever the process manager or timed promotions report.
type Stage string

const (
	StagePending     Stage = "pending"
	StageDesigning   Stage = "designing"
	StageScaffolding Stage = "scaffolding"
	StageCoding      Stage = "coding"
	StageDatabase    Stage = "database"
	StageFinalizing  Stage = "finalizing"
	StageDeploying   Stage = "deploying"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

var stageMessages = map[Stage]string{
	StagePending:     "Waiting to start...",
	StageDesigning:   "Designing your application...",
	StageScaffolding: "Scaffolding the project...",
	StageCoding:      "Writing application code...",
	StageDatabase:    "Setting up the database...",
	StageFinalizing:  "Finalizing the application...",
	StageDeploying:   "Preparing the preview...",
	StageComplete:    "Your application is ready",
	StageFailed:      "Generation failed",
}

// Known reports whether s is a recognized stage label. The generator's
// output is noisy; unknown labels are dropped rather than surfaced.
func (s Stage) Known() bool {
	_, ok := stageMessages[s]
	return ok
}

func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// DefaultMessage returns the human-readable status line for a stage.
func (s Stage) DefaultMessage() string {
	if m, ok := stageMessages[s]; ok {
		return m
	}
	return stageMessages[StagePending]
}

// StageUpdate is the tuple pushed to observers: the latest stage plus its
// message, optional detail, and terminal metadata. One update is emitted per
// tracker write.
type StageUpdate struct {
	JobID       string `json:"job_id"`
	Stage       Stage  `json:"stage"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	Error       string `json:"error,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	PreviewURL  string `json:"preview_url,omitempty"`
}
