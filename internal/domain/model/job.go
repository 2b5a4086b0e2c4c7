package model

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusGenerating JobStatus = "GENERATING"
	JobStatusComplete   JobStatus = "COMPLETE"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is a final one. A job re-enters
// GENERATING when an iteration is started, so COMPLETE is terminal only
// until the next refinement pass.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusGenerating
}

// BusinessContext is the optional structured block prefixed to the
// generation prompt. Empty fields are omitted from the rendered prompt.
type BusinessContext struct {
	Description string   `json:"description,omitempty"`
	CompanyName string   `json:"company_name,omitempty"`
	Locale      string   `json:"locale,omitempty"`
	UseCases    []string `json:"use_cases,omitempty"`
}

func (b BusinessContext) Empty() bool {
	return b.Description == "" && b.CompanyName == "" && b.Locale == "" && len(b.UseCases) == 0
}

// Job is the durable record of one generation request. The Job Store is the
// single source of truth; everything the in-memory tracker holds is
// disposable relative to it.
type Job struct {
	ID             string
	Status         JobStatus
	CurrentStage   Stage
	SourceDir      string
	Prompt         string
	Business       BusinessContext
	Title          string
	Description    string
	Error          string
	IterationCount int
	Published      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Breadcrumb is the small durable client-side record that lets an observer
// reattach to an in-flight or recently finished job after a restart.
type Breadcrumb struct {
	JobID     string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
}
