package repository

import (
	"context"

	"appforge/internal/domain/model"
)

type JobRepository interface {
	// Create persists a new PENDING job and assigns its id.
	Create(ctx context.Context, prompt string, biz model.BusinessContext) (*model.Job, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// MarkGenerating flips the job to GENERATING and records its workspace.
	// The source directory is set once; later calls must pass the same path.
	MarkGenerating(ctx context.Context, id string, sourceDir string) error
	// SetCurrentStage persists the last reported stage so a restarted
	// observer can resume mid-flight.
	SetCurrentStage(ctx context.Context, id string, stage model.Stage) error
	MarkComplete(ctx context.Context, id string, title, description string) error
	// MarkFailed stores a truncated error string and flips the job to FAILED.
	MarkFailed(ctx context.Context, id string, errMsg string) error
	// IncrementIteration atomically bumps the refinement counter and
	// re-enters GENERATING.
	IncrementIteration(ctx context.Context, id string) (*model.Job, error)
}
