package repository

import (
	"context"

	"appforge/internal/domain/model"
)

// BreadcrumbStore is the durable client persistence boundary: a single
// {jobId, startedAt} record per observing client, read once at startup and
// rewritten on every StartGeneration.
type BreadcrumbStore interface {
	Save(ctx context.Context, bc model.Breadcrumb) error
	// Load returns domain.ErrBreadcrumbNotFound when nothing is stored.
	Load(ctx context.Context) (*model.Breadcrumb, error)
	Clear(ctx context.Context) error
}
