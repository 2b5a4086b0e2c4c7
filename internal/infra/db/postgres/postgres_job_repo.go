package postgres

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

// maxStoredError bounds the diagnostic text persisted on a failed job.
const maxStoredError = 2000

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

func newJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (r *jobRepo) Create(ctx context.Context, prompt string, biz model.BusinessContext) (*model.Job, error) {
	now := time.Now()
	job := &model.Job{
		ID:           newJobID(),
		Status:       model.JobStatusPending,
		CurrentStage: model.StagePending,
		Prompt:       prompt,
		Business:     biz,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	bizJSON, err := json.Marshal(biz)
	if err != nil {
		return nil, err
	}

	const q = `
INSERT INTO generation_jobs (id, status, current_stage, prompt, business, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	if _, err := execSQL(ctx, r.pool, nil, q,
		job.ID, job.Status, job.CurrentStage, job.Prompt, bizJSON, job.CreatedAt, job.UpdatedAt); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	const q = `
SELECT id, status, current_stage, source_dir, prompt, business, title, description,
       error, iteration_count, published, created_at, updated_at
FROM generation_jobs
WHERE id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	var job model.Job
	var statusStr, stageStr string
	var bizJSON []byte
	err = row.Scan(
		&job.ID, &statusStr, &stageStr, &job.SourceDir, &job.Prompt, &bizJSON,
		&job.Title, &job.Description, &job.Error, &job.IterationCount, &job.Published,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	job.Status = model.JobStatus(statusStr)
	job.CurrentStage = model.Stage(stageStr)
	if len(bizJSON) > 0 {
		_ = json.Unmarshal(bizJSON, &job.Business)
	}
	return &job, nil
}

func (r *jobRepo) MarkGenerating(ctx context.Context, id string, sourceDir string) error {
	const q = `
UPDATE generation_jobs
SET status = $2, current_stage = $3, error = '',
    source_dir = CASE WHEN source_dir = '' THEN $4 ELSE source_dir END,
    updated_at = $5
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, nil, q,
		id, model.JobStatusGenerating, model.StagePending, sourceDir, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) SetCurrentStage(ctx context.Context, id string, stage model.Stage) error {
	const q = `UPDATE generation_jobs SET current_stage = $2, updated_at = $3 WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id, stage, time.Now())
	return err
}

func (r *jobRepo) MarkComplete(ctx context.Context, id string, title, description string) error {
	const q = `
UPDATE generation_jobs
SET status = $2, current_stage = $3, title = $4, description = $5, error = '', updated_at = $6
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, nil, q,
		id, model.JobStatusComplete, model.StageComplete, title, description, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if len(errMsg) > maxStoredError {
		errMsg = errMsg[:maxStoredError]
	}
	const q = `
UPDATE generation_jobs
SET status = $2, current_stage = $3, error = $4, updated_at = $5
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, nil, q,
		id, model.JobStatusFailed, model.StageFailed, errMsg, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementIteration bumps the refinement counter and re-enters GENERATING
// in one transaction, returning the refreshed record.
func (r *jobRepo) IncrementIteration(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const q = `
UPDATE generation_jobs
SET iteration_count = iteration_count + 1, status = $2, current_stage = $3, error = '', updated_at = $4
WHERE id = $1;`
		tag, err := execSQL(ctx, r.pool, tx, q,
			id, model.JobStatusGenerating, model.StagePending, time.Now())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		j, err := r.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
