package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/metrics"

	"github.com/rs/zerolog"
)

type previewCall struct {
	done chan struct{}
	url  string
	err  error
}

// PreviewUseCase stands up a disposable running instance of a completed
// job's artifact. The deploy either yields an immediate URL or a poll-until-
// ready contract with a hard timeout. Concurrent starts for one job share a
// single in-flight attempt.
type PreviewUseCase struct {
	jobs     repository.JobRepository
	api      adapter.PreviewDeployAPI
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]*previewCall

	log *zerolog.Logger
}

func NewPreviewUseCase(jobs repository.JobRepository, api adapter.PreviewDeployAPI, interval, timeout time.Duration, logger *zerolog.Logger) *PreviewUseCase {
	l := logger.With().Str("component", "PreviewUC").Logger()
	return &PreviewUseCase{
		jobs:     jobs,
		api:      api,
		interval: interval,
		timeout:  timeout,
		inflight: make(map[string]*previewCall),
		log:      &l,
	}
}

// Start deploys a preview and returns its URL. Transient status-poll errors
// never abort the wait; only an explicit failed status or the overall
// timeout does, each with a distinguishable error.
func (u *PreviewUseCase) Start(ctx context.Context, jobID string) (string, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusComplete {
		return "", domain.ErrJobNotComplete
	}

	u.mu.Lock()
	if call, ok := u.inflight[jobID]; ok {
		u.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-call.done:
			return call.url, call.err
		}
	}
	call := &previewCall{done: make(chan struct{})}
	u.inflight[jobID] = call
	u.mu.Unlock()

	started := time.Now()
	call.url, call.err = u.deploy(ctx, jobID)
	close(call.done)

	u.mu.Lock()
	delete(u.inflight, jobID)
	u.mu.Unlock()

	switch {
	case call.err == nil:
		metrics.ObservePreview("ready", time.Since(started).Seconds())
	case errors.Is(call.err, domain.ErrPreviewTimeout):
		metrics.ObservePreview("timeout", time.Since(started).Seconds())
	default:
		metrics.ObservePreview("failed", time.Since(started).Seconds())
	}
	return call.url, call.err
}

func (u *PreviewUseCase) deploy(ctx context.Context, jobID string) (string, error) {
	resp, err := u.api.Start(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("start preview: %w", err)
	}
	if resp.URL != "" {
		// Fast local-environment path.
		return resp.URL, nil
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	deadline := time.After(u.timeout)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", domain.ErrPreviewTimeout
		case <-ticker.C:
			st, err := u.api.Status(ctx, jobID)
			if err != nil {
				// A single failed status fetch is not a verdict.
				u.log.Debug().Err(err).Str("job_id", jobID).Msg("transient preview status error")
				continue
			}
			switch st.Status {
			case adapter.DeployStateReady:
				return st.URL, nil
			case adapter.DeployStateFailed:
				return "", fmt.Errorf("%w: %s", domain.ErrPreviewFailed, st.Error)
			}
		}
	}
}

// Stop issues a best-effort teardown. Failure is logged, never raised: the
// caller's local state resets regardless of teardown outcome.
func (u *PreviewUseCase) Stop(ctx context.Context, jobID string) {
	if err := u.api.Stop(ctx, jobID); err != nil {
		u.log.Warn().Err(err).Str("job_id", jobID).Msg("preview teardown failed")
	}
}
