package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/installer"
	"appforge/internal/infra/metrics"
	"appforge/internal/infra/progress"
	red "appforge/internal/infra/redis"
	"appforge/internal/infra/worker"

	"github.com/rs/zerolog"
)

// spawnLockTTL bounds how long a crashed replica can hold a job's spawn
// lock. Generation runs are multi-minute; the TTL must comfortably exceed
// the longest plausible run.
const spawnLockTTL = 45 * time.Minute

// WorkspaceProvisioner prepares the job's private directory.
type WorkspaceProvisioner interface {
	Provision(ctx context.Context, jobID string) (string, error)
}

// InstallManager is the dependency installer surface the orchestrator needs.
type InstallManager interface {
	InstallAsync(ctx context.Context, jobID, dir string) *installer.Handle
	AwaitAndFinalize(ctx context.Context, jobID, dir string, h *installer.Handle)
}

// GenerationUseCase drives one generation job end to end: workspace, early
// install, child process, stage relay, finalization. It owns the process
// manager semantics: the process's exit code is the sole success signal, and
// the tracker only reaches complete/failed through this type.
type GenerationUseCase struct {
	jobs    repository.JobRepository
	ws      WorkspaceProvisioner
	inst    InstallManager
	runner  adapter.GeneratorRunner
	tracker *progress.Tracker
	reg     *Registry
	locker  red.Locker
	pool    *worker.Pool
	log     *zerolog.Logger
}

func NewGenerationUseCase(
	jobs repository.JobRepository,
	ws WorkspaceProvisioner,
	inst InstallManager,
	runner adapter.GeneratorRunner,
	tracker *progress.Tracker,
	reg *Registry,
	locker red.Locker,
	pool *worker.Pool,
	logger *zerolog.Logger,
) *GenerationUseCase {
	l := logger.With().Str("component", "GenerationUC").Logger()
	uc := &GenerationUseCase{
		jobs:    jobs,
		ws:      ws,
		inst:    inst,
		runner:  runner,
		tracker: tracker,
		reg:     reg,
		locker:  locker,
		pool:    pool,
		log:     &l,
	}
	// Persist the last reported stage so a restarted observer can resume
	// mid-flight. Terminal stages are written by MarkComplete/MarkFailed.
	tracker.SetOnStage(func(jobID string, stage model.Stage) {
		if stage.Terminal() {
			return
		}
		if err := jobs.SetCurrentStage(context.Background(), jobID, stage); err != nil {
			l.Warn().Err(err).Str("job_id", jobID).Msg("persist current stage failed")
		}
	})
	return uc
}

// Start creates a job, provisions its workspace, kicks off the async install
// and spawns the generation process. It returns as soon as the process run
// is scheduled; progress flows through the tracker.
func (u *GenerationUseCase) Start(ctx context.Context, prompt string, biz model.BusinessContext) (*model.Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.ErrInvalidArgument
	}
	job, err := u.jobs.Create(ctx, prompt, biz)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	dir, err := u.ws.Provision(ctx, job.ID)
	if err != nil {
		msg := fmt.Sprintf("workspace provisioning failed: %v", err)
		_ = u.jobs.MarkFailed(context.Background(), job.ID, msg)
		u.tracker.Fail(job.ID, "", msg)
		return nil, fmt.Errorf("provision workspace: %w", err)
	}
	if err := u.jobs.MarkGenerating(ctx, job.ID, dir); err != nil {
		return nil, fmt.Errorf("mark generating: %w", err)
	}
	job.Status = model.JobStatusGenerating
	job.SourceDir = dir

	// Overlap the install with generation; joined in AwaitAndFinalize.
	u.reg.StoreInstall(job.ID, u.inst.InstallAsync(context.Background(), job.ID, dir))

	if err := u.spawn(ctx, job.ID, dir, buildArgs(prompt, biz, false)); err != nil {
		// The record already says generating; a spawn that never scheduled
		// must not strand it there. In-flight means another process owns
		// the run, so its status stands.
		if !errors.Is(err, domain.ErrGenerationInFlight) {
			u.fail(job.ID, fmt.Sprintf("could not schedule generation: %v", err), time.Now())
		}
		return nil, err
	}
	u.tracker.StartTimedPromotion(job.ID)
	return job, nil
}

// Iterate starts a refinement pass against an already-complete job, reusing
// its workspace with "continue" semantics. No async install is started:
// AwaitAndFinalize will take the fresh-install branch.
func (u *GenerationUseCase) Iterate(ctx context.Context, jobID, prompt string) (*model.Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.ErrInvalidArgument
	}
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusComplete {
		return nil, domain.ErrJobNotComplete
	}

	updated, err := u.jobs.IncrementIteration(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("increment iteration: %w", err)
	}

	if err := u.spawn(ctx, jobID, job.SourceDir, buildArgs(prompt, job.Business, true)); err != nil {
		if !errors.Is(err, domain.ErrGenerationInFlight) {
			u.fail(jobID, fmt.Sprintf("could not schedule generation: %v", err), time.Now())
		}
		return nil, err
	}
	u.tracker.StartTimedPromotion(jobID)
	return updated, nil
}

// GetStatus is the point-in-time query observers use before attaching to
// the stream, and the resume path's source of durable truth.
func (u *GenerationUseCase) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	return u.jobs.FindByID(ctx, repository.NoTX, jobID)
}

// CleanupProgress drops the job's in-memory stage entry. Callers invoke it
// once the terminal state is durably persisted and no observer will return.
func (u *GenerationUseCase) CleanupProgress(jobID string) {
	u.tracker.Forget(jobID)
}

// Stage exposes the tracker's current tuple for a job.
func (u *GenerationUseCase) Stage(jobID string) model.StageUpdate {
	return u.tracker.Get(jobID)
}

// Subscribe attaches an observer to the job's stage channel.
func (u *GenerationUseCase) Subscribe(jobID string) (<-chan model.StageUpdate, func()) {
	return u.tracker.Subscribe(jobID)
}

func (u *GenerationUseCase) spawn(ctx context.Context, jobID, dir string, args []string) error {
	if err := u.reg.AcquireProcess(jobID); err != nil {
		return err
	}
	token, err := u.locker.TryLock(ctx, "genlock:"+jobID, spawnLockTTL)
	if err != nil {
		u.reg.ReleaseProcess(jobID)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return domain.ErrGenerationInFlight
		}
		return fmt.Errorf("acquire spawn lock: %w", err)
	}

	task := func(ctx context.Context) error {
		defer func() {
			u.reg.ReleaseProcess(jobID)
			if err := u.locker.Unlock(context.Background(), "genlock:"+jobID, token); err != nil {
				u.log.Warn().Err(err).Str("job_id", jobID).Msg("spawn lock release failed")
			}
		}()
		u.runProcess(ctx, jobID, dir, args)
		return nil
	}
	if err := u.pool.Submit(task); err != nil {
		u.reg.ReleaseProcess(jobID)
		_ = u.locker.Unlock(context.Background(), "genlock:"+jobID, token)
		return fmt.Errorf("schedule generation: %w", err)
	}
	return nil
}

// runProcess runs the child process to completion and translates the
// outcome. There is deliberately no wall-clock bound here: generation cannot
// safely be half-aborted mid-file-write, so abandonment just means nobody is
// listening while the process finishes and the Job record is still updated.
func (u *GenerationUseCase) runProcess(ctx context.Context, jobID, dir string, args []string) {
	start := time.Now()
	u.log.Info().Str("job_id", jobID).Str("dir", dir).Msg("generation process starting")

	res, err := u.runner.Run(ctx, dir, args, func(line string) {
		u.applyLine(jobID, line)
	})
	if err != nil {
		msg := err.Error()
		if errors.Is(err, domain.ErrGeneratorNotFound) {
			msg = "generator tool not found: is the generation CLI installed and on PATH?"
		}
		u.fail(jobID, msg, start)
		return
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		if msg == "" {
			msg = fmt.Sprintf("generator exited with code %d", res.ExitCode)
		}
		u.fail(jobID, msg, start)
		return
	}

	meta := readManifest(dir)

	// Join the early install and settle the workspace before declaring
	// completion. None of this can fail the job.
	u.tracker.Set(jobID, model.StageFinalizing)
	u.inst.AwaitAndFinalize(ctx, jobID, dir, u.reg.TakeInstall(jobID))

	if err := u.jobs.MarkComplete(context.Background(), jobID, meta.Title, meta.Description); err != nil {
		u.log.Error().Err(err).Str("job_id", jobID).Msg("persist completion failed")
	}
	u.tracker.Complete(jobID, meta.Title, meta.Description, "")
	metrics.IncJobFinished("complete", time.Since(start).Seconds())
	u.log.Info().Str("job_id", jobID).Dur("duration", time.Since(start)).Str("title", meta.Title).Msg("generation complete")
}

func (u *GenerationUseCase) fail(jobID, msg string, start time.Time) {
	if err := u.jobs.MarkFailed(context.Background(), jobID, msg); err != nil {
		u.log.Error().Err(err).Str("job_id", jobID).Msg("persist failure failed")
	}
	u.tracker.Fail(jobID, "", msg)
	metrics.IncJobFinished("failed", time.Since(start).Seconds())
	u.log.Warn().Str("job_id", jobID).Str("error", msg).Msg("generation failed")
}

func (u *GenerationUseCase) applyLine(jobID, line string) {
	for _, sig := range parseLine(line) {
		if sig.detailOnly {
			u.tracker.SetDetail(jobID, sig.detail)
			continue
		}
		u.tracker.Set(jobID, sig.stage)
	}
}

// buildArgs assembles the CLI invocation. Iterations continue from the
// prior session instead of starting fresh.
func buildArgs(prompt string, biz model.BusinessContext, iteration bool) []string {
	args := []string{"generate", "--output-format", "ndjson"}
	if iteration {
		args = append(args, "--continue")
	}
	return append(args, "--prompt", buildPrompt(prompt, biz))
}

// buildPrompt prefixes the structured business-context block. Empty fields
// are omitted, never rendered as placeholders.
func buildPrompt(prompt string, biz model.BusinessContext) string {
	if biz.Empty() {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Business context:\n")
	if biz.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", biz.Description)
	}
	if biz.CompanyName != "" {
		fmt.Fprintf(&b, "- Company: %s\n", biz.CompanyName)
	}
	if biz.Locale != "" {
		fmt.Fprintf(&b, "- Locale: %s\n", biz.Locale)
	}
	if len(biz.UseCases) > 0 {
		fmt.Fprintf(&b, "- Use cases: %s\n", strings.Join(biz.UseCases, ", "))
	}
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}
