package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"appforge/internal/config"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Handle represents an install operation running concurrently with code
// generation. Wait joins it.
type Handle struct {
	done chan struct{}
	err  error
}

func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.err
	}
}

// Installer overlaps package installation with generation so that by the
// time the process exits, dependencies are already present or nearly so.
// Everything here is a best-effort optimization: no step ever fails the job.
type Installer struct {
	run adapter.CommandRunner
	cfg config.InstallerConfig
	log *zerolog.Logger
}

func New(run adapter.CommandRunner, cfg config.InstallerConfig, logger *zerolog.Logger) *Installer {
	l := logger.With().Str("component", "Installer").Logger()
	return &Installer{run: run, cfg: cfg, log: &l}
}

// InstallAsync starts a full install immediately and returns a join-able
// handle. It never blocks the caller.
func (i *Installer) InstallAsync(ctx context.Context, jobID, dir string) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = i.install(ctx, jobID, dir, "full", i.cfg.InstallCmd)
	}()
	return h
}

// AwaitAndFinalize joins the async install, settles dependencies, then
// applies the schema and seed. Invoked once, after the generation process
// exited successfully.
//
//   - handle succeeded: one fast incremental install picks up dependency
//     declarations the generation step introduced; its failure is logged only.
//   - handle failed: one fresh full install; its failure is logged only.
//   - no handle (iteration reusing a workspace): one fresh full install.
func (i *Installer) AwaitAndFinalize(ctx context.Context, jobID, dir string, h *Handle) {
	switch {
	case h == nil:
		i.log.Info().Str("job_id", jobID).Msg("no prior install handle, running fresh install")
		if err := i.install(ctx, jobID, dir, "full", i.cfg.InstallCmd); err != nil {
			metrics.IncInstallFailure("full")
			i.log.Warn().Err(err).Str("job_id", jobID).Msg("fresh install failed")
		}
	default:
		if err := h.Wait(ctx); err != nil {
			metrics.IncInstallFailure("async")
			i.log.Warn().Err(err).Str("job_id", jobID).Msg("async install failed, retrying from scratch")
			if err := i.install(ctx, jobID, dir, "full", i.cfg.InstallCmd); err != nil {
				metrics.IncInstallFailure("full")
				i.log.Warn().Err(err).Str("job_id", jobID).Msg("fallback install failed")
			}
		} else if err := i.install(ctx, jobID, dir, "incremental", i.cfg.IncrementalCmd); err != nil {
			metrics.IncInstallFailure("incremental")
			i.log.Warn().Err(err).Str("job_id", jobID).Msg("incremental install failed")
		}
	}

	if out, err := i.runCmd(ctx, dir, i.cfg.SchemaCmd); err != nil {
		metrics.IncInstallFailure("schema")
		i.log.Warn().Err(err).Str("job_id", jobID).Str("output", out).Msg("schema push failed")
	}

	if _, err := os.Stat(filepath.Join(dir, i.cfg.SeedFile)); err == nil {
		if out, err := i.runCmd(ctx, dir, i.cfg.SeedCmd); err != nil {
			metrics.IncInstallFailure("seed")
			i.log.Warn().Err(err).Str("job_id", jobID).Str("output", out).Msg("seed failed")
		}
	}
}

func (i *Installer) install(ctx context.Context, jobID, dir, mode string, cmd []string) error {
	start := time.Now()
	out, err := i.runCmd(ctx, dir, cmd)
	metrics.ObserveInstall(mode, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s install: %w (%s)", mode, err, tail(out, 500))
	}
	i.log.Debug().Str("job_id", jobID).Str("mode", mode).Dur("duration", time.Since(start)).Msg("install finished")
	return nil
}

func (i *Installer) runCmd(ctx context.Context, dir string, cmd []string) (string, error) {
	if len(cmd) == 0 {
		return "", nil
	}
	return i.run.Run(ctx, dir, cmd[0], cmd[1:]...)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
