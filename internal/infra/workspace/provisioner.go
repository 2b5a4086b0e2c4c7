package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"appforge/internal/config"

	"github.com/rs/zerolog"
)

// instructionsName is the file the generation tool reads for project
// conventions inside every workspace.
const instructionsName = "AGENTS.md"

// Provisioner prepares the isolated filesystem workspace for a job: a fresh
// copy of the template project, the static instruction document, and a
// minimal environment file. Each job gets its own directory; iterations
// reuse it.
type Provisioner struct {
	cfg config.GeneratorConfig
	log *zerolog.Logger
}

func NewProvisioner(cfg config.GeneratorConfig, logger *zerolog.Logger) *Provisioner {
	l := logger.With().Str("component", "Provisioner").Logger()
	return &Provisioner{cfg: cfg, log: &l}
}

func (p *Provisioner) Provision(ctx context.Context, jobID string) (string, error) {
	dir := filepath.Join(p.cfg.WorkspaceRoot, "job-"+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	if err := copyTree(p.cfg.TemplateDir, dir); err != nil {
		return "", fmt.Errorf("copy template: %w", err)
	}

	if p.cfg.InstructionsFile != "" {
		data, err := os.ReadFile(p.cfg.InstructionsFile)
		if err != nil {
			return "", fmt.Errorf("read instructions: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, instructionsName), data, 0o644); err != nil {
			return "", fmt.Errorf("write instructions: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(renderEnv(p.cfg.Env)), 0o644); err != nil {
		return "", fmt.Errorf("write env: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	p.log.Info().Str("job_id", jobID).Str("dir", abs).Msg("workspace provisioned")
	return abs, nil
}

func renderEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	return b.String()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
