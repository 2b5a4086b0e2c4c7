package shell

import (
	"bytes"
	"context"
	"os/exec"

	"appforge/internal/domain/ports/adapter"
)

var _ adapter.CommandRunner = (*Runner)(nil)

// Runner runs actual commands.
type Runner struct{}

func New() *Runner { return &Runner{} }

func (r *Runner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var b bytes.Buffer
	cmd.Stdout = &b
	cmd.Stderr = &b
	err := cmd.Run()
	return b.String(), err
}
