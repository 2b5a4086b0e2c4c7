package adapter

import "context"

// CommandRunner abstracts execution of auxiliary shell commands (installs,
// schema push, seed) for testability. Run executes name with args in dir and
// returns combined stdout+stderr.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}
