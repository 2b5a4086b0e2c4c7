package adapter

import "context"

// RunResult carries the outcome of a finished generator process. Stdout and
// Stderr are captured verbatim but bounded, for postmortem diagnostics only.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// GeneratorRunner spawns the external generation CLI scoped to a workspace
// directory. Every stdout line is handed to onLine as it arrives.
//
// Run returns an error only when the process could not be started at all
// (wrapping domain.ErrGeneratorNotFound when the tool is missing). A process
// that started and exited, with any exit code, is reported via RunResult.
type GeneratorRunner interface {
	Run(ctx context.Context, dir string, args []string, onLine func(line string)) (RunResult, error)
}
