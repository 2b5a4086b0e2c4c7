package generator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"appforge/internal/domain"
	"appforge/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.GeneratorRunner = (*CLIRunner)(nil)

const (
	// maxCapture bounds the stdout/stderr kept for postmortem diagnostics.
	// The most recent output is the useful part, so the tail wins.
	maxCapture = 64 * 1024
	// maxLine accommodates the generator's occasionally huge NDJSON events.
	maxLine = 1024 * 1024
)

// CLIRunner spawns the external generation tool as a child process with its
// working directory set to the job's workspace.
type CLIRunner struct {
	binary string
	log    *zerolog.Logger
}

func NewCLIRunner(binary string, logger *zerolog.Logger) *CLIRunner {
	l := logger.With().Str("component", "CLIRunner").Logger()
	return &CLIRunner{binary: binary, log: &l}
}

func (r *CLIRunner) Run(ctx context.Context, dir string, args []string, onLine func(string)) (adapter.RunResult, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return adapter.RunResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return adapter.RunResult{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return adapter.RunResult{}, fmt.Errorf("%w: %s", domain.ErrGeneratorNotFound, r.binary)
		}
		return adapter.RunResult{}, fmt.Errorf("spawn %s: %w", r.binary, err)
	}
	r.log.Debug().Int("pid", cmd.Process.Pid).Str("dir", dir).Msg("generator started")

	var outBuf, errBuf capped
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		for sc.Scan() {
			line := sc.Text()
			outBuf.append(line + "\n")
			onLine(line)
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		for sc.Scan() {
			errBuf.append(sc.Text() + "\n")
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return adapter.RunResult{}, fmt.Errorf("wait %s: %w", r.binary, waitErr)
		}
	}

	return adapter.RunResult{
		ExitCode: exitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

// capped keeps the most recent maxCapture bytes written to it.
type capped struct {
	mu  sync.Mutex
	buf []byte
}

func (c *capped) append(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, s...)
	if len(c.buf) > maxCapture {
		c.buf = c.buf[len(c.buf)-maxCapture:]
	}
}

func (c *capped) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}
