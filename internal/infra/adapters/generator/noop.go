package generator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"appforge/internal/domain/ports/adapter"
)

var _ adapter.GeneratorRunner = (*NoopRunner)(nil)

// NoopRunner is a scripted stand-in for the real generation tool, used in dev
// mode. It walks a fixed stage script with short pauses and leaves a minimal
// manifest in the workspace so the downstream path behaves like a real run.
type NoopRunner struct {
	Delay time.Duration
}

func NewNoopRunner() *NoopRunner {
	return &NoopRunner{Delay: 500 * time.Millisecond}
}

func (r *NoopRunner) Run(ctx context.Context, dir string, args []string, onLine func(string)) (adapter.RunResult, error) {
	script := []map[string]string{
		{"type": "stage", "stage": "coding"},
		{"type": "file", "path": "src/App.tsx"},
		{"type": "file", "path": "src/routes/index.tsx"},
		{"type": "stage", "stage": "database"},
		{"type": "message", "text": "Wiring things up [stage:finalizing]"},
	}
	for _, ev := range script {
		select {
		case <-ctx.Done():
			return adapter.RunResult{ExitCode: 1, Stderr: ctx.Err().Error()}, nil
		case <-time.After(r.Delay):
		}
		b, _ := json.Marshal(ev)
		onLine(string(b))
	}

	manifest := []byte(`{"name": "demo-app", "description": "Scripted demo application"}`)
	_ = os.WriteFile(filepath.Join(dir, "package.json"), manifest, 0o644)

	return adapter.RunResult{ExitCode: 0}, nil
}
