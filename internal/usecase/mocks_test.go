//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/domain/ports/repository"
	"appforge/internal/infra/installer"
	red "appforge/internal/infra/redis"

	"github.com/rs/zerolog"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---- Mock JobRepository ----

type MockJobRepo struct {
	mu   sync.Mutex
	seq  int
	data map[string]*model.Job

	CreateFunc             func(ctx context.Context, prompt string, biz model.BusinessContext) (*model.Job, error)
	MarkGeneratingFunc     func(ctx context.Context, id, sourceDir string) error
	IncrementIterationFunc func(ctx context.Context, id string) (*model.Job, error)

	Stages []model.Stage // every SetCurrentStage call, in order
}

var _ repository.JobRepository = (*MockJobRepo)(nil)

func NewMockJobRepo() *MockJobRepo {
	return &MockJobRepo{data: make(map[string]*model.Job)}
}

func (m *MockJobRepo) Create(ctx context.Context, prompt string, biz model.BusinessContext) (*model.Job, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, prompt, biz)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	j := &model.Job{
		ID:        fmt.Sprintf("job-%d", m.seq),
		Status:    model.JobStatusPending,
		Prompt:    prompt,
		Business:  biz,
		CreatedAt: time.Now(),
	}
	m.data[j.ID] = j
	cp := *j
	return &cp, nil
}

func (m *MockJobRepo) Seed(j *model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.data[j.ID] = &cp
}

func (m *MockJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MockJobRepo) MarkGenerating(ctx context.Context, id, sourceDir string) error {
	if m.MarkGeneratingFunc != nil {
		return m.MarkGeneratingFunc(ctx, id, sourceDir)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = model.JobStatusGenerating
	if j.SourceDir == "" {
		j.SourceDir = sourceDir
	}
	j.Error = ""
	j.CurrentStage = model.StagePending
	return nil
}

func (m *MockJobRepo) SetCurrentStage(ctx context.Context, id string, stage model.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stages = append(m.Stages, stage)
	if j, ok := m.data[id]; ok {
		j.CurrentStage = stage
	}
	return nil
}

func (m *MockJobRepo) MarkComplete(ctx context.Context, id, title, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = model.JobStatusComplete
	j.CurrentStage = model.StageComplete
	j.Title = title
	j.Description = description
	return nil
}

func (m *MockJobRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = model.JobStatusFailed
	j.CurrentStage = model.StageFailed
	j.Error = errMsg
	return nil
}

func (m *MockJobRepo) IncrementIteration(ctx context.Context, id string) (*model.Job, error) {
	if m.IncrementIterationFunc != nil {
		return m.IncrementIterationFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	j.IterationCount++
	j.Status = model.JobStatusGenerating
	cp := *j
	return &cp, nil
}

func (m *MockJobRepo) Get(id string) model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.data[id]; ok {
		return *j
	}
	return model.Job{}
}

// ---- Mock WorkspaceProvisioner ----

type MockProvisioner struct {
	Dir           string
	ProvisionFunc func(ctx context.Context, jobID string) (string, error)
}

func (m *MockProvisioner) Provision(ctx context.Context, jobID string) (string, error) {
	if m.ProvisionFunc != nil {
		return m.ProvisionFunc(ctx, jobID)
	}
	return m.Dir, nil
}

// ---- Mock InstallManager ----

type MockInstallMgr struct {
	mu            sync.Mutex
	AsyncCalls    int
	FinalizeCalls int
	FinalizedWith []*installer.Handle
}

func (m *MockInstallMgr) InstallAsync(ctx context.Context, jobID, dir string) *installer.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AsyncCalls++
	return nil
}

func (m *MockInstallMgr) AwaitAndFinalize(ctx context.Context, jobID, dir string, h *installer.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinalizeCalls++
	m.FinalizedWith = append(m.FinalizedWith, h)
}

func (m *MockInstallMgr) Counts() (async, finalize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AsyncCalls, m.FinalizeCalls
}

// ---- Mock GeneratorRunner ----

// MockGenRunner emits scripted stdout lines to onLine and reports the
// scripted outcome, recording every invocation.
type MockGenRunner struct {
	mu    sync.Mutex
	Lines []string
	Res   adapter.RunResult
	Err   error

	Calls [][]string // args of each Run
	Dirs  []string

	RunFunc func(ctx context.Context, dir string, args []string, onLine func(string)) (adapter.RunResult, error)
}

var _ adapter.GeneratorRunner = (*MockGenRunner)(nil)

func (m *MockGenRunner) Run(ctx context.Context, dir string, args []string, onLine func(string)) (adapter.RunResult, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, dir, args, onLine)
	}
	m.mu.Lock()
	m.Calls = append(m.Calls, args)
	m.Dirs = append(m.Dirs, dir)
	lines := m.Lines
	res, err := m.Res, m.Err
	m.mu.Unlock()

	for _, l := range lines {
		onLine(l)
	}
	return res, err
}

func (m *MockGenRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ---- Mock Locker ----

type MockLocker struct {
	mu       sync.Mutex
	held     map[string]string
	Locked   []string
	Unlocked []string

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ red.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]string)}
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return "", domain.ErrLockNotAcquired
	}
	token := fmt.Sprintf("tok-%d", len(m.Locked)+1)
	m.held[key] = token
	m.Locked = append(m.Locked, key)
	return token, nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	m.Unlocked = append(m.Unlocked, key)
	return nil
}

// ---- Mock PreviewDeployAPI ----

type MockDeployAPI struct {
	mu          sync.Mutex
	StatusCalls int
	StopCalls   int

	StartFunc  func(ctx context.Context, jobID string) (adapter.DeployStart, error)
	StatusFunc func(ctx context.Context, jobID string, call int) (adapter.DeployStatus, error)
	StopFunc   func(ctx context.Context, jobID string) error
}

var _ adapter.PreviewDeployAPI = (*MockDeployAPI)(nil)

func (m *MockDeployAPI) Start(ctx context.Context, jobID string) (adapter.DeployStart, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, jobID)
	}
	return adapter.DeployStart{}, nil
}

func (m *MockDeployAPI) Status(ctx context.Context, jobID string) (adapter.DeployStatus, error) {
	m.mu.Lock()
	m.StatusCalls++
	n := m.StatusCalls
	m.mu.Unlock()
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, jobID, n)
	}
	return adapter.DeployStatus{Status: adapter.DeployStatePending}, nil
}

func (m *MockDeployAPI) Stop(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.StopCalls++
	m.mu.Unlock()
	if m.StopFunc != nil {
		return m.StopFunc(ctx, jobID)
	}
	return nil
}
