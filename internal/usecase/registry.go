package usecase

import (
	"sync"

	"appforge/internal/domain"
	"appforge/internal/infra/installer"
)

type registryEntry struct {
	processActive bool
	install       *installer.Handle
}

// Registry holds the per-job volatile handles the orchestrator needs while a
// job is in flight: whether a generation process is running and the pending
// install handle to join later. It makes "at most one active process per job
// id" an enforced property instead of caller discipline.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*registryEntry)}
}

func (r *Registry) entryLocked(jobID string) *registryEntry {
	e, ok := r.jobs[jobID]
	if !ok {
		e = &registryEntry{}
		r.jobs[jobID] = e
	}
	return e
}

// AcquireProcess claims the single process slot for a job. A second claim
// while the first is active is rejected.
func (r *Registry) AcquireProcess(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(jobID)
	if e.processActive {
		return domain.ErrGenerationInFlight
	}
	e.processActive = true
	return nil
}

func (r *Registry) ReleaseProcess(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[jobID]; ok {
		e.processActive = false
		if e.install == nil {
			delete(r.jobs, jobID)
		}
	}
}

func (r *Registry) StoreInstall(jobID string, h *installer.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(jobID).install = h
}

// TakeInstall removes and returns the pending install handle, nil when none
// exists (the iteration path).
func (r *Registry) TakeInstall(jobID string) *installer.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[jobID]
	if !ok {
		return nil
	}
	h := e.install
	e.install = nil
	return h
}
