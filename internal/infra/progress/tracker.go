package progress

import (
	"sync"
	"time"

	"appforge/internal/domain/model"
	"appforge/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// subBuffer is the per-observer channel depth. The server does not buffer or
// retry beyond this; a slow observer loses updates and is expected to
// re-fetch point-in-time status.
const subBuffer = 16

type entry struct {
	current    model.StageUpdate
	timers     []*time.Timer
	subs       map[int]chan model.StageUpdate
	nextSubID  int
	closed     bool
	terminalAt time.Time
}

// Tracker holds the latest stage tuple per job and runs the timed promotion
// for the early stages the generator does not reliably self-report. It is a
// best-effort in-memory cache: never authoritative after a restart.
type Tracker struct {
	mu               sync.Mutex
	jobs             map[string]*entry
	scaffoldingAfter time.Duration
	codingAfter      time.Duration
	onStage          func(jobID string, stage model.Stage)
	log              *zerolog.Logger
}

func NewTracker(scaffoldingAfter, codingAfter time.Duration, logger *zerolog.Logger) *Tracker {
	l := logger.With().Str("component", "Tracker").Logger()
	return &Tracker{
		jobs:             make(map[string]*entry),
		scaffoldingAfter: scaffoldingAfter,
		codingAfter:      codingAfter,
		log:              &l,
	}
}

// SetOnStage installs a hook invoked (outside the lock) whenever the stage
// label changes. The orchestrator uses it to persist currentStage.
func (t *Tracker) SetOnStage(fn func(jobID string, stage model.Stage)) {
	t.mu.Lock()
	t.onStage = fn
	t.mu.Unlock()
}

type setOpts struct {
	message string
	detail  string
	source  string
}

type SetOption func(*setOpts)

func WithMessage(msg string) SetOption  { return func(o *setOpts) { o.message = msg } }
func WithDetail(detail string) SetOption { return func(o *setOpts) { o.detail = detail } }

func (t *Tracker) entryLocked(jobID string) *entry {
	e, ok := t.jobs[jobID]
	if !ok {
		e = &entry{
			current: model.StageUpdate{
				JobID:   jobID,
				Stage:   model.StagePending,
				Message: model.StagePending.DefaultMessage(),
			},
			subs: make(map[int]chan model.StageUpdate),
		}
		t.jobs[jobID] = e
	}
	return e
}

// Set overwrites the stored tuple unconditionally. Detail is cleared when the
// stage changes; a same-stage update refines detail without resetting it.
func (t *Tracker) Set(jobID string, stage model.Stage, opts ...SetOption) {
	t.set(jobID, stage, "process", opts...)
}

func (t *Tracker) set(jobID string, stage model.Stage, source string, opts ...SetOption) {
	var o setOpts
	for _, fn := range opts {
		fn(&o)
	}

	t.mu.Lock()
	e := t.entryLocked(jobID)
	prev := e.current.Stage

	upd := model.StageUpdate{JobID: jobID, Stage: stage}
	if o.message != "" {
		upd.Message = o.message
	} else {
		upd.Message = stage.DefaultMessage()
	}
	switch {
	case o.detail != "":
		upd.Detail = o.detail
	case stage == prev:
		upd.Detail = e.current.Detail
	}
	e.current = upd
	t.publishLocked(e, upd)
	onStage := t.onStage
	t.mu.Unlock()

	metrics.IncStageTransition(string(stage), source)
	if stage != prev && onStage != nil {
		onStage(jobID, stage)
	}
}

// SetDetail refines the detail line of the current stage without touching
// the stage itself.
func (t *Tracker) SetDetail(jobID, detail string) {
	t.mu.Lock()
	stage := t.entryLocked(jobID).current.Stage
	t.mu.Unlock()
	t.Set(jobID, stage, WithDetail(detail))
}

// Get returns the current tuple. An unknown job id reads as pending, never
// as an error.
func (t *Tracker) Get(jobID string) model.StageUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.jobs[jobID]; ok {
		return e.current
	}
	return model.StageUpdate{
		JobID:   jobID,
		Stage:   model.StagePending,
		Message: model.StagePending.DefaultMessage(),
	}
}

// StartTimedPromotion immediately moves the job to designing and schedules
// the guarded scaffolding and coding promotions, both measured from now.
// Restarting cancels any timers a previous run left behind and reopens an
// entry a previous run closed: iterations reuse the job id, so a terminal
// state is final only until the next run begins.
func (t *Tracker) StartTimedPromotion(jobID string) {
	t.mu.Lock()
	e := t.entryLocked(jobID)
	for _, tm := range e.timers {
		tm.Stop()
	}
	e.timers = nil
	e.closed = false
	e.terminalAt = time.Time{}
	t.mu.Unlock()

	t.set(jobID, model.StageDesigning, "timer")

	t.mu.Lock()
	e = t.entryLocked(jobID)
	e.timers = append(e.timers,
		time.AfterFunc(t.scaffoldingAfter, func() {
			t.promote(jobID, model.StageScaffolding, model.StagePending, model.StageDesigning)
		}),
		time.AfterFunc(t.codingAfter, func() {
			t.promote(jobID, model.StageCoding, model.StageScaffolding)
		}),
	)
	t.mu.Unlock()
}

// promote applies a deferred promotion only while the tracker still sits at a
// stage the timer expects to supersede. A timer never stomps on a real signal
// that already advanced the job further.
func (t *Tracker) promote(jobID string, to model.Stage, from ...model.Stage) {
	t.mu.Lock()
	e, ok := t.jobs[jobID]
	if !ok || e.closed {
		t.mu.Unlock()
		return
	}
	allowed := false
	for _, f := range from {
		if e.current.Stage == f {
			allowed = true
			break
		}
	}
	t.mu.Unlock()
	if allowed {
		t.set(jobID, to, "timer")
	}
}

// Complete records the terminal success tuple and closes the job's channels.
// Only the process manager's exit path calls this.
func (t *Tracker) Complete(jobID, title, description, previewURL string) {
	t.finish(jobID, model.StageUpdate{
		JobID:       jobID,
		Stage:       model.StageComplete,
		Message:     model.StageComplete.DefaultMessage(),
		Title:       title,
		Description: description,
		PreviewURL:  previewURL,
	})
}

// Fail records the terminal failure tuple and closes the job's channels.
func (t *Tracker) Fail(jobID, message, errMsg string) {
	if message == "" {
		message = model.StageFailed.DefaultMessage()
	}
	t.finish(jobID, model.StageUpdate{
		JobID:   jobID,
		Stage:   model.StageFailed,
		Message: message,
		Error:   errMsg,
	})
}

func (t *Tracker) finish(jobID string, upd model.StageUpdate) {
	t.mu.Lock()
	e := t.entryLocked(jobID)
	for _, tm := range e.timers {
		tm.Stop()
	}
	e.timers = nil
	prev := e.current.Stage
	e.current = upd
	e.terminalAt = time.Now()
	t.publishLocked(e, upd)
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.closed = true
	onStage := t.onStage
	t.mu.Unlock()

	metrics.IncStageTransition(string(upd.Stage), "process")
	if upd.Stage != prev && onStage != nil {
		onStage(jobID, upd.Stage)
	}
}

func (t *Tracker) publishLocked(e *entry, upd model.StageUpdate) {
	for _, ch := range e.subs {
		select {
		case ch <- upd:
		default:
			t.log.Warn().Str("job_id", upd.JobID).Msg("observer too slow, dropping stage update")
		}
	}
}

// Subscribe attaches an observer to a job's channel. There is no replay of
// history; callers fetch point-in-time status separately before relying on
// the stream for deltas. For a job already terminal the returned channel is
// closed immediately.
func (t *Tracker) Subscribe(jobID string) (<-chan model.StageUpdate, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(jobID)
	if e.closed {
		ch := make(chan model.StageUpdate)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan model.StageUpdate, subBuffer)
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = ch
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.jobs[jobID]; ok {
			if sub, ok := cur.subs[id]; ok {
				delete(cur.subs, id)
				close(sub)
			}
		}
	}
	return ch, cancel
}

// Forget drops a job's entry entirely. Meant to be called once the terminal
// state is durably persisted and no observer could plausibly reconnect.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[jobID]
	if !ok {
		return
	}
	for _, tm := range e.timers {
		tm.Stop()
	}
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	delete(t.jobs, jobID)
}

// SweepTerminal removes entries terminal for longer than maxAge and returns
// the number collected.
func (t *Tracker) SweepTerminal(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, e := range t.jobs {
		if e.closed && e.terminalAt.Before(cutoff) {
			delete(t.jobs, id)
			n++
		}
	}
	return n
}
