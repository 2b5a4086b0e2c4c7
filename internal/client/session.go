package client

import (
	"context"
	"sync"
	"time"

	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// staleAfter is the breadcrumb staleness threshold: a terminal job whose
// breadcrumb is older than this is not resurrected into the session.
const staleAfter = time.Hour

// StatusFetcher is the point-in-time status query against durable truth.
type StatusFetcher interface {
	GetStatus(ctx context.Context, jobID string) (*model.Job, error)
}

// ProgressStream opens the per-job push channel. The returned cancel closes
// the subscription; the channel closes when the server ends the stream.
type ProgressStream interface {
	Subscribe(ctx context.Context, jobID string) (<-chan model.StageUpdate, func(), error)
}

// PreviewControl starts and stops preview deploys for a job.
type PreviewControl interface {
	Start(ctx context.Context, jobID string) (string, error)
	Stop(ctx context.Context, jobID string) error
}

// State is the session snapshot a user interface consumes.
type State struct {
	Active         bool
	JobID          string
	Stage          model.Stage
	Message        string
	Detail         string
	Error          string
	Title          string
	Description    string
	IterationCount int
	Published      bool
	PreviewURL     string
	PreviewLoading bool
}

// Session is the observer-side state machine: it mirrors the latest stage
// tuple for the one job the client currently cares about and owns
// cross-restart continuity via the breadcrumb store.
type Session struct {
	mu          sync.Mutex
	state       State
	closeStream func()
	resumeOnce  sync.Once

	store   repository.BreadcrumbStore
	fetcher StatusFetcher
	stream  ProgressStream
	preview PreviewControl
	log     *zerolog.Logger
}

func NewSession(store repository.BreadcrumbStore, fetcher StatusFetcher, stream ProgressStream, preview PreviewControl, logger *zerolog.Logger) *Session {
	l := logger.With().Str("component", "Session").Logger()
	return &Session{
		store:   store,
		fetcher: fetcher,
		stream:  stream,
		preview: preview,
		log:     &l,
	}
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartGeneration points the session at a new job: state resets to pending,
// the breadcrumb is persisted and the push channel opened.
func (s *Session) StartGeneration(ctx context.Context, jobID string) {
	s.mu.Lock()
	s.closeStreamLocked()
	s.state = State{
		Active:  true,
		JobID:   jobID,
		Stage:   model.StagePending,
		Message: model.StagePending.DefaultMessage(),
	}
	s.mu.Unlock()

	if err := s.store.Save(ctx, model.Breadcrumb{JobID: jobID, StartedAt: time.Now()}); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("persist breadcrumb failed")
	}
	s.open(ctx, jobID)
}

// IncrementIteration bumps the iteration counter, resets progress state and
// reopens the channel for the same job.
func (s *Session) IncrementIteration(ctx context.Context) {
	s.mu.Lock()
	if s.state.JobID == "" {
		s.mu.Unlock()
		return
	}
	jobID := s.state.JobID
	s.closeStreamLocked()
	s.state.IterationCount++
	s.state.Stage = model.StagePending
	s.state.Message = "Applying your changes..."
	s.state.Detail = ""
	s.state.Error = ""
	s.state.PreviewURL = ""
	s.mu.Unlock()

	s.open(ctx, jobID)
}

// Resume runs at most once per session lifetime, typically at startup. It
// reconciles the breadcrumb against durable job state before deciding
// whether to reattach; it never wins a race against an explicit new job.
func (s *Session) Resume(ctx context.Context) {
	s.resumeOnce.Do(func() { s.resume(ctx) })
}

func (s *Session) resume(ctx context.Context) {
	bc, err := s.store.Load(ctx)
	if err != nil {
		// Missing or unreadable breadcrumbs are silently discarded.
		return
	}

	job, ferr := s.fetcher.GetStatus(ctx, bc.JobID)

	s.mu.Lock()
	if s.state.JobID != "" && s.state.JobID != bc.JobID {
		// The user started a different job while the fetch was in flight.
		s.mu.Unlock()
		return
	}
	if ferr != nil {
		s.mu.Unlock()
		_ = s.store.Clear(ctx)
		return
	}

	switch {
	case job.Status.Active():
		s.state = State{
			Active:         true,
			JobID:          job.ID,
			Stage:          job.CurrentStage,
			Message:        job.CurrentStage.DefaultMessage(),
			IterationCount: job.IterationCount,
			Published:      job.Published,
		}
		s.mu.Unlock()
		s.open(ctx, job.ID)
	case time.Since(bc.StartedAt) < staleAfter:
		st := State{
			Active:         true,
			JobID:          job.ID,
			Title:          job.Title,
			Description:    job.Description,
			Error:          job.Error,
			IterationCount: job.IterationCount,
			Published:      job.Published,
		}
		if job.Status == model.JobStatusComplete {
			st.Stage = model.StageComplete
			st.Message = model.StageComplete.DefaultMessage()
		} else {
			st.Stage = model.StageFailed
			st.Message = model.StageFailed.DefaultMessage()
		}
		s.state = st
		s.mu.Unlock()
	default:
		// Terminal and stale: do not resurrect ancient jobs into the UI.
		s.mu.Unlock()
		_ = s.store.Clear(ctx)
	}
}

// Reset closes any open channel, discards the breadcrumb and returns the
// session to idle. Safe to call when nothing is active.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.closeStreamLocked()
	s.state = State{}
	s.mu.Unlock()
	_ = s.store.Clear(ctx)
}

// StartPreview deploys a preview of the session's job. Re-invoking while a
// deploy is already loading is a no-op.
func (s *Session) StartPreview(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state.JobID == "" || s.state.PreviewLoading {
		url := s.state.PreviewURL
		s.mu.Unlock()
		return url, nil
	}
	jobID := s.state.JobID
	s.state.PreviewLoading = true
	s.mu.Unlock()

	url, err := s.preview.Start(ctx, jobID)

	s.mu.Lock()
	if s.state.JobID == jobID {
		s.state.PreviewLoading = false
		if err == nil {
			s.state.PreviewURL = url
		}
	}
	s.mu.Unlock()
	return url, err
}

// StopPreview tears the preview down best-effort; local preview state is
// reset unconditionally regardless of teardown outcome.
func (s *Session) StopPreview(ctx context.Context) {
	s.mu.Lock()
	jobID := s.state.JobID
	s.state.PreviewURL = ""
	s.state.PreviewLoading = false
	s.mu.Unlock()

	if jobID == "" {
		return
	}
	if err := s.preview.Stop(ctx, jobID); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("preview teardown failed")
	}
}

func (s *Session) open(ctx context.Context, jobID string) {
	ch, cancel, err := s.stream.Subscribe(ctx, jobID)
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("open progress stream failed")
		return
	}
	s.mu.Lock()
	// A resume that raced a local start may have left a stream for the
	// same job id open; only one subscription may feed the session.
	s.closeStreamLocked()
	s.closeStream = cancel
	s.mu.Unlock()

	go func() {
		for upd := range ch {
			s.apply(jobID, upd)
		}
	}()
}

// apply merges one pushed update. Updates for a job the session no longer
// cares about are discarded: this guards against a leftover channel from a
// previous job delivering late events.
func (s *Session) apply(jobID string, upd model.StageUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.JobID != jobID {
		return
	}
	s.state.Stage = upd.Stage
	s.state.Message = upd.Message
	s.state.Detail = upd.Detail

	switch upd.Stage {
	case model.StageComplete:
		s.state.Title = upd.Title
		s.state.Description = upd.Description
		if upd.PreviewURL != "" {
			s.state.PreviewURL = upd.PreviewURL
		}
		s.closeStreamLocked()
	case model.StageFailed:
		s.state.Error = upd.Error
		s.closeStreamLocked()
	}
}

func (s *Session) closeStreamLocked() {
	if s.closeStream != nil {
		s.closeStream()
		s.closeStream = nil
	}
}
