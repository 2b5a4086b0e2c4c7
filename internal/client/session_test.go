//go:build !integration

package client_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"appforge/internal/client"
	"appforge/internal/domain"
	"appforge/internal/domain/model"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---- Fake BreadcrumbStore ----

type fakeCrumbs struct {
	mu     sync.Mutex
	bc     *model.Breadcrumb
	clears int
}

func (f *fakeCrumbs) Save(ctx context.Context, bc model.Breadcrumb) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := bc
	f.bc = &cp
	return nil
}

func (f *fakeCrumbs) Load(ctx context.Context) (*model.Breadcrumb, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bc == nil {
		return nil, domain.ErrBreadcrumbNotFound
	}
	cp := *f.bc
	return &cp, nil
}

func (f *fakeCrumbs) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bc = nil
	f.clears++
	return nil
}

func (f *fakeCrumbs) Cleared() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

// ---- Fake StatusFetcher ----

type fakeFetcher struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	err  error

	block chan struct{} // when set, GetStatus waits on it
}

func (f *fakeFetcher) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// ---- Fake ProgressStream ----

type fakeStream struct {
	mu      sync.Mutex
	chans   map[string]chan model.StageUpdate
	subs    int
	cancels int
}

func newFakeStream() *fakeStream {
	return &fakeStream{chans: make(map[string]chan model.StageUpdate)}
}

func (f *fakeStream) Subscribe(ctx context.Context, jobID string) (<-chan model.StageUpdate, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan model.StageUpdate, 16)
	f.chans[jobID] = ch
	f.subs++
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancels++
	}, nil
}

func (f *fakeStream) push(jobID string, upd model.StageUpdate) {
	f.mu.Lock()
	ch := f.chans[jobID]
	f.mu.Unlock()
	ch <- upd
}

func (f *fakeStream) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func (f *fakeStream) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

// ---- Fake PreviewControl ----

type fakePreview struct {
	mu      sync.Mutex
	url     string
	err     error
	stopErr error
	starts  int
	stops   int
	block   chan struct{}
}

func (f *fakePreview) Start(ctx context.Context, jobID string) (string, error) {
	f.mu.Lock()
	f.starts++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.url, f.err
}

func (f *fakePreview) Stop(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

type sessionFixture struct {
	crumbs  *fakeCrumbs
	fetcher *fakeFetcher
	stream  *fakeStream
	preview *fakePreview
	session *client.Session
}

func newSessionFixture() *sessionFixture {
	f := &sessionFixture{
		crumbs:  &fakeCrumbs{},
		fetcher: &fakeFetcher{jobs: make(map[string]*model.Job)},
		stream:  newFakeStream(),
		preview: &fakePreview{},
	}
	f.session = client.NewSession(f.crumbs, f.fetcher, f.stream, f.preview, newTestLogger())
	return f
}

func TestSession_StartGeneration(t *testing.T) {
	ctx := context.Background()

	t.Run("should seed pending state, drop a breadcrumb and subscribe", func(t *testing.T) {
		f := newSessionFixture()
		f.session.StartGeneration(ctx, "j1")

		st := f.session.Snapshot()
		if !st.Active || st.JobID != "j1" || st.Stage != model.StagePending {
			t.Errorf("state = %+v", st)
		}
		bc, err := f.crumbs.Load(ctx)
		if err != nil || bc.JobID != "j1" {
			t.Errorf("breadcrumb = %v, %v", bc, err)
		}
		if f.stream.subCount() != 1 {
			t.Errorf("subscriptions = %d, want 1", f.stream.subCount())
		}
	})

	t.Run("should apply pushed updates", func(t *testing.T) {
		f := newSessionFixture()
		f.session.StartGeneration(ctx, "j1")

		f.stream.push("j1", model.StageUpdate{JobID: "j1", Stage: model.StageCoding, Message: "Writing code", Detail: "page.tsx"})
		waitFor(t, "coding state", func() bool {
			return f.session.Snapshot().Stage == model.StageCoding
		})
		st := f.session.Snapshot()
		if st.Message != "Writing code" || st.Detail != "page.tsx" {
			t.Errorf("state = %+v", st)
		}
	})

	t.Run("should capture artifact metadata on completion", func(t *testing.T) {
		f := newSessionFixture()
		f.session.StartGeneration(ctx, "j1")

		f.stream.push("j1", model.StageUpdate{
			JobID: "j1", Stage: model.StageComplete,
			Title: "Invoice App", Description: "Invoicing tool",
		})
		waitFor(t, "completion", func() bool {
			return f.session.Snapshot().Stage == model.StageComplete
		})
		st := f.session.Snapshot()
		if st.Title != "Invoice App" || st.Description != "Invoicing tool" {
			t.Errorf("state = %+v", st)
		}
	})

	t.Run("should discard late updates from a superseded job", func(t *testing.T) {
		f := newSessionFixture()
		f.session.StartGeneration(ctx, "j1")
		f.session.StartGeneration(ctx, "j2")

		f.stream.push("j1", model.StageUpdate{JobID: "j1", Stage: model.StageFailed, Error: "old news"})
		time.Sleep(20 * time.Millisecond)

		st := f.session.Snapshot()
		if st.JobID != "j2" || st.Stage != model.StagePending || st.Error != "" {
			t.Errorf("stale update leaked into state: %+v", st)
		}
	})
}

func TestSession_Resume(t *testing.T) {
	ctx := context.Background()

	t.Run("should stay idle without a breadcrumb", func(t *testing.T) {
		f := newSessionFixture()
		f.session.Resume(ctx)
		if st := f.session.Snapshot(); st.Active {
			t.Errorf("state = %+v, want idle", st)
		}
	})

	t.Run("should reattach to an active job", func(t *testing.T) {
		f := newSessionFixture()
		f.crumbs.Save(ctx, model.Breadcrumb{JobID: "j1", StartedAt: time.Now()})
		f.fetcher.jobs["j1"] = &model.Job{
			ID: "j1", Status: model.JobStatusGenerating,
			CurrentStage: model.StageCoding, IterationCount: 2,
		}

		f.session.Resume(ctx)

		st := f.session.Snapshot()
		if !st.Active || st.Stage != model.StageCoding || st.IterationCount != 2 {
			t.Errorf("state = %+v", st)
		}
		if f.stream.subCount() != 1 {
			t.Errorf("subscriptions = %d, want 1", f.stream.subCount())
		}
	})

	t.Run("should show a fresh terminal job without a stream", func(t *testing.T) {
		f := newSessionFixture()
		f.crumbs.Save(ctx, model.Breadcrumb{JobID: "j1", StartedAt: time.Now().Add(-10 * time.Minute)})
		f.fetcher.jobs["j1"] = &model.Job{
			ID: "j1", Status: model.JobStatusComplete,
			Title: "Invoice App", Description: "Invoicing tool",
		}

		f.session.Resume(ctx)

		st := f.session.Snapshot()
		if st.Stage != model.StageComplete || st.Title != "Invoice App" {
			t.Errorf("state = %+v", st)
		}
		if f.stream.subCount() != 0 {
			t.Error("terminal resume must not open a stream")
		}
	})

	t.Run("should clear a stale terminal breadcrumb", func(t *testing.T) {
		f := newSessionFixture()
		f.crumbs.Save(ctx, model.Breadcrumb{JobID: "j1", StartedAt: time.Now().Add(-2 * time.Hour)})
		f.fetcher.jobs["j1"] = &model.Job{ID: "j1", Status: model.JobStatusComplete, Title: "Old"}

		f.session.Resume(ctx)

		if st := f.session.Snapshot(); st.Active {
			t.Errorf("state = %+v, want idle", st)
		}
		if f.crumbs.Cleared() != 1 {
			t.Error("expected the breadcrumb cleared")
		}
	})

	t.Run("should clear the breadcrumb when the fetch fails", func(t *testing.T) {
		f := newSessionFixture()
		f.crumbs.Save(ctx, model.Breadcrumb{JobID: "j1", StartedAt: time.Now()})
		f.fetcher.err = errors.New("server unreachable")

		f.session.Resume(ctx)

		if st := f.session.Snapshot(); st.Active {
			t.Errorf("state = %+v, want idle", st)
		}
		if f.crumbs.Cleared() != 1 {
			t.Error("expected the breadcrumb cleared")
		}
	})

	t.Run("should lose the race against an explicitly started job", func(t *testing.T) {
		f := newSessionFixture()
		f.crumbs.Save(ctx, model.Breadcrumb{JobID: "old-job", StartedAt: time.Now()})
		f.fetcher.jobs["old-job"] = &model.Job{
			ID: "old-job", Status: model.JobStatusGenerating, CurrentStage: model.StageCoding,
		}
		f.fetcher.block = make(chan struct{})

		done := make(chan struct{})
		go func() {
			f.session.Resume(ctx)
			close(done)
		}()

		// A new job starts while the resume fetch is still in flight.
		f.session.StartGeneration(ctx, "new-job")
		close(f.fetcher.block)
		<-done

		st := f.session.Snapshot()
		if st.JobID != "new-job" || st.Stage != model.StagePending {
			t.Errorf("resume overwrote the new job: %+v", st)
		}
	})

	t.Run("should not leak a stream when racing a start of the same job", func(t *testing.T) {
		f := newSessionFixture()
		f.crumbs.Save(ctx, model.Breadcrumb{JobID: "j1", StartedAt: time.Now()})
		f.fetcher.jobs["j1"] = &model.Job{
			ID: "j1", Status: model.JobStatusGenerating, CurrentStage: model.StageCoding,
		}
		f.fetcher.block = make(chan struct{})

		done := make(chan struct{})
		go func() {
			f.session.Resume(ctx)
			close(done)
		}()

		// The same job is started locally while the resume fetch is in
		// flight, so the job-id guard lets the resume proceed and open a
		// second stream. The first one must be cancelled, not abandoned.
		f.session.StartGeneration(ctx, "j1")
		close(f.fetcher.block)
		<-done

		waitFor(t, "superseded stream cancelled", func() bool {
			return f.stream.cancelCount() == 1
		})
		if f.stream.subCount() != 2 {
			t.Errorf("subscriptions = %d, want 2", f.stream.subCount())
		}

		// Only the surviving stream feeds the session.
		f.stream.push("j1", model.StageUpdate{JobID: "j1", Stage: model.StageDatabase})
		waitFor(t, "database state", func() bool {
			return f.session.Snapshot().Stage == model.StageDatabase
		})
	})

	t.Run("should run only once", func(t *testing.T) {
		f := newSessionFixture()
		f.crumbs.Save(ctx, model.Breadcrumb{JobID: "j1", StartedAt: time.Now()})
		f.fetcher.jobs["j1"] = &model.Job{ID: "j1", Status: model.JobStatusGenerating, CurrentStage: model.StageCoding}

		f.session.Resume(ctx)
		f.session.Resume(ctx)

		if f.stream.subCount() != 1 {
			t.Errorf("subscriptions = %d, want 1", f.stream.subCount())
		}
	})
}

func TestSession_Reset(t *testing.T) {
	ctx := context.Background()

	t.Run("should be safe when idle", func(t *testing.T) {
		f := newSessionFixture()
		f.session.Reset(ctx)
		if st := f.session.Snapshot(); st.Active {
			t.Errorf("state = %+v", st)
		}
	})

	t.Run("should drop state and breadcrumb", func(t *testing.T) {
		f := newSessionFixture()
		f.session.StartGeneration(ctx, "j1")
		f.session.Reset(ctx)

		if st := f.session.Snapshot(); st.Active || st.JobID != "" {
			t.Errorf("state = %+v", st)
		}
		if _, err := f.crumbs.Load(ctx); !errors.Is(err, domain.ErrBreadcrumbNotFound) {
			t.Error("expected the breadcrumb removed")
		}
	})
}

func TestSession_Preview(t *testing.T) {
	ctx := context.Background()

	t.Run("should record the deployed URL", func(t *testing.T) {
		f := newSessionFixture()
		f.preview.url = "https://p.example/j1"
		f.session.StartGeneration(ctx, "j1")

		url, err := f.session.StartPreview(ctx)
		if err != nil || url != "https://p.example/j1" {
			t.Fatalf("got %q, %v", url, err)
		}
		st := f.session.Snapshot()
		if st.PreviewURL != url || st.PreviewLoading {
			t.Errorf("state = %+v", st)
		}
	})

	t.Run("should ignore a second start while one is loading", func(t *testing.T) {
		f := newSessionFixture()
		f.preview.url = "https://p.example/j1"
		f.preview.block = make(chan struct{})
		f.session.StartGeneration(ctx, "j1")

		go f.session.StartPreview(ctx)
		waitFor(t, "loading flag", func() bool {
			return f.session.Snapshot().PreviewLoading
		})

		if _, err := f.session.StartPreview(ctx); err != nil {
			t.Fatalf("re-invoke: %v", err)
		}
		close(f.preview.block)
		waitFor(t, "deploy settled", func() bool {
			return !f.session.Snapshot().PreviewLoading
		})

		f.preview.mu.Lock()
		defer f.preview.mu.Unlock()
		if f.preview.starts != 1 {
			t.Errorf("deploy started %d times, want 1", f.preview.starts)
		}
	})

	t.Run("should reset locally even when teardown fails", func(t *testing.T) {
		f := newSessionFixture()
		f.preview.url = "https://p.example/j1"
		f.preview.stopErr = errors.New("already gone")
		f.session.StartGeneration(ctx, "j1")
		f.session.StartPreview(ctx)

		f.session.StopPreview(ctx)

		if st := f.session.Snapshot(); st.PreviewURL != "" || st.PreviewLoading {
			t.Errorf("state = %+v", st)
		}
	})
}

func TestSession_IncrementIteration(t *testing.T) {
	ctx := context.Background()

	t.Run("should reset progress and resubscribe for the same job", func(t *testing.T) {
		f := newSessionFixture()
		f.session.StartGeneration(ctx, "j1")
		f.stream.push("j1", model.StageUpdate{JobID: "j1", Stage: model.StageComplete, Title: "Invoice App"})
		waitFor(t, "completion", func() bool {
			return f.session.Snapshot().Stage == model.StageComplete
		})

		f.session.IncrementIteration(ctx)

		st := f.session.Snapshot()
		if st.IterationCount != 1 || st.Stage != model.StagePending || st.PreviewURL != "" {
			t.Errorf("state = %+v", st)
		}
		if f.stream.subCount() != 2 {
			t.Errorf("subscriptions = %d, want 2", f.stream.subCount())
		}
	})

	t.Run("should be a no-op when idle", func(t *testing.T) {
		f := newSessionFixture()
		f.session.IncrementIteration(ctx)
		if st := f.session.Snapshot(); st.IterationCount != 0 {
			t.Errorf("state = %+v", st)
		}
	})
}
