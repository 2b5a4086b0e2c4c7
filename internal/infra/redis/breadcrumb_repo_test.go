//go:build !integration

package redis_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	red "appforge/internal/infra/redis"

	goredis "github.com/go-redis/redis/v8"
)

// fakeKV is an in-memory stand-in for the thin redis client.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

var _ red.RedisClient = (*fakeKV)(nil)

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) Ping(ctx context.Context) error { return nil }

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		f.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeKV) Close() error { return nil }

func TestBreadcrumbStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should round-trip a breadcrumb", func(t *testing.T) {
		store := red.NewBreadcrumbStore(newFakeKV(), "client-1", time.Hour)
		started := time.Now().Truncate(time.Second)

		if err := store.Save(ctx, model.Breadcrumb{JobID: "j1", StartedAt: started}); err != nil {
			t.Fatalf("save: %v", err)
		}
		bc, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if bc.JobID != "j1" || !bc.StartedAt.Equal(started) {
			t.Errorf("loaded %+v", bc)
		}
	})

	t.Run("should report a missing breadcrumb distinctly", func(t *testing.T) {
		store := red.NewBreadcrumbStore(newFakeKV(), "client-1", time.Hour)
		if _, err := store.Load(ctx); !errors.Is(err, domain.ErrBreadcrumbNotFound) {
			t.Fatalf("expected ErrBreadcrumbNotFound, got: %v", err)
		}
	})

	t.Run("should discard an unreadable breadcrumb", func(t *testing.T) {
		kv := newFakeKV()
		kv.Set(ctx, "breadcrumb:client-1", "{not json", 0)
		store := red.NewBreadcrumbStore(kv, "client-1", time.Hour)

		if _, err := store.Load(ctx); !errors.Is(err, domain.ErrBreadcrumbNotFound) {
			t.Fatalf("expected ErrBreadcrumbNotFound, got: %v", err)
		}
	})

	t.Run("should isolate clients by id", func(t *testing.T) {
		kv := newFakeKV()
		a := red.NewBreadcrumbStore(kv, "client-a", time.Hour)
		b := red.NewBreadcrumbStore(kv, "client-b", time.Hour)

		a.Save(ctx, model.Breadcrumb{JobID: "ja", StartedAt: time.Now()})
		b.Save(ctx, model.Breadcrumb{JobID: "jb", StartedAt: time.Now()})

		if err := a.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := a.Load(ctx); !errors.Is(err, domain.ErrBreadcrumbNotFound) {
			t.Error("expected client-a cleared")
		}
		if bc, err := b.Load(ctx); err != nil || bc.JobID != "jb" {
			t.Errorf("client-b affected: %+v, %v", bc, err)
		}
	})
}
