package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.BreadcrumbStore = (*BreadcrumbStore)(nil)

// BreadcrumbStore keeps one {jobId, startedAt} record per observing client.
// The TTL only bounds storage; staleness decisions belong to the session.
type BreadcrumbStore struct {
	client   RedisClient
	clientID string
	ttl      time.Duration
}

func NewBreadcrumbStore(client RedisClient, clientID string, ttl time.Duration) *BreadcrumbStore {
	return &BreadcrumbStore{client: client, clientID: clientID, ttl: ttl}
}

func (s *BreadcrumbStore) key() string {
	return fmt.Sprintf("breadcrumb:%s", s.clientID)
}

func (s *BreadcrumbStore) Save(ctx context.Context, bc model.Breadcrumb) error {
	data, err := json.Marshal(bc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(), data, s.ttl)
}

func (s *BreadcrumbStore) Load(ctx context.Context) (*model.Breadcrumb, error) {
	data, err := s.client.Get(ctx, s.key())
	if err != nil {
		if IsNil(err) {
			return nil, domain.ErrBreadcrumbNotFound
		}
		return nil, err
	}
	var bc model.Breadcrumb
	if err := json.Unmarshal([]byte(data), &bc); err != nil {
		// Unreadable breadcrumbs are discarded, never surfaced.
		return nil, domain.ErrBreadcrumbNotFound
	}
	return &bc, nil
}

func (s *BreadcrumbStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key())
}
