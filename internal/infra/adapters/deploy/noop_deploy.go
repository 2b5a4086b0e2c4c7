package deploy

import (
	"context"
	"fmt"

	"appforge/internal/domain/ports/adapter"
)

var _ adapter.PreviewDeployAPI = (*NoopClient)(nil)

// NoopClient pretends every preview is immediately ready. Used in dev mode.
type NoopClient struct{}

func NewNoopClient() *NoopClient { return &NoopClient{} }

func (n *NoopClient) Start(ctx context.Context, jobID string) (adapter.DeployStart, error) {
	return adapter.DeployStart{URL: fmt.Sprintf("http://localhost:3000/preview/%s", jobID)}, nil
}

func (n *NoopClient) Status(ctx context.Context, jobID string) (adapter.DeployStatus, error) {
	return adapter.DeployStatus{
		Status: adapter.DeployStateReady,
		URL:    fmt.Sprintf("http://localhost:3000/preview/%s", jobID),
	}, nil
}

func (n *NoopClient) Stop(ctx context.Context, jobID string) error { return nil }
