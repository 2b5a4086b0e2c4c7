package adapter

import "context"

type DeployState string

const (
	DeployStatePending DeployState = "pending"
	DeployStateReady   DeployState = "ready"
	DeployStateFailed  DeployState = "failed"
)

// DeployStart is the response to a deploy request. An empty URL means the
// deploy is provisioning and the caller must poll Status.
type DeployStart struct {
	URL string `json:"url,omitempty"`
}

type DeployStatus struct {
	Status DeployState `json:"status"`
	URL    string      `json:"url,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// PreviewDeployAPI is the boundary to the service hosting ephemeral preview
// instances of generated artifacts.
type PreviewDeployAPI interface {
	Start(ctx context.Context, jobID string) (DeployStart, error)
	Status(ctx context.Context, jobID string) (DeployStatus, error)
	// Stop is best-effort; callers swallow its error.
	Stop(ctx context.Context, jobID string) error
}
