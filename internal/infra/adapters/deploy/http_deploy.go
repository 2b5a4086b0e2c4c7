package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"appforge/internal/domain/ports/adapter"
)

var _ adapter.PreviewDeployAPI = (*HTTPClient)(nil)

// HTTPClient talks to the preview hosting service:
//
//	POST   {base}/v1/previews/{jobID}  -> {"url": "..."} or {} (poll)
//	GET    {base}/v1/previews/{jobID}  -> {"status": "...", "url": "...", "error": "..."}
//	DELETE {base}/v1/previews/{jobID}
type HTTPClient struct {
	base string
	http *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) url(jobID string) string {
	return fmt.Sprintf("%s/v1/previews/%s", c.base, jobID)
}

func (c *HTTPClient) Start(ctx context.Context, jobID string) (adapter.DeployStart, error) {
	var out adapter.DeployStart
	err := c.do(ctx, http.MethodPost, c.url(jobID), &out)
	return out, err
}

func (c *HTTPClient) Status(ctx context.Context, jobID string) (adapter.DeployStatus, error) {
	var out adapter.DeployStatus
	err := c.do(ctx, http.MethodGet, c.url(jobID), &out)
	return out, err
}

func (c *HTTPClient) Stop(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, c.url(jobID), nil)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("preview service %s %s: %d %s", method, url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
