package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
)

// API talks to the orchestrator's HTTP surface. It implements StatusFetcher,
// ProgressStream and PreviewControl for a Session.
type API struct {
	base   string
	token  string
	status *http.Client
	stream *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		status: &http.Client{Timeout: 15 * time.Second},
		// Event streams stay open indefinitely, so no client timeout.
		stream: &http.Client{},
	}
}

type jobPayload struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	CurrentStage   string `json:"current_stage"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Error          string `json:"error"`
	IterationCount int    `json:"iteration_count"`
	Published      bool   `json:"published"`
}

// CreateJob submits a new generation request and returns the accepted job.
func (a *API) CreateJob(ctx context.Context, prompt string, biz model.BusinessContext) (*model.Job, error) {
	body, err := json.Marshal(struct {
		Prompt   string                `json:"prompt"`
		Business model.BusinessContext `json:"business"`
	}{Prompt: prompt, Business: biz})
	if err != nil {
		return nil, err
	}
	resp, err := a.do(ctx, a.status, http.MethodPost, "/api/v1/jobs", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var p jobPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return &model.Job{ID: p.ID, Status: model.JobStatus(p.Status)}, nil
}

// Iterate requests a follow-up generation pass on a completed job.
func (a *API) Iterate(ctx context.Context, jobID, prompt string) error {
	body, err := json.Marshal(struct {
		Prompt string `json:"prompt"`
	}{Prompt: prompt})
	if err != nil {
		return err
	}
	resp, err := a.do(ctx, a.status, http.MethodPost, "/api/v1/jobs/"+jobID+"/iterations", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *API) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	resp, err := a.do(ctx, a.status, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var p jobPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &model.Job{
		ID:             p.ID,
		Status:         model.JobStatus(p.Status),
		CurrentStage:   model.Stage(p.CurrentStage),
		Title:          p.Title,
		Description:    p.Description,
		Error:          p.Error,
		IterationCount: p.IterationCount,
		Published:      p.Published,
	}, nil
}

// Subscribe opens the job's event stream and relays stage updates until the
// server closes it or cancel is called.
func (a *API) Subscribe(ctx context.Context, jobID string) (<-chan model.StageUpdate, func(), error) {
	sctx, cancel := context.WithCancel(ctx)
	resp, err := a.do(sctx, a.stream, http.MethodGet, "/api/v1/jobs/"+jobID+"/events", nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	ch := make(chan model.StageUpdate, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		readEvents(sctx, resp.Body, ch)
	}()
	return ch, cancel, nil
}

func (a *API) Start(ctx context.Context, jobID string) (string, error) {
	resp, err := a.do(ctx, a.stream, http.MethodPost, "/api/v1/jobs/"+jobID+"/preview", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var p struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return "", fmt.Errorf("decode preview response: %w", err)
	}
	return p.URL, nil
}

func (a *API) Stop(ctx context.Context, jobID string) error {
	resp, err := a.do(ctx, a.status, http.MethodDelete, "/api/v1/jobs/"+jobID+"/preview", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *API) do(ctx context.Context, hc *http.Client, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return nil, err
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, method, path)
		}
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return resp, nil
}

// readEvents parses a text/event-stream body, emitting one update per
// "stage" event. Comment lines (heartbeats) and unknown events are skipped.
func readEvents(ctx context.Context, body io.Reader, out chan<- model.StageUpdate) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)

	var event string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event == "stage" && data.Len() > 0 {
				var upd model.StageUpdate
				if err := json.Unmarshal([]byte(data.String()), &upd); err == nil {
					select {
					case out <- upd:
					case <-ctx.Done():
						return
					}
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
