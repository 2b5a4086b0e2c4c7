package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
)

type createJobRequest struct {
	Prompt   string                `json:"prompt"`
	Business model.BusinessContext `json:"business"`
}

type iterateRequest struct {
	Prompt string `json:"prompt"`
}

// jobResponse is the point-in-time status contract observers reconcile
// against before trusting the stream for deltas.
type jobResponse struct {
	ID             string          `json:"id"`
	Status         model.JobStatus `json:"status"`
	CurrentStage   model.Stage     `json:"current_stage"`
	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description,omitempty"`
	Error          string          `json:"error,omitempty"`
	IterationCount int             `json:"iteration_count"`
	Published      bool            `json:"published"`
}

func toJobResponse(j *model.Job) jobResponse {
	return jobResponse{
		ID:             j.ID,
		Status:         j.Status,
		CurrentStage:   j.CurrentStage,
		Title:          j.Title,
		Description:    j.Description,
		Error:          j.Error,
		IterationCount: j.IterationCount,
		Published:      j.Published,
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	job, err := s.genUC.Start(r.Context(), req.Prompt, req.Business)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			http.Error(w, "prompt is required", http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Msg("start generation failed")
		http.Error(w, "Failed to start generation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.genUC.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleIterate(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var req iterateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	job, err := s.genUC.Iterate(r.Context(), jobID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, domain.ErrInvalidArgument):
			http.Error(w, "prompt is required", http.StatusBadRequest)
		case errors.Is(err, domain.ErrJobNotComplete):
			http.Error(w, "job has not completed generation", http.StatusConflict)
		case errors.Is(err, domain.ErrGenerationInFlight):
			http.Error(w, "generation already running", http.StatusConflict)
		default:
			s.log.Error().Err(err).Str("job_id", jobID).Msg("iterate failed")
			http.Error(w, "Failed to start iteration", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleStartPreview(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	url, err := s.previewUC.Start(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, domain.ErrJobNotComplete):
			http.Error(w, "job has not completed generation", http.StatusConflict)
		case errors.Is(err, domain.ErrPreviewTimeout):
			http.Error(w, "preview deploy timed out", http.StatusGatewayTimeout)
		default:
			s.log.Warn().Err(err).Str("job_id", jobID).Msg("preview start failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleStopPreview(w http.ResponseWriter, r *http.Request) {
	s.previewUC.Stop(r.Context(), chi.URLParam(r, "jobID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupProgress(w http.ResponseWriter, r *http.Request) {
	s.genUC.CleanupProgress(chi.URLParam(r, "jobID"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
