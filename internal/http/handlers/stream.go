package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"inkrelay/internal/domain"
	"inkrelay/internal/provider"
	"inkrelay/internal/relay"
)

// Progress serves the project's event stream.
func (a *App) Progress(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := a.Relay.Stream(r.Context(), w, projectID); err != nil {
		a.Logger.Debug().Err(err).Str("project_id", projectID).Msg("progress: stream closed")
	}
}

type cancelResponse struct {
	OK        bool   `json:"ok"`
	ProjectID string `json:"projectId,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (a *App) Cancel(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if err := a.Relay.Cancel(r.Context(), projectID); err != nil && !provider.IsProjectNotFound(err) {
		a.Logger.Error().Err(err).Str("project_id", projectID).Msg("cancel: failed")
		a.json(w, http.StatusInternalServerError, cancelResponse{OK: false, Error: err.Error()})
		return
	}
	a.json(w, http.StatusOK, cancelResponse{OK: true, ProjectID: projectID, Cancelled: true})
}

// Result streams one generated image through this origin.
func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	jobID := chi.URLParam(r, "jobId")

	res, err := a.Relay.OpenResult(r.Context(), projectID, jobID)
	switch {
	case errors.Is(err, domain.ErrProjectNotTracked):
		a.error(w, http.StatusNotFound, "Project not found or expired")
		return
	case errors.Is(err, domain.ErrResultUnavailable):
		a.error(w, http.StatusNotFound, "Result not available")
		return
	case err != nil:
		a.Logger.Warn().Err(err).Str("project_id", projectID).Str("job_id", jobID).Msg("result: upstream fetch failed")
		a.error(w, http.StatusBadGateway, "Failed to fetch result")
		return
	}
	defer res.Body.Close()

	// Image downloads may outlast the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		a.Logger.Debug().Err(err).Msg("result: clear write deadline")
	}

	w.Header().Set("Content-Type", res.ContentType)
	if res.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	w.Header().Set("Cache-Control", relay.ResultCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Body); err != nil {
		a.Logger.Debug().Err(err).Str("project_id", projectID).Str("job_id", jobID).Msg("result: copy interrupted")
	}
}
