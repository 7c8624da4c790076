// Package api provides HTTP handlers for FallacySheriff endpoints.
package api

import (
	"log/slog"
	"net/http"

	"github.com/fallacysheriff/fallacysheriff/internal/models"
)

// statusResult extends the durable poll state with runtime configuration.
type statusResult struct {
	models.PollStatus
	Schedule  string `json:"schedule"`
	RSSHubURL string `json:"rsshub_url"`
}

// healthHandler reports whether the service is up.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.healthHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("FallacySheriff is running", nil))
}

// statusHandler returns the current poll state: last seen tweet ID, number of
// mentions replied to, and the last poll time.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statusHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := s.orc.Status()
	if err != nil {
		slog.Error("Server.statusHandler: failed to read poll status", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read poll status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(statusResult{
		PollStatus: status,
		Schedule:   s.schedule,
		RSSHubURL:  s.rsshubURL,
	}))
}

// pollHandler triggers a poll cycle on demand. A cycle that is already in
// flight is not interrupted; the request gets a conflict response instead.
func (s *Server) pollHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.pollHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	slog.Info("Server.pollHandler: manual poll cycle requested")
	summary := s.orc.RunPollCycle(r.Context())
	if summary.Skipped {
		slog.Warn("Server.pollHandler: poll cycle already in progress")
		writeJSONResponse(w, http.StatusConflict, models.Error(models.ErrCycleInProgress.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}
