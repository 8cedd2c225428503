package server

import (
	"errors"
	"net/http"

	"github.com/bobmcallan/logsentry/internal/ingest"
	"github.com/bobmcallan/logsentry/internal/models"
)

type ingestRequest struct {
	Logs []models.LogInput `json:"logs"`
}

type ingestResponse struct {
	Accepted int      `json:"accepted"`
	IDs      []string `json:"ids"`
}

// handleIngest handles POST /api/v1/tenants/{tenant}/projects/{project}/logs.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, tenant, project string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req ingestRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	records, err := s.app.Writer.Ingest(r.Context(), tenant, project, req.Logs)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrBatchTooLarge):
			WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, ingest.ErrPersistFailed):
			WriteError(w, http.StatusInternalServerError, "failed to persist logs")
		default:
			WriteError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	WriteJSON(w, http.StatusOK, ingestResponse{Accepted: len(records), IDs: ids})
}

// handleListLogs handles GET /api/v1/tenants/{tenant}/projects/{project}/logs.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request, tenant, project string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := parsePositiveInt(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	beforeID := r.URL.Query().Get("before")

	logs, err := s.app.Storage.LogStore().ListByProject(r.Context(), tenant, project, limit, beforeID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}
