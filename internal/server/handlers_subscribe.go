package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bobmcallan/logsentry/internal/models"
)

// handleSubscribe handles GET /api/v1/tenants/{tenant}/projects/{project}/subscribe,
// a Server-Sent-Events stream of logs_new notifications for the project,
// optionally narrowed by ?services=a,b and ?levels=warn,error. Per the
// registry's contract, routing is projectId-only; service/level filters
// are applied here after hydrating the referenced logs.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, tenant, project string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan models.LogsNewNotification, 16)
	connectionID := uuid.New().String()
	sub := models.Subscriber{
		ConnectionID: connectionID,
		ProjectID:    project,
		Services:     parseSet(r.URL.Query().Get("services")),
		Levels:       parseSet(r.URL.Query().Get("levels")),
		Deliver: func(n models.LogsNewNotification) {
			select {
			case events <- n:
			default:
			}
		},
	}

	s.app.Registry.Subscribe(sub)
	defer s.app.Registry.Unsubscribe(connectionID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-events:
			filtered := s.filterNotification(ctx, tenant, project, sub, n)
			if len(filtered.LogIDs) == 0 {
				continue
			}
			body, err := json.Marshal(filtered)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: logs_new\ndata: %s\n\n", body)
			flusher.Flush()
		}
	}
}

// filterNotification narrows n.LogIDs to those whose hydrated log matches
// sub's service/level filters. No filters set means every id matches.
func (s *Server) filterNotification(ctx context.Context, tenant, project string, sub models.Subscriber, n models.LogsNewNotification) models.LogsNewNotification {
	if len(sub.Services) == 0 && len(sub.Levels) == 0 {
		return n
	}
	records, err := s.app.Storage.LogStore().GetByIDs(ctx, tenant, project, n.LogIDs)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Server: failed to hydrate logs for subscriber filtering")
		return models.LogsNewNotification{}
	}
	kept := make([]string, 0, len(records))
	for _, rec := range records {
		if sub.Matches(rec.Service, rec.Level) {
			kept = append(kept, rec.ID)
		}
	}
	return models.LogsNewNotification{ProjectID: n.ProjectID, LogIDs: kept, Timestamp: n.Timestamp}
}

func parseSet(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}
