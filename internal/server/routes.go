package server

import (
	"net/http"
	"strconv"
	"strings"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)

	mux.HandleFunc("/api/v1/tenants/", s.routeTenants)
}

// routeTenants dispatches /api/v1/tenants/{tenant}/* to the appropriate handler.
func (s *Server) routeTenants(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/tenants/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	tenant, subpath := parts[0], parts[1]

	switch {
	case subpath == "packs":
		s.handleListPacks(w, r, tenant)
	case strings.HasPrefix(subpath, "packs/"):
		s.routePacks(w, r, tenant, strings.TrimPrefix(subpath, "packs/"))
	case strings.HasPrefix(subpath, "projects/"):
		s.routeProjects(w, r, tenant, strings.TrimPrefix(subpath, "projects/"))
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// routePacks dispatches /api/v1/tenants/{tenant}/packs/{packId}/{action}.
func (s *Server) routePacks(w http.ResponseWriter, r *http.Request, tenant, subpath string) {
	parts := strings.SplitN(subpath, "/", 2)
	if len(parts) != 2 {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	packID, action := parts[0], parts[1]

	switch action {
	case "enable":
		s.handleEnablePack(w, r, tenant, packID)
	case "disable":
		s.handleDisablePack(w, r, tenant, packID)
	case "thresholds":
		s.handleUpdateThresholds(w, r, tenant, packID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// routeProjects dispatches /api/v1/tenants/{tenant}/projects/{project}/{action}.
func (s *Server) routeProjects(w http.ResponseWriter, r *http.Request, tenant, subpath string) {
	parts := strings.SplitN(subpath, "/", 2)
	if len(parts) != 2 {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	project, action := parts[0], parts[1]

	switch action {
	case "logs":
		if r.Method == http.MethodPost {
			s.handleIngest(w, r, tenant, project)
		} else {
			s.handleListLogs(w, r, tenant, project)
		}
	case "subscribe":
		s.handleSubscribe(w, r, tenant, project)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func parsePositiveInt(s string) (int, error) {
	return strconv.Atoi(s)
}
