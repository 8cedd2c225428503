package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/logsentry/internal/common"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	uptime := time.Since(s.app.StartupTime).Round(time.Second)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":        common.GetVersion(),
		"build":          common.GetBuild(),
		"commit":         common.GetGitCommit(),
		"uptime":         uptime.String(),
		"started_at":     s.app.StartupTime,
		"queue_backend":  s.app.Config.Queue.Backend,
		"listener_state": s.app.Listener.Status().State.String(),
	})
}
