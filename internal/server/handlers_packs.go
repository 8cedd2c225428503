package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/logsentry/internal/models"
)

type packStatus struct {
	models.DetectionPack
	Enabled       bool                          `json:"enabled"`
	RuleOverrides map[string]models.RuleOverride `json:"rule_overrides,omitempty"`
}

// handleListPacks handles GET /api/v1/tenants/{tenant}/packs.
func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request, tenant string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	activations, err := s.app.Storage.ActivationStore().ListForTenant(r.Context(), tenant)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list pack activations")
		return
	}
	byID := make(map[string]models.PackActivation, len(activations))
	for _, a := range activations {
		byID[a.PackID] = a
	}

	packs := s.app.Catalog.ListPacks()
	out := make([]packStatus, len(packs))
	for i, pack := range packs {
		a := byID[pack.ID]
		out[i] = packStatus{DetectionPack: pack, Enabled: a.Enabled, RuleOverrides: a.RuleOverrides}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"packs": out})
}

type enablePackRequest struct {
	RuleOverrides map[string]models.RuleOverride `json:"rule_overrides,omitempty"`
}

// handleEnablePack handles POST /api/v1/tenants/{tenant}/packs/{packId}/enable.
func (s *Server) handleEnablePack(w http.ResponseWriter, r *http.Request, tenant, packID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if s.app.Catalog.GetPackByID(packID) == nil {
		WriteError(w, http.StatusNotFound, "unknown pack id")
		return
	}

	var req enablePackRequest
	if r.ContentLength != 0 {
		if !DecodeJSON(w, r, &req) {
			return
		}
	}

	activation := &models.PackActivation{
		Tenant:        tenant,
		PackID:        packID,
		Enabled:       true,
		RuleOverrides: req.RuleOverrides,
		ActivatedAt:   time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := s.app.Storage.ActivationStore().Upsert(r.Context(), activation); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to enable pack")
		return
	}
	WriteJSON(w, http.StatusOK, activation)
}

// handleDisablePack handles POST /api/v1/tenants/{tenant}/packs/{packId}/disable.
func (s *Server) handleDisablePack(w http.ResponseWriter, r *http.Request, tenant, packID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	existing, err := s.app.Storage.ActivationStore().Get(r.Context(), tenant, packID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load pack activation")
		return
	}
	if existing == nil {
		WriteError(w, http.StatusNotFound, "pack not activated")
		return
	}
	existing.Enabled = false
	existing.UpdatedAt = time.Now()
	if err := s.app.Storage.ActivationStore().Upsert(r.Context(), existing); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to disable pack")
		return
	}
	WriteJSON(w, http.StatusOK, existing)
}

type updateThresholdsRequest struct {
	RuleOverrides map[string]models.RuleOverride `json:"rule_overrides"`
}

// handleUpdateThresholds handles POST /api/v1/tenants/{tenant}/packs/{packId}/thresholds.
func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request, tenant, packID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req updateThresholdsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	existing, err := s.app.Storage.ActivationStore().Get(r.Context(), tenant, packID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load pack activation")
		return
	}
	if existing == nil {
		WriteError(w, http.StatusNotFound, "pack not activated")
		return
	}
	existing.RuleOverrides = req.RuleOverrides
	existing.UpdatedAt = time.Now()
	if err := s.app.Storage.ActivationStore().Upsert(r.Context(), existing); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to update thresholds")
		return
	}
	WriteJSON(w, http.StatusOK, existing)
}
