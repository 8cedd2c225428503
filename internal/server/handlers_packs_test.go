package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/logsentry/internal/models"
)

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHandleListPacks_ReflectsActivationState(t *testing.T) {
	srv := newTestServer(t)
	packs := srv.app.Catalog.ListPacks()
	require.NotEmpty(t, packs)
	packID := packs[0].ID

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme/packs/"+packID+"/enable", nil)
	rec := httptest.NewRecorder()
	srv.handleEnablePack(rec, req, "acme", packID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/acme/packs", nil)
	listRec := httptest.NewRecorder()
	srv.handleListPacks(listRec, listReq, "acme")
	require.Equal(t, http.StatusOK, listRec.Code)

	var resp map[string][]packStatus
	decodeJSONBody(t, listRec, &resp)
	found := false
	for _, p := range resp["packs"] {
		if p.ID == packID {
			found = true
			require.True(t, p.Enabled)
		}
	}
	require.True(t, found)
}

func TestHandleEnablePack_UnknownPackReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme/packs/does-not-exist/enable", nil)
	rec := httptest.NewRecorder()
	srv.handleEnablePack(rec, req, "acme", "does-not-exist")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDisablePack_NotActivatedReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme/packs/unknown/disable", nil)
	rec := httptest.NewRecorder()
	srv.handleDisablePack(rec, req, "acme", "unknown")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpdateThresholds_RoundTrips(t *testing.T) {
	srv := newTestServer(t)
	packs := srv.app.Catalog.ListPacks()
	require.NotEmpty(t, packs)
	packID := packs[0].ID
	ruleID := packs[0].Rules[0].ID

	enableReq := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme/packs/"+packID+"/enable", nil)
	enableRec := httptest.NewRecorder()
	srv.handleEnablePack(enableRec, enableReq, "acme", packID)
	require.Equal(t, http.StatusOK, enableRec.Code)

	critical := models.SeverityCritical
	body := jsonBody(t, map[string]interface{}{
		"rule_overrides": map[string]models.RuleOverride{
			ruleID: {Severity: &critical},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/acme/packs/"+packID+"/thresholds", body)
	rec := httptest.NewRecorder()
	srv.handleUpdateThresholds(rec, req, "acme", packID)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var activation models.PackActivation
	decodeJSONBody(t, rec, &activation)
	require.Equal(t, critical, *activation.RuleOverrides[ruleID].Severity)
}
