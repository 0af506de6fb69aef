package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-autopilot/internal/automation"
	"campaign-autopilot/internal/campaign"
	"campaign-autopilot/internal/storage/storagetest"
	"campaign-autopilot/internal/upstream"
)

type fakeUpstream struct {
	mu        sync.Mutex
	setErr    error
	setCalls  []campaign.Status
	attrErr   error
	spendRecs []campaign.SpendRecord
}

func (f *fakeUpstream) FetchSpendAndStatus(context.Context, string, campaign.Window) ([]campaign.SpendRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]campaign.SpendRecord(nil), f.spendRecs...), nil
}

func (f *fakeUpstream) FetchAttributionRevenue(context.Context, campaign.Window) (campaign.AttributionRecords, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return campaign.AttributionRecords{ByID: map[string]float64{"c2": 150}}, f.attrErr
}

func (f *fakeUpstream) FetchPlatformConversions(context.Context, string, campaign.Window) (campaign.PlatformRecords, error) {
	return campaign.PlatformRecords{}, nil
}

func (f *fakeUpstream) SetCampaignStatus(_ context.Context, _ string, status campaign.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, status)
	return f.setErr
}

func (f *fakeUpstream) ListAccounts(context.Context) ([]upstream.Account, error) {
	return []upstream.Account{{ID: "2", Name: "Zeta"}, {ID: "1", Name: "Alpha"}}, nil
}

type testAPI struct {
	srv   *httptest.Server
	up    *fakeUpstream
	store *storagetest.MemoryStore
	mgr   *automation.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	up := &fakeUpstream{spendRecs: []campaign.SpendRecord{
		{ID: "c1", Name: "Alpha", Status: campaign.StatusActive, Spend: 55},
		{ID: "c2", Name: "Beta", Status: campaign.StatusPaused, Spend: 100},
	}}
	store := storagetest.NewMemoryStore()
	mgr := automation.NewManager(context.Background(), automation.Deps{
		Source:   up,
		Accounts: up,
		Setter:   up,
		Rules:    store,
		State:    automation.NewMemoryRunState(),
	}, automation.Options{PollInterval: time.Hour, DefaultAccount: "1"})

	h := NewHandler(store, mgr, up)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(Router(h))
	t.Cleanup(func() {
		mgr.Logout("u1")
		srv.Close()
	})
	return &testAPI{srv: srv, up: up, store: store, mgr: mgr}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set(UserHeader, "u1")
	resp, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

var basicRule = map[string]any{
	"name":   "Basic Protection",
	"payout": 75,
	"chain_logic": []map[string]any{
		{"type": "conversions_and_spend", "conversions": 0, "spend_threshold": 50, "action": "kill", "description": "Kill at $50 with 0 conversions"},
		{"type": "cpa_threshold", "cpa_threshold": 60, "operator": ">", "action": "kill"},
	},
}

func TestRouter_RequiresUser(t *testing.T) {
	a := newTestAPI(t)

	resp, err := http.Get(a.srv.URL + "/v1/rules")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := http.Get(a.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestRules_CRUD(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodPost, "/v1/rules", basicRule)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["success"])
	rule := body["rule"].(map[string]any)
	id := rule["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, "2026-03-01T00:00:00Z", rule["created_at"])
	assert.Len(t, rule["chain_logic"], 2)

	code, body = a.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["rules"], 1)

	update := map[string]any{"name": "Renamed", "payout": 40, "legacy": map[string]any{
		"kill_on_no_conversion_spend": 30, "kill_on_one_conversion_spend": 45, "max_cpa_allowed": 50,
	}}
	code, body = a.do(t, http.MethodPut, "/v1/rules/"+id, update)
	require.Equal(t, http.StatusOK, code, body)
	rule = body["rule"].(map[string]any)
	assert.Equal(t, id, rule["id"])
	assert.Equal(t, "Renamed", rule["name"])
	assert.Equal(t, "2026-03-01T00:00:00Z", rule["created_at"])
	assert.Len(t, rule["chain_logic"], 3, "legacy thresholds become a chain")

	code, _ = a.do(t, http.MethodDelete, "/v1/rules/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, body = a.do(t, http.MethodGet, "/v1/rules/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "rule not found", body["error"])
}

func TestRules_CreateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"zero payout", map[string]any{"name": "x", "payout": 0, "chain_logic": basicRule["chain_logic"]}},
		{"empty chain", map[string]any{"name": "x", "payout": 10}},
		{"unknown condition type", map[string]any{"name": "x", "payout": 10, "chain_logic": []map[string]any{{"type": "roas", "action": "kill"}}}},
		{"bad action", map[string]any{"name": "x", "payout": 10, "chain_logic": []map[string]any{{"type": "conversions_exact", "conversions": 1, "action": "explode"}}}},
		{"not json", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)
			code, body := a.do(t, http.MethodPost, "/v1/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, code, body)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCampaigns_List(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodGet, "/v1/campaigns", nil)
	require.Equal(t, http.StatusOK, code, body)
	camps := body["campaigns"].([]any)
	require.Len(t, camps, 2)
	first := camps[0].(map[string]any)
	assert.Equal(t, "c1", first["id"], "active campaigns first")
	assert.Nil(t, first["cpa"], "no conversions means no CPA")
	assert.Equal(t, false, body["degraded"])

	code, body = a.do(t, http.MethodGet, "/v1/campaigns/summary?period=last_7_days", nil)
	require.Equal(t, http.StatusOK, code, body)
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["campaigns"])

	code, _ = a.do(t, http.MethodGet, "/v1/campaigns?period=forever", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCampaigns_DegradedIsReported(t *testing.T) {
	a := newTestAPI(t)
	a.up.attrErr = errors.New("tracker timeout")

	code, body := a.do(t, http.MethodGet, "/v1/campaigns?refresh=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, "tracker timeout", body["errors"].(map[string]any)["attribution"])
}

func TestCampaigns_ManualStatus(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodPost, "/v1/campaigns/c1/status", map[string]string{"status": "PAUSED"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "PAUSED", body["status"])

	code, body = a.do(t, http.MethodGet, "/v1/activities", nil)
	require.Equal(t, http.StatusOK, code)
	acts := body["activities"].([]any)
	require.Len(t, acts, 1)
	assert.Equal(t, "manual", acts[0].(map[string]any)["kind"])

	code, _ = a.do(t, http.MethodPost, "/v1/campaigns/c1/status", map[string]string{"status": "DELETED"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/v1/campaigns/c9/status", map[string]string{"status": "PAUSED"})
	assert.Equal(t, http.StatusNotFound, code)

	a.up.mu.Lock()
	a.up.setErr = errors.New("(#100) Campaign is archived")
	a.up.mu.Unlock()
	code, body = a.do(t, http.MethodPost, "/v1/campaigns/c2/status", map[string]string{"status": "ACTIVE"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "(#100) Campaign is archived", body["error"])
}

func TestAssignments(t *testing.T) {
	a := newTestAPI(t)
	a.up.mu.Lock()
	a.up.spendRecs[0].Spend = 10 // keep the loop from acting during the test
	a.up.mu.Unlock()

	_, body := a.do(t, http.MethodPost, "/v1/rules", basicRule)
	id := body["rule"].(map[string]any)["id"].(string)

	code, _ := a.do(t, http.MethodPost, "/v1/automation/start", nil)
	assert.Equal(t, http.StatusConflict, code, "nothing assigned yet")

	code, _ = a.do(t, http.MethodPost, "/v1/campaigns/c1/rules", map[string]string{"rule_id": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = a.do(t, http.MethodPost, "/v1/campaigns/c404/rules", map[string]string{"rule_id": id})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = a.do(t, http.MethodPost, "/v1/campaigns/c1/rules", map[string]string{"rule_id": id})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["automation_started"])

	code, body = a.do(t, http.MethodPost, "/v1/campaigns/c1/rules", map[string]string{"rule_id": id})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "rule already assigned to this campaign", body["error"])

	code, body = a.do(t, http.MethodGet, "/v1/campaigns/c1/rules", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["rules"], 1)

	code, body = a.do(t, http.MethodGet, "/v1/automation", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["automation"].(map[string]any)["is_running"])

	code, body = a.do(t, http.MethodPost, "/v1/automation/stop", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "automation stopped", body["message"])

	code, _ = a.do(t, http.MethodDelete, "/v1/campaigns/c1/rules/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, body = a.do(t, http.MethodGet, "/v1/campaigns/c1/rules", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["rules"])
}

func TestAccounts(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodGet, "/v1/accounts", nil)
	require.Equal(t, http.StatusOK, code)
	accts := body["accounts"].([]any)
	require.Len(t, accts, 2)
	assert.Equal(t, "Alpha", accts[0].(map[string]any)["name"])
	assert.Equal(t, "1", body["current"])

	code, _ = a.do(t, http.MethodPut, "/v1/accounts/current", map[string]string{"account_id": "2"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2", a.mgr.Session("u1").AccountID())

	code, _ = a.do(t, http.MethodPut, "/v1/accounts/current", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/v1/logout", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1", a.mgr.Session("u1").AccountID(), "a new session starts on the default account")
}
