package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productflow/phase"
	"productflow/realtime"
	"productflow/services"
	"productflow/store"
	"productflow/utils"
)

type testServer struct {
	app *fiber.App
	hub *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	hub := realtime.NewHub(0)
	deps := Dependencies{
		Store:     st,
		Lifecycle: services.NewLifecycle(st, phase.MustDefaultCatalog(), hub, nil, "http://app.test"),
		Issuer:    utils.NewTokenIssuer("test-secret-test-secret-test-secret"),
		Hub:       hub,
		RateLimit: 1000,
	}
	app := fiber.New()
	SetupAuthRoutes(app, deps)
	SetupAPIRoutes(app, deps)
	return &testServer{app: app, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *testServer) register(t *testing.T, email string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "correct-horse", "name": email,
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["access_token"].(string)
}

func data(body map[string]interface{}) map[string]interface{} {
	d, _ := body["data"].(map[string]interface{})
	return d
}

func id(m map[string]interface{}) uint {
	v, _ := m["ID"].(float64)
	if v == 0 {
		v, _ = m["id"].(float64)
	}
	return uint(v)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, http.MethodGet, "/api/v1/teams", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/teams", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogoutRevokesTokens(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice@example.com")

	status, _ := s.do(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestFeatureLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice@example.com")
	bob := s.register(t, "bob@example.com")

	status, body := s.do(t, http.MethodPost, "/api/v1/teams", alice, map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, status, body)
	teamID := id(data(body))
	team := fmt.Sprintf("/api/v1/teams/%d", teamID)

	// bob is not yet a member
	status, body = s.do(t, http.MethodGet, team+"/workspaces", bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_A_MEMBER", body["reason"])

	status, body = s.do(t, http.MethodPost, team+"/workspaces", alice, map[string]interface{}{
		"name": "Platform", "enabled_types": []string{"feature", "bug"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	ws := fmt.Sprintf("%s/workspaces/%d", team, id(data(body)))

	status, body = s.do(t, http.MethodPost, ws+"/work-items", alice, map[string]interface{}{
		"type": "enhancement", "name": "Nope",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNKNOWN_TYPE", body["reason"])

	status, body = s.do(t, http.MethodPost, ws+"/work-items", alice, map[string]interface{}{
		"type": "feature", "name": "Dark mode", "review_enabled": true,
		"details": map[string]interface{}{"purpose": "night owls"},
	})
	require.Equal(t, http.StatusCreated, status, body)
	item := data(body)
	assert.Equal(t, "design", item["phase"])
	itemPath := fmt.Sprintf("%s/work-items/%d", ws, id(item))

	// members without assignments can read but not edit
	status, _ = s.do(t, http.MethodPost, team+"/members", alice, map[string]string{"email": "bob@example.com", "role": "member"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = s.do(t, http.MethodGet, itemPath, bob, nil)
	assert.Equal(t, http.StatusOK, status)
	status, body = s.do(t, http.MethodPost, itemPath+"/transition", bob, map[string]string{"phase": "build"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["reason"])

	for _, p := range []string{"build", "refine"} {
		status, body = s.do(t, http.MethodPost, itemPath+"/transition", alice, map[string]string{"phase": p})
		require.Equal(t, http.StatusOK, status, body)
	}

	status, body = s.do(t, http.MethodPost, itemPath+"/transition", alice, map[string]string{"phase": "launch"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "REVIEW_REQUIRED", body["reason"])

	status, body = s.do(t, http.MethodPost, itemPath+"/review/approve", alice, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "REVIEW_NOT_PENDING", body["reason"])

	status, _ = s.do(t, http.MethodPost, itemPath+"/review/request", alice, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = s.do(t, http.MethodPost, itemPath+"/review/reject", alice, map[string]string{"reason": "   "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "MISSING_REJECTION_REASON", body["reason"])

	status, _ = s.do(t, http.MethodPost, itemPath+"/review/approve", alice, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = s.do(t, http.MethodPost, itemPath+"/transition", alice, map[string]string{"phase": "launch"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, data(body)["terminal"])

	status, body = s.do(t, http.MethodPost, itemPath+"/transition", alice, map[string]string{"phase": "design"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_TERMINAL", body["reason"])

	status, body = s.do(t, http.MethodGet, itemPath+"/history", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 4)
}

func TestWorkspaceIsolationAcrossTeams(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice@example.com")
	mallory := s.register(t, "mallory@example.com")

	_, body := s.do(t, http.MethodPost, "/api/v1/teams", alice, map[string]string{"name": "Acme"})
	acme := id(data(body))
	_, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/teams/%d/workspaces", acme), alice, map[string]string{"name": "Core"})
	wsID := id(data(body))

	_, body = s.do(t, http.MethodPost, "/api/v1/teams", mallory, map[string]string{"name": "Evil"})
	evil := id(data(body))

	// mallory's own team id with alice's workspace id resolves to nothing
	status, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/teams/%d/workspaces/%d/work-items", evil, wsID), mallory, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCatalogEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice@example.com")

	status, body := s.do(t, http.MethodGet, "/api/v1/catalog", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["data"])
}

func TestEventStreamRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice@example.com")
	_, body := s.do(t, http.MethodPost, "/api/v1/teams", token, map[string]string{"name": "Acme"})
	teamID := id(data(body))
	_, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/teams/%d/workspaces", teamID), token, map[string]string{"name": "Core"})

	status, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/teams/%d/workspaces/%d/events", teamID, id(data(body))), token, nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

func TestWorkItemTypeFilter(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "alice@example.com")
	_, body := s.do(t, http.MethodPost, "/api/v1/teams", token, map[string]string{"name": "Acme"})
	teamID := id(data(body))
	_, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/teams/%d/workspaces", teamID), token, map[string]string{"name": "Core"})
	ws := fmt.Sprintf("/api/v1/teams/%d/workspaces/%d", teamID, id(data(body)))

	for _, typ := range []string{"bug", "feature"} {
		status, _ := s.do(t, http.MethodPost, ws+"/work-items", token, map[string]string{"type": typ, "name": typ})
		require.Equal(t, http.StatusCreated, status)
	}

	status, body := s.do(t, http.MethodGet, ws+"/work-items?type=%20Bug", token, nil)
	require.Equal(t, http.StatusOK, status, body)
	items := data(body)["data"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "bug", items[0].(map[string]interface{})["type"])

	status, body = s.do(t, http.MethodGet, ws+"/work-items?type=epic", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "UNKNOWN_TYPE", body["reason"])
}
