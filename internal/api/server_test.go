package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/smalltown/internal/engine"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	k := engine.New(engine.DefaultConfig(42), nil)
	t.Cleanup(k.Close)
	for i := 0; i < 10; i++ {
		k.Tick()
	}
	return &Server{Kernel: k, Mu: &sync.Mutex{}, AdminKey: "secret"}
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 10, body["tick"])
	assert.EqualValues(t, len(s.Kernel.Agents), body["agents"])
	assert.Contains(t, body, "backpressure")
	assert.Contains(t, body, "fallback_rate")
}

func TestAgentsEndpoint(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleAgents(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []engine.AgentSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	assert.Len(t, snaps, len(s.Kernel.Agents))
}

func TestAgentDetailEndpoint(t *testing.T) {
	s := testServer(t)
	id := s.Kernel.Agents[0].ID

	rec := httptest.NewRecorder()
	s.handleAgentDetail(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "profile")
	assert.Contains(t, body, "memories")

	rec = httptest.NewRecorder()
	s.handleAgentDetail(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.handleAgentDetail(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsEndpointLimit(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleEvents(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []engine.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.LessOrEqual(t, len(events), 3)
}

func TestMapEndpoint(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	s.handleMap(rec, httptest.NewRequest(http.MethodGet, "/api/v1/map", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, s.Kernel.Grid.Width(), body["width"])
	assert.NotEmpty(t, body["locations"])
}

func TestAdminAuth(t *testing.T) {
	s := testServer(t)
	handler := s.adminOnly(s.handleSpeed)

	post := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/speed",
			strings.NewReader(`{"speed": 4}`))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("").Code)
	assert.Equal(t, http.StatusUnauthorized, post("wrong").Code)

	rec := post("secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, s.Kernel.Clock.Speed())

	// GET stays open without a token.
	getRec := httptest.NewRecorder()
	handler(getRec, httptest.NewRequest(http.MethodGet, "/api/v1/speed", nil))
	assert.Equal(t, http.StatusOK, getRec.Code)

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, post("secret").Code)
}

func TestSpeedRejectsInvalidValues(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/speed",
		strings.NewReader(`{"speed": 3}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.adminOnly(s.handleSpeed)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, s.Kernel.Clock.Speed())
}

func TestPauseAndResume(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pause", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.adminOnly(s.handlePause)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.Kernel.Clock.Paused())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/resume", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.adminOnly(s.handleResume)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.Kernel.Clock.Paused())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.Greater(t, rl.RetryAfter("10.0.0.1"), 0)

	// Other IPs keep their own budget.
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.RemoteAddr = "10.0.0.3:5555"

	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.4:5555"
	assert.Equal(t, "10.0.0.4", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
