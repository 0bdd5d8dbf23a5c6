package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"assignx/internal/config"
	"assignx/internal/db"
	"assignx/internal/domain"
	"assignx/internal/engine"
	"assignx/internal/gateway"
	"assignx/internal/lifecycle"
	"assignx/internal/migrate"
)

const jwtSecret = "test-jwt-secret"

type testServer struct {
	*httptest.Server
	engine  engine.Engine
	sandbox *gateway.Sandbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	e := engine.New(conn, config.Default())
	sandbox := gateway.NewSandbox("test-secret")
	e.Gateway = sandbox
	ctx := context.Background()
	for _, a := range []domain.Actor{
		{ID: "admin", Role: domain.RoleAdmin},
		{ID: "c1", Role: domain.RoleClient},
		{ID: "i1", Role: domain.RoleIntermediary},
	} {
		_, err := e.BootstrapActor(ctx, a)
		require.NoError(t, err)
	}
	_, err = e.RegisterWorker(ctx, domain.Worker{ID: "w1", Name: "Worker One", Available: true, MaxConcurrent: 2}, "i1")
	require.NoError(t, err)

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: jwtSecret, AllowLegacyActorHeader: true},
		Log:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{Server: srv, engine: e, sandbox: sandbox}
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

// call performs a request and decodes a successful body into out.
func (s *testServer) call(t *testing.T, method, route string, body any, headers map[string]string, want int, out any) {
	t.Helper()
	res, data := doJSON(t, s.Client(), method, s.URL+"/v0"+route, body, headers)
	require.Equalf(t, want, res.StatusCode, "%s %s: %s", method, route, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func (s *testServer) submit(t *testing.T) domain.Project {
	t.Helper()
	var p domain.Project
	s.call(t, http.MethodPost, "/projects", map[string]any{
		"intermediary_id": "i1",
		"service_type":    "report",
		"subject":         "Market analysis",
		"word_count":      3000,
		"deadline":        time.Now().Add(14 * 24 * time.Hour).UTC().Format(time.RFC3339),
	}, as("c1"), http.StatusCreated, &p)
	return p
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	p := s.submit(t)
	assert.Equal(t, "AX-00001", p.Number)
	assert.Equal(t, lifecycle.StatusSubmitted, p.Status)

	s.call(t, http.MethodPost, "/projects/"+p.Number+"/analysis", nil, as("i1"), http.StatusOK, nil)
	var q domain.Quote
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/quotes", map[string]any{"amount": 250000}, as("i1"), http.StatusCreated, &q)

	var pay domain.Payment
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/payments", nil, as("c1"), http.StatusCreated, &pay)
	require.NotEmpty(t, pay.OrderRef)

	capture := map[string]any{
		"quote_id":    q.ID,
		"payment_ref": "pay_http_1",
		"signature":   s.sandbox.SignCapture(pay.OrderRef, "pay_http_1"),
	}
	var preview domain.SettlementPreview
	// the gateway callback carries no credentials
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/payments/capture", capture, nil, http.StatusOK, &preview)
	assert.Equal(t, int64(162500), preview.WorkerPayout)
	assert.False(t, preview.AlreadyPaid)
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/payments/capture", capture, nil, http.StatusOK, &preview)
	assert.True(t, preview.AlreadyPaid)

	var a domain.Assignment
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/assignments", map[string]any{"worker_id": "w1"}, as("i1"), http.StatusCreated, &a)
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/start", nil, as("w1"), http.StatusOK, nil)
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/qc", map[string]any{"refs": []string{"draft-v1.docx"}}, as("w1"), http.StatusOK, nil)
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/qc/decision", map[string]any{"decision": "approve"}, as("i1"), http.StatusOK, nil)
	var delivered domain.Project
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/deliver", map[string]any{}, as("i1"), http.StatusOK, &delivered)
	assert.Equal(t, lifecycle.StatusDelivered, delivered.Status)

	var completion CompletionResponse
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/approve", nil, as("c1"), http.StatusOK, &completion)
	assert.Equal(t, lifecycle.StatusCompleted, completion.Project.Status)
	require.Len(t, completion.Ledger, 3)

	var summary domain.ProjectSummary
	s.call(t, http.MethodGet, "/projects/"+p.Number+"/summary", nil, as("c1"), http.StatusOK, &summary)
	assert.Equal(t, int64(0), summary.LedgerTotal)
	assert.Empty(t, summary.Allowed)

	var events []domain.Event
	s.call(t, http.MethodGet, "/projects/"+p.ID+"/events?type=project.status_changed&limit=100", nil, as("c1"), http.StatusOK, &events)
	assert.Len(t, events, 11)

	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/projects/"+p.ID+"/settle", nil, as("i1"))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "already_settled", errorCode(t, data))
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	p := s.submit(t)

	cases := []struct {
		name   string
		method string
		route  string
		body   any
		actor  string
		status int
		code   string
	}{
		{"illegal transition", http.MethodPost, "/projects/" + p.ID + "/deliver", map[string]any{}, "i1", http.StatusConflict, "illegal_transition"},
		{"forbidden role", http.MethodPost, "/projects/" + p.ID + "/quotes", map[string]any{"amount": 1000}, "c1", http.StatusForbidden, "forbidden"},
		{"not found", http.MethodGet, "/projects/AX-99999", nil, "c1", http.StatusNotFound, "not_found"},
		{"invalid amount", http.MethodPost, "/projects/" + p.ID + "/quotes", map[string]any{"amount": 0}, "i1", http.StatusUnprocessableEntity, "invalid_amount"},
		{"bad status filter", http.MethodGet, "/projects?status=nope", nil, "c1", http.StatusBadRequest, "bad_request"},
		{"no deliverables", http.MethodPost, "/projects/" + p.ID + "/qc", map[string]any{"refs": []string{" "}}, "w1", http.StatusUnprocessableEntity, "no_deliverables"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, s.Client(), tc.method, s.URL+"/v0"+tc.route, tc.body, as(tc.actor))
			require.Equal(t, tc.status, res.StatusCode, string(data))
			assert.Equal(t, tc.code, errorCode(t, data))
		})
	}

	got, err := s.engine.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusSubmitted, got.Status)
}

func TestCaptureBadSignature(t *testing.T) {
	s := newTestServer(t)
	p := s.submit(t)
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/analysis", nil, as("i1"), http.StatusOK, nil)
	var q domain.Quote
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/quotes", map[string]any{"amount": 50000}, as("i1"), http.StatusCreated, &q)
	s.call(t, http.MethodPost, "/projects/"+p.ID+"/payments", nil, as("c1"), http.StatusCreated, nil)

	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/projects/"+p.ID+"/payments/capture", map[string]any{
		"quote_id":    q.ID,
		"payment_ref": "pay_x",
		"signature":   "forged",
	}, nil)
	require.Equal(t, http.StatusPaymentRequired, res.StatusCode, string(data))
	assert.Equal(t, "payment_verification_failed", errorCode(t, data))

	got, err := s.engine.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusQuoted, got.Status)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	token, err := IssueToken(jwtSecret, "c1", domain.RoleClient, time.Hour, time.Now())
	require.NoError(t, err)
	var me MeResponse
	s.call(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, &me)
	assert.Equal(t, "c1", me.Actor.ID)
	assert.Equal(t, "jwt", me.Source)
	assert.Contains(t, me.Permissions, "project.submit")

	forged, err := IssueToken("other-secret", "admin", domain.RoleAdmin, time.Hour, time.Now())
	require.NoError(t, err)
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	expired, err := IssueToken(jwtSecret, "c1", domain.RoleClient, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	var key APIKeyResponse
	s.call(t, http.MethodPost, "/actors/i1/api-keys", map[string]any{"name": "ci"}, as("i1"), http.StatusCreated, &key)
	require.NotEmpty(t, key.Key)
	for i := 0; i < 2; i++ {
		s.call(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": key.Key}, http.StatusOK, &me)
		assert.Equal(t, "i1", me.Actor.ID)
		assert.Equal(t, "api_key", me.Source)
	}
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "axk_unknown"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWorkersAndBlacklist(t *testing.T) {
	s := newTestServer(t)
	var w domain.Worker
	s.call(t, http.MethodPost, "/workers", map[string]any{"id": "w2", "name": "Two", "max_concurrent": 1}, as("i1"), http.StatusCreated, &w)
	assert.Equal(t, 1, w.MaxConcurrent)

	s.call(t, http.MethodPost, "/workers/w2/availability", map[string]any{"available": false}, as("w2"), http.StatusOK, &w)
	assert.False(t, w.Available)

	var available []domain.Worker
	s.call(t, http.MethodGet, "/workers?available=true", nil, as("i1"), http.StatusOK, &available)
	require.Len(t, available, 1)
	assert.Equal(t, "w1", available[0].ID)

	s.call(t, http.MethodPost, "/blacklist", map[string]any{"worker_id": "w1", "reason": "late"}, as("i1"), http.StatusNoContent, nil)
	var entries []domain.BlacklistEntry
	s.call(t, http.MethodGet, "/blacklist?intermediary_id=i1", nil, as("i1"), http.StatusOK, &entries)
	require.Len(t, entries, 1)
	s.call(t, http.MethodDelete, "/blacklist/w1", nil, as("i1"), http.StatusNoContent, nil)
	s.call(t, http.MethodGet, "/blacklist?intermediary_id=i1", nil, as("i1"), http.StatusOK, &entries)
	assert.Empty(t, entries)
}

func TestOpenAPIDocument(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/projects/{project}/payments/capture")
	assert.Contains(t, paths, "/v0/projects/{project}/approve")
}

func TestAPIKeyRevokeAndStats(t *testing.T) {
	s := newTestServer(t)
	var key APIKeyResponse
	s.call(t, http.MethodPost, "/actors/c1/api-keys", map[string]any{"name": "phone"}, as("c1"), http.StatusCreated, &key)

	var keys []domain.APIKey
	s.call(t, http.MethodGet, "/actors/c1/api-keys", nil, as("c1"), http.StatusOK, &keys)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].KeyHash)
	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/actors/c1/api-keys", nil, as("i1"))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", errorCode(t, data))

	s.call(t, http.MethodDelete, "/api-keys/"+key.APIKey.ID, nil, as("c1"), http.StatusNoContent, nil)
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	res, data = doJSON(t, s.Client(), http.MethodDelete, s.URL+"/v0/api-keys/"+key.APIKey.ID, nil, as("admin"))
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))

	s.submit(t)
	var counts map[string]int
	s.call(t, http.MethodGet, "/stats", nil, as("i1"), http.StatusOK, &counts)
	assert.Equal(t, 1, counts["submitted"])
}

func TestEventsFollowAfter(t *testing.T) {
	s := newTestServer(t)
	p := s.submit(t)
	var latest []domain.Event
	s.call(t, http.MethodGet, "/projects/"+p.ID+"/events?limit=1", nil, as("c1"), http.StatusOK, &latest)
	require.Len(t, latest, 1)

	s.call(t, http.MethodPost, "/projects/"+p.ID+"/analysis", nil, as("i1"), http.StatusOK, nil)

	var after []domain.Event
	s.call(t, http.MethodGet, fmt.Sprintf("/events?project_id=%s&after=%d", p.ID, latest[0].ID), nil, as("c1"), http.StatusOK, &after)
	require.NotEmpty(t, after)
	assert.Greater(t, after[0].ID, latest[0].ID)
}
