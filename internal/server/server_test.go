package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"claimline/internal/config"
	"claimline/internal/db"
	"claimline/internal/engine"
	"claimline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("claimline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	// fallback-only generation keeps tests off the network
	e.Generator = nil
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

var asActor = map[string]string{"X-Actor-Id": "adjuster-1"}

type claimEnvelope struct {
	Claim       ClaimResponse        `json:"claim"`
	Suggestions []SuggestionResponse `json:"suggestions"`
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func createTestClaim(t *testing.T, srv *testServer, amount float64) claimEnvelope {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/claims", map[string]any{
		"policy_number":     "POL-9000",
		"policyholder_name": "Dana Smith",
		"date_of_loss":      "2023-12-15T00:00:00Z",
		"total_amount":      amount,
	}, asActor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create claim status %d: %s", res.StatusCode, string(data))
	}
	var env claimEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal claim envelope: %v", err)
	}
	return env
}

func TestCreateClaimReturnsSuggestions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	env := createTestClaim(t, srv, 15000)
	if env.Claim.Status != "submitted" {
		t.Fatalf("expected submitted, got %s", env.Claim.Status)
	}
	if len(env.Suggestions) != 2 {
		t.Fatalf("expected adjust_amount and approve_claim for a high-value claim, got %d", len(env.Suggestions))
	}
	for _, s := range env.Suggestions {
		if s.Status != "pending" {
			t.Fatalf("new suggestions must be pending, got %s", s.Status)
		}
		if s.ModelVersion != "fallback-v1" {
			t.Fatalf("expected fallback provenance, got %s", s.ModelVersion)
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/claims/"+env.Claim.ID, nil, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get claim status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/claims", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestReviewFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	env := createTestClaim(t, srv, 500)
	target := env.Suggestions[0]

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/suggestions/"+target.ID+"/review", map[string]any{
		"status":         "accepted",
		"reviewer_notes": "checked against the policy",
	}, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}
	var reviewed SuggestionResponse
	if err := json.Unmarshal(data, &reviewed); err != nil {
		t.Fatalf("unmarshal reviewed: %v", err)
	}
	if reviewed.Status != "accepted" || reviewed.ReviewerID == nil || *reviewed.ReviewerID != "adjuster-1" {
		t.Fatalf("unexpected reviewed suggestion: %s", string(data))
	}
	if reviewed.ReviewedAt == nil {
		t.Fatalf("reviewed_at missing: %s", string(data))
	}

	// second decision conflicts
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/suggestions/"+target.ID+"/review", map[string]any{
		"status": "rejected",
	}, asActor)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second review, got %d: %s", res.StatusCode, string(data))
	}
	var envErr errorEnvelope
	if err := json.Unmarshal(data, &envErr); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envErr.Error.Code != "already_reviewed" {
		t.Fatalf("expected already_reviewed code, got %s", envErr.Error.Code)
	}
}

func TestReviewUnknownSuggestion(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/suggestions/no-such-id/review", map[string]any{
		"status": "accepted",
	}, asActor)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCreateSuggestionConfidenceRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	env := createTestClaim(t, srv, 500)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/suggestions", map[string]any{
		"claim_id":         env.Claim.ID,
		"type":             "approve_claim",
		"description":      "manual suggestion",
		"confidence_score": 1.5,
	}, asActor)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envErr errorEnvelope
	_ = json.Unmarshal(data, &envErr)
	if envErr.Error.Code != "validation_failed" || envErr.Error.Details["field"] != "confidence_score" {
		t.Fatalf("unexpected error envelope: %s", string(data))
	}
}

func TestRegenerateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	env := createTestClaim(t, srv, 500)
	accepted := env.Suggestions[0]
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/suggestions/"+accepted.ID+"/review", map[string]any{
		"status": "accepted",
	}, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/claims/"+env.Claim.ID+"/suggestions/regenerate", nil, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("regenerate status %d: %s", res.StatusCode, string(data))
	}
	var fresh []SuggestionResponse
	if err := json.Unmarshal(data, &fresh); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if len(fresh) == 0 {
		t.Fatalf("expected a fresh batch")
	}

	// the accepted suggestion is gone
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/suggestions/"+accepted.ID, nil, asActor)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for regenerated-away suggestion, got %d", res.StatusCode)
	}

	// only the fresh batch remains on the claim
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/claims/"+env.Claim.ID+"/suggestions", nil, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed []SuggestionResponse
	_ = json.Unmarshal(data, &listed)
	if len(listed) != len(fresh) {
		t.Fatalf("expected %d suggestions, got %d", len(fresh), len(listed))
	}
}

func TestSuggestionMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	env := createTestClaim(t, srv, 500)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/suggestions/"+env.Suggestions[0].ID+"/review", map[string]any{
		"status": "accepted",
	}, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/suggestions/metrics", nil, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d: %s", res.StatusCode, string(data))
	}
	var m SuggestionMetricsResponse
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal metrics: %v", err)
	}
	if m.TotalSuggestions != 1 || m.AcceptanceRate != 1 || m.PendingCount != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if m.SuggestionsByType["approve_claim"] != 1 {
		t.Fatalf("unexpected type counts: %+v", m.SuggestionsByType)
	}
}

func TestVideoAnalysisEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	env := createTestClaim(t, srv, 500)

	// constraint violation is rejected before any attach
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/claims/"+env.Claim.ID+"/video-analysis", map[string]any{
		"content_type":     "video/webm",
		"size_bytes":       1024,
		"duration_seconds": 30,
		"analysis":         map[string]any{"damage_assessment": "minor"},
	}, asActor)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad format, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/claims/"+env.Claim.ID+"/video-analysis", map[string]any{
		"content_type":     "video/mp4",
		"size_bytes":       1024,
		"duration_seconds": 30,
		"analysis":         map[string]any{"damage_assessment": "minor water damage"},
	}, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attach status %d: %s", res.StatusCode, string(data))
	}
	var out claimEnvelope
	_ = json.Unmarshal(data, &out)
	if !out.Claim.HasVideo || out.Claim.VideoAnalysis["damage_assessment"] != "minor water damage" {
		t.Fatalf("unexpected claim after attach: %s", string(data))
	}
	if len(out.Suggestions) == 0 {
		t.Fatalf("expected regenerated batch after attach")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/claims/with-video-analysis", nil, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("with-video status %d: %s", res.StatusCode, string(data))
	}
	var withVideo []ClaimResponse
	_ = json.Unmarshal(data, &withVideo)
	if len(withVideo) != 1 || withVideo[0].ID != env.Claim.ID {
		t.Fatalf("unexpected with-video list: %s", string(data))
	}
}

func TestAPIKeyAuthFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{
		"actor_id": "service-1",
	}, asActor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created APIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("raw key should be returned on creation")
	}

	// the key authenticates requests
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/claims", nil, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(data))
	}

	// listing never exposes raw keys
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/apikeys", nil, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys status %d: %s", res.StatusCode, string(data))
	}
	var keys []APIKeyResponse
	_ = json.Unmarshal(data, &keys)
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("unexpected key list: %s", string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v1/apikeys/"+created.ID, nil, asActor)
	if res.StatusCode >= 300 {
		t.Fatalf("delete key status %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/claims", nil, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deleted key should no longer authenticate, got %d", res.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	workspace := t.TempDir()
	cfg := config.Default("claimline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Generator = nil
	handler, err := New(Config{Engine: e, Auth: AuthConfig{JWTSecret: "topsecret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer func() {
		srv.Shutdown(context.Background())
		ln.Close()
	}()
	base := "http://" + ln.Addr().String()
	client := &http.Client{}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "adjuster-7"}).SignedString([]byte("topsecret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, base+"/v1/claims", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt auth status %d: %s", res.StatusCode, string(data))
	}

	bad, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("wrong"))
	res, _ = doJSON(t, client, http.MethodGet, base+"/v1/claims", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", res.StatusCode)
	}

	// legacy header is off unless enabled
	res, _ = doJSON(t, client, http.MethodGet, base+"/v1/claims", nil, map[string]string{"X-Actor-Id": "someone"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("legacy header should be rejected when disabled, got %d", res.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createTestClaim(t, srv, 500)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events", nil, asActor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts []EventResponse
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts) < 2 {
		t.Fatalf("expected claim.created and suggestions.generated, got %d", len(evts))
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	if !types["claim.created"] || !types["suggestions.generated"] {
		t.Fatalf("missing lifecycle events: %s", string(data))
	}
}
