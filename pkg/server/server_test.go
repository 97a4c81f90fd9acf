/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/auth"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/diagnostics"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

type staticProbe struct {
	id         string
	configured bool
	status     probe.Status
}

func (p staticProbe) ID() string          { return p.id }
func (p staticProbe) DisplayName() string { return strings.ToUpper(p.id) }
func (p staticProbe) Configured() bool    { return p.configured }
func (p staticProbe) Execute(context.Context) probe.Result {
	return probe.Result{ProbeID: p.id, DisplayName: p.DisplayName(), Status: p.status}
}

type testServer struct {
	*Server
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	staticDir := t.TempDir()
	for _, page := range []string{"index.html", "login.html"} {
		if err := os.WriteFile(filepath.Join(staticDir, page), []byte("<html></html>"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	cfg := &config.Config{
		StaticDir:    staticDir,
		ProbeTimeout: 5 * time.Second,
		Auth: config.Auth{
			Username:     "admin",
			PasswordHash: string(hash),
			SecretKey:    "0123456789abcdef0123456789abcdef",
			TokenTTL:     time.Minute,
		},
	}
	registry, err := probe.NewRegistry(
		staticProbe{id: "alpha", configured: true, status: probe.StatusPassed},
		staticProbe{id: "beta", configured: true, status: probe.StatusFailed},
		staticProbe{id: "gamma"},
	)
	if err != nil {
		t.Fatal(err)
	}
	runner := probe.NewRunner(context.Background(), registry, 4)
	collector := diagnostics.New(config.Diagnostics{OutputDir: t.TempDir()})
	authenticator := auth.New(cfg.Auth)

	s := New(cfg, runner, collector, authenticator)
	token, err := authenticator.IssueToken("admin")
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{Server: s, handler: s.Handler(), token: token}
}

func (ts *testServer) request(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return e
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodGet, "/health/live", "", false)
	for header, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'self'; script-src 'self'; object-src 'none'; frame-ancestors 'none'",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestAuthGating(t *testing.T) {
	ts := newTestServer(t)

	// API without a token: opaque 401 JSON.
	rec := ts.request(t, http.MethodGet, "/api/tests/status", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("API status = %d, want 401", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "unauthorized" {
		t.Errorf("error kind = %q, want unauthorized", e.Error)
	}

	// Dashboard without a token: redirect to the login page.
	rec = ts.request(t, http.MethodGet, "/", "", false)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Errorf("dashboard = %d → %q, want 303 → /login", rec.Code, rec.Header().Get("Location"))
	}

	// With a token, both work.
	if rec := ts.request(t, http.MethodGet, "/api/tests/status", "", true); rec.Code != http.StatusOK {
		t.Errorf("authed API status = %d, want 200", rec.Code)
	}
	if rec := ts.request(t, http.MethodGet, "/", "", true); rec.Code != http.StatusOK {
		t.Errorf("authed dashboard = %d, want 200", rec.Code)
	}
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLoginSetsCookie(t *testing.T) {
	ts := newTestServer(t)
	rec := postForm(t, ts.handler, "/login", url.Values{"username": {"admin"}, "password": {"hunter2"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("login = %d → %q, want 303 → /", rec.Code, rec.Header().Get("Location"))
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.CookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %v, want one HttpOnly %s cookie", cookies, auth.CookieName)
	}

	// The cookie authenticates subsequent requests.
	req := httptest.NewRequest(http.MethodGet, "/api/tests/status", nil)
	req.AddCookie(cookies[0])
	authed := httptest.NewRecorder()
	ts.handler.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Errorf("cookie-authed status = %d, want 200", authed.Code)
	}
}

func TestLoginRejectedRedirects(t *testing.T) {
	ts := newTestServer(t)
	rec := postForm(t, ts.handler, "/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login?error=1" {
		t.Errorf("bad login = %d → %q, want 303 → /login?error=1", rec.Code, rec.Header().Get("Location"))
	}
}

func TestTokenEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := postForm(t, ts.handler, "/token", url.Values{"username": {"admin"}, "password": {"hunter2"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("token = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.AccessToken == "" || body.TokenType != "bearer" || body.ExpiresIn != 60 {
		t.Errorf("token body = %+v", body)
	}

	rec = postForm(t, ts.handler, "/token", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token login = %d, want 401", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	ts := newTestServer(t)
	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	var last *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		last = postForm(t, ts.handler, "/token", form)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("11th attempt = %d, want 429", last.Code)
	}
	if e := decodeError(t, last); e.Error != "rate_limited" {
		t.Errorf("error kind = %q, want rate_limited", e.Error)
	}
}

func TestRunProbe(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/tests/alpha", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("run alpha = %d: %s", rec.Code, rec.Body.String())
	}
	var result probe.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.ProbeID != "alpha" || result.Status != probe.StatusPassed {
		t.Errorf("result = %s/%s, want alpha/passed", result.ProbeID, result.Status)
	}

	rec = ts.request(t, http.MethodPost, "/api/tests/nope", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown probe = %d, want 404", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/tests/alpha", `{"timeout": -1}`, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative timeout = %d, want 422", rec.Code)
	}
}

func TestLatestResult(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/tests/alpha", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("latest before any run = %d, want 404", rec.Code)
	}

	ts.request(t, http.MethodPost, "/api/tests/alpha", "", true)
	rec = ts.request(t, http.MethodGet, "/api/tests/alpha", "", true)
	if rec.Code != http.StatusOK {
		t.Errorf("latest after run = %d, want 200", rec.Code)
	}
}

func TestRunAll(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodPost, "/api/tests/run-all", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("run-all = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Results       map[string]probe.Result `json:"results"`
		PassedCount   int                     `json:"passed_count"`
		FailedCount   int                     `json:"failed_count"`
		SkippedCount  int                     `json:"skipped_count"`
		OverallStatus string                  `json:"overall_status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 3 || body.PassedCount != 1 || body.FailedCount != 1 || body.SkippedCount != 1 {
		t.Errorf("counts = %d results, %d/%d/%d", len(body.Results), body.PassedCount, body.FailedCount, body.SkippedCount)
	}
	if body.OverallStatus != "failed" {
		t.Errorf("overall = %q, want failed", body.OverallStatus)
	}
}

func TestDNSResolveValidation(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []string{`{"hostname": "not a hostname"}`, `{"hostname": ""}`, `nonsense`} {
		rec := ts.request(t, http.MethodPost, "/api/tests/dns/resolve", body, true)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("body %q = %d, want 422", body, rec.Code)
		}
	}
}

func TestSSLCheckValidation(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []string{`{"hostname": "http://insecure.example.com"}`, `{"hostname": ""}`, `{"hostname": "x.example.com", "port": 70000}`} {
		rec := ts.request(t, http.MethodPost, "/api/tests/ssl/check", body, true)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("body %q = %d, want 422", body, rec.Code)
		}
	}
}

func TestDiagnosticsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/diagnostics/download", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("download with no artifact = %d, want 404", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/api/diagnostics/collect", `{"namespace": "Not_Valid!"}`, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad namespace = %d, want 422", rec.Code)
	}
	rec = ts.request(t, http.MethodPost, "/api/diagnostics/collect", `{"namespace": "default", "since": "soon"}`, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad since = %d, want 422", rec.Code)
	}

	rec = ts.request(t, http.MethodGet, "/api/diagnostics/status", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var job diagnostics.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.State != diagnostics.StateIdle {
		t.Errorf("state = %q, want idle", job.State)
	}
}

func TestDiagnosticsConflict(t *testing.T) {
	ts := newTestServer(t)
	// Stub the collector's work so the job stays in collecting until
	// released.
	release := make(chan struct{})
	ts.collector.SetCollectFunc(func(context.Context, string, *time.Time, string, func(string)) (string, error) {
		<-release
		return "", errors.New("stopped")
	})
	defer close(release)

	rec := ts.request(t, http.MethodPost, "/api/diagnostics/collect", `{"namespace": "default"}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("collect = %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.request(t, http.MethodPost, "/api/diagnostics/collect", `{"namespace": "default"}`, true)
	if rec.Code != http.StatusConflict {
		t.Errorf("second collect = %d, want 409", rec.Code)
	}
}

func TestVersionAndHealth(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/health/live", "/health/ready", "/version"} {
		if rec := ts.request(t, http.MethodGet, path, "", false); rec.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, rec.Code)
		}
	}
}
