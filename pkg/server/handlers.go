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
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/auth"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/diagnostics"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/netcheck"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/version"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; nothing useful to do with an
	// encode error here.
	_ = json.NewEncoder(w).Encode(body)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, apiError{Error: kind, Message: message})
}

// --- auth ---

type loginOutcome int

const (
	loginOK loginOutcome = iota
	// loginRejected means bad credentials; nothing written yet.
	loginRejected
	// loginHandled means the response (429 or 422) is already written.
	loginHandled
)

func (s *Server) verifyLogin(w http.ResponseWriter, r *http.Request) (string, loginOutcome) {
	if !s.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts; try again later")
		return "", loginHandled
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "malformed form body")
		return "", loginHandled
	}
	username := r.PostFormValue("username")
	if !s.auth.Verify(username, r.PostFormValue("password")) {
		return "", loginRejected
	}
	return username, loginOK
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, outcome := s.verifyLogin(w, r)
	if outcome != loginOK {
		if outcome == loginRejected {
			http.Redirect(w, r, "/login?error=1", http.StatusSeeOther)
		}
		return
	}
	token, err := s.auth.IssueToken(username)
	if err != nil {
		s.log.WithError(err).Error("issuing token")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.auth.TokenTTL().Seconds()),
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	username, outcome := s.verifyLogin(w, r)
	if outcome != loginOK {
		if outcome == loginRejected {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		}
		return
	}
	token, err := s.auth.IssueToken(username)
	if err != nil {
		s.log.WithError(err).Error("issuing token")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(s.auth.TokenTTL().Seconds()),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// --- health and version ---

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

// --- tests ---

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

type runRequest struct {
	Timeout *float64 `json:"timeout"`
}

// probeTimeout resolves the optional per-request timeout, in seconds,
// against the configured default.
func (s *Server) probeTimeout(r *http.Request) (time.Duration, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return s.cfg.ProbeTimeout, nil
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, fmt.Errorf("malformed JSON body")
	}
	if req.Timeout == nil {
		return s.cfg.ProbeTimeout, nil
	}
	if *req.Timeout < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return time.Duration(*req.Timeout * float64(time.Second)), nil
}

func (s *Server) handleRunProbe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["probe_id"]
	timeout, err := s.probeTimeout(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	result, err := s.runner.Run(id, timeout)
	if errors.Is(err, probe.ErrUnknownProbe) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no probe with id %q", id))
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("probe", id).Error("running probe")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLatestResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["probe_id"]
	result, ok := s.runner.LastResult(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no stored result for probe %q", id))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	timeout, err := s.probeTimeout(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	results := s.runner.RunAll(timeout)

	var passed, failed, skipped int
	for _, res := range results {
		switch res.Status {
		case probe.StatusPassed:
			passed++
		case probe.StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	overall := "passed"
	if failed > 0 {
		overall = "failed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":        results,
		"passed_count":   passed,
		"failed_count":   failed,
		"skipped_count":  skipped,
		"overall_status": overall,
	})
}

// --- ad-hoc network checks ---

func (s *Server) handleDNSResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "malformed JSON body")
		return
	}
	if !netcheck.ValidHostname(req.Hostname) {
		writeError(w, http.StatusUnprocessableEntity, "validation_error",
			"hostname must be alphanumeric plus dots and hyphens, at most 253 characters")
		return
	}
	writeJSON(w, http.StatusOK, netcheck.ResolveHost(r.Context(), req.Hostname))
}

func (s *Server) handleSSLCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
		Port     *int   `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "malformed JSON body")
		return
	}
	target := req.Hostname
	if req.Port != nil {
		target = fmt.Sprintf("%s:%d", req.Hostname, *req.Port)
	}
	host, port, err := netcheck.ParseTLSTarget(target)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, netcheck.CheckTLS(r.Context(), host, port))
}

// --- diagnostics ---

func (s *Server) handleDiagnosticsCollect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace string `json:"namespace"`
		Since     string `json:"since"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "malformed JSON body")
		return
	}
	if errs := validation.IsDNS1123Subdomain(req.Namespace); len(errs) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error",
			fmt.Sprintf("invalid namespace: %s", errs[0]))
		return
	}
	var since *time.Time
	if req.Since != "" {
		d, err := time.ParseDuration(req.Since)
		if err != nil || d <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "validation_error",
				"since must be a positive duration such as 2h or 30m")
			return
		}
		t := time.Now().Add(-d)
		since = &t
	}
	// The collection outlives the triggering request.
	if err := s.collector.Start(context.WithoutCancel(r.Context()), req.Namespace, since); err != nil {
		if errors.Is(err, diagnostics.ErrBusy) {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		s.log.WithError(err).Error("starting diagnostics")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, s.collector.Status())
}

func (s *Server) handleDiagnosticsStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Status())
}

func (s *Server) handleDiagnosticsDownload(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.collector.Artifact()
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(artifact)))
	http.ServeFile(w, r, artifact)
}
