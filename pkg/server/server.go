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

// Package server exposes the dashboard and the JSON API. Handlers are
// thin: parse, validate, delegate to the runner or collector, shape
// the response.
package server

import (
	"net"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/auth"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/diagnostics"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "preflight_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "path", "code"})
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preflight_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: []float64{.005, .025, .1, .5, 1, 5, 30, 120},
	}, []string{"method", "path"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration)
}

// Server wires the HTTP surface together.
type Server struct {
	log       *logrus.Entry
	cfg       *config.Config
	runner    *probe.Runner
	collector *diagnostics.Collector
	auth      *auth.Authenticator
	limiter   *auth.RateLimiter
}

func New(cfg *config.Config, runner *probe.Runner, collector *diagnostics.Collector, authenticator *auth.Authenticator) *Server {
	return &Server{
		log:       logrus.WithField("component", "server"),
		cfg:       cfg,
		runner:    runner,
		collector: collector,
		auth:      authenticator,
		limiter:   auth.NewRateLimiter(),
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.recover, securityHeaders, s.requestLog, s.measure)

	// Unauthenticated surface.
	router.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	router.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	router.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/",
		gziphandler.GzipHandler(http.FileServer(http.Dir(s.cfg.StaticDir)))))

	// Page routes redirect to the login form on bad credentials.
	pageAuth := s.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}))
	router.Handle("/", pageAuth(http.HandlerFunc(s.handleDashboard))).Methods(http.MethodGet)
	router.Handle("/logout", pageAuth(http.HandlerFunc(s.handleLogout))).Methods(http.MethodPost)

	// API routes answer 401 with an opaque JSON body.
	apiAuth := s.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}))
	api := router.PathPrefix("/api").Subrouter()
	api.Use(apiAuth)
	api.HandleFunc("/tests/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/tests/run-all", s.handleRunAll).Methods(http.MethodPost)
	api.HandleFunc("/tests/dns/resolve", s.handleDNSResolve).Methods(http.MethodPost)
	api.HandleFunc("/tests/ssl/check", s.handleSSLCheck).Methods(http.MethodPost)
	api.HandleFunc("/tests/{probe_id}", s.handleRunProbe).Methods(http.MethodPost)
	api.HandleFunc("/tests/{probe_id}", s.handleLatestResult).Methods(http.MethodGet)
	api.HandleFunc("/diagnostics/collect", s.handleDiagnosticsCollect).Methods(http.MethodPost)
	api.HandleFunc("/diagnostics/status", s.handleDiagnosticsStatus).Methods(http.MethodGet)
	api.HandleFunc("/diagnostics/download", s.handleDiagnosticsDownload).Methods(http.MethodGet)

	return router
}

// recover turns handler panics into a 500 without leaking details.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log.WithFields(logrus.Fields{
					"panic": v,
					"path":  r.URL.Path,
					"stack": string(debug.Stack()),
				}).Error("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; object-src 'none'; frame-ancestors 'none'")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request served")
	})
}

func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "login.html"))
}

// clientIP is the rate-limit key: the peer address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
