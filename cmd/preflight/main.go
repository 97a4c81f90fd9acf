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

// Command preflight serves the pre-flight validation dashboard: a
// registry of infrastructure probes, a diagnostics collector, and the
// HTTP surface that drives them.
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/auth"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/diagnostics"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/interrupts"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/logrusutil"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probes"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/server"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/version"
)

func main() {
	cfg := config.Load()
	logrusutil.Init("preflight", cfg.LogFormat)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.WithField("level", cfg.LogLevel).Warn("unknown log level, staying on info")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	registry, err := probe.NewRegistry(probes.All(cfg)...)
	if err != nil {
		logrus.WithError(err).Fatal("building probe registry")
	}
	runner := probe.NewRunner(interrupts.Context(), registry, cfg.Concurrency)
	collector := diagnostics.New(cfg.Diagnostics)
	authenticator := auth.New(cfg.Auth)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.New(cfg, runner, collector, authenticator).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithFields(logrus.Fields{
		"version": version.Version,
		"port":    cfg.Port,
		"probes":  len(registry.IDs()),
	}).Info("preflight starting")

	interrupts.ListenAndServe(srv, 30*time.Second)
	interrupts.WaitForGracefulShutdown()
	logrus.Info("preflight stopped")
}
