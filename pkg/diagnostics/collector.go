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

// Package diagnostics collects pod-level information from a Kubernetes
// namespace into a downloadable tar.gz archive. At most one collection
// runs at a time; the worker streams progress lines that the collector
// parses into a pollable job state.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
)

// State is the collector's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateReady      State = "ready"
	StateError      State = "error"
)

var (
	// ErrBusy is returned when a collection is already running.
	ErrBusy = errors.New("a diagnostics collection is already in progress")
	// ErrNoArtifact is returned when no finished archive exists.
	ErrNoArtifact = errors.New("no diagnostics artifact is ready")
)

// Job is a snapshot of the current collection.
type Job struct {
	State          State      `json:"state"`
	Namespace      string     `json:"namespace,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CurrentStep    string     `json:"current_step,omitempty"`
	CurrentDetail  string     `json:"current_detail,omitempty"`
	CompletedSteps []string   `json:"completed_steps,omitempty"`
	PodCount       int        `json:"pod_count"`
	TotalPods      int        `json:"total_pods"`
	ErrorCount     int        `json:"error_count"`
	ArtifactPath   string     `json:"artifact_path,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// CollectFunc gathers one namespace into outDir and returns the path
// of the finished archive. It reports phase boundaries through emit
// using the PROGRESS line protocol.
type CollectFunc func(ctx context.Context, namespace string, since *time.Time, outDir string, emit func(line string)) (string, error)

// Collector owns the singleton diagnostics job.
type Collector struct {
	outputDir string
	log       *logrus.Entry
	collect   CollectFunc

	mu  sync.Mutex
	job Job
}

// New builds a collector that scrapes the cluster the pod runs in.
func New(cfg config.Diagnostics) *Collector {
	c := &Collector{
		outputDir: cfg.OutputDir,
		log:       logrus.WithField("component", "diagnostics"),
		job:       Job{State: StateIdle},
	}
	c.collect = c.collectCluster
	return c
}

// SetCollectFunc replaces the collection implementation. Tests use it
// to run the state machine without a cluster.
func (c *Collector) SetCollectFunc(f CollectFunc) { c.collect = f }

// Start begins a collection for namespace. It returns ErrBusy while a
// prior collection is still running; a finished job (ready or error)
// is replaced and its artifact deleted.
func (c *Collector) Start(ctx context.Context, namespace string, since *time.Time) error {
	c.mu.Lock()
	if c.job.State == StateCollecting {
		c.mu.Unlock()
		return ErrBusy
	}
	if prior := c.job.ArtifactPath; prior != "" {
		if err := os.Remove(prior); err != nil && !os.IsNotExist(err) {
			c.log.WithError(err).WithField("artifact", prior).Warn("could not delete prior artifact")
		}
	}
	now := time.Now()
	c.job = Job{
		State:     StateCollecting,
		Namespace: namespace,
		StartedAt: &now,
	}
	c.mu.Unlock()

	go c.run(ctx, namespace, since)
	return nil
}

func (c *Collector) run(ctx context.Context, namespace string, since *time.Time) {
	log := c.log.WithField("namespace", namespace)
	log.Info("diagnostics collection started")

	artifact, err := c.collect(ctx, namespace, since, c.outputDir, c.handleLine)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.job.FinishedAt = &now
	if err != nil {
		c.job.State = StateError
		c.job.Error = err.Error()
		log.WithError(err).Error("diagnostics collection failed")
		return
	}
	c.job.State = StateReady
	c.job.ArtifactPath = artifact
	c.job.CurrentStep = "complete"
	c.job.CurrentDetail = ""
	log.WithField("artifact", artifact).Info("diagnostics collection finished")
}

// Status returns a copy of the current job.
func (c *Collector) Status() Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	job := c.job
	job.CompletedSteps = append([]string(nil), c.job.CompletedSteps...)
	return job
}

// Artifact returns the finished archive path, or ErrNoArtifact.
func (c *Collector) Artifact() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job.State != StateReady || c.job.ArtifactPath == "" {
		return "", ErrNoArtifact
	}
	return c.job.ArtifactPath, nil
}

// handleLine folds one worker output line into the job state. Lines
// that are not progress lines are ignored.
func (c *Collector) handleLine(line string) {
	step, detail, ok := ParseProgress(line)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case step == "error":
		c.job.ErrorCount++
		return
	case step == "discover":
		if fields := strings.Fields(detail); len(fields) > 0 {
			if n, err := strconv.Atoi(fields[0]); err == nil {
				c.job.TotalPods = n
			}
		}
	case strings.HasPrefix(step, "pod-done:"):
		if i, n, ok := parsePodIndex(strings.TrimPrefix(step, "pod-done:")); ok {
			c.job.PodCount, c.job.TotalPods = i, n
		}
		c.job.CompletedSteps = append(c.job.CompletedSteps, detail)
	case strings.HasPrefix(step, "pod:"):
		if i, n, ok := parsePodIndex(strings.TrimPrefix(step, "pod:")); ok {
			c.job.PodCount, c.job.TotalPods = i, n
		}
	}
	c.job.CurrentStep = step
	c.job.CurrentDetail = detail
}

const progressPrefix = "PROGRESS:"

// ParseProgress splits a PROGRESS:<step>:<detail> line. Pod steps
// carry an index, e.g. PROGRESS:pod:3/7:api-0 - logs has the step
// pod:3/7 and the detail "api-0 - logs".
func ParseProgress(line string) (step, detail string, ok bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(line, progressPrefix)
	for _, podPrefix := range []string{"pod:", "pod-done:"} {
		if !strings.HasPrefix(rest, podPrefix) {
			continue
		}
		tail := rest[len(podPrefix):]
		if i := strings.Index(tail, ":"); i >= 0 {
			return rest[:len(podPrefix)+i], tail[i+1:], true
		}
		return rest, "", true
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		return rest[:i], rest[i+1:], true
	}
	if rest == "" {
		return "", "", false
	}
	return rest, "", true
}

// parsePodIndex parses "3/7" into (3, 7).
func parsePodIndex(s string) (i, n int, ok bool) {
	if _, err := fmt.Sscanf(s, "%d/%d", &i, &n); err != nil {
		return 0, 0, false
	}
	return i, n, true
}
