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

package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
)

func TestParseProgress(t *testing.T) {
	testCases := []struct {
		line   string
		step   string
		detail string
		ok     bool
	}{
		{"PROGRESS:init:creating output directory", "init", "creating output directory", true},
		{"PROGRESS:discover:7 pods", "discover", "7 pods", true},
		{"PROGRESS:pod:3/7:api-0 - logs", "pod:3/7", "api-0 - logs", true},
		{"PROGRESS:pod-done:3/7:api-0", "pod-done:3/7", "api-0", true},
		{"PROGRESS:archive:compressing", "archive", "compressing", true},
		{"PROGRESS:complete:diagnostics-default.tar.gz", "complete", "diagnostics-default.tar.gz", true},
		{"PROGRESS:error:api-0: exec env: forbidden", "error", "api-0: exec env: forbidden", true},
		{"some stray worker output", "", "", false},
		{"PROGRESS:", "", "", false},
	}
	for _, tc := range testCases {
		step, detail, ok := ParseProgress(tc.line)
		if step != tc.step || detail != tc.detail || ok != tc.ok {
			t.Errorf("ParseProgress(%q) = %q, %q, %t; want %q, %q, %t",
				tc.line, step, detail, ok, tc.step, tc.detail, tc.ok)
		}
	}
}

// blockingCollector returns a collector whose work waits on release,
// so tests can observe the collecting state.
func blockingCollector(t *testing.T, release chan struct{}, artifactName string, fail error) *Collector {
	t.Helper()
	dir := t.TempDir()
	c := New(config.Diagnostics{OutputDir: dir})
	c.collect = func(_ context.Context, _ string, _ *time.Time, outDir string, emit func(string)) (string, error) {
		emit("PROGRESS:init:creating output directory")
		<-release
		if fail != nil {
			return "", fail
		}
		artifact := filepath.Join(outDir, artifactName)
		if err := os.WriteFile(artifact, []byte("tar"), 0o600); err != nil {
			return "", err
		}
		emit("PROGRESS:complete:" + artifactName)
		return artifact, nil
	}
	return c
}

func waitForState(t *testing.T, c *Collector, want State) Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if job := c.Status(); job.State == want {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("collector never reached state %q (now %q)", want, c.Status().State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCollectorLifecycle(t *testing.T) {
	release := make(chan struct{})
	c := blockingCollector(t, release, "first.tar.gz", nil)

	if _, err := c.Artifact(); !errors.Is(err, ErrNoArtifact) {
		t.Errorf("Artifact before any run: err = %v, want ErrNoArtifact", err)
	}
	if err := c.Start(context.Background(), "default", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background(), "default", nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start while collecting: err = %v, want ErrBusy", err)
	}
	if got := c.Status().State; got != StateCollecting {
		t.Errorf("state = %q, want %q", got, StateCollecting)
	}

	close(release)
	job := waitForState(t, c, StateReady)
	if job.ArtifactPath == "" || job.FinishedAt == nil {
		t.Errorf("ready job missing artifact or finish time: %+v", job)
	}
	if path, err := c.Artifact(); err != nil || filepath.Base(path) != "first.tar.gz" {
		t.Errorf("Artifact() = %q, %v", path, err)
	}
}

func TestCollectorReplacesPriorArtifact(t *testing.T) {
	release := make(chan struct{})
	close(release)
	c := blockingCollector(t, release, "first.tar.gz", nil)

	if err := c.Start(context.Background(), "default", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := waitForState(t, c, StateReady).ArtifactPath

	// A new request replaces the finished job and deletes its artifact.
	c.collect = func(_ context.Context, _ string, _ *time.Time, outDir string, _ func(string)) (string, error) {
		artifact := filepath.Join(outDir, "second.tar.gz")
		return artifact, os.WriteFile(artifact, []byte("tar"), 0o600)
	}
	if err := c.Start(context.Background(), "default", nil); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	job := waitForState(t, c, StateReady)
	if filepath.Base(job.ArtifactPath) != "second.tar.gz" {
		t.Errorf("artifact = %q, want second.tar.gz", job.ArtifactPath)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Errorf("prior artifact %s not deleted: %v", first, err)
	}
}

func TestCollectorError(t *testing.T) {
	release := make(chan struct{})
	close(release)
	c := blockingCollector(t, release, "", fmt.Errorf("output directory unwritable"))

	if err := c.Start(context.Background(), "default", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := waitForState(t, c, StateError)
	if job.Error != "output directory unwritable" {
		t.Errorf("error = %q", job.Error)
	}
	if _, err := c.Artifact(); !errors.Is(err, ErrNoArtifact) {
		t.Errorf("Artifact after error: err = %v, want ErrNoArtifact", err)
	}

	// error → collecting is allowed.
	if err := c.Start(context.Background(), "default", nil); err != nil {
		t.Errorf("Start after error: %v", err)
	}
}

func TestCollectorProgressTracking(t *testing.T) {
	c := New(config.Diagnostics{OutputDir: t.TempDir()})
	for _, line := range []string{
		"PROGRESS:init:creating output directory",
		"PROGRESS:discover:3 pods",
		"PROGRESS:pod:1/3:api-0 - status",
		"PROGRESS:error:api-0: exec env: forbidden",
		"PROGRESS:pod-done:1/3:api-0",
		"PROGRESS:pod:2/3:api-1 - logs",
		"stray non-progress output",
	} {
		c.handleLine(line)
	}

	job := c.Status()
	if job.TotalPods != 3 || job.PodCount != 2 {
		t.Errorf("pods = %d/%d, want 2/3", job.PodCount, job.TotalPods)
	}
	if job.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", job.ErrorCount)
	}
	if len(job.CompletedSteps) != 1 || job.CompletedSteps[0] != "api-0" {
		t.Errorf("completed steps = %v, want [api-0]", job.CompletedSteps)
	}
	if job.CurrentStep != "pod:2/3" || job.CurrentDetail != "api-1 - logs" {
		t.Errorf("current = %q / %q", job.CurrentStep, job.CurrentDetail)
	}
}
