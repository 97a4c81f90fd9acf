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

// Package probe defines the contract every pre-flight probe implements
// and the engine that executes probes concurrently.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the terminal (or in-flight) state of a probe execution.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
	StatusRunning Status = "running"
	// StatusPending is reported by the runner for probes that have
	// never run; it never appears inside a Result.
	StatusPending Status = "pending"
)

// LogEntry is a probe-authored structured log line captured during
// execution. Secrets must never appear here.
type LogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SubResult is the outcome of one named step within a probe. Sub-tests
// appear on the wire in the order the probe declared them.
type SubResult struct {
	Name        string         `json:"name"`
	Success     bool           `json:"success"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
}

// Result is the immutable outcome of a probe execution.
type Result struct {
	ProbeID         string      `json:"probe_id"`
	DisplayName     string      `json:"display_name"`
	Status          Status      `json:"status"`
	Message         string      `json:"message"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
	DurationSeconds float64     `json:"duration_seconds"`
	SubTests        []SubResult `json:"sub_tests,omitempty"`
	Remediation     string      `json:"remediation,omitempty"`
	Logs            []LogEntry  `json:"logs,omitempty"`
}

// Interface is the contract every probe satisfies.
//
// Execute must not panic and must not return an error: every failure
// mode is expressed in the Result. Configured must be cheap and
// side-effect free; it never touches network or disk.
type Interface interface {
	ID() string
	DisplayName() string
	Configured() bool
	Execute(ctx context.Context) Result
}

// Recorder accumulates sub-tests and logs while a probe executes and
// derives the final Result. It is not safe for concurrent use; probes
// run their sub-tests sequentially.
type Recorder struct {
	result Result
}

// NewRecorder starts a Recorder for the given probe, stamping the start
// time.
func NewRecorder(p Interface) *Recorder {
	return &Recorder{result: Result{
		ProbeID:     p.ID(),
		DisplayName: p.DisplayName(),
		StartedAt:   time.Now(),
	}}
}

// Logf appends a probe-authored log entry.
func (r *Recorder) Logf(level, format string, args ...any) {
	r.result.Logs = append(r.result.Logs, LogEntry{
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	})
}

// Pass records a successful sub-test.
func (r *Recorder) Pass(name, message string, details map[string]any) {
	r.result.SubTests = append(r.result.SubTests, SubResult{
		Name:    name,
		Success: true,
		Message: message,
		Details: details,
	})
}

// Fail records a failed sub-test with remediation guidance.
func (r *Recorder) Fail(name, message, remediation, errorCode string) {
	r.result.SubTests = append(r.result.SubTests, SubResult{
		Name:        name,
		Message:     message,
		Remediation: remediation,
		ErrorCode:   errorCode,
	})
}

// Skip records a sub-test that was intentionally not run.
func (r *Recorder) Skip(name, message string) {
	r.result.SubTests = append(r.result.SubTests, SubResult{
		Name:    name,
		Success: true,
		Message: message,
		Details: map[string]any{"skipped": true},
	})
}

// Complete derives the terminal Result from the recorded sub-tests:
// passed when every sub-test succeeded, failed otherwise. The first
// failing sub-test provides the headline message and remediation.
func (r *Recorder) Complete() Result {
	res := r.result
	res.FinishedAt = time.Now()
	res.DurationSeconds = res.FinishedAt.Sub(res.StartedAt).Seconds()
	res.Status = StatusPassed
	var failed []string
	for _, sub := range res.SubTests {
		if !sub.Success {
			failed = append(failed, sub.Name)
			if res.Remediation == "" {
				res.Remediation = sub.Remediation
			}
		}
	}
	if len(failed) > 0 {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("%d of %d checks failed: %s", len(failed), len(res.SubTests), strings.Join(failed, ", "))
	} else {
		res.Message = fmt.Sprintf("all %d checks passed", len(res.SubTests))
	}
	return res
}

// Error finalizes the result as status=error: the probe itself could
// not run, as opposed to having found a real problem.
func (r *Recorder) Error(message, remediation string) Result {
	res := r.result
	res.FinishedAt = time.Now()
	res.DurationSeconds = res.FinishedAt.Sub(res.StartedAt).Seconds()
	res.Status = StatusError
	res.Message = message
	res.Remediation = remediation
	return res
}

// Skipped builds the canonical skipped result for an unconfigured probe.
func Skipped(p Interface, missingKeys []string) Result {
	now := time.Now()
	msg := "not configured"
	if len(missingKeys) > 0 {
		msg = fmt.Sprintf("not configured: missing %s", strings.Join(missingKeys, ", "))
	}
	return Result{
		ProbeID:     p.ID(),
		DisplayName: p.DisplayName(),
		Status:      StatusSkipped,
		Message:     msg,
		StartedAt:   now,
		FinishedAt:  now,
		Remediation: "configure and re-run",
	}
}
