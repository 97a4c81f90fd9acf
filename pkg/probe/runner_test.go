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

package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProbe is a scriptable probe for runner tests.
type fakeProbe struct {
	id         string
	configured bool
	delay      time.Duration
	status     Status
	ignoreCtx  bool
	executions int32
	missing    []string
}

func (f *fakeProbe) ID() string          { return f.id }
func (f *fakeProbe) DisplayName() string { return "Fake " + f.id }
func (f *fakeProbe) Configured() bool    { return f.configured }
func (f *fakeProbe) MissingKeys() []string {
	return f.missing
}

func (f *fakeProbe) Execute(ctx context.Context) Result {
	atomic.AddInt32(&f.executions, 1)
	r := NewRecorder(f)
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return r.Error("cancelled", "raise the timeout")
			}
		}
	}
	if f.status == StatusFailed {
		r.Fail("check", "simulated failure", "fix the simulated dependency", "SIMULATED")
	} else {
		r.Pass("check", "ok", nil)
	}
	return r.Complete()
}

func newTestRunner(t *testing.T, concurrency int, probes ...Interface) *Runner {
	t.Helper()
	reg, err := NewRegistry(probes...)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return NewRunner(context.Background(), reg, concurrency)
}

func TestRunSingleFlight(t *testing.T) {
	p := &fakeProbe{id: "slow", configured: true, delay: 200 * time.Millisecond}
	r := newTestRunner(t, 4, p)

	const callers = 8
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Run("slow", 5*time.Second)
			if err != nil {
				t.Errorf("caller %d: unexpected error: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&p.executions); got != 1 {
		t.Errorf("expected exactly one execution, got %d", got)
	}
	for i, res := range results {
		if res.Status != StatusPassed {
			t.Errorf("caller %d: expected passed, got %s", i, res.Status)
		}
		if !res.StartedAt.Equal(results[0].StartedAt) {
			t.Errorf("caller %d observed a different execution", i)
		}
	}
}

func TestRunSequentialRunsAreIndependent(t *testing.T) {
	p := &fakeProbe{id: "p", configured: true}
	r := newTestRunner(t, 1, p)

	first, err := r.Run("p", time.Second)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := r.Run("p", time.Second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := atomic.LoadInt32(&p.executions); got != 2 {
		t.Errorf("expected two executions, got %d", got)
	}
	if second.StartedAt.Before(first.FinishedAt) {
		t.Error("second run overlapped the first")
	}
}

func TestRunUnknownProbe(t *testing.T) {
	r := newTestRunner(t, 1, &fakeProbe{id: "known", configured: true})
	if _, err := r.Run("unknown", time.Second); !errors.Is(err, ErrUnknownProbe) {
		t.Errorf("expected ErrUnknownProbe, got %v", err)
	}
}

func TestRunUnconfiguredSkips(t *testing.T) {
	p := &fakeProbe{id: "db", missing: []string{"DB_HOST", "DB_PASSWORD"}}
	r := newTestRunner(t, 1, p)

	res, err := r.Run("db", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", res.Status)
	}
	if atomic.LoadInt32(&p.executions) != 0 {
		t.Error("unconfigured probe must not execute")
	}
	want := "not configured: missing DB_HOST, DB_PASSWORD"
	if res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
	if res.Remediation != "configure and re-run" {
		t.Errorf("remediation = %q", res.Remediation)
	}
}

func TestRunTimeout(t *testing.T) {
	p := &fakeProbe{id: "hang", configured: true, delay: 500 * time.Millisecond, ignoreCtx: true}
	r := newTestRunner(t, 1, p)

	start := time.Now()
	res, err := r.Run("hang", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s, expected prompt return", elapsed)
	}
	if res.Status != StatusTimeout {
		t.Errorf("expected timeout, got %s", res.Status)
	}

	// The orphaned execution must not overwrite the timeout record.
	time.Sleep(700 * time.Millisecond)
	latest, ok := r.LastResult("hang")
	if !ok {
		t.Fatal("expected a latest result")
	}
	if latest.Status != StatusTimeout {
		t.Errorf("orphaned result overwrote the timeout record: %s", latest.Status)
	}
}

func TestRunZeroTimeout(t *testing.T) {
	p := &fakeProbe{id: "p", configured: true}
	r := newTestRunner(t, 1, p)
	res, err := r.Run("p", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusTimeout {
		t.Errorf("expected immediate timeout, got %s", res.Status)
	}
	if atomic.LoadInt32(&p.executions) != 0 {
		t.Error("probe must not execute under a zero deadline")
	}
}

func TestRunAllMixedOutcomes(t *testing.T) {
	pass := &fakeProbe{id: "pass", configured: true}
	fail := &fakeProbe{id: "fail", configured: true, status: StatusFailed}
	skip := &fakeProbe{id: "skip", missing: []string{"SKIP_KEY"}}
	r := newTestRunner(t, 2, pass, fail, skip)

	results := r.RunAll(time.Second)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results["pass"].Status != StatusPassed {
		t.Errorf("pass: got %s", results["pass"].Status)
	}
	if results["fail"].Status != StatusFailed {
		t.Errorf("fail: got %s", results["fail"].Status)
	}
	if results["fail"].Remediation == "" {
		t.Error("failed result must carry remediation")
	}
	if results["skip"].Status != StatusSkipped {
		t.Errorf("skip: got %s", results["skip"].Status)
	}

	// After RunAll, latest must match the returned map.
	for id, want := range results {
		got, ok := r.LastResult(id)
		if !ok {
			t.Errorf("%s: no latest result", id)
			continue
		}
		if got.Status != want.Status {
			t.Errorf("%s: latest %s != returned %s", id, got.Status, want.Status)
		}
	}
}

func TestRunAllSingleFlight(t *testing.T) {
	p := &fakeProbe{id: "slow", configured: true, delay: 200 * time.Millisecond}
	r := newTestRunner(t, 2, p)

	var wg sync.WaitGroup
	maps := make([]map[string]Result, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			maps[i] = r.RunAll(5 * time.Second)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&p.executions); got != 1 {
		t.Errorf("expected one execution across concurrent RunAll calls, got %d", got)
	}
	for i := 1; i < 4; i++ {
		if maps[i]["slow"].StartedAt != maps[0]["slow"].StartedAt {
			t.Errorf("caller %d received a different sweep", i)
		}
	}
}

func TestRunAllPreservesPriorLatestForUnconfigured(t *testing.T) {
	p := &fakeProbe{id: "flaky", configured: true}
	r := newTestRunner(t, 1, p)
	if _, err := r.Run("flaky", time.Second); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	// The probe loses its configuration; RunAll must not clobber the
	// terminal result it produced earlier.
	p.configured = false
	p.missing = []string{"FLAKY_KEY"}
	r.RunAll(time.Second)

	latest, _ := r.LastResult("flaky")
	if latest.Status != StatusPassed {
		t.Errorf("prior terminal result was clobbered: %s", latest.Status)
	}
}

func TestStatus(t *testing.T) {
	ran := &fakeProbe{id: "ran", configured: true}
	never := &fakeProbe{id: "never", configured: true}
	running := &fakeProbe{id: "running", configured: true, delay: time.Second}
	r := newTestRunner(t, 4, ran, never, running)

	if _, err := r.Run("ran", time.Second); err != nil {
		t.Fatalf("run: %v", err)
	}
	go r.Run("running", 5*time.Second)
	// Give the in-flight run a moment to register.
	time.Sleep(50 * time.Millisecond)

	snap := r.Status()
	if snap["ran"].Status != StatusPassed {
		t.Errorf("ran: %s", snap["ran"].Status)
	}
	if snap["never"].Status != StatusPending {
		t.Errorf("never: %s", snap["never"].Status)
	}
	if snap["running"].Status != StatusRunning {
		t.Errorf("running: %s", snap["running"].Status)
	}
	if snap["running"].StartedAt == nil {
		t.Error("running probe should report its start time")
	}
}

func TestExecutePanicBecomesErrorResult(t *testing.T) {
	p := &panicProbe{}
	reg, err := NewRegistry(p)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	r := NewRunner(context.Background(), reg, 1)
	res, err := r.Run("panic", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusError {
		t.Errorf("expected error status, got %s", res.Status)
	}
	if res.Remediation == "" {
		t.Error("error result must carry remediation")
	}
}

type panicProbe struct{}

func (p *panicProbe) ID() string          { return "panic" }
func (p *panicProbe) DisplayName() string { return "Panic" }
func (p *panicProbe) Configured() bool    { return true }
func (p *panicProbe) Execute(ctx context.Context) Result {
	panic("boom")
}
