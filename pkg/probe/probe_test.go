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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecorderComplete(t *testing.T) {
	testCases := []struct {
		name            string
		record          func(r *Recorder)
		wantStatus      Status
		wantMessage     string
		wantRemediation string
	}{
		{
			name: "all passing",
			record: func(r *Recorder) {
				r.Pass("connect", "connected", nil)
				r.Pass("query", "1 row", nil)
			},
			wantStatus:  StatusPassed,
			wantMessage: "all 2 checks passed",
		},
		{
			name: "one failure surfaces its remediation",
			record: func(r *Recorder) {
				r.Pass("connect", "connected", nil)
				r.Fail("query", "permission denied", "grant SELECT to the probe user", "EPERM")
				r.Fail("cleanup", "skipped after failure", "grant DELETE to the probe user", "EPERM")
			},
			wantStatus:      StatusFailed,
			wantMessage:     "2 of 3 checks failed: query, cleanup",
			wantRemediation: "grant SELECT to the probe user",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRecorder(&fakeProbe{id: "p"})
			tc.record(r)
			res := r.Complete()
			if res.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s", res.Status, tc.wantStatus)
			}
			if res.Message != tc.wantMessage {
				t.Errorf("message = %q, want %q", res.Message, tc.wantMessage)
			}
			if res.Remediation != tc.wantRemediation {
				t.Errorf("remediation = %q, want %q", res.Remediation, tc.wantRemediation)
			}
			if res.FinishedAt.Before(res.StartedAt) {
				t.Error("finished before started")
			}
			if res.DurationSeconds < 0 {
				t.Errorf("negative duration %f", res.DurationSeconds)
			}
		})
	}
}

func TestRecorderPreservesSubTestOrder(t *testing.T) {
	r := NewRecorder(&fakeProbe{id: "p"})
	r.Pass("first", "", nil)
	r.Fail("second", "", "do the thing", "")
	r.Skip("third", "gated off")
	res := r.Complete()

	var names []string
	for _, sub := range res.SubTests {
		names = append(names, sub.Name)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, names); diff != "" {
		t.Errorf("sub-test order mismatch (-want +got):\n%s", diff)
	}
}

func TestSkippedResult(t *testing.T) {
	p := &fakeProbe{id: "pg"}
	res := Skipped(p, []string{"POSTGRESQL_HOST", "POSTGRESQL_USER"})
	if res.Status != StatusSkipped {
		t.Fatalf("status = %s", res.Status)
	}
	want := "not configured: missing POSTGRESQL_HOST, POSTGRESQL_USER"
	if res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
}

func TestRegistry(t *testing.T) {
	a := &fakeProbe{id: "a"}
	b := &fakeProbe{id: "b"}
	c := &fakeProbe{id: "c"}
	reg, err := NewRegistry(c, a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, reg.IDs()); diff != "" {
		t.Errorf("registry order mismatch (-want +got):\n%s", diff)
	}
	if _, ok := reg.Get("b"); !ok {
		t.Error("expected to find b")
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("found a probe that was never registered")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(&fakeProbe{id: "dup"}, &fakeProbe{id: "dup"}); err == nil {
		t.Error("expected duplicate id to fail registry construction")
	}
}
