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

package netcheck

import (
	"strings"
	"testing"
)

func TestValidHostname(t *testing.T) {
	testCases := []struct {
		hostname string
		want     bool
	}{
		{"example.com", true},
		{"a.b", true},
		{"sub-domain.example.com", true},
		{"EXAMPLE.COM", true},
		{"10.0.0.1", true},
		{"", false},
		{"x!.com", false},
		{"host name.com", false},
		{"host_name.com", false},
		{strings.Repeat("a", 254), false},
		{strings.Repeat("a", 253), true},
	}
	for _, tc := range testCases {
		if got := ValidHostname(tc.hostname); got != tc.want {
			t.Errorf("ValidHostname(%q) = %t, want %t", tc.hostname, got, tc.want)
		}
	}
}

func TestParseTLSTarget(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "https URL default port", raw: "https://example.com", wantHost: "example.com", wantPort: 443},
		{name: "https URL explicit port", raw: "https://example.com:8443", wantHost: "example.com", wantPort: 8443},
		{name: "https URL with path", raw: "https://example.com/healthz", wantHost: "example.com", wantPort: 443},
		{name: "bare host", raw: "example.com", wantHost: "example.com", wantPort: 443},
		{name: "host with port", raw: "example.com:9443", wantHost: "example.com", wantPort: 9443},
		{name: "http scheme rejected", raw: "http://example.com", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "port zero", raw: "example.com:0", wantErr: true},
		{name: "port too large", raw: "example.com:65536", wantErr: true},
		{name: "bad hostname", raw: "https://exa!mple.com", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			host, port, err := ParseTLSTarget(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s:%d", host, port)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tc.wantHost || port != tc.wantPort {
				t.Errorf("got %s:%d, want %s:%d", host, port, tc.wantHost, tc.wantPort)
			}
		})
	}
}
