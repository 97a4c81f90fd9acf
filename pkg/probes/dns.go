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

package probes

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/netcheck"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// DNS resolves each configured hostname and reports the addresses and
// resolver behavior seen from inside the cluster.
type DNS struct {
	cfg config.DNS

	// resolve is swapped in tests.
	resolve func(ctx context.Context, hostname string) netcheck.DNSRecord
}

func NewDNS(cfg config.DNS) *DNS {
	return &DNS{cfg: cfg, resolve: netcheck.ResolveHost}
}

func (d *DNS) ID() string          { return "dns" }
func (d *DNS) DisplayName() string { return "DNS Resolution" }
func (d *DNS) Configured() bool    { return d.cfg.Configured() }
func (d *DNS) MissingKeys() []string {
	if d.Configured() {
		return nil
	}
	return []string{"DNS_TEST_HOSTNAMES"}
}

func (d *DNS) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(d)
	if !d.Configured() {
		return probe.Skipped(d, d.MissingKeys())
	}
	for _, hostname := range d.cfg.Hostnames {
		if !netcheck.ValidHostname(hostname) {
			r.Fail(hostname, fmt.Sprintf("%q is not a valid hostname", hostname),
				"fix the entry in DNS_TEST_HOSTNAMES", "DNS_INVALID")
			continue
		}
		rec := d.resolve(ctx, hostname)
		if !rec.Resolved {
			r.Fail(hostname, fmt.Sprintf("resolution failed: %s", rec.Error),
				"check the cluster's DNS (CoreDNS) and any egress firewall between the pod and its upstream resolvers", "DNS_RESOLVE")
			continue
		}
		// Detail keys mirror the ad-hoc DNSRecord JSON field names.
		r.Pass(hostname, describeRecord(rec), map[string]any{
			"ipv4_addresses": rec.IPv4Addresses,
			"ipv6_addresses": rec.IPv6Addresses,
			"cname":          rec.CNAME,
			"resolver":       rec.Resolver,
			"latency_ms":     rec.LatencyMS,
		})
	}
	return r.Complete()
}

func describeRecord(rec netcheck.DNSRecord) string {
	addrs := append(append([]string{}, rec.IPv4Addresses...), rec.IPv6Addresses...)
	msg := fmt.Sprintf("resolved to %s in %.1fms", strings.Join(addrs, ", "), rec.LatencyMS)
	if rec.CNAME != "" {
		msg += fmt.Sprintf(" (CNAME %s)", rec.CNAME)
	}
	return msg
}
