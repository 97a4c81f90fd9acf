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

// Package netcheck implements the DNS and TLS primitives shared by the
// dns/ssl probes and the ad-hoc check endpoints.
package netcheck

import (
	"context"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// hostnameRegexp accepts alphanumerics, dots and hyphens only.
var hostnameRegexp = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

// ValidHostname reports whether s is an acceptable lookup target:
// alphanumerics, dots and hyphens, at most 253 characters.
func ValidHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	return hostnameRegexp.MatchString(s)
}

// DNSRecord is the result of one hostname lookup.
type DNSRecord struct {
	Hostname      string   `json:"hostname"`
	Resolved      bool     `json:"resolved"`
	IPv4Addresses []string `json:"ipv4_addresses"`
	IPv6Addresses []string `json:"ipv6_addresses"`
	CNAME         string   `json:"cname,omitempty"`
	Resolver      string   `json:"resolver,omitempty"`
	LatencyMS     float64  `json:"latency_ms"`
	Error         string   `json:"error,omitempty"`
}

// ResolveHost looks up a hostname with the system resolver and reports
// IPv4/IPv6 addresses, the CNAME target if one exists, the resolver
// consulted, and wall-clock latency. A hostname with no A records but
// working AAAA records still counts as resolved.
func ResolveHost(ctx context.Context, hostname string) DNSRecord {
	rec := DNSRecord{Hostname: hostname, Resolver: systemResolver()}

	start := time.Now()
	v4, v4err := net.DefaultResolver.LookupIP(ctx, "ip4", hostname)
	v6, v6err := net.DefaultResolver.LookupIP(ctx, "ip6", hostname)
	rec.LatencyMS = float64(time.Since(start).Microseconds()) / 1000

	for _, ip := range v4 {
		rec.IPv4Addresses = append(rec.IPv4Addresses, ip.String())
	}
	for _, ip := range v6 {
		rec.IPv6Addresses = append(rec.IPv6Addresses, ip.String())
	}
	rec.Resolved = len(rec.IPv4Addresses) > 0 || len(rec.IPv6Addresses) > 0
	if !rec.Resolved {
		if v4err != nil {
			rec.Error = v4err.Error()
		} else if v6err != nil {
			rec.Error = v6err.Error()
		}
		return rec
	}

	// CNAME is informational; failures here do not fail the lookup.
	if cname := lookupCNAME(ctx, hostname, rec.Resolver); cname != "" {
		rec.CNAME = cname
	}
	return rec
}

// systemResolver returns the first nameserver from /etc/resolv.conf.
func systemResolver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return ""
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// lookupCNAME asks the resolver directly so a missing CNAME is
// distinguishable from the A-record fallback net.LookupCNAME performs.
func lookupCNAME(ctx context.Context, hostname, resolver string) string {
	if resolver == "" {
		return ""
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), dns.TypeCNAME)
	c := new(dns.Client)
	in, _, err := c.ExchangeContext(ctx, m, resolver)
	if err != nil || in == nil {
		return ""
	}
	for _, rr := range in.Answer {
		if cname, ok := rr.(*dns.CNAME); ok {
			return strings.TrimSuffix(cname.Target, ".")
		}
	}
	return ""
}
