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

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/netcheck"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// SSL performs a TLS handshake against each configured endpoint and
// reports certificate validity, expiry, and hostname matching.
type SSL struct {
	cfg config.SSL

	// check is swapped in tests.
	check func(ctx context.Context, host string, port int) netcheck.TLSReport
}

func NewSSL(cfg config.SSL) *SSL {
	return &SSL{cfg: cfg, check: netcheck.CheckTLS}
}

func (s *SSL) ID() string          { return "ssl" }
func (s *SSL) DisplayName() string { return "SSL Certificates" }
func (s *SSL) Configured() bool    { return s.cfg.Configured() }
func (s *SSL) MissingKeys() []string {
	if s.Configured() {
		return nil
	}
	return []string{"SSL_TEST_URLS"}
}

func (s *SSL) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(s)
	if !s.Configured() {
		return probe.Skipped(s, s.MissingKeys())
	}
	for _, target := range s.cfg.URLs {
		host, port, err := netcheck.ParseTLSTarget(target)
		if err != nil {
			r.Fail(target, fmt.Sprintf("invalid target: %v", err),
				"entries in SSL_TEST_URLS must be https URLs or host[:port]", "SSL_INVALID")
			continue
		}
		report := s.check(ctx, host, port)
		details := map[string]any{
			"tls_version":    report.TLSVersion,
			"cipher_suite":   report.CipherSuite,
			"chain_length":   len(report.Chain),
			"days_to_expiry": report.DaysToExpiry,
		}
		switch {
		case report.Error != "":
			r.Fail(target, fmt.Sprintf("handshake with %s:%d failed: %s", host, port, report.Error),
				"the endpoint is unreachable or does not speak TLS on this port", "SSL_HANDSHAKE")
		case !report.ChainVerified:
			r.Fail(target, fmt.Sprintf("certificate chain for %s:%d does not verify", host, port),
				"the server may be missing intermediate certificates or using a private CA the pod does not trust", "SSL_CHAIN")
		case !report.HostnameMatch:
			r.Fail(target, fmt.Sprintf("certificate for %s:%d does not cover hostname %s", host, port, host),
				"the served certificate's SANs do not include this hostname", "SSL_HOSTNAME")
		case report.DaysToExpiry < 0:
			r.Fail(target, fmt.Sprintf("certificate for %s:%d expired %d days ago", host, port, -report.DaysToExpiry),
				"renew the certificate", "SSL_EXPIRED")
		case report.DaysToExpiry <= 30:
			r.Fail(target, fmt.Sprintf("certificate for %s:%d expires in %d days", host, port, report.DaysToExpiry),
				"renew the certificate before it expires", "SSL_EXPIRING")
		default:
			r.Pass(target, fmt.Sprintf("%s, %s, valid for %d more days",
				report.TLSVersion, report.CipherSuite, report.DaysToExpiry), details)
		}
	}
	return r.Complete()
}
