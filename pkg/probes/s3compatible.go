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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// S3Compatible validates an S3-compatible object store (MinIO, Ceph,
// and the like) through the same checks as the AWS probe, minus the
// versioning check, using path-style addressing against the configured
// endpoint.
type S3Compatible struct {
	cfg config.S3Compatible
}

func NewS3Compatible(cfg config.S3Compatible) *S3Compatible { return &S3Compatible{cfg: cfg} }

func (s *S3Compatible) ID() string            { return "s3compatible" }
func (s *S3Compatible) DisplayName() string   { return "S3-Compatible Storage" }
func (s *S3Compatible) Configured() bool      { return s.cfg.Configured() }
func (s *S3Compatible) MissingKeys() []string { return s.cfg.MissingKeys() }

func (s *S3Compatible) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(s)
	if !s.Configured() {
		return probe.Skipped(s, s.MissingKeys())
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, "")),
	)
	if err != nil {
		r.Fail("connect", fmt.Sprintf("building client config: %v", err),
			"the static credentials could not be assembled; check the S3_COMPATIBLE_* values", "S3_CONFIG")
		return r.Complete()
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		// Most self-hosted stores do not resolve virtual-host buckets.
		o.UsePathStyle = true
	})
	r.Pass("connect", "client created", map[string]any{"endpoint": s.cfg.Endpoint})

	runS3Checks(ctx, r, client, s.cfg.Bucket, false)
	return r.Complete()
}
