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
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

var s3Payload = []byte("airia preflight s3 round-trip payload")

// S3 validates AWS S3 access: listing, bucket reachability, object
// round-trip, and whether versioning is enabled on the bucket.
type S3 struct {
	cfg config.S3
}

func NewS3(cfg config.S3) *S3 { return &S3{cfg: cfg} }

func (s *S3) ID() string            { return "s3" }
func (s *S3) DisplayName() string   { return "AWS S3" }
func (s *S3) Configured() bool      { return s.cfg.Configured() }
func (s *S3) MissingKeys() []string { return s.cfg.MissingKeys() }

func (s *S3) Execute(ctx context.Context) probe.Result {
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
		r.Fail("connect", fmt.Sprintf("building AWS config: %v", err),
			"S3_REGION is malformed or the static credentials could not be assembled; check the S3_* values", "S3_CONFIG")
		return r.Complete()
	}
	client := s3.NewFromConfig(cfg)
	r.Pass("connect", "client created", map[string]any{"region": s.cfg.Region})

	runS3Checks(ctx, r, client, s.cfg.Bucket, true)
	return r.Complete()
}

// runS3Checks performs the shared bucket checks for both the AWS S3
// probe and the S3-compatible probe. withVersioning gates the
// versioning check, which many S3-compatible stores do not implement.
func runS3Checks(ctx context.Context, r *probe.Recorder, client *s3.Client, bucket string, withVersioning bool) {
	if out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		r.Fail("list_buckets", fmt.Sprintf("ListBuckets failed: %v", err),
			"the credentials were rejected or lack s3:ListAllMyBuckets; verify the access key and its IAM policy", "S3_LIST_BUCKETS")
	} else {
		names := make([]string, 0, len(out.Buckets))
		for _, b := range out.Buckets {
			names = append(names, aws.ToString(b.Name))
		}
		r.Pass("list_buckets", fmt.Sprintf("%d buckets visible", len(names)), map[string]any{"buckets": names})
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		r.Fail("bucket_access", fmt.Sprintf("bucket %q is not accessible: %v", bucket, err),
			fmt.Sprintf("bucket %q does not exist in this region or the credentials lack access to it", bucket), "S3_BUCKET")
		return
	}
	r.Pass("bucket_access", fmt.Sprintf("bucket %q reachable", bucket), nil)

	key := fmt.Sprintf("preflight/%d.bin", time.Now().UnixNano())
	put := func() bool {
		if _, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(s3Payload),
		}); err != nil {
			r.Fail("file_operations", fmt.Sprintf("PutObject failed: %v", err),
				"reads work but writes fail; the credentials likely lack s3:PutObject on this bucket", "S3_PUT")
			return false
		}
		return true
	}
	if put() {
		get, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		verified := false
		if err != nil {
			r.Fail("file_operations", fmt.Sprintf("GetObject failed after a successful put: %v", err),
				"the object was written but cannot be read back; check for a deny rule on s3:GetObject", "S3_GET")
		} else {
			data, readErr := io.ReadAll(get.Body)
			get.Body.Close()
			if readErr != nil || !bytes.Equal(data, s3Payload) {
				r.Fail("file_operations", "round-trip verification failed",
					"downloaded bytes differ from what was uploaded; verify no proxy rewrites S3 traffic", "S3_VERIFY")
			} else {
				verified = true
			}
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			r.Fail("file_operations", fmt.Sprintf("DeleteObject failed: %v", err),
				fmt.Sprintf("delete object %q manually; the credentials likely lack s3:DeleteObject", key), "S3_DELETE")
		} else if verified {
			r.Pass("file_operations", "put/get/delete round-trip succeeded", map[string]any{"key": key})
		}
	}

	if !withVersioning {
		return
	}
	if out, err := client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(bucket)}); err != nil {
		r.Fail("versioning_check", fmt.Sprintf("GetBucketVersioning failed: %v", err),
			"the credentials lack s3:GetBucketVersioning; add it to the IAM policy or ignore if versioning is unused", "S3_VERSIONING")
	} else {
		r.Pass("versioning_check", fmt.Sprintf("versioning status: %s", versioningStatus(string(out.Status))),
			map[string]any{"status": versioningStatus(string(out.Status))})
	}
}

func versioningStatus(s string) string {
	if s == "" {
		return "Disabled"
	}
	return s
}
