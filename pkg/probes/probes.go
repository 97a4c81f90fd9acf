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

// Package probes contains the concrete pre-flight probes. Each probe
// validates one external dependency and reports a structured result;
// probe construction never fails, and a probe whose configuration is
// incomplete reports itself as not configured instead of disappearing
// from the dashboard.
package probes

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// Standardized AI inputs. User-supplied prompts are never accepted.
const (
	chatPrompt    = "What is 2+2? Reply with just the number."
	embeddingText = "The quick brown fox jumps over the lazy dog."
	visionPrompt  = "Describe what you see in this image in one sentence."

	// testImagePath is the bundled vision test image, relative to the
	// static asset directory.
	testImagePath = "test-assets/test-image.png"
)

// testImage loads and caches the bundled vision test image.
type testImage struct {
	path string

	once   sync.Once
	raw    []byte
	b64    string
	loaded error
}

func newTestImage(staticDir string) *testImage {
	return &testImage{path: filepath.Join(staticDir, testImagePath)}
}

// Bytes returns the raw PNG, reading it from disk on first use.
func (t *testImage) Bytes() ([]byte, error) {
	t.once.Do(func() {
		t.raw, t.loaded = os.ReadFile(t.path)
		if t.loaded == nil {
			t.b64 = base64.StdEncoding.EncodeToString(t.raw)
		}
	})
	return t.raw, t.loaded
}

// Base64 returns the cached base64 form of the PNG.
func (t *testImage) Base64() (string, error) {
	if _, err := t.Bytes(); err != nil {
		return "", err
	}
	return t.b64, nil
}

// All constructs the full probe set in dashboard display order.
func All(cfg *config.Config) []probe.Interface {
	img := newTestImage(cfg.StaticDir)
	return []probe.Interface{
		NewPostgres(cfg.Postgres),
		NewCassandra(cfg.Cassandra),
		NewBlobStorage(cfg.BlobStorage),
		NewS3(cfg.S3),
		NewS3Compatible(cfg.S3Compatible),
		NewAzureOpenAI(cfg.AzureOpenAI, img),
		NewBedrock(cfg.Bedrock, img),
		NewOpenAI(cfg.OpenAI),
		NewAnthropic(cfg.Anthropic),
		NewGemini(cfg.Gemini),
		NewMistral(cfg.Mistral),
		NewEmbedding(cfg.Embedding),
		NewDocIntel(cfg.DocIntel, img),
		NewPVC(cfg.Kubernetes),
		NewGPU(cfg.GPU),
		NewDNS(cfg.DNS),
		NewSSL(cfg.SSL),
	}
}
