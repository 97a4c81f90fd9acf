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

	openai "github.com/sashabaranov/go-openai"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// Embedding validates a dedicated OpenAI-compatible embedding endpoint,
// typically a self-hosted model server.
type Embedding struct {
	cfg config.Embedding
}

func NewEmbedding(cfg config.Embedding) *Embedding { return &Embedding{cfg: cfg} }

func (e *Embedding) ID() string            { return "dedicated_embedding" }
func (e *Embedding) DisplayName() string   { return "Embedding Endpoint" }
func (e *Embedding) Configured() bool      { return e.cfg.Configured() }
func (e *Embedding) MissingKeys() []string { return e.cfg.MissingKeys() }

func (e *Embedding) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(e)
	if !e.Configured() {
		return probe.Skipped(e, e.MissingKeys())
	}

	cc := openai.DefaultConfig(e.cfg.APIKey)
	cc.BaseURL = strings.TrimSuffix(e.cfg.Endpoint, "/")
	client := openai.NewClientWithConfig(cc)

	if _, err := client.ListModels(ctx); err != nil {
		// Some model servers omit /models; embedding is the real check.
		r.Logf("warning", "model listing on %s failed: %v", e.cfg.Endpoint, err)
		r.Skip("connect", "endpoint does not expose a model listing")
	} else {
		r.Pass("connect", fmt.Sprintf("endpoint %s is reachable", e.cfg.Endpoint), nil)
	}

	dims, err := embedText(ctx, client, e.cfg.Model)
	if err != nil {
		r.Fail("embedding", fmt.Sprintf("embedding request with model %q failed: %v", e.cfg.Model, err),
			"verify EMBEDDING_ENDPOINT points at an OpenAI-compatible /v1 base URL and EMBEDDING_MODEL names a model the server hosts", "EMBED_REQUEST")
		return r.Complete()
	}
	r.Pass("embedding", fmt.Sprintf("embedded %d characters", len(embeddingText)), map[string]any{"model": e.cfg.Model})

	if dims == 0 {
		r.Fail("dimensions", "embedding vector was empty",
			"the server accepted the request but returned no vector; check its logs", "EMBED_DIMENSIONS")
	} else {
		r.Pass("dimensions", fmt.Sprintf("vector has %d dimensions", dims), map[string]any{"dimensions": dims})
	}
	return r.Complete()
}
