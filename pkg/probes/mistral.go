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

	openai "github.com/sashabaranov/go-openai"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

const mistralBaseURL = "https://api.mistral.ai/v1"

// Mistral validates the Mistral API through its OpenAI-compatible
// surface.
type Mistral struct {
	cfg config.Mistral
}

func NewMistral(cfg config.Mistral) *Mistral { return &Mistral{cfg: cfg} }

func (m *Mistral) ID() string            { return "mistral" }
func (m *Mistral) DisplayName() string   { return "Mistral" }
func (m *Mistral) Configured() bool      { return m.cfg.Configured() }
func (m *Mistral) MissingKeys() []string { return m.cfg.MissingKeys() }

func (m *Mistral) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(m)
	if !m.Configured() {
		return probe.Skipped(m, m.MissingKeys())
	}
	clientCfg := openai.DefaultConfig(m.cfg.APIKey)
	clientCfg.BaseURL = mistralBaseURL
	client := openai.NewClientWithConfig(clientCfg)

	if count, err := validateAPIKey(ctx, client); err != nil {
		r.Fail("api_key_validation", fmt.Sprintf("listing models failed: %v", err),
			"the Mistral key was rejected; regenerate it in the La Plateforme console and check for an expired trial", "MISTRAL_KEY")
		return r.Complete()
	} else {
		r.Pass("api_key_validation", fmt.Sprintf("key accepted, %d models visible", count), nil)
	}

	if reply, err := completeChat(ctx, client, m.cfg.Model); err != nil {
		r.Fail("chat", fmt.Sprintf("chat completion with model %q failed: %v", m.cfg.Model, err),
			fmt.Sprintf("the key is valid but model %q is not usable on this plan; check MISTRAL_MODEL", m.cfg.Model), "MISTRAL_CHAT")
	} else {
		r.Pass("chat", fmt.Sprintf("model replied %q", truncateReply(reply)), map[string]any{"model": m.cfg.Model})
	}
	return r.Complete()
}
