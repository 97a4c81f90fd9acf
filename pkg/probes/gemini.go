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

// geminiBaseURL is Google's OpenAI-compatible endpoint for the
// Generative Language API.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// Gemini validates the Google Generative Language API.
type Gemini struct {
	cfg config.Gemini
}

func NewGemini(cfg config.Gemini) *Gemini { return &Gemini{cfg: cfg} }

func (g *Gemini) ID() string            { return "gemini" }
func (g *Gemini) DisplayName() string   { return "Google Gemini" }
func (g *Gemini) Configured() bool      { return g.cfg.Configured() }
func (g *Gemini) MissingKeys() []string { return g.cfg.MissingKeys() }

func (g *Gemini) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(g)
	if !g.Configured() {
		return probe.Skipped(g, g.MissingKeys())
	}
	clientCfg := openai.DefaultConfig(g.cfg.APIKey)
	clientCfg.BaseURL = geminiBaseURL
	client := openai.NewClientWithConfig(clientCfg)

	if count, err := validateAPIKey(ctx, client); err != nil {
		r.Fail("api_key_validation", fmt.Sprintf("listing models failed: %v", err),
			"the Gemini key was rejected; confirm the Generative Language API is enabled for the key's project", "GEMINI_KEY")
		return r.Complete()
	} else {
		r.Pass("api_key_validation", fmt.Sprintf("key accepted, %d models visible", count), nil)
	}

	if reply, err := completeChat(ctx, client, g.cfg.Model); err != nil {
		r.Fail("chat", fmt.Sprintf("chat completion with model %q failed: %v", g.cfg.Model, err),
			fmt.Sprintf("the key is valid but model %q is not available; check GEMINI_MODEL against the models the key can see", g.cfg.Model), "GEMINI_CHAT")
	} else {
		r.Pass("chat", fmt.Sprintf("model replied %q", truncateReply(reply)), map[string]any{"model": g.cfg.Model})
	}
	return r.Complete()
}
