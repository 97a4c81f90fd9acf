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

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// Anthropic validates the Anthropic API key and a message round-trip.
type Anthropic struct {
	cfg config.Anthropic
}

func NewAnthropic(cfg config.Anthropic) *Anthropic { return &Anthropic{cfg: cfg} }

func (a *Anthropic) ID() string            { return "anthropic" }
func (a *Anthropic) DisplayName() string   { return "Anthropic" }
func (a *Anthropic) Configured() bool      { return a.cfg.Configured() }
func (a *Anthropic) MissingKeys() []string { return a.cfg.MissingKeys() }

func (a *Anthropic) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(a)
	if !a.Configured() {
		return probe.Skipped(a, a.MissingKeys())
	}
	client := anthropic.NewClient(option.WithAPIKey(a.cfg.APIKey))

	if page, err := client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		r.Fail("api_key_validation", fmt.Sprintf("listing models failed: %v", err),
			"the Anthropic key was rejected; it may be disabled or belong to an organization without API access", "ANTHROPIC_KEY")
		return r.Complete()
	} else {
		r.Pass("api_key_validation", fmt.Sprintf("key accepted, %d models visible", len(page.Data)), nil)
	}

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: 16,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(chatPrompt)),
		},
	})
	if err != nil {
		r.Fail("chat", fmt.Sprintf("message with model %q failed: %v", a.cfg.Model, err),
			fmt.Sprintf("the key is valid but model %q is not usable; check ANTHROPIC_MODEL against the models the key can see", a.cfg.Model), "ANTHROPIC_CHAT")
		return r.Complete()
	}
	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	r.Pass("chat", fmt.Sprintf("model replied %q", truncateReply(reply.String())), map[string]any{"model": a.cfg.Model})
	return r.Complete()
}
