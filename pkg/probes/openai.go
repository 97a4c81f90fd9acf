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

// OpenAI validates the public OpenAI API key and a chat completion.
type OpenAI struct {
	cfg config.OpenAI
}

func NewOpenAI(cfg config.OpenAI) *OpenAI { return &OpenAI{cfg: cfg} }

func (o *OpenAI) ID() string            { return "openai_direct" }
func (o *OpenAI) DisplayName() string   { return "OpenAI" }
func (o *OpenAI) Configured() bool      { return o.cfg.Configured() }
func (o *OpenAI) MissingKeys() []string { return o.cfg.MissingKeys() }

func (o *OpenAI) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(o)
	if !o.Configured() {
		return probe.Skipped(o, o.MissingKeys())
	}
	client := openai.NewClient(o.cfg.APIKey)

	if count, err := validateAPIKey(ctx, client); err != nil {
		r.Fail("api_key_validation", fmt.Sprintf("listing models failed: %v", err),
			"the key was rejected; it may be revoked, belong to a deactivated org, or be a project key without model access", "OPENAI_KEY")
		return r.Complete()
	} else {
		r.Pass("api_key_validation", fmt.Sprintf("key accepted, %d models visible", count), nil)
	}

	if reply, err := completeChat(ctx, client, o.cfg.Model); err != nil {
		r.Fail("chat", fmt.Sprintf("chat completion with model %q failed: %v", o.cfg.Model, err),
			fmt.Sprintf("the key is valid but model %q is not usable; check OPENAI_MODEL and the project's model allowlist", o.cfg.Model), "OPENAI_CHAT")
	} else {
		r.Pass("chat", fmt.Sprintf("model replied %q", truncateReply(reply)), map[string]any{"model": o.cfg.Model})
	}
	return r.Complete()
}
