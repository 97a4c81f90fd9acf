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

// AzureOpenAI validates the Azure OpenAI deployments: chat always, plus
// embedding and vision when their deployment ids are configured.
type AzureOpenAI struct {
	cfg config.AzureOpenAI
	img *testImage
}

func NewAzureOpenAI(cfg config.AzureOpenAI, img *testImage) *AzureOpenAI {
	return &AzureOpenAI{cfg: cfg, img: img}
}

func (a *AzureOpenAI) ID() string            { return "azure_openai" }
func (a *AzureOpenAI) DisplayName() string   { return "Azure OpenAI" }
func (a *AzureOpenAI) Configured() bool      { return a.cfg.Configured() }
func (a *AzureOpenAI) MissingKeys() []string { return a.cfg.MissingKeys() }

func (a *AzureOpenAI) client() *openai.Client {
	clientCfg := openai.DefaultAzureConfig(a.cfg.APIKey, a.cfg.Endpoint)
	clientCfg.APIVersion = a.cfg.APIVersion
	// Deployment ids double as model names; the SDK maps them 1:1 by
	// default, which is exactly what we want.
	return openai.NewClientWithConfig(clientCfg)
}

func (a *AzureOpenAI) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(a)
	if !a.Configured() {
		return probe.Skipped(a, a.MissingKeys())
	}
	client := a.client()

	if reply, err := completeChat(ctx, client, a.cfg.Deployment); err != nil {
		r.Fail("chat", fmt.Sprintf("chat completion against deployment %q failed: %v", a.cfg.Deployment, err),
			"verify AZURE_OPENAI_ENDPOINT, the API key, and that the deployment name matches an existing deployment in this resource", "AOAI_CHAT")
	} else {
		r.Pass("chat", fmt.Sprintf("model replied %q", truncateReply(reply)), map[string]any{
			"deployment": a.cfg.Deployment,
			"reply":      truncateReply(reply),
		})
	}

	if a.cfg.EmbeddingDeployment == "" {
		r.Skip("embedding", "no embedding deployment configured")
	} else if dims, err := embedText(ctx, client, a.cfg.EmbeddingDeployment); err != nil {
		r.Fail("embedding", fmt.Sprintf("embedding against deployment %q failed: %v", a.cfg.EmbeddingDeployment, err),
			"the chat deployment works but the embedding deployment does not; check AZURE_OPENAI_EMBEDDING_DEPLOYMENT names an embedding model", "AOAI_EMBEDDING")
	} else {
		r.Pass("embedding", fmt.Sprintf("embedded test text into %d dimensions", dims), map[string]any{
			"deployment": a.cfg.EmbeddingDeployment,
			"dimensions": dims,
		})
	}

	if a.cfg.VisionDeployment == "" {
		r.Skip("vision", "no vision deployment configured")
	} else if b64, err := a.img.Base64(); err != nil {
		r.Fail("vision", fmt.Sprintf("bundled test image unavailable: %v", err),
			"the service image is missing its bundled test asset; redeploy the unmodified container image", "AOAI_ASSET")
	} else if reply, err := describeImage(ctx, client, a.cfg.VisionDeployment, b64); err != nil {
		r.Fail("vision", fmt.Sprintf("vision request against deployment %q failed: %v", a.cfg.VisionDeployment, err),
			"check AZURE_OPENAI_VISION_DEPLOYMENT names a deployment of a vision-capable model", "AOAI_VISION")
	} else {
		r.Pass("vision", fmt.Sprintf("model described the image: %q", truncateReply(reply)), map[string]any{
			"deployment": a.cfg.VisionDeployment,
		})
	}
	return r.Complete()
}
