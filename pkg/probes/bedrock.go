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
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// Bedrock exercises AWS Bedrock model invocation: a chat exchange via the
// Converse API, an embedding via InvokeModel when an embedding model is
// configured, and a vision round-trip against the bundled test image.
type Bedrock struct {
	cfg config.Bedrock
	img *testImage
}

func NewBedrock(cfg config.Bedrock, img *testImage) *Bedrock {
	return &Bedrock{cfg: cfg, img: img}
}

func (b *Bedrock) ID() string            { return "bedrock" }
func (b *Bedrock) DisplayName() string   { return "AWS Bedrock" }
func (b *Bedrock) Configured() bool      { return b.cfg.Configured() }
func (b *Bedrock) MissingKeys() []string { return b.cfg.MissingKeys() }

func (b *Bedrock) client(ctx context.Context) (*bedrockruntime.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(b.cfg.Region),
	}
	if b.cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.cfg.AccessKeyID, b.cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

func (b *Bedrock) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(b)
	if !b.Configured() {
		return probe.Skipped(b, b.MissingKeys())
	}
	client, err := b.client(ctx)
	if err != nil {
		r.Fail("client_creation", fmt.Sprintf("building AWS config failed: %v", err),
			"check BEDROCK_REGION and the access key pair; without explicit keys the pod's IAM role is used", "BEDROCK_CONFIG")
		return r.Complete()
	}
	r.Pass("client_creation", fmt.Sprintf("Bedrock runtime client for region %s", b.cfg.Region), nil)

	b.chat(ctx, r, client)
	b.embedding(ctx, r, client)
	b.vision(ctx, r, client)
	return r.Complete()
}

func (b *Bedrock) chat(ctx context.Context, r *probe.Recorder, client *bedrockruntime.Client) {
	out, err := client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: &b.cfg.ModelID,
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: chatPrompt}},
		}},
	})
	if err != nil {
		r.Fail("chat", fmt.Sprintf("Converse with model %q failed: %v", b.cfg.ModelID, err),
			"verify the model ID is enabled for this account and region under Bedrock model access", "BEDROCK_CHAT")
		return
	}
	reply := converseText(out)
	r.Pass("chat", fmt.Sprintf("model replied %q", truncateReply(reply)), map[string]any{"model": b.cfg.ModelID})
}

func (b *Bedrock) embedding(ctx context.Context, r *probe.Recorder, client *bedrockruntime.Client) {
	if b.cfg.EmbeddingModelID == "" {
		r.Skip("embedding", "no embedding model configured (BEDROCK_EMBEDDING_MODEL_ID)")
		return
	}
	body, err := json.Marshal(map[string]string{"inputText": embeddingText})
	if err != nil {
		r.Fail("embedding", fmt.Sprintf("encoding request: %v", err), "", "BEDROCK_EMBED")
		return
	}
	contentType := "application/json"
	out, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &b.cfg.EmbeddingModelID,
		ContentType: &contentType,
		Body:        body,
	})
	if err != nil {
		r.Fail("embedding", fmt.Sprintf("InvokeModel with %q failed: %v", b.cfg.EmbeddingModelID, err),
			"embedding models use InvokeModel, not Converse; confirm the model ID names an embedding model with access granted", "BEDROCK_EMBED")
		return
	}
	var resp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(out.Body, &resp); err != nil || len(resp.Embedding) == 0 {
		r.Fail("embedding", "response contained no embedding vector",
			"the model responded but not in the Titan embedding format; check BEDROCK_EMBEDDING_MODEL_ID", "BEDROCK_EMBED")
		return
	}
	r.Pass("embedding", fmt.Sprintf("received %d-dimensional vector", len(resp.Embedding)),
		map[string]any{"model": b.cfg.EmbeddingModelID, "dimensions": len(resp.Embedding)})
}

func (b *Bedrock) vision(ctx context.Context, r *probe.Recorder, client *bedrockruntime.Client) {
	img, err := b.img.Bytes()
	if err != nil {
		r.Skip("vision", fmt.Sprintf("test image unavailable: %v", err))
		return
	}
	out, err := client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: &b.cfg.ModelID,
		Messages: []brtypes.Message{{
			Role: brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: visionPrompt},
				&brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
					Format: brtypes.ImageFormatPng,
					Source: &brtypes.ImageSourceMemberBytes{Value: img},
				}},
			},
		}},
	})
	if err != nil {
		r.Fail("vision", fmt.Sprintf("image Converse failed: %v", err),
			fmt.Sprintf("model %q may not accept image input; use a multimodal model for vision", b.cfg.ModelID), "BEDROCK_VISION")
		return
	}
	r.Pass("vision", fmt.Sprintf("model described the image: %q", truncateReply(converseText(out))), nil)
}

func converseText(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			return text.Value
		}
	}
	return ""
}
