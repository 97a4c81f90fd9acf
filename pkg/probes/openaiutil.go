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
)

// completeChat sends the standardized arithmetic prompt and returns the
// model's reply.
func completeChat(ctx context.Context, client *openai.Client, model string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: chatPrompt,
		}},
		MaxTokens: 16,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// embedText embeds the standardized text and returns the vector length.
func embedText(ctx context.Context, client *openai.Client, model string) (int, error) {
	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{embeddingText},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("no embedding in response")
	}
	return len(resp.Data[0].Embedding), nil
}

// describeImage sends the standardized vision prompt with the bundled
// test image and returns the model's description.
func describeImage(ctx context.Context, client *openai.Client, model, imageBase64 string) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL: "data:image/png;base64," + imageBase64,
				}},
			},
		}},
		MaxTokens: 128,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// validateAPIKey lists models, the cheapest call that exercises the
// credential end to end.
func validateAPIKey(ctx context.Context, client *openai.Client) (int, error) {
	models, err := client.ListModels(ctx)
	if err != nil {
		return 0, err
	}
	return len(models.Models), nil
}

// truncateReply keeps probe messages one-line friendly.
func truncateReply(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
