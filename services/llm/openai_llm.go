// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel serves features whose prompt document does not
// pin a model when the OpenAI backend is selected.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient adapts the OpenAI chat completions API to the
// MessagesClient interface, including tool-call translation.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the given key and default
// model. An empty key falls back to the container secret mount before
// failing.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = DefaultOpenAIModel
		slog.Warn("OpenAI model not set, defaulting to", "model", model)
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// DefaultModel implements MessagesClient.
func (o *OpenAIClient) DefaultModel() string {
	return o.model
}

// Messages implements MessagesClient.
func (o *OpenAIClient) Messages(ctx context.Context, req Request) (*Response, error) {
	oaReq := openai.ChatCompletionRequest{
		Model: req.Model,
	}
	if oaReq.Model == "" {
		oaReq.Model = o.model
	}
	if req.MaxTokens > 0 {
		oaReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		oaReq.Temperature = *req.Temperature
	}

	if req.System != "" {
		oaReq.Messages = append(oaReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		oaReq.Messages = append(oaReq.Messages, toOpenAIMessages(msg)...)
	}

	for _, tool := range req.Tools {
		oaReq.Tools = append(oaReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: "OpenAI returned no choices"}
	}

	choice := resp.Choices[0]
	out := &Response{
		StopReason: mapFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, ContentBlock{Type: BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, ContentBlock{
			Type:  BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// toOpenAIMessages splits one backend-neutral message into the chat
// completion messages OpenAI expects. Tool results become role "tool"
// messages; assistant tool_use blocks become tool calls.
func toOpenAIMessages(msg Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage

	base := openai.ChatCompletionMessage{Role: msg.Role}
	var toolCalls []openai.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case BlockText:
			base.Content += block.Text
		case BlockToolUse:
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		case BlockToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    block.Content,
				ToolCallID: block.ToolUseID,
			})
		}
	}

	if base.Content != "" || len(toolCalls) > 0 {
		base.ToolCalls = toolCalls
		// Prepend: the assistant turn precedes its tool results.
		out = append([]openai.ChatCompletionMessage{base}, out...)
	}
	return out
}

func mapFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls:
		return StopToolUse
	case openai.FinishReasonLength:
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("openai: %w", ErrRateLimited)
		}
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
		}
	}
	return fmt.Errorf("OpenAI API call failed: %w", err)
}

var _ MessagesClient = (*OpenAIClient)(nil)
