// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"

	// DefaultAnthropicModel serves features whose prompt document does
	// not pin a model.
	DefaultAnthropicModel = "claude-haiku-4-5-20251001"

	// Prompts longer than this get an ephemeral cache_control marker so
	// repeated calls reuse the provider-side prompt cache.
	cacheControlMinChars = 1024
)

// --- Wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client Implementation ---

// AnthropicClient talks to the Anthropic messages API directly over
// HTTP. The API key lives in a memguard enclave and is only decrypted
// for the duration of each request.
type AnthropicClient struct {
	httpClient *http.Client
	key        *memguard.Enclave
	model      string
	baseURL    string
}

// NewAnthropicClient builds a client from the given key and default
// model. An empty key falls back to the container secret mount before
// failing.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	// 1. Robust secret loading
	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API key from container secrets")
		}
	}

	// 2. Graceful failure
	if apiKey == "" {
		slog.Warn("Anthropic API key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	if model == "" {
		model = DefaultAnthropicModel
		slog.Info("Anthropic model not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		key:        memguard.NewEnclave([]byte(apiKey)),
		model:      model,
		baseURL:    anthropicBaseURL,
	}, nil
}

// DefaultModel implements MessagesClient.
func (a *AnthropicClient) DefaultModel() string {
	return a.model
}

// Messages implements MessagesClient.
func (a *AnthropicClient) Messages(ctx context.Context, req Request) (*Response, error) {
	payload := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if payload.Model == "" {
		payload.Model = a.model
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = 1024
	}

	// System prompt with provider-side caching for large prompts
	if req.System != "" {
		block := systemBlock{Type: "text", Text: req.System}
		if len(req.System) > cacheControlMinChars {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		payload.System = []systemBlock{block}
	}

	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: toAnthropicBlocks(msg.Content),
		})
	}

	for _, tool := range req.Tools {
		payload.Tools = append(payload.Tools, anthropicTool(tool))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Decrypt the key only for the lifetime of this request.
	keyBuf, err := a.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open api key enclave: %w", err)
	}
	httpReq.Header.Set("x-api-key", keyBuf.String())
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", payload.Model)

	resp, err := a.httpClient.Do(httpReq)
	keyBuf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("anthropic: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope anthropicErrorEnvelope
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Type = envelope.Error.Type
			apiErr.Message = envelope.Error.Message
		}
		return nil, apiErr
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	out := &Response{
		StopReason: apiResp.StopReason,
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
	for _, block := range apiResp.Content {
		out.Content = append(out.Content, ContentBlock{
			Type:  block.Type,
			Text:  block.Text,
			ID:    block.ID,
			Name:  block.Name,
			Input: block.Input,
		})
	}
	return out, nil
}

func toAnthropicBlocks(blocks []ContentBlock) []anthropicBlock {
	out := make([]anthropicBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, anthropicBlock{
			Type:      b.Type,
			Text:      b.Text,
			ID:        b.ID,
			Name:      b.Name,
			Input:     b.Input,
			ToolUseID: b.ToolUseID,
			Content:   b.Content,
		})
	}
	return out
}

var _ MessagesClient = (*AnthropicClient)(nil)
