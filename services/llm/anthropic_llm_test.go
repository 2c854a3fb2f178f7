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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAnthropic points a client at a local test server so requests
// never leave the process.
func newTestAnthropic(serverURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: http.DefaultClient,
		key:        memguard.NewEnclave([]byte("sk-test-key")),
		model:      DefaultAnthropicModel,
		baseURL:    serverURL,
	}
}

func anthropicOKBody() string {
	return `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"content": [{"type": "text", "text": "Sunny in Harare."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 120, "output_tokens": 18}
	}`
}

func TestNewAnthropicClient(t *testing.T) {
	t.Run("missing key fails", func(t *testing.T) {
		_, err := NewAnthropicClient("", "")
		require.Error(t, err)
	})

	t.Run("model defaults", func(t *testing.T) {
		client, err := NewAnthropicClient("sk-test", "")
		require.NoError(t, err)
		assert.Equal(t, DefaultAnthropicModel, client.DefaultModel())
	})

	t.Run("explicit model kept", func(t *testing.T) {
		client, err := NewAnthropicClient("sk-test", "claude-sonnet-4-5")
		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet-4-5", client.DefaultModel())
	})
}

func TestAnthropicMessages_RequestShape(t *testing.T) {
	var captured anthropicRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, anthropicOKBody())
	}))
	defer srv.Close()

	client := newTestAnthropic(srv.URL)
	resp, err := client.Messages(context.Background(), Request{
		System:   "You are Shamwari.",
		Messages: []Message{TextMessage(RoleUser, "What's the weather?")},
	})
	require.NoError(t, err)

	assert.Equal(t, "sk-test-key", headers.Get("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, headers.Get("anthropic-version"))
	assert.Equal(t, "application/json", headers.Get("content-type"))

	// Omitted model and max_tokens fall back to client defaults.
	assert.Equal(t, DefaultAnthropicModel, captured.Model)
	assert.Equal(t, 1024, captured.MaxTokens)

	require.Len(t, captured.System, 1)
	assert.Equal(t, "You are Shamwari.", captured.System[0].Text)
	assert.Nil(t, captured.System[0].CacheControl, "short prompts are not cache-marked")

	require.Len(t, captured.Messages, 1)
	assert.Equal(t, RoleUser, captured.Messages[0].Role)

	assert.Equal(t, "Sunny in Harare.", resp.Text())
	assert.Equal(t, StopEndTurn, resp.StopReason)
	assert.Equal(t, 120, resp.Usage.InputTokens)
	assert.Equal(t, 18, resp.Usage.OutputTokens)
}

func TestAnthropicMessages_LargeSystemPromptCached(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, anthropicOKBody())
	}))
	defer srv.Close()

	client := newTestAnthropic(srv.URL)
	_, err := client.Messages(context.Background(), Request{
		System:   strings.Repeat("x", cacheControlMinChars+1),
		Messages: []Message{TextMessage(RoleUser, "hi")},
	})
	require.NoError(t, err)

	require.Len(t, captured.System, 1)
	require.NotNil(t, captured.System[0].CacheControl)
	assert.Equal(t, "ephemeral", captured.System[0].CacheControl.Type)
}

func TestAnthropicMessages_ToolRoundTrip(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, `{
			"id": "msg_02",
			"content": [{"type": "tool_use", "id": "toolu_01", "name": "get_weather", "input": {"slug": "harare"}}],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 200, "output_tokens": 30}
		}`)
	}))
	defer srv.Close()

	client := newTestAnthropic(srv.URL)
	resp, err := client.Messages(context.Background(), Request{
		Messages: []Message{
			TextMessage(RoleUser, "weather in harare?"),
			ToolResultMessage("toolu_00", `{"temperature":24}`),
		},
		Tools: []Tool{{
			Name:        "get_weather",
			Description: "Cached weather for a location",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "get_weather", captured.Tools[0].Name)

	// The tool_result block keeps its linkage on the wire.
	require.Len(t, captured.Messages, 2)
	require.Len(t, captured.Messages[1].Content, 1)
	assert.Equal(t, BlockToolResult, captured.Messages[1].Content[0].Type)
	assert.Equal(t, "toolu_00", captured.Messages[1].Content[0].ToolUseID)

	assert.Equal(t, StopToolUse, resp.StopReason)
	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "get_weather", uses[0].Name)
	assert.JSONEq(t, `{"slug":"harare"}`, string(uses[0].Input))
}

func TestAnthropicMessages_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestAnthropic(srv.URL)
	_, err := client.Messages(context.Background(), Request{
		Messages: []Message{TextMessage(RoleUser, "hi")},
	})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestAnthropicMessages_APIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens required"}}`)
	}))
	defer srv.Close()

	client := newTestAnthropic(srv.URL)
	_, err := client.Messages(context.Background(), Request{
		Messages: []Message{TextMessage(RoleUser, "hi")},
	})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.Equal(t, "max_tokens required", apiErr.Message)
}

func TestAnthropicMessages_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream overloaded")
	}))
	defer srv.Close()

	client := newTestAnthropic(srv.URL)
	_, err := client.Messages(context.Background(), Request{
		Messages: []Message{TextMessage(RoleUser, "hi")},
	})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream overloaded", apiErr.Message)
	assert.Empty(t, apiErr.Type)
}

func TestAnthropicMessages_ModelOverride(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		io.WriteString(w, anthropicOKBody())
	}))
	defer srv.Close()

	client := newTestAnthropic(srv.URL)
	_, err := client.Messages(context.Background(), Request{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 400,
		Messages:  []Message{TextMessage(RoleUser, "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", captured.Model)
	assert.Equal(t, 400, captured.MaxTokens)
}
