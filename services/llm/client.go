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
	"strings"
)

// Message roles shared by all backends.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons normalized across backends.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ErrRateLimited is returned when the provider rejects the call with a
// 429. Callers surface this as HTTP 429 rather than a soft fallback.
var ErrRateLimited = errors.New("llm provider rate limited")

// ErrNoAPIKey is returned when no key is configured in the environment
// or the key store. Callers surface this as HTTP 503 because it is an
// operator problem, not a transient one.
var ErrNoAPIKey = errors.New("llm api key not configured")

// APIError is a non-429 provider error with its upstream status code.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llm api error (status %d, %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
}

// ContentBlock is one element of a message's content. Which fields are
// set depends on Type:
//
//   - text: Text
//   - tool_use: ID, Name, Input
//   - tool_result: ToolUseID, Content
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// ToolResultMessage builds the user-role message that feeds a tool's
// output back to the model.
func ToolResultMessage(toolUseID, content string) Message {
	return Message{
		Role: RoleUser,
		Content: []ContentBlock{{
			Type:      BlockToolResult,
			ToolUseID: toolUseID,
			Content:   content,
		}},
	}
}

// Tool describes a function the model may call. InputSchema is a JSON
// Schema object.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is a backend-neutral messages call.
type Request struct {
	// Model overrides the client's default when non-empty. Prompt
	// documents carry the model per feature, so most callers set it.
	Model string

	// System is the system prompt, already rendered.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// MaxTokens caps the completion length. Zero means the client
	// default.
	MaxTokens int

	// Tools the model may call. Empty disables tool use.
	Tools []Tool

	Temperature *float32
}

// Response is a backend-neutral messages result.
type Response struct {
	Content    []ContentBlock
	StopReason string
	Usage      Usage
}

// Text concatenates all text blocks in the response.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// FirstText returns the first text block, or "" when the response has
// none. Single-shot features read only the leading block.
func (r *Response) FirstText() string {
	for _, b := range r.Content {
		if b.Type == BlockText {
			return b.Text
		}
	}
	return ""
}

// JoinedText joins all text blocks with sep. The chat loop separates
// blocks with a blank line when assembling the final reply.
func (r *Response) JoinedText(sep string) string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, sep)
}

// ToolUses extracts the tool invocations the model requested, in order.
func (r *Response) ToolUses() []ToolUse {
	var uses []ToolUse
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return uses
}

// MessagesClient is the interface every LLM backend implements.
type MessagesClient interface {
	// Messages runs one model call. Implementations map provider rate
	// limiting to ErrRateLimited and other provider failures to *APIError.
	Messages(ctx context.Context, req Request) (*Response, error)

	// DefaultModel returns the model used when Request.Model is empty.
	DefaultModel() string
}
