// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the weather service.
//
// This file contains request and response types for the conversational
// endpoints: the tool-using chat loop and the contextual follow-up.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Conversation Limits
// =============================================================================

const (
	// MaxChatMessageLen is the maximum length of a single chat message.
	// Longer messages are rejected; longer history entries are truncated.
	MaxChatMessageLen = 2000

	// MaxChatHistory is the number of prior turns kept per request.
	// Older turns are dropped client-side and server-side.
	MaxChatHistory = 10

	// MaxChatActivities is the number of user activity IDs honored.
	MaxChatActivities = 20

	// MaxChatReferences is the number of location references returned
	// alongside a chat response.
	MaxChatReferences = 5
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for conversational datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatMessage is one prior conversation turn supplied by the client.
// Role is "user" or "assistant"; anything else is dropped during
// history normalization rather than rejected.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the POST /api/chat body.
//
// # Description
//
// ChatRequest carries the user's message, up to MaxChatHistory prior
// turns, and the user's selected activity IDs. History and activities
// beyond the caps are truncated, not rejected; only an overlong
// Message fails validation.
//
// # Limitations
//
//   - History is trusted as-is: turns are replayed to the model after
//     length clamping, with no server-side conversation store.
type ChatRequest struct {
	Message    string        `json:"message" validate:"required,max=2000"`
	History    []ChatMessage `json:"history,omitempty"`
	Activities []string      `json:"activities,omitempty"`
}

// Validate checks the request fields. The handler maps a failure to a
// 400 with a stable message, so callers never see validator internals.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// NormalizedHistory returns at most MaxChatHistory turns with each
// content clamped to MaxChatMessageLen. Turns with roles other than
// user/assistant are dropped.
func (r *ChatRequest) NormalizedHistory() []ChatMessage {
	return NormalizeHistory(r.History)
}

// NormalizedActivities returns at most MaxChatActivities IDs.
func (r *ChatRequest) NormalizedActivities() []string {
	if len(r.Activities) > MaxChatActivities {
		return r.Activities[:MaxChatActivities]
	}
	return r.Activities
}

// NormalizeHistory clamps a history slice to the conversation limits.
// Shared by the chat and follow-up endpoints.
func NormalizeHistory(history []ChatMessage) []ChatMessage {
	if len(history) > MaxChatHistory {
		history = history[:MaxChatHistory]
	}
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		content := m.Content
		if len(content) > MaxChatMessageLen {
			content = content[:MaxChatMessageLen]
		}
		out = append(out, ChatMessage{Role: m.Role, Content: content})
	}
	return out
}

// =============================================================================
// Chat Response Types
// =============================================================================

// Reference points the client at a location mentioned during the
// conversation. Type is "location" for search results and "weather"
// for direct weather lookups; when the same slug appears as both,
// "location" wins.
type Reference struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ChatResponse is the chat endpoint's reply. Error is set (true) only
// on degraded paths where a canned response is returned instead of a
// model answer; the HTTP status stays 200 so clients render the text.
type ChatResponse struct {
	Response   string      `json:"response"`
	References []Reference `json:"references,omitempty"`
	Error      bool        `json:"error,omitempty"`
}

// DedupReferences removes duplicate slugs, preferring the "location"
// type over "weather", preserving first-seen order, capped at
// MaxChatReferences.
func DedupReferences(refs []Reference) []Reference {
	bySlug := make(map[string]int, len(refs))
	out := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		if ref.Slug == "" {
			continue
		}
		if i, ok := bySlug[ref.Slug]; ok {
			if out[i].Type != "location" && ref.Type == "location" {
				out[i] = ref
			}
			continue
		}
		bySlug[ref.Slug] = len(out)
		out = append(out, ref)
	}
	if len(out) > MaxChatReferences {
		out = out[:MaxChatReferences]
	}
	return out
}

// =============================================================================
// Follow-up Types
// =============================================================================

// FollowupRequest is the POST /api/ai/followup body: a question about
// weather the client is already displaying. WeatherSummary is the
// client-rendered context; it is clamped to 500 characters before it
// is shown to the model.
type FollowupRequest struct {
	Message        string        `json:"message" validate:"required,max=2000"`
	LocationSlug   string        `json:"locationSlug,omitempty"`
	LocationName   string        `json:"locationName,omitempty"`
	WeatherSummary string        `json:"weatherSummary,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
	Activities     []string      `json:"activities,omitempty"`
	Season         string        `json:"season,omitempty"`
}

// Validate checks the follow-up fields.
func (r *FollowupRequest) Validate() error {
	return chatValidate.Struct(r)
}

// FollowupResponse is the follow-up reply. Error marks degraded paths,
// mirroring ChatResponse.
type FollowupResponse struct {
	Response string `json:"response"`
	Error    bool   `json:"error,omitempty"`
}
