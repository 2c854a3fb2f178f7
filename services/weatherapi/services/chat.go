// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
)

// maxChatIterations bounds the tool loop so a confused model cannot
// burn tokens indefinitely. Users chaining comparisons across several
// locations typically need two or three rounds.
const maxChatIterations = 5

// maxActivitiesInPrompt caps the activity catalogue quoted in the
// system prompt.
const maxActivitiesInPrompt = 60

// Degradation texts returned when the model is unavailable. Written in
// Shamwari's voice so the client renders them like any reply.
const (
	chatBreakerOpenText = "I'm temporarily unable to process requests while my AI service recovers. Please try again in a few minutes."
	chatTimeoutText     = "My AI service is taking too long to respond. Please try again."
	chatUpstreamText    = "I'm having trouble connecting to my AI service right now. Please try again in a moment."
	chatExhaustedText   = "I've been thinking too hard about this one. Could you rephrase your question?"
	chatEmptyText       = "I wasn't able to generate a response. Please try again."
)

// Fallbacks substituted into the system prompt when grounding data is
// unavailable. The model is told what it is missing so it leans on its
// tools instead of guessing.
const (
	noLocationSampleText = "No sample locations available — use the search_locations tool to discover locations"
	noActivityListText   = "No activities loaded — ask users what activities interest them"
)

// ChatService runs the Shamwari Explorer conversation: a tool-using
// model loop grounded in the location catalogue, the weather cache,
// and the stored suitability rules.
//
// # Description
//
// Each request replays the client-supplied history, appends the new
// message, and lets the model call tools until it stops or the
// iteration cap is hit. Tool calls from one assistant turn execute
// concurrently; their results are fed back in call order so replies
// are deterministic. Locations surfaced by tools become references the
// client renders as links.
//
// # Thread Safety
//
// Safe for concurrent use. Per-request state lives in the tool
// session; shared snapshots come from the context cache.
type ChatService struct {
	store    ToolStore
	llm      llm.MessagesClient
	prompts  *prompts.Library
	context  *ContextCache
	breakers *breaker.Registry
	logger   *logging.Logger
}

// NewChatService creates a ChatService.
//
// Parameters:
//   - st: persistence gateway. Must not be nil.
//   - client: messages client. Nil disables the loop; every chat then
//     returns the degraded connection text.
//   - lib: prompt library for the system prompt template. Must not be
//     nil.
//   - contextCache: grounding snapshots quoted in the system prompt.
//     Must not be nil.
//   - breakers: circuit breaker registry shared across the process.
//     Must not be nil.
//   - logger: nil falls back to the package default.
func NewChatService(
	st ToolStore,
	client llm.MessagesClient,
	lib *prompts.Library,
	contextCache *ContextCache,
	breakers *breaker.Registry,
	logger *logging.Logger,
) *ChatService {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatService{
		store:    st,
		llm:      client,
		prompts:  lib,
		context:  contextCache,
		breakers: breakers,
		logger:   logger,
	}
}

// Chat answers one conversation turn.
//
// Degraded paths (breaker open, model timeout, upstream trouble,
// iteration cap) return a canned reply with Error set and a nil error,
// so the handler serves them as normal responses. The only errors
// returned are llm.ErrRateLimited (handler maps to 429) and
// llm.ErrNoAPIKey (handler maps to 503).
func (s *ChatService) Chat(ctx context.Context, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "services.chat")
	defer span.End()

	if s.llm == nil {
		return &datatypes.ChatResponse{Response: chatUpstreamText, Error: true}, nil
	}

	// Step 1: Replay history and append the new message.
	history := req.NormalizedHistory()
	userActivities := req.NormalizedActivities()

	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.TextMessage(m.Role, m.Content))
	}
	messages = append(messages, llm.TextMessage(llm.RoleUser, strings.TrimSpace(req.Message)))

	span.SetAttributes(
		attribute.Int("chat.history_turns", len(history)),
		attribute.Int("chat.user_activities", len(userActivities)),
	)

	// Step 2: Render the system prompt with live grounding.
	prompt := s.prompts.Get(ctx, "system:chat")
	system := s.systemPrompt(ctx, prompt.Template, userActivities)

	// Step 3: Run the tool loop.
	session := newToolSession(s.store)
	cb := s.breakers.Get(upstreamAnthropic)
	tools := chatTools()

	var references []datatypes.Reference
	seen := make(map[string]struct{})

	for iteration := 0; iteration < maxChatIterations; iteration++ {
		resp, degraded, err := s.callModel(ctx, cb, llm.Request{
			Model:     prompt.Model,
			System:    system,
			Messages:  messages,
			MaxTokens: prompt.MaxTokens,
			Tools:     tools,
		})
		if err != nil {
			return nil, err
		}
		if degraded != "" {
			span.SetAttributes(attribute.String("chat.degraded", degraded))
			return &datatypes.ChatResponse{Response: degraded, Error: true}, nil
		}

		uses := resp.ToolUses()
		if resp.StopReason != llm.StopToolUse || len(uses) == 0 {
			// Step 4: The model is done; join its text blocks.
			text := resp.JoinedText("\n\n")
			if text == "" {
				text = chatEmptyText
			}
			span.SetAttributes(
				attribute.Int("chat.iterations", iteration+1),
				attribute.Int("chat.references", len(references)),
			)
			return &datatypes.ChatResponse{
				Response:   text,
				References: datatypes.DedupReferences(references),
			}, nil
		}

		// Step 5: Execute the requested tools concurrently, then feed
		// results back in call order.
		results := s.executeTools(ctx, session, uses)
		for i, use := range uses {
			s.collectReferences(ctx, use, results[i], seen, &references)
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		messages = append(messages, toolResultsMessage(uses, results))
	}

	// Step 6: Iteration cap reached; hand back whatever grounding was
	// collected so the client can still render links.
	span.SetAttributes(attribute.Bool("chat.exhausted", true))
	return &datatypes.ChatResponse{
		Response:   chatExhaustedText,
		References: datatypes.DedupReferences(references),
	}, nil
}

// callModel runs one model call through the breaker and classifies the
// failure. Exactly one of resp, degraded, err is meaningful: degraded
// carries the canned reply text for soft failures, err is reserved for
// the sentinels the handler maps to HTTP statuses.
func (s *ChatService) callModel(ctx context.Context, cb *breaker.Breaker, req llm.Request) (resp *llm.Response, degraded string, err error) {
	start := time.Now()
	execErr := cb.Execute(ctx, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = s.llm.Messages(callCtx, req)
		return callErr
	})
	seconds := time.Since(start).Seconds()

	if execErr == nil {
		observability.DefaultMetrics.RecordLLMCall("chat", observability.OutcomeOK, seconds)
		return resp, "", nil
	}

	observability.DefaultMetrics.RecordLLMCall("chat", classifyLLMError(execErr), seconds)
	switch {
	case errors.Is(execErr, breaker.ErrOpen):
		return nil, chatBreakerOpenText, nil
	case errors.Is(execErr, breaker.ErrTimeout):
		return nil, chatTimeoutText, nil
	case errors.Is(execErr, llm.ErrRateLimited), errors.Is(execErr, llm.ErrNoAPIKey):
		return nil, "", execErr
	default:
		s.logger.Warn("chat model call failed", "error", execErr)
		return nil, chatUpstreamText, nil
	}
}

// executeTools runs one assistant turn's tool calls concurrently. Each
// call gets its own timeout; a call that outlives it is reported to
// the model as timed out regardless of what it eventually returned.
func (s *ChatService) executeTools(ctx context.Context, session *toolSession, uses []llm.ToolUse) []string {
	results := make([]string, len(uses))

	g, gctx := errgroup.WithContext(ctx)
	for i, use := range uses {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, toolTimeout)
			defer cancel()

			out := session.Execute(tctx, use)
			outcome := observability.OutcomeOK
			if errors.Is(tctx.Err(), context.DeadlineExceeded) {
				out = jsonError(fmt.Sprintf("Tool %s timed out after %ds", use.Name, int(toolTimeout.Seconds())))
				outcome = observability.OutcomeTimeout
			}
			observability.DefaultMetrics.RecordToolExecution(metricToolName(use.Name), outcome)
			results[i] = out
			return nil
		})
	}
	// Workers only signal completion; results arrive via the slice.
	_ = g.Wait()

	return results
}

// collectReferences extracts location references from a tool result.
// Discovery tools yield "location" references from their result
// payloads; weather lookups yield a "weather" reference resolved to
// the location's display name. Each slug is collected once per
// conversation.
func (s *ChatService) collectReferences(ctx context.Context, use llm.ToolUse, result string, seen map[string]struct{}, refs *[]datatypes.Reference) {
	switch use.Name {
	case toolSearchLocations, toolListLocationsByTag:
		var parsed struct {
			Locations []struct {
				Slug string `json:"slug"`
				Name string `json:"name"`
			} `json:"locations"`
		}
		if err := json.Unmarshal([]byte(result), &parsed); err != nil {
			return
		}
		for _, loc := range parsed.Locations {
			if loc.Slug == "" {
				continue
			}
			if _, ok := seen[loc.Slug]; ok {
				continue
			}
			seen[loc.Slug] = struct{}{}
			name := loc.Name
			if name == "" {
				name = loc.Slug
			}
			*refs = append(*refs, datatypes.Reference{Slug: loc.Slug, Name: name, Type: "location"})
		}

	case toolGetWeather:
		var args toolArgs
		if len(use.Input) > 0 {
			_ = json.Unmarshal(use.Input, &args)
		}
		slug := args.LocationSlug
		if slug == "" {
			return
		}
		if _, ok := seen[slug]; ok {
			return
		}
		seen[slug] = struct{}{}

		name := slug
		if loc, err := s.store.LocationBySlug(ctx, slug); err == nil {
			name = loc.Name
		}
		*refs = append(*refs, datatypes.Reference{Slug: slug, Name: name, Type: "weather"})
	}
}

// systemPrompt renders the Shamwari system prompt: the stored template
// with the location sample, approximate catalogue size, activity
// catalogue, and the user's selected activities substituted in.
func (s *ChatService) systemPrompt(ctx context.Context, template string, userActivities []string) string {
	locations, count := s.context.ChatSample(ctx)
	activities := s.context.ActivityCatalog(ctx)

	locationList := joinNames(locations)
	if locationList == "" {
		locationList = noLocationSampleText
	}

	if len(activities) > maxActivitiesInPrompt {
		activities = activities[:maxActivitiesInPrompt]
	}
	parts := make([]string, 0, len(activities))
	for _, act := range activities {
		parts = append(parts, fmt.Sprintf("%s (%s)", act.Label, act.ID))
	}
	activityList := strings.Join(parts, ", ")
	if activityList == "" {
		activityList = noActivityListText
	}

	section := ""
	if len(userActivities) > 0 {
		section = "\nThe user has selected these activities as their interests: " + strings.Join(userActivities, ", ") + ".\n" +
			"When providing weather advice, prioritize information relevant to these activities.\n" +
			"Use the get_activity_advice tool to get structured suitability ratings."
	}

	return prompts.Apply(template, map[string]string{
		"locationList":        locationList,
		"locationCount":       count,
		"activityList":        activityList,
		"userActivitySection": section,
	})
}

// toolResultsMessage bundles a turn's tool outputs into the single
// user message the messages API expects.
func toolResultsMessage(uses []llm.ToolUse, results []string) llm.Message {
	blocks := make([]llm.ContentBlock, 0, len(uses))
	for i, use := range uses {
		blocks = append(blocks, llm.ContentBlock{
			Type:      llm.BlockToolResult,
			ToolUseID: use.ID,
			Content:   results[i],
		})
	}
	return llm.Message{Role: llm.RoleUser, Content: blocks}
}
