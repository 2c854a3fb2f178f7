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
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
)

// Follow-up prompt bounds. The client sends the summary it is already
// rendering; the prompt quotes at most this much of it, while the
// pre-seeded assistant turn keeps the full text.
const (
	maxFollowupActivities = 5
	maxFollowupSummary    = 500
)

// Degradation texts for the follow-up endpoint. They point users back
// at the weather panel, which works without the model.
const (
	followupBreakerOpenText = "AI follow-up is temporarily unavailable while the service recovers. The weather data above is still available."
	followupUpstreamText    = "I'm having trouble connecting right now. The weather data above is still available."
	followupEmptyText       = "I wasn't able to generate a response."
)

// FollowupService answers questions about weather the client is
// already displaying. No tools: the location page seeds the context,
// so one model call answers each turn.
type FollowupService struct {
	llm      llm.MessagesClient
	prompts  *prompts.Library
	breakers *breaker.Registry
	logger   *logging.Logger
}

// NewFollowupService creates a FollowupService.
//
// Parameters:
//   - client: messages client. Nil makes every answer the degraded
//     connection text.
//   - lib: prompt library. Must not be nil.
//   - breakers: circuit breaker registry shared across the process.
//     Must not be nil.
//   - logger: nil falls back to the package default.
func NewFollowupService(
	client llm.MessagesClient,
	lib *prompts.Library,
	breakers *breaker.Registry,
	logger *logging.Logger,
) *FollowupService {
	if logger == nil {
		logger = logging.Default()
	}
	return &FollowupService{
		llm:      client,
		prompts:  lib,
		breakers: breakers,
		logger:   logger,
	}
}

// Answer runs one follow-up turn.
//
// Soft failures return a canned reply with Error set and a nil error.
// The only errors returned are llm.ErrRateLimited (handler maps to
// 429) and llm.ErrNoAPIKey (handler maps to 503).
func (s *FollowupService) Answer(ctx context.Context, req *datatypes.FollowupRequest) (*datatypes.FollowupResponse, error) {
	ctx, span := tracer.Start(ctx, "services.followup")
	defer span.End()

	if s.llm == nil {
		return &datatypes.FollowupResponse{Response: followupUpstreamText, Error: true}, nil
	}

	// Step 1: Seed the conversation with the summary the client is
	// showing, so the model can refer back to it.
	history := datatypes.NormalizeHistory(req.History)
	messages := make([]llm.Message, 0, len(history)+2)
	if req.WeatherSummary != "" {
		messages = append(messages, llm.TextMessage(llm.RoleAssistant, req.WeatherSummary))
	}
	for _, m := range history {
		messages = append(messages, llm.TextMessage(m.Role, m.Content))
	}
	messages = append(messages, llm.TextMessage(llm.RoleUser, strings.TrimSpace(req.Message)))

	span.SetAttributes(
		attribute.String("followup.location", req.LocationSlug),
		attribute.Int("followup.history_turns", len(history)),
	)

	// Step 2: Render the system prompt.
	prompt := s.prompts.Get(ctx, "system:followup")
	system := followupSystemPrompt(prompt.Template, req)

	// Step 3: One model call through the breaker.
	start := time.Now()
	var resp *llm.Response
	err := s.breakers.Get(upstreamAnthropic).Execute(ctx, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = s.llm.Messages(callCtx, llm.Request{
			Model:     prompt.Model,
			System:    system,
			Messages:  messages,
			MaxTokens: prompt.MaxTokens,
		})
		return callErr
	})
	seconds := time.Since(start).Seconds()

	if err != nil {
		observability.DefaultMetrics.RecordLLMCall("followup", classifyLLMError(err), seconds)
		switch {
		case errors.Is(err, breaker.ErrOpen):
			return &datatypes.FollowupResponse{Response: followupBreakerOpenText, Error: true}, nil
		case errors.Is(err, llm.ErrRateLimited), errors.Is(err, llm.ErrNoAPIKey):
			return nil, err
		default:
			s.logger.Warn("followup model call failed", "error", err)
			return &datatypes.FollowupResponse{Response: followupUpstreamText, Error: true}, nil
		}
	}
	observability.DefaultMetrics.RecordLLMCall("followup", observability.OutcomeOK, seconds)

	reply := resp.FirstText()
	if reply == "" {
		reply = followupEmptyText
	}
	return &datatypes.FollowupResponse{Response: reply}, nil
}

// followupSystemPrompt substitutes the location page's context into
// the follow-up template.
func followupSystemPrompt(template string, req *datatypes.FollowupRequest) string {
	summary := req.WeatherSummary
	if len(summary) > maxFollowupSummary {
		summary = summary[:maxFollowupSummary]
	}

	activities := req.Activities
	if len(activities) > maxFollowupActivities {
		activities = activities[:maxFollowupActivities]
	}
	activityList := strings.Join(activities, ", ")
	if activityList == "" {
		activityList = "none selected"
	}

	season := req.Season
	if season == "" {
		season = "unknown"
	}

	return prompts.Apply(template, map[string]string{
		"locationName":   req.LocationName,
		"locationSlug":   req.LocationSlug,
		"weatherSummary": summary,
		"activities":     activityList,
		"season":         season,
	})
}
