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
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// toolTimeout bounds one tool execution and one model call inside the
// conversation loop.
const toolTimeout = 15 * time.Second

// Tool names offered to the model.
const (
	toolSearchLocations    = "search_locations"
	toolGetWeather         = "get_weather"
	toolGetActivityAdvice  = "get_activity_advice"
	toolListLocationsByTag = "list_locations_by_tag"
)

// slugPattern matches location slugs accepted from model tool calls.
// Anything else is reported back to the model instead of reaching the
// store.
var slugPattern = regexp.MustCompile(`^[a-z0-9-]{1,80}$`)

// knownTags are the tags list_locations_by_tag accepts, sorted for the
// rejection message.
var knownTags = []string{
	"border", "city", "education", "farming",
	"mining", "national-park", "tourism", "travel",
}

// searchQueryLimit clamps tool search queries the same way the HTTP
// search endpoint clamps user queries.
const searchQueryLimit = 200

// ToolStore is the subset of the persistence layer tool executions
// read.
type ToolStore interface {
	FuzzySearchLocations(ctx context.Context, q string) ([]datatypes.Location, error)
	FreshWeather(ctx context.Context, slug string) (*datatypes.WeatherData, string, error)
	ActivitiesByIDs(ctx context.Context, ids []string) ([]datatypes.Activity, error)
	SuitabilityRulesByKeys(ctx context.Context, keys []string) ([]datatypes.SuitabilityRule, error)
	LocationsByTag(ctx context.Context, tag string, limit int64) ([]datatypes.Location, error)
	LocationBySlug(ctx context.Context, slug string) (*datatypes.Location, error)
}

var _ ToolStore = (*store.Store)(nil)

// =============================================================================
// Tool definitions
// =============================================================================

// chatTools returns the tool set the chat loop offers the model.
// Descriptions are written for the model, not for humans: they name
// the arguments by example so small models fill them correctly.
func chatTools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        toolSearchLocations,
			Description: "Search for locations by name, province, or keyword. Returns matching locations with slugs.",
			InputSchema: objectSchema(map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query (e.g. 'Harare', 'farming areas', 'Victoria Falls')",
				},
			}, "query"),
		},
		{
			Name:        toolGetWeather,
			Description: "Get current weather conditions and forecast for a specific location by its slug.",
			InputSchema: objectSchema(map[string]any{
				"location_slug": map[string]any{
					"type":        "string",
					"description": "Location slug (e.g. 'harare', 'victoria-falls')",
				},
			}, "location_slug"),
		},
		{
			Name:        toolGetActivityAdvice,
			Description: "Get weather suitability advice for specific activities at a location.",
			InputSchema: objectSchema(map[string]any{
				"location_slug": map[string]any{
					"type":        "string",
					"description": "Location slug",
				},
				"activities": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Activity IDs to evaluate (e.g. ['running', 'drone-flying'])",
				},
			}, "location_slug", "activities"),
		},
		{
			Name:        toolListLocationsByTag,
			Description: "List locations that have a specific tag (e.g. 'farming', 'mining', 'tourism').",
			InputSchema: objectSchema(map[string]any{
				"tag": map[string]any{
					"type":        "string",
					"description": "Tag to filter by (e.g. 'farming', 'mining', 'city', 'tourism')",
				},
			}, "tag"),
		},
	}
}

// objectSchema builds the JSON schema shape the messages API expects
// for tool input.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// metricToolName maps a model-supplied tool name onto the bounded
// label set the tool execution counter uses.
func metricToolName(name string) string {
	switch name {
	case toolSearchLocations, toolGetWeather, toolGetActivityAdvice, toolListLocationsByTag:
		return name
	default:
		return "unknown"
	}
}

// =============================================================================
// Tool session
// =============================================================================

// toolArgs is the union of arguments across the tool schemas. Missing
// or malformed fields decode to zero values, which the executors
// report back to the model.
type toolArgs struct {
	Query        string   `json:"query"`
	LocationSlug string   `json:"location_slug"`
	Activities   []string `json:"activities"`
	Tag          string   `json:"tag"`
}

// weatherPayload is a memoized get_weather result: the document
// returned to the model plus the typed insights get_activity_advice
// evaluates against.
type weatherPayload struct {
	result   map[string]any
	insights *datatypes.WeatherInsights
}

// toolSession carries the per-conversation memos shared by tool
// executions: weather payloads by slug and suitability rules by key.
// Tool calls from one assistant turn run concurrently, so the memos
// are guarded by mu; advice evaluation holds the lock for its rule
// fetches because the evaluator writes the rule memo directly.
type toolSession struct {
	store ToolStore

	mu      sync.Mutex
	weather map[string]weatherPayload
	rules   map[string]*datatypes.SuitabilityRule
}

// newToolSession returns a session with empty memos. Sessions are per
// conversation request and never reused.
func newToolSession(st ToolStore) *toolSession {
	return &toolSession{
		store:   st,
		weather: make(map[string]weatherPayload),
		rules:   make(map[string]*datatypes.SuitabilityRule),
	}
}

// Execute runs one tool call and returns the JSON document fed back to
// the model. Failures are reported inside the document rather than as
// errors so the model can read them and adjust.
func (s *toolSession) Execute(ctx context.Context, use llm.ToolUse) string {
	var args toolArgs
	if len(use.Input) > 0 {
		_ = json.Unmarshal(use.Input, &args)
	}

	var result map[string]any
	switch use.Name {
	case toolSearchLocations:
		result = s.searchLocations(ctx, args.Query)
	case toolGetWeather:
		result = s.weatherBySlug(ctx, args.LocationSlug).result
	case toolGetActivityAdvice:
		result = s.activityAdvice(ctx, args.LocationSlug, args.Activities)
	case toolListLocationsByTag:
		result = s.locationsByTag(ctx, args.Tag)
	default:
		result = map[string]any{"error": fmt.Sprintf("Unknown tool: %s", use.Name)}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return jsonError(fmt.Sprintf("Tool execution failed: %s", truncate(err.Error(), 200)))
	}
	return string(payload)
}

// jsonError renders a bare error document for the model.
func jsonError(msg string) string {
	payload, _ := json.Marshal(map[string]any{"error": msg})
	return string(payload)
}

// =============================================================================
// Executors
// =============================================================================

// searchLocations backs the search_locations tool. An empty query
// yields an empty result set rather than an error so the model retries
// with something better.
func (s *toolSession) searchLocations(ctx context.Context, query string) map[string]any {
	q := strings.TrimSpace(query)
	if len(q) > searchQueryLimit {
		q = q[:searchQueryLimit]
	}
	if q == "" {
		return map[string]any{"locations": []any{}, "total": 0}
	}

	locs, err := s.store.FuzzySearchLocations(ctx, q)
	if err != nil {
		return map[string]any{"locations": []any{}, "total": 0, "error": "Search unavailable"}
	}
	return map[string]any{"locations": locationDocs(locs, true), "total": len(locs)}
}

// weatherBySlug backs the get_weather tool. Successful lookups are
// memoized for the conversation so repeated references to one location
// hit the store once.
func (s *toolSession) weatherBySlug(ctx context.Context, slug string) weatherPayload {
	if !slugPattern.MatchString(slug) {
		return weatherPayload{result: map[string]any{"error": fmt.Sprintf("Invalid slug: %s", slug)}}
	}

	s.mu.Lock()
	cached, ok := s.weather[slug]
	s.mu.Unlock()
	if ok {
		return cached
	}

	data, _, err := s.store.FreshWeather(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return weatherPayload{result: map[string]any{
			"error": fmt.Sprintf("No cached weather for %s. Weather data may not be available yet.", slug),
		}}
	}
	if err != nil {
		return weatherPayload{result: map[string]any{
			"error": fmt.Sprintf("Failed to fetch weather: %s", truncate(err.Error(), 100)),
		}}
	}

	payload := buildWeatherPayload(slug, data)
	s.mu.Lock()
	s.weather[slug] = payload
	s.mu.Unlock()
	return payload
}

// activityAdvice backs the get_activity_advice tool. Ratings are
// evaluated server-side against stored rules so the model reports
// rather than invents suitability.
func (s *toolSession) activityAdvice(ctx context.Context, slug string, ids []string) map[string]any {
	weather := s.weatherBySlug(ctx, slug)
	if msg, ok := weather.result["error"]; ok {
		return map[string]any{"error": msg}
	}
	if weather.insights == nil || weather.insights.Empty() {
		return map[string]any{"message": "No detailed insights available for suitability evaluation at this location."}
	}

	s.mu.Lock()
	ratings := RateActivities(ctx, s.store, ids, weather.insights, s.rules)
	s.mu.Unlock()

	return map[string]any{"ratings": ratings}
}

// locationsByTag backs the list_locations_by_tag tool. Tags outside
// the known set are rejected with the full list so the model corrects
// itself instead of probing.
func (s *toolSession) locationsByTag(ctx context.Context, tag string) map[string]any {
	if !isKnownTag(tag) {
		return map[string]any{
			"error": fmt.Sprintf("Unknown tag: %s. Valid tags: %s", tag, strings.Join(knownTags, ", ")),
		}
	}

	locs, err := s.store.LocationsByTag(ctx, tag, 20)
	if err != nil {
		return map[string]any{"locations": []any{}, "total": 0, "error": "Database unavailable"}
	}

	var note any
	if len(locs) == 20 {
		note = "Showing up to 20 locations. Use search_locations for more specific queries."
	}
	return map[string]any{
		"tag":       tag,
		"locations": locationDocs(locs, false),
		"total":     len(locs),
		"note":      note,
	}
}

func isKnownTag(tag string) bool {
	for _, t := range knownTags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// Payload builders
// =============================================================================

// locationDocs renders locations the way the discovery tools report
// them. Tags ride along only for search results.
func locationDocs(locs []datatypes.Location, withTags bool) []map[string]any {
	docs := make([]map[string]any, 0, len(locs))
	for _, loc := range locs {
		doc := map[string]any{
			"slug":     loc.Slug,
			"name":     loc.Name,
			"province": loc.Province,
		}
		if withTags {
			tags := loc.Tags
			if tags == nil {
				tags = []string{}
			}
			doc["tags"] = tags
		}
		docs = append(docs, doc)
	}
	return docs
}

// buildWeatherPayload renders a cached weather document into the
// compact shape the model reads: current conditions, a three-day
// forecast, and whichever insights the provider reported.
func buildWeatherPayload(slug string, data *datatypes.WeatherData) weatherPayload {
	current := data.Current
	if current == nil {
		current = &datatypes.CurrentWeather{}
	}
	daily := data.Daily
	if daily == nil {
		daily = &datatypes.DailyWeather{}
	}

	result := map[string]any{
		"location": slug,
		"current": map[string]any{
			"temperature":   current.Temperature,
			"humidity":      current.RelativeHumidity,
			"windSpeed":     current.WindSpeed,
			"weatherCode":   current.WeatherCode,
			"precipitation": current.Precipitation,
			"cloudCover":    current.CloudCover,
			"uvIndex":       current.UVIndex,
			"pressure":      current.SurfacePressure,
		},
		"forecast": map[string]any{
			"maxTemps":     clip(daily.TempMax, 3),
			"minTemps":     clip(daily.TempMin, 3),
			"weatherCodes": clip(daily.WeatherCode, 3),
		},
	}

	payload := weatherPayload{result: result}
	if data.Insights != nil && !data.Insights.Empty() {
		// Omitempty on the insight fields drops unreported metrics
		// from the document.
		result["insights"] = data.Insights
		payload.insights = data.Insights
	}
	return payload
}

// clip bounds a forecast array to n entries, normalizing nil to an
// empty array for the model.
func clip[T any](vals []T, n int) []T {
	if vals == nil {
		return []T{}
	}
	if len(vals) > n {
		return vals[:n]
	}
	return vals
}
