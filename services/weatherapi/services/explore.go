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

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// Explore search bounds. A single-query loop gets less room than chat,
// and result lists stay small enough to render as cards.
const (
	maxExploreIterations    = 3
	maxExploreResults       = 10
	maxExploreSearchHits    = 20
	maxExplorePromptSample  = 50
	maxExploreQueryInPrompt = 200
)

// ExploreStore is the subset of the persistence layer explore search
// reads. Weather lookups accept stale cache entries: explore renders
// approximate conditions, not forecasts.
type ExploreStore interface {
	AnyWeather(ctx context.Context, slug string) (*datatypes.WeatherData, string, error)
}

var _ ExploreStore = (*store.Store)(nil)

// exploreArgs is the union of explore tool arguments.
type exploreArgs struct {
	Query string `json:"query"`
	Tag   string `json:"tag"`
	Slug  string `json:"slug"`
}

// exploreWeatherDoc is the get_weather tool payload. Fields marshal as
// null when the cache entry omits them, so the model sees which
// conditions are actually known.
type exploreWeatherDoc struct {
	Slug          string   `json:"slug"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	WindSpeed     *float64 `json:"windSpeed"`
	WeatherCode   *int     `json:"weatherCode"`
	Precipitation *float64 `json:"precipitation"`
	UVIndex       *float64 `json:"uvIndex"`
	CloudCover    *float64 `json:"cloudCover"`
	Provider      string   `json:"provider"`
}

// ExploreService answers natural-language location queries: a short
// tool loop over the cached location block, degrading to plain text
// search whenever the model is unavailable. Search never fails; the
// fallback is the floor.
type ExploreService struct {
	store    ExploreStore
	llm      llm.MessagesClient
	prompts  *prompts.Library
	context  *ContextCache
	breakers *breaker.Registry
	logger   *logging.Logger
}

// NewExploreService creates an ExploreService.
//
// Parameters:
//   - st: persistence gateway. Must not be nil.
//   - client: messages client. Nil routes every query to the text
//     fallback.
//   - lib: prompt library. Must not be nil.
//   - contextCache: cached location block both paths scan. Must not be
//     nil.
//   - breakers: circuit breaker registry shared across the process.
//     Must not be nil.
//   - logger: nil falls back to the package default.
func NewExploreService(
	st ExploreStore,
	client llm.MessagesClient,
	lib *prompts.Library,
	contextCache *ContextCache,
	breakers *breaker.Registry,
	logger *logging.Logger,
) *ExploreService {
	if logger == nil {
		logger = logging.Default()
	}
	return &ExploreService{
		store:    st,
		llm:      client,
		prompts:  lib,
		context:  contextCache,
		breakers: breakers,
		logger:   logger,
	}
}

// Search answers one natural-language location query.
func (s *ExploreService) Search(ctx context.Context, query string) *datatypes.ExploreSearchResponse {
	ctx, span := tracer.Start(ctx, "services.explore_search")
	defer span.End()

	query = strings.TrimSpace(query)

	if s.llm == nil {
		span.SetAttributes(attribute.Bool("explore.fallback", true))
		return s.textFallback(ctx, query)
	}

	// Step 1: Render the system prompt over the live location sample.
	prompt := s.prompts.Get(ctx, "system:explore_search")
	locations := s.context.ExploreLocations(ctx)

	sample := locations
	if len(sample) > maxExplorePromptSample {
		sample = sample[:maxExplorePromptSample]
	}
	clamped := query
	if len(clamped) > maxExploreQueryInPrompt {
		clamped = clamped[:maxExploreQueryInPrompt]
	}
	system := prompts.Apply(prompt.Template, map[string]string{"query": clamped}) +
		"\n\nAvailable locations include: " + joinNames(sample)

	// Step 2: Run the tool loop. Any model failure, including an open
	// breaker, downgrades to text search.
	cb := s.breakers.Get(upstreamAnthropic)
	messages := []llm.Message{llm.TextMessage(llm.RoleUser, query)}

	var collected []*datatypes.ExploreLocation
	var lastText string

	for iteration := 0; iteration < maxExploreIterations; iteration++ {
		start := time.Now()
		var resp *llm.Response
		err := cb.Execute(ctx, func(callCtx context.Context) error {
			var callErr error
			resp, callErr = s.llm.Messages(callCtx, llm.Request{
				Model:     prompt.Model,
				System:    system,
				Messages:  messages,
				MaxTokens: prompt.MaxTokens,
				Tools:     exploreTools(),
			})
			return callErr
		})
		seconds := time.Since(start).Seconds()
		if err != nil {
			observability.DefaultMetrics.RecordLLMCall("explore_search", classifyLLMError(err), seconds)
			span.SetAttributes(attribute.Bool("explore.fallback", true))
			return s.textFallback(ctx, query)
		}
		observability.DefaultMetrics.RecordLLMCall("explore_search", observability.OutcomeOK, seconds)

		lastText = resp.Text()
		uses := resp.ToolUses()
		if len(uses) == 0 {
			break
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		results := make([]string, len(uses))
		for i, use := range uses {
			results[i] = s.execTool(ctx, use, &collected)
		}
		messages = append(messages, toolResultsMessage(uses, results))
	}

	// Step 3: Assemble the reply from whatever the loop surfaced.
	out := make([]datatypes.ExploreLocation, 0, maxExploreResults)
	for _, loc := range collected {
		if len(out) == maxExploreResults {
			break
		}
		out = append(out, *loc)
	}
	summary := lastText
	if summary == "" {
		summary = fmt.Sprintf("Found %d locations matching your search.", len(collected))
	}

	span.SetAttributes(attribute.Int("explore.locations", len(out)))
	return &datatypes.ExploreSearchResponse{Locations: out, Summary: summary}
}

// exploreTools returns explore's reduced tool set. The search tool
// scans the cached location block, so both arguments are optional.
func exploreTools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        toolSearchLocations,
			Description: "Search for locations by name, tag, or province. Returns matching locations.",
			InputSchema: objectSchema(map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query (location name, province, or keyword)",
				},
				"tag": map[string]any{
					"type":        "string",
					"description": "Filter by tag (city, farming, mining, tourism, etc.)",
				},
			}),
		},
		{
			Name:        toolGetWeather,
			Description: "Get current weather for a specific location by slug.",
			InputSchema: objectSchema(map[string]any{
				"slug": map[string]any{
					"type":        "string",
					"description": "Location slug (e.g. 'harare', 'victoria-falls')",
				},
			}, "slug"),
		},
	}
}

// execTool runs one explore tool call. Search hits and weather merges
// accumulate into collected as they stream past, so the HTTP response
// mirrors what the model saw.
func (s *ExploreService) execTool(ctx context.Context, use llm.ToolUse, collected *[]*datatypes.ExploreLocation) string {
	var args exploreArgs
	if len(use.Input) > 0 {
		_ = json.Unmarshal(use.Input, &args)
	}

	switch use.Name {
	case toolSearchLocations:
		hits := searchLocationContext(s.context.ExploreLocations(ctx), args.Query, args.Tag)
		for _, hit := range hits {
			if hit.Slug == "" || containsSlug(*collected, hit.Slug) {
				continue
			}
			c := hit
			*collected = append(*collected, &c)
		}
		payload, _ := json.Marshal(hits)
		return string(payload)

	case toolGetWeather:
		if !slugPattern.MatchString(args.Slug) {
			return jsonError("Invalid location slug")
		}
		data, provider, err := s.store.AnyWeather(ctx, args.Slug)
		if errors.Is(err, store.ErrNotFound) || (err == nil && data == nil) {
			return jsonError(fmt.Sprintf("No weather data for %s", args.Slug))
		}
		if err != nil {
			return jsonError("Weather data unavailable")
		}

		doc := buildExploreWeather(args.Slug, data, provider)
		mergeWeather(*collected, doc)
		payload, _ := json.Marshal(doc)
		return string(payload)

	default:
		return jsonError("Unknown tool")
	}
}

// searchLocationContext filters the cached location block the way the
// explore search tool matches: substring on name or province, exact
// tag membership, everything when both arguments are empty.
func searchLocationContext(locations []datatypes.Location, query, tag string) []datatypes.ExploreLocation {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(strings.TrimSpace(tag))

	hits := make([]datatypes.ExploreLocation, 0, maxExploreSearchHits)
	for _, loc := range locations {
		name := strings.ToLower(loc.Name)
		province := strings.ToLower(loc.Province)

		match := false
		if q != "" && (strings.Contains(name, q) || strings.Contains(province, q)) {
			match = true
		}
		if t != "" && containsTag(loc.Tags, t) {
			match = true
		}
		if q == "" && t == "" {
			match = true
		}
		if !match {
			continue
		}

		hits = append(hits, exploreDoc(loc))
		if len(hits) == maxExploreSearchHits {
			break
		}
	}
	return hits
}

// textFallback is the no-AI search: substring match over the cached
// location block with whatever cached weather exists attached. The
// summary counts every match even though only the first ten render.
func (s *ExploreService) textFallback(ctx context.Context, query string) *datatypes.ExploreSearchResponse {
	locations := s.context.ExploreLocations(ctx)
	q := strings.ToLower(strings.TrimSpace(query))

	matches := 0
	out := make([]datatypes.ExploreLocation, 0, maxExploreResults)
	for _, loc := range locations {
		name := strings.ToLower(loc.Name)
		province := strings.ToLower(loc.Province)
		tags := strings.Join(loc.Tags, " ")
		if !strings.Contains(name, q) && !strings.Contains(province, q) && !strings.Contains(tags, q) {
			continue
		}

		matches++
		if len(out) == maxExploreResults {
			continue
		}

		doc := exploreDoc(loc)
		if data, _, err := s.store.AnyWeather(ctx, loc.Slug); err == nil && data != nil && data.Current != nil {
			doc.Temperature = data.Current.Temperature
			doc.WeatherCode = data.Current.WeatherCode
		}
		out = append(out, doc)
	}

	summary := fmt.Sprintf("No locations found matching %q. Try a different search term.", query)
	if matches > 0 {
		summary = fmt.Sprintf("Found %d locations matching %q.", matches, query)
	}
	return &datatypes.ExploreSearchResponse{Locations: out, Summary: summary}
}

// =============================================================================
// Helpers
// =============================================================================

// exploreDoc renders a catalogue entry as an explore result. Weather
// fields stay unset until a get_weather call merges them.
func exploreDoc(loc datatypes.Location) datatypes.ExploreLocation {
	tags := loc.Tags
	if tags == nil {
		tags = []string{}
	}
	return datatypes.ExploreLocation{
		Slug:     loc.Slug,
		Name:     loc.Name,
		Province: loc.Province,
		Country:  loc.CountryOrDefault(),
		Tags:     tags,
	}
}

// buildExploreWeather renders a cache entry as the get_weather tool
// payload.
func buildExploreWeather(slug string, data *datatypes.WeatherData, provider string) exploreWeatherDoc {
	if provider == "" {
		provider = "unknown"
	}
	current := data.Current
	if current == nil {
		current = &datatypes.CurrentWeather{}
	}
	return exploreWeatherDoc{
		Slug:          slug,
		Temperature:   current.Temperature,
		Humidity:      current.RelativeHumidity,
		WindSpeed:     current.WindSpeed,
		WeatherCode:   current.WeatherCode,
		Precipitation: current.Precipitation,
		UVIndex:       current.UVIndex,
		CloudCover:    current.CloudCover,
		Provider:      provider,
	}
}

// mergeWeather copies the headline conditions onto an already
// collected location. Uncollected slugs are skipped: the model still
// has the full document in its tool result.
func mergeWeather(collected []*datatypes.ExploreLocation, doc exploreWeatherDoc) {
	for _, loc := range collected {
		if loc.Slug == doc.Slug {
			loc.Temperature = doc.Temperature
			loc.WeatherCode = doc.WeatherCode
			loc.Humidity = doc.Humidity
			loc.WindSpeed = doc.WindSpeed
			return
		}
	}
}

func containsSlug(collected []*datatypes.ExploreLocation, slug string) bool {
	for _, loc := range collected {
		if loc.Slug == slug {
			return true
		}
	}
	return false
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
