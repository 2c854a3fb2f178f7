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
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// ErrMissingSummaryInput is returned when the briefing request lacks
// weather data or a location. Handlers map it to a 400.
var ErrMissingSummaryInput = errors.New("services: missing weather data or location")

// =============================================================================
// Tiered Cache TTL
// =============================================================================

// Briefings for major centres refresh faster than the long tail: the
// ten tier-1 cities get 30 minutes, locations tagged with an economic
// sector get an hour, everything else two hours.
var (
	tier1Slugs = map[string]bool{
		"harare": true, "bulawayo": true, "mutare": true, "gweru": true,
		"masvingo": true, "kwekwe": true, "kadoma": true, "marondera": true,
		"chinhoyi": true, "victoria-falls": true,
	}
	tier2Tags = map[string]bool{
		"farming": true, "mining": true, "education": true, "border": true,
	}
)

// summaryTTL returns the cache lifetime for a location's briefing.
func summaryTTL(slug string, tags []string) time.Duration {
	if tier1Slugs[slug] {
		return 30 * time.Minute
	}
	for _, t := range tags {
		if tier2Tags[t] {
			return time.Hour
		}
	}
	return 2 * time.Hour
}

// =============================================================================
// SummaryService
// =============================================================================

// SummaryStore is the persistence surface the briefing pipeline reads
// and writes.
type SummaryStore interface {
	LocationBySlug(ctx context.Context, slug string) (*datatypes.Location, error)
	FreshSummary(ctx context.Context, slug string) (*datatypes.CachedSummary, error)
	UpsertSummary(ctx context.Context, slug, insight string, snapshot datatypes.SummarySnapshot, ttl time.Duration) error
	SeasonFor(ctx context.Context, countryCode string, month int) (*datatypes.SeasonDoc, error)
}

var _ SummaryStore = (*store.Store)(nil)

// SummaryService generates AI weather briefings with tiered caching.
// The client sends the weather payload it is already rendering; the
// service never refetches it.
type SummaryService struct {
	store    SummaryStore
	llm      llm.MessagesClient
	prompts  *prompts.Library
	breakers *breaker.Registry
	logger   *logging.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewSummaryService creates a SummaryService.
//
// Parameters:
//   - st: persistence gateway. Must not be nil.
//   - client: the LLM backend. May be nil, in which case every briefing
//     is the deterministic seasonal fallback.
//   - lib: prompt library. Must not be nil.
//   - breakers: shared breaker registry. Must not be nil.
//   - logger: nil falls back to the package default.
func NewSummaryService(
	st SummaryStore,
	client llm.MessagesClient,
	lib *prompts.Library,
	breakers *breaker.Registry,
	logger *logging.Logger,
) *SummaryService {
	if logger == nil {
		logger = logging.Default()
	}
	return &SummaryService{
		store:    st,
		llm:      client,
		prompts:  lib,
		breakers: breakers,
		logger:   logger,
		now:      time.Now,
	}
}

// Generate produces a briefing for a location.
//
// # Description
//
// The flow is:
//  1. Validate: weather data and a named location are required.
//  2. Derive the slug from the location name and load its tags, which
//     pick the cache tier.
//  3. Serve the cached insight when it is fresh and current conditions
//     have not drifted from its snapshot (temperature within 5 degrees,
//     same weather code).
//  4. Resolve the seasonal context from the seasons collection, falling
//     back to the embedded calendar.
//  5. Generate via the model, or compose the deterministic fallback
//     text when no client is configured, the circuit is open, or the
//     call fails.
//  6. Cache the insight under the tier TTL with a conditions snapshot.
//
// # Outputs
//
//   - *datatypes.SummaryResponse: GeneratedAt is set on cache hits (the
//     original generation time) and on model-path responses; the
//     no-client fallback omits it.
//   - error: ErrMissingSummaryInput only. Degraded paths still answer.
func (s *SummaryService) Generate(ctx context.Context, req *datatypes.SummaryRequest) (*datatypes.SummaryResponse, error) {
	ctx, span := tracer.Start(ctx, "SummaryService.Generate")
	defer span.End()

	// Step 1: Validate
	if req == nil || req.WeatherData == nil || req.Location == nil || req.Location.Name == "" {
		span.SetStatus(codes.Error, "missing input")
		return nil, ErrMissingSummaryInput
	}

	currentTemp := req.WeatherData.Current.TemperatureOrZero()
	currentCode := req.WeatherData.Current.WeatherCodeOrZero()
	slug := strings.ReplaceAll(strings.ToLower(req.Location.Name), " ", "-")
	span.SetAttributes(attribute.String("summary.slug", slug))

	// Step 2: Tags pick the cache tier. A missing location document
	// just means tier 3.
	var tags []string
	if loc, err := s.store.LocationBySlug(ctx, slug); err == nil && loc != nil {
		tags = loc.Tags
	}

	// Step 3: Serve from cache unless conditions drifted
	if cached, err := s.store.FreshSummary(ctx, slug); err == nil && cached != nil {
		if !cached.Stale(currentTemp, currentCode) {
			observability.DefaultMetrics.RecordCacheLookup("ai_summary", observability.CacheHit)
			span.SetAttributes(attribute.Bool("summary.cache_hit", true))
			return &datatypes.SummaryResponse{
				Insight:     cached.Insight,
				Cached:      true,
				GeneratedAt: cached.GeneratedAt.UTC().Format(time.RFC3339),
			}, nil
		}
		observability.DefaultMetrics.RecordCacheLookup("ai_summary", observability.CacheStale)
	} else {
		observability.DefaultMetrics.RecordCacheLookup("ai_summary", observability.CacheMiss)
	}

	// Step 4: Seasonal context
	season := resolveSeason(ctx, s.store, s.prompts, req.Location.CountryOrDefault(), s.now())

	// Step 5: Generate
	insight, modelPath := s.generateInsight(ctx, req, tags, season)

	// Step 6: Cache under the tier TTL
	snapshot := datatypes.SummarySnapshot{Temperature: currentTemp, WeatherCode: currentCode}
	if err := s.store.UpsertSummary(ctx, slug, insight, snapshot, summaryTTL(slug, tags)); err != nil {
		span.RecordError(err)
		s.logger.Warn("summary cache upsert failed", "slug", slug, "error", err)
	}

	resp := &datatypes.SummaryResponse{Insight: insight, Cached: false}
	if modelPath {
		resp.GeneratedAt = s.now().UTC().Format(time.RFC3339)
	}
	return resp, nil
}

// generateInsight returns the briefing text and whether the model path
// was taken. Breaker rejections and call failures degrade to the
// deterministic fallback; only a missing client skips the model path
// entirely.
func (s *SummaryService) generateInsight(ctx context.Context, req *datatypes.SummaryRequest, tags []string, season datatypes.Season) (string, bool) {
	if s.llm == nil {
		return fallbackInsight(req.WeatherData, req.Location.Name, season), false
	}

	prompt := s.prompts.Get(ctx, "system:summary")
	userPrompt := buildSummaryPrompt(req, tags, season)

	var insight string
	start := s.now()
	err := s.breakers.Get(upstreamAnthropic).Execute(ctx, func(ctx context.Context) error {
		resp, err := s.llm.Messages(ctx, llm.Request{
			Model:     prompt.Model,
			System:    prompt.Template,
			MaxTokens: prompt.MaxTokens,
			Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, userPrompt)},
		})
		if err != nil {
			return err
		}
		insight = resp.FirstText()
		return nil
	})
	seconds := time.Since(start).Seconds()
	if err != nil {
		observability.DefaultMetrics.RecordLLMCall("summary", classifyLLMError(err), seconds)
		s.logger.Warn("summary generation failed, serving fallback", "error", err)
		// A missing key means the model path was never really open, so
		// the response carries no generation timestamp.
		return fallbackInsight(req.WeatherData, req.Location.Name, season), !errors.Is(err, llm.ErrNoAPIKey)
	}
	observability.DefaultMetrics.RecordLLMCall("summary", observability.OutcomeOK, seconds)

	if insight == "" {
		insight = "No insight available."
	}
	return insight, true
}

// =============================================================================
// Prompt Assembly
// =============================================================================

// summaryInsightFields is the tomorrow.io metric subset surfaced to the
// model, in prompt order.
var summaryInsightFields = []struct{ field, label string }{
	{"heatStressIndex", "Heat stress index"},
	{"thunderstormProbability", "Thunderstorm probability"},
	{"uvHealthConcern", "UV health concern"},
	{"visibility", "Visibility"},
	{"dewPoint", "Dew point"},
	{"gdd10To30", "Maize/Soy GDD"},
	{"evapotranspiration", "Evapotranspiration"},
	{"moonPhase", "Moon phase"},
}

// buildSummaryPrompt composes the user message for the briefing call:
// location identity, the raw current block, compact forecast arrays,
// insight readings, and seasonal context.
func buildSummaryPrompt(req *datatypes.SummaryRequest, tags []string, season datatypes.Season) string {
	data := req.WeatherData
	activities := req.Activities
	if len(activities) > 3 {
		activities = activities[:3]
	}

	tagsLine := ""
	if len(tags) > 0 {
		tagsLine = fmt.Sprintf("This area is relevant to: %s.", strings.Join(tags, ", "))
	}
	activitiesLine := ""
	activitiesTip := "One industry/context-specific tip relevant to this area (e.g. farming advice for farming areas, safety for mining areas, travel conditions for border/travel areas, outdoor guidance for tourism/national parks)"
	if len(activities) > 0 {
		csv := strings.Join(activities, ", ")
		activitiesLine = fmt.Sprintf("The user's activities: %s. Tailor advice to these activities.", csv)
		activitiesTip = fmt.Sprintf("One specific tip for the user's activities (%s)", csv)
	}

	var maxTemps, minTemps []*float64
	var codeInts []*int
	if data.Daily != nil {
		maxTemps = data.Daily.TempMax
		minTemps = data.Daily.TempMin
		codeInts = data.Daily.WeatherCode
	}

	return fmt.Sprintf(`Generate a weather briefing for %s (elevation: %dm).
%s
%s

Current conditions: %s
3-day forecast summary: max temps %s, min temps %s, weather codes %s%s
Season: %s (%s)

Provide:
1. A 2-sentence general summary
2. %s`,
		req.Location.Name, req.Location.ElevationOrDefault(),
		tagsLine,
		activitiesLine,
		jsonOrEmpty(data.Current),
		jsonArray(maxTemps), jsonArray(minTemps), jsonIntArray(codeInts),
		insightsPromptLine(data.Insights),
		season.Shona, season.Name,
		activitiesTip,
	)
}

// insightsPromptLine renders the appended insights sentence, or "" when
// the payload carries none of the surfaced fields.
func insightsPromptLine(ins *datatypes.WeatherInsights) string {
	if ins.Empty() {
		return ""
	}
	var parts []string
	for _, f := range summaryInsightFields {
		if v, ok := ins.Metric(f.field); ok {
			parts = append(parts, fmt.Sprintf("%s: %s", f.label, strconv.FormatFloat(v, 'f', -1, 64)))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "\nWeather insights (from Tomorrow.io): " + strings.Join(parts, ", ")
}

// fallbackInsight is the deterministic briefing used when the model is
// unavailable. It is cached like a generated one, so a provider outage
// does not turn into a thundering herd when the circuit closes.
func fallbackInsight(data *datatypes.WeatherData, name string, season datatypes.Season) string {
	temp, humidity := "N/A", "N/A"
	if data != nil && data.Current != nil {
		if data.Current.Temperature != nil {
			temp = strconv.Itoa(int(math.Round(*data.Current.Temperature)))
		}
		if data.Current.RelativeHumidity != nil {
			humidity = strconv.FormatFloat(*data.Current.RelativeHumidity, 'f', -1, 64)
		}
	}
	return fmt.Sprintf(
		"Current conditions in %s: %s°C with %s%% humidity. We are in the %s season (%s). %s. Stay informed and plan your day accordingly.",
		name, temp, humidity, season.Shona, season.Name, season.Description,
	)
}

// jsonOrEmpty marshals the current block, standing in "{}" for an
// absent one so the prompt never says "null".
func jsonOrEmpty(v *datatypes.CurrentWeather) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// jsonArray marshals a forecast array, standing in "[]" for nil.
func jsonArray(arr []*float64) string {
	if len(arr) == 0 {
		return "[]"
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// jsonIntArray mirrors jsonArray for weather codes.
func jsonIntArray(arr []*int) string {
	if len(arr) == 0 {
		return "[]"
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return "[]"
	}
	return string(b)
}
