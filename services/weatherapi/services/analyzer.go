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
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
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

// Lookup failures the handler maps onto 404s.
var (
	ErrUnknownLocation = errors.New("services: unknown location")
	ErrNoHistory       = errors.New("services: no history for period")
)

// analysisCacheTTL bounds how long a generated analysis is reused. The
// cache key is content-addressed, so the TTL only matters when the
// underlying history has not changed.
const analysisCacheTTL = time.Hour

// Degradation texts. The stats block is always computed locally, so a
// model outage downgrades the narrative instead of failing the request.
const (
	analysisRecoveringText  = "AI analysis is temporarily unavailable while the service recovers. The statistical summary is available above."
	analysisUnavailableText = "AI analysis is temporarily unavailable. The statistical summary is available above."
	analysisEmptyText       = "Unable to generate analysis."
)

// =============================================================================
// AnalyzerService
// =============================================================================

// AnalyzerStore is the persistence surface the analyser consumes.
type AnalyzerStore interface {
	LocationBySlug(ctx context.Context, slug string) (*datatypes.Location, error)
	HistoryAsc(ctx context.Context, slug string, since time.Time) ([]datatypes.HistoryRecord, error)
	FreshAnalysis(ctx context.Context, cacheKey string) (*datatypes.CachedAnalysis, error)
	UpsertAnalysis(ctx context.Context, doc *datatypes.CachedAnalysis) error
	SeasonFor(ctx context.Context, countryCode string, month int) (*datatypes.SeasonDoc, error)
}

var _ AnalyzerStore = (*store.Store)(nil)

// AnalyzerService turns multi-day history into an LLM narrative driven
// by server-computed statistics. Aggregation happens here so the model
// sees roughly 800 tokens of stats instead of the raw record array.
type AnalyzerService struct {
	store    AnalyzerStore
	llm      llm.MessagesClient
	prompts  *prompts.Library
	breakers *breaker.Registry
	logger   *logging.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewAnalyzerService creates an AnalyzerService. A nil client degrades
// every analysis to the stats block plus a canned notice.
func NewAnalyzerService(
	st AnalyzerStore,
	client llm.MessagesClient,
	lib *prompts.Library,
	breakers *breaker.Registry,
	logger *logging.Logger,
) *AnalyzerService {
	if logger == nil {
		logger = logging.Default()
	}
	return &AnalyzerService{
		store:    st,
		llm:      client,
		prompts:  lib,
		breakers: breakers,
		logger:   logger,
		now:      time.Now,
	}
}

// Analyze produces the trend analysis for a location window.
//
// # Description
//
// The flow is:
//  1. Resolve the location; unknown slugs are ErrUnknownLocation.
//  2. Load the window's history ascending; an empty window is
//     ErrNoHistory.
//  3. Derive the content-addressed cache key from the ordered
//     (date, temperature) sequence and serve a fresh cached analysis
//     when the data has not changed.
//  4. Aggregate the stats block locally.
//  5. Generate the narrative through the breaker; rate limits surface
//     as llm.ErrRateLimited for the handler's 429, every other failure
//     degrades to the stats block plus a canned notice.
//  6. Cache successful generations for an hour, best-effort.
//
// # Outputs
//
//   - *datatypes.AnalyzeResponse: never nil on nil error; Error marks
//     degraded narratives.
//   - error: ErrUnknownLocation, ErrNoHistory, or llm.ErrRateLimited.
func (s *AnalyzerService) Analyze(ctx context.Context, req *datatypes.AnalyzeRequest) (*datatypes.AnalyzeResponse, error) {
	ctx, span := tracer.Start(ctx, "AnalyzerService.Analyze")
	defer span.End()

	slug := strings.ToLower(strings.TrimSpace(req.Location))
	days := req.DaysOrDefault()
	span.SetAttributes(
		attribute.String("analyze.slug", slug),
		attribute.Int("analyze.days", days),
	)

	// Step 1: Resolve the location
	loc, err := s.store.LocationBySlug(ctx, slug)
	if err != nil || loc == nil {
		span.SetStatus(codes.Error, "unknown location")
		return nil, ErrUnknownLocation
	}

	// Step 2: Load the window
	since := s.now().UTC().AddDate(0, 0, -days)
	history, err := s.store.HistoryAsc(ctx, slug, since)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("services: load history: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrNoHistory
	}

	// Step 3: Content-addressed cache lookup
	cacheKey := analysisCacheKey(slug, days, history)
	if cached, err := s.store.FreshAnalysis(ctx, cacheKey); err == nil && cached != nil && cached.Analysis != "" {
		observability.DefaultMetrics.RecordCacheLookup("history_analysis", observability.CacheHit)
		span.SetAttributes(attribute.Bool("analyze.cache_hit", true))
		return &datatypes.AnalyzeResponse{
			Analysis:   cached.Analysis,
			Stats:      cached.Stats,
			Cached:     true,
			DataPoints: len(history),
		}, nil
	}
	observability.DefaultMetrics.RecordCacheLookup("history_analysis", observability.CacheMiss)

	// Step 4: Aggregate locally
	stats := aggregateHistoryStats(history)

	// Step 5: Generate
	season := resolveSeason(ctx, s.store, s.prompts, loc.CountryOrDefault(), s.now())
	analysis, err := s.generateAnalysis(ctx, loc, days, req.Activities, season, stats)
	if err != nil {
		if errors.Is(err, llm.ErrRateLimited) {
			return nil, err
		}
		text := analysisUnavailableText
		if errors.Is(err, breaker.ErrOpen) {
			text = analysisRecoveringText
		}
		return &datatypes.AnalyzeResponse{
			Analysis:   text,
			Stats:      stats,
			Error:      true,
			DataPoints: len(history),
		}, nil
	}

	// Step 6: Cache the generation
	now := s.now().UTC()
	doc := &datatypes.CachedAnalysis{
		CacheKey:     cacheKey,
		LocationSlug: slug,
		Days:         days,
		Analysis:     analysis,
		Stats:        stats,
		AnalyzedAt:   now,
		ExpiresAt:    now.Add(analysisCacheTTL),
	}
	if err := s.store.UpsertAnalysis(ctx, doc); err != nil {
		span.RecordError(err)
		s.logger.Warn("analysis cache upsert failed", "slug", slug, "error", err)
	}

	return &datatypes.AnalyzeResponse{
		Analysis:   analysis,
		Stats:      stats,
		DataPoints: len(history),
	}, nil
}

// generateAnalysis runs the breaker-gated model call. A nil client is
// reported like a missing key so the caller degrades the same way.
func (s *AnalyzerService) generateAnalysis(
	ctx context.Context,
	loc *datatypes.Location,
	days int,
	activities []string,
	season datatypes.Season,
	stats string,
) (string, error) {
	if s.llm == nil {
		return "", llm.ErrNoAPIKey
	}

	prompt := s.prompts.Get(ctx, "system:history_analysis")
	system := prompts.Apply(prompt.Template, map[string]string{
		"locationName": loc.Name,
		"days":         fmt.Sprintf("%d", days),
	})
	user := buildAnalysisUserPrompt(loc, season, activities, stats)

	var analysis string
	start := s.now()
	err := s.breakers.Get(upstreamAnthropic).Execute(ctx, func(ctx context.Context) error {
		resp, err := s.llm.Messages(ctx, llm.Request{
			Model:     prompt.Model,
			System:    system,
			MaxTokens: prompt.MaxTokens,
			Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, user)},
		})
		if err != nil {
			return err
		}
		analysis = resp.FirstText()
		return nil
	})
	seconds := time.Since(start).Seconds()
	if err != nil {
		observability.DefaultMetrics.RecordLLMCall("analysis", classifyLLMError(err), seconds)
		s.logger.Warn("history analysis generation failed", "slug", loc.Slug, "error", err)
		return "", err
	}
	observability.DefaultMetrics.RecordLLMCall("analysis", observability.OutcomeOK, seconds)

	if analysis == "" {
		analysis = analysisEmptyText
	}
	return analysis, nil
}

// buildAnalysisUserPrompt composes the user message: location identity,
// seasonal context, optional activity focus, and the stats block.
func buildAnalysisUserPrompt(loc *datatypes.Location, season datatypes.Season, activities []string, stats string) string {
	activitiesNote := ""
	if len(activities) > 0 {
		if len(activities) > 5 {
			activities = activities[:5]
		}
		activitiesNote = fmt.Sprintf("\nUser activities: %s. Focus recommendations on these.", strings.Join(activities, ", "))
	}

	return fmt.Sprintf(`Analyze this weather history for %s (elevation: %dm).
Season: %s (%s) - %s
%s

Statistical summary:
%s`,
		loc.Name, loc.Elevation,
		season.Shona, season.Name, season.Description,
		activitiesNote,
		stats,
	)
}

// =============================================================================
// Content-Addressed Cache Key
// =============================================================================

// analysisCacheKey derives "{slug}:{days}:{hash12}" where hash12 is the
// 12-hex-char MD5 of the ordered (date, temperature) pairs. Any change
// to the underlying window moves the key, so no explicit invalidation
// is needed.
func analysisCacheKey(slug string, days int, history []datatypes.HistoryRecord) string {
	type pair struct {
		D string   `json:"d"`
		T *float64 `json:"t"`
	}
	pairs := make([]pair, 0, len(history))
	for i := range history {
		rec := &history[i]
		p := pair{D: recordDate(rec)}
		if rec.Current != nil {
			p.T = rec.Current.Temperature
		}
		pairs = append(pairs, p)
	}
	encoded, _ := json.Marshal(pairs)
	sum := md5.Sum(encoded)
	return fmt.Sprintf("%s:%d:%x", slug, days, sum[:6])
}

// recordDate is the calendar date of a history record: the forecast
// day when one was captured, otherwise the record timestamp.
func recordDate(rec *datatypes.HistoryRecord) string {
	if rec.Daily != nil && rec.Daily.Date != "" {
		return rec.Daily.Date
	}
	return rec.RecordedAt.UTC().Format("2006-01-02")
}

// =============================================================================
// Stats Aggregation
// =============================================================================

// wmoNames maps the codes produced by the pipeline's WMO normalization
// to display labels for the conditions line.
var wmoNames = map[int]string{
	0: "Clear", 1: "Mainly clear", 2: "Partly cloudy", 3: "Overcast",
	45: "Fog", 48: "Fog", 51: "Light drizzle", 53: "Moderate drizzle",
	55: "Dense drizzle", 61: "Slight rain", 63: "Moderate rain",
	65: "Heavy rain", 71: "Slight snow", 73: "Moderate snow",
	75: "Heavy snow", 80: "Slight showers", 81: "Moderate showers",
	82: "Violent showers", 95: "Thunderstorm", 96: "Thunderstorm+hail",
	99: "Thunderstorm+heavy hail",
}

// aggregateHistoryStats collapses the raw window into the line-oriented
// stats block the model analyzes. Records missing a metric are skipped
// for that metric rather than zero-filled.
func aggregateHistoryStats(records []datatypes.HistoryRecord) string {
	if len(records) == 0 {
		return "No data available for the selected period."
	}

	var (
		tempsHigh, tempsLow   []float64
		feelsHigh, feelsLow   []float64
		precip                []float64
		humidity, wind, gusts []float64
		uv, pressure, cloud   []float64
		heatStress, storms    []float64
		gdd                   []float64
		rainyDays             int
		codeCounts            = map[int]int{}
		dates                 []string
	)

	for i := range records {
		rec := &records[i]
		current := rec.Current
		daily := rec.Daily
		dates = append(dates, recordDate(rec))

		// Daily high/low, falling back to the current temperature for
		// the high when no daily block was captured.
		switch {
		case daily != nil && daily.TempMax != nil:
			tempsHigh = append(tempsHigh, *daily.TempMax)
		case current != nil && current.Temperature != nil:
			tempsHigh = append(tempsHigh, *current.Temperature)
		}
		if daily != nil && daily.TempMin != nil {
			tempsLow = append(tempsLow, *daily.TempMin)
		}

		if daily != nil && daily.ApparentTempMax != nil {
			feelsHigh = append(feelsHigh, *daily.ApparentTempMax)
		}
		if daily != nil && daily.ApparentTempMin != nil {
			feelsLow = append(feelsLow, *daily.ApparentTempMin)
		}

		if daily != nil && daily.PrecipSum != nil {
			precip = append(precip, *daily.PrecipSum)
			if *daily.PrecipSum > 0.1 {
				rainyDays++
			}
		}

		if current != nil {
			if current.RelativeHumidity != nil {
				humidity = append(humidity, *current.RelativeHumidity)
			}
			if current.WindSpeed != nil {
				wind = append(wind, *current.WindSpeed)
			}
			if current.WindGusts != nil {
				gusts = append(gusts, *current.WindGusts)
			}
			if current.SurfacePressure != nil {
				pressure = append(pressure, *current.SurfacePressure)
			}
			if current.CloudCover != nil {
				cloud = append(cloud, *current.CloudCover)
			}
		}

		switch {
		case daily != nil && daily.UVIndexMax != nil:
			uv = append(uv, *daily.UVIndexMax)
		case current != nil && current.UVIndex != nil:
			uv = append(uv, *current.UVIndex)
		}

		code := 0
		if current != nil && current.WeatherCode != nil {
			code = *current.WeatherCode
		}
		codeCounts[code]++

		if ins := rec.Insights; !ins.Empty() {
			if ins.HeatStressIndex != nil {
				heatStress = append(heatStress, *ins.HeatStressIndex)
			}
			if ins.ThunderstormProbability != nil {
				storms = append(storms, *ins.ThunderstormProbability)
			}
			if ins.GDD10To30 != nil {
				gdd = append(gdd, *ins.GDD10To30)
			}
		}
	}

	dateRange := "unknown"
	if len(dates) > 0 {
		dateRange = fmt.Sprintf("%s to %s", dates[0], dates[len(dates)-1])
	}

	lines := []string{
		fmt.Sprintf("Period: %s (%d data points)", dateRange, len(records)),
	}

	if len(tempsHigh) > 0 {
		lines = append(lines, fmt.Sprintf(
			"Temperature: avg high %s°C (range %s), avg low %s°C (range %s)",
			avgText(tempsHigh), rangeText(tempsHigh), avgText(tempsLow), rangeText(tempsLow),
		))
	}
	if len(feelsHigh) > 0 {
		lines = append(lines, fmt.Sprintf("Feels like: high %s°C, low %s°C", avgText(feelsHigh), avgText(feelsLow)))
	}
	if trend := trendLine(tempsHigh); trend != "" {
		lines = append(lines, trend)
	}
	if len(precip) > 0 {
		lines = append(lines, fmt.Sprintf(
			"Precipitation: total %smm, %d rainy days out of %d",
			formatMetric(sum(precip)), rainyDays, len(precip),
		))
	}
	if len(humidity) > 0 {
		lines = append(lines, fmt.Sprintf("Humidity: avg %s%% (range %s)", avgText(humidity), rangeText(humidity)))
	}
	if len(wind) > 0 {
		maxGusts := "N/A"
		if len(gusts) > 0 {
			maxGusts = formatMetric(maxOf(gusts))
		}
		lines = append(lines, fmt.Sprintf("Wind: avg %s km/h, max gusts %s km/h", avgText(wind), maxGusts))
	}
	if len(uv) > 0 {
		lines = append(lines, fmt.Sprintf("UV index: avg %s, max %s", avgText(uv), formatMetric(maxOf(uv))))
	}
	if len(pressure) > 0 {
		lines = append(lines, fmt.Sprintf("Pressure: avg %s hPa (range %s)", avgText(pressure), rangeText(pressure)))
	}
	if len(cloud) > 0 {
		lines = append(lines, fmt.Sprintf("Cloud cover: avg %s%%", avgText(cloud)))
	}
	if cond := conditionsLine(codeCounts); cond != "" {
		lines = append(lines, cond)
	}

	if len(heatStress) > 0 {
		highHeat := 0
		for _, h := range heatStress {
			if h >= 28 {
				highHeat++
			}
		}
		lines = append(lines, fmt.Sprintf("Heat stress: avg %s, %d high-stress days", avgText(heatStress), highHeat))
	}
	if len(storms) > 0 {
		stormDays := 0
		for _, t := range storms {
			if t > 30 {
				stormDays++
			}
		}
		lines = append(lines, fmt.Sprintf("Thunderstorm risk: avg %s%%, %d high-risk days", avgText(storms), stormDays))
	}
	if len(gdd) > 0 {
		lines = append(lines, fmt.Sprintf(
			"Growing degree days (maize): avg %s, total %s",
			avgText(gdd), formatMetric(sum(gdd)),
		))
	}

	return strings.Join(lines, "\n")
}

// trendLine compares the first and last quartile of daily highs. Fewer
// than 8 points, or a shift of no more than a degree, says nothing.
func trendLine(tempsHigh []float64) string {
	if len(tempsHigh) < 8 {
		return ""
	}
	quarter := len(tempsHigh) / 4
	firstAvg := round1(avg(tempsHigh[:quarter]))
	lastAvg := round1(avg(tempsHigh[len(tempsHigh)-quarter:]))
	diff := round1(lastAvg - firstAvg)
	if math.Abs(diff) <= 1.0 {
		return ""
	}
	direction := "warming"
	if diff < 0 {
		direction = "cooling"
	}
	return fmt.Sprintf("Temperature trend: %s (%+.1f°C from start to end)", direction, diff)
}

// conditionsLine renders the top three WMO codes by day count.
func conditionsLine(codeCounts map[int]int) string {
	if len(codeCounts) == 0 {
		return ""
	}
	type codeCount struct {
		code, count int
	}
	counts := make([]codeCount, 0, len(codeCounts))
	for code, count := range codeCounts {
		counts = append(counts, codeCount{code, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].code < counts[j].code
	})
	if len(counts) > 3 {
		counts = counts[:3]
	}

	parts := make([]string, 0, len(counts))
	for _, cc := range counts {
		name, ok := wmoNames[cc.code]
		if !ok {
			name = fmt.Sprintf("Code %d", cc.code)
		}
		parts = append(parts, fmt.Sprintf("%s (%dd)", name, cc.count))
	}
	return "Most common conditions: " + strings.Join(parts, ", ")
}

func sum(arr []float64) float64 {
	total := 0.0
	for _, v := range arr {
		total += v
	}
	return total
}

func avg(arr []float64) float64 {
	if len(arr) == 0 {
		return 0
	}
	return sum(arr) / float64(len(arr))
}

func maxOf(arr []float64) float64 {
	m := arr[0]
	for _, v := range arr[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// avgText renders an average at display precision; empty input reads
// "0.0" which only appears when the guarding length check is skipped.
func avgText(arr []float64) string {
	return formatMetric(avg(arr))
}

// rangeText renders "min-max" at display precision, or "N/A" when the
// metric never appeared in the window.
func rangeText(arr []float64) string {
	if len(arr) == 0 {
		return "N/A"
	}
	lo, hi := arr[0], arr[0]
	for _, v := range arr[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return fmt.Sprintf("%s-%s", formatMetric(lo), formatMetric(hi))
}
