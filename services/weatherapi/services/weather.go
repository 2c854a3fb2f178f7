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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/providers"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// ErrInvalidCoordinates is returned for out-of-range lat/lon. Handlers
// map it to a 400.
var ErrInvalidCoordinates = errors.New("services: invalid coordinates")

// weatherCacheTTL is the lifetime of a provider fetch in the cache.
const weatherCacheTTL = 15 * time.Minute

// =============================================================================
// Interfaces
// =============================================================================

// WeatherStore is the persistence surface the pipeline consumes.
type WeatherStore interface {
	NearestLocation(ctx context.Context, lat, lon float64, maxMeters int64) (*datatypes.Location, error)
	FreshWeather(ctx context.Context, slug string) (*datatypes.WeatherData, string, error)
	UpsertWeather(ctx context.Context, slug string, lat, lon float64, data *datatypes.WeatherData, provider string, ttl time.Duration) error
	InsertHistory(ctx context.Context, rec *datatypes.HistoryRecord) error
	APIKey(ctx context.Context, provider string) (string, error)
}

// TomorrowProvider is the primary forecast source.
type TomorrowProvider interface {
	Fetch(ctx context.Context, lat, lon float64, apiKey string) (*datatypes.WeatherData, error)
}

// OpenMeteoProvider is the free fallback forecast source.
type OpenMeteoProvider interface {
	Fetch(ctx context.Context, lat, lon float64) (*datatypes.WeatherData, error)
}

// Compile-time interface implementation checks.
var (
	_ WeatherStore      = (*store.Store)(nil)
	_ TomorrowProvider  = (*providers.TomorrowClient)(nil)
	_ OpenMeteoProvider = (*providers.OpenMeteoClient)(nil)
)

// =============================================================================
// WeatherService
// =============================================================================

// WeatherResult is a resolved weather payload plus the provenance the
// handler exposes as the X-Cache and X-Weather-Provider headers.
type WeatherResult struct {
	Data     *datatypes.WeatherData
	Provider string
	CacheHit bool
}

// WeatherService runs the provider degradation chain:
//
//	cache -> tomorrow.io -> Open-Meteo -> seasonal synthesis
//
// Every rung that can fail is skipped on failure; the synthesizer
// terminates the chain, so Fetch never returns an empty payload for
// valid coordinates.
//
// Usage:
//
//	svc := NewWeatherService(st, tomorrow, openMeteo, breakers, mirror, logger)
//	result, err := svc.Fetch(ctx, -17.83, 31.05)
type WeatherService struct {
	store     WeatherStore
	tomorrow  TomorrowProvider
	openMeteo OpenMeteoProvider
	breakers  *breaker.Registry
	mirror    *store.HistoryMirror
	logger    *logging.Logger
}

// NewWeatherService creates a WeatherService.
//
// Parameters:
//   - st: persistence gateway. Must not be nil.
//   - tomorrow, openMeteo: provider clients. Must not be nil.
//   - breakers: circuit breaker registry shared across the process.
//     Must not be nil.
//   - mirror: optional time-series mirror; nil drops mirror writes.
//   - logger: nil falls back to the package default.
func NewWeatherService(
	st WeatherStore,
	tomorrow TomorrowProvider,
	openMeteo OpenMeteoProvider,
	breakers *breaker.Registry,
	mirror *store.HistoryMirror,
	logger *logging.Logger,
) *WeatherService {
	if logger == nil {
		logger = logging.Default()
	}
	return &WeatherService{
		store:     st,
		tomorrow:  tomorrow,
		openMeteo: openMeteo,
		breakers:  breakers,
		mirror:    mirror,
		logger:    logger,
	}
}

// Fetch resolves weather for a coordinate pair.
//
// # Description
//
// The pipeline is:
//  1. Validate coordinates (lat in [-90, 90], lon in [-180, 180]).
//  2. Resolve the cache key: the nearest known location's slug, else a
//     "{lat:.2f}_{lon:.2f}" grid key. The nearest location also supplies
//     the elevation the synthesizer adjusts for.
//  3. Serve an unexpired cache document when one exists.
//  4. Walk the provider chain. tomorrow.io runs only when its API key
//     is configured and its breaker admits the call; Open-Meteo is
//     breaker-gated the same way; the seasonal synthesizer cannot fail.
//  5. Persist provider data: 15-minute cache upsert, history append,
//     and optional time-series mirror. All three are best-effort; a
//     failed write is logged and the response still goes out.
//
// # Outputs
//
//   - *WeatherResult: payload plus provenance. Never nil on nil error.
//   - error: ErrInvalidCoordinates only. Provider and store failures
//     degrade the result instead of surfacing.
func (s *WeatherService) Fetch(ctx context.Context, lat, lon float64) (*WeatherResult, error) {
	ctx, span := tracer.Start(ctx, "WeatherService.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("weather.lat", lat),
		attribute.Float64("weather.lon", lon),
	)

	// Step 1: Validate coordinates
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		span.SetStatus(codes.Error, "invalid coordinates")
		return nil, ErrInvalidCoordinates
	}

	// Step 2: Resolve the cache key and elevation
	slug := fmt.Sprintf("%.2f_%.2f", lat, lon)
	elevation := 1200
	if nearest, err := s.store.NearestLocation(ctx, lat, lon, 0); err == nil && nearest != nil {
		if nearest.Slug != "" {
			slug = nearest.Slug
		}
		if nearest.Elevation != 0 {
			elevation = nearest.Elevation
		}
	}
	span.SetAttributes(attribute.String("weather.slug", slug))

	// Step 3: Serve from cache
	if data, provider, err := s.store.FreshWeather(ctx, slug); err == nil && data != nil {
		if provider == "" {
			provider = providers.ProviderCache
		}
		observability.DefaultMetrics.RecordCacheLookup("weather", observability.CacheHit)
		span.SetAttributes(attribute.String("weather.provider", provider), attribute.Bool("weather.cache_hit", true))
		return &WeatherResult{Data: data, Provider: provider, CacheHit: true}, nil
	}
	observability.DefaultMetrics.RecordCacheLookup("weather", observability.CacheMiss)

	// Step 4: Provider chain
	data, source := s.fetchFromProviders(ctx, lat, lon, elevation)
	span.SetAttributes(attribute.String("weather.provider", source))

	// Step 5: Persist provider fetches. Synthesized data is served but
	// never cached or recorded; it would poison history with estimates.
	if source != providers.ProviderFallback {
		s.persist(ctx, slug, lat, lon, data, source)
	}

	return &WeatherResult{Data: data, Provider: source, CacheHit: false}, nil
}

// fetchFromProviders walks tomorrow.io, Open-Meteo, and the seasonal
// synthesizer in order, returning the first payload plus its source.
func (s *WeatherService) fetchFromProviders(ctx context.Context, lat, lon float64, elevation int) (*datatypes.WeatherData, string) {
	ctx, span := tracer.Start(ctx, "WeatherService.fetchFromProviders")
	defer span.End()

	if key, err := s.store.APIKey(ctx, "tomorrow"); err == nil && key != "" {
		if data := s.fetchTomorrow(ctx, lat, lon, key); data != nil {
			return data, providers.ProviderTomorrow
		}
	}

	if data := s.fetchOpenMeteo(ctx, lat, lon); data != nil {
		return data, providers.ProviderOpenMeteo
	}

	span.SetAttributes(attribute.Bool("weather.synthesized", true))
	observability.DefaultMetrics.RecordProviderFetch(providers.ProviderFallback, observability.OutcomeOK)
	return providers.SeasonalEstimate(time.Now().UTC(), elevation), providers.ProviderFallback
}

// fetchTomorrow runs the breaker-gated tomorrow.io fetch. A rate limit
// response counts as a breaker failure like any other, so a throttled
// key stops being tried quickly.
func (s *WeatherService) fetchTomorrow(ctx context.Context, lat, lon float64, apiKey string) *datatypes.WeatherData {
	var data *datatypes.WeatherData
	err := s.breakers.Get(upstreamTomorrow).Execute(ctx, func(ctx context.Context) error {
		fetched, err := s.tomorrow.Fetch(ctx, lat, lon, apiKey)
		if err != nil {
			return err
		}
		data = fetched
		return nil
	})
	if err != nil {
		s.recordProviderFailure(providers.ProviderTomorrow, err)
		return nil
	}
	observability.DefaultMetrics.RecordProviderFetch(providers.ProviderTomorrow, observability.OutcomeOK)
	return data
}

// fetchOpenMeteo runs the breaker-gated Open-Meteo fetch.
func (s *WeatherService) fetchOpenMeteo(ctx context.Context, lat, lon float64) *datatypes.WeatherData {
	var data *datatypes.WeatherData
	err := s.breakers.Get(upstreamOpenMeteo).Execute(ctx, func(ctx context.Context) error {
		fetched, err := s.openMeteo.Fetch(ctx, lat, lon)
		if err != nil {
			return err
		}
		data = fetched
		return nil
	})
	if err != nil {
		s.recordProviderFailure(providers.ProviderOpenMeteo, err)
		return nil
	}
	observability.DefaultMetrics.RecordProviderFetch(providers.ProviderOpenMeteo, observability.OutcomeOK)
	return data
}

// recordProviderFailure classifies a chain failure for metrics and
// logs it at the level it deserves: breaker rejections are routine
// during an outage, everything else warns.
func (s *WeatherService) recordProviderFailure(provider string, err error) {
	switch {
	case errors.Is(err, breaker.ErrOpen):
		observability.DefaultMetrics.RecordProviderFetch(provider, observability.OutcomeBreakerOpen)
		s.logger.Debug("provider skipped, circuit open", "provider", provider)
	case errors.Is(err, breaker.ErrTimeout):
		observability.DefaultMetrics.RecordProviderFetch(provider, observability.OutcomeTimeout)
		s.logger.Warn("provider timed out", "provider", provider)
	case errors.Is(err, providers.ErrTomorrowRateLimited):
		observability.DefaultMetrics.RecordProviderFetch(provider, observability.OutcomeRateLimited)
		s.logger.Warn("provider rate limited", "provider", provider)
	default:
		observability.DefaultMetrics.RecordProviderFetch(provider, observability.OutcomeError)
		s.logger.Warn("provider fetch failed", "provider", provider, "error", err)
	}
}

// persist caches the payload, appends the history record, and mirrors
// it to the time-series store. Failures are logged and swallowed; the
// response the caller already holds is not at stake.
func (s *WeatherService) persist(ctx context.Context, slug string, lat, lon float64, data *datatypes.WeatherData, provider string) {
	ctx, span := tracer.Start(ctx, "WeatherService.persist")
	defer span.End()
	span.SetAttributes(attribute.String("weather.slug", slug), attribute.String("weather.provider", provider))

	if err := s.store.UpsertWeather(ctx, slug, lat, lon, data, provider, weatherCacheTTL); err != nil {
		span.RecordError(err)
		s.logger.Warn("weather cache upsert failed", "slug", slug, "error", err)
	}

	rec := BuildHistoryRecord(slug, data, time.Now().UTC())
	if err := s.store.InsertHistory(ctx, rec); err != nil {
		span.RecordError(err)
		s.logger.Warn("weather history insert failed", "slug", slug, "error", err)
	}
	s.mirror.Record(ctx, rec)
}

// BuildHistoryRecord projects a weather payload into the append-only
// history shape: the current block, the first daily element, and the
// insights. Later forecast days are reconstructible from later records,
// so only day one is kept.
func BuildHistoryRecord(slug string, data *datatypes.WeatherData, recordedAt time.Time) *datatypes.HistoryRecord {
	rec := &datatypes.HistoryRecord{
		LocationSlug: slug,
		RecordedAt:   recordedAt,
	}
	if data == nil {
		return rec
	}
	rec.Current = data.Current
	if !data.Insights.Empty() {
		rec.Insights = data.Insights
	}

	d := data.Daily
	if d == nil || len(d.Time) == 0 {
		return rec
	}
	rec.Daily = &datatypes.HistoryDaily{
		Date:            d.Time[0],
		WeatherCode:     firstInt(d.WeatherCode),
		TempMax:         firstFloat(d.TempMax),
		TempMin:         firstFloat(d.TempMin),
		ApparentTempMax: firstFloat(d.ApparentTempMax),
		ApparentTempMin: firstFloat(d.ApparentTempMin),
		PrecipSum:       firstFloat(d.PrecipSum),
		PrecipProbMax:   firstFloat(d.PrecipProbMax),
		WindSpeedMax:    firstFloat(d.WindSpeedMax),
		WindGustMax:     firstFloat(d.WindGustsMax),
		WindDirDominant: firstFloat(d.WindDirDominant),
		UVIndexMax:      firstFloat(d.UVIndexMax),
		Sunrise:         firstString(d.Sunrise),
		Sunset:          firstString(d.Sunset),
	}
	return rec
}

func firstFloat(arr []*float64) *float64 {
	if len(arr) == 0 {
		return nil
	}
	return arr[0]
}

func firstInt(arr []*int) *int {
	if len(arr) == 0 {
		return nil
	}
	return arr[0]
}

func firstString(arr []string) string {
	if len(arr) == 0 {
		return ""
	}
	return arr[0]
}
