// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the weather API.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating the provider degradation chain (cache, tomorrow.io,
//     Open-Meteo, seasonal synthesis)
//   - Driving the LLM features: briefings, the tool-using chat loop,
//     explore search, follow-ups, report clarification, trend analysis
//   - Applying business rules: suitability evaluation, report
//     cross-validation, geo dedup and slug generation
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors, and each
//     service declares the narrow store interface it consumes
//   - Degradable: A failed dependency downgrades the answer, it never
//     takes the endpoint down
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
)

// tracer is the OpenTelemetry tracer for weather API services.
var tracer = otel.Tracer("mukoko.weatherapi.services")

// Upstream names, as registered with the breaker registry. The tuned
// configs in the breaker package are keyed by these.
const (
	upstreamTomorrow  = "tomorrow-io"
	upstreamOpenMeteo = "open-meteo"
	upstreamAnthropic = "anthropic"
)

// =============================================================================
// Shared Helpers
// =============================================================================

// truncate clips s to at most max bytes. Error strings and model inputs
// shown to users are clipped so a pathological upstream message cannot
// bloat a response or a prompt.
func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// classifyLLMError maps an LLM call failure to a metrics outcome.
func classifyLLMError(err error) string {
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return observability.OutcomeBreakerOpen
	case errors.Is(err, breaker.ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, llm.ErrRateLimited):
		return observability.OutcomeRateLimited
	default:
		return observability.OutcomeError
	}
}

// round1 rounds to one decimal place, the display precision for all
// user-facing metric values.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// formatMetric renders a float for prompt text: one decimal, with the
// trailing ".0" kept so ranges read consistently.
func formatMetric(v float64) string {
	return fmt.Sprintf("%.1f", round1(v))
}

// seasonResolver resolves the seasonal context used by the summary and
// follow-up features: the seasons collection by (country, month), with
// the embedded calendar as fallback.
type seasonResolver interface {
	SeasonFor(ctx context.Context, countryCode string, month int) (*datatypes.SeasonDoc, error)
}

// fallbackSeasons is the subset of the prompt library the season lookup
// needs when the collection has no row.
type fallbackSeasons interface {
	FallbackSeason(t time.Time) datatypes.Season
}

// resolveSeason returns the seasonal block for a country at a point in
// time. Collection misses and errors both fall back to the embedded
// Zimbabwe calendar.
func resolveSeason(ctx context.Context, store seasonResolver, lib fallbackSeasons, country string, now time.Time) datatypes.Season {
	if store != nil {
		doc, err := store.SeasonFor(ctx, country, int(now.UTC().Month()))
		if err == nil && doc != nil {
			return datatypes.Season{
				Name:        doc.Name,
				Shona:       doc.LocalName,
				Description: doc.Description,
			}
		}
	}
	return lib.FallbackSeason(now)
}

// joinNames renders "Name (slug)" lines for prompt location lists.
func joinNames(locs []datatypes.Location) string {
	parts := make([]string, 0, len(locs))
	for _, loc := range locs {
		parts = append(parts, fmt.Sprintf("%s (%s)", loc.Name, loc.Slug))
	}
	return strings.Join(parts, ", ")
}
