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
// This file contains types for the AI summary, explore search, and
// cached briefing documents.
package datatypes

import (
	"math"
	"time"
)

// =============================================================================
// AI Summary Types
// =============================================================================

// SummaryLocation identifies the place a briefing is for. The client
// sends name and elevation with the weather payload it already holds;
// the slug is derived server-side from the name.
type SummaryLocation struct {
	Name      string `json:"name"`
	Elevation int    `json:"elevation"`
	Country   string `json:"country"`
}

// ElevationOrDefault returns the elevation, defaulting to 1200m, the
// rough altitude of the Highveld plateau.
func (l *SummaryLocation) ElevationOrDefault() int {
	if l == nil || l.Elevation == 0 {
		return 1200
	}
	return l.Elevation
}

// CountryOrDefault returns the 2-letter country code, defaulting to
// ZW. Codes of any other length are treated as absent.
func (l *SummaryLocation) CountryOrDefault() string {
	if l == nil || len(l.Country) != 2 {
		return "ZW"
	}
	return l.Country
}

// SummaryRequest is the POST /api/ai body. WeatherData is the payload
// the client is already rendering; the server does not refetch it.
type SummaryRequest struct {
	WeatherData *WeatherData     `json:"weatherData"`
	Location    *SummaryLocation `json:"location"`
	Activities  []string         `json:"activities"`
}

// SummaryResponse is the briefing reply. GeneratedAt is set only on
// cache hits, as an RFC 3339 timestamp of the original generation.
type SummaryResponse struct {
	Insight     string `json:"insight"`
	Cached      bool   `json:"cached"`
	GeneratedAt string `json:"generatedAt,omitempty"`
}

// SummarySnapshot pins the conditions an insight was generated from,
// for staleness checks on later cache hits.
type SummarySnapshot struct {
	Temperature float64 `bson:"temperature"`
	WeatherCode int     `bson:"weatherCode"`
}

// CachedSummary is the ai_summaries document.
type CachedSummary struct {
	LocationSlug string          `bson:"locationSlug"`
	Insight      string          `bson:"insight"`
	Snapshot     SummarySnapshot `bson:"weatherSnapshot"`
	GeneratedAt  time.Time       `bson:"generatedAt"`
	ExpiresAt    time.Time       `bson:"expiresAt"`
}

// Stale reports whether current conditions have drifted far enough
// from the snapshot that the insight should be regenerated. A
// temperature swing past five degrees or any weather code change
// invalidates the cached text.
func (c *CachedSummary) Stale(currentTemp float64, currentCode int) bool {
	if math.Abs(currentTemp-c.Snapshot.Temperature) > 5 {
		return true
	}
	return currentCode != c.Snapshot.WeatherCode
}

// Season is a seasonal context block resolved from the seasons
// collection, or from the built-in Zimbabwe calendar when the
// collection has no match.
type Season struct {
	Name        string `json:"name" bson:"name"`
	Shona       string `json:"shona" bson:"localName"`
	Description string `json:"description" bson:"description"`
}

// SeasonDoc is the seasons collection document shape.
type SeasonDoc struct {
	CountryCode string `bson:"countryCode"`
	Months      []int  `bson:"months"`
	Name        string `bson:"name"`
	LocalName   string `bson:"localName"`
	Description string `bson:"description"`
}

// =============================================================================
// Explore Search Types
// =============================================================================

// MaxExploreQueryLen bounds the explore search query.
const MaxExploreQueryLen = 500

// ExploreSearchRequest is the POST /api/explore/search body.
type ExploreSearchRequest struct {
	Query string `json:"query" validate:"required,max=500"`
}

// Validate checks the explore query bounds.
func (r *ExploreSearchRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ExploreLocation is one explore result: the location identity plus
// whatever cached weather the tool loop (or text fallback) attached.
type ExploreLocation struct {
	Slug          string   `json:"slug"`
	Name          string   `json:"name"`
	Province      string   `json:"province"`
	Country       string   `json:"country"`
	Tags          []string `json:"tags"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	WindSpeed     *float64 `json:"windSpeed,omitempty"`
	WeatherCode   *int     `json:"weatherCode,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`
	UVIndex       *float64 `json:"uvIndex,omitempty"`
	CloudCover    *float64 `json:"cloudCover,omitempty"`
	Provider      string   `json:"provider,omitempty"`
}

// ExploreSearchResponse is the explore reply: at most 10 locations and
// a one-line natural language summary.
type ExploreSearchResponse struct {
	Locations []ExploreLocation `json:"locations"`
	Summary   string            `json:"summary"`
}
