// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers contains the external weather and geocoding
// clients plus the seasonal synthesizer that terminates the fallback
// chain.
//
// # Description
//
// Each provider returns the one normalized shape in
// datatypes.WeatherData; provider-specific field names and weather
// codes never leave this package. Callers wrap the two network
// providers in circuit breakers; the synthesizer is pure computation
// and cannot fail.
//
// # Thread Safety
//
// All clients are safe for concurrent use when constructed with a
// shared http.Client.
package providers

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mukoko.weatherapi.providers")

// HTTPClient interface allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns the shared outbound client. Per-call
// deadlines come from the circuit breakers; this timeout is the
// absolute ceiling for a single exchange.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// Provenance values stamped in the X-Weather-Provider header and in
// cache documents.
const (
	ProviderTomorrow  = "tomorrow"
	ProviderOpenMeteo = "open-meteo"
	ProviderFallback  = "fallback"
	ProviderCache     = "cache"
)

// tomorrowWMO maps tomorrow.io weather codes to WMO codes. Unknown
// codes map to 0 (clear).
var tomorrowWMO = map[int]int{
	0: 0, 1000: 0, 1100: 1, 1101: 2, 1102: 3,
	1001: 3, 2000: 45, 2100: 48, 4000: 51,
	4001: 61, 4200: 63, 4201: 65, 5000: 71,
	5001: 73, 5100: 75, 5101: 77, 6000: 56,
	6001: 66, 6200: 67, 6201: 67, 7000: 77,
	7101: 85, 7102: 86, 8000: 95,
}

// MapTomorrowCode converts a tomorrow.io weather code to WMO.
func MapTomorrowCode(code int) int {
	return tomorrowWMO[code]
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

// zeroIfNil replaces an absent reading with an explicit zero, for
// fields where downstream consumers treat missing as "no rain" rather
// than "unknown".
func zeroIfNil(v *float64) *float64 {
	if v == nil {
		return floatPtr(0)
	}
	return v
}
