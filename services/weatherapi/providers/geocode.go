// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

const (
	nominatimReverseURL = "https://nominatim.openstreetmap.org/reverse"
	openMeteoGeocodeURL = "https://geocoding-api.open-meteo.com/v1/search"

	// Nominatim requires an identifying User-Agent.
	geocodeUserAgent = "mukoko-weather/2.0 (support@mukoko.com)"
)

// Geocoder resolves coordinates to place names (Nominatim) and place
// names to coordinates (Open-Meteo geocoding).
type Geocoder struct {
	httpClient HTTPClient
	logger     *logging.Logger
}

// NewGeocoder builds the geocoding client.
func NewGeocoder(httpClient HTTPClient, logger *logging.Logger) *Geocoder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Geocoder{httpClient: httpClient, logger: logger}
}

type nominatimResponse struct {
	Name    string `json:"name"`
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	Address struct {
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		Suburb      string `json:"suburb"`
		County      string `json:"county"`
		State       string `json:"state"`
		Province    string `json:"province"`
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// Reverse resolves a point to a place. Zoom 10 returns town-level
// results rather than street addresses.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64) (*datatypes.Geocoded, error) {
	ctx, span := tracer.Start(ctx, "geocode.reverse")
	defer span.End()

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("format", "jsonv2")
	params.Set("zoom", "10")
	params.Set("accept-language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nominatimReverseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("User-Agent", geocodeUserAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: reverse failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: reverse status %s", resp.Status)
	}

	var raw nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("geocode: decode: %w", err)
	}

	name := firstNonEmpty(
		raw.Address.City, raw.Address.Town, raw.Address.Village,
		raw.Address.Suburb, raw.Address.County, raw.Name, "Unknown",
	)

	countryCode := raw.Address.CountryCode
	if countryCode == "" {
		countryCode = "zw"
	}
	countryName := raw.Address.Country
	if countryName == "" {
		countryName = "Zimbabwe"
	}
	admin1 := raw.Address.State
	if admin1 == "" {
		admin1 = raw.Address.Province
	}

	return &datatypes.Geocoded{
		Name:        name,
		Country:     strings.ToUpper(countryCode),
		CountryName: countryName,
		Admin1:      admin1,
		Lat:         parseCoord(raw.Lat, lat),
		Lon:         parseCoord(raw.Lon, lon),
		Elevation:   0,
	}, nil
}

type openMeteoGeocodeResponse struct {
	Results []struct {
		Name        string  `json:"name"`
		CountryCode string  `json:"country_code"`
		Country     string  `json:"country"`
		Admin1      string  `json:"admin1"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Elevation   float64 `json:"elevation"`
	} `json:"results"`
}

// Forward resolves a place name to up to count candidates. A miss is
// an empty slice, not an error.
func (g *Geocoder) Forward(ctx context.Context, query string, count int) ([]datatypes.Geocoded, error) {
	ctx, span := tracer.Start(ctx, "geocode.forward")
	defer span.End()

	params := url.Values{}
	params.Set("name", query)
	params.Set("count", strconv.Itoa(count))
	params.Set("language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openMeteoGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: forward failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: forward status %s", resp.Status)
	}

	var raw openMeteoGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("geocode: decode: %w", err)
	}

	results := make([]datatypes.Geocoded, 0, len(raw.Results))
	for _, r := range raw.Results {
		results = append(results, datatypes.Geocoded{
			Name:        r.Name,
			Country:     strings.ToUpper(r.CountryCode),
			CountryName: r.Country,
			Admin1:      r.Admin1,
			Lat:         r.Latitude,
			Lon:         r.Longitude,
			Elevation:   int(r.Elevation),
		})
	}
	return results, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseCoord(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}
