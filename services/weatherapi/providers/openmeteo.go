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

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

const (
	openMeteoForecastURL  = "https://api.open-meteo.com/v1/forecast"
	openMeteoElevationURL = "https://api.open-meteo.com/v1/elevation"

	openMeteoCurrentFields = "temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,weather_code,wind_speed_10m,wind_direction_10m,wind_gusts_10m,surface_pressure,cloud_cover"
	openMeteoHourlyFields  = "temperature_2m,relative_humidity_2m,apparent_temperature,precipitation_probability,precipitation,weather_code,wind_speed_10m,wind_direction_10m,wind_gusts_10m,surface_pressure,cloud_cover,uv_index"
	openMeteoDailyFields   = "weather_code,temperature_2m_max,temperature_2m_min,apparent_temperature_max,apparent_temperature_min,sunrise,sunset,uv_index_max,precipitation_sum,precipitation_probability_max,wind_speed_10m_max,wind_gusts_10m_max,wind_direction_10m_dominant"
)

// OpenMeteoClient is the free secondary provider. Its response fields
// already use the normalized names, so mapping is a direct decode.
type OpenMeteoClient struct {
	httpClient HTTPClient
	logger     *logging.Logger
}

// NewOpenMeteoClient builds the secondary provider client.
func NewOpenMeteoClient(httpClient HTTPClient, logger *logging.Logger) *OpenMeteoClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenMeteoClient{httpClient: httpClient, logger: logger}
}

// Fetch returns normalized weather for a point. Open-Meteo carries no
// agricultural metrics, so a minimal insights block is synthesized
// from the current wind readings when they are present.
func (c *OpenMeteoClient) Fetch(ctx context.Context, lat, lon float64) (*datatypes.WeatherData, error) {
	ctx, span := tracer.Start(ctx, "openmeteo.fetch")
	defer span.End()

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("current", openMeteoCurrentFields)
	params.Set("hourly", openMeteoHourlyFields)
	params.Set("daily", openMeteoDailyFields)
	params.Set("timezone", "auto")
	params.Set("forecast_days", "7")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openMeteoForecastURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("open-meteo: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open-meteo: status %s", resp.Status)
	}

	var data datatypes.WeatherData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("open-meteo: decode: %w", err)
	}

	// The forecast request spans 7 days; the served shape keeps one
	// day of hourly detail.
	data.Hourly.Clamp(24)
	data.Daily.Clamp(7)

	if data.Current != nil {
		insights := &datatypes.WeatherInsights{
			WindSpeed: data.Current.WindSpeed,
			WindGust:  data.Current.WindGusts,
		}
		if !insights.Empty() {
			data.Insights = insights
		}
	}
	return &data, nil
}

// Elevation returns the terrain elevation in metres for a point, or 0
// when the lookup fails.
func (c *OpenMeteoClient) Elevation(ctx context.Context, lat, lon float64) int {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openMeteoElevationURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("elevation lookup failed", "error", err)
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}

	var body struct {
		Elevation []float64 `json:"elevation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Elevation) == 0 {
		return 0
	}
	return int(body.Elevation[0])
}
