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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomorrowSample = `{
  "timelines": {
    "hourly": [
      {
        "time": "2025-01-15T12:00:00Z",
        "values": {
          "temperature": 26.5,
          "humidity": 55,
          "temperatureApparent": 27.1,
          "weatherCode": 4200,
          "windSpeed": 12.5,
          "windDirection": 170,
          "windGust": 20,
          "pressureSurfaceLevel": 1015.2,
          "cloudCover": 40,
          "uvIndex": 8
        }
      },
      {
        "time": "2025-01-15T13:00:00Z",
        "values": {
          "temperature": 27.0,
          "weatherCode": 1000,
          "precipitationIntensity": 0.4
        }
      }
    ],
    "daily": [
      {
        "time": "2025-01-15T00:00:00Z",
        "values": {
          "weatherCodeMax": 8000,
          "temperatureMax": 29,
          "temperatureMin": 17,
          "temperatureApparentMax": 30,
          "temperatureApparentMin": 16,
          "precipitationIntensityMax": 2.4,
          "precipitationProbabilityMax": 80,
          "windSpeedMax": 18,
          "windGustMax": 33,
          "windDirectionAvg": 175,
          "uvIndexMax": 11,
          "sunriseTime": "2025-01-15T03:25:00Z",
          "sunsetTime": "2025-01-15T16:40:00Z",
          "heatIndexMax": 31.5,
          "thunderstormProbability": 65,
          "gdd10To30": 12.5,
          "moonPhase": 2
        }
      }
    ]
  }
}`

func TestTomorrowFetchNormalizes(t *testing.T) {
	mock := &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, tomorrowSample), nil
	}}
	client := NewTomorrowClient(mock, nil)

	data, err := client.Fetch(context.Background(), -17.83, 31.05, "test-key")
	require.NoError(t, err)
	require.NotNil(t, data)

	q := mock.LastRequest.URL.Query()
	assert.Equal(t, "-17.83,31.05", q.Get("location"))
	assert.Equal(t, "test-key", q.Get("apikey"))
	assert.Equal(t, "1h,1d", q.Get("timesteps"))
	assert.Equal(t, "metric", q.Get("units"))

	// Current comes from the first hourly entry.
	require.NotNil(t, data.Current)
	assert.Equal(t, "2025-01-15T12:00:00Z", data.Current.Time)
	require.NotNil(t, data.Current.Temperature)
	assert.InDelta(t, 26.5, *data.Current.Temperature, 1e-9)
	require.NotNil(t, data.Current.WeatherCode)
	assert.Equal(t, 63, *data.Current.WeatherCode) // 4200 -> WMO 63
	require.NotNil(t, data.Current.Precipitation)
	assert.Zero(t, *data.Current.Precipitation) // absent -> explicit 0

	// Hourly arrays stay parallel; missing readings decode to nil.
	require.Len(t, data.Hourly.Time, 2)
	require.Len(t, data.Hourly.Temperature, 2)
	assert.Nil(t, data.Hourly.RelativeHumidity[1])
	require.NotNil(t, data.Hourly.WeatherCode[1])
	assert.Equal(t, 0, *data.Hourly.WeatherCode[1]) // 1000 -> WMO 0
	require.NotNil(t, data.Hourly.Precipitation[1])
	assert.InDelta(t, 0.4, *data.Hourly.Precipitation[1], 1e-9)

	// Daily mapping.
	require.Len(t, data.Daily.Time, 1)
	require.NotNil(t, data.Daily.WeatherCode[0])
	assert.Equal(t, 95, *data.Daily.WeatherCode[0]) // 8000 -> WMO 95
	assert.Equal(t, "2025-01-15T03:25:00Z", data.Daily.Sunrise[0])

	// Insights from the first daily entry; absent metrics stay nil.
	require.NotNil(t, data.Insights)
	require.NotNil(t, data.Insights.HeatStressIndex)
	assert.InDelta(t, 31.5, *data.Insights.HeatStressIndex, 1e-9)
	require.NotNil(t, data.Insights.ThunderstormProbability)
	assert.InDelta(t, 65, *data.Insights.ThunderstormProbability, 1e-9)
	assert.Nil(t, data.Insights.DewPoint)
	assert.Nil(t, data.Insights.Visibility)
}

func TestTomorrowFetchCapsHourly(t *testing.T) {
	var entries []string
	for i := 0; i < 30; i++ {
		entries = append(entries, fmt.Sprintf(`{"time":"t%d","values":{"temperature":%d}}`, i, i))
	}
	body := `{"timelines":{"hourly":[` + strings.Join(entries, ",") + `],"daily":[]}}`

	mock := &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, body), nil
	}}
	client := NewTomorrowClient(mock, nil)

	data, err := client.Fetch(context.Background(), 0, 0, "k")
	require.NoError(t, err)
	assert.Len(t, data.Hourly.Time, 24)
	assert.Len(t, data.Hourly.Temperature, 24)
	assert.Nil(t, data.Insights)
}

func TestTomorrowFetchRateLimited(t *testing.T) {
	mock := &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{}`), nil
	}}
	client := NewTomorrowClient(mock, nil)

	_, err := client.Fetch(context.Background(), 0, 0, "k")
	assert.ErrorIs(t, err, ErrTomorrowRateLimited)
}

func TestTomorrowFetchUpstreamError(t *testing.T) {
	mock := &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `{}`), nil
	}}
	client := NewTomorrowClient(mock, nil)

	_, err := client.Fetch(context.Background(), 0, 0, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTomorrowRateLimited)
}

func TestTomorrowFetchTransportError(t *testing.T) {
	mock := &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}
	client := NewTomorrowClient(mock, nil)

	_, err := client.Fetch(context.Background(), 0, 0, "k")
	assert.Error(t, err)
}
