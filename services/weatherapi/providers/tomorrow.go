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

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

const tomorrowForecastURL = "https://api.tomorrow.io/v4/weather/forecast"

// ErrTomorrowRateLimited marks a 429 from tomorrow.io so the pipeline
// records a breaker failure and moves straight to Open-Meteo.
var ErrTomorrowRateLimited = fmt.Errorf("tomorrow.io rate limited")

// TomorrowClient fetches realtime plus forecast data in one call and
// normalizes it, including the weather-code mapping to WMO.
type TomorrowClient struct {
	httpClient HTTPClient
	logger     *logging.Logger
}

// NewTomorrowClient builds the primary provider client.
func NewTomorrowClient(httpClient HTTPClient, logger *logging.Logger) *TomorrowClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &TomorrowClient{httpClient: httpClient, logger: logger}
}

// --- Wire types ---

type tomorrowResponse struct {
	Timelines struct {
		Hourly []tomorrowEntry `json:"hourly"`
		Daily  []tomorrowEntry `json:"daily"`
	} `json:"timelines"`
}

type tomorrowEntry struct {
	Time   string         `json:"time"`
	Values tomorrowValues `json:"values"`
}

type tomorrowValues struct {
	Temperature            *float64 `json:"temperature"`
	Humidity               *float64 `json:"humidity"`
	TemperatureApparent    *float64 `json:"temperatureApparent"`
	PrecipitationIntensity *float64 `json:"precipitationIntensity"`
	WeatherCode            *int     `json:"weatherCode"`
	WindSpeed              *float64 `json:"windSpeed"`
	WindDirection          *float64 `json:"windDirection"`
	WindGust               *float64 `json:"windGust"`
	PressureSurfaceLevel   *float64 `json:"pressureSurfaceLevel"`
	CloudCover             *float64 `json:"cloudCover"`
	UVIndex                *float64 `json:"uvIndex"`

	WeatherCodeMax              *int     `json:"weatherCodeMax"`
	TemperatureMax              *float64 `json:"temperatureMax"`
	TemperatureMin              *float64 `json:"temperatureMin"`
	TemperatureApparentMax      *float64 `json:"temperatureApparentMax"`
	TemperatureApparentMin      *float64 `json:"temperatureApparentMin"`
	PrecipitationIntensityMax   *float64 `json:"precipitationIntensityMax"`
	PrecipitationProbabilityMax *float64 `json:"precipitationProbabilityMax"`
	WindSpeedMax                *float64 `json:"windSpeedMax"`
	WindGustMax                 *float64 `json:"windGustMax"`
	WindDirectionAvg            *float64 `json:"windDirectionAvg"`
	UVIndexMax                  *float64 `json:"uvIndexMax"`
	SunriseTime                 string   `json:"sunriseTime"`
	SunsetTime                  string   `json:"sunsetTime"`

	HeatIndexMax            *float64 `json:"heatIndexMax"`
	ThunderstormProbability *float64 `json:"thunderstormProbability"`
	UVHealthConcernMax      *float64 `json:"uvHealthConcernMax"`
	VisibilityAvg           *float64 `json:"visibilityAvg"`
	DewPointAvg             *float64 `json:"dewPointAvg"`
	GDD10To30               *float64 `json:"gdd10To30"`
	EvapotranspirationAvg   *float64 `json:"evapotranspirationAvg"`
	MoonPhase               *float64 `json:"moonPhase"`
	CloudBaseAvg            *float64 `json:"cloudBaseAvg"`
	CloudCeilingAvg         *float64 `json:"cloudCeilingAvg"`
	PrecipitationTypeMax    *float64 `json:"precipitationTypeMax"`
}

// Fetch returns normalized weather for a point, or an error the
// breaker can record. A 429 returns ErrTomorrowRateLimited.
func (c *TomorrowClient) Fetch(ctx context.Context, lat, lon float64, apiKey string) (*datatypes.WeatherData, error) {
	ctx, span := tracer.Start(ctx, "tomorrow.fetch")
	defer span.End()

	params := url.Values{}
	params.Set("location", fmt.Sprintf("%v,%v", lat, lon))
	params.Set("apikey", apiKey)
	params.Set("timesteps", "1h,1d")
	params.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tomorrowForecastURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("tomorrow: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tomorrow: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("tomorrow.io rate limited, deferring to open-meteo")
		return nil, ErrTomorrowRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tomorrow: status %s", resp.Status)
	}

	var raw tomorrowResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tomorrow: decode: %w", err)
	}
	return normalizeTomorrow(&raw), nil
}

func normalizeTomorrow(raw *tomorrowResponse) *datatypes.WeatherData {
	hourlyRaw := raw.Timelines.Hourly
	dailyRaw := raw.Timelines.Daily

	data := &datatypes.WeatherData{
		Current: &datatypes.CurrentWeather{},
		Hourly:  &datatypes.HourlyWeather{},
		Daily:   &datatypes.DailyWeather{},
	}

	// Current conditions come from the first hourly entry; tomorrow.io
	// has no separate realtime block on this endpoint.
	if len(hourlyRaw) > 0 {
		v := hourlyRaw[0].Values
		data.Current = &datatypes.CurrentWeather{
			Time:             hourlyRaw[0].Time,
			Temperature:      v.Temperature,
			RelativeHumidity: v.Humidity,
			ApparentTemp:     v.TemperatureApparent,
			Precipitation:    zeroIfNil(v.PrecipitationIntensity),
			WeatherCode:      intPtr(MapTomorrowCode(derefInt(v.WeatherCode))),
			WindSpeed:        v.WindSpeed,
			WindDirection:    v.WindDirection,
			WindGusts:        v.WindGust,
			SurfacePressure:  v.PressureSurfaceLevel,
			CloudCover:       v.CloudCover,
			UVIndex:          v.UVIndex,
		}
	}

	if len(hourlyRaw) > 24 {
		hourlyRaw = hourlyRaw[:24]
	}
	for _, h := range hourlyRaw {
		v := h.Values
		data.Hourly.Time = append(data.Hourly.Time, h.Time)
		data.Hourly.Temperature = append(data.Hourly.Temperature, v.Temperature)
		data.Hourly.RelativeHumidity = append(data.Hourly.RelativeHumidity, v.Humidity)
		data.Hourly.ApparentTemp = append(data.Hourly.ApparentTemp, v.TemperatureApparent)
		data.Hourly.Precipitation = append(data.Hourly.Precipitation, zeroIfNil(v.PrecipitationIntensity))
		data.Hourly.WeatherCode = append(data.Hourly.WeatherCode, intPtr(MapTomorrowCode(derefInt(v.WeatherCode))))
		data.Hourly.WindSpeed = append(data.Hourly.WindSpeed, v.WindSpeed)
		data.Hourly.WindDirection = append(data.Hourly.WindDirection, v.WindDirection)
		data.Hourly.WindGusts = append(data.Hourly.WindGusts, v.WindGust)
		data.Hourly.SurfacePressure = append(data.Hourly.SurfacePressure, v.PressureSurfaceLevel)
		data.Hourly.CloudCover = append(data.Hourly.CloudCover, v.CloudCover)
		data.Hourly.UVIndex = append(data.Hourly.UVIndex, v.UVIndex)
	}

	if len(dailyRaw) > 7 {
		dailyRaw = dailyRaw[:7]
	}
	for _, d := range dailyRaw {
		v := d.Values
		data.Daily.Time = append(data.Daily.Time, d.Time)
		data.Daily.WeatherCode = append(data.Daily.WeatherCode, intPtr(MapTomorrowCode(derefInt(v.WeatherCodeMax))))
		data.Daily.TempMax = append(data.Daily.TempMax, v.TemperatureMax)
		data.Daily.TempMin = append(data.Daily.TempMin, v.TemperatureMin)
		data.Daily.ApparentTempMax = append(data.Daily.ApparentTempMax, v.TemperatureApparentMax)
		data.Daily.ApparentTempMin = append(data.Daily.ApparentTempMin, v.TemperatureApparentMin)
		data.Daily.PrecipSum = append(data.Daily.PrecipSum, zeroIfNil(v.PrecipitationIntensityMax))
		data.Daily.PrecipProbMax = append(data.Daily.PrecipProbMax, zeroIfNil(v.PrecipitationProbabilityMax))
		data.Daily.WindSpeedMax = append(data.Daily.WindSpeedMax, v.WindSpeedMax)
		data.Daily.WindGustsMax = append(data.Daily.WindGustsMax, v.WindGustMax)
		data.Daily.WindDirDominant = append(data.Daily.WindDirDominant, v.WindDirectionAvg)
		data.Daily.UVIndexMax = append(data.Daily.UVIndexMax, v.UVIndexMax)
		data.Daily.Sunrise = append(data.Daily.Sunrise, v.SunriseTime)
		data.Daily.Sunset = append(data.Daily.Sunset, v.SunsetTime)
	}

	// Agricultural and safety metrics exist only on daily entries;
	// the first day is the one the suitability rules evaluate.
	if len(dailyRaw) > 0 {
		v := dailyRaw[0].Values
		insights := &datatypes.WeatherInsights{
			HeatStressIndex:         v.HeatIndexMax,
			ThunderstormProbability: v.ThunderstormProbability,
			UVHealthConcern:         v.UVHealthConcernMax,
			Visibility:              v.VisibilityAvg,
			WindSpeed:               v.WindSpeedMax,
			WindGust:                v.WindGustMax,
			DewPoint:                v.DewPointAvg,
			GDD10To30:               v.GDD10To30,
			Evapotranspiration:      v.EvapotranspirationAvg,
			MoonPhase:               v.MoonPhase,
			CloudBase:               v.CloudBaseAvg,
			CloudCeiling:            v.CloudCeilingAvg,
			PrecipitationType:       v.PrecipitationTypeMax,
		}
		if !insights.Empty() {
			data.Insights = insights
		}
	}

	return data
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
