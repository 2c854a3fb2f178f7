// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request, response, and document
// structures shared across the weather service.
//
// This file defines the normalized weather shape. Every provider
// (tomorrow.io, Open-Meteo, seasonal synthesis) is mapped into this one
// structure before it is cached, served, or summarized, so downstream
// consumers never see provider-specific field names.
package datatypes

import "time"

// =============================================================================
// Normalized weather shape
// =============================================================================

// CurrentWeather is the instantaneous observation block. Field names
// follow the Open-Meteo convention; tomorrow.io responses are renamed
// into it. Pointer fields distinguish "absent" from zero.
type CurrentWeather struct {
	Time             string   `json:"time,omitempty" bson:"time,omitempty"`
	Temperature      *float64 `json:"temperature_2m,omitempty" bson:"temperature_2m,omitempty"`
	RelativeHumidity *float64 `json:"relative_humidity_2m,omitempty" bson:"relative_humidity_2m,omitempty"`
	ApparentTemp     *float64 `json:"apparent_temperature,omitempty" bson:"apparent_temperature,omitempty"`
	Precipitation    *float64 `json:"precipitation,omitempty" bson:"precipitation,omitempty"`
	WeatherCode      *int     `json:"weather_code,omitempty" bson:"weather_code,omitempty"`
	WindSpeed        *float64 `json:"wind_speed_10m,omitempty" bson:"wind_speed_10m,omitempty"`
	WindDirection    *float64 `json:"wind_direction_10m,omitempty" bson:"wind_direction_10m,omitempty"`
	WindGusts        *float64 `json:"wind_gusts_10m,omitempty" bson:"wind_gusts_10m,omitempty"`
	SurfacePressure  *float64 `json:"surface_pressure,omitempty" bson:"surface_pressure,omitempty"`
	CloudCover       *float64 `json:"cloud_cover,omitempty" bson:"cloud_cover,omitempty"`
	UVIndex          *float64 `json:"uv_index,omitempty" bson:"uv_index,omitempty"`
}

// TemperatureOrZero returns the current temperature, or 0 when the
// provider omitted it. Cache staleness checks use this convention.
func (c *CurrentWeather) TemperatureOrZero() float64 {
	if c == nil || c.Temperature == nil {
		return 0
	}
	return *c.Temperature
}

// WeatherCodeOrZero returns the current WMO code, or 0 when absent.
func (c *CurrentWeather) WeatherCodeOrZero() int {
	if c == nil || c.WeatherCode == nil {
		return 0
	}
	return *c.WeatherCode
}

// HourlyWeather holds parallel arrays, at most 24 entries each.
type HourlyWeather struct {
	Time              []string   `json:"time,omitempty" bson:"time,omitempty"`
	Temperature       []*float64 `json:"temperature_2m,omitempty" bson:"temperature_2m,omitempty"`
	RelativeHumidity  []*float64 `json:"relative_humidity_2m,omitempty" bson:"relative_humidity_2m,omitempty"`
	ApparentTemp      []*float64 `json:"apparent_temperature,omitempty" bson:"apparent_temperature,omitempty"`
	PrecipProbability []*float64 `json:"precipitation_probability,omitempty" bson:"precipitation_probability,omitempty"`
	Precipitation     []*float64 `json:"precipitation,omitempty" bson:"precipitation,omitempty"`
	WeatherCode       []*int     `json:"weather_code,omitempty" bson:"weather_code,omitempty"`
	WindSpeed         []*float64 `json:"wind_speed_10m,omitempty" bson:"wind_speed_10m,omitempty"`
	WindDirection     []*float64 `json:"wind_direction_10m,omitempty" bson:"wind_direction_10m,omitempty"`
	WindGusts         []*float64 `json:"wind_gusts_10m,omitempty" bson:"wind_gusts_10m,omitempty"`
	SurfacePressure   []*float64 `json:"surface_pressure,omitempty" bson:"surface_pressure,omitempty"`
	CloudCover        []*float64 `json:"cloud_cover,omitempty" bson:"cloud_cover,omitempty"`
	UVIndex           []*float64 `json:"uv_index,omitempty" bson:"uv_index,omitempty"`
}

// Clamp truncates every hourly array to at most n entries. Providers
// that return longer horizons are cut down to the served shape.
func (h *HourlyWeather) Clamp(n int) {
	if h == nil {
		return
	}
	if len(h.Time) > n {
		h.Time = h.Time[:n]
	}
	clampFloats(&h.Temperature, n)
	clampFloats(&h.RelativeHumidity, n)
	clampFloats(&h.ApparentTemp, n)
	clampFloats(&h.PrecipProbability, n)
	clampFloats(&h.Precipitation, n)
	if len(h.WeatherCode) > n {
		h.WeatherCode = h.WeatherCode[:n]
	}
	clampFloats(&h.WindSpeed, n)
	clampFloats(&h.WindDirection, n)
	clampFloats(&h.WindGusts, n)
	clampFloats(&h.SurfacePressure, n)
	clampFloats(&h.CloudCover, n)
	clampFloats(&h.UVIndex, n)
}

func clampFloats(arr *[]*float64, n int) {
	if len(*arr) > n {
		*arr = (*arr)[:n]
	}
}

// DailyWeather holds parallel arrays, at most 7 entries each.
type DailyWeather struct {
	Time            []string   `json:"time,omitempty" bson:"time,omitempty"`
	WeatherCode     []*int     `json:"weather_code,omitempty" bson:"weather_code,omitempty"`
	TempMax         []*float64 `json:"temperature_2m_max,omitempty" bson:"temperature_2m_max,omitempty"`
	TempMin         []*float64 `json:"temperature_2m_min,omitempty" bson:"temperature_2m_min,omitempty"`
	ApparentTempMax []*float64 `json:"apparent_temperature_max,omitempty" bson:"apparent_temperature_max,omitempty"`
	ApparentTempMin []*float64 `json:"apparent_temperature_min,omitempty" bson:"apparent_temperature_min,omitempty"`
	PrecipSum       []*float64 `json:"precipitation_sum,omitempty" bson:"precipitation_sum,omitempty"`
	PrecipProbMax   []*float64 `json:"precipitation_probability_max,omitempty" bson:"precipitation_probability_max,omitempty"`
	WindSpeedMax    []*float64 `json:"wind_speed_10m_max,omitempty" bson:"wind_speed_10m_max,omitempty"`
	WindGustsMax    []*float64 `json:"wind_gusts_10m_max,omitempty" bson:"wind_gusts_10m_max,omitempty"`
	WindDirDominant []*float64 `json:"wind_direction_10m_dominant,omitempty" bson:"wind_direction_10m_dominant,omitempty"`
	UVIndexMax      []*float64 `json:"uv_index_max,omitempty" bson:"uv_index_max,omitempty"`
	Sunrise         []string   `json:"sunrise,omitempty" bson:"sunrise,omitempty"`
	Sunset          []string   `json:"sunset,omitempty" bson:"sunset,omitempty"`
}

// Clamp truncates every daily array to at most n entries.
func (d *DailyWeather) Clamp(n int) {
	if d == nil {
		return
	}
	if len(d.Time) > n {
		d.Time = d.Time[:n]
	}
	if len(d.WeatherCode) > n {
		d.WeatherCode = d.WeatherCode[:n]
	}
	clampFloats(&d.TempMax, n)
	clampFloats(&d.TempMin, n)
	clampFloats(&d.ApparentTempMax, n)
	clampFloats(&d.ApparentTempMin, n)
	clampFloats(&d.PrecipSum, n)
	clampFloats(&d.PrecipProbMax, n)
	clampFloats(&d.WindSpeedMax, n)
	clampFloats(&d.WindGustsMax, n)
	clampFloats(&d.WindDirDominant, n)
	clampFloats(&d.UVIndexMax, n)
	if len(d.Sunrise) > n {
		d.Sunrise = d.Sunrise[:n]
	}
	if len(d.Sunset) > n {
		d.Sunset = d.Sunset[:n]
	}
}

// WeatherInsights carries tomorrow.io-only agricultural and safety
// metrics from the first daily entry. All fields are optional; a nil
// *WeatherInsights means the provider supplied none.
type WeatherInsights struct {
	HeatStressIndex         *float64 `json:"heatStressIndex,omitempty" bson:"heatStressIndex,omitempty"`
	ThunderstormProbability *float64 `json:"thunderstormProbability,omitempty" bson:"thunderstormProbability,omitempty"`
	UVHealthConcern         *float64 `json:"uvHealthConcern,omitempty" bson:"uvHealthConcern,omitempty"`
	Visibility              *float64 `json:"visibility,omitempty" bson:"visibility,omitempty"`
	WindSpeed               *float64 `json:"windSpeed,omitempty" bson:"windSpeed,omitempty"`
	WindGust                *float64 `json:"windGust,omitempty" bson:"windGust,omitempty"`
	DewPoint                *float64 `json:"dewPoint,omitempty" bson:"dewPoint,omitempty"`
	GDD10To30               *float64 `json:"gdd10To30,omitempty" bson:"gdd10To30,omitempty"`
	Evapotranspiration      *float64 `json:"evapotranspiration,omitempty" bson:"evapotranspiration,omitempty"`
	MoonPhase               *float64 `json:"moonPhase,omitempty" bson:"moonPhase,omitempty"`
	CloudBase               *float64 `json:"cloudBase,omitempty" bson:"cloudBase,omitempty"`
	CloudCeiling            *float64 `json:"cloudCeiling,omitempty" bson:"cloudCeiling,omitempty"`
	PrecipitationType       *float64 `json:"precipitationType,omitempty" bson:"precipitationType,omitempty"`
}

// Empty reports whether no insight field is set.
func (i *WeatherInsights) Empty() bool {
	if i == nil {
		return true
	}
	return i.HeatStressIndex == nil && i.ThunderstormProbability == nil &&
		i.UVHealthConcern == nil && i.Visibility == nil && i.WindSpeed == nil &&
		i.WindGust == nil && i.DewPoint == nil && i.GDD10To30 == nil &&
		i.Evapotranspiration == nil && i.MoonPhase == nil && i.CloudBase == nil &&
		i.CloudCeiling == nil && i.PrecipitationType == nil
}

// Metric returns the named insight value. Suitability rules address
// metrics by these names, so the set here is the rule vocabulary.
func (i *WeatherInsights) Metric(field string) (float64, bool) {
	if i == nil {
		return 0, false
	}
	var p *float64
	switch field {
	case "heatStressIndex":
		p = i.HeatStressIndex
	case "thunderstormProbability":
		p = i.ThunderstormProbability
	case "uvHealthConcern":
		p = i.UVHealthConcern
	case "visibility":
		p = i.Visibility
	case "windSpeed":
		p = i.WindSpeed
	case "windGust":
		p = i.WindGust
	case "dewPoint":
		p = i.DewPoint
	case "gdd10To30":
		p = i.GDD10To30
	case "evapotranspiration":
		p = i.Evapotranspiration
	case "moonPhase":
		p = i.MoonPhase
	case "cloudBase":
		p = i.CloudBase
	case "cloudCeiling":
		p = i.CloudCeiling
	case "precipitationType":
		p = i.PrecipitationType
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// WeatherData is the full normalized document served by the weather
// endpoint and stored in the cache.
type WeatherData struct {
	Current  *CurrentWeather  `json:"current,omitempty" bson:"current,omitempty"`
	Hourly   *HourlyWeather   `json:"hourly,omitempty" bson:"hourly,omitempty"`
	Daily    *DailyWeather    `json:"daily,omitempty" bson:"daily,omitempty"`
	Insights *WeatherInsights `json:"insights,omitempty" bson:"insights,omitempty"`
}

// =============================================================================
// Cache and history documents
// =============================================================================

// CachedWeather is the weather_cache document.
type CachedWeather struct {
	LocationSlug string       `bson:"locationSlug"`
	Data         *WeatherData `bson:"data"`
	Provider     string       `bson:"provider"`
	Lat          float64      `bson:"lat"`
	Lon          float64      `bson:"lon"`
	FetchedAt    time.Time    `bson:"fetchedAt"`
	ExpiresAt    time.Time    `bson:"expiresAt"`
}

// HistoryDaily is the first-day forecast projection appended to each
// history record. Only the first daily element is kept; the forecast
// horizon beyond that is reconstructible from later records.
type HistoryDaily struct {
	Date            string   `json:"date,omitempty" bson:"date,omitempty"`
	WeatherCode     *int     `json:"weatherCode,omitempty" bson:"weatherCode,omitempty"`
	TempMax         *float64 `json:"tempMax,omitempty" bson:"tempMax,omitempty"`
	TempMin         *float64 `json:"tempMin,omitempty" bson:"tempMin,omitempty"`
	ApparentTempMax *float64 `json:"apparentTempMax,omitempty" bson:"apparentTempMax,omitempty"`
	ApparentTempMin *float64 `json:"apparentTempMin,omitempty" bson:"apparentTempMin,omitempty"`
	PrecipSum       *float64 `json:"precipSum,omitempty" bson:"precipSum,omitempty"`
	PrecipProbMax   *float64 `json:"precipProbMax,omitempty" bson:"precipProbMax,omitempty"`
	WindSpeedMax    *float64 `json:"windSpeedMax,omitempty" bson:"windSpeedMax,omitempty"`
	WindGustMax     *float64 `json:"windGustMax,omitempty" bson:"windGustMax,omitempty"`
	WindDirDominant *float64 `json:"windDirDominant,omitempty" bson:"windDirDominant,omitempty"`
	UVIndexMax      *float64 `json:"uvIndexMax,omitempty" bson:"uvIndexMax,omitempty"`
	Sunrise         string   `json:"sunrise,omitempty" bson:"sunrise,omitempty"`
	Sunset          string   `json:"sunset,omitempty" bson:"sunset,omitempty"`
}

// HistoryRecord is one weather_history document, appended on every
// fresh provider fetch.
type HistoryRecord struct {
	LocationSlug string           `json:"locationSlug" bson:"locationSlug"`
	RecordedAt   time.Time        `json:"recordedAt" bson:"recordedAt"`
	Current      *CurrentWeather  `json:"current,omitempty" bson:"current,omitempty"`
	Daily        *HistoryDaily    `json:"daily,omitempty" bson:"daily,omitempty"`
	Insights     *WeatherInsights `json:"insights,omitempty" bson:"insights,omitempty"`
}
