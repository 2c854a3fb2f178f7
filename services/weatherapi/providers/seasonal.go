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
	"math"
	"time"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// SeasonalEstimate synthesizes plausible weather when every network
// provider has failed. Baselines follow the southern-hemisphere
// calendar: the rains from November through March, the cool dry winter
// mid-year, and the October heat build-up. The baseline cools by
// 0.006 degC per metre above 1000m.
//
// The result is marked provider "fallback" by the pipeline and is
// never cached or recorded as history.
func SeasonalEstimate(now time.Time, elevation int) *datatypes.WeatherData {
	temp, code := seasonalBaseline(now.Month())

	elevationAdj := math.Max(0, float64(elevation-1000)) * 0.006
	temp = math.Round((temp-elevationAdj)*10) / 10

	current := &datatypes.CurrentWeather{
		Time:             now.Format(time.RFC3339),
		Temperature:      floatPtr(temp),
		RelativeHumidity: floatPtr(60),
		ApparentTemp:     floatPtr(temp - 1),
		Precipitation:    floatPtr(0),
		WeatherCode:      intPtr(code),
		WindSpeed:        floatPtr(8),
		WindDirection:    floatPtr(180),
		WindGusts:        floatPtr(15),
		SurfacePressure:  floatPtr(1013),
		CloudCover:       floatPtr(30),
	}

	hourly := &datatypes.HourlyWeather{}
	for i := 0; i < 24; i++ {
		hourly.Time = append(hourly.Time, now.Add(time.Duration(i)*time.Hour).Format(time.RFC3339))
		hourly.Temperature = append(hourly.Temperature, floatPtr(temp))
		hourly.RelativeHumidity = append(hourly.RelativeHumidity, floatPtr(60))
		hourly.ApparentTemp = append(hourly.ApparentTemp, floatPtr(temp-1))
		hourly.Precipitation = append(hourly.Precipitation, floatPtr(0))
		hourly.WeatherCode = append(hourly.WeatherCode, intPtr(code))
		hourly.WindSpeed = append(hourly.WindSpeed, floatPtr(8))
		hourly.WindDirection = append(hourly.WindDirection, floatPtr(180))
		hourly.WindGusts = append(hourly.WindGusts, floatPtr(15))
		hourly.SurfacePressure = append(hourly.SurfacePressure, floatPtr(1013))
		hourly.CloudCover = append(hourly.CloudCover, floatPtr(30))
		hourly.UVIndex = append(hourly.UVIndex, floatPtr(5))
	}

	daily := &datatypes.DailyWeather{}
	for i := 0; i < 7; i++ {
		daily.Time = append(daily.Time, now.AddDate(0, 0, i).Format("2006-01-02"))
		daily.WeatherCode = append(daily.WeatherCode, intPtr(code))
		daily.TempMax = append(daily.TempMax, floatPtr(temp+5))
		daily.TempMin = append(daily.TempMin, floatPtr(temp-8))
		daily.ApparentTempMax = append(daily.ApparentTempMax, floatPtr(temp+4))
		daily.ApparentTempMin = append(daily.ApparentTempMin, floatPtr(temp-9))
		daily.PrecipSum = append(daily.PrecipSum, floatPtr(0))
		daily.PrecipProbMax = append(daily.PrecipProbMax, floatPtr(0))
		daily.WindSpeedMax = append(daily.WindSpeedMax, floatPtr(15))
		daily.WindGustsMax = append(daily.WindGustsMax, floatPtr(25))
		daily.WindDirDominant = append(daily.WindDirDominant, floatPtr(180))
		daily.UVIndexMax = append(daily.UVIndexMax, floatPtr(7))
		daily.Sunrise = append(daily.Sunrise, "06:00")
		daily.Sunset = append(daily.Sunset, "18:00")
	}

	return &datatypes.WeatherData{
		Current: current,
		Hourly:  hourly,
		Daily:   daily,
	}
}

func seasonalBaseline(month time.Month) (float64, int) {
	switch month {
	case time.November, time.December, time.January, time.February, time.March:
		// Masika: rainy season.
		return 28, 61
	case time.April, time.May:
		// Munakamwe: post-rain.
		return 22, 2
	case time.June, time.July, time.August:
		// Chirimo: dry and cold.
		return 18, 0
	default:
		// Zhizha: hot and dry.
		return 32, 0
	}
}
