// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
)

// Default coordinates (Harare) when the caller omits lat/lon.
const (
	defaultLat = -17.83
	defaultLon = 31.05
)

// HandleWeather serves GET /weather.
//
// lat and lon default to Harare. The body is the normalized weather
// document; X-Cache reports HIT or MISS and X-Weather-Provider names
// the tier that produced the data (tomorrow, open-meteo, fallback, or
// the cached fetch's original provider).
func HandleWeather(weather *services.WeatherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleWeather")
		defer span.End()

		lat, okLat := parseCoord(c.Query("lat"), defaultLat)
		lon, okLon := parseCoord(c.Query("lon"), defaultLon)
		if !okLat || !okLon {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates"})
			return
		}

		result, err := weather.Fetch(ctx, lat, lon)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, services.ErrInvalidCoordinates) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates"})
				return
			}
			slog.Error("Weather fetch failed", "error", err, "lat", lat, "lon", lon)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Weather data unavailable"})
			return
		}

		if result.CacheHit {
			c.Header("X-Cache", "HIT")
		} else {
			c.Header("X-Cache", "MISS")
		}
		c.Header("X-Weather-Provider", result.Provider)
		c.JSON(http.StatusOK, result.Data)
	}
}
