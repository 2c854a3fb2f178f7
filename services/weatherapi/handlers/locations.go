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
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
)

// HandleLocations serves GET /locations in four modes: single by
// ?slug=, tag counts via ?mode=tags, aggregate counts via ?mode=stats,
// filtered by ?tag=, and the full listing otherwise.
func HandleLocations(locations *services.LocationsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if slug := strings.TrimSpace(c.Query("slug")); slug != "" {
			loc, err := locations.BySlug(ctx, slug)
			if err != nil {
				if errors.Is(err, services.ErrUnknownLocation) {
					c.JSON(http.StatusNotFound, gin.H{"error": "Location not found"})
					return
				}
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location data unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"location": loc})
			return
		}

		switch c.Query("mode") {
		case "tags":
			tags, err := locations.Tags(ctx)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location data unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"tags": tags})
			return
		case "stats":
			stats, err := locations.Stats(ctx)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location data unavailable"})
				return
			}
			c.JSON(http.StatusOK, stats)
			return
		}

		var (
			locs []datatypes.Location
			err  error
		)
		if tag := strings.TrimSpace(c.Query("tag")); tag != "" {
			locs, err = locations.ByTag(ctx, tag)
		} else {
			locs, err = locations.All(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location data unavailable"})
			return
		}
		if locs == nil {
			locs = []datatypes.Location{}
		}
		c.JSON(http.StatusOK, gin.H{"locations": locs, "total": len(locs)})
	}
}

// HandleSearch serves GET /search: tag counts via ?mode=tags, a
// geospatial nearest query when lat and lon are present, and weighted
// text search otherwise.
func HandleSearch(locations *services.LocationsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if c.Query("mode") == "tags" {
			tags, err := locations.Tags(ctx)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"tags": tags})
			return
		}

		limit := int64(parseIntDefault(c.Query("limit"), 20))
		skip := int64(parseIntDefault(c.Query("skip"), 0))

		latStr, lonStr := c.Query("lat"), c.Query("lon")
		if latStr != "" && lonStr != "" {
			lat, okLat := parseCoord(latStr, 0)
			lon, okLon := parseCoord(lonStr, 0)
			if !okLat || !okLon {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search unavailable"})
				return
			}
			locs, err := locations.SearchNear(ctx, lat, lon, limit)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"locations": locs, "total": len(locs), "source": "mongodb"})
			return
		}

		locs, total, err := locations.SearchText(ctx, c.Query("q"), c.Query("tag"), skip, limit)
		if err != nil {
			if errors.Is(err, services.ErrEmptyQuery) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Provide q (search query) or tag (filter)"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search unavailable"})
			return
		}
		if locs == nil {
			locs = []datatypes.Location{}
		}
		c.JSON(http.StatusOK, gin.H{"locations": locs, "total": total, "source": "mongodb"})
	}
}

// HandleGeoLookup serves GET /geo, nearest-location resolution for a
// coordinate pair with optional auto-creation.
func HandleGeoLookup(locations *services.LocationsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleGeoLookup")
		defer span.End()

		lat, okLat := parseCoord(c.Query("lat"), 0)
		lon, okLon := parseCoord(c.Query("lon"), 0)
		if c.Query("lat") == "" || c.Query("lon") == "" || !okLat || !okLon {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates"})
			return
		}
		autoCreate := c.Query("autoCreate") == "true"

		resp, err := locations.GeoLookup(ctx, lat, lon, autoCreate)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case errors.Is(err, services.ErrOutsideRegions):
				c.JSON(http.StatusNotFound, gin.H{"error": "Location is outside supported regions"})
			case errors.Is(err, services.ErrGeocodeFailed):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Could not determine location name"})
			case errors.Is(err, services.ErrNoNearbyLocation):
				c.JSON(http.StatusNotFound, gin.H{"error": "No nearby location found. Use autoCreate=true to add one."})
			default:
				slog.Error("Geo lookup failed", "error", err, "lat", lat, "lon", lon)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location service unavailable"})
			}
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// HandleAddLocation serves POST /locations/add.
//
// Two modes share the endpoint: a body with lat and lon creates a
// location at those coordinates (rate limited; the write path), while
// any other body is treated as a forward-geocode candidate search on
// its query string.
func HandleAddLocation(locations *services.LocationsService, limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAddLocation")
		defer span.End()

		var req datatypes.AddLocationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		// Candidate search mode
		if req.Lat == nil || req.Lon == nil {
			candidates, err := locations.Candidates(ctx, req.Query)
			if err != nil {
				span.RecordError(err)
				if errors.Is(err, services.ErrEmptyQuery) {
					c.JSON(http.StatusBadRequest, gin.H{"error": "Empty query"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add location"})
				return
			}
			if candidates == nil {
				candidates = []datatypes.Geocoded{}
			}
			c.JSON(http.StatusOK, gin.H{"mode": "candidates", "results": candidates})
			return
		}

		// Coordinate mode
		lat, lon := *req.Lat, *req.Lon
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates"})
			return
		}
		if !locations.InSupportedRegion(ctx, lat, lon) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Coordinates are outside supported regions."})
			return
		}

		// Creation is rate limited even without a resolvable address;
		// an unresolvable client shares the "unknown" budget.
		ip := clientIPOrUnknown(c)
		if !allowRate(c, limiter, ip, "location-create", locationCreateRateMax, rateLimitedMsg) {
			return
		}

		result, err := locations.CreateFromCoordinates(ctx, lat, lon)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, services.ErrGeocodeFailed) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Could not determine location name"})
				return
			}
			slog.Error("Location create failed", "error", err, "lat", lat, "lon", lon)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add location"})
			return
		}

		if result.Duplicate != nil {
			c.JSON(http.StatusOK, gin.H{
				"mode":     "duplicate",
				"existing": result.Duplicate,
				"message":  "A location already exists nearby: " + result.Duplicate.Name,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mode": "created", "location": result.Created})
	}
}
