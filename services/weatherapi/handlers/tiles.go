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
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nyuchitech/mukoko-weather/pkg/validation"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/providers"
)

// tomorrowTileOrigin is the pinned upstream. The handler builds URLs
// from validated fragments only; nothing client-supplied can change
// the host.
const tomorrowTileOrigin = "https://api.tomorrow.io"

// validTileLayers is the layer whitelist. Layer names are path
// segments upstream, so unknown values are rejected outright.
var validTileLayers = map[string]bool{
	"precipitationIntensity": true,
	"temperature":            true,
	"windSpeed":              true,
	"cloudCover":             true,
	"humidity":               true,
}

// Zoom bounds tomorrow.io serves weather layers for.
const (
	minTileZoom = 1
	maxTileZoom = 12
)

// tileLimiter is the politeness gate toward the tile origin. Tiles
// are edge-cached for five minutes, so sustained high throughput here
// means a cache misconfiguration, not real demand.
var tileLimiter = rate.NewLimiter(rate.Limit(20), 40)

// KeyStore resolves provider API keys from the credential collection.
type KeyStore interface {
	APIKey(ctx context.Context, provider string) (string, error)
}

// HandleMapTiles serves GET /map-tiles, proxying weather map tiles
// from tomorrow.io so the API key never reaches the browser.
//
// SSRF posture: pinned origin, whitelisted layer, range-checked
// integer coordinates, regexp-checked timestamp. The response passes
// through the upstream PNG with a five-minute cache policy.
func HandleMapTiles(keys KeyStore, client providers.HTTPClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		layer := c.Query("layer")
		if !validTileLayers[layer] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid layer"})
			return
		}

		z, errZ := strconv.Atoi(c.Query("z"))
		x, errX := strconv.Atoi(c.Query("x"))
		y, errY := strconv.Atoi(c.Query("y"))
		if errZ != nil || errX != nil || errY != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tile coordinates"})
			return
		}
		if z < minTileZoom || z > maxTileZoom {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Zoom out of range"})
			return
		}

		timestamp := c.DefaultQuery("timestamp", "now")
		if err := validation.ValidateTileTimestamp(timestamp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timestamp"})
			return
		}

		apiKey, err := keys.APIKey(ctx, "tomorrow")
		if err != nil || apiKey == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Map service unavailable"})
			return
		}

		if err := tileLimiter.Wait(ctx); err != nil {
			c.Status(http.StatusGatewayTimeout)
			return
		}

		tileURL := fmt.Sprintf("%s/v4/map/tile/%d/%d/%d/%s/%s.png?apikey=%s",
			tomorrowTileOrigin, z, x, y, layer, timestamp, apiKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
		if err != nil {
			c.Status(http.StatusBadGateway)
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			c.Status(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// 429 and upstream errors pass through as bare statuses.
			c.Status(resp.StatusCode)
			return
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.Status(http.StatusBadGateway)
			return
		}

		c.Header("Cache-Control", "public, max-age=300, s-maxage=300")
		c.Header("X-Map-Layer", layer)
		c.Data(http.StatusOK, "image/png", body)
	}
}
