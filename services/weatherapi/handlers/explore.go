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
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
)

// HandleExploreSearch serves POST /explore/search, natural-language
// location search. The service degrades to plain text search on any
// model failure, so a gated request always gets a 200 with results.
func HandleExploreSearch(explore *services.ExploreService, limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleExploreSearch")
		defer span.End()

		var req datatypes.ExploreSearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := strings.TrimSpace(req.Query)
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query is required"})
			return
		}
		if len(query) > datatypes.MaxExploreQueryLen {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Query too long (max %d characters)", datatypes.MaxExploreQueryLen),
			})
			return
		}

		ip, ok := requireClientIP(c)
		if !ok {
			return
		}
		if !allowRate(c, limiter, ip, "explore_search", exploreRateMax, rateLimitedMsg) {
			return
		}

		c.JSON(http.StatusOK, explore.Search(ctx, query))
	}
}
