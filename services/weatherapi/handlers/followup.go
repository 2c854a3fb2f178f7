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
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
)

// HandleFollowup serves POST /ai/followup, the lightweight toolless
// chat on location pages. Context arrives in the request body (weather
// summary, season, activities) rather than through tool calls.
func HandleFollowup(followups *services.FollowupService, limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleFollowup")
		defer span.End()

		var req datatypes.FollowupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		req.Message = strings.TrimSpace(req.Message)
		if req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
			return
		}
		if len(req.Message) > datatypes.MaxChatMessageLen {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Message too long (max %d characters)", datatypes.MaxChatMessageLen),
			})
			return
		}

		ip, ok := requireClientIP(c)
		if !ok {
			return
		}
		if !allowRate(c, limiter, ip, "followup", followupRateMax, rateLimitedMsg) {
			return
		}

		resp, err := followups.Answer(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, llm.ErrRateLimited) {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "AI service rate limited"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI service unavailable"})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
