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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// HistoryStore is the slice of the store the raw history endpoint
// reads from.
type HistoryStore interface {
	LocationBySlug(ctx context.Context, slug string) (*datatypes.Location, error)
	HistoryDesc(ctx context.Context, slug string, since time.Time) ([]datatypes.HistoryRecord, error)
}

var _ HistoryStore = (*store.Store)(nil)

// HandleHistory serves GET /history, the raw recordings for a
// location. Records accumulate as a side effect of fresh weather
// fetches; there is no backfill.
func HandleHistory(st HistoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		location := strings.TrimSpace(c.Query("location"))
		if location == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing location parameter"})
			return
		}

		days := parseIntDefault(c.Query("days"), 30)
		if days < datatypes.MinHistoryDays || days > datatypes.MaxHistoryDays {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("days must be between %d and %d", datatypes.MinHistoryDays, datatypes.MaxHistoryDays),
			})
			return
		}

		loc, err := st.LocationBySlug(ctx, location)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location service unavailable"})
			return
		}
		if loc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown location"})
			return
		}

		since := time.Now().UTC().AddDate(0, 0, -days)
		records, err := st.HistoryDesc(ctx, location, since)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch weather history"})
			return
		}
		if records == nil {
			records = []datatypes.HistoryRecord{}
		}

		c.JSON(http.StatusOK, datatypes.HistoryResponse{
			Location: location,
			Days:     days,
			Records:  len(records),
			Data:     records,
		})
	}
}

// HandleHistoryAnalyze serves POST /history/analyze, the AI trend
// narrative over a location's recorded window.
func HandleHistoryAnalyze(analyzer *services.AnalyzerService, limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleHistoryAnalyze")
		defer span.End()

		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		req.Location = strings.ToLower(strings.TrimSpace(req.Location))
		if req.Location == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing location"})
			return
		}

		days := req.DaysOrDefault()
		if days < datatypes.MinAnalyzeDays || days > datatypes.MaxHistoryDays {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("days must be between %d and %d", datatypes.MinAnalyzeDays, datatypes.MaxHistoryDays),
			})
			return
		}

		ip, ok := requireClientIP(c)
		if !ok {
			return
		}
		if !allowRate(c, limiter, ip, "history_analyze", analyzeRateMax, rateLimitedMsg) {
			return
		}

		resp, err := analyzer.Analyze(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case errors.Is(err, services.ErrUnknownLocation):
				c.JSON(http.StatusNotFound, gin.H{"error": "Unknown location"})
			case errors.Is(err, services.ErrNoHistory):
				c.JSON(http.StatusNotFound, gin.H{"error": "No history data available for this period"})
			case errors.Is(err, llm.ErrRateLimited):
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "AI service rate limited. Try again later."})
			default:
				c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to analyze history"})
			}
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
