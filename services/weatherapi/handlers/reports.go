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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
)

// HandleSubmitReport serves POST /reports, community weather reports.
func HandleSubmitReport(reports *services.ReportsService, limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleSubmitReport")
		defer span.End()

		ip, ok := requireClientIP(c)
		if !ok {
			return
		}
		if !allowRate(c, limiter, ip, "weather_report", reportRateMax, rateLimitedMsg) {
			return
		}

		var req datatypes.SubmitReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		resp, err := reports.Submit(ctx, &req, ip)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case errors.Is(err, services.ErrInvalidReportType):
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid report type. Must be one of: " + datatypes.ReportTypeList(),
				})
			case errors.Is(err, services.ErrUnknownLocation):
				c.JSON(http.StatusNotFound, gin.H{"error": "Unknown location"})
			default:
				c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to submit report"})
			}
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// HandleListReports serves GET /reports, recent reports for a
// location within the TTL window.
func HandleListReports(reports *services.ReportsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		location := strings.TrimSpace(c.Query("location"))
		if location == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing location parameter"})
			return
		}

		hours := parseIntDefault(c.Query("hours"), 24)
		resp, err := reports.List(c.Request.Context(), location, hours)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch reports"})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// HandleUpvoteReport serves POST /reports/upvote. One vote per client
// identity per report; a repeat vote answers 200 with upvoted=false.
func HandleUpvoteReport(reports *services.ReportsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip, ok := requireClientIP(c)
		if !ok {
			return
		}

		var req datatypes.UpvoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		resp, err := reports.Upvote(c.Request.Context(), req.ReportID, ip)
		if err != nil {
			if errors.Is(err, services.ErrInvalidReportID) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report ID"})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to upvote report"})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// HandleClarifyReport serves POST /reports/clarify, AI follow-up
// questions for a report draft. The service falls back to canned
// questions whenever the model path is unavailable, so the only
// failure statuses are input problems and the per-IP budget.
func HandleClarifyReport(reports *services.ReportsService, limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleClarifyReport")
		defer span.End()

		ip, ok := requireClientIP(c)
		if !ok {
			return
		}

		var req datatypes.ClarifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if !datatypes.ReportTypes[req.ReportType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report type"})
			return
		}

		if !allowRate(c, limiter, ip, "report_clarify", clarifyRateMax, "Rate limit exceeded") {
			return
		}

		resp, err := reports.Clarify(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report type"})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
