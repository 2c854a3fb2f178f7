// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the gin HTTP handlers for the weather API.
//
// One file per endpoint family (weather, chat, reports, locations, ...).
// Handlers are closures over their dependencies. Domain logic lives in
// the services package; handlers only parse, rate limit, call, and map
// errors onto statuses. Store-facing dependencies are declared as
// narrow interfaces satisfied by *store.Store so tests can swap in
// mocks. Failure bodies are always {"error": "..."}.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/middleware"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

var tracer = otel.Tracer("mukoko.weatherapi.handlers")

// rateWindow is the window every per-IP budget shares.
const rateWindow = time.Hour

// Per-IP hourly budgets by action. Generation endpoints are tight;
// report submission is the tightest because each one writes a document
// other users see.
const (
	chatRateMax           = 20
	followupRateMax       = 30
	exploreRateMax        = 15
	analyzeRateMax        = 10
	reportRateMax         = 5
	clarifyRateMax        = 10
	locationCreateRateMax = 5
)

// rateLimitedMsg is the standard 429 body text.
const rateLimitedMsg = "Rate limit exceeded. Try again later."

// RateLimiter is the slice of the store the per-IP gates use.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, ip, action string, maxRequests int, window time.Duration) store.RateLimitResult
}

var _ RateLimiter = (*store.Store)(nil)

// requireClientIP returns the address resolved by the middleware,
// answering 400 when there is none. Rate limiting and report identity
// both need a stable per-client key.
func requireClientIP(c *gin.Context) (string, bool) {
	ip := middleware.GetClientIP(c)
	if ip == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not determine IP"})
		return "", false
	}
	return ip, true
}

// clientIPOrUnknown returns the resolved client address, or "unknown"
// when the middleware found none. Endpoints that rate limit but never
// reject on a missing address pool unresolvable clients together.
func clientIPOrUnknown(c *gin.Context) string {
	if ip := middleware.GetClientIP(c); ip != "" {
		return ip
	}
	return "unknown"
}

// allowRate consumes one unit of the per-IP budget for action,
// answering 429 with msg when the budget is spent.
func allowRate(c *gin.Context, limiter RateLimiter, ip, action string, max int, msg string) bool {
	result := limiter.CheckRateLimit(c.Request.Context(), ip, action, max, rateWindow)
	if !result.Allowed {
		observability.DefaultMetrics.RecordRateLimited(action)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": msg})
		return false
	}
	return true
}

// parseCoord parses a query coordinate. An absent value yields the
// fallback; a present but malformed one yields ok=false.
func parseCoord(s string, fallback float64) (float64, bool) {
	if s == "" {
		return fallback, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseIntDefault parses a query integer, using fallback for absent or
// malformed values.
func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
