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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/providers"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// StatusStore is the slice of the store the health dashboard probes.
type StatusStore interface {
	Ping(ctx context.Context) error
	APIKey(ctx context.Context, provider string) (string, error)
	FreshCacheCount(ctx context.Context) (int64, error)
	FreshSummaryCount(ctx context.Context) (int64, error)
}

var _ StatusStore = (*store.Store)(nil)

// StatusDeps bundles everything the dashboard probes touch.
type StatusDeps struct {
	Store StatusStore

	// HTTP issues the provider probes. Injected so tests can stub the
	// upstreams.
	HTTP providers.HTTPClient

	// LLM may be nil when no key is configured; the check reports the
	// fallback as degraded rather than down.
	LLM llm.MessagesClient

	// LLMKeyConfigured distinguishes "no key anywhere" from a client
	// that failed a real call.
	LLMKeyConfigured bool
}

// Probe coordinates: Harare. The dashboard wants a request that
// exercises the same path user traffic takes.
const probeLocation = "-17.83,31.05"

// truncateMsg keeps upstream error text presentable on the dashboard.
func truncateMsg(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// HandleStatus serves GET /status, the live dependency dashboard. The
// six probes run concurrently; the overall headline is operational
// only when every check is.
func HandleStatus(deps StatusDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleStatus")
		defer span.End()

		start := time.Now()
		checks := make([]datatypes.CheckResult, 6)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { checks[0] = checkMongo(gctx, deps.Store); return nil })
		g.Go(func() error { checks[1] = checkTomorrow(gctx, deps); return nil })
		g.Go(func() error { checks[2] = checkOpenMeteo(gctx, deps.HTTP); return nil })
		g.Go(func() error { checks[3] = checkLLM(gctx, deps); return nil })
		g.Go(func() error { checks[4] = checkWeatherCache(gctx, deps.Store); return nil })
		g.Go(func() error { checks[5] = checkSummaryCache(gctx, deps.Store); return nil })
		_ = g.Wait()

		c.JSON(http.StatusOK, datatypes.StatusResponse{
			Status:         datatypes.OverallStatus(checks),
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			TotalLatencyMs: elapsedMs(start),
			Checks:         checks,
		})
	}
}

func checkMongo(ctx context.Context, st StatusStore) datatypes.CheckResult {
	start := time.Now()
	check := datatypes.CheckResult{Name: "MongoDB Atlas"}
	if err := st.Ping(ctx); err != nil {
		check.Status = datatypes.StatusDown
		check.Message = truncateMsg(err.Error(), 200)
	} else {
		check.Status = datatypes.StatusOperational
		check.Message = "Connected and responding"
	}
	check.LatencyMs = elapsedMs(start)
	return check
}

func checkTomorrow(ctx context.Context, deps StatusDeps) datatypes.CheckResult {
	start := time.Now()
	check := datatypes.CheckResult{Name: "Tomorrow.io API"}
	defer func() { check.LatencyMs = elapsedMs(start) }()

	apiKey, err := deps.Store.APIKey(ctx, "tomorrow")
	if err != nil {
		check.Status = datatypes.StatusDegraded
		check.Message = fmt.Sprintf("Cannot retrieve API key (%s)", truncateMsg(err.Error(), 100))
		check.LatencyMs = elapsedMs(start)
		return check
	}
	if apiKey == "" {
		check.Status = datatypes.StatusDegraded
		check.Message = "API key not configured — seed api_keys with a tomorrow entry. Using Open-Meteo fallback."
		check.LatencyMs = elapsedMs(start)
		return check
	}

	url := "https://api.tomorrow.io/v4/weather/realtime?location=" + probeLocation + "&apikey=" + apiKey
	resp, err := probeGet(ctx, deps.HTTP, url)
	if err != nil {
		check.Status = datatypes.StatusDown
		check.Message = truncateMsg(err.Error(), 200)
		check.LatencyMs = elapsedMs(start)
		return check
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		check.Status = datatypes.StatusDegraded
		check.Message = "Rate limited (429) — falling back to Open-Meteo"
	case resp.StatusCode != http.StatusOK:
		check.Status = datatypes.StatusDown
		check.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	default:
		check.Status = datatypes.StatusOperational
		check.Message = "Responding normally"
	}
	check.LatencyMs = elapsedMs(start)
	return check
}

func checkOpenMeteo(ctx context.Context, client providers.HTTPClient) datatypes.CheckResult {
	start := time.Now()
	check := datatypes.CheckResult{Name: "Open-Meteo API"}

	url := "https://api.open-meteo.com/v1/forecast?latitude=-17.83&longitude=31.05&current=temperature_2m"
	resp, err := probeGet(ctx, client, url)
	if err != nil {
		check.Status = datatypes.StatusDown
		check.Message = truncateMsg(err.Error(), 200)
		check.LatencyMs = elapsedMs(start)
		return check
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		check.Status = datatypes.StatusDown
		check.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		check.LatencyMs = elapsedMs(start)
		return check
	}

	var body struct {
		Current struct {
			Temperature *float64 `json:"temperature_2m"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Current.Temperature == nil {
		check.Status = datatypes.StatusDegraded
		check.Message = "Response received but missing expected data"
	} else {
		check.Status = datatypes.StatusOperational
		check.Message = "Responding normally"
	}
	check.LatencyMs = elapsedMs(start)
	return check
}

func checkLLM(ctx context.Context, deps StatusDeps) datatypes.CheckResult {
	start := time.Now()
	check := datatypes.CheckResult{Name: "Anthropic AI (Shamwari)"}

	if deps.LLM == nil || !deps.LLMKeyConfigured {
		check.Status = datatypes.StatusDegraded
		check.Message = "API key not configured — basic summary fallback active"
		check.LatencyMs = elapsedMs(start)
		return check
	}

	_, err := deps.LLM.Messages(ctx, llm.Request{
		MaxTokens: 1,
		Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, "ping")},
	})
	switch {
	case err == nil:
		check.Status = datatypes.StatusOperational
		check.Message = "Responding normally"
	case isLLMStatus(err, http.StatusUnauthorized):
		check.Status = datatypes.StatusDown
		check.Message = "Invalid API key"
	case errors.Is(err, llm.ErrRateLimited):
		check.Status = datatypes.StatusDegraded
		check.Message = "Rate limited — AI summaries may be delayed"
	default:
		if apiErr, ok := asAPIError(err); ok {
			check.Status = datatypes.StatusDegraded
			check.Message = fmt.Sprintf("HTTP %d", apiErr.StatusCode)
		} else {
			check.Status = datatypes.StatusDown
			check.Message = truncateMsg(err.Error(), 200)
		}
	}
	check.LatencyMs = elapsedMs(start)
	return check
}

func checkWeatherCache(ctx context.Context, st StatusStore) datatypes.CheckResult {
	start := time.Now()
	check := datatypes.CheckResult{Name: "Weather Cache"}
	count, err := st.FreshCacheCount(ctx)
	switch {
	case err != nil:
		check.Status = datatypes.StatusDown
		check.Message = truncateMsg(err.Error(), 200)
	case count > 0:
		check.Status = datatypes.StatusOperational
		check.Message = fmt.Sprintf("%d active cached location%s", count, plural(count))
	default:
		check.Status = datatypes.StatusDegraded
		check.Message = "Cache is empty — next requests will fetch fresh data"
	}
	check.LatencyMs = elapsedMs(start)
	return check
}

func checkSummaryCache(ctx context.Context, st StatusStore) datatypes.CheckResult {
	start := time.Now()
	check := datatypes.CheckResult{Name: "AI Summary Cache"}
	count, err := st.FreshSummaryCount(ctx)
	switch {
	case err != nil:
		check.Status = datatypes.StatusDown
		check.Message = truncateMsg(err.Error(), 200)
	case count > 0:
		check.Status = datatypes.StatusOperational
		check.Message = fmt.Sprintf("%d active cached summaries", count)
	default:
		check.Status = datatypes.StatusDegraded
		check.Message = "Cache is empty — next requests will generate fresh summaries"
	}
	check.LatencyMs = elapsedMs(start)
	return check
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// probeGet issues one GET with a 10-second ceiling independent of the
// request deadline.
func probeGet(ctx context.Context, client providers.HTTPClient, url string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// isLLMStatus reports whether err is a provider APIError with the
// given upstream status.
func isLLMStatus(err error, status int) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.StatusCode == status
}

func asAPIError(err error) (*llm.APIError, bool) {
	var apiErr *llm.APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// HandleHealth serves GET /health, the cheap liveness probe: one
// store ping and nothing else.
func HandleHealth(st StatusStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "degraded",
				"service":  "mukoko-weather",
				"database": "unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "mukoko-weather",
			"database": "connected",
		})
	}
}
