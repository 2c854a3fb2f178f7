// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the weather
// service.
//
// # Description
//
// Metrics cover the degradation chain this service is built around:
// provider fetches by outcome, cache hit rates, breaker rejections,
// LLM calls by feature, tool executions inside the chat loop, and
// rate-limiter rejections. Exposed on /metrics for Prometheus +
// Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "mukoko"

// Subsystem for the weather API.
const weatherSubsystem = "weatherapi"

// Outcome labels shared across counters. Provider fetches and LLM
// calls use the same vocabulary so dashboards can overlay them.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeRateLimited = "rate_limited"
	OutcomeBreakerOpen = "breaker_open"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Metrics holds all Prometheus metrics for the weather service.
//
// Initialize once at startup via InitMetrics(). Handlers and services
// reach it through DefaultMetrics; every recording helper is nil-safe
// so tests that never call InitMetrics stay quiet.
type Metrics struct {
	// RequestsTotal counts HTTP requests by route and status class.
	// Labels: route (gin template path), status ("2xx".."5xx")
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures request latency by route.
	RequestDurationSeconds *prometheus.HistogramVec

	// ProviderFetchesTotal counts upstream weather fetches.
	// Labels: provider (tomorrow, open-meteo, fallback), outcome
	ProviderFetchesTotal *prometheus.CounterVec

	// CacheLookupsTotal counts store cache lookups.
	// Labels: cache (weather, summary, analysis), result (hit, miss, stale)
	CacheLookupsTotal *prometheus.CounterVec

	// LLMCallsTotal counts model calls by feature and outcome.
	// Labels: feature (summary, chat, followup, explore, clarify,
	// analysis, status), outcome
	LLMCallsTotal *prometheus.CounterVec

	// LLMCallDurationSeconds measures model call latency by feature.
	LLMCallDurationSeconds *prometheus.HistogramVec

	// ToolExecutionsTotal counts tool executions in the chat and
	// explore loops. Labels: tool, outcome (ok, error, timeout)
	ToolExecutionsTotal *prometheus.CounterVec

	// RateLimitedTotal counts requests rejected by the per-IP limiter.
	// Labels: action (chat, followup, explore_search, ...)
	RateLimitedTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, populated by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics creates and registers all metrics with the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status class",
			},
			[]string{"route", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route"},
		),

		ProviderFetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "provider_fetches_total",
				Help:      "Upstream weather fetches by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "cache_lookups_total",
				Help:      "Store cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		LLMCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "llm_calls_total",
				Help:      "Model calls by feature and outcome",
			},
			[]string{"feature", "outcome"},
		),

		LLMCallDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "llm_call_duration_seconds",
				Help:      "Model call latency by feature",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"feature"},
		),

		ToolExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "tool_executions_total",
				Help:      "Chat tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: weatherSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-IP rate limiter, by action",
			},
			[]string{"action"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Recording helpers
// =============================================================================

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(route).Observe(seconds)
}

// RecordProviderFetch records one upstream weather fetch attempt.
func (m *Metrics) RecordProviderFetch(provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderFetchesTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordCacheLookup records a store cache lookup.
func (m *Metrics) RecordCacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordLLMCall records a model call and its latency.
func (m *Metrics) RecordLLMCall(feature, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(feature, outcome).Inc()
	if outcome == OutcomeBreakerOpen {
		// Fast-fail rejections carry no meaningful latency.
		return
	}
	m.LLMCallDurationSeconds.WithLabelValues(feature).Observe(seconds)
}

// RecordToolExecution records one tool execution in the chat loop.
func (m *Metrics) RecordToolExecution(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordRateLimited records a rate-limiter rejection.
func (m *Metrics) RecordRateLimited(action string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(action).Inc()
}
