// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a Metrics instance backed by a private registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status class",
		},
		[]string{"route", "status"},
	)

	requestDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route"},
	)

	providerFetchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "provider_fetches_total",
			Help:      "Upstream weather fetches by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	cacheLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "cache_lookups_total",
			Help:      "Store cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	llmCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "llm_calls_total",
			Help:      "Model calls by feature and outcome",
		},
		[]string{"feature", "outcome"},
	)

	llmCallDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "llm_call_duration_seconds",
			Help:      "Model call latency by feature",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"feature"},
	)

	toolExecutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "tool_executions_total",
			Help:      "Chat tool executions by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: weatherSubsystem,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter, by action",
		},
		[]string{"action"},
	)

	reg.MustRegister(
		requestsTotal,
		requestDurationSeconds,
		providerFetchesTotal,
		cacheLookupsTotal,
		llmCallsTotal,
		llmCallDurationSeconds,
		toolExecutionsTotal,
		rateLimitedTotal,
	)

	return &Metrics{
		RequestsTotal:          requestsTotal,
		RequestDurationSeconds: requestDurationSeconds,
		ProviderFetchesTotal:   providerFetchesTotal,
		CacheLookupsTotal:      cacheLookupsTotal,
		LLMCallsTotal:          llmCallsTotal,
		LLMCallDurationSeconds: llmCallDurationSeconds,
		ToolExecutionsTotal:    toolExecutionsTotal,
		RateLimitedTotal:       rateLimitedTotal,
	}
}

// ============================================================================
// InitMetrics Tests
// ============================================================================

// Note: InitMetrics uses promauto which registers with the default Prometheus
// registry. This test must only run once per test binary execution since
// duplicate registration will panic.
var initMetricsTestOnce bool

func TestInitMetrics(t *testing.T) {
	if initMetricsTestOnce {
		t.Skip("InitMetrics can only be called once per test run (promauto restriction)")
	}
	initMetricsTestOnce = true

	result := InitMetrics()

	if result == nil {
		t.Fatal("InitMetrics() returned nil")
	}
	if DefaultMetrics == nil {
		t.Fatal("DefaultMetrics should be set after InitMetrics()")
	}
	if DefaultMetrics != result {
		t.Error("DefaultMetrics should equal the returned value")
	}

	if result.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if result.RequestDurationSeconds == nil {
		t.Error("RequestDurationSeconds should not be nil")
	}
	if result.ProviderFetchesTotal == nil {
		t.Error("ProviderFetchesTotal should not be nil")
	}
	if result.CacheLookupsTotal == nil {
		t.Error("CacheLookupsTotal should not be nil")
	}
	if result.LLMCallsTotal == nil {
		t.Error("LLMCallsTotal should not be nil")
	}
	if result.LLMCallDurationSeconds == nil {
		t.Error("LLMCallDurationSeconds should not be nil")
	}
	if result.ToolExecutionsTotal == nil {
		t.Error("ToolExecutionsTotal should not be nil")
	}
	if result.RateLimitedTotal == nil {
		t.Error("RateLimitedTotal should not be nil")
	}

	// Verify metrics can be used
	result.RecordRequest("/v1/weather", "2xx", 0.05)
	result.RecordProviderFetch("tomorrow", OutcomeOK)
	result.RecordCacheLookup("weather", CacheHit)
	result.RecordLLMCall("chat", OutcomeOK, 1.2)
	result.RecordToolExecution("get_weather", OutcomeOK)
	result.RecordRateLimited("chat")
}

// ============================================================================
// Constants Tests
// ============================================================================

func TestConstants(t *testing.T) {
	if metricsNamespace != "mukoko" {
		t.Errorf("metricsNamespace = %q, want %q", metricsNamespace, "mukoko")
	}
	if weatherSubsystem != "weatherapi" {
		t.Errorf("weatherSubsystem = %q, want %q", weatherSubsystem, "weatherapi")
	}
}

func TestOutcomeConstants(t *testing.T) {
	tests := []struct {
		outcome string
		want    string
	}{
		{OutcomeOK, "ok"},
		{OutcomeError, "error"},
		{OutcomeTimeout, "timeout"},
		{OutcomeRateLimited, "rate_limited"},
		{OutcomeBreakerOpen, "breaker_open"},
		{CacheHit, "hit"},
		{CacheMiss, "miss"},
		{CacheStale, "stale"},
	}

	for _, tt := range tests {
		if tt.outcome != tt.want {
			t.Errorf("outcome = %q, want %q", tt.outcome, tt.want)
		}
	}
}

// ============================================================================
// Recording Tests
// ============================================================================

func TestMetrics_RecordRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest("/v1/weather", "2xx", 0.05)
	m.RecordRequest("/v1/weather", "2xx", 0.10)
	m.RecordRequest("/v1/weather", "5xx", 1.50)

	okVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/v1/weather", "2xx"))
	if okVal != 2 {
		t.Errorf("RequestsTotal[/v1/weather,2xx] = %f, want 2", okVal)
	}

	errVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/v1/weather", "5xx"))
	if errVal != 1 {
		t.Errorf("RequestsTotal[/v1/weather,5xx] = %f, want 1", errVal)
	}

	count := testutil.CollectAndCount(m.RequestDurationSeconds)
	if count == 0 {
		t.Error("Expected request duration observations to be collected")
	}
}

func TestMetrics_RecordProviderFetch(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordProviderFetch("tomorrow", OutcomeRateLimited)
	m.RecordProviderFetch("open-meteo", OutcomeOK)
	m.RecordProviderFetch("open-meteo", OutcomeOK)
	m.RecordProviderFetch("fallback", OutcomeOK)

	tomorrowVal := testutil.ToFloat64(m.ProviderFetchesTotal.WithLabelValues("tomorrow", "rate_limited"))
	if tomorrowVal != 1 {
		t.Errorf("ProviderFetchesTotal[tomorrow,rate_limited] = %f, want 1", tomorrowVal)
	}

	meteoVal := testutil.ToFloat64(m.ProviderFetchesTotal.WithLabelValues("open-meteo", "ok"))
	if meteoVal != 2 {
		t.Errorf("ProviderFetchesTotal[open-meteo,ok] = %f, want 2", meteoVal)
	}
}

func TestMetrics_RecordCacheLookup(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCacheLookup("weather", CacheHit)
	m.RecordCacheLookup("weather", CacheMiss)
	m.RecordCacheLookup("summary", CacheStale)

	hitVal := testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("weather", "hit"))
	if hitVal != 1 {
		t.Errorf("CacheLookupsTotal[weather,hit] = %f, want 1", hitVal)
	}

	staleVal := testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("summary", "stale"))
	if staleVal != 1 {
		t.Errorf("CacheLookupsTotal[summary,stale] = %f, want 1", staleVal)
	}
}

func TestMetrics_RecordLLMCall(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLLMCall("chat", OutcomeOK, 2.5)
	m.RecordLLMCall("chat", OutcomeTimeout, 15.0)
	m.RecordLLMCall("summary", OutcomeRateLimited, 0.1)

	okVal := testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("chat", "ok"))
	if okVal != 1 {
		t.Errorf("LLMCallsTotal[chat,ok] = %f, want 1", okVal)
	}

	timeoutVal := testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("chat", "timeout"))
	if timeoutVal != 1 {
		t.Errorf("LLMCallsTotal[chat,timeout] = %f, want 1", timeoutVal)
	}
}

func TestMetrics_RecordLLMCall_BreakerOpenSkipsLatency(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLLMCall("chat", OutcomeBreakerOpen, 0)

	callVal := testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("chat", "breaker_open"))
	if callVal != 1 {
		t.Errorf("LLMCallsTotal[chat,breaker_open] = %f, want 1", callVal)
	}

	// No duration series should exist for a fast-fail rejection.
	count := testutil.CollectAndCount(m.LLMCallDurationSeconds)
	if count != 0 {
		t.Errorf("LLMCallDurationSeconds series = %d, want 0", count)
	}
}

func TestMetrics_RecordToolExecution(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordToolExecution("search_locations", OutcomeOK)
	m.RecordToolExecution("get_weather", OutcomeTimeout)

	searchVal := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("search_locations", "ok"))
	if searchVal != 1 {
		t.Errorf("ToolExecutionsTotal[search_locations,ok] = %f, want 1", searchVal)
	}

	weatherVal := testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("get_weather", "timeout"))
	if weatherVal != 1 {
		t.Errorf("ToolExecutionsTotal[get_weather,timeout] = %f, want 1", weatherVal)
	}
}

func TestMetrics_RecordRateLimited(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRateLimited("chat")
	m.RecordRateLimited("chat")
	m.RecordRateLimited("weather_report")

	chatVal := testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("chat"))
	if chatVal != 2 {
		t.Errorf("RateLimitedTotal[chat] = %f, want 2", chatVal)
	}
}

// ============================================================================
// Nil Safety Tests
// ============================================================================

// Services record against DefaultMetrics, which is nil in most unit
// tests. Every helper must be a no-op on a nil receiver.
func TestMetrics_NilReceiverIsNoOp(t *testing.T) {
	var m *Metrics

	m.RecordRequest("/v1/weather", "2xx", 0.05)
	m.RecordProviderFetch("tomorrow", OutcomeOK)
	m.RecordCacheLookup("weather", CacheHit)
	m.RecordLLMCall("chat", OutcomeOK, 1.0)
	m.RecordToolExecution("get_weather", OutcomeOK)
	m.RecordRateLimited("chat")
}

// ============================================================================
// Concurrent Safety Tests
// ============================================================================

func TestMetrics_ConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	done := make(chan bool, 60)

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordProviderFetch("open-meteo", OutcomeOK)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordLLMCall("chat", OutcomeOK, 0.5)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordCacheLookup("weather", CacheMiss)
			m.RecordRateLimited("explore_search")
			done <- true
		}()
	}

	for i := 0; i < 60; i++ {
		<-done
	}

	fetchVal := testutil.ToFloat64(m.ProviderFetchesTotal.WithLabelValues("open-meteo", "ok"))
	if fetchVal != 20 {
		t.Errorf("ProviderFetchesTotal[open-meteo,ok] = %f, want 20", fetchVal)
	}

	llmVal := testutil.ToFloat64(m.LLMCallsTotal.WithLabelValues("chat", "ok"))
	if llmVal != 20 {
		t.Errorf("LLMCallsTotal[chat,ok] = %f, want 20", llmVal)
	}

	missVal := testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("weather", "miss"))
	if missVal != 20 {
		t.Errorf("CacheLookupsTotal[weather,miss] = %f, want 20", missVal)
	}
}
