// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// =============================================================================
// Fakes
// =============================================================================

// scriptedLLM answers Messages calls from a queue of canned replies.
type scriptedLLM struct {
	replies  []*llm.Response
	err      error
	requests []llm.Request
}

func (s *scriptedLLM) Messages(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return textReply("ok"), nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *scriptedLLM) DefaultModel() string { return "test-model" }

func textReply(text string) *llm.Response {
	return &llm.Response{
		Content:    []llm.ContentBlock{{Type: llm.BlockText, Text: text}},
		StopReason: llm.StopEndTurn,
	}
}

type fakeSummaryStore struct {
	location *datatypes.Location
	cached   *datatypes.CachedSummary
	season   *datatypes.SeasonDoc

	upsertSlug string
	upsertTTL  time.Duration
	upsertText string
}

func (f *fakeSummaryStore) LocationBySlug(context.Context, string) (*datatypes.Location, error) {
	if f.location == nil {
		return nil, store.ErrNotFound
	}
	return f.location, nil
}

func (f *fakeSummaryStore) FreshSummary(context.Context, string) (*datatypes.CachedSummary, error) {
	if f.cached == nil {
		return nil, store.ErrNotFound
	}
	return f.cached, nil
}

func (f *fakeSummaryStore) UpsertSummary(_ context.Context, slug, insight string, _ datatypes.SummarySnapshot, ttl time.Duration) error {
	f.upsertSlug = slug
	f.upsertText = insight
	f.upsertTTL = ttl
	return nil
}

func (f *fakeSummaryStore) SeasonFor(context.Context, string, int) (*datatypes.SeasonDoc, error) {
	if f.season == nil {
		return nil, store.ErrNotFound
	}
	return f.season, nil
}

func testLibrary(t *testing.T) *prompts.Library {
	t.Helper()
	lib, err := prompts.NewLibrary(nil, nil)
	require.NoError(t, err)
	return lib
}

func summaryRequest(name string, temp float64, code int) *datatypes.SummaryRequest {
	return &datatypes.SummaryRequest{
		WeatherData: &datatypes.WeatherData{
			Current: &datatypes.CurrentWeather{Temperature: &temp, WeatherCode: &code},
		},
		Location: &datatypes.SummaryLocation{Name: name},
	}
}

func newSummaryService(t *testing.T, st SummaryStore, client llm.MessagesClient) *SummaryService {
	t.Helper()
	return NewSummaryService(st, client, testLibrary(t), breaker.NewRegistry(), nil)
}

// =============================================================================
// Generate Tests
// =============================================================================

func TestSummaryGenerate_RejectsMissingInput(t *testing.T) {
	svc := newSummaryService(t, &fakeSummaryStore{}, nil)

	_, err := svc.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingSummaryInput)

	_, err = svc.Generate(context.Background(), &datatypes.SummaryRequest{
		WeatherData: &datatypes.WeatherData{},
	})
	assert.ErrorIs(t, err, ErrMissingSummaryInput)
}

func TestSummaryGenerate_FreshCacheHit(t *testing.T) {
	generatedAt := time.Date(2026, 8, 26, 7, 0, 0, 0, time.UTC)
	st := &fakeSummaryStore{
		cached: &datatypes.CachedSummary{
			Insight:     "cached briefing",
			Snapshot:    datatypes.SummarySnapshot{Temperature: 22, WeatherCode: 1},
			GeneratedAt: generatedAt,
		},
	}
	client := &scriptedLLM{}
	svc := newSummaryService(t, st, client)

	resp, err := svc.Generate(context.Background(), summaryRequest("Harare", 24, 1))
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, "cached briefing", resp.Insight)
	assert.Equal(t, "2026-08-26T07:00:00Z", resp.GeneratedAt)
	assert.Empty(t, client.requests, "fresh cache hits skip the model")
}

func TestSummaryGenerate_DriftPastFiveDegreesRegenerates(t *testing.T) {
	st := &fakeSummaryStore{
		cached: &datatypes.CachedSummary{
			Insight:  "cached briefing",
			Snapshot: datatypes.SummarySnapshot{Temperature: 22, WeatherCode: 1},
		},
	}
	client := &scriptedLLM{replies: []*llm.Response{textReply("fresh briefing")}}
	svc := newSummaryService(t, st, client)

	resp, err := svc.Generate(context.Background(), summaryRequest("Harare", 27.5, 1))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, "fresh briefing", resp.Insight)
	require.Len(t, client.requests, 1)
}

func TestSummaryGenerate_FiveDegreeDriftBoundary(t *testing.T) {
	generatedAt := time.Date(2026, 8, 26, 7, 0, 0, 0, time.UTC)
	cached := func() *fakeSummaryStore {
		return &fakeSummaryStore{
			cached: &datatypes.CachedSummary{
				Insight:     "cached briefing",
				Snapshot:    datatypes.SummarySnapshot{Temperature: 22, WeatherCode: 1},
				GeneratedAt: generatedAt,
			},
		}
	}

	// A swing of exactly five degrees keeps the cached insight.
	client := &scriptedLLM{}
	svc := newSummaryService(t, cached(), client)
	resp, err := svc.Generate(context.Background(), summaryRequest("Harare", 27.0, 1))
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, "cached briefing", resp.Insight)
	assert.Empty(t, client.requests)

	// One tenth past five regenerates.
	client = &scriptedLLM{replies: []*llm.Response{textReply("fresh briefing")}}
	svc = newSummaryService(t, cached(), client)
	resp, err = svc.Generate(context.Background(), summaryRequest("Harare", 27.1, 1))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, "fresh briefing", resp.Insight)
	require.Len(t, client.requests, 1)
}

func TestSummaryGenerate_WeatherCodeChangeRegenerates(t *testing.T) {
	st := &fakeSummaryStore{
		cached: &datatypes.CachedSummary{
			Insight:  "sunny briefing",
			Snapshot: datatypes.SummarySnapshot{Temperature: 22, WeatherCode: 0},
		},
	}
	client := &scriptedLLM{replies: []*llm.Response{textReply("stormy briefing")}}
	svc := newSummaryService(t, st, client)

	resp, err := svc.Generate(context.Background(), summaryRequest("Harare", 22, 95))
	require.NoError(t, err)
	assert.Equal(t, "stormy briefing", resp.Insight)
}

func TestSummaryGenerate_NoClientFallsBack(t *testing.T) {
	st := &fakeSummaryStore{}
	svc := newSummaryService(t, st, nil)

	resp, err := svc.Generate(context.Background(), summaryRequest("Harare", 22, 1))
	require.NoError(t, err)
	assert.Contains(t, resp.Insight, "Current conditions in Harare")
	assert.Empty(t, resp.GeneratedAt, "fallback responses carry no generation timestamp")
	assert.Equal(t, resp.Insight, st.upsertText, "fallback text is cached too")
}

func TestSummaryGenerate_ModelFailureFallsBack(t *testing.T) {
	st := &fakeSummaryStore{}
	client := &scriptedLLM{err: errors.New("upstream 500")}
	svc := newSummaryService(t, st, client)

	resp, err := svc.Generate(context.Background(), summaryRequest("Harare", 22, 1))
	require.NoError(t, err)
	assert.Contains(t, resp.Insight, "Current conditions in Harare")
}

// =============================================================================
// Tier TTL Tests
// =============================================================================

func TestSummaryTTL_Tiers(t *testing.T) {
	assert.Equal(t, 30*time.Minute, summaryTTL("harare", nil))
	assert.Equal(t, 30*time.Minute, summaryTTL("victoria-falls", []string{"tourism"}))
	assert.Equal(t, time.Hour, summaryTTL("chiredzi", []string{"farming"}))
	assert.Equal(t, time.Hour, summaryTTL("beitbridge", []string{"border"}))
	assert.Equal(t, 2*time.Hour, summaryTTL("nyanga", []string{"tourism"}))
	assert.Equal(t, 2*time.Hour, summaryTTL("somewhere", nil))
}

func TestSummaryGenerate_TierTTLFlowsToCache(t *testing.T) {
	st := &fakeSummaryStore{
		location: &datatypes.Location{Slug: "chiredzi", Tags: []string{"farming"}},
	}
	svc := newSummaryService(t, st, &scriptedLLM{replies: []*llm.Response{textReply("briefing")}})

	_, err := svc.Generate(context.Background(), summaryRequest("Chiredzi", 30, 0))
	require.NoError(t, err)
	assert.Equal(t, "chiredzi", st.upsertSlug)
	assert.Equal(t, time.Hour, st.upsertTTL)
}

func TestSummaryGenerate_SlugDerivedFromName(t *testing.T) {
	st := &fakeSummaryStore{}
	svc := newSummaryService(t, st, &scriptedLLM{})

	_, err := svc.Generate(context.Background(), summaryRequest("Victoria Falls", 25, 0))
	require.NoError(t, err)
	assert.Equal(t, "victoria-falls", st.upsertSlug)
	assert.Equal(t, 30*time.Minute, st.upsertTTL)
}
