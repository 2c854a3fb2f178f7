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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

type fakeContextStore struct {
	locations []datatypes.Location
	count     int64
	acts      []datatypes.Activity
	fail      bool

	sampleCalls int
}

func (f *fakeContextStore) ChatLocationSample(_ context.Context, limit int64) ([]datatypes.Location, error) {
	f.sampleCalls++
	if f.fail {
		return nil, errors.New("store down")
	}
	if int64(len(f.locations)) > limit {
		return f.locations[:limit], nil
	}
	return f.locations, nil
}

func (f *fakeContextStore) EstimatedLocationCount(context.Context) (int64, error) {
	if f.fail {
		return 0, errors.New("store down")
	}
	return f.count, nil
}

func (f *fakeContextStore) Activities(context.Context) ([]datatypes.Activity, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.acts, nil
}

func (f *fakeContextStore) LocationContext(_ context.Context, limit int64) ([]datatypes.Location, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.locations, nil
}

func TestContextCache_ChatSample(t *testing.T) {
	st := &fakeContextStore{
		locations: []datatypes.Location{{Slug: "harare"}, {Slug: "bulawayo"}},
		count:     62,
	}
	cache := NewContextCache(st, nil)

	locs, count := cache.ChatSample(context.Background())
	assert.Len(t, locs, 2)
	assert.Equal(t, "62", count)
}

func TestContextCache_SecondReadServedFromSnapshot(t *testing.T) {
	st := &fakeContextStore{locations: []datatypes.Location{{Slug: "harare"}}, count: 1}
	cache := NewContextCache(st, nil)

	cache.ChatSample(context.Background())
	cache.ChatSample(context.Background())
	assert.Equal(t, 1, st.sampleCalls, "within the TTL the store is hit once")
}

func TestContextCache_ColdFailureDegradesToMany(t *testing.T) {
	cache := NewContextCache(&fakeContextStore{fail: true}, nil)

	locs, count := cache.ChatSample(context.Background())
	assert.Empty(t, locs)
	assert.Equal(t, "many", count)
}

func TestContextCache_FailedRefreshKeepsServingStale(t *testing.T) {
	st := &fakeContextStore{locations: []datatypes.Location{{Slug: "harare"}}, count: 1}
	cache := NewContextCache(st, nil)

	first, _ := cache.ChatSample(context.Background())
	require.Len(t, first, 1)

	// Expire the snapshot, then break the store: readers keep the old
	// value.
	cache.chat.loadedAt = cache.chat.loadedAt.Add(-contextTTL * 2)
	st.fail = true

	stale, _ := cache.ChatSample(context.Background())
	assert.Len(t, stale, 1)
}

func TestContextCache_ActivityCatalog(t *testing.T) {
	st := &fakeContextStore{acts: []datatypes.Activity{{ID: "running"}}}
	cache := NewContextCache(st, nil)

	acts := cache.ActivityCatalog(context.Background())
	require.Len(t, acts, 1)
	assert.Equal(t, "running", acts[0].ID)
}

func TestContextCache_ExploreLocations(t *testing.T) {
	st := &fakeContextStore{locations: []datatypes.Location{{Slug: "harare"}, {Slug: "kariba"}}}
	cache := NewContextCache(st, nil)

	locs := cache.ExploreLocations(context.Background())
	assert.Len(t, locs, 2)
}
