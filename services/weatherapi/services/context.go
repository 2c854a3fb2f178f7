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
	"strconv"
	"sync"
	"time"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// How long a grounding snapshot is served before a refresh is attempted.
const contextTTL = 5 * time.Minute

// Snapshot sizes. The chat prompt quotes a small location sample;
// explore search feeds a larger block to its text fallback.
const (
	chatSampleLimit     = 20
	exploreContextLimit = 200
)

// ContextStore is the subset of the persistence layer the cache reads.
type ContextStore interface {
	ChatLocationSample(ctx context.Context, limit int64) ([]datatypes.Location, error)
	EstimatedLocationCount(ctx context.Context) (int64, error)
	Activities(ctx context.Context) ([]datatypes.Activity, error)
	LocationContext(ctx context.Context, limit int64) ([]datatypes.Location, error)
}

var _ ContextStore = (*store.Store)(nil)

// chatSample pairs the prompt's location block with the approximate
// catalogue size quoted alongside it.
type chatSample struct {
	locations []datatypes.Location
	count     string
}

// ContextCache serves the slow-moving grounding blocks the
// conversation prompts quote: a location sample, the activity
// catalogue, and the larger location block explore search scans.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Each block refreshes at
// most every five minutes by a single goroutine; concurrent readers
// keep serving the previous snapshot until the swap lands.
type ContextCache struct {
	store  ContextStore
	logger *logging.Logger

	chat       snapshot[chatSample]
	activities snapshot[[]datatypes.Activity]
	explore    snapshot[[]datatypes.Location]
}

// NewContextCache returns a cache reading from st. A nil logger falls
// back to the package default.
func NewContextCache(st ContextStore, logger *logging.Logger) *ContextCache {
	if logger == nil {
		logger = logging.Default()
	}
	return &ContextCache{store: st, logger: logger}
}

// ChatSample returns up to twenty locations (seeded entries first) and
// the approximate catalogue size as prompt text. Store errors degrade
// to the previous snapshot, or to no locations and "many" when the
// cache has never loaded.
func (c *ContextCache) ChatSample(ctx context.Context) ([]datatypes.Location, string) {
	sample, err := c.chat.get(contextTTL, func() (chatSample, error) {
		locs, err := c.store.ChatLocationSample(ctx, chatSampleLimit)
		if err != nil {
			return chatSample{}, err
		}
		count := "many"
		if n, err := c.store.EstimatedLocationCount(ctx); err == nil {
			count = strconv.FormatInt(n, 10)
		}
		return chatSample{locations: locs, count: count}, nil
	})
	if err != nil {
		c.logger.Warn("chat location sample refresh failed, serving stale snapshot", "error", err)
	}
	if sample.count == "" {
		sample.count = "many"
	}
	return sample.locations, sample.count
}

// ActivityCatalog returns every activity ordered by category then
// label. Store errors degrade to the previous snapshot or nothing.
func (c *ContextCache) ActivityCatalog(ctx context.Context) []datatypes.Activity {
	acts, err := c.activities.get(contextTTL, func() ([]datatypes.Activity, error) {
		return c.store.Activities(ctx)
	})
	if err != nil {
		c.logger.Warn("activity catalogue refresh failed, serving stale snapshot", "error", err)
	}
	return acts
}

// ExploreLocations returns up to two hundred locations for explore
// search grounding. Store errors degrade to the previous snapshot or
// nothing.
func (c *ContextCache) ExploreLocations(ctx context.Context) []datatypes.Location {
	locs, err := c.explore.get(contextTTL, func() ([]datatypes.Location, error) {
		return c.store.LocationContext(ctx, exploreContextLimit)
	})
	if err != nil {
		c.logger.Warn("explore location refresh failed, serving stale snapshot", "error", err)
	}
	return locs
}

// =============================================================================
// Snapshot slot
// =============================================================================

// snapshot is a single-value TTL cache. One goroutine refreshes an
// expired value; the rest keep serving the previous one, so reads
// never block on the database. A failed refresh leaves the timestamp
// untouched, so the next caller retries.
type snapshot[T any] struct {
	mu        sync.RWMutex
	refreshMu sync.Mutex
	value     T
	loaded    bool
	loadedAt  time.Time
}

// get returns the cached value, refreshing it through load when the
// TTL has lapsed. On refresh failure the stale value is returned along
// with the error so the caller can log it.
func (s *snapshot[T]) get(ttl time.Duration, load func() (T, error)) (T, error) {
	s.mu.RLock()
	value, loaded, loadedAt := s.value, s.loaded, s.loadedAt
	s.mu.RUnlock()

	if loaded && time.Since(loadedAt) < ttl {
		return value, nil
	}
	if !s.refreshMu.TryLock() {
		return value, nil
	}
	defer s.refreshMu.Unlock()

	fresh, err := load()
	if err != nil {
		return value, err
	}

	s.mu.Lock()
	s.value = fresh
	s.loaded = true
	s.loadedAt = time.Now()
	s.mu.Unlock()

	return fresh, nil
}
