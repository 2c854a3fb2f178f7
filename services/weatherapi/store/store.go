// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the MongoDB gateway for the weather service.
//
// # Description
//
// One Store wraps the mongo client and exposes typed methods per
// concern: locations, weather cache and history, AI caches and prompt
// configuration, community reports, device profiles, and the rate
// limiter. Consumers declare the narrow interface they need; *Store
// satisfies all of them.
//
// # Thread Safety
//
// Store is safe for concurrent use. The mongo driver manages its own
// connection pool.
//
// # Limitations
//
//   - No cross-document transactions; every write is single-document
//     atomic, which is all the service semantics require.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
)

// =============================================================================
// Errors
// =============================================================================

// ErrNotFound is returned when a lookup matches no document. Handlers
// map it to 404.
var ErrNotFound = errors.New("store: not found")

// =============================================================================
// Collection Names
// =============================================================================

const (
	collDeviceProfiles  = "device_profiles"
	collLocations       = "locations"
	collCountries       = "countries"
	collProvinces       = "provinces"
	collRegions         = "regions"
	collWeatherCache    = "weather_cache"
	collWeatherHistory  = "weather_history"
	collAISummaries     = "ai_summaries"
	collHistoryAnalysis = "history_analysis"
	collActivities      = "activities"
	collActivityCats    = "activity_categories"
	collTags            = "tags"
	collSeasons         = "seasons"
	collSuitability     = "suitability_rules"
	collRateLimits      = "rate_limits"
	collAPIKeys         = "api_keys"
	collAIPrompts       = "ai_prompts"
	collSuggestedRules  = "ai_suggested_rules"
	collWeatherReports  = "weather_reports"
)

// =============================================================================
// Store
// =============================================================================

// Config holds connection settings.
type Config struct {
	// URI is the MongoDB connection string.
	URI string

	// Database is the database name. Defaults to "mukoko-weather".
	Database string

	// ConnectTimeout bounds the initial connect + ping. Defaults to 10s.
	ConnectTimeout time.Duration
}

// Store is the MongoDB gateway.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *logging.Logger
}

// Connect establishes the client and verifies it with a ping.
func Connect(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("store: missing MongoDB URI")
	}
	if cfg.Database == "" {
		cfg.Database = "mukoko-weather"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("mukoko-weather").
		SetMaxConnIdleTime(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	logger.Info("connected to MongoDB", "database", cfg.Database)
	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close releases the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// collection returns a handle by name.
func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}
