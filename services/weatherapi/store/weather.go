// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// =============================================================================
// Forecast cache
// =============================================================================

// FreshWeather returns unexpired cached weather for a location, or
// ErrNotFound when the entry is missing or past its TTL.
func (s *Store) FreshWeather(ctx context.Context, slug string) (*datatypes.WeatherData, string, error) {
	return s.readWeather(ctx, bson.M{
		"locationSlug": slug,
		"expiresAt":    bson.M{"$gt": time.Now().UTC()},
	})
}

// AnyWeather returns the latest cached weather regardless of expiry.
// Report snapshots and explore results prefer stale data over none.
func (s *Store) AnyWeather(ctx context.Context, slug string) (*datatypes.WeatherData, string, error) {
	return s.readWeather(ctx, bson.M{"locationSlug": slug})
}

func (s *Store) readWeather(ctx context.Context, filter bson.M) (*datatypes.WeatherData, string, error) {
	var doc struct {
		Data     *datatypes.WeatherData `bson:"data"`
		Provider string                 `bson:"provider"`
	}
	err := s.collection(collWeatherCache).FindOne(ctx, filter,
		options.FindOne().SetProjection(bson.M{"data": 1, "provider": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: read weather cache: %w", err)
	}
	if doc.Data == nil {
		return nil, "", ErrNotFound
	}
	return doc.Data, doc.Provider, nil
}

// UpsertWeather replaces the cache entry for a location and stamps a
// fresh expiry ttl from now.
func (s *Store) UpsertWeather(ctx context.Context, slug string, lat, lon float64, data *datatypes.WeatherData, provider string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.collection(collWeatherCache).UpdateOne(ctx,
		bson.M{"locationSlug": slug},
		bson.M{"$set": bson.M{
			"data":      data,
			"provider":  provider,
			"lat":       lat,
			"lon":       lon,
			"fetchedAt": now,
			"expiresAt": now.Add(ttl),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: upsert weather cache: %w", err)
	}
	return nil
}

// FreshCacheCount counts unexpired weather cache entries.
func (s *Store) FreshCacheCount(ctx context.Context) (int64, error) {
	n, err := s.collection(collWeatherCache).CountDocuments(ctx,
		bson.M{"expiresAt": bson.M{"$gt": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("store: fresh cache count: %w", err)
	}
	return n, nil
}

// FreshSummaryCount counts unexpired AI summaries.
func (s *Store) FreshSummaryCount(ctx context.Context) (int64, error) {
	n, err := s.collection(collAISummaries).CountDocuments(ctx,
		bson.M{"expiresAt": bson.M{"$gt": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("store: fresh summary count: %w", err)
	}
	return n, nil
}

// =============================================================================
// History
// =============================================================================

// InsertHistory appends a weather observation to the history log.
func (s *Store) InsertHistory(ctx context.Context, rec *datatypes.HistoryRecord) error {
	if _, err := s.collection(collWeatherHistory).InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("store: insert history: %w", err)
	}
	return nil
}

// HistoryDesc returns records since the cutoff, newest first.
func (s *Store) HistoryDesc(ctx context.Context, slug string, since time.Time) ([]datatypes.HistoryRecord, error) {
	return s.findHistory(ctx, slug, since, -1)
}

// HistoryAsc returns records since the cutoff in chronological order.
func (s *Store) HistoryAsc(ctx context.Context, slug string, since time.Time) ([]datatypes.HistoryRecord, error) {
	return s.findHistory(ctx, slug, since, 1)
}

func (s *Store) findHistory(ctx context.Context, slug string, since time.Time, order int) ([]datatypes.HistoryRecord, error) {
	cursor, err := s.collection(collWeatherHistory).Find(ctx,
		bson.M{"locationSlug": slug, "recordedAt": bson.M{"$gte": since}},
		options.Find().SetSort(bson.D{{Key: "recordedAt", Value: order}}),
	)
	if err != nil {
		return nil, fmt.Errorf("store: find history: %w", err)
	}
	var recs []datatypes.HistoryRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("store: decode history: %w", err)
	}
	return recs, nil
}
