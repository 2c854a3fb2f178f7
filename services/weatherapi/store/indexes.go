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
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates every index the service queries against.
// All creations are idempotent; existing identical indexes are no-ops.
//
// # Description
//
// Uniqueness: device_profiles.deviceId, locations.slug. Geo queries
// need the 2dsphere index on locations.geo, and the location search
// path needs the text index over name/province/slug. Expiring
// collections get a TTL index on expiresAt with zero grace.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if err := s.createIndex(ctx, collDeviceProfiles, mongo.IndexModel{
		Keys:    bson.D{{Key: "deviceId", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}

	if err := s.createIndex(ctx, collLocations, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}

	if err := s.createIndex(ctx, collLocations, mongo.IndexModel{
		Keys: bson.D{{Key: "geo", Value: "2dsphere"}},
	}); err != nil {
		return err
	}

	if err := s.createIndex(ctx, collLocations, mongo.IndexModel{
		Keys: bson.D{
			{Key: "name", Value: "text"},
			{Key: "province", Value: "text"},
			{Key: "slug", Value: "text"},
		},
	}); err != nil {
		return err
	}

	if err := s.createIndex(ctx, collActivities, mongo.IndexModel{
		Keys: bson.D{{Key: "label", Value: "text"}},
	}); err != nil {
		return err
	}

	ttlColls := []string{
		collWeatherCache,
		collAISummaries,
		collRateLimits,
		collWeatherReports,
		collHistoryAnalysis,
	}
	for _, coll := range ttlColls {
		if err := s.createIndex(ctx, coll, mongo.IndexModel{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}); err != nil {
			return err
		}
	}

	// Lookup paths that are hot but not unique.
	if err := s.createIndex(ctx, collWeatherCache, mongo.IndexModel{
		Keys: bson.D{{Key: "locationSlug", Value: 1}},
	}); err != nil {
		return err
	}
	if err := s.createIndex(ctx, collWeatherHistory, mongo.IndexModel{
		Keys: bson.D{{Key: "locationSlug", Value: 1}, {Key: "recordedAt", Value: -1}},
	}); err != nil {
		return err
	}
	if err := s.createIndex(ctx, collWeatherReports, mongo.IndexModel{
		Keys: bson.D{{Key: "locationSlug", Value: 1}, {Key: "reportedAt", Value: -1}},
	}); err != nil {
		return err
	}

	s.logger.Info("indexes ensured")
	return nil
}

func (s *Store) createIndex(ctx context.Context, coll string, model mongo.IndexModel) error {
	if _, err := s.collection(coll).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("store: index on %s: %w", coll, err)
	}
	return nil
}
