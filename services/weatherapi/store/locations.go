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
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// =============================================================================
// Lookups
// =============================================================================

// LocationBySlug fetches one location, or ErrNotFound.
func (s *Store) LocationBySlug(ctx context.Context, slug string) (*datatypes.Location, error) {
	var loc datatypes.Location
	err := s.collection(collLocations).FindOne(ctx, bson.M{"slug": slug}).Decode(&loc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: location by slug: %w", err)
	}
	return &loc, nil
}

// SlugExists reports whether a slug is already taken.
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	err := s.collection(collLocations).FindOne(ctx, bson.M{"slug": slug},
		options.FindOne().SetProjection(bson.M{"slug": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: slug exists: %w", err)
	}
	return true, nil
}

// AllLocations returns every location sorted by name.
func (s *Store) AllLocations(ctx context.Context) ([]datatypes.Location, error) {
	return s.findLocations(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

// LocationsByTag returns locations carrying a tag, sorted by name.
func (s *Store) LocationsByTag(ctx context.Context, tag string, limit int64) ([]datatypes.Location, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return s.findLocations(ctx, bson.M{"tags": tag}, opts)
}

// TagCounts aggregates tag usage across all locations, most used first.
func (s *Store) TagCounts(ctx context.Context) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$tags"}},
		{{Key: "$group", Value: bson.M{"_id": "$tags", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.M{"count": -1}}},
	}
	cursor, err := s.collection(collLocations).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("store: tag counts: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int)
	for cursor.Next(ctx) {
		var row struct {
			Tag   string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("store: tag counts decode: %w", err)
		}
		counts[row.Tag] = row.Count
	}
	return counts, cursor.Err()
}

// LocationStats returns the totals shown on the stats card.
func (s *Store) LocationStats(ctx context.Context) (*datatypes.LocationStats, error) {
	coll := s.collection(collLocations)

	total, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("store: location count: %w", err)
	}
	provinces, err := coll.Distinct(ctx, "province", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("store: distinct provinces: %w", err)
	}
	countries, err := coll.Distinct(ctx, "country", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("store: distinct countries: %w", err)
	}

	return &datatypes.LocationStats{
		TotalLocations: int(total),
		TotalProvinces: len(provinces),
		TotalCountries: len(countries),
	}, nil
}

// EstimatedLocationCount is a cheap total for prompt context.
func (s *Store) EstimatedLocationCount(ctx context.Context) (int64, error) {
	n, err := s.collection(collLocations).EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: estimated location count: %w", err)
	}
	return n, nil
}

// =============================================================================
// Geospatial
// =============================================================================

// LocationsNear returns up to limit locations within maxMeters of a
// point, nearest first. maxMeters <= 0 drops the distance cap.
func (s *Store) LocationsNear(ctx context.Context, lat, lon float64, maxMeters, limit int64) ([]datatypes.Location, error) {
	near := bson.M{
		"$geometry": bson.M{"type": "Point", "coordinates": []float64{lon, lat}},
	}
	if maxMeters > 0 {
		near["$maxDistance"] = maxMeters
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return s.findLocations(ctx, bson.M{"geo": bson.M{"$near": near}}, opts)
}

// NearestLocation returns the single nearest location within
// maxMeters, or ErrNotFound. maxMeters <= 0 drops the cap.
func (s *Store) NearestLocation(ctx context.Context, lat, lon float64, maxMeters int64) (*datatypes.Location, error) {
	locs, err := s.LocationsNear(ctx, lat, lon, maxMeters, 1)
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, ErrNotFound
	}
	return &locs[0], nil
}

// =============================================================================
// Search
// =============================================================================

// SearchLocations runs the /search text path: $text scoring when q is
// set, optional tag filter, name sort otherwise. Total is an exact
// count only for the first page; deeper pages report the page length.
func (s *Store) SearchLocations(ctx context.Context, q, tag string, skip, limit int64) ([]datatypes.Location, int64, error) {
	filter := bson.M{}
	if q != "" {
		filter["$text"] = bson.M{"$search": q}
	}
	if tag != "" {
		filter["tags"] = tag
	}

	opts := options.Find().SetSkip(skip).SetLimit(limit)
	if q != "" {
		opts.SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}})
		opts.SetSort(bson.D{{Key: "score", Value: bson.M{"$meta": "textScore"}}})
	} else {
		opts.SetSort(bson.D{{Key: "name", Value: 1}})
	}

	locs, err := s.findLocations(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}

	total := int64(len(locs))
	if skip == 0 {
		n, err := s.collection(collLocations).CountDocuments(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("store: search count: %w", err)
		}
		total = n
	}
	return locs, total, nil
}

// FuzzySearchLocations is the chat tool search ladder: Atlas Search
// with fuzzy autocomplete, then $text, then a case-insensitive regex
// over name/province/slug. Each rung falls through when its index is
// missing or it matches nothing; only the last rung's error surfaces.
func (s *Store) FuzzySearchLocations(ctx context.Context, q string) ([]datatypes.Location, error) {
	coll := s.collection(collLocations)

	pipeline := mongo.Pipeline{
		{{Key: "$search", Value: bson.M{
			"index": "location_search",
			"compound": bson.M{
				"should": bson.A{
					bson.M{"autocomplete": bson.M{
						"query": q,
						"path":  "name",
						"fuzzy": bson.M{"maxEdits": 1, "prefixLength": 1},
					}},
					bson.M{"text": bson.M{
						"query": q,
						"path":  bson.A{"name", "province", "slug", "tags"},
						"fuzzy": bson.M{"maxEdits": 1, "prefixLength": 1},
					}},
				},
			},
		}}},
		{{Key: "$limit", Value: 10}},
	}
	if cursor, err := coll.Aggregate(ctx, pipeline); err == nil {
		var locs []datatypes.Location
		if err := cursor.All(ctx, &locs); err == nil && len(locs) > 0 {
			return locs, nil
		}
	}

	textOpts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.D{{Key: "score", Value: bson.M{"$meta": "textScore"}}}).
		SetLimit(10)
	if locs, err := s.findLocations(ctx, bson.M{"$text": bson.M{"$search": q}}, textOpts); err == nil && len(locs) > 0 {
		return locs, nil
	}

	rx := bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}
	return s.findLocations(ctx, bson.M{"$or": bson.A{
		bson.M{"name": rx},
		bson.M{"province": rx},
		bson.M{"slug": rx},
	}}, options.Find().SetLimit(10))
}

// LocationContext returns up to limit lightweight location docs for
// in-memory tool search and prompt building.
func (s *Store) LocationContext(ctx context.Context, limit int64) ([]datatypes.Location, error) {
	opts := options.Find().
		SetProjection(bson.M{"slug": 1, "name": 1, "province": 1, "tags": 1, "country": 1}).
		SetLimit(limit)
	return s.findLocations(ctx, bson.M{}, opts)
}

// ChatLocationSample returns the prompt's sample block: seeded
// locations first (source descending), then by name.
func (s *Store) ChatLocationSample(ctx context.Context, limit int64) ([]datatypes.Location, error) {
	opts := options.Find().
		SetProjection(bson.M{"slug": 1, "name": 1, "province": 1, "tags": 1}).
		SetSort(bson.D{{Key: "source", Value: -1}, {Key: "name", Value: 1}}).
		SetLimit(limit)
	return s.findLocations(ctx, bson.M{}, opts)
}

// =============================================================================
// Writes
// =============================================================================

// InsertLocation stores a new location document.
func (s *Store) InsertLocation(ctx context.Context, loc *datatypes.Location) error {
	if _, err := s.collection(collLocations).InsertOne(ctx, loc); err != nil {
		return fmt.Errorf("store: insert location: %w", err)
	}
	return nil
}

// UpsertCountry inserts the country if unseen; existing documents are
// left untouched.
func (s *Store) UpsertCountry(ctx context.Context, country datatypes.Country) error {
	_, err := s.collection(collCountries).UpdateOne(ctx,
		bson.M{"code": country.Code},
		bson.M{"$setOnInsert": country},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: upsert country: %w", err)
	}
	return nil
}

// UpsertProvince inserts the province if unseen.
func (s *Store) UpsertProvince(ctx context.Context, province datatypes.Province) error {
	_, err := s.collection(collProvinces).UpdateOne(ctx,
		bson.M{"slug": province.Slug},
		bson.M{"$setOnInsert": province},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: upsert province: %w", err)
	}
	return nil
}

// =============================================================================
// Regions
// =============================================================================

// RegionContains reports whether any active region's bounds, padded by
// one degree, cover the point. Callers apply the static continent
// fallback when this errors.
func (s *Store) RegionContains(ctx context.Context, lat, lon float64) (bool, error) {
	err := s.collection(collRegions).FindOne(ctx, bson.M{
		"active":       true,
		"bounds.south": bson.M{"$lte": lat + 1},
		"bounds.north": bson.M{"$gte": lat - 1},
		"bounds.west":  bson.M{"$lte": lon + 1},
		"bounds.east":  bson.M{"$gte": lon - 1},
	}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: region contains: %w", err)
	}
	return true, nil
}

// ActiveRegions returns the regions shown to clients.
func (s *Store) ActiveRegions(ctx context.Context) ([]datatypes.Region, error) {
	cursor, err := s.collection(collRegions).Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, fmt.Errorf("store: active regions: %w", err)
	}
	var regions []datatypes.Region
	if err := cursor.All(ctx, &regions); err != nil {
		return nil, fmt.Errorf("store: active regions decode: %w", err)
	}
	return regions, nil
}

// =============================================================================
// Internal
// =============================================================================

func (s *Store) findLocations(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]datatypes.Location, error) {
	cursor, err := s.collection(collLocations).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: find locations: %w", err)
	}
	var locs []datatypes.Location
	if err := cursor.All(ctx, &locs); err != nil {
		return nil, fmt.Errorf("store: decode locations: %w", err)
	}
	return locs, nil
}
