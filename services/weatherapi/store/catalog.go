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
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// =============================================================================
// Activities
// =============================================================================

// Activities returns the full catalogue grouped by category then label.
func (s *Store) Activities(ctx context.Context) ([]datatypes.Activity, error) {
	return s.findActivities(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "label", Value: 1}}))
}

// ActivityByID fetches one activity, or ErrNotFound.
func (s *Store) ActivityByID(ctx context.Context, id string) (*datatypes.Activity, error) {
	var doc datatypes.Activity
	err := s.collection(collActivities).FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: activity by id: %w", err)
	}
	return &doc, nil
}

// ActivitiesByIDs returns the activities matching any of the ids.
func (s *Store) ActivitiesByIDs(ctx context.Context, ids []string) ([]datatypes.Activity, error) {
	return s.findActivities(ctx, bson.M{"id": bson.M{"$in": ids}}, options.Find())
}

// ActivitiesByCategory returns a category's activities sorted by label.
func (s *Store) ActivitiesByCategory(ctx context.Context, category string) ([]datatypes.Activity, error) {
	return s.findActivities(ctx, bson.M{"category": category},
		options.Find().SetSort(bson.D{{Key: "label", Value: 1}}))
}

// SearchActivities runs a text search over labels, falling back to a
// case-insensitive regex when the text index is unavailable.
func (s *Store) SearchActivities(ctx context.Context, q string) ([]datatypes.Activity, error) {
	textOpts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.D{{Key: "score", Value: bson.M{"$meta": "textScore"}}}).
		SetLimit(20)
	docs, err := s.findActivities(ctx, bson.M{"$text": bson.M{"$search": q}}, textOpts)
	if err == nil {
		return docs, nil
	}
	return s.findActivities(ctx,
		bson.M{"label": bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}},
		options.Find().SetLimit(20))
}

// ActivityCategories returns all category docs.
func (s *Store) ActivityCategories(ctx context.Context) ([]datatypes.ActivityCategory, error) {
	cursor, err := s.collection(collActivityCats).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("store: activity categories: %w", err)
	}
	var cats []datatypes.ActivityCategory
	if err := cursor.All(ctx, &cats); err != nil {
		return nil, fmt.Errorf("store: activity categories decode: %w", err)
	}
	return cats, nil
}

func (s *Store) findActivities(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]datatypes.Activity, error) {
	cursor, err := s.collection(collActivities).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: find activities: %w", err)
	}
	var docs []datatypes.Activity
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("store: decode activities: %w", err)
	}
	return docs, nil
}

// =============================================================================
// Tags
// =============================================================================

// Tags returns tag docs sorted by slug, optionally featured only.
func (s *Store) Tags(ctx context.Context, featuredOnly bool) ([]datatypes.Tag, error) {
	filter := bson.M{}
	if featuredOnly {
		filter["featured"] = true
	}
	cursor, err := s.collection(collTags).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "slug", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("store: tags: %w", err)
	}
	var tags []datatypes.Tag
	if err := cursor.All(ctx, &tags); err != nil {
		return nil, fmt.Errorf("store: tags decode: %w", err)
	}
	return tags, nil
}

// =============================================================================
// Suitability rules
// =============================================================================

// SuitabilityRules returns every rule.
func (s *Store) SuitabilityRules(ctx context.Context) ([]datatypes.SuitabilityRule, error) {
	return s.findRules(ctx, bson.M{})
}

// SuitabilityRuleByKey fetches one rule, or ErrNotFound.
func (s *Store) SuitabilityRuleByKey(ctx context.Context, key string) (*datatypes.SuitabilityRule, error) {
	var doc datatypes.SuitabilityRule
	err := s.collection(collSuitability).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: rule by key: %w", err)
	}
	return &doc, nil
}

// SuitabilityRulesByKeys returns the rules matching any of the keys,
// for activity-then-category fallback in one round trip.
func (s *Store) SuitabilityRulesByKeys(ctx context.Context, keys []string) ([]datatypes.SuitabilityRule, error) {
	return s.findRules(ctx, bson.M{"key": bson.M{"$in": keys}})
}

func (s *Store) findRules(ctx context.Context, filter bson.M) ([]datatypes.SuitabilityRule, error) {
	cursor, err := s.collection(collSuitability).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: find rules: %w", err)
	}
	var rules []datatypes.SuitabilityRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("store: decode rules: %w", err)
	}
	return rules, nil
}

// =============================================================================
// Seasons
// =============================================================================

// SeasonFor returns the season covering a month in a country, or
// ErrNotFound. Callers fall back to the built-in Zimbabwe calendar.
func (s *Store) SeasonFor(ctx context.Context, countryCode string, month int) (*datatypes.SeasonDoc, error) {
	var doc datatypes.SeasonDoc
	err := s.collection(collSeasons).FindOne(ctx, bson.M{
		"countryCode": strings.ToUpper(countryCode),
		"months":      month,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: season for: %w", err)
	}
	return &doc, nil
}
