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
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// Seeding upserts, keyed by each document's natural key so the ops
// CLI can replay the reference data idempotently. These never touch
// user-generated collections (reports, devices, history).

// UpsertLocation replaces the location document with the same slug,
// inserting when absent.
func (s *Store) UpsertLocation(ctx context.Context, loc datatypes.Location) error {
	if loc.Geo == nil {
		geo := datatypes.NewGeoPoint(loc.Lat, loc.Lon)
		loc.Geo = &geo
	}
	return s.replaceByKey(ctx, collLocations, bson.M{"slug": loc.Slug}, loc)
}

// UpsertActivity replaces the activity with the same id.
func (s *Store) UpsertActivity(ctx context.Context, activity datatypes.Activity) error {
	return s.replaceByKey(ctx, collActivities, bson.M{"id": activity.ID}, activity)
}

// UpsertActivityCategory replaces the category with the same id.
func (s *Store) UpsertActivityCategory(ctx context.Context, category datatypes.ActivityCategory) error {
	return s.replaceByKey(ctx, collActivityCats, bson.M{"id": category.ID}, category)
}

// UpsertTag replaces the tag with the same slug.
func (s *Store) UpsertTag(ctx context.Context, tag datatypes.Tag) error {
	return s.replaceByKey(ctx, collTags, bson.M{"slug": tag.Slug}, tag)
}

// UpsertRegion replaces the region with the same name.
func (s *Store) UpsertRegion(ctx context.Context, region datatypes.Region) error {
	return s.replaceByKey(ctx, collRegions, bson.M{"name": region.Name}, region)
}

// UpsertSeason replaces the season entry with the same country code
// and name.
func (s *Store) UpsertSeason(ctx context.Context, season datatypes.SeasonDoc) error {
	filter := bson.M{"countryCode": season.CountryCode, "name": season.Name}
	return s.replaceByKey(ctx, collSeasons, filter, season)
}

// UpsertSuitabilityRule replaces the rule with the same key.
func (s *Store) UpsertSuitabilityRule(ctx context.Context, rule datatypes.SuitabilityRule) error {
	return s.replaceByKey(ctx, collSuitability, bson.M{"key": rule.Key}, rule)
}

// UpsertPrompt replaces the prompt with the same promptKey.
func (s *Store) UpsertPrompt(ctx context.Context, prompt datatypes.Prompt) error {
	return s.replaceByKey(ctx, collAIPrompts, bson.M{"promptKey": prompt.PromptKey}, prompt)
}

// UpsertSuggestedRule replaces the suggested rule with the same ruleKey.
func (s *Store) UpsertSuggestedRule(ctx context.Context, rule datatypes.SuggestedRule) error {
	return s.replaceByKey(ctx, collSuggestedRules, bson.M{"ruleKey": rule.RuleKey}, rule)
}

// UpsertAPIKey stores or rotates a provider credential.
func (s *Store) UpsertAPIKey(ctx context.Context, provider, key string) error {
	doc := bson.M{"provider": provider, "key": key}
	return s.replaceByKey(ctx, collAPIKeys, bson.M{"provider": provider}, doc)
}

func (s *Store) replaceByKey(ctx context.Context, coll string, filter bson.M, doc any) error {
	_, err := s.collection(coll).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store: seed %s: %w", coll, err)
	}
	return nil
}
