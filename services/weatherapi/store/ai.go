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
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// =============================================================================
// Summary cache
// =============================================================================

// FreshSummary returns the unexpired cached briefing for a location,
// or ErrNotFound.
func (s *Store) FreshSummary(ctx context.Context, slug string) (*datatypes.CachedSummary, error) {
	var doc datatypes.CachedSummary
	err := s.collection(collAISummaries).FindOne(ctx, bson.M{
		"locationSlug": slug,
		"expiresAt":    bson.M{"$gt": time.Now().UTC()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fresh summary: %w", err)
	}
	return &doc, nil
}

// UpsertSummary stores a briefing with its generation snapshot and a
// tier-derived TTL.
func (s *Store) UpsertSummary(ctx context.Context, slug, insight string, snapshot datatypes.SummarySnapshot, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.collection(collAISummaries).UpdateOne(ctx,
		bson.M{"locationSlug": slug},
		bson.M{"$set": bson.M{
			"insight":         insight,
			"generatedAt":     now,
			"weatherSnapshot": snapshot,
			"expiresAt":       now.Add(ttl),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: upsert summary: %w", err)
	}
	return nil
}

// =============================================================================
// History analysis cache
// =============================================================================

// FreshAnalysis returns the unexpired analysis for a content-addressed
// cache key, or ErrNotFound.
func (s *Store) FreshAnalysis(ctx context.Context, cacheKey string) (*datatypes.CachedAnalysis, error) {
	var doc datatypes.CachedAnalysis
	err := s.collection(collHistoryAnalysis).FindOne(ctx, bson.M{
		"cacheKey":  cacheKey,
		"expiresAt": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fresh analysis: %w", err)
	}
	return &doc, nil
}

// UpsertAnalysis stores an analysis under its content-addressed key.
func (s *Store) UpsertAnalysis(ctx context.Context, doc *datatypes.CachedAnalysis) error {
	_, err := s.collection(collHistoryAnalysis).UpdateOne(ctx,
		bson.M{"cacheKey": doc.CacheKey},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store: upsert analysis: %w", err)
	}
	return nil
}

// =============================================================================
// Prompts and suggested rules
// =============================================================================

// ActivePrompts returns all active prompt templates in display order.
func (s *Store) ActivePrompts(ctx context.Context) ([]datatypes.Prompt, error) {
	cursor, err := s.collection(collAIPrompts).Find(ctx,
		bson.M{"active": true},
		options.Find().SetSort(bson.D{{Key: "order", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("store: active prompts: %w", err)
	}
	var prompts []datatypes.Prompt
	if err := cursor.All(ctx, &prompts); err != nil {
		return nil, fmt.Errorf("store: active prompts decode: %w", err)
	}
	return prompts, nil
}

// PromptByKey returns the active prompt with a key, or ErrNotFound.
func (s *Store) PromptByKey(ctx context.Context, key string) (*datatypes.Prompt, error) {
	var doc datatypes.Prompt
	err := s.collection(collAIPrompts).FindOne(ctx,
		bson.M{"promptKey": key, "active": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: prompt by key: %w", err)
	}
	return &doc, nil
}

// ActiveSuggestedRules returns the active suggested-prompt rules in
// display order.
func (s *Store) ActiveSuggestedRules(ctx context.Context) ([]datatypes.SuggestedRule, error) {
	cursor, err := s.collection(collSuggestedRules).Find(ctx,
		bson.M{"active": true},
		options.Find().SetSort(bson.D{{Key: "order", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("store: suggested rules: %w", err)
	}
	var rules []datatypes.SuggestedRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("store: suggested rules decode: %w", err)
	}
	return rules, nil
}

// =============================================================================
// Provider API keys
// =============================================================================

// APIKey returns the key for an external provider: the
// {PROVIDER}_API_KEY environment variable when set, otherwise the
// stored credential. Keys live in the database so they rotate without
// a redeploy; the environment override covers local development.
// Returns ErrNotFound when neither source has one.
func (s *Store) APIKey(ctx context.Context, provider string) (string, error) {
	envKey := strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v, nil
	}

	var doc struct {
		Key string `bson:"key"`
	}
	err := s.collection(collAPIKeys).FindOne(ctx, bson.M{"provider": provider}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: api key: %w", err)
	}
	if doc.Key == "" {
		return "", ErrNotFound
	}
	return doc.Key, nil
}
