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
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RateLimitResult reports the outcome of one counted request.
type RateLimitResult struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// rateLimitDoc is the rate_limits document. Windows are fixed, not
// sliding; the TTL index on expiresAt resets them.
type rateLimitDoc struct {
	Key       string    `bson:"key"`
	Count     int       `bson:"count"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// CheckRateLimit counts a request against "{action}:{ip}" and reports
// whether it is within maxRequests per window.
//
// # Description
//
// One atomic findOneAndUpdate increments the counter and, on first
// sight, stamps the window expiry. The request that increments the
// counter to maxRequests is still allowed; the next one is not.
//
// Fails open: when the store is unreachable the request is allowed
// with maxRequests-1 remaining, and a warning is logged.
func (s *Store) CheckRateLimit(ctx context.Context, ip, action string, maxRequests int, window time.Duration) RateLimitResult {
	key := fmt.Sprintf("%s:%s", action, ip)
	now := time.Now().UTC()

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc rateLimitDoc
	err := s.collection(collRateLimits).FindOneAndUpdate(ctx,
		bson.M{"key": key},
		bson.M{
			"$inc":         bson.M{"count": 1},
			"$setOnInsert": bson.M{"expiresAt": now.Add(window)},
		},
		opts,
	).Decode(&doc)
	if err != nil {
		s.logger.Warn("rate limit check failed, allowing request", "action", action, "error", err)
		return RateLimitResult{Allowed: true, Remaining: maxRequests - 1}
	}

	count := doc.Count
	if count == 0 {
		count = 1
	}
	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{Allowed: count <= maxRequests, Remaining: remaining}
}
