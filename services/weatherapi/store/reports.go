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
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// InsertReport stores a community weather report and returns its
// generated id.
func (s *Store) InsertReport(ctx context.Context, report *datatypes.Report) (string, error) {
	res, err := s.collection(collWeatherReports).InsertOne(ctx, report)
	if err != nil {
		return "", fmt.Errorf("store: insert report: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("store: insert report: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// ListReports returns up to 20 unexpired reports for a location
// submitted within the lookback window, newest first.
func (s *Store) ListReports(ctx context.Context, slug string, since time.Time) ([]datatypes.ReportView, error) {
	cursor, err := s.collection(collWeatherReports).Find(ctx,
		bson.M{
			"locationSlug": slug,
			"reportedAt":   bson.M{"$gte": since},
			"expiresAt":    bson.M{"$gt": time.Now().UTC()},
		},
		options.Find().
			SetProjection(bson.M{
				"_id": 1, "reportType": 1, "severity": 1, "description": 1,
				"reportedAt": 1, "upvotes": 1, "verified": 1, "locationName": 1,
			}).
			SetSort(bson.D{{Key: "reportedAt", Value: -1}}).
			SetLimit(20),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	var views []datatypes.ReportView
	if err := cursor.All(ctx, &views); err != nil {
		return nil, fmt.Errorf("store: list reports decode: %w", err)
	}
	for i := range views {
		views[i].ID = views[i].ObjectID.Hex()
	}
	return views, nil
}

// UpvoteReport adds one vote from an identity hash. The filter
// excludes reports the identity already voted on, so the increment
// and the dedup marker land atomically. Returns false when the vote
// was a duplicate or the report does not exist.
func (s *Store) UpvoteReport(ctx context.Context, id primitive.ObjectID, identityHash string) (bool, error) {
	res, err := s.collection(collWeatherReports).UpdateOne(ctx,
		bson.M{"_id": id, "upvotedBy": bson.M{"$ne": identityHash}},
		bson.M{
			"$inc":  bson.M{"upvotes": 1},
			"$push": bson.M{"upvotedBy": identityHash},
		},
	)
	if err != nil {
		return false, fmt.Errorf("store: upvote report: %w", err)
	}
	return res.ModifiedCount > 0, nil
}
