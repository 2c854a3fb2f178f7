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

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// ErrDuplicateDevice reports a create that raced an existing profile.
var ErrDuplicateDevice = errors.New("store: device profile exists")

// InsertDevice stores a new device profile. A repeat of an existing
// deviceId returns ErrDuplicateDevice so the caller can re-read and
// answer idempotently.
func (s *Store) InsertDevice(ctx context.Context, profile *datatypes.DeviceProfile) error {
	_, err := s.collection(collDeviceProfiles).InsertOne(ctx, profile)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateDevice
	}
	if err != nil {
		return fmt.Errorf("store: insert device: %w", err)
	}
	return nil
}

// DeviceByID fetches a device profile, or ErrNotFound.
func (s *Store) DeviceByID(ctx context.Context, deviceID string) (*datatypes.DeviceProfile, error) {
	var doc datatypes.DeviceProfile
	err := s.collection(collDeviceProfiles).FindOne(ctx, bson.M{"deviceId": deviceID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: device by id: %w", err)
	}
	return &doc, nil
}

// UpdateDevice applies dotted preference paths plus an updatedAt stamp
// and returns the post-update profile. Whole arrays are replaced, not
// merged; the last device to sync wins.
func (s *Store) UpdateDevice(ctx context.Context, deviceID string, updates bson.M) (*datatypes.DeviceProfile, error) {
	var doc datatypes.DeviceProfile
	err := s.collection(collDeviceProfiles).FindOneAndUpdate(ctx,
		bson.M{"deviceId": deviceID},
		bson.M{"$set": updates},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: update device: %w", err)
	}
	return &doc, nil
}
