// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the weather service.
//
// This file contains device profile types. Profiles are keyed by a
// client-generated device ID, not by account, so preference sync works
// without authentication.
package datatypes

import "time"

// =============================================================================
// Preference Limits
// =============================================================================

const (
	// MaxSavedLocations caps the saved-location list per device.
	MaxSavedLocations = 10

	// MaxActivities caps the selected-activity list per device.
	MaxActivities = 30
)

// ValidThemes is the closed set of UI themes.
var ValidThemes = map[string]bool{
	"light":  true,
	"dark":   true,
	"system": true,
}

// =============================================================================
// Device Profile Types
// =============================================================================

// Preferences is a device's synced preference set. Zero values are
// filled with defaults before storage and before every response.
type Preferences struct {
	Theme              string   `json:"theme" bson:"theme"`
	SelectedLocation   string   `json:"selectedLocation" bson:"selectedLocation"`
	SavedLocations     []string `json:"savedLocations" bson:"savedLocations"`
	SelectedActivities []string `json:"selectedActivities" bson:"selectedActivities"`
	HasOnboarded       bool     `json:"hasOnboarded" bson:"hasOnboarded"`
}

// ApplyDefaults fills unset fields so every stored and served profile
// has the same shape.
func (p *Preferences) ApplyDefaults() {
	if p.Theme == "" {
		p.Theme = "system"
	}
	if p.SelectedLocation == "" {
		p.SelectedLocation = "harare"
	}
	if p.SavedLocations == nil {
		p.SavedLocations = []string{}
	}
	if p.SelectedActivities == nil {
		p.SelectedActivities = []string{}
	}
}

// DeviceProfile is the device_profiles document.
type DeviceProfile struct {
	DeviceID    string      `bson:"deviceId"`
	Preferences Preferences `bson:"preferences"`
	CreatedAt   time.Time   `bson:"createdAt"`
	UpdatedAt   time.Time   `bson:"updatedAt"`
}

// CreateDeviceRequest is the POST /api/devices body. DeviceID is
// optional; the server generates a UUID when absent, and a replayed
// create with an existing ID returns the stored profile unchanged.
type CreateDeviceRequest struct {
	DeviceID    string      `json:"deviceId"`
	Preferences Preferences `json:"preferences"`
}

// UpdatePreferencesRequest is the PATCH /api/devices/:id body. Only
// non-nil fields are written; list fields replace the stored list
// wholesale (last write wins across a user's devices).
type UpdatePreferencesRequest struct {
	Theme              *string   `json:"theme,omitempty"`
	SelectedLocation   *string   `json:"selectedLocation,omitempty"`
	SavedLocations     *[]string `json:"savedLocations,omitempty"`
	SelectedActivities *[]string `json:"selectedActivities,omitempty"`
	HasOnboarded       *bool     `json:"hasOnboarded,omitempty"`
}

// Empty reports whether no field was supplied.
func (r *UpdatePreferencesRequest) Empty() bool {
	return r.Theme == nil && r.SelectedLocation == nil && r.SavedLocations == nil &&
		r.SelectedActivities == nil && r.HasOnboarded == nil
}

// DeviceProfileResponse is the profile as served. Timestamps are
// RFC 3339 strings.
type DeviceProfileResponse struct {
	DeviceID    string      `json:"deviceId"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
}

// NewDeviceProfileResponse converts a stored profile for serving.
func NewDeviceProfileResponse(doc *DeviceProfile) DeviceProfileResponse {
	prefs := doc.Preferences
	prefs.ApplyDefaults()
	return DeviceProfileResponse{
		DeviceID:    doc.DeviceID,
		Preferences: prefs,
		CreatedAt:   doc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   doc.UpdatedAt.Format(time.RFC3339),
	}
}
