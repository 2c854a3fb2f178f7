// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/nyuchitech/mukoko-weather/pkg/validation"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// DeviceStore is the slice of the store the device endpoints use.
type DeviceStore interface {
	InsertDevice(ctx context.Context, profile *datatypes.DeviceProfile) error
	DeviceByID(ctx context.Context, deviceID string) (*datatypes.DeviceProfile, error)
	UpdateDevice(ctx context.Context, deviceID string, updates bson.M) (*datatypes.DeviceProfile, error)
}

var _ DeviceStore = (*store.Store)(nil)

func validTheme(c *gin.Context, theme string) bool {
	if !datatypes.ValidThemes[theme] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid theme: %s", theme)})
		return false
	}
	return true
}

func validLocationSlug(c *gin.Context, slug string) bool {
	if err := validation.ValidateSlug(slug); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid location slug: %s", slug)})
		return false
	}
	return true
}

func validSavedLocations(c *gin.Context, slugs []string) bool {
	if len(slugs) > datatypes.MaxSavedLocations {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Too many saved locations (max %d)", datatypes.MaxSavedLocations)})
		return false
	}
	for _, slug := range slugs {
		if !validLocationSlug(c, slug) {
			return false
		}
	}
	return true
}

func validActivities(c *gin.Context, activities []string) bool {
	if len(activities) > datatypes.MaxActivities {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Too many activities (max %d)", datatypes.MaxActivities)})
		return false
	}
	return true
}

// HandleCreateDevice serves POST /devices. Creation is idempotent on
// deviceId: replaying a create returns the stored profile, also 201,
// so clients can retry without branching.
func HandleCreateDevice(st DeviceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req datatypes.CreateDeviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		prefs := req.Preferences
		prefs.ApplyDefaults()
		if !validTheme(c, prefs.Theme) ||
			!validLocationSlug(c, prefs.SelectedLocation) ||
			!validSavedLocations(c, prefs.SavedLocations) ||
			!validActivities(c, prefs.SelectedActivities) {
			return
		}

		deviceID := req.DeviceID
		if deviceID == "" {
			deviceID = uuid.NewString()
		}

		now := time.Now().UTC()
		doc := &datatypes.DeviceProfile{
			DeviceID:    deviceID,
			Preferences: prefs,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err := st.InsertDevice(ctx, doc)
		if errors.Is(err, store.ErrDuplicateDevice) {
			existing, lookupErr := st.DeviceByID(ctx, deviceID)
			if lookupErr == nil {
				c.JSON(http.StatusCreated, datatypes.NewDeviceProfileResponse(existing))
				return
			}
			c.JSON(http.StatusConflict, gin.H{"error": "Device profile already exists"})
			return
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database temporarily unavailable"})
			return
		}

		c.JSON(http.StatusCreated, datatypes.NewDeviceProfileResponse(doc))
	}
}

// HandleGetDevice serves GET /devices/:deviceId.
func HandleGetDevice(st DeviceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := st.DeviceByID(c.Request.Context(), c.Param("deviceId"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Device profile not found"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, datatypes.NewDeviceProfileResponse(doc))
	}
}

// HandleUpdateDevice serves PATCH /devices/:deviceId. Only supplied
// fields are written; list fields replace the stored list wholesale.
func HandleUpdateDevice(st DeviceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdatePreferencesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		updates := bson.M{}
		if req.Theme != nil {
			if !validTheme(c, *req.Theme) {
				return
			}
			updates["preferences.theme"] = *req.Theme
		}
		if req.SelectedLocation != nil {
			if !validLocationSlug(c, *req.SelectedLocation) {
				return
			}
			updates["preferences.selectedLocation"] = *req.SelectedLocation
		}
		if req.SavedLocations != nil {
			if !validSavedLocations(c, *req.SavedLocations) {
				return
			}
			updates["preferences.savedLocations"] = *req.SavedLocations
		}
		if req.SelectedActivities != nil {
			if !validActivities(c, *req.SelectedActivities) {
				return
			}
			updates["preferences.selectedActivities"] = *req.SelectedActivities
		}
		if req.HasOnboarded != nil {
			updates["preferences.hasOnboarded"] = *req.HasOnboarded
		}

		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
			return
		}
		updates["updatedAt"] = time.Now().UTC()

		doc, err := st.UpdateDevice(c.Request.Context(), c.Param("deviceId"), updates)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Device profile not found"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, datatypes.NewDeviceProfileResponse(doc))
	}
}
