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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// catalogCacheControl is the edge-cache policy for reference data.
// Activities, tags, and regions change only on seeding, so clients may
// hold them for an hour and serve stale for a day while revalidating.
const catalogCacheControl = "public, max-age=3600, stale-while-revalidate=86400"

// CatalogStore is the slice of the store the reference-data endpoints
// read from.
type CatalogStore interface {
	Activities(ctx context.Context) ([]datatypes.Activity, error)
	ActivityByID(ctx context.Context, id string) (*datatypes.Activity, error)
	ActivitiesByIDs(ctx context.Context, ids []string) ([]datatypes.Activity, error)
	ActivitiesByCategory(ctx context.Context, category string) ([]datatypes.Activity, error)
	SearchActivities(ctx context.Context, q string) ([]datatypes.Activity, error)
	ActivityCategories(ctx context.Context) ([]datatypes.ActivityCategory, error)
	Tags(ctx context.Context, featuredOnly bool) ([]datatypes.Tag, error)
	ActiveRegions(ctx context.Context) ([]datatypes.Region, error)
}

var _ CatalogStore = (*store.Store)(nil)

// HandleActivities serves GET /activities in its five modes:
//
//	?mode=categories   category list
//	?id=running        single activity, 404 when unknown
//	?labels=a,b        id -> label map for the given ids
//	?q=cyc             text search, capped at 20
//	?category=sports   category filter
//	(none)             everything, sorted category then label
func HandleActivities(st CatalogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if c.Query("mode") == "categories" {
			categories, err := st.ActivityCategories(ctx)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Activity data unavailable"})
				return
			}
			if categories == nil {
				categories = []datatypes.ActivityCategory{}
			}
			c.JSON(http.StatusOK, gin.H{"categories": categories})
			return
		}

		if id := strings.TrimSpace(c.Query("id")); id != "" {
			activity, err := st.ActivityByID(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": "Activity not found"})
					return
				}
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Activity data unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"activity": activity})
			return
		}

		if labels := c.Query("labels"); labels != "" {
			var ids []string
			for _, part := range strings.Split(labels, ",") {
				if part = strings.TrimSpace(part); part != "" {
					ids = append(ids, part)
				}
			}
			docs, err := st.ActivitiesByIDs(ctx, ids)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Activity data unavailable"})
				return
			}
			labelMap := make(map[string]string, len(docs))
			for _, doc := range docs {
				labelMap[doc.ID] = doc.Label
			}
			c.JSON(http.StatusOK, gin.H{"labels": labelMap})
			return
		}

		var (
			docs []datatypes.Activity
			err  error
		)
		switch {
		case strings.TrimSpace(c.Query("q")) != "":
			q := strings.TrimSpace(c.Query("q"))
			if len(q) > 200 {
				q = q[:200]
			}
			docs, err = st.SearchActivities(ctx, q)
		case c.Query("category") != "":
			docs, err = st.ActivitiesByCategory(ctx, c.Query("category"))
		default:
			docs, err = st.Activities(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Activity data unavailable"})
			return
		}
		if docs == nil {
			docs = []datatypes.Activity{}
		}
		c.JSON(http.StatusOK, gin.H{"activities": docs, "total": len(docs)})
	}
}

// HandleTags serves GET /tags, optionally filtered to featured tags.
func HandleTags(st CatalogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		tags, err := st.Tags(c.Request.Context(), c.Query("featured") == "true")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tags"})
			return
		}
		if tags == nil {
			tags = []datatypes.Tag{}
		}
		c.Header("Cache-Control", catalogCacheControl)
		c.JSON(http.StatusOK, gin.H{"tags": tags})
	}
}

// HandleRegions serves GET /regions, the active supported regions.
func HandleRegions(st CatalogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		regions, err := st.ActiveRegions(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch regions"})
			return
		}
		if regions == nil {
			regions = []datatypes.Region{}
		}
		c.Header("Cache-Control", catalogCacheControl)
		c.JSON(http.StatusOK, gin.H{"regions": regions})
	}
}
