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

	"github.com/nyuchitech/mukoko-weather/pkg/validation"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// SuitabilityRuleStore is the slice of the store the rule bundle
// endpoint reads from.
type SuitabilityRuleStore interface {
	SuitabilityRules(ctx context.Context) ([]datatypes.SuitabilityRule, error)
	SuitabilityRuleByKey(ctx context.Context, key string) (*datatypes.SuitabilityRule, error)
}

var _ SuitabilityRuleStore = (*store.Store)(nil)

// HandleSuitability serves GET /suitability, the rule bundle clients
// evaluate locally in activity insights. Rules change only on
// seeding, so responses carry an aggressive edge-cache header. A
// ?key= query returns one rule; the key must match the
// activity:/category: pattern before it reaches the store.
func HandleSuitability(st SuitabilityRuleStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if key := strings.TrimSpace(c.Query("key")); key != "" {
			if err := validation.ValidateRuleKey(key); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key format"})
				return
			}
			rule, err := st.SuitabilityRuleByKey(ctx, key)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusBadGateway, gin.H{"error": "Suitability rules unavailable"})
				return
			}
			if rule == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
				return
			}
			c.Header("Cache-Control", "s-maxage=300, stale-while-revalidate=60")
			c.JSON(http.StatusOK, gin.H{"rule": rule})
			return
		}

		rules, err := st.SuitabilityRules(ctx)
		if err != nil {
			// An empty bundle with a short cache header keeps clients on
			// their generic ratings until the store recovers.
			c.Header("Cache-Control", "s-maxage=10, stale-while-revalidate=5")
			c.JSON(http.StatusOK, gin.H{"rules": []datatypes.SuitabilityRule{}})
			return
		}
		if rules == nil {
			rules = []datatypes.SuitabilityRule{}
		}
		c.Header("Cache-Control", "s-maxage=300, stale-while-revalidate=60")
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}
