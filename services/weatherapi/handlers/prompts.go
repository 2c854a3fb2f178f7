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

// PromptStore is the slice of the store the AI configuration
// endpoints read from.
type PromptStore interface {
	ActivePrompts(ctx context.Context) ([]datatypes.Prompt, error)
	PromptByKey(ctx context.Context, key string) (*datatypes.Prompt, error)
	ActiveSuggestedRules(ctx context.Context) ([]datatypes.SuggestedRule, error)
}

var _ PromptStore = (*store.Store)(nil)

// HandleAIPrompts serves GET /ai/prompts, the database-driven AI
// configuration the clients render greetings and templates from.
// A ?key= query returns a single prompt; a miss is {"prompt": null}
// with a short cache header so clients fall back to their built-in
// defaults without hammering the store.
func HandleAIPrompts(st PromptStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if key := strings.TrimSpace(c.Query("key")); key != "" {
			prompt, err := st.PromptByKey(ctx, key)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusOK, gin.H{"prompt": nil, "error": "Database unavailable"})
				return
			}
			if prompt == nil {
				c.Header("Cache-Control", "public, max-age=60")
				c.JSON(http.StatusOK, gin.H{"prompt": nil})
				return
			}
			c.Header("Cache-Control", "public, max-age=300")
			c.JSON(http.StatusOK, gin.H{"prompt": prompt})
			return
		}

		prompts, err := st.ActivePrompts(ctx)
		if err != nil {
			// Degrade to an empty list; clients hold hardcoded defaults.
			c.JSON(http.StatusOK, gin.H{"prompts": []datatypes.Prompt{}, "error": "Database unavailable"})
			return
		}
		if prompts == nil {
			prompts = []datatypes.Prompt{}
		}
		c.Header("Cache-Control", "public, max-age=300")
		c.JSON(http.StatusOK, gin.H{"prompts": prompts})
	}
}

// HandleSuggestedRules serves GET /ai/suggested-rules, the ordered
// suggestion chips shown above the chat input.
func HandleSuggestedRules(st PromptStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := st.ActiveSuggestedRules(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"rules": []datatypes.SuggestedRule{}, "error": "Database unavailable"})
			return
		}
		if rules == nil {
			rules = []datatypes.SuggestedRule{}
		}
		c.Header("Cache-Control", "public, max-age=300")
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

// HandleEmbeddingsStatus serves GET /embeddings/status. The vector
// search indexes exist in the store but nothing generates embeddings
// yet; this endpoint says so.
func HandleEmbeddingsStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "not_configured",
			"message": "Embedding pipeline is planned but not yet active.",
		})
	}
}
