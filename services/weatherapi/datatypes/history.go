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
// This file contains types for the weather history endpoints: raw
// record listing and the AI trend analysis.
package datatypes

import "time"

// History window bounds. Listing accepts the wide window; analysis
// needs at least a week of records to say anything useful.
const (
	MinHistoryDays = 1
	MaxHistoryDays = 365
	MinAnalyzeDays = 7
)

// HistoryResponse is the GET /api/weather/history reply. Records are
// newest first.
type HistoryResponse struct {
	Location string          `json:"location"`
	Days     int             `json:"days"`
	Records  int             `json:"records"`
	Data     []HistoryRecord `json:"data"`
}

// AnalyzeRequest is the POST /api/history/analyze body. Days outside
// [7, 365] are rejected.
type AnalyzeRequest struct {
	Location   string   `json:"location"`
	Days       int      `json:"days"`
	Activities []string `json:"activities"`
}

// DaysOrDefault returns the requested window, defaulting to 30.
func (r *AnalyzeRequest) DaysOrDefault() int {
	if r.Days == 0 {
		return 30
	}
	return r.Days
}

// AnalyzeResponse is the trend analysis reply. Stats is the plain-text
// statistical summary, always computed locally; Analysis is the model
// narrative, replaced by canned text with Error set on degraded paths.
type AnalyzeResponse struct {
	Analysis   string `json:"analysis"`
	Stats      string `json:"stats"`
	Cached     bool   `json:"cached"`
	Error      bool   `json:"error,omitempty"`
	DataPoints int    `json:"dataPoints"`
}

// CachedAnalysis is the history_analysis document. CacheKey is
// "{slug}:{days}:{dataHash}", so a changed underlying dataset misses
// the cache without any explicit invalidation.
type CachedAnalysis struct {
	CacheKey     string    `bson:"cacheKey"`
	LocationSlug string    `bson:"locationSlug"`
	Days         int       `bson:"days"`
	Analysis     string    `bson:"analysis"`
	Stats        string    `bson:"stats"`
	AnalyzedAt   time.Time `bson:"analyzedAt"`
	ExpiresAt    time.Time `bson:"expiresAt"`
}
