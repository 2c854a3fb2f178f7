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
// This file contains types for community weather reports: crowd-sourced
// observations with severity-based expiry and one-vote-per-identity
// upvotes.
package datatypes

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// =============================================================================
// Report Vocabulary
// =============================================================================

// ReportTypes is the closed set of accepted report types.
var ReportTypes = map[string]bool{
	"light-rain":   true,
	"heavy-rain":   true,
	"thunderstorm": true,
	"hail":         true,
	"flooding":     true,
	"strong-wind":  true,
	"clear-skies":  true,
	"fog":          true,
	"dust":         true,
	"frost":        true,
}

// ReportTypeList returns the accepted types sorted, for error text.
func ReportTypeList() string {
	types := make([]string, 0, len(ReportTypes))
	for t := range ReportTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}

// SeverityTTL maps severity to report lifetime. Unrecognized values
// normalize to moderate before lookup.
var SeverityTTL = map[string]time.Duration{
	"mild":     24 * time.Hour,
	"moderate": 48 * time.Hour,
	"severe":   72 * time.Hour,
}

// NormalizeSeverity coerces unknown severities to "moderate".
func NormalizeSeverity(severity string) string {
	if _, ok := SeverityTTL[severity]; !ok {
		return "moderate"
	}
	return severity
}

// MaxReportDescriptionLen truncates free-text descriptions.
const MaxReportDescriptionLen = 300

// =============================================================================
// Request Types
// =============================================================================

// SubmitReportRequest is the POST /api/reports body. Lat/Lon override
// the location's stored coordinates when the reporter shares a precise
// position.
type SubmitReportRequest struct {
	LocationSlug string   `json:"locationSlug"`
	ReportType   string   `json:"reportType"`
	Severity     string   `json:"severity"`
	Description  string   `json:"description"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`
}

// ClarifyRequest asks for follow-up questions before submitting.
type ClarifyRequest struct {
	LocationSlug string `json:"locationSlug"`
	ReportType   string `json:"reportType"`
}

// UpvoteRequest is the POST /api/reports/upvote body.
type UpvoteRequest struct {
	ReportID string `json:"reportId"`
}

// =============================================================================
// Documents and Responses
// =============================================================================

// ReportSnapshot captures the cached conditions at submission time,
// used to cross-validate the report against provider data.
type ReportSnapshot struct {
	Temperature   *float64 `json:"temperature" bson:"temperature"`
	WeatherCode   *int     `json:"weatherCode" bson:"weatherCode"`
	Precipitation *float64 `json:"precipitation" bson:"precipitation"`
	WindSpeed     *float64 `json:"windSpeed" bson:"windSpeed"`
	Humidity      *float64 `json:"humidity" bson:"humidity"`
}

// Report is the weather_reports document. ReportedBy is a hashed
// identity, never a raw address. UpvotedBy mirrors that hashing so a
// vote can be recorded at most once per identity.
type Report struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	LocationSlug string             `bson:"locationSlug"`
	LocationName string             `bson:"locationName"`
	Lat          *float64           `bson:"lat"`
	Lon          *float64           `bson:"lon"`
	ReportType   string             `bson:"reportType"`
	Severity     string             `bson:"severity"`
	Description  string             `bson:"description"`
	Snapshot     *ReportSnapshot    `bson:"weatherSnapshot"`
	ReportedBy   string             `bson:"reportedBy"`
	ReportedAt   time.Time          `bson:"reportedAt"`
	ExpiresAt    time.Time          `bson:"expiresAt"`
	Upvotes      int                `bson:"upvotes"`
	UpvotedBy    []string           `bson:"upvotedBy"`
	Verified     bool               `bson:"verified"`
}

// ReportView is the listing projection: enough to render a report card
// without exposing voter identities or coordinates.
type ReportView struct {
	ID           string             `json:"id" bson:"-"`
	ObjectID     primitive.ObjectID `json:"-" bson:"_id"`
	LocationName string             `json:"locationName" bson:"locationName"`
	ReportType   string             `json:"reportType" bson:"reportType"`
	Severity     string             `json:"severity" bson:"severity"`
	Description  string             `json:"description" bson:"description"`
	ReportedAt   time.Time          `json:"reportedAt" bson:"reportedAt"`
	Upvotes      int                `json:"upvotes" bson:"upvotes"`
	Verified     bool               `json:"verified" bson:"verified"`
}

// SubmitReportResponse acknowledges a stored report. ExpiresIn is the
// severity TTL in seconds.
type SubmitReportResponse struct {
	ID        string `json:"id"`
	Verified  bool   `json:"verified"`
	ExpiresIn int    `json:"expiresIn"`
}

// ReportListResponse is the GET /api/reports reply.
type ReportListResponse struct {
	Reports  []ReportView `json:"reports"`
	Location string       `json:"location"`
}

// UpvoteResponse reports whether the vote counted. Already-voted and
// missing-report are indistinguishable on purpose.
type UpvoteResponse struct {
	Upvoted bool   `json:"upvoted"`
	Reason  string `json:"reason,omitempty"`
}

// ClarifyResponse carries at most two follow-up questions.
type ClarifyResponse struct {
	Questions []string `json:"questions"`
}
