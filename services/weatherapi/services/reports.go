// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// Validation failures the handler maps onto 400s.
var (
	ErrInvalidReportType = errors.New("services: invalid report type")
	ErrInvalidReportID   = errors.New("services: invalid report id")
)

// Report listing window bounds, in hours.
const (
	minReportHours = 1
	maxReportHours = 72
)

// HashIdentity derives the stored reporter identity from a client
// address: the first 16 hex chars of its SHA-256. Raw addresses never
// reach the database.
func HashIdentity(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}

// =============================================================================
// ReportsService
// =============================================================================

// ReportsStore is the persistence surface for community reports.
type ReportsStore interface {
	LocationBySlug(ctx context.Context, slug string) (*datatypes.Location, error)
	AnyWeather(ctx context.Context, slug string) (*datatypes.WeatherData, string, error)
	InsertReport(ctx context.Context, report *datatypes.Report) (string, error)
	ListReports(ctx context.Context, slug string, since time.Time) ([]datatypes.ReportView, error)
	UpvoteReport(ctx context.Context, id primitive.ObjectID, identityHash string) (bool, error)
}

var _ ReportsStore = (*store.Store)(nil)

// ReportsService manages crowd-sourced weather observations: submission
// with cross-validation against cached provider data, severity-based
// expiry, anonymous one-vote upvotes, and LLM clarifying questions.
type ReportsService struct {
	store    ReportsStore
	llm      llm.MessagesClient
	prompts  *prompts.Library
	breakers *breaker.Registry
	logger   *logging.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewReportsService creates a ReportsService. A nil client makes
// Clarify serve the canned per-type questions.
func NewReportsService(
	st ReportsStore,
	client llm.MessagesClient,
	lib *prompts.Library,
	breakers *breaker.Registry,
	logger *logging.Logger,
) *ReportsService {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReportsService{
		store:    st,
		llm:      client,
		prompts:  lib,
		breakers: breakers,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit stores a community report.
//
// # Description
//
// The flow is:
//  1. Validate the report type against the closed vocabulary and
//     normalize the severity.
//  2. Resolve the location; unknown slugs are ErrUnknownLocation.
//  3. Snapshot whatever cached conditions exist (expired entries
//     included) and cross-validate the claim against them.
//  4. Store the report under the severity TTL with a hashed reporter
//     identity.
//
// # Outputs
//
//   - *datatypes.SubmitReportResponse: the stored ID, the verification
//     verdict, and the TTL in seconds.
//   - error: ErrInvalidReportType, ErrUnknownLocation, or a store
//     failure.
func (s *ReportsService) Submit(ctx context.Context, req *datatypes.SubmitReportRequest, clientIP string) (*datatypes.SubmitReportResponse, error) {
	ctx, span := tracer.Start(ctx, "ReportsService.Submit")
	defer span.End()

	// Step 1: Vocabulary
	if !datatypes.ReportTypes[req.ReportType] {
		span.SetStatus(codes.Error, "invalid report type")
		return nil, ErrInvalidReportType
	}
	severity := datatypes.NormalizeSeverity(req.Severity)
	span.SetAttributes(
		attribute.String("report.type", req.ReportType),
		attribute.String("report.severity", severity),
	)

	// Step 2: Location
	slug := strings.ToLower(strings.TrimSpace(req.LocationSlug))
	loc, err := s.store.LocationBySlug(ctx, slug)
	if err != nil || loc == nil {
		span.SetStatus(codes.Error, "unknown location")
		return nil, ErrUnknownLocation
	}

	// Step 3: Cross-validate against the latest cached conditions. The
	// expiry filter is deliberately skipped: stale data still beats no
	// data for plausibility checking.
	var snapshot *datatypes.ReportSnapshot
	if data, _, err := s.store.AnyWeather(ctx, slug); err == nil {
		snapshot = buildReportSnapshot(data)
	}
	verified := crossValidate(req.ReportType, snapshot)
	span.SetAttributes(attribute.Bool("report.verified", verified))

	// Step 4: Store under the severity TTL
	lat, lon := req.Lat, req.Lon
	if lat == nil {
		v := loc.Lat
		lat = &v
	}
	if lon == nil {
		v := loc.Lon
		lon = &v
	}
	ttl := datatypes.SeverityTTL[severity]
	now := s.now().UTC()
	report := &datatypes.Report{
		LocationSlug: slug,
		LocationName: loc.Name,
		Lat:          lat,
		Lon:          lon,
		ReportType:   req.ReportType,
		Severity:     severity,
		Description:  truncate(strings.TrimSpace(req.Description), datatypes.MaxReportDescriptionLen),
		Snapshot:     snapshot,
		ReportedBy:   HashIdentity(clientIP),
		ReportedAt:   now,
		ExpiresAt:    now.Add(ttl),
		Upvotes:      0,
		UpvotedBy:    []string{},
		Verified:     verified,
	}
	id, err := s.store.InsertReport(ctx, report)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &datatypes.SubmitReportResponse{
		ID:        id,
		Verified:  verified,
		ExpiresIn: int(ttl.Seconds()),
	}, nil
}

// List returns the active reports for a location within the last
// hours, clamped to [1, 72]. Expired reports never appear.
func (s *ReportsService) List(ctx context.Context, slug string, hours int) (*datatypes.ReportListResponse, error) {
	ctx, span := tracer.Start(ctx, "ReportsService.List")
	defer span.End()

	if hours < minReportHours {
		hours = minReportHours
	}
	if hours > maxReportHours {
		hours = maxReportHours
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	span.SetAttributes(
		attribute.String("report.slug", slug),
		attribute.Int("report.hours", hours),
	)

	since := s.now().UTC().Add(-time.Duration(hours) * time.Hour)
	reports, err := s.store.ListReports(ctx, slug, since)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if reports == nil {
		reports = []datatypes.ReportView{}
	}
	return &datatypes.ReportListResponse{Reports: reports, Location: slug}, nil
}

// Upvote records one vote per hashed identity per report. A vote that
// does not count, whether already cast or aimed at a missing report,
// gets the same answer so callers cannot probe report existence.
func (s *ReportsService) Upvote(ctx context.Context, reportID, clientIP string) (*datatypes.UpvoteResponse, error) {
	ctx, span := tracer.Start(ctx, "ReportsService.Upvote")
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(reportID))
	if err != nil {
		span.SetStatus(codes.Error, "invalid report id")
		return nil, ErrInvalidReportID
	}

	upvoted, err := s.store.UpvoteReport(ctx, oid, HashIdentity(clientIP))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !upvoted {
		return &datatypes.UpvoteResponse{
			Upvoted: false,
			Reason:  "Already upvoted or report not found",
		}, nil
	}
	return &datatypes.UpvoteResponse{Upvoted: true}, nil
}

// Clarify returns up to two follow-up questions for a pending report.
//
// # Description
//
// The flow is:
//  1. Validate the report type.
//  2. Resolve the location name; the slug stands in when the document
//     is missing.
//  3. Ask the model for numbered questions through the breaker. No
//     client, an open circuit, or any call failure serves the canned
//     per-type pair instead; this endpoint never errors past
//     validation.
func (s *ReportsService) Clarify(ctx context.Context, req *datatypes.ClarifyRequest) (*datatypes.ClarifyResponse, error) {
	ctx, span := tracer.Start(ctx, "ReportsService.Clarify")
	defer span.End()

	// Step 1: Vocabulary
	if !datatypes.ReportTypes[req.ReportType] {
		span.SetStatus(codes.Error, "invalid report type")
		return nil, ErrInvalidReportType
	}
	span.SetAttributes(attribute.String("report.type", req.ReportType))

	// Step 2: Location name, best-effort
	slug := strings.ToLower(strings.TrimSpace(req.LocationSlug))
	name := slug
	if loc, err := s.store.LocationBySlug(ctx, slug); err == nil && loc != nil && loc.Name != "" {
		name = loc.Name
	}

	fallback := s.prompts.ClarifyQuestions(req.ReportType)
	if s.llm == nil {
		return &datatypes.ClarifyResponse{Questions: fallback}, nil
	}

	// Step 3: Generate through the breaker
	prompt := s.prompts.Get(ctx, "system:report_clarification")
	system := prompts.Apply(prompt.Template, map[string]string{
		"locationName": name,
		"reportType":   req.ReportType,
	})

	var text string
	start := s.now()
	err := s.breakers.Get(upstreamAnthropic).Execute(ctx, func(ctx context.Context) error {
		resp, err := s.llm.Messages(ctx, llm.Request{
			Model:     prompt.Model,
			System:    system,
			MaxTokens: prompt.MaxTokens,
			Messages: []llm.Message{
				llm.TextMessage(llm.RoleUser, "I'm reporting: "+req.ReportType),
			},
		})
		if err != nil {
			return err
		}
		text = resp.FirstText()
		return nil
	})
	seconds := time.Since(start).Seconds()
	if err != nil {
		observability.DefaultMetrics.RecordLLMCall("clarify", classifyLLMError(err), seconds)
		s.logger.Warn("clarify generation failed, serving fallback", "reportType", req.ReportType, "error", err)
		return &datatypes.ClarifyResponse{Questions: fallback}, nil
	}
	observability.DefaultMetrics.RecordLLMCall("clarify", observability.OutcomeOK, seconds)

	return &datatypes.ClarifyResponse{Questions: parseClarifyQuestions(text, fallback)}, nil
}

// parseClarifyQuestions extracts numbered lines from model output,
// keeping at most two. Output with no numbered lines at all reads as a
// refusal or a format drift, so the canned pair takes over.
func parseClarifyQuestions(text string, fallback []string) []string {
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		q := strings.TrimSpace(strings.TrimLeft(line, "0123456789."))
		if q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return fallback
	}
	if len(questions) > 2 {
		questions = questions[:2]
	}
	return questions
}

// =============================================================================
// Cross-Validation
// =============================================================================

// buildReportSnapshot projects the cached current block into the stored
// snapshot. No current block means no snapshot.
func buildReportSnapshot(data *datatypes.WeatherData) *datatypes.ReportSnapshot {
	if data == nil || data.Current == nil {
		return nil
	}
	c := data.Current
	return &datatypes.ReportSnapshot{
		Temperature:   c.Temperature,
		WeatherCode:   c.WeatherCode,
		Precipitation: c.Precipitation,
		WindSpeed:     c.WindSpeed,
		Humidity:      c.RelativeHumidity,
	}
}

// crossValidate checks a report claim against the snapshot. Missing
// snapshots never verify; missing metrics assume calm conditions
// (20°C, no precipitation, no wind, clear code) so a gap in provider
// data cannot rubber-stamp a dramatic claim.
func crossValidate(reportType string, snap *datatypes.ReportSnapshot) bool {
	if snap == nil {
		return false
	}

	temperature := 20.0
	if snap.Temperature != nil {
		temperature = *snap.Temperature
	}
	precipitation := 0.0
	if snap.Precipitation != nil {
		precipitation = *snap.Precipitation
	}
	windSpeed := 0.0
	if snap.WindSpeed != nil {
		windSpeed = *snap.WindSpeed
	}
	code := 0
	if snap.WeatherCode != nil {
		code = *snap.WeatherCode
	}

	switch reportType {
	case "light-rain", "heavy-rain":
		return precipitation > 0 || (code >= 51 && code <= 82)
	case "thunderstorm":
		return code == 95 || code == 96 || code == 99
	case "strong-wind":
		return windSpeed > 20
	case "clear-skies":
		return (code == 0 || code == 1) && precipitation == 0
	case "fog":
		return code == 45 || code == 48
	case "frost":
		return temperature <= 3
	default:
		// hail, flooding, dust: no reliable provider signal.
		return false
	}
}
