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
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/pkg/validation"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/providers"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// Geo flow failures, each carrying a distinct HTTP mapping in the
// handler (404 / 422 / 404 / 400).
var (
	ErrOutsideRegions   = errors.New("services: outside supported regions")
	ErrGeocodeFailed    = errors.New("services: could not determine location name")
	ErrNoNearbyLocation = errors.New("services: no nearby location")
	ErrEmptyQuery       = errors.New("services: empty query")
)

// Geo tuning. Distances are kilometres.
const (
	countryPreferenceMaxKM = 50
	searchNearMaxKM        = 100
	dedupRadiusZWKM        = 5
	dedupRadiusDefaultKM   = 10

	maxSearchLimit      = 50
	maxSearchQueryLen   = 200
	forwardGeocodeCount = 5
	geoCandidateLimit   = 5
)

// =============================================================================
// Interfaces
// =============================================================================

// LocationsStore is the persistence surface for the location catalog.
type LocationsStore interface {
	LocationBySlug(ctx context.Context, slug string) (*datatypes.Location, error)
	AllLocations(ctx context.Context) ([]datatypes.Location, error)
	LocationsByTag(ctx context.Context, tag string, limit int64) ([]datatypes.Location, error)
	TagCounts(ctx context.Context) (map[string]int, error)
	LocationStats(ctx context.Context) (*datatypes.LocationStats, error)
	SearchLocations(ctx context.Context, q, tag string, skip, limit int64) ([]datatypes.Location, int64, error)
	LocationsNear(ctx context.Context, lat, lon float64, maxMeters, limit int64) ([]datatypes.Location, error)
	NearestLocation(ctx context.Context, lat, lon float64, maxMeters int64) (*datatypes.Location, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	InsertLocation(ctx context.Context, loc *datatypes.Location) error
	UpsertCountry(ctx context.Context, country datatypes.Country) error
	UpsertProvince(ctx context.Context, province datatypes.Province) error
	RegionContains(ctx context.Context, lat, lon float64) (bool, error)
}

// GeocodeProvider resolves coordinates to places and back.
type GeocodeProvider interface {
	Reverse(ctx context.Context, lat, lon float64) (*datatypes.Geocoded, error)
	Forward(ctx context.Context, query string, count int) ([]datatypes.Geocoded, error)
}

// ElevationProvider supplies terrain elevation when the geocoder has
// none. Failures read as 0.
type ElevationProvider interface {
	Elevation(ctx context.Context, lat, lon float64) int
}

// Compile-time interface implementation checks.
var (
	_ LocationsStore    = (*store.Store)(nil)
	_ GeocodeProvider   = (*providers.Geocoder)(nil)
	_ ElevationProvider = (*providers.OpenMeteoClient)(nil)
)

// =============================================================================
// LocationsService
// =============================================================================

// AddLocationResult is the outcome of a coordinate submission: exactly
// one of Created or Duplicate is set.
type AddLocationResult struct {
	Created   *datatypes.CreatedLocation
	Duplicate *datatypes.DuplicateLocation
}

// LocationsService manages the location catalog: listing, text and
// geospatial search, reverse-geocoded lookup with optional autocreate,
// and community submissions with dedup.
type LocationsService struct {
	store      LocationsStore
	geocoder   GeocodeProvider
	elevations ElevationProvider
	logger     *logging.Logger
}

// NewLocationsService creates a LocationsService.
//
// Parameters:
//   - st: persistence gateway. Must not be nil.
//   - geocoder: Nominatim reverse + Open-Meteo forward geocoding.
//     Must not be nil.
//   - elevations: elevation fallback source. Must not be nil.
//   - logger: nil falls back to the package default.
func NewLocationsService(
	st LocationsStore,
	geocoder GeocodeProvider,
	elevations ElevationProvider,
	logger *logging.Logger,
) *LocationsService {
	if logger == nil {
		logger = logging.Default()
	}
	return &LocationsService{
		store:      st,
		geocoder:   geocoder,
		elevations: elevations,
		logger:     logger,
	}
}

// =============================================================================
// Listing
// =============================================================================

// BySlug returns one location, or ErrUnknownLocation.
func (s *LocationsService) BySlug(ctx context.Context, slug string) (*datatypes.Location, error) {
	loc, err := s.store.LocationBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownLocation
	}
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// All returns every location sorted by name.
func (s *LocationsService) All(ctx context.Context) ([]datatypes.Location, error) {
	return s.store.AllLocations(ctx)
}

// ByTag returns the locations carrying a tag, sorted by name.
func (s *LocationsService) ByTag(ctx context.Context, tag string) ([]datatypes.Location, error) {
	return s.store.LocationsByTag(ctx, tag, 0)
}

// Tags returns tag usage counts across the catalog.
func (s *LocationsService) Tags(ctx context.Context) (map[string]int, error) {
	return s.store.TagCounts(ctx)
}

// Stats returns the catalog totals.
func (s *LocationsService) Stats(ctx context.Context) (*datatypes.LocationStats, error) {
	return s.store.LocationStats(ctx)
}

// =============================================================================
// Search
// =============================================================================

// SearchNear returns up to limit locations within 100 km of a point,
// nearest first. Limit is clamped to 50.
func (s *LocationsService) SearchNear(ctx context.Context, lat, lon float64, limit int64) ([]datatypes.Location, error) {
	ctx, span := tracer.Start(ctx, "LocationsService.SearchNear")
	defer span.End()

	locs, err := s.store.LocationsNear(ctx, lat, lon, searchNearMaxKM*1000, clampSearchLimit(limit))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if locs == nil {
		locs = []datatypes.Location{}
	}
	return locs, nil
}

// SearchText runs the text search path: $text scoring when q is set,
// tag filter otherwise, both combined when both are given. The query is
// clipped to 200 chars and the limit clamped to 50. Total is the exact
// filter count on the first page, the page length on deeper ones.
func (s *LocationsService) SearchText(ctx context.Context, q, tag string, skip, limit int64) ([]datatypes.Location, int64, error) {
	ctx, span := tracer.Start(ctx, "LocationsService.SearchText")
	defer span.End()

	q = truncate(strings.TrimSpace(q), maxSearchQueryLen)
	if q == "" && tag == "" {
		return nil, 0, ErrEmptyQuery
	}
	if skip < 0 {
		skip = 0
	}
	span.SetAttributes(attribute.String("search.q", q), attribute.String("search.tag", tag))

	locs, total, err := s.store.SearchLocations(ctx, q, tag, skip, clampSearchLimit(limit))
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}
	if locs == nil {
		locs = []datatypes.Location{}
	}
	return locs, total, nil
}

func clampSearchLimit(limit int64) int64 {
	if limit <= 0 {
		return 20
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// =============================================================================
// Geo Lookup
// =============================================================================

// GeoLookup resolves a coordinate to the location a client should land
// on.
//
// # Description
//
// The flow is:
//  1. Reverse-geocode the point, best-effort; the result supplies the
//     country used for match preference and, later, for autocreate.
//  2. Load up to five known locations within 50 km. Prefer one in the
//     geocoded country, else the nearest; an empty set retries with the
//     distance cap removed. Any hit answers with isNew false.
//  3. No known location at all: the point must sit in a supported
//     region (ErrOutsideRegions).
//  4. Without autoCreate that is ErrNoNearbyLocation. With it, the
//     geocode result becomes a new catalog entry (ErrGeocodeFailed when
//     step 1 found nothing): dedup radius 5 km inside Zimbabwe / 10 km
//     elsewhere, elevation from the geocoder else the elevation API,
//     collision-suffixed slug, country and province upserts, source
//     "geolocation".
func (s *LocationsService) GeoLookup(ctx context.Context, lat, lon float64, autoCreate bool) (*datatypes.GeoLookupResponse, error) {
	ctx, span := tracer.Start(ctx, "LocationsService.GeoLookup")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("geo.lat", lat),
		attribute.Float64("geo.lon", lon),
		attribute.Bool("geo.auto_create", autoCreate),
	)

	// Step 1: Reverse geocode, best-effort
	geocoded, err := s.geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		s.logger.Warn("reverse geocode failed", "lat", lat, "lon", lon, "error", err)
		geocoded = nil
	}

	// Step 2: Nearby candidates with country preference
	if nearest := s.pickNearest(ctx, lat, lon, geocoded); nearest != nil {
		return &datatypes.GeoLookupResponse{
			Nearest:    nearest,
			RedirectTo: "/" + nearest.Slug,
			IsNew:      false,
		}, nil
	}

	// Step 3: Supported-region gate
	if !s.InSupportedRegion(ctx, lat, lon) {
		span.SetStatus(codes.Error, "outside supported regions")
		return nil, ErrOutsideRegions
	}

	// Step 4: Autocreate
	if !autoCreate {
		return nil, ErrNoNearbyLocation
	}
	if geocoded == nil {
		return nil, ErrGeocodeFailed
	}

	if dup := s.findDuplicate(ctx, lat, lon, geocoded.Country); dup != nil {
		return &datatypes.GeoLookupResponse{
			Nearest:    dup,
			RedirectTo: "/" + dup.Slug,
			IsNew:      false,
		}, nil
	}

	loc, err := s.createLocation(ctx, geocoded, lat, lon, "geolocation")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("geo.created_slug", loc.Slug))
	return &datatypes.GeoLookupResponse{
		Nearest:    loc,
		RedirectTo: "/" + loc.Slug,
		IsNew:      true,
	}, nil
}

// pickNearest applies the country preference over the capped candidate
// set, then falls back to an uncapped nearest probe. Store errors read
// as "no candidates"; the caller decides what an empty answer means.
func (s *LocationsService) pickNearest(ctx context.Context, lat, lon float64, geocoded *datatypes.Geocoded) *datatypes.Location {
	candidates, err := s.store.LocationsNear(ctx, lat, lon, countryPreferenceMaxKM*1000, geoCandidateLimit)
	if err != nil {
		s.logger.Warn("nearby lookup failed", "lat", lat, "lon", lon, "error", err)
		candidates = nil
	}

	if len(candidates) > 0 {
		if geocoded != nil && geocoded.Country != "" {
			want := strings.ToUpper(geocoded.Country)
			for i := range candidates {
				if strings.ToUpper(candidates[i].CountryOrDefault()) == want {
					return &candidates[i]
				}
			}
		}
		return &candidates[0]
	}

	nearest, err := s.store.NearestLocation(ctx, lat, lon, 0)
	if err != nil {
		return nil
	}
	return nearest
}

// =============================================================================
// Community Submissions
// =============================================================================

// Candidates forward-geocodes a free-text query and keeps the results
// inside supported regions. A miss is an empty slice.
func (s *LocationsService) Candidates(ctx context.Context, query string) ([]datatypes.Geocoded, error) {
	ctx, span := tracer.Start(ctx, "LocationsService.Candidates")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	span.SetAttributes(attribute.String("geo.query", truncate(query, 80)))

	results, err := s.geocoder.Forward(ctx, query, forwardGeocodeCount)
	if err != nil {
		s.logger.Warn("forward geocode failed", "error", err)
		results = nil
	}

	supported := make([]datatypes.Geocoded, 0, len(results))
	for _, r := range results {
		if s.InSupportedRegion(ctx, r.Lat, r.Lon) {
			supported = append(supported, r)
		}
	}
	return supported, nil
}

// CreateFromCoordinates turns a raw coordinate submission into a
// catalog entry with source "community". The handler has already
// validated ranges, checked the region, and spent the rate budget.
//
// Returns ErrGeocodeFailed when the point cannot be named; a nearby
// existing location comes back as Duplicate instead of an error.
func (s *LocationsService) CreateFromCoordinates(ctx context.Context, lat, lon float64) (*AddLocationResult, error) {
	ctx, span := tracer.Start(ctx, "LocationsService.CreateFromCoordinates")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("geo.lat", lat),
		attribute.Float64("geo.lon", lon),
	)

	geocoded, err := s.geocoder.Reverse(ctx, lat, lon)
	if err != nil || geocoded == nil {
		span.SetStatus(codes.Error, "geocode failed")
		return nil, ErrGeocodeFailed
	}

	if dup := s.findDuplicate(ctx, lat, lon, geocoded.Country); dup != nil {
		return &AddLocationResult{Duplicate: &datatypes.DuplicateLocation{
			Slug:     dup.Slug,
			Name:     dup.Name,
			Province: dup.Province,
			Country:  dup.CountryOrDefault(),
		}}, nil
	}

	loc, err := s.createLocation(ctx, geocoded, lat, lon, "community")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("geo.created_slug", loc.Slug))
	return &AddLocationResult{Created: &datatypes.CreatedLocation{
		Slug:      loc.Slug,
		Name:      loc.Name,
		Province:  loc.Province,
		Country:   loc.Country,
		Lat:       loc.Lat,
		Lon:       loc.Lon,
		Elevation: loc.Elevation,
	}}, nil
}

// InSupportedRegion reports whether a point is inside an active region
// (bounds padded by one degree). When the regions collection cannot
// answer, the static Africa and ASEAN boxes decide.
func (s *LocationsService) InSupportedRegion(ctx context.Context, lat, lon float64) bool {
	ok, err := s.store.RegionContains(ctx, lat, lon)
	if err == nil {
		return ok
	}
	if -23 <= lat && lat <= 38 && -18 <= lon && lon <= 52 {
		return true // Africa
	}
	if -11 <= lat && lat <= 28 && 92 <= lon && lon <= 142 {
		return true // ASEAN
	}
	return false
}

// findDuplicate probes for an existing location within the dedup
// radius: 5 km inside Zimbabwe, where the catalog is dense, 10 km
// elsewhere. Probe failures read as "no duplicate".
func (s *LocationsService) findDuplicate(ctx context.Context, lat, lon float64, country string) *datatypes.Location {
	radiusKM := int64(dedupRadiusDefaultKM)
	if strings.EqualFold(country, "ZW") {
		radiusKM = dedupRadiusZWKM
	}
	dup, err := s.store.NearestLocation(ctx, lat, lon, radiusKM*1000)
	if err != nil {
		return nil
	}
	return dup
}

// createLocation stores a geocoded point as a new catalog entry:
// elevation fallback, collision-suffixed slug, country and province
// upserts, then the insert.
func (s *LocationsService) createLocation(ctx context.Context, geocoded *datatypes.Geocoded, lat, lon float64, source string) (*datatypes.Location, error) {
	elevation := geocoded.Elevation
	if elevation == 0 {
		elevation = s.elevations.Elevation(ctx, lat, lon)
	}

	slug, err := s.resolveSlug(ctx, geocoded.Name, geocoded.Country)
	if err != nil {
		return nil, err
	}

	province := geocoded.Admin1
	if province == "" {
		province = geocoded.CountryName
	}
	provinceSlug := generateProvinceSlug(province, geocoded.Country)

	// Reference rows first: a location pointing at an unseen country or
	// province would leave the catalog filters blind to it.
	if err := s.store.UpsertCountry(ctx, datatypes.Country{
		Code:      geocoded.Country,
		Name:      geocoded.CountryName,
		Region:    "Unknown",
		Supported: true,
	}); err != nil {
		s.logger.Warn("country upsert failed", "code", geocoded.Country, "error", err)
	}
	if err := s.store.UpsertProvince(ctx, datatypes.Province{
		Slug:        provinceSlug,
		Name:        province,
		CountryCode: geocoded.Country,
	}); err != nil {
		s.logger.Warn("province upsert failed", "slug", provinceSlug, "error", err)
	}

	geo := datatypes.NewGeoPoint(geocoded.Lat, geocoded.Lon)
	loc := &datatypes.Location{
		Slug:         slug,
		Name:         geocoded.Name,
		Province:     province,
		Country:      geocoded.Country,
		Lat:          geocoded.Lat,
		Lon:          geocoded.Lon,
		Elevation:    elevation,
		Tags:         inferTags(geocoded),
		Source:       source,
		ProvinceSlug: provinceSlug,
		Geo:          &geo,
	}
	if err := s.store.InsertLocation(ctx, loc); err != nil {
		return nil, err
	}
	return loc, nil
}

// resolveSlug derives the base slug and walks collision suffixes -2,
// -3, … until a free one turns up. Two concurrent creates of the same
// name can still race past each other; the unique index turns the loser
// into an insert error.
func (s *LocationsService) resolveSlug(ctx context.Context, name, country string) (string, error) {
	slug := generateSlug(name, country)
	taken, err := s.store.SlugExists(ctx, slug)
	if err != nil {
		return "", err
	}
	if !taken {
		return slug, nil
	}
	for suffix := 2; ; suffix++ {
		candidate := fmt.Sprintf("%s-%d", slug, suffix)
		taken, err := s.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// generateSlug builds the catalog slug for a named place: ASCII-folded
// kebab case, a country suffix for everywhere outside Zimbabwe, capped
// at the slug length limit.
func generateSlug(name, country string) string {
	slug := validation.Slugify(name)
	if country != "" && !strings.EqualFold(country, "ZW") {
		slug = slug + "-" + strings.ToLower(country)
	}
	return truncate(slug, validation.MaxSlugLen)
}

// generateProvinceSlug always carries the country suffix: province
// names collide across borders far more than city names do.
func generateProvinceSlug(province, country string) string {
	slug := validation.Slugify(province) + "-" + strings.ToLower(country)
	return truncate(slug, validation.MaxSlugLen)
}

// inferTags derives catalog tags from the geocode result. The scheme
// only distinguishes urban naming for now; everything defaults to
// "city" so tag filters never see an untagged location.
func inferTags(geocoded *datatypes.Geocoded) []string {
	name := strings.ToLower(geocoded.Name)
	for _, word := range []string{"city", "town", "urban"} {
		if strings.Contains(name, word) {
			return []string{"city"}
		}
	}
	return []string{"city"}
}
