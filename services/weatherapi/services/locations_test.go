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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeLocationsStore struct {
	bySlug    map[string]*datatypes.Location
	near      []datatypes.Location
	nearest   *datatypes.Location
	inRegion  bool
	regionErr error
	taken     map[string]bool

	inserted   *datatypes.Location
	countries  []datatypes.Country
	provinces  []datatypes.Province
	searchQ    string
	searchTag  string
	searchSkip int64
	searchLim  int64
	nearMax    int64
	nearestMax int64
}

func (f *fakeLocationsStore) LocationBySlug(_ context.Context, slug string) (*datatypes.Location, error) {
	loc, ok := f.bySlug[slug]
	if !ok {
		return nil, store.ErrNotFound
	}
	return loc, nil
}

func (f *fakeLocationsStore) AllLocations(context.Context) ([]datatypes.Location, error) {
	return f.near, nil
}

func (f *fakeLocationsStore) LocationsByTag(context.Context, string, int64) ([]datatypes.Location, error) {
	return f.near, nil
}

func (f *fakeLocationsStore) TagCounts(context.Context) (map[string]int, error) {
	return map[string]int{"city": len(f.near)}, nil
}

func (f *fakeLocationsStore) LocationStats(context.Context) (*datatypes.LocationStats, error) {
	return &datatypes.LocationStats{TotalLocations: len(f.near)}, nil
}

func (f *fakeLocationsStore) SearchLocations(_ context.Context, q, tag string, skip, limit int64) ([]datatypes.Location, int64, error) {
	f.searchQ, f.searchTag, f.searchSkip, f.searchLim = q, tag, skip, limit
	return f.near, int64(len(f.near)), nil
}

func (f *fakeLocationsStore) LocationsNear(_ context.Context, _, _ float64, maxMeters, _ int64) ([]datatypes.Location, error) {
	f.nearMax = maxMeters
	return f.near, nil
}

func (f *fakeLocationsStore) NearestLocation(_ context.Context, _, _ float64, maxMeters int64) (*datatypes.Location, error) {
	f.nearestMax = maxMeters
	if f.nearest == nil {
		return nil, store.ErrNotFound
	}
	return f.nearest, nil
}

func (f *fakeLocationsStore) SlugExists(_ context.Context, slug string) (bool, error) {
	return f.taken[slug], nil
}

func (f *fakeLocationsStore) InsertLocation(_ context.Context, loc *datatypes.Location) error {
	f.inserted = loc
	return nil
}

func (f *fakeLocationsStore) UpsertCountry(_ context.Context, c datatypes.Country) error {
	f.countries = append(f.countries, c)
	return nil
}

func (f *fakeLocationsStore) UpsertProvince(_ context.Context, p datatypes.Province) error {
	f.provinces = append(f.provinces, p)
	return nil
}

func (f *fakeLocationsStore) RegionContains(context.Context, float64, float64) (bool, error) {
	if f.regionErr != nil {
		return false, f.regionErr
	}
	return f.inRegion, nil
}

type fakeGeocoder struct {
	reverse    *datatypes.Geocoded
	reverseErr error
	forward    []datatypes.Geocoded
	forwardErr error
}

func (f *fakeGeocoder) Reverse(context.Context, float64, float64) (*datatypes.Geocoded, error) {
	if f.reverseErr != nil {
		return nil, f.reverseErr
	}
	return f.reverse, nil
}

func (f *fakeGeocoder) Forward(context.Context, string, int) ([]datatypes.Geocoded, error) {
	if f.forwardErr != nil {
		return nil, f.forwardErr
	}
	return f.forward, nil
}

type fakeElevations struct{ meters int }

func (f *fakeElevations) Elevation(context.Context, float64, float64) int { return f.meters }

func newLocations(st LocationsStore, geo GeocodeProvider, elev ElevationProvider) *LocationsService {
	if geo == nil {
		geo = &fakeGeocoder{}
	}
	if elev == nil {
		elev = &fakeElevations{}
	}
	return NewLocationsService(st, geo, elev, nil)
}

func chivhuGeocode() *datatypes.Geocoded {
	return &datatypes.Geocoded{
		Name:        "Chivhu",
		Country:     "ZW",
		CountryName: "Zimbabwe",
		Admin1:      "Mashonaland East",
		Lat:         -19.02,
		Lon:         30.89,
	}
}

// =============================================================================
// Listing and Search Tests
// =============================================================================

func TestLocationsBySlug(t *testing.T) {
	st := &fakeLocationsStore{bySlug: map[string]*datatypes.Location{
		"harare": {Slug: "harare", Name: "Harare"},
	}}
	svc := newLocations(st, nil, nil)

	loc, err := svc.BySlug(context.Background(), "  Harare ")
	require.NoError(t, err)
	assert.Equal(t, "harare", loc.Slug)

	_, err = svc.BySlug(context.Background(), "atlantis")
	assert.ErrorIs(t, err, ErrUnknownLocation)
}

func TestLocationsSearchText(t *testing.T) {
	st := &fakeLocationsStore{near: []datatypes.Location{{Slug: "harare"}}}
	svc := newLocations(st, nil, nil)

	_, _, err := svc.SearchText(context.Background(), "  ", "", 0, 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	locs, total, err := svc.SearchText(context.Background(), strings.Repeat("a", 300), "city", -5, 500)
	require.NoError(t, err)
	assert.Len(t, locs, 1)
	assert.Equal(t, int64(1), total)
	// Query clipped, skip floored, limit clamped.
	assert.Len(t, st.searchQ, maxSearchQueryLen)
	assert.Equal(t, int64(0), st.searchSkip)
	assert.Equal(t, int64(maxSearchLimit), st.searchLim)
}

func TestLocationsSearchNear(t *testing.T) {
	st := &fakeLocationsStore{}
	svc := newLocations(st, nil, nil)

	locs, err := svc.SearchNear(context.Background(), -17.83, 31.05, 0)
	require.NoError(t, err)
	assert.NotNil(t, locs)
	assert.Empty(t, locs)
	assert.Equal(t, int64(searchNearMaxKM*1000), st.nearMax)
}

// =============================================================================
// Geo Lookup Tests
// =============================================================================

func TestGeoLookup_PrefersGeocodedCountry(t *testing.T) {
	st := &fakeLocationsStore{near: []datatypes.Location{
		{Slug: "musina-za", Name: "Musina", Country: "ZA"},
		{Slug: "beitbridge", Name: "Beitbridge", Country: "ZW"},
	}}
	geo := &fakeGeocoder{reverse: &datatypes.Geocoded{Name: "Beitbridge", Country: "ZW"}}
	svc := newLocations(st, geo, nil)

	resp, err := svc.GeoLookup(context.Background(), -22.21, 30.00, false)
	require.NoError(t, err)
	assert.Equal(t, "beitbridge", resp.Nearest.Slug)
	assert.Equal(t, "/beitbridge", resp.RedirectTo)
	assert.False(t, resp.IsNew)
}

func TestGeoLookup_FallsBackToNearestCandidate(t *testing.T) {
	st := &fakeLocationsStore{near: []datatypes.Location{
		{Slug: "musina-za", Name: "Musina", Country: "ZA"},
	}}
	geo := &fakeGeocoder{reverse: &datatypes.Geocoded{Name: "Somewhere", Country: "BW"}}
	svc := newLocations(st, geo, nil)

	resp, err := svc.GeoLookup(context.Background(), -22.3, 29.9, false)
	require.NoError(t, err)
	assert.Equal(t, "musina-za", resp.Nearest.Slug)
}

func TestGeoLookup_UncappedNearestProbe(t *testing.T) {
	st := &fakeLocationsStore{nearest: &datatypes.Location{Slug: "hwange", Name: "Hwange"}}
	svc := newLocations(st, &fakeGeocoder{}, nil)

	resp, err := svc.GeoLookup(context.Background(), -18.4, 26.5, false)
	require.NoError(t, err)
	assert.Equal(t, "hwange", resp.Nearest.Slug)
	assert.Equal(t, int64(0), st.nearestMax)
}

func TestGeoLookup_OutsideRegions(t *testing.T) {
	st := &fakeLocationsStore{inRegion: false}
	svc := newLocations(st, &fakeGeocoder{}, nil)

	_, err := svc.GeoLookup(context.Background(), 48.85, 2.35, true)
	assert.ErrorIs(t, err, ErrOutsideRegions)
}

func TestGeoLookup_NoNearbyWithoutAutocreate(t *testing.T) {
	st := &fakeLocationsStore{inRegion: true}
	svc := newLocations(st, &fakeGeocoder{reverse: chivhuGeocode()}, nil)

	_, err := svc.GeoLookup(context.Background(), -19.02, 30.89, false)
	assert.ErrorIs(t, err, ErrNoNearbyLocation)
}

func TestGeoLookup_AutocreateNeedsGeocode(t *testing.T) {
	st := &fakeLocationsStore{inRegion: true}
	svc := newLocations(st, &fakeGeocoder{reverseErr: errors.New("nominatim down")}, nil)

	_, err := svc.GeoLookup(context.Background(), -19.02, 30.89, true)
	assert.ErrorIs(t, err, ErrGeocodeFailed)
}

func TestGeoLookup_AutocreateInsertsLocation(t *testing.T) {
	st := &fakeLocationsStore{inRegion: true}
	svc := newLocations(st, &fakeGeocoder{reverse: chivhuGeocode()}, &fakeElevations{meters: 1420})

	resp, err := svc.GeoLookup(context.Background(), -19.02, 30.89, true)
	require.NoError(t, err)
	assert.True(t, resp.IsNew)
	assert.Equal(t, "/chivhu", resp.RedirectTo)

	loc := st.inserted
	require.NotNil(t, loc)
	assert.Equal(t, "chivhu", loc.Slug)
	assert.Equal(t, "Mashonaland East", loc.Province)
	assert.Equal(t, "mashonaland-east-zw", loc.ProvinceSlug)
	assert.Equal(t, 1420, loc.Elevation, "geocoder had no elevation, so the elevation API fills in")
	assert.Equal(t, "geolocation", loc.Source)
	require.NotNil(t, loc.Geo)

	// Country and province reference rows land before the insert.
	require.Len(t, st.countries, 1)
	assert.Equal(t, "ZW", st.countries[0].Code)
	require.Len(t, st.provinces, 1)
	assert.Equal(t, "mashonaland-east-zw", st.provinces[0].Slug)
}

// =============================================================================
// Community Submission Tests
// =============================================================================

func TestCandidates_FiltersUnsupportedRegions(t *testing.T) {
	st := &fakeLocationsStore{regionErr: errors.New("regions collection down")}
	geo := &fakeGeocoder{forward: []datatypes.Geocoded{
		{Name: "Chegutu", Country: "ZW", Lat: -18.13, Lon: 30.14},
		{Name: "Paris", Country: "FR", Lat: 48.85, Lon: 2.35},
	}}
	svc := newLocations(st, geo, nil)

	// The static Africa box keeps Chegutu and drops Paris.
	out, err := svc.Candidates(context.Background(), "che")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Chegutu", out[0].Name)

	_, err = svc.Candidates(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestCreateFromCoordinates_DedupReturnsDuplicate(t *testing.T) {
	st := &fakeLocationsStore{
		inRegion: true,
		nearest:  &datatypes.Location{Slug: "kadoma", Name: "Kadoma", Province: "Mashonaland West"},
	}
	svc := newLocations(st, &fakeGeocoder{reverse: chivhuGeocode()}, nil)

	result, err := svc.CreateFromCoordinates(context.Background(), -18.33, 29.92)
	require.NoError(t, err)
	require.NotNil(t, result.Duplicate)
	assert.Nil(t, result.Created)
	assert.Equal(t, "kadoma", result.Duplicate.Slug)
	assert.Equal(t, "ZW", result.Duplicate.Country)
	// Inside Zimbabwe the dedup radius tightens to 5 km.
	assert.Equal(t, int64(dedupRadiusZWKM*1000), st.nearestMax)
}

func TestCreateFromCoordinates_CreatesCommunityEntry(t *testing.T) {
	st := &fakeLocationsStore{inRegion: true}
	geo := &fakeGeocoder{reverse: &datatypes.Geocoded{
		Name: "Kasane", Country: "BW", CountryName: "Botswana",
		Lat: -17.82, Lon: 25.15, Elevation: 960,
	}}
	svc := newLocations(st, geo, nil)

	result, err := svc.CreateFromCoordinates(context.Background(), -17.82, 25.15)
	require.NoError(t, err)
	require.NotNil(t, result.Created)
	// Outside Zimbabwe the slug carries the country suffix.
	assert.Equal(t, "kasane-bw", result.Created.Slug)
	assert.Equal(t, 960, result.Created.Elevation)
	assert.Equal(t, "community", st.inserted.Source)
	// Outside Zimbabwe the dedup radius is 10 km.
	assert.Equal(t, int64(dedupRadiusDefaultKM*1000), st.nearestMax)
}

func TestCreateFromCoordinates_GeocodeFailure(t *testing.T) {
	svc := newLocations(&fakeLocationsStore{}, &fakeGeocoder{}, nil)

	_, err := svc.CreateFromCoordinates(context.Background(), -19.0, 30.0)
	assert.ErrorIs(t, err, ErrGeocodeFailed)
}

// =============================================================================
// Slug Generation Tests
// =============================================================================

func TestResolveSlug_CollisionSuffix(t *testing.T) {
	st := &fakeLocationsStore{taken: map[string]bool{"chivhu": true, "chivhu-2": true}}
	svc := newLocations(st, nil, nil)

	slug, err := svc.resolveSlug(context.Background(), "Chivhu", "ZW")
	require.NoError(t, err)
	assert.Equal(t, "chivhu-3", slug)
}

func TestGenerateSlug(t *testing.T) {
	assert.Equal(t, "victoria-falls", generateSlug("Victoria Falls", "ZW"))
	assert.Equal(t, "victoria-falls", generateSlug("Victoria Falls", "zw"))
	assert.Equal(t, "livingstone-zm", generateSlug("Livingstone", "ZM"))
	assert.Equal(t, "chivhu", generateSlug("Chivhú", "ZW"))
}

func TestInSupportedRegion_StaticFallback(t *testing.T) {
	st := &fakeLocationsStore{regionErr: errors.New("regions collection down")}
	svc := newLocations(st, nil, nil)

	assert.True(t, svc.InSupportedRegion(context.Background(), -17.83, 31.05), "Harare via the Africa box")
	assert.True(t, svc.InSupportedRegion(context.Background(), 13.75, 100.5), "Bangkok via the ASEAN box")
	assert.False(t, svc.InSupportedRegion(context.Background(), 48.85, 2.35), "Paris is out")
}
