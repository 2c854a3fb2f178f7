// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// GeoPoint is a GeoJSON point. Coordinates are [lon, lat] per the
// GeoJSON convention, which is what 2dsphere queries expect.
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// NewGeoPoint builds the geo field for a location at (lat, lon).
func NewGeoPoint(lat, lon float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Location is a named place the service knows about. Slugs are unique
// and match ^[a-z0-9-]{1,80}$.
type Location struct {
	Slug         string    `json:"slug" bson:"slug"`
	Name         string    `json:"name" bson:"name"`
	Province     string    `json:"province,omitempty" bson:"province,omitempty"`
	Country      string    `json:"country,omitempty" bson:"country,omitempty"`
	Lat          float64   `json:"lat" bson:"lat"`
	Lon          float64   `json:"lon" bson:"lon"`
	Elevation    int       `json:"elevation,omitempty" bson:"elevation,omitempty"`
	Tags         []string  `json:"tags,omitempty" bson:"tags,omitempty"`
	Source       string    `json:"source,omitempty" bson:"source,omitempty"`
	ProvinceSlug string    `json:"provinceSlug,omitempty" bson:"provinceSlug,omitempty"`
	Geo          *GeoPoint `json:"geo,omitempty" bson:"geo,omitempty"`
}

// CountryOrDefault returns the 2-letter country code, defaulting to ZW.
func (l *Location) CountryOrDefault() string {
	if l == nil || l.Country == "" {
		return "ZW"
	}
	return l.Country
}

// Country is an upserted countries document.
type Country struct {
	Code      string `json:"code" bson:"code"`
	Name      string `json:"name" bson:"name"`
	Region    string `json:"region" bson:"region"`
	Supported bool   `json:"supported" bson:"supported"`
}

// Province is an upserted provinces document.
type Province struct {
	Slug        string `json:"slug" bson:"slug"`
	Name        string `json:"name" bson:"name"`
	CountryCode string `json:"countryCode" bson:"countryCode"`
}

// Region is an active service area with a bounding box.
type Region struct {
	Name   string       `json:"name,omitempty" bson:"name,omitempty"`
	Active bool         `json:"active" bson:"active"`
	Bounds RegionBounds `json:"bounds" bson:"bounds"`
}

// RegionBounds is a lat/lon box.
type RegionBounds struct {
	North float64 `json:"north" bson:"north"`
	South float64 `json:"south" bson:"south"`
	East  float64 `json:"east" bson:"east"`
	West  float64 `json:"west" bson:"west"`
}

// Geocoded is a single geocoder result, shared by the reverse
// (Nominatim) and forward (Open-Meteo) paths.
type Geocoded struct {
	Name        string  `json:"name"`
	Country     string  `json:"country"`
	CountryName string  `json:"countryName"`
	Admin1      string  `json:"admin1"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Elevation   int     `json:"elevation"`
}

// LocationStats is the ?mode=stats aggregate.
type LocationStats struct {
	TotalLocations int `json:"totalLocations"`
	TotalProvinces int `json:"totalProvinces"`
	TotalCountries int `json:"totalCountries"`
}

// GeoLookupResponse is returned by GET /geo.
type GeoLookupResponse struct {
	Nearest    *Location `json:"nearest"`
	RedirectTo string    `json:"redirectTo"`
	IsNew      bool      `json:"isNew"`
}

// AddLocationRequest covers both modes of POST /locations/add: a
// search query, or raw coordinates.
type AddLocationRequest struct {
	Query string   `json:"query,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`
}

// CreatedLocation is the trimmed location echoed after a create.
type CreatedLocation struct {
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	Province  string  `json:"province"`
	Country   string  `json:"country"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Elevation int     `json:"elevation"`
}

// DuplicateLocation is the trimmed existing location returned when a
// submission lands inside another location's dedup radius.
type DuplicateLocation struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Province string `json:"province"`
	Country  string `json:"country"`
}
