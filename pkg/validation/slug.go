// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries, URL paths, or upstream provider calls. Using these validators
// prevents injection attacks (NoSQL operator injection, path traversal) and keeps
// document keys canonical.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLen is the maximum length of a location slug.
// Slugs longer than this are truncated at generation time and
// rejected at validation time.
const MaxSlugLen = 80

// slugPattern matches valid location and tag slugs.
// Allows: lowercase letters, digits, hyphens.
// Max length: MaxSlugLen characters.
var slugPattern = regexp.MustCompile(`^[a-z0-9-]{1,80}$`)

// ruleKeyPattern matches suitability rule keys of the form
// "activity:<slug>" or "category:<slug>".
var ruleKeyPattern = regexp.MustCompile(`^(activity|category):[a-z0-9-]+$`)

// asciiFold decomposes accented characters and strips the combining
// marks, leaving plain ASCII where possible ("Chivhu" from "Chivhú").
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// tileTimestampPattern matches the only two timestamp forms the map
// tile proxy forwards upstream: the literal "now" or a second-precision
// UTC instant. Anything else could smuggle path segments into the
// pinned tile URL.
var tileTimestampPattern = regexp.MustCompile(`^(now|\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z)$`)

// ValidateSlug validates a location slug before it is used as a
// document key or query filter.
//
// Valid slugs:
//   - 1-80 characters
//   - Lowercase letters a-z
//   - Digits 0-9
//   - Hyphens (-) as separators
//
// Returns an error if the slug is invalid.
//
// Example:
//
//	if err := validation.ValidateSlug(slug); err != nil {
//	    return nil, fmt.Errorf("invalid slug: %w", err)
//	}
//	// Safe to use as a Mongo filter value
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("slug cannot be empty")
	}

	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("invalid slug format: %q (must be 1-80 lowercase alphanumeric chars or hyphens)", slug)
	}

	return nil
}

// ValidateSlugs validates multiple slugs.
// Returns an error listing all invalid slugs if any fail validation.
func ValidateSlugs(slugs []string) error {
	var invalid []string
	for _, s := range slugs {
		if err := ValidateSlug(s); err != nil {
			invalid = append(invalid, s)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid slugs: %v", invalid)
	}
	return nil
}

// SanitizeSlug normalizes and validates a slug.
// Returns the lowercase slug if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeSlug, err := validation.SanitizeSlug(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeSlug is lowercase and validated
func SanitizeSlug(slug string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(slug))
	if err := ValidateSlug(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateTag validates an activity or location tag.
// Tags share the slug character set and length limits.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}
	if !slugPattern.MatchString(tag) {
		return fmt.Errorf("invalid tag format: %q", tag)
	}
	return nil
}

// ValidateRuleKey validates a suitability rule key.
//
// Valid keys are "activity:<slug>" or "category:<slug>", matching
// the _id values stored in the suitability rules collection.
func ValidateRuleKey(key string) error {
	if key == "" {
		return fmt.Errorf("rule key cannot be empty")
	}
	if !ruleKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid rule key format: %q (must be activity:<slug> or category:<slug>)", key)
	}
	return nil
}

// ValidateTileTimestamp validates the timestamp query of the map tile
// proxy before it is interpolated into the upstream URL.
//
// Valid values are "now" or an ISO-8601 UTC instant such as
// "2025-01-15T12:00:00Z". Returns an error otherwise.
func ValidateTileTimestamp(ts string) error {
	if ts == "" {
		return fmt.Errorf("timestamp cannot be empty")
	}
	if !tileTimestampPattern.MatchString(ts) {
		return fmt.Errorf("invalid timestamp format: %q (must be now or YYYY-MM-DDTHH:MM:SSZ)", ts)
	}
	return nil
}

// Slugify converts a display name into a canonical slug.
//
// Accents are folded to ASCII, the result is lowercased, and runs of
// non-alphanumeric characters collapse to single hyphens. The output
// is truncated to MaxSlugLen and never starts or ends with a hyphen.
//
// Slugify does not apply country suffixes or collision counters; the
// locations service layers those on top.
//
// Example:
//
//	validation.Slugify("Chivhú Town")  // "chivhu-town"
func Slugify(name string) string {
	folded, _, err := transform.String(asciiFold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	lastDash := true // suppress leading hyphens
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > MaxSlugLen {
		slug = strings.Trim(slug[:MaxSlugLen], "-")
	}
	return slug
}
