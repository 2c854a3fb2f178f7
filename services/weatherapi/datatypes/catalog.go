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
// This file contains the content catalog types: activities users can
// select, their categories, and location tags.
package datatypes

// Activity is an activities document, e.g. {running, Running, sports}.
type Activity struct {
	ID       string `json:"id" bson:"id"`
	Label    string `json:"label" bson:"label"`
	Category string `json:"category,omitempty" bson:"category,omitempty"`
}

// CategoryOrDefault returns the category, defaulting to "casual" for
// suitability rule lookups.
func (a *Activity) CategoryOrDefault() string {
	if a == nil || a.Category == "" {
		return "casual"
	}
	return a.Category
}

// ActivityCategory is an activity_categories document.
type ActivityCategory struct {
	ID    string `json:"id" bson:"id"`
	Label string `json:"label" bson:"label"`
}

// Tag is a tags document. Featured tags surface in the explore UI.
type Tag struct {
	Slug     string `json:"slug" bson:"slug"`
	Label    string `json:"label" bson:"label"`
	Featured bool   `json:"featured" bson:"featured"`
}
