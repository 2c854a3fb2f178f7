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
// This file contains activity suitability rules. Rules are keyed
// "activity:{id}" or "category:{id}"; an activity-specific rule wins
// over its category rule. Conditions are evaluated first-match against
// weather insight metrics.
package datatypes

import "regexp"

// RuleKeyPattern validates suitability rule keys.
var RuleKeyPattern = regexp.MustCompile(`^(activity|category):[a-z0-9-]+$`)

// RuleCondition is one threshold check. Field names a WeatherInsights
// metric; Operator is one of gt, gte, lt, lte, eq, defaulting to gt.
// MetricTemplate formats the matched value for display, with {value}
// replaced by the reading rounded to one decimal.
type RuleCondition struct {
	Field          string  `json:"field" bson:"field"`
	Operator       string  `json:"operator,omitempty" bson:"operator,omitempty"`
	Value          float64 `json:"value" bson:"value"`
	Level          string  `json:"level,omitempty" bson:"level,omitempty"`
	Label          string  `json:"label,omitempty" bson:"label,omitempty"`
	Detail         string  `json:"detail,omitempty" bson:"detail,omitempty"`
	MetricTemplate string  `json:"metricTemplate,omitempty" bson:"metricTemplate,omitempty"`
}

// Matches evaluates the condition against a metric reading.
func (c *RuleCondition) Matches(value float64) bool {
	switch c.Operator {
	case "gte":
		return value >= c.Value
	case "lt":
		return value < c.Value
	case "lte":
		return value <= c.Value
	case "eq":
		return value == c.Value
	default:
		return value > c.Value
	}
}

// RuleFallback is the rating applied when no condition matches.
type RuleFallback struct {
	Level  string `json:"level,omitempty" bson:"level,omitempty"`
	Label  string `json:"label,omitempty" bson:"label,omitempty"`
	Detail string `json:"detail,omitempty" bson:"detail,omitempty"`
}

// SuitabilityRule is a suitability_rules document.
type SuitabilityRule struct {
	Key        string          `json:"key" bson:"key"`
	Conditions []RuleCondition `json:"conditions,omitempty" bson:"conditions,omitempty"`
	Fallback   *RuleFallback   `json:"fallback,omitempty" bson:"fallback,omitempty"`
}

// ActivityRating is one evaluated activity. Activity carries the
// display label; Error replaces the rating for unknown activity IDs.
type ActivityRating struct {
	Activity string `json:"activity"`
	Level    string `json:"level,omitempty"`
	Label    string `json:"label,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Metric   string `json:"metric,omitempty"`
	Error    string `json:"error,omitempty"`
}
