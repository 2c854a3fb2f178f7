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
	"strings"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// maxRatedActivities caps the activities evaluated in one call. The
// chat tool passes user selections through unfiltered, so the cap
// bounds the rule fan-out.
const maxRatedActivities = 10

// SuitabilityStore is the catalog surface the evaluator reads.
type SuitabilityStore interface {
	ActivitiesByIDs(ctx context.Context, ids []string) ([]datatypes.Activity, error)
	SuitabilityRulesByKeys(ctx context.Context, keys []string) ([]datatypes.SuitabilityRule, error)
}

var _ SuitabilityStore = (*store.Store)(nil)

// RateActivities evaluates activity IDs against weather insights.
//
// # Description
//
// Rules resolve most-specific first: "activity:{id}" wins over
// "category:{category}"; an activity with neither gets a generic good
// rating. Within a rule, conditions evaluate first-match in document
// order; insight metrics the payload lacks are skipped, not treated as
// zero. When no condition matches, the rule's fallback applies, itself
// defaulting to a generic good.
//
// The server evaluates so the model cannot invent ratings; the chat
// tool hands back exactly what this returns.
//
// # Inputs
//
//   - ids: activity IDs, capped at maxRatedActivities. Unknown IDs
//     produce an error entry rather than dropping silently.
//   - insights: the metric source. Callers check for an empty insights
//     block before calling; this function assumes there is something
//     to evaluate.
//   - memo: per-request rule cache keyed by rule key. Found rules are
//     added; the same map is shared across tool calls in one request.
//     Must not be nil.
//
// # Outputs
//
// One rating per capped input ID, in input order. Store failures
// degrade to "Unknown activity" entries or generic ratings; no error
// is returned.
func RateActivities(ctx context.Context, st SuitabilityStore, ids []string, insights *datatypes.WeatherInsights, memo map[string]*datatypes.SuitabilityRule) []datatypes.ActivityRating {
	ctx, span := tracer.Start(ctx, "services.RateActivities")
	defer span.End()

	if len(ids) > maxRatedActivities {
		ids = ids[:maxRatedActivities]
	}

	// Step 1: Batch-fetch the activities in one $in query
	activities := make(map[string]datatypes.Activity, len(ids))
	if docs, err := st.ActivitiesByIDs(ctx, ids); err == nil {
		for _, doc := range docs {
			activities[doc.ID] = doc
		}
	}

	// Step 2: Batch-fetch rules the memo does not already hold
	var needed []string
	seen := make(map[string]bool)
	for _, id := range ids {
		act, ok := activities[id]
		if !ok {
			continue
		}
		for _, key := range []string{"activity:" + id, "category:" + act.CategoryOrDefault()} {
			if _, cached := memo[key]; !cached && !seen[key] {
				seen[key] = true
				needed = append(needed, key)
			}
		}
	}
	if len(needed) > 0 {
		if rules, err := st.SuitabilityRulesByKeys(ctx, needed); err == nil {
			for i := range rules {
				memo[rules[i].Key] = &rules[i]
			}
		}
	}

	// Step 3: Evaluate in input order
	ratings := make([]datatypes.ActivityRating, 0, len(ids))
	for _, id := range ids {
		act, ok := activities[id]
		if !ok {
			ratings = append(ratings, datatypes.ActivityRating{Activity: id, Error: "Unknown activity"})
			continue
		}
		label := act.Label
		if label == "" {
			label = id
		}

		var rule *datatypes.SuitabilityRule
		for _, key := range []string{"activity:" + id, "category:" + act.CategoryOrDefault()} {
			if r, cached := memo[key]; cached {
				rule = r
				break
			}
		}
		if rule == nil {
			ratings = append(ratings, genericRating(label))
			continue
		}
		ratings = append(ratings, evaluateRule(rule, label, insights))
	}
	return ratings
}

// evaluateRule applies a rule's conditions first-match, falling back to
// the rule fallback and then to generic-good defaults.
func evaluateRule(rule *datatypes.SuitabilityRule, label string, insights *datatypes.WeatherInsights) datatypes.ActivityRating {
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		value, ok := insights.Metric(cond.Field)
		if !ok {
			continue
		}
		if !cond.Matches(value) {
			continue
		}

		metric := ""
		if cond.MetricTemplate != "" {
			metric = strings.ReplaceAll(cond.MetricTemplate, "{value}", formatMetric(value))
		}
		level := cond.Level
		if level == "" {
			level = "good"
		}
		return datatypes.ActivityRating{
			Activity: label,
			Level:    level,
			Label:    cond.Label,
			Detail:   cond.Detail,
			Metric:   metric,
		}
	}

	rating := datatypes.ActivityRating{Activity: label, Level: "good", Label: "Generally suitable"}
	if fb := rule.Fallback; fb != nil {
		if fb.Level != "" {
			rating.Level = fb.Level
		}
		if fb.Label != "" {
			rating.Label = fb.Label
		}
		rating.Detail = fb.Detail
	}
	return rating
}

// genericRating is the rating for activities with no rule at all.
func genericRating(label string) datatypes.ActivityRating {
	return datatypes.ActivityRating{
		Activity: label,
		Level:    "good",
		Label:    "Generally suitable",
		Detail:   "No specific weather concerns for this activity.",
	}
}
