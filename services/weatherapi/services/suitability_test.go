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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

type fakeSuitabilityStore struct {
	activities []datatypes.Activity
	rules      []datatypes.SuitabilityRule
	fail       bool

	ruleFetches [][]string
}

func (f *fakeSuitabilityStore) ActivitiesByIDs(_ context.Context, ids []string) ([]datatypes.Activity, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	var out []datatypes.Activity
	for _, a := range f.activities {
		for _, id := range ids {
			if a.ID == id {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (f *fakeSuitabilityStore) SuitabilityRulesByKeys(_ context.Context, keys []string) ([]datatypes.SuitabilityRule, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	f.ruleFetches = append(f.ruleFetches, keys)
	var out []datatypes.SuitabilityRule
	for _, r := range f.rules {
		for _, key := range keys {
			if r.Key == key {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func fptr(v float64) *float64 { return &v }

func heatRule(key string) datatypes.SuitabilityRule {
	return datatypes.SuitabilityRule{
		Key: key,
		Conditions: []datatypes.RuleCondition{
			{Field: "heatStressIndex", Operator: "gte", Value: 32, Level: "poor", Label: "Dangerous heat", MetricTemplate: "Heat stress index {value}"},
			{Field: "heatStressIndex", Operator: "gte", Value: 28, Level: "fair", Label: "Hot conditions"},
		},
		Fallback: &datatypes.RuleFallback{Level: "good", Label: "Good conditions", Detail: "Suitable."},
	}
}

func farmStore() *fakeSuitabilityStore {
	return &fakeSuitabilityStore{
		activities: []datatypes.Activity{
			{ID: "crop-planting", Label: "Crop planting", Category: "farming"},
			{ID: "running", Label: "Running", Category: "outdoor"},
		},
		rules: []datatypes.SuitabilityRule{heatRule("category:farming")},
	}
}

// =============================================================================
// RateActivities Tests
// =============================================================================

func TestRateActivities_FirstMatchingConditionWins(t *testing.T) {
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(33.4)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), farmStore(), []string{"crop-planting"}, insights, memo)
	require.Len(t, ratings, 1)
	assert.Equal(t, "Crop planting", ratings[0].Activity)
	assert.Equal(t, "poor", ratings[0].Level)
	assert.Equal(t, "Dangerous heat", ratings[0].Label)
	assert.Equal(t, "Heat stress index 33.4", ratings[0].Metric)
}

func TestRateActivities_SecondConditionWhenFirstMisses(t *testing.T) {
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(29)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), farmStore(), []string{"crop-planting"}, insights, memo)
	require.Len(t, ratings, 1)
	assert.Equal(t, "fair", ratings[0].Level)
}

func TestRateActivities_FallbackWhenNoConditionMatches(t *testing.T) {
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(20)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), farmStore(), []string{"crop-planting"}, insights, memo)
	require.Len(t, ratings, 1)
	assert.Equal(t, "good", ratings[0].Level)
	assert.Equal(t, "Good conditions", ratings[0].Label)
}

func TestRateActivities_MissingMetricSkipsCondition(t *testing.T) {
	// Insights carry no heat index at all: neither condition can fire.
	insights := &datatypes.WeatherInsights{WindSpeed: fptr(10)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), farmStore(), []string{"crop-planting"}, insights, memo)
	require.Len(t, ratings, 1)
	assert.Equal(t, "good", ratings[0].Level, "absent metrics must not evaluate as zero")
}

func TestRateActivities_ActivityRuleBeatsCategoryRule(t *testing.T) {
	st := farmStore()
	st.rules = append(st.rules, datatypes.SuitabilityRule{
		Key: "activity:crop-planting",
		Conditions: []datatypes.RuleCondition{
			{Field: "heatStressIndex", Operator: "gte", Value: 30, Level: "poor", Label: "Planting heat limit"},
		},
	})
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(31)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), st, []string{"crop-planting"}, insights, memo)
	require.Len(t, ratings, 1)
	assert.Equal(t, "Planting heat limit", ratings[0].Label)
}

func TestRateActivities_UnknownActivityGetsErrorEntry(t *testing.T) {
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(20)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), farmStore(), []string{"snowboarding", "crop-planting"}, insights, memo)
	require.Len(t, ratings, 2)
	assert.Equal(t, "snowboarding", ratings[0].Activity)
	assert.Equal(t, "Unknown activity", ratings[0].Error)
	assert.Empty(t, ratings[1].Error)
}

func TestRateActivities_NoRuleYieldsGenericGood(t *testing.T) {
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(40)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), farmStore(), []string{"running"}, insights, memo)
	require.Len(t, ratings, 1)
	assert.Equal(t, "good", ratings[0].Level)
	assert.Equal(t, "Generally suitable", ratings[0].Label)
}

func TestRateActivities_CapsInputAtTen(t *testing.T) {
	ids := make([]string, 15)
	for i := range ids {
		ids[i] = "crop-planting"
	}
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(20)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), farmStore(), ids, insights, memo)
	assert.Len(t, ratings, maxRatedActivities)
}

func TestRateActivities_MemoAvoidsRefetch(t *testing.T) {
	st := farmStore()
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(20)}
	memo := map[string]*datatypes.SuitabilityRule{}

	RateActivities(context.Background(), st, []string{"crop-planting"}, insights, memo)
	fetches := len(st.ruleFetches)
	RateActivities(context.Background(), st, []string{"crop-planting"}, insights, memo)

	// The category rule is memoized; only the never-found activity key
	// may be asked for again.
	for _, keys := range st.ruleFetches[fetches:] {
		assert.NotContains(t, keys, "category:farming")
	}
}

func TestRateActivities_StoreFailureDegrades(t *testing.T) {
	st := farmStore()
	st.fail = true
	insights := &datatypes.WeatherInsights{HeatStressIndex: fptr(40)}
	memo := map[string]*datatypes.SuitabilityRule{}

	ratings := RateActivities(context.Background(), st, []string{"crop-planting"}, insights, memo)
	require.Len(t, ratings, 1)
	assert.Equal(t, "Unknown activity", ratings[0].Error)
}
