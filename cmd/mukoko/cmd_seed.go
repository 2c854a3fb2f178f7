// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
)

//go:embed seed.yaml
var seedYAML []byte

// seedFile mirrors seed.yaml. The yaml tags exist because the
// datatypes structs only carry json/bson tags.
type seedFile struct {
	Locations          []seedLocation         `yaml:"locations"`
	ActivityCategories []seedCategory         `yaml:"activityCategories"`
	Activities         []seedActivity         `yaml:"activities"`
	Tags               []seedTag              `yaml:"tags"`
	Regions            []seedRegion           `yaml:"regions"`
	Seasons            []seedSeason           `yaml:"seasons"`
	SuitabilityRules   []seedSuitabilityRule `yaml:"suitabilityRules"`
	SuggestedRules     []seedSuggestedRule   `yaml:"suggestedRules"`
}

type seedLocation struct {
	Slug      string   `yaml:"slug"`
	Name      string   `yaml:"name"`
	Province  string   `yaml:"province"`
	Country   string   `yaml:"country"`
	Lat       float64  `yaml:"lat"`
	Lon       float64  `yaml:"lon"`
	Elevation int      `yaml:"elevation"`
	Tags      []string `yaml:"tags"`
}

type seedCategory struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

type seedActivity struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Category string `yaml:"category"`
}

type seedTag struct {
	Slug     string `yaml:"slug"`
	Label    string `yaml:"label"`
	Featured bool   `yaml:"featured"`
}

type seedRegion struct {
	Name   string `yaml:"name"`
	Active bool   `yaml:"active"`
	Bounds struct {
		North float64 `yaml:"north"`
		South float64 `yaml:"south"`
		East  float64 `yaml:"east"`
		West  float64 `yaml:"west"`
	} `yaml:"bounds"`
}

type seedSeason struct {
	CountryCode string `yaml:"countryCode"`
	Name        string `yaml:"name"`
	LocalName   string `yaml:"localName"`
	Description string `yaml:"description"`
	Months      []int  `yaml:"months"`
}

type seedSuitabilityRule struct {
	Key        string `yaml:"key"`
	Conditions []struct {
		Field          string  `yaml:"field"`
		Operator       string  `yaml:"operator"`
		Value          float64 `yaml:"value"`
		Level          string  `yaml:"level"`
		Label          string  `yaml:"label"`
		Detail         string  `yaml:"detail"`
		MetricTemplate string  `yaml:"metricTemplate"`
	} `yaml:"conditions"`
	Fallback *struct {
		Level  string `yaml:"level"`
		Label  string `yaml:"label"`
		Detail string `yaml:"detail"`
	} `yaml:"fallback"`
}

type seedSuggestedRule struct {
	RuleKey string `yaml:"ruleKey"`
	Prompt  string `yaml:"prompt"`
	Order   int    `yaml:"order"`
	Active  bool   `yaml:"active"`
}

func runSeed(cmd *cobra.Command, args []string) {
	var file seedFile
	if err := yaml.Unmarshal(seedYAML, &file); err != nil {
		logger.Error("parsing embedded seed data", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st := connectStore(ctx)
	defer st.Close(context.Background())

	want := seedSelection()
	total := 0

	if want("locations") {
		for _, l := range file.Locations {
			seedOne(&total, "location", l.Slug, st.UpsertLocation(ctx, datatypes.Location{
				Slug:      l.Slug,
				Name:      l.Name,
				Province:  l.Province,
				Country:   l.Country,
				Lat:       l.Lat,
				Lon:       l.Lon,
				Elevation: l.Elevation,
				Tags:      l.Tags,
				Source:    "seed",
			}))
		}
	}
	if want("categories") {
		for _, c := range file.ActivityCategories {
			seedOne(&total, "category", c.ID, st.UpsertActivityCategory(ctx, datatypes.ActivityCategory{
				ID:    c.ID,
				Label: c.Label,
			}))
		}
	}
	if want("activities") {
		for _, a := range file.Activities {
			seedOne(&total, "activity", a.ID, st.UpsertActivity(ctx, datatypes.Activity{
				ID:       a.ID,
				Label:    a.Label,
				Category: a.Category,
			}))
		}
	}
	if want("tags") {
		for _, t := range file.Tags {
			seedOne(&total, "tag", t.Slug, st.UpsertTag(ctx, datatypes.Tag{
				Slug:     t.Slug,
				Label:    t.Label,
				Featured: t.Featured,
			}))
		}
	}
	if want("regions") {
		for _, r := range file.Regions {
			seedOne(&total, "region", r.Name, st.UpsertRegion(ctx, datatypes.Region{
				Name:   r.Name,
				Active: r.Active,
				Bounds: datatypes.RegionBounds{
					North: r.Bounds.North,
					South: r.Bounds.South,
					East:  r.Bounds.East,
					West:  r.Bounds.West,
				},
			}))
		}
	}
	if want("seasons") {
		for _, s := range file.Seasons {
			key := fmt.Sprintf("%s/%s", s.CountryCode, s.Name)
			seedOne(&total, "season", key, st.UpsertSeason(ctx, datatypes.SeasonDoc{
				CountryCode: s.CountryCode,
				Months:      s.Months,
				Name:        s.Name,
				LocalName:   s.LocalName,
				Description: s.Description,
			}))
		}
	}
	if want("rules") {
		for _, r := range file.SuitabilityRules {
			rule := datatypes.SuitabilityRule{Key: r.Key}
			for _, c := range r.Conditions {
				rule.Conditions = append(rule.Conditions, datatypes.RuleCondition{
					Field:          c.Field,
					Operator:       c.Operator,
					Value:          c.Value,
					Level:          c.Level,
					Label:          c.Label,
					Detail:         c.Detail,
					MetricTemplate: c.MetricTemplate,
				})
			}
			if r.Fallback != nil {
				rule.Fallback = &datatypes.RuleFallback{
					Level:  r.Fallback.Level,
					Label:  r.Fallback.Label,
					Detail: r.Fallback.Detail,
				}
			}
			seedOne(&total, "rule", r.Key, st.UpsertSuitabilityRule(ctx, rule))
		}
	}
	if want("prompts") {
		library, err := prompts.NewLibrary(nil, logger)
		if err != nil {
			logger.Error("loading embedded prompts", "error", err)
			os.Exit(1)
		}
		for _, p := range library.Defaults() {
			seedOne(&total, "prompt", p.PromptKey, st.UpsertPrompt(ctx, p))
		}
	}
	if want("suggested") {
		for _, r := range file.SuggestedRules {
			seedOne(&total, "suggested rule", r.RuleKey, st.UpsertSuggestedRule(ctx, datatypes.SuggestedRule{
				RuleKey: r.RuleKey,
				Prompt:  r.Prompt,
				Order:   r.Order,
				Active:  r.Active,
			}))
		}
	}

	logger.Info("seed complete", "documents", total)
}

// seedSelection returns the family filter from --only, or a
// match-everything filter when the flag is unset.
func seedSelection() func(string) bool {
	if len(seedOnly) == 0 {
		return func(string) bool { return true }
	}
	selected := make(map[string]bool, len(seedOnly))
	for _, name := range seedOnly {
		selected[name] = true
	}
	return func(family string) bool { return selected[family] }
}

func seedOne(total *int, kind, key string, err error) {
	if err != nil {
		logger.Error("seed failed", "kind", kind, "key", key, "error", err)
		os.Exit(1)
	}
	*total++
	logger.Debug("seeded", "kind", kind, "key", key)
}
