// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts provides the prompt library for the AI endpoints.
//
// # Description
//
// Prompt templates live in the ai_prompts collection so model, token
// budget, and wording can change without a redeploy. This package
// overlays those documents on an embedded defaults.yaml baked into the
// binary, which also carries the per-report-type clarification
// questions and the Zimbabwe seasonal calendar used when the database
// is cold or unreachable.
//
// # Thread Safety
//
// All Library methods are safe for concurrent use. The store overlay
// is refreshed at most every five minutes by a single goroutine;
// concurrent readers keep serving the previous snapshot until the
// swap lands, so a reader may briefly observe prompts one refresh
// behind.
//
// # Limitations
//
//   - Placeholder substitution is plain {name} string replacement.
//     Templates are trusted operator input, not user input.
//   - A store document with an empty template hides the embedded
//     default for its key without contributing text.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// cacheTTL is how long a store snapshot is served before a refresh is
// attempted.
const cacheTTL = 5 * time.Minute

// defaultsYAML is parsed once at construction. Editing prompt text for
// a deployed system happens in the ai_prompts collection, not here.
//
//go:embed defaults.yaml
var defaultsYAML []byte

// Store is the subset of the persistence layer the library reads.
type Store interface {
	ActivePrompts(ctx context.Context) ([]datatypes.Prompt, error)
}

// =============================================================================
// Embedded file shapes
// =============================================================================

type defaultsFile struct {
	Prompts          []promptEntry       `yaml:"prompts"`
	ClarifyQuestions map[string][]string `yaml:"clarifyQuestions"`
	Seasons          []seasonEntry       `yaml:"seasons"`
}

type promptEntry struct {
	PromptKey string `yaml:"promptKey"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"maxTokens"`
	Template  string `yaml:"template"`
}

type seasonEntry struct {
	Name        string `yaml:"name"`
	LocalName   string `yaml:"localName"`
	Description string `yaml:"description"`
	Months      []int  `yaml:"months"`
}

// =============================================================================
// Library
// =============================================================================

// Library resolves prompt templates, clarification questions, and
// fallback seasons. Construct with NewLibrary.
type Library struct {
	store  Store
	logger *logging.Logger

	defaults map[string]datatypes.Prompt
	clarify  map[string][]string
	seasons  []seasonEntry

	// mu guards cache and cachedAt. refreshMu serializes store reads
	// so a slow database stalls at most one request.
	mu        sync.RWMutex
	refreshMu sync.Mutex
	cache     map[string]datatypes.Prompt
	cachedAt  time.Time
}

// NewLibrary parses the embedded defaults and returns a ready library.
// The store may be nil, in which case only embedded defaults are
// served; a nil logger falls back to the package default.
func NewLibrary(store Store, logger *logging.Logger) (*Library, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var file defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &file); err != nil {
		return nil, fmt.Errorf("prompts: parsing embedded defaults: %w", err)
	}

	defaults := make(map[string]datatypes.Prompt, len(file.Prompts))
	for _, p := range file.Prompts {
		if p.PromptKey == "" || p.Template == "" {
			return nil, fmt.Errorf("prompts: embedded prompt missing key or template (key=%q)", p.PromptKey)
		}
		defaults[p.PromptKey] = datatypes.Prompt{
			PromptKey: p.PromptKey,
			Template:  p.Template,
			Model:     p.Model,
			MaxTokens: p.MaxTokens,
			Active:    true,
		}
	}
	if _, ok := file.ClarifyQuestions["default"]; !ok {
		return nil, fmt.Errorf("prompts: embedded clarify questions missing default entry")
	}
	if len(file.Seasons) == 0 {
		return nil, fmt.Errorf("prompts: embedded defaults carry no seasons")
	}

	return &Library{
		store:    store,
		logger:   logger,
		defaults: defaults,
		clarify:  file.ClarifyQuestions,
		seasons:  file.Seasons,
	}, nil
}

// Get returns the prompt for a key: the active store document when one
// exists, otherwise the embedded default. Store documents that omit
// model or maxTokens inherit them from the embedded default, so
// callers always receive complete values for known keys. Unknown keys
// return a zero-template prompt.
func (l *Library) Get(ctx context.Context, key string) datatypes.Prompt {
	fallback := l.defaults[key]
	fallback.PromptKey = key

	overlay, ok := l.snapshot(ctx)[key]
	if !ok || overlay.Template == "" {
		return fallback
	}
	if overlay.Model == "" {
		overlay.Model = fallback.Model
	}
	if overlay.MaxTokens == 0 {
		overlay.MaxTokens = fallback.MaxTokens
	}
	return overlay
}

// Defaults returns the embedded prompt templates in file order, all
// marked active. The ops CLI seeds the ai_prompts collection from
// these so a fresh deployment starts from the shipped text.
func (l *Library) Defaults() []datatypes.Prompt {
	out := make([]datatypes.Prompt, 0, len(l.defaults))
	for _, p := range l.defaults {
		p.Active = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromptKey < out[j].PromptKey })
	return out
}

// ClarifyQuestions returns the fallback follow-up questions for a
// report type. Unknown types get the generic pair. The returned slice
// is a copy.
func (l *Library) ClarifyQuestions(reportType string) []string {
	qs, ok := l.clarify[reportType]
	if !ok {
		qs = l.clarify["default"]
	}
	out := make([]string, len(qs))
	copy(out, qs)
	return out
}

// FallbackSeason returns the embedded seasonal context for a month.
// The first season listing the month wins; if an edited defaults file
// leaves a gap, the last season covers it.
func (l *Library) FallbackSeason(t time.Time) datatypes.Season {
	month := int(t.UTC().Month())
	for _, s := range l.seasons {
		for _, m := range s.Months {
			if m == month {
				return seasonContext(s)
			}
		}
	}
	return seasonContext(l.seasons[len(l.seasons)-1])
}

func seasonContext(s seasonEntry) datatypes.Season {
	return datatypes.Season{
		Name:        s.Name,
		Shona:       s.LocalName,
		Description: s.Description,
	}
}

// snapshot returns the current store overlay, refreshing it when the
// TTL has lapsed. Only one goroutine refreshes at a time; the rest
// serve the previous snapshot, so reads never block on the database.
// A failed refresh keeps the stale snapshot and leaves the timestamp
// untouched, so the next caller retries.
func (l *Library) snapshot(ctx context.Context) map[string]datatypes.Prompt {
	if l.store == nil {
		return nil
	}

	l.mu.RLock()
	cache, cachedAt := l.cache, l.cachedAt
	l.mu.RUnlock()

	if cache != nil && time.Since(cachedAt) < cacheTTL {
		return cache
	}
	if !l.refreshMu.TryLock() {
		return cache
	}
	defer l.refreshMu.Unlock()

	docs, err := l.store.ActivePrompts(ctx)
	if err != nil {
		l.logger.Warn("prompt refresh failed, serving stale snapshot", "error", err)
		return cache
	}

	fresh := make(map[string]datatypes.Prompt, len(docs))
	for _, d := range docs {
		fresh[d.PromptKey] = d
	}

	l.mu.Lock()
	l.cache = fresh
	l.cachedAt = time.Now()
	l.mu.Unlock()

	return fresh
}

// Apply substitutes {name} placeholders in a template. Missing
// placeholders are left in place rather than erased, which keeps a
// half-edited store template visibly broken instead of silently
// truncated.
func Apply(template string, vars map[string]string) string {
	for name, value := range vars {
		template = strings.ReplaceAll(template, "{"+name+"}", value)
	}
	return template
}
