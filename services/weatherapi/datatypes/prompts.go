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
// This file contains the database-driven AI configuration types. All
// prompt text lives in MongoDB so model behaviour can be tuned without
// a deploy; embedded defaults cover a cold or unreachable database.
package datatypes

// Prompt is an ai_prompts document. PromptKey is namespaced, e.g.
// "system:chat" or "system:summary". Model and MaxTokens override the
// service defaults when set.
type Prompt struct {
	PromptKey string `json:"promptKey" bson:"promptKey"`
	Template  string `json:"template" bson:"template"`
	Model     string `json:"model,omitempty" bson:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" bson:"maxTokens,omitempty"`
	Active    bool   `json:"active" bson:"active"`
	Order     int    `json:"order" bson:"order"`
}

// SuggestedRule drives client-side suggested prompt chips. Condition
// is a free-form matcher evaluated by the client, so it stays untyped
// here.
type SuggestedRule struct {
	RuleKey   string         `json:"ruleKey" bson:"ruleKey"`
	Condition map[string]any `json:"condition,omitempty" bson:"condition,omitempty"`
	Prompt    string         `json:"prompt" bson:"prompt"`
	Order     int            `json:"order" bson:"order"`
	Active    bool           `json:"active" bson:"active"`
}
