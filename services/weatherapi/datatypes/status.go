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
// This file contains the live health dashboard types.
package datatypes

// Component health states. A single degraded or down check degrades
// the overall status; "down" never propagates to the top level because
// the service itself is still answering.
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
	StatusDown        = "down"
)

// CheckResult is one dependency probe.
type CheckResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Message   string `json:"message"`
}

// StatusResponse is the GET /api/status reply.
type StatusResponse struct {
	Status         string        `json:"status"`
	Timestamp      string        `json:"timestamp"`
	TotalLatencyMs int64         `json:"totalLatencyMs"`
	Checks         []CheckResult `json:"checks"`
}

// OverallStatus folds check states into the dashboard headline.
func OverallStatus(checks []CheckResult) string {
	for _, c := range checks {
		if c.Status != StatusOperational {
			return StatusDegraded
		}
	}
	return StatusOperational
}
