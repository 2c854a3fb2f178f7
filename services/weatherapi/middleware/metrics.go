// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
)

// RequestMetrics creates a Gin middleware that records request counts
// and latency against the default Prometheus metrics.
//
// # Description
//
// Records the matched route template (not the raw URL, so path
// parameters don't explode label cardinality) and the status class.
// Unmatched routes are bucketed under "unmatched".
//
// # Thread Safety
//
// Thread-safe. Recording against a nil DefaultMetrics is a no-op, so
// the middleware is inert in tests that skip InitMetrics.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := fmt.Sprintf("%dxx", c.Writer.Status()/100)

		observability.DefaultMetrics.RecordRequest(route, status, time.Since(start).Seconds())
	}
}
