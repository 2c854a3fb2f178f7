// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the weather API service.
//
// This package contains middleware for client IP resolution and request
// metrics. Rate limiting and report identity both key off the resolved
// client IP, so every route that needs either runs behind ClientIP.
//
// # IP Resolution
//
// The service runs behind an edge proxy in production, so the peer
// address is usually the proxy. Resolution order:
//
//	Request
//	   │
//	   ▼
//	ClientIP middleware
//	   │
//	   ├─► X-Forwarded-For (first entry)
//	   │
//	   ├─► X-Real-IP
//	   │
//	   └─► Peer address (RemoteAddr)
//	           │
//	           ▼
//	       Handler (retrieves via GetClientIP)
package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// clientIPKey is the context key for storing the resolved client IP.
// Using a namespaced key prevents collisions with other context values.
const clientIPKey = "mukoko_client_ip"

// =============================================================================
// Context Helpers
// =============================================================================

// SetClientIP stores the resolved client IP in the Gin context.
//
// Called by the ClientIP middleware after resolution. Tests may call it
// directly to simulate a resolved request.
func SetClientIP(c *gin.Context, ip string) {
	c.Set(clientIPKey, ip)
}

// GetClientIP retrieves the resolved client IP from the Gin context.
//
// # Description
//
// Called by handlers that rate limit or compute report identities.
// Returns the empty string when resolution failed; handlers treat that
// as a 400 since neither limiting nor identity works without an IP.
//
// # Inputs
//
//   - c: Gin context. Must not be nil.
//
// # Outputs
//
//   - string: The resolved IP, or "" when unresolvable
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func GetClientIP(c *gin.Context) string {
	if v, exists := c.Get(clientIPKey); exists {
		if ip, ok := v.(string); ok {
			return ip
		}
	}
	return ""
}

// =============================================================================
// ClientIP Middleware
// =============================================================================

// ClientIP creates a Gin middleware that resolves the client IP once per
// request and stores it in the context.
//
// # Description
//
// Checks X-Forwarded-For first (taking the first, client-most entry),
// then X-Real-IP, then falls back to the connection's peer address.
// The resolved value is stored for downstream handlers via GetClientIP.
//
// # Limitations
//
//   - Forwarded headers are trusted as-is. The edge proxy strips
//     client-supplied values before this service sees them.
//   - No validation that the header value parses as an IP. Rate
//     limiting only needs a stable key, not a routable address.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		SetClientIP(c, resolveClientIP(c))
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// resolveClientIP applies the header-then-peer resolution order.
func resolveClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	if rip := strings.TrimSpace(c.GetHeader("X-Real-IP")); rip != "" {
		return rip
	}

	remote := c.Request.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
