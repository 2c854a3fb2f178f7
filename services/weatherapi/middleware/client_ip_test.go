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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// resolveClientIP Tests
// =============================================================================

func TestResolveClientIP_XForwardedFor(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", resolveClientIP(c))
}

func TestResolveClientIP_XForwardedForSingleEntry(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, "203.0.113.7", resolveClientIP(c))
}

func TestResolveClientIP_XRealIPFallback(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("X-Real-IP", "198.51.100.4")

	assert.Equal(t, "198.51.100.4", resolveClientIP(c))
}

func TestResolveClientIP_XForwardedForWinsOverXRealIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("X-Forwarded-For", "203.0.113.7")
	c.Request.Header.Set("X-Real-IP", "198.51.100.4")

	assert.Equal(t, "203.0.113.7", resolveClientIP(c))
}

func TestResolveClientIP_PeerAddressFallback(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.RemoteAddr = "192.0.2.9:54321"

	assert.Equal(t, "192.0.2.9", resolveClientIP(c))
}

func TestResolveClientIP_PeerAddressWithoutPort(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.RemoteAddr = "192.0.2.9"

	assert.Equal(t, "192.0.2.9", resolveClientIP(c))
}

func TestResolveClientIP_EmptyForwardedEntryFallsThrough(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("X-Forwarded-For", " , 10.0.0.1")
	c.Request.Header.Set("X-Real-IP", "198.51.100.4")

	assert.Equal(t, "198.51.100.4", resolveClientIP(c))
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestGetClientIP_NotSet(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.Empty(t, GetClientIP(c))
}

func TestSetAndGetClientIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	SetClientIP(c, "203.0.113.7")

	assert.Equal(t, "203.0.113.7", GetClientIP(c))
}

// =============================================================================
// Middleware Integration Tests
// =============================================================================

func TestClientIP_MiddlewareStoresIP(t *testing.T) {
	router := gin.New()
	router.Use(ClientIP())

	var captured string
	router.GET("/probe", func(c *gin.Context) {
		captured = GetClientIP(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "203.0.113.7", captured)
}

func TestRequestMetrics_NoPanicWithoutInit(t *testing.T) {
	// DefaultMetrics is nil unless InitMetrics ran; the middleware
	// must still pass requests through.
	router := gin.New()
	router.Use(RequestMetrics())
	router.GET("/probe", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/probe", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
