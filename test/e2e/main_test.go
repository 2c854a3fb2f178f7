// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package e2e holds smoke tests that exercise a running weather API
// instance over HTTP. They are skipped unless MUKOKO_E2E_BASE_URL is
// set, e.g.:
//
//	MUKOKO_E2E_BASE_URL=http://localhost:8080 go test ./test/e2e/
//
// The target server must have MongoDB reachable and the catalogue
// seeded (mukoko seed). AI endpoints degrade gracefully without an
// ANTHROPIC_API_KEY, and the tests only assert the degraded shape.
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var (
	baseURL    string
	httpClient = &http.Client{Timeout: 30 * time.Second}
)

func TestMain(m *testing.M) {
	baseURL = strings.TrimRight(os.Getenv("MUKOKO_E2E_BASE_URL"), "/")
	os.Exit(m.Run())
}

func requireServer(t *testing.T) {
	t.Helper()
	if baseURL == "" {
		t.Skip("MUKOKO_E2E_BASE_URL not set; skipping live-server smoke test")
	}
}

// getJSON issues a GET and decodes the body into a generic map.
func getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := httpClient.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, path, resp.Body)
}

// postJSON issues a POST with a JSON body and decodes the response.
func postJSON(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal %s body: %v", path, err)
	}
	resp, err := httpClient.Post(baseURL+path, "application/json", strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, path, resp.Body)
}

func decodeBody(t *testing.T, path string, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read %s body: %v", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode %s body %q: %v", path, truncate(string(raw), 200), err)
	}
	return doc
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}
