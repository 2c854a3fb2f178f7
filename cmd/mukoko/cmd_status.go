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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := strings.TrimRight(apiBaseURL, "/") + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.Error("building status request", "url", url, "error", err)
		os.Exit(1)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Error("service unreachable", "url", url, "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var status datatypes.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		logger.Error("decoding status response", "httpStatus", resp.StatusCode, "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s  (%dms total, checked %s)\n", strings.ToUpper(status.Status), status.TotalLatencyMs, status.Timestamp)
	for _, check := range status.Checks {
		fmt.Printf("  %-12s %-28s %5dms  %s\n", statusGlyph(check.Status), check.Name, check.LatencyMs, check.Message)
	}

	if status.Status != datatypes.StatusOperational {
		os.Exit(1)
	}
}

func statusGlyph(s string) string {
	switch s {
	case datatypes.StatusOperational:
		return "[ok]"
	case datatypes.StatusDegraded:
		return "[degraded]"
	default:
		return "[down]"
	}
}
