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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	mongoURI   string // overrides MONGODB_URI
	mongoDB    string
	seedOnly   []string // restrict seeding to named families
	apiBaseURL string

	rootCmd = &cobra.Command{
		Use:   "mukoko",
		Short: "Operations CLI for the Mukoko weather service",
		Long: `mukoko manages a running Mukoko weather deployment:
seeding reference data, ensuring database indexes, and checking
service health.`,
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Upsert reference data (locations, activities, rules, prompts) into MongoDB",
		Run:   runSeed, // Defined in cmd_seed.go
	}

	ensureIndexesCmd = &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create the MongoDB indexes the service depends on",
		Run:   runEnsureIndexes, // Defined in cmd_indexes.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Query a running service's /status endpoint and report dependency health",
		Run:   runStatus, // Defined in cmd_status.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection string (defaults to $MONGODB_URI)")
	rootCmd.PersistentFlags().StringVar(&mongoDB, "mongo-db", "", "MongoDB database name (defaults to $MONGODB_DB or mukoko-weather)")

	seedCmd.Flags().StringSliceVar(&seedOnly, "only", nil,
		"seed only the named families (locations, activities, categories, tags, regions, seasons, rules, prompts, suggested)")

	statusCmd.Flags().StringVar(&apiBaseURL, "base", "http://localhost:8080/api", "base URL of the running service")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(ensureIndexesCmd)
	rootCmd.AddCommand(statusCmd)
}
