// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command weatherapi starts the mukoko weather API server.
//
// Configuration comes from environment variables:
//
//   - PORT: HTTP server port (default: 8080)
//   - MONGODB_URI: MongoDB connection string (required)
//   - MONGODB_DB: database name (default: mukoko-weather)
//   - API_PREFIX: route prefix (default: /api)
//   - LLM_BACKEND: anthropic (default) or openai
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: model credentials (optional;
//     anthropic also falls back to the stored api_keys document)
//   - TOMORROW_API_KEY: primary weather provider key (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: trace collector (optional)
//   - INFLUXDB_URL / INFLUXDB_TOKEN / INFLUXDB_ORG / INFLUXDB_BUCKET:
//     optional history mirror
//   - GIN_MODE: gin framework mode
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := weatherapi.Config{
		Port:            getEnvInt("PORT", 8080),
		MongoURI:        os.Getenv("MONGODB_URI"),
		MongoDatabase:   getEnvString("MONGODB_DB", "mukoko-weather"),
		APIPrefix:       getEnvString("API_PREFIX", "/api"),
		LLMBackend:      getEnvString("LLM_BACKEND", "anthropic"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Influx: store.InfluxConfig{
			URL:    os.Getenv("INFLUXDB_URL"),
			Token:  os.Getenv("INFLUXDB_TOKEN"),
			Org:    os.Getenv("INFLUXDB_ORG"),
			Bucket: os.Getenv("INFLUXDB_BUCKET"),
		},
		GinMode: os.Getenv("GIN_MODE"),
	}

	if cfg.MongoURI == "" {
		log.Fatal("MONGODB_URI is required")
	}

	slog.Info("Starting mukoko weather API",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"prefix", cfg.APIPrefix,
	)

	svc, err := weatherapi.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
