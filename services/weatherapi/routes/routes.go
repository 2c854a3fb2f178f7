// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the HTTP surface of the weather API.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/handlers"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/providers"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// Deps is everything the route table wires into handlers. The store
// satisfies every narrow handler interface; domain services carry
// their own dependencies.
type Deps struct {
	Store *store.Store

	Weather   *services.WeatherService
	Summary   *services.SummaryService
	Chat      *services.ChatService
	Explore   *services.ExploreService
	Followup  *services.FollowupService
	Reports   *services.ReportsService
	Analyzer  *services.AnalyzerService
	Locations *services.LocationsService

	// HTTP is the shared outbound client, used by the status probes
	// and the tile proxy.
	HTTP providers.HTTPClient

	// LLM may be nil when no credential is configured.
	LLM              llm.MessagesClient
	LLMKeyConfigured bool
}

// SetupRoutes registers every endpoint under the configured prefix,
// plus the unprefixed operational endpoints (/metrics).
func SetupRoutes(router *gin.Engine, prefix string, deps Deps) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group(prefix)
	{
		api.GET("/health", handlers.HandleHealth(deps.Store))
		api.GET("/status", handlers.HandleStatus(handlers.StatusDeps{
			Store:            deps.Store,
			HTTP:             deps.HTTP,
			LLM:              deps.LLM,
			LLMKeyConfigured: deps.LLMKeyConfigured,
		}))

		api.GET("/weather", handlers.HandleWeather(deps.Weather))
		api.GET("/history", handlers.HandleHistory(deps.Store))
		api.POST("/history/analyze", handlers.HandleHistoryAnalyze(deps.Analyzer, deps.Store))

		ai := api.Group("/ai")
		{
			ai.POST("", handlers.HandleSummary(deps.Summary))
			ai.POST("/followup", handlers.HandleFollowup(deps.Followup, deps.Store))
			ai.GET("/prompts", handlers.HandleAIPrompts(deps.Store))
			ai.GET("/suggested-rules", handlers.HandleSuggestedRules(deps.Store))
		}

		api.POST("/chat", handlers.HandleChat(deps.Chat, deps.Store))
		api.POST("/explore/search", handlers.HandleExploreSearch(deps.Explore, deps.Store))

		reports := api.Group("/reports")
		{
			reports.POST("", handlers.HandleSubmitReport(deps.Reports, deps.Store))
			reports.GET("", handlers.HandleListReports(deps.Reports))
			reports.POST("/upvote", handlers.HandleUpvoteReport(deps.Reports))
			reports.POST("/clarify", handlers.HandleClarifyReport(deps.Reports, deps.Store))
		}

		api.GET("/locations", handlers.HandleLocations(deps.Locations))
		api.POST("/locations/add", handlers.HandleAddLocation(deps.Locations, deps.Store))
		api.GET("/search", handlers.HandleSearch(deps.Locations))
		api.GET("/geo", handlers.HandleGeoLookup(deps.Locations))

		api.GET("/activities", handlers.HandleActivities(deps.Store))
		api.GET("/tags", handlers.HandleTags(deps.Store))
		api.GET("/regions", handlers.HandleRegions(deps.Store))

		api.GET("/suitability", handlers.HandleSuitability(deps.Store))
		api.GET("/map-tiles", handlers.HandleMapTiles(deps.Store, deps.HTTP))
		api.GET("/embeddings/status", handlers.HandleEmbeddingsStatus())

		devices := api.Group("/devices")
		{
			devices.POST("", handlers.HandleCreateDevice(deps.Store))
			devices.GET("/:deviceId", handlers.HandleGetDevice(deps.Store))
			devices.PATCH("/:deviceId", handlers.HandleUpdateDevice(deps.Store))
		}
	}
}
