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
	"os"

	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// connectStore resolves connection settings from flags then the
// environment, and exits on failure. Callers own Close.
func connectStore(ctx context.Context) *store.Store {
	uri := mongoURI
	if uri == "" {
		uri = os.Getenv("MONGODB_URI")
	}
	if uri == "" {
		logger.Error("no MongoDB URI: set --mongo-uri or MONGODB_URI")
		os.Exit(1)
	}
	db := mongoDB
	if db == "" {
		db = os.Getenv("MONGODB_DB")
	}

	st, err := store.Connect(ctx, store.Config{URI: uri, Database: db}, logger)
	if err != nil {
		logger.Error("connecting to MongoDB", "error", err)
		os.Exit(1)
	}
	return st
}
