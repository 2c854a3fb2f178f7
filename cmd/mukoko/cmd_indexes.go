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
	"time"

	"github.com/spf13/cobra"
)

func runEnsureIndexes(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st := connectStore(ctx)
	defer st.Close(context.Background())

	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Error("ensuring indexes", "error", err)
		os.Exit(1)
	}
	logger.Info("indexes ensured")
}
