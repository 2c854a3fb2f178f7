// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/datatypes"
)

// InfluxConfig holds the optional history-mirror connection. An empty
// URL disables the mirror entirely.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether a mirror connection is configured.
func (c InfluxConfig) Enabled() bool {
	return c.URL != ""
}

// HistoryMirror writes each recorded weather observation as a time
// series point alongside the document log, for dashboarding. Writes
// are best-effort: the document log is the source of truth and mirror
// failures only warn.
//
// # Thread Safety
//
// Safe for concurrent use; the blocking write API serializes writes
// internally.
type HistoryMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *logging.Logger
}

// NewHistoryMirror connects the mirror, or returns (nil, nil) when the
// config is empty. A nil *HistoryMirror is valid and drops all writes.
func NewHistoryMirror(cfg InfluxConfig, logger *logging.Logger) (*HistoryMirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("store: influx health: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("store: influx not ready: %s", msg)
	}
	logger.Info("connected to influxdb", "url", cfg.URL, "bucket", cfg.Bucket)
	return &HistoryMirror{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
	}, nil
}

// Record mirrors one history record as a weather_observation point.
func (m *HistoryMirror) Record(ctx context.Context, rec *datatypes.HistoryRecord) {
	if m == nil || rec == nil || rec.Current == nil {
		return
	}

	fields := map[string]interface{}{}
	addField := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	addField("temperature", rec.Current.Temperature)
	addField("apparent_temperature", rec.Current.ApparentTemp)
	addField("humidity", rec.Current.RelativeHumidity)
	addField("precipitation", rec.Current.Precipitation)
	addField("wind_speed", rec.Current.WindSpeed)
	addField("wind_gusts", rec.Current.WindGusts)
	addField("pressure", rec.Current.SurfacePressure)
	addField("cloud_cover", rec.Current.CloudCover)
	addField("uv_index", rec.Current.UVIndex)
	if rec.Current.WeatherCode != nil {
		fields["weather_code"] = *rec.Current.WeatherCode
	}
	if len(fields) == 0 {
		return
	}

	point := influxdb2.NewPoint(
		"weather_observation",
		map[string]string{"location": rec.LocationSlug},
		fields,
		rec.RecordedAt,
	)
	if err := m.writeAPI.WritePoint(ctx, point); err != nil {
		m.logger.Warn("influx mirror write failed", "location", rec.LocationSlug, "error", err)
	}
}

// Close releases the underlying client.
func (m *HistoryMirror) Close() {
	if m == nil {
		return
	}
	m.client.Close()
}
