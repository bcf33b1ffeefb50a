// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/olekukonko/tablewriter"
	"github.com/tunabay/go-infounit"
	"gopkg.in/yaml.v3"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/internal/config"
	"github.com/tunabay/go-offlinecache/store"
)

// workerConfig converts the worker section into a worker configuration.
func workerConfig(cfg *config.Config, log *slog.Logger) offlinecache.Config {
	return offlinecache.Config{
		CacheName:          cfg.Worker.CacheName,
		Assets:             append([]string(nil), cfg.Worker.Assets...),
		BaseURL:            cfg.Server.Origin,
		InstallConcurrency: cfg.Worker.InstallConcurrency,
		MaxAssetSize:       infounit.ByteCount(cfg.Worker.MaxAssetSize),
		Logger:             log,
		DebugLog:           cfg.Logging.Level == "DEBUG",
	}
}

// openStorage opens the configured storage backend.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (offlinecache.Storage, error) {
	s, err := store.Open(ctx, cfg.Storage.Type, cfg.Storage.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return s, nil
}

// printTable writes rows as a borderless table.
func printTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

// printYAML writes v in YAML format.
func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}
