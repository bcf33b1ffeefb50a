// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/internal/config"
	"github.com/tunabay/go-offlinecache/internal/logger"
)

var outputFormat string

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "Inspect and delete cache stores",
	Long: `Inspect and delete the cache stores in the configured storage.

Cache stores are never deleted automatically. A store left behind by an old
worker version stays until it is deleted with "caches delete".`,
}

var cachesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache stores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStorage(cmd, func(ctx context.Context, cfg *config.Config, s offlinecache.Storage) error {
			names, err := s.Names(ctx)
			if err != nil {
				return err //nolint:wrapcheck
			}
			type cacheInfo struct {
				Name    string `yaml:"name"`
				Entries int    `yaml:"entries"`
				Current bool   `yaml:"current"`
			}
			infos := make([]cacheInfo, 0, len(names))
			for _, name := range names {
				st, err := s.Open(ctx, name)
				if err != nil {
					return err //nolint:wrapcheck
				}
				keys, err := st.Keys(ctx)
				if err != nil {
					return err //nolint:wrapcheck
				}
				infos = append(infos, cacheInfo{Name: name, Entries: len(keys), Current: name == cfg.Worker.CacheName})
			}

			if outputFormat == "yaml" {
				return printYAML(cmd.OutOrStdout(), infos)
			}
			rows := make([][]string, 0, len(infos))
			for _, ci := range infos {
				cur := ""
				if ci.Current {
					cur = "*"
				}
				rows = append(rows, []string{ci.Name, strconv.Itoa(ci.Entries), cur})
			}
			printTable(cmd.OutOrStdout(), []string{"Name", "Entries", "Current"}, rows)
			return nil
		})
	},
}

var cachesKeysCmd = &cobra.Command{
	Use:   "keys <name>",
	Short: "List the locators stored in a cache store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, _ *config.Config, s offlinecache.Storage) error {
			ok, err := s.Has(ctx, args[0])
			switch {
			case err != nil:
				return err //nolint:wrapcheck
			case !ok:
				return fmt.Errorf("%s: cache not found", args[0])
			}
			st, err := s.Open(ctx, args[0])
			if err != nil {
				return err //nolint:wrapcheck
			}
			keys, err := st.Keys(ctx)
			if err != nil {
				return err //nolint:wrapcheck
			}

			if outputFormat == "yaml" {
				return printYAML(cmd.OutOrStdout(), keys)
			}
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				resp, _, err := st.Match(ctx, k)
				if err != nil {
					return err //nolint:wrapcheck
				}
				rows = append(rows, []string{
					k,
					strconv.Itoa(resp.StatusCode),
					fmt.Sprintf("%.1S", resp.Size()),
					resp.StoredAt.Format("2006-01-02 15:04:05"),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"Locator", "Status", "Size", "Stored"}, rows)
			return nil
		})
	},
}

var cachesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a cache store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, cfg *config.Config, s offlinecache.Storage) error {
			if args[0] == cfg.Worker.CacheName {
				return fmt.Errorf("%s: cache is used by the configured worker", args[0])
			}
			ok, err := s.Delete(ctx, args[0])
			switch {
			case err != nil:
				return err //nolint:wrapcheck
			case !ok:
				return fmt.Errorf("%s: cache not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	cachesCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|yaml)")
	cachesCmd.AddCommand(cachesListCmd)
	cachesCmd.AddCommand(cachesKeysCmd)
	cachesCmd.AddCommand(cachesDeleteCmd)
}

// withStorage loads the configuration, opens the storage and runs fn.
func withStorage(cmd *cobra.Command, fn func(context.Context, *config.Config, offlinecache.Storage) error) error {
	switch outputFormat {
	case "table", "yaml":
	default:
		return fmt.Errorf("invalid output format %q", outputFormat)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err //nolint:wrapcheck
	}
	log, closer, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer closer.Close()

	storage, err := openStorage(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	return fn(cmd.Context(), cfg, storage)
}
