// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/internal/config"
	"github.com/tunabay/go-offlinecache/internal/logger"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Prefetch the configured assets into the cache store",
	Long: `Run the install-time prefetch once, without serving.

Every configured asset is fetched and all of them are stored in the cache
store named by worker.cache_name. If any asset fails, nothing is stored and
the command exits with an error. The storage must not be in use by a running
server unless the backend allows concurrent processes (sqlite).`,
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err //nolint:wrapcheck
	}
	log, closer, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer closer.Close()

	storage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	conf := workerConfig(cfg, log)
	conf.Storage = storage
	w, err := offlinecache.New(&conf)
	if err != nil {
		return err //nolint:wrapcheck
	}
	if err := w.Install(ctx); err != nil {
		return err //nolint:wrapcheck
	}

	st := w.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Installed %s: %d assets, %.1S\n", st.CacheName, st.NumEntries, st.TotalSize)
	return nil
}
