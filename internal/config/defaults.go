// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package config

import (
	"time"

	"github.com/spf13/viper"
	"github.com/tunabay/go-infounit"
)

// DefaultAssets is the asset list of the default worker version: the page
// root, its local stylesheet and logo, and two third-party stylesheets.
var DefaultAssets = []string{
	"/",
	"/static/style.css",
	"/static/img/logo.png",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.2/dist/css/bootstrap.min.css",
	"https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
}

// Default returns the configuration used when no file and no environment
// variable is given.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			CacheName:          "treinfo-v1",
			Assets:             append([]string(nil), DefaultAssets...),
			InstallConcurrency: 4,
			MaxAssetSize:       uint64(infounit.Megabyte * 16),
			RetryInitial:       time.Second,
			RetryMax:           time.Minute * 5,
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			AdminListen:     "127.0.0.1:9090",
			Origin:          "http://127.0.0.1:8000",
			ReadTimeout:     time.Second * 30,
			WriteTimeout:    time.Second * 60,
			IdleTimeout:     time.Minute * 2,
			ShutdownTimeout: time.Second * 10,
		},
		Storage: StorageConfig{
			Type: "disk",
			Path: "offlinecache",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

// setDefaults registers every key with viper, which also makes each key
// overridable from the environment without a config file.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("worker.cache_name", d.Worker.CacheName)
	v.SetDefault("worker.assets", d.Worker.Assets)
	v.SetDefault("worker.install_concurrency", d.Worker.InstallConcurrency)
	v.SetDefault("worker.max_asset_size", d.Worker.MaxAssetSize)
	v.SetDefault("worker.retry_initial", d.Worker.RetryInitial)
	v.SetDefault("worker.retry_max", d.Worker.RetryMax)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.admin_listen", d.Server.AdminListen)
	v.SetDefault("server.origin", d.Server.Origin)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}
