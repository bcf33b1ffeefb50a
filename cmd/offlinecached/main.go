// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Command offlinecached runs the offline cache host: an HTTP proxy whose
// responses come from a cache-first worker with an install-time prefetched
// asset cache.
package main

import (
	"fmt"
	"os"

	"github.com/tunabay/go-offlinecache/cmd/offlinecached/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
