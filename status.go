// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"fmt"
	"time"

	"github.com/tunabay/go-infounit"
)

// Status represents the worker status and statistics.
type Status struct {
	CacheName        string             // name of the cache store.
	State            State              // current lifecycle state.
	NumAssets        int                // number of configured assets.
	NumEntries       uint64             // entries stored by the last successful install.
	TotalSize        infounit.ByteCount // total body size stored by the last successful install.
	InstalledAt      time.Time          // time of the last successful install.
	NumRequested     uint64             // total number of intercepted requests.
	NumHit           uint64             // total number of requests answered from the cache.
	NumMiss          uint64             // total number of requests forwarded to the network.
	NumFailed        uint64             // total number of requests that failed.
	NumInstalls      uint64             // total number of install attempts.
	NumInstallFailed uint64             // total number of failed install attempts.
}

// String returns the string representation of Status.
func (s Status) String() string {
	return fmt.Sprintf(
		"cache=%s, state=%v, assets=%d, entries=%d, size=%.1S, req=%d, hit=%d, miss=%d, fail=%d, install=%d, install-fail=%d",
		s.CacheName,
		s.State,
		s.NumAssets,
		s.NumEntries,
		s.TotalSize,
		s.NumRequested,
		s.NumHit,
		s.NumMiss,
		s.NumFailed,
		s.NumInstalls,
		s.NumInstallFailed,
	)
}

// Status returns the current worker status and statistics.
func (w *Worker) Status() *Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &Status{
		CacheName:        w.name,
		State:            w.state,
		NumAssets:        len(w.assets),
		NumEntries:       w.numEntries,
		TotalSize:        w.totalSize,
		InstalledAt:      w.installedAt,
		NumRequested:     w.numRequested,
		NumHit:           w.numHit,
		NumMiss:          w.numMiss,
		NumFailed:        w.numFailed,
		NumInstalls:      w.numInstalls,
		NumInstallFailed: w.numInstallFailed,
	}
}
