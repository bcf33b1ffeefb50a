// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package host

import (
	"fmt"
	"time"

	offlinecache "github.com/tunabay/go-offlinecache"
)

// Status represents the host status and statistics.
type Status struct {
	Active          *offlinecache.Status // nil if no worker is active.
	Waiting         *offlinecache.Status // nil if no worker is waiting.
	ActivatedAt     time.Time            // time the active worker was activated.
	NextRetry       time.Time            // zero if no install retry is scheduled.
	NumPassthrough  uint64               // requests sent to the network with no active worker.
	NumBadGateway   uint64               // requests answered with 502.
	NumActivations  uint64               // workers activated.
	NumRetries      uint64               // background install retries started.
	NumDeployFailed uint64               // failed install attempts, retries included.
}

// String returns the string representation of Status.
func (s Status) String() string {
	active, waiting := "none", "none"
	if s.Active != nil {
		active = s.Active.String()
	}
	if s.Waiting != nil {
		waiting = s.Waiting.String()
	}
	return fmt.Sprintf(
		"active=[%s], waiting=[%s], passthrough=%d, bad-gateway=%d, activations=%d, retries=%d",
		active,
		waiting,
		s.NumPassthrough,
		s.NumBadGateway,
		s.NumActivations,
		s.NumRetries,
	)
}

// Status returns the current host status and statistics.
func (s *Server) Status() *Status {
	s.mu.Lock()
	st := &Status{
		ActivatedAt: s.activatedAt,
		NextRetry:   s.nextRetry,
	}
	waiting := s.waiting
	s.mu.Unlock()

	if w := s.active.Load(); w != nil {
		st.Active = w.Status()
	}
	if waiting != nil {
		st.Waiting = waiting.Status()
	}
	st.NumPassthrough = s.numPassthrough.Load()
	st.NumBadGateway = s.numBadGateway.Load()
	st.NumActivations = s.numActivations.Load()
	st.NumRetries = s.numRetries.Load()
	st.NumDeployFailed = s.numDeployFailed.Load()

	return st
}
