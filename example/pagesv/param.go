// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"fmt"

	offlinecache "github.com/tunabay/go-offlinecache"
)

// logoParam represents the set of parameters to draw the logo. The same logo
// is always drawn from the same parameter set.
type logoParam struct {
	color       [3]byte // RRGGBB value of the key color.
	size        uint16  // image width and height in pixel, at least 16.
	twist       int16   // amount to twist in degrees, can be negative.
	circleWidth uint16  // line thickness of the concentric circles, 1..16.
	stripe      uint16  // number of radiation stripes, 1..90.
}

// defaultLogo is the parameter set of /static/img/logo.png.
var defaultLogo = &logoParam{
	color:       [3]byte{0x00, 0x66, 0x99},
	size:        128,
	twist:       90,
	circleWidth: 10,
	stripe:      12,
}

// String returns the string representation of the parameter set.
func (p *logoParam) String() string {
	return fmt.Sprintf(
		"size=%d, color=#%x, twist=%d, circle-width=%d, stripe=%d",
		p.size,
		p.color,
		p.twist,
		p.circleWidth,
		p.stripe,
	)
}

// etag returns the entity tag of the logo drawn from the parameter set.
func (p *logoParam) etag() string {
	h := offlinecache.HashOf(p.String())
	return `"` + h.String()[:16] + `"`
}
