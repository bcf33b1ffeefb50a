// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sync"
)

// createLogo draws a deterministic geometric pattern based on the given
// parameters and writes it to w as a PNG.
func createLogo(p *logoParam, w io.Writer) error {
	// Calculate coefficients from the parameters.
	var (
		n  = int(p.size)
		tc = float64(p.twist) * math.Pi / 180
		sc = float64(p.stripe) / math.Pi
		cc = float64(p.circleWidth) * .005
		ic = make([]color.NRGBA, 257)
		bc float64
	)
	xc, yc, zc := float64(-1), float64(-1), .125/float64(n)

	// Prepare colors for the image pixels.
	eo := func(i int) float64 {
		ev := float64(p.color[i]) / 255
		if ev <= .04045 {
			return ev / 12.92
		}
		return math.Pow(math.FMA(ev, 1/1.055, .055/1.055), 2.4)
	}
	const ax, ay, az = .2126755, .71513641, .072188085
	if eo(0)*ax+eo(1)*ay+eo(2)*az+.05 < math.Sqrt(.0525) {
		bc = 255
	}
	c := func(i, t int) byte {
		v := math.FMA(float64(p.color[i])-bc, float64(t)/256, bc)
		return byte(math.Round(v))
	}
	for i := range ic {
		ic[i] = color.NRGBA{R: c(0, i), G: c(1, i), B: c(2, i), A: 0xff}
	}

	// Create image and paint pixels.
	img := image.NewNRGBA(image.Rect(0, 0, n, n))
	pc := func(x, y float64) int {
		r := math.Hypot(x, y)
		a := math.Mod(math.Atan2(y, x)+r*tc, math.Pi*2) + math.Pi*2
		s := int(math.Floor(a * sc))
		if r < .05 {
			return s & 1
		}
		for cr := float64(0); cr < 1.5; cr += .25 {
			if math.Abs(r-cr) < cc {
				return s & 1
			}
		}
		return ^s & 1
	}
	paintRow := func(py int) {
		py4 := py << 4
		for px := 0; px < n; px++ {
			px4, k := px<<4, 0
			for v := 0; v < 16; v++ {
				y := math.FMA(float64(py4+v), zc, yc)
				for u := 0; u < 16; u++ {
					k += pc(math.FMA(float64(px4+u), zc, xc), y)
				}
			}
			img.SetNRGBA(px, py, ic[k])
		}
	}
	var wg sync.WaitGroup
	for y := 0; y < n; y++ {
		wg.Add(1)
		go func(py int) {
			defer wg.Done()
			paintRow(py)
		}(y)
	}
	wg.Wait()

	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}

	return nil
}
