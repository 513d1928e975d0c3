package main

import (
	"image"
	"math"
)

const (
	// Half-width of the square search window around a mapped click, in
	// source-raster pixels (13x13 window total).
	detectRadius = 6

	// Minimum number of drone-colored pixels in the window for a hit.
	detectThreshold = 5
)

// DroneDetector classifies clicks against the full-resolution thermal raster.
type DroneDetector struct {
	thermal *image.RGBA
}

func newDroneDetector(thermal *image.RGBA) *DroneDetector {
	return &DroneDetector{thermal: thermal}
}

// isDronePixel reports whether an r/g/b triple (each in [0,1]) reads as part
// of the drone's hot signature: bright overall, and either warm or
// yellow-orange.
func isDronePixel(r, g, b float64) bool {
	bright := (r+g+b)/3.0 > 0.4
	warm := r > 0.5 && g > 0.3 && b < 0.6 && r >= g*0.8
	yellowOrange := r > 0.6 && g > 0.4 && b < 0.4
	return bright && (warm || yellowOrange)
}

// IsHit decides whether a click at (x, y) in render-space counts as a drone
// detection. Clicks are only evaluated in THERMAL mode when the player can
// see the drone; the click is mapped back into the source raster and the
// surrounding window is scanned for drone-colored pixels.
func (d *DroneDetector) IsHit(mode string, canSeeDrone bool, x, y float64) bool {
	if mode != modeThermal || !canSeeDrone {
		return false
	}

	bounds := d.thermal.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	sx := float64(width) / float64(renderSize)
	sy := float64(height) / float64(renderSize)

	xb := int(math.Round(x * sx))
	yb := int(math.Round(y * sy))

	x0 := max(0, xb-detectRadius)
	x1 := min(width, xb+detectRadius+1)
	y0 := max(0, yb-detectRadius)
	y1 := min(height, yb+detectRadius+1)

	matches := 0
	for yy := y0; yy < y1; yy++ {
		for xx := x0; xx < x1; xx++ {
			px := d.thermal.RGBAAt(bounds.Min.X+xx, bounds.Min.Y+yy)
			if isDronePixel(float64(px.R)/255.0, float64(px.G)/255.0, float64(px.B)/255.0) {
				matches++
			}
		}
	}

	return matches >= detectThreshold
}
