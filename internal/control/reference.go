package control

import (
	"errors"
	"fmt"
)

// ErrInvalidPadding is returned when the padding leaves no usable frame area.
var ErrInvalidPadding = errors.New("padding leaves no usable frame area")

// ReferenceTracker measures displacement from an origin captured on the first
// detection after a loss.
//
// The tracker has two states. Uninitialized: the next observed position
// becomes the origin. Tracking: each observation reports (position - origin)
// divided by half the padded frame dimension. Reset returns to Uninitialized
// immediately; there is no grace period, so a single missed detection
// re-arms the origin on the next appearance.
type ReferenceTracker struct {
	width   int
	height  int
	padding int

	maxDistX float64
	maxDistY float64

	origin   Point
	tracking bool
}

// NewReferenceTracker creates a tracker for a frame of the given pixel size
// with a border of padding pixels excluded on every side.
func NewReferenceTracker(width, height, padding int) (*ReferenceTracker, error) {
	if padding < 0 {
		return nil, fmt.Errorf("padding %d: %w", padding, ErrInvalidPadding)
	}
	usableW := width - 2*padding
	usableH := height - 2*padding
	if usableW <= 0 || usableH <= 0 {
		return nil, fmt.Errorf("frame %dx%d with padding %d: %w", width, height, padding, ErrInvalidPadding)
	}

	return &ReferenceTracker{
		width:    width,
		height:   height,
		padding:  padding,
		maxDistX: float64(usableW) / 2,
		maxDistY: float64(usableH) / 2,
	}, nil
}

// Remap converts detector coordinates, normalized over the padded region,
// into full-frame pixels in [padding, dimension-padding].
func (t *ReferenceTracker) Remap(nx, ny float64) Point {
	return Point{
		X: int(nx*float64(t.width-2*t.padding)) + t.padding,
		Y: int(ny*float64(t.height-2*t.padding)) + t.padding,
	}
}

// Observe records a detected position. When no origin is set the position
// becomes the origin and armed is true; the returned displacement is then
// zero and should be treated as initializing rather than as a measurement.
func (t *ReferenceTracker) Observe(p Point) (d Displacement, armed bool) {
	if !t.tracking {
		t.origin = p
		t.tracking = true
		armed = true
	}

	return Displacement{
		DX: float64(p.X-t.origin.X) / t.maxDistX,
		DY: float64(p.Y-t.origin.Y) / t.maxDistY,
	}, armed
}

// Reset clears the origin.
func (t *ReferenceTracker) Reset() {
	t.origin = Point{}
	t.tracking = false
}

// Origin returns the current origin and whether one is set.
func (t *ReferenceTracker) Origin() (Point, bool) {
	return t.origin, t.tracking
}

// Tracking reports whether an origin is set.
func (t *ReferenceTracker) Tracking() bool {
	return t.tracking
}

// MaxDistance returns the per-axis distance that maps to a ratio of 1.
func (t *ReferenceTracker) MaxDistance() (x, y float64) {
	return t.maxDistX, t.maxDistY
}
