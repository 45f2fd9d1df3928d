// Package tracking turns per-frame hand observations into control output.
//
// In absolute mode the index fingertip of every detected hand is smoothed by
// Kalman filters, normalized into [-1, 1] and handed to a Sender. In offset
// mode the fingertip is reported as a displacement from an origin captured on
// first sight; those reports are diagnostics written to a text stream.
package tracking

import (
	"errors"
	"fmt"

	"github.com/ayusman/tipstream/internal/filter"
)

// Mode selects what the pipeline produces.
type Mode string

const (
	// ModeAbsolute streams smoothed, normalized fingertip positions.
	ModeAbsolute Mode = "absolute"
	// ModeOffset reports displacement from a re-armable origin.
	ModeOffset Mode = "offset"
)

// Layout selects how the three axes are assigned to filters.
type Layout string

const (
	// LayoutIndependent runs one single-axis constant-velocity filter per axis.
	LayoutIndependent Layout = "independent"
	// LayoutPaired runs three two-measurement filters fed (x,y), (y,z) and
	// (z,z), reading the first position of each.
	LayoutPaired Layout = "paired"
)

// DefaultPadding is the border excluded from the frame in offset mode.
const DefaultPadding = 50

// ErrInvalidConfig is returned for a configuration that cannot run.
var ErrInvalidConfig = errors.New("invalid tracking config")

// Config holds pipeline settings.
type Config struct {
	Mode             Mode    `json:"mode"`
	Layout           Layout  `json:"layout"`
	ProcessNoise     float64 `json:"process_noise"`
	MeasurementNoise float64 `json:"measurement_noise"`
	// SeedFromFirst starts each filter at its first measurement instead of
	// converging from zero.
	SeedFromFirst bool `json:"seed_from_first"`
	// Padding is the offset-mode border in pixels. The source is expected to
	// deliver the interior region only.
	Padding int `json:"padding"`
	// Verbose logs every sent sample.
	Verbose bool `json:"verbose"`
}

// DefaultConfig returns the absolute-mode defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeAbsolute,
		Layout:           LayoutIndependent,
		ProcessNoise:     filter.DefaultProcessNoise,
		MeasurementNoise: filter.DefaultMeasurementNoise,
		Padding:          DefaultPadding,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAbsolute, ModeOffset:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	switch c.Layout {
	case LayoutIndependent, LayoutPaired:
	default:
		return fmt.Errorf("%w: unknown filter layout %q", ErrInvalidConfig, c.Layout)
	}
	if c.ProcessNoise <= 0 {
		return fmt.Errorf("%w: process noise must be positive, got %v", ErrInvalidConfig, c.ProcessNoise)
	}
	if c.MeasurementNoise <= 0 {
		return fmt.Errorf("%w: measurement noise must be positive, got %v", ErrInvalidConfig, c.MeasurementNoise)
	}
	if c.Padding < 0 {
		return fmt.Errorf("%w: padding must not be negative, got %d", ErrInvalidConfig, c.Padding)
	}
	return nil
}
