// Package detector finds hand landmarks in camera frames.
package detector

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/tipstream/internal/hand"
)

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks,
	// normalized to the frame's width and height.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]hand.Landmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ScriptPath and PythonPath override the service lookup when set.
	ScriptPath string
	PythonPath string

	// ResponseTimeout bounds the wait for one frame's landmarks. Zero waits
	// forever.
	ResponseTimeout time.Duration

	// JPEGQuality is the encode quality of frames sent to the service.
	JPEGQuality int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        2,
		MinConfidence:   0.7,
		MinTrackingConf: 0.5,
		ResponseTimeout: 2 * time.Second,
		JPEGQuality:     90,
	}
}
