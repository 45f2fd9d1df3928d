// Package hand holds the landmark types shared between the detector and the tracking pipeline.
package hand

import "math"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Point3D is a landmark position. X and Y are normalized to [0,1] over the
// frame the detector saw; Z is the detector's relative depth.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Finite reports whether all three coordinates are finite numbers.
func (p Point3D) Finite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
}

// Landmarks represents the 21 hand landmarks detected by MediaPipe.
type Landmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// IndexFingertip returns the index fingertip landmark.
func (l *Landmarks) IndexFingertip() Point3D {
	return l.Points[IndexTip]
}

// Observation is the detector result for one frame: the pixel size of the
// frame that was analyzed and zero or more hands found in it.
type Observation struct {
	Width  int
	Height int
	Hands  []Landmarks
}

// Empty reports whether no hands were detected.
func (o Observation) Empty() bool {
	return len(o.Hands) == 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
