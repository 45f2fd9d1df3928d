package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/tipstream/internal/hand"
)

// MockDetector is a test implementation of the Detector interface.
// It returns a scripted sequence of results, one per Detect call; after the
// script runs out the last entry repeats.
type MockDetector struct {
	mu     sync.Mutex
	script [][]hand.Landmarks
	calls  int
	err    error
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands makes every Detect call return hands.
func (m *MockDetector) SetHands(hands []hand.Landmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = [][]hand.Landmarks{hands}
}

// SetScript sets per-call results. A nil entry means no hands that frame.
func (m *MockDetector) SetScript(frames ...[]hand.Landmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = frames
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next scripted result or the configured error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]hand.Landmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) == 0 {
		return nil, nil
	}

	i := m.calls - 1
	if i >= len(m.script) {
		i = len(m.script) - 1
	}
	return m.script[i], nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// PointingLandmarks returns a right hand with the index finger extended and
// its tip at the given normalized position.
func PointingLandmarks(tipX, tipY, tipZ float64) hand.Landmarks {
	lm := hand.Landmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	// Lay the hand out below the fingertip.
	lm.Points[hand.Wrist] = hand.Point3D{X: tipX, Y: tipY + 0.40, Z: 0}

	lm.Points[hand.ThumbCMC] = hand.Point3D{X: tipX + 0.05, Y: tipY + 0.35, Z: 0}
	lm.Points[hand.ThumbMCP] = hand.Point3D{X: tipX + 0.08, Y: tipY + 0.30, Z: 0}
	lm.Points[hand.ThumbIP] = hand.Point3D{X: tipX + 0.07, Y: tipY + 0.25, Z: 0}
	lm.Points[hand.ThumbTip] = hand.Point3D{X: tipX + 0.04, Y: tipY + 0.24, Z: 0}

	lm.Points[hand.IndexMCP] = hand.Point3D{X: tipX, Y: tipY + 0.28, Z: tipZ}
	lm.Points[hand.IndexPIP] = hand.Point3D{X: tipX, Y: tipY + 0.18, Z: tipZ}
	lm.Points[hand.IndexDIP] = hand.Point3D{X: tipX, Y: tipY + 0.08, Z: tipZ}
	lm.Points[hand.IndexTip] = hand.Point3D{X: tipX, Y: tipY, Z: tipZ}

	for i, base := range []int{hand.MiddleMCP, hand.RingMCP, hand.PinkyMCP} {
		dx := -0.04 * float64(i+1)
		for j := 0; j < 4; j++ {
			lm.Points[base+j] = hand.Point3D{X: tipX + dx, Y: tipY + 0.28 + 0.02*float64(j), Z: -0.02}
		}
	}

	return lm
}
