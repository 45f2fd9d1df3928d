package detector

import (
	"context"
	"fmt"

	"github.com/ayusman/tipstream/internal/capture"
	"github.com/ayusman/tipstream/internal/hand"
)

// FrameSource reads frames from a camera, applies the view transform and
// runs hand detection on the result.
type FrameSource struct {
	camera   capture.Camera
	detector Detector
	view     capture.View
}

// NewFrameSource creates a FrameSource. The camera must already be open.
func NewFrameSource(cam capture.Camera, det Detector, view capture.View) *FrameSource {
	return &FrameSource{
		camera:   cam,
		detector: det,
		view:     view,
	}
}

// Next blocks until the next frame has been captured and analyzed. Width and
// Height of the observation are those of the frame the detector saw, so
// normalized landmarks map back onto it.
func (s *FrameSource) Next(ctx context.Context) (hand.Observation, error) {
	if err := ctx.Err(); err != nil {
		return hand.Observation{}, err
	}

	raw, err := s.camera.ReadFrame()
	if err != nil {
		return hand.Observation{}, fmt.Errorf("read frame: %w", err)
	}
	frame, err := s.view.Apply(raw)
	raw.Close()
	if err != nil {
		return hand.Observation{}, fmt.Errorf("prepare frame: %w", err)
	}
	defer frame.Close()

	hands, err := s.detector.Detect(frame)
	if err != nil {
		return hand.Observation{}, fmt.Errorf("detect: %w", err)
	}

	return hand.Observation{
		Width:  frame.Cols(),
		Height: frame.Rows(),
		Hands:  hands,
	}, nil
}

// Close releases the detector. The camera is owned by the caller.
func (s *FrameSource) Close() error {
	return s.detector.Close()
}
