package capture

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// View describes how a captured frame is transformed before detection.
type View struct {
	// Mirror flips the frame horizontally for a selfie view.
	Mirror bool
	// Padding is a border in pixels cut from every side.
	Padding int
}

// Apply returns a new Mat with the view transform applied. The caller closes
// the result; frame is left untouched.
func (v View) Apply(frame *gocv.Mat) (*gocv.Mat, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	out := gocv.NewMat()
	if v.Mirror {
		gocv.Flip(*frame, &out, 1)
	} else {
		frame.CopyTo(&out)
	}

	if v.Padding <= 0 {
		return &out, nil
	}

	w, h := out.Cols(), out.Rows()
	if w-2*v.Padding <= 0 || h-2*v.Padding <= 0 {
		out.Close()
		return nil, fmt.Errorf("padding %d exceeds frame %dx%d", v.Padding, w, h)
	}

	region := out.Region(image.Rect(v.Padding, v.Padding, w-v.Padding, h-v.Padding))
	cropped := region.Clone()
	region.Close()
	out.Close()

	return &cropped, nil
}
