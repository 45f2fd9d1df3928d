package hand

import (
	"math"
	"testing"
)

func TestPoint3D_Finite(t *testing.T) {
	tests := []struct {
		name string
		p    Point3D
		want bool
	}{
		{"all finite", Point3D{X: 0.5, Y: 0.25, Z: -0.01}, true},
		{"NaN x", Point3D{X: math.NaN(), Y: 0.25}, false},
		{"Inf y", Point3D{X: 0.5, Y: math.Inf(1)}, false},
		{"-Inf z", Point3D{Z: math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Finite(); got != tt.want {
				t.Errorf("Finite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLandmarks_IndexFingertip(t *testing.T) {
	var l Landmarks
	l.Points[IndexTip] = Point3D{X: 0.4, Y: 0.6, Z: -0.02}

	tip := l.IndexFingertip()
	if tip != l.Points[IndexTip] {
		t.Errorf("IndexFingertip() = %+v, want %+v", tip, l.Points[IndexTip])
	}
}

func TestObservation_Empty(t *testing.T) {
	if !(Observation{Width: 640, Height: 480}).Empty() {
		t.Error("observation without hands should be empty")
	}
	if (Observation{Hands: make([]Landmarks, 1)}).Empty() {
		t.Error("observation with a hand should not be empty")
	}
}
