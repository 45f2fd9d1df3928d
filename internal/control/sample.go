package control

import "fmt"

// Measurement is a landmark position de-normalized into frame units:
// integer pixels for X and Y and the detector's depth for Z.
type Measurement struct {
	X int
	Y int
	Z float64
}

// MeasurementFromNormalized converts detector coordinates in [0,1] to pixels
// by truncation, as the detector's pixel grid is integral.
func MeasurementFromNormalized(nx, ny, z float64, width, height int) Measurement {
	return Measurement{
		X: int(nx * float64(width)),
		Y: int(ny * float64(height)),
		Z: z,
	}
}

// Sample is an absolute-mode control sample. Each axis is nominally in
// [-1, 1] but is never clamped.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point is an integer pixel position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// Displacement is the offset-mode output: the distance from the reference
// origin divided by the maximum usable distance on each axis. It is a ratio
// and may exceed 1 in magnitude.
type Displacement struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}
