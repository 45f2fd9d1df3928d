// Package control converts smoothed landmark positions into control units:
// absolute samples in a signed range, or displacement from a reference origin.
package control

// Normalize maps value linearly from [min, max] to [-1, 1].
// Values outside [min, max] map outside [-1, 1]; no clamping is applied so a
// bad read stays visible to the consumer.
func Normalize(value, min, max float64) float64 {
	return 2*(value-min)/(max-min) - 1
}

// Denormalize is the inverse of Normalize.
func Denormalize(n, min, max float64) float64 {
	return (n+1)/2*(max-min) + min
}

// Bounds is an axis range used for normalization.
type Bounds struct {
	Min float64
	Max float64
}

// Symmetric returns the range [-extent, +extent].
func Symmetric(extent float64) Bounds {
	return Bounds{Min: -extent, Max: extent}
}

// Normalize maps value from the bounds to [-1, 1].
func (b Bounds) Normalize(value float64) float64 {
	return Normalize(value, b.Min, b.Max)
}

// Denormalize maps n from [-1, 1] back into the bounds.
func (b Bounds) Denormalize(n float64) float64 {
	return Denormalize(n, b.Min, b.Max)
}

// Valid reports whether the bounds describe a non-empty range.
func (b Bounds) Valid() bool {
	return b.Min < b.Max
}

// FrameBounds holds the per-axis normalization ranges for absolute mode.
type FrameBounds struct {
	X Bounds
	Y Bounds
	Z Bounds
}

// DepthExtent is the symmetric range assumed for detector depth values.
const DepthExtent = 1.0

// NewFrameBounds returns the absolute-mode ranges for a frame of the given
// pixel size: [-w, w] horizontally, [-h, h] vertically, and [-1, 1] in depth.
func NewFrameBounds(width, height int) FrameBounds {
	return FrameBounds{
		X: Symmetric(float64(width)),
		Y: Symmetric(float64(height)),
		Z: Symmetric(DepthExtent),
	}
}

// Sample normalizes a smoothed pixel/depth position into a Sample.
func (fb FrameBounds) Sample(x, y, z float64) Sample {
	return Sample{
		X: fb.X.Normalize(x),
		Y: fb.Y.Normalize(y),
		Z: fb.Z.Normalize(z),
	}
}
