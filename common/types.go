// package common contains common types that are used throughout this module. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import "fmt"

// DepthImage holds a single-channel float depth buffer on the CPU, row-major with the
// origin at the top-left texel. Depth values follow the [0, 1] convention where 0 is
// the near plane and 1 the far plane.
type DepthImage struct {
	// Width is the width of the image in texels.
	Width int
	// Height is the height of the image in texels.
	Height int
	// Depth is the texel data, Width*Height values.
	Depth []float32
}

// NewDepthImage allocates a depth image cleared to the far plane.
//
// Parameters:
//   - width: image width in texels
//   - height: image height in texels
//
// Returns:
//   - *DepthImage: the allocated image
func NewDepthImage(width, height int) *DepthImage {
	d := &DepthImage{Width: width, Height: height, Depth: make([]float32, width*height)}
	for i := range d.Depth {
		d.Depth[i] = 1
	}
	return d
}

// At returns the depth at (x, y), clamping coordinates to the image edge.
func (d *DepthImage) At(x, y int) float32 {
	x = Clamp(x, 0, d.Width-1)
	y = Clamp(y, 0, d.Height-1)
	return d.Depth[y*d.Width+x]
}

// Set stores depth at (x, y). Out-of-range coordinates are ignored.
func (d *DepthImage) Set(x, y int, depth float32) {
	if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return
	}
	d.Depth[y*d.Width+x] = depth
}

// Validate checks that the texel slice matches the declared dimensions.
//
// Returns:
//   - error: non-nil when the image is empty or its data length mismatches
func (d *DepthImage) Validate() error {
	if d == nil || d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("depth image has no extent")
	}
	if len(d.Depth) != d.Width*d.Height {
		return fmt.Errorf("depth image data length %d does not match %dx%d", len(d.Depth), d.Width, d.Height)
	}
	return nil
}
