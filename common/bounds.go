package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// BoundingBox is an axis-aligned bounding box described by its min and max corners.
type BoundingBox struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// BoundingSphere is a sphere described by its center and radius.
type BoundingSphere struct {
	Center mgl32.Vec3
	Radius float32
}

// EmptyBoundingBox returns an inverted box that any Extend call will overwrite.
//
// Returns:
//   - BoundingBox: a box with Min at +MaxFloat32 and Max at -MaxFloat32
func EmptyBoundingBox() BoundingBox {
	return BoundingBox{
		Min: mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

// Center returns the midpoint of the box.
//
// Returns:
//   - mgl32.Vec3: the box center
func (b BoundingBox) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extents returns the half-size of the box along each axis.
//
// Returns:
//   - mgl32.Vec3: half of (Max - Min)
func (b BoundingBox) Extents() mgl32.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

// Extend grows the box to include p.
//
// Parameters:
//   - p: the point to include
func (b *BoundingBox) Extend(p mgl32.Vec3) {
	for i := range 3 {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Corners returns the eight corners of the box.
//
// Returns:
//   - [8]mgl32.Vec3: the corners, min corner first and max corner last
func (b BoundingBox) Corners() [8]mgl32.Vec3 {
	mn, mx := b.Min, b.Max
	return [8]mgl32.Vec3{
		{mn[0], mn[1], mn[2]},
		{mx[0], mn[1], mn[2]},
		{mn[0], mx[1], mn[2]},
		{mx[0], mx[1], mn[2]},
		{mn[0], mn[1], mx[2]},
		{mx[0], mn[1], mx[2]},
		{mn[0], mx[1], mx[2]},
		{mx[0], mx[1], mx[2]},
	}
}

// Contains reports whether p lies inside or on the box.
func (b BoundingBox) Contains(p mgl32.Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// Transform returns the axis-aligned box enclosing b after transformation by m.
// Uses the Arvo method: each output axis accumulates the min/max contribution
// of every matrix column instead of transforming all eight corners.
//
// Parameters:
//   - m: the affine transform to apply (column-major)
//
// Returns:
//   - BoundingBox: the transformed, re-aligned box
func (b BoundingBox) Transform(m mgl32.Mat4) BoundingBox {
	out := BoundingBox{
		Min: mgl32.Vec3{m[12], m[13], m[14]},
		Max: mgl32.Vec3{m[12], m[13], m[14]},
	}
	for col := range 3 {
		for row := range 3 {
			e := m[col*4+row]
			lo := e * b.Min[col]
			hi := e * b.Max[col]
			if lo > hi {
				lo, hi = hi, lo
			}
			out.Min[row] += lo
			out.Max[row] += hi
		}
	}
	return out
}

// BoundingSphere returns the sphere circumscribing the box.
//
// Returns:
//   - BoundingSphere: sphere centered on the box with radius equal to its half-diagonal
func (b BoundingBox) BoundingSphere() BoundingSphere {
	return BoundingSphere{Center: b.Center(), Radius: b.Extents().Len()}
}

// SphereIntersectsAABB performs the closest-point sphere/box test: the point of
// the box nearest to the sphere center is found by clamping, and the sphere
// intersects when that point lies within the radius.
//
// Parameters:
//   - s: the sphere
//   - b: the box
//
// Returns:
//   - bool: true if the two volumes overlap or touch
func SphereIntersectsAABB(s BoundingSphere, b BoundingBox) bool {
	var distSq float32
	for i := range 3 {
		c := s.Center[i]
		if c < b.Min[i] {
			d := b.Min[i] - c
			distSq += d * d
		} else if c > b.Max[i] {
			d := c - b.Max[i]
			distSq += d * d
		}
	}
	return distSq <= s.Radius*s.Radius
}
