package cluster

import (
	"math"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/go-gl/mathgl/mgl32"
)

// SliceDepth returns the view-space distance of the near face of depth slice s:
// near * (far/near)^(s/slices).
//
// Parameters:
//   - s: the slice index, slices gives the far plane
//   - slices: the number of depth slices
//   - near, far: the positive clip distances
//
// Returns:
//   - float32: the slice distance
func SliceDepth(s, slices uint32, near, far float32) float32 {
	t := float64(s) / float64(slices)
	return float32(float64(near) * math.Pow(float64(far)/float64(near), t))
}

// SliceForDepth inverts SliceDepth, returning the slice holding a view-space
// distance, clamped to [0, slices-1].
func SliceForDepth(depth float32, slices uint32, near, far float32) uint32 {
	if depth <= near {
		return 0
	}
	s := math.Log(float64(depth)/float64(near)) / math.Log(float64(far)/float64(near)) * float64(slices)
	return common.Clamp(uint32(s), 0, slices-1)
}

// screenToView unprojects a screen position (y down) on the near plane into view space.
func screenToView(sx, sy float32, p frameParams) mgl32.Vec3 {
	ndc := mgl32.Vec4{
		sx/float32(p.width)*2 - 1,
		1 - sy/float32(p.height)*2,
		-1,
		1,
	}
	v := p.invProj.Mul4x1(ndc)
	return v.Vec3().Mul(1 / v.W())
}

// onSlice moves p along its eye ray onto the plane z = -depth.
func onSlice(p mgl32.Vec3, depth float32) mgl32.Vec3 {
	return p.Mul(-depth / p.Z())
}

// clusterBounds computes the view-space AABB of cluster (x, y, z).
func clusterBounds(x, y, z uint32, g GridSize, p frameParams) common.BoundingBox {
	tileW := float32(p.width) / float32(g.X)
	tileH := float32(p.height) / float32(g.Y)
	x0, y0 := float32(x)*tileW, float32(y)*tileH
	x1, y1 := x0+tileW, y0+tileH

	corners := [4]mgl32.Vec3{
		screenToView(x0, y0, p),
		screenToView(x1, y0, p),
		screenToView(x0, y1, p),
		screenToView(x1, y1, p),
	}
	nearZ := SliceDepth(z, g.Z, p.near, p.far)
	farZ := SliceDepth(z+1, g.Z, p.near, p.far)

	b := common.EmptyBoundingBox()
	for _, c := range corners {
		b.Extend(onSlice(c, nearZ))
		b.Extend(onSlice(c, farZ))
	}
	return b
}

// buildBounds fills out with every cluster AABB in index order.
func buildBounds(out []Cluster, g GridSize, p frameParams) {
	for z := range g.Z {
		for y := range g.Y {
			for x := range g.X {
				out[g.Index(x, y, z)].Bounds = clusterBounds(x, y, z, g, p)
			}
		}
	}
}
