package culling

import (
	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/proxy"
	"github.com/go-gl/mathgl/mgl32"
)

// Containment is the result of a tri-state frustum test.
type Containment int

const (
	// Outside means the volume lies entirely behind at least one plane.
	Outside Containment = iota
	// Intersects means the volume straddles at least one plane.
	Intersects
	// Inside means the volume lies entirely in front of all six planes.
	Inside
)

// String returns a readable name for the containment result.
func (c Containment) String() string {
	switch c {
	case Outside:
		return "outside"
	case Intersects:
		return "intersects"
	case Inside:
		return "inside"
	default:
		return "unknown"
	}
}

// CullStats counts frustum tests performed by the batch entry points since the
// last ResetStats.
type CullStats struct {
	Tested  int
	Visible int
	Culled  int
}

// Add returns the element-wise sum of two stats blocks.
func (s CullStats) Add(o CullStats) CullStats {
	return CullStats{
		Tested:  s.Tested + o.Tested,
		Visible: s.Visible + o.Visible,
		Culled:  s.Culled + o.Culled,
	}
}

type frustumCuller struct {
	frustum     common.Frustum
	initialized bool
	stats       CullStats
}

// FrustumCuller tests bounding volumes and proxy stores against a view frustum.
//
// Until SetFrustum or SetFrustumFromCamera has been called every query reports
// the volume as visible (or Inside), so geometry is never dropped while the
// camera is still being set up.
type FrustumCuller interface {
	// SetFrustum extracts and normalizes the six planes of viewProj.
	//
	// Parameters:
	//   - viewProj: the combined Projection * View matrix
	SetFrustum(viewProj mgl32.Mat4)

	// SetFrustumFromCamera copies the camera's precomputed frustum.
	//
	// Parameters:
	//   - cam: the camera proxy
	SetFrustumFromCamera(cam camera.Camera)

	// Frustum returns the current planes and whether they were ever set.
	//
	// Returns:
	//   - common.Frustum: the planes
	//   - bool: false while the culler is still fail-open
	Frustum() (common.Frustum, bool)

	// IsVisibleAABB reports whether any part of b may be inside the frustum.
	// Uses the positive vertex of b for each plane.
	//
	// Parameters:
	//   - b: the world-space box
	//
	// Returns:
	//   - bool: false only when b is entirely behind some plane
	IsVisibleAABB(b common.BoundingBox) bool

	// IsVisibleSphere reports whether any part of s may be inside the frustum.
	//
	// Parameters:
	//   - s: the world-space sphere
	//
	// Returns:
	//   - bool: false only when s is entirely behind some plane
	IsVisibleSphere(s common.BoundingSphere) bool

	// IsVisiblePoint reports whether p is inside or on every plane.
	//
	// Parameters:
	//   - p: the world-space point
	//
	// Returns:
	//   - bool: true if p is inside the frustum
	IsVisiblePoint(p mgl32.Vec3) bool

	// TestAABB classifies b using both its positive and negative vertices.
	//
	// Parameters:
	//   - b: the world-space box
	//
	// Returns:
	//   - Containment: Outside, Intersects or Inside
	TestAABB(b common.BoundingBox) Containment

	// TestSphere classifies s against every plane.
	//
	// Parameters:
	//   - s: the world-space sphere
	//
	// Returns:
	//   - Containment: Outside, Intersects or Inside
	TestSphere(s common.BoundingSphere) Containment

	// CullMeshes appends the handles of renderable static meshes whose world
	// bounds pass IsVisibleAABB to out, in store iteration order.
	//
	// Parameters:
	//   - store: the proxy store to read
	//   - out: destination slice, normally a reused buffer truncated to zero
	//
	// Returns:
	//   - []common.Handle: out with the survivors appended
	CullMeshes(store proxy.Store, out []common.Handle) []common.Handle

	// CullSkinnedMeshes is CullMeshes for skinned mesh proxies.
	//
	// Parameters:
	//   - store: the proxy store to read
	//   - out: destination slice
	//
	// Returns:
	//   - []common.Handle: out with the survivors appended
	CullSkinnedMeshes(store proxy.Store, out []common.Handle) []common.Handle

	// CullLights appends the handles of renderable lights to out. Directional
	// lights are always kept without a test; point and spot lights are tested as
	// spheres of their range.
	//
	// Parameters:
	//   - store: the proxy store to read
	//   - out: destination slice
	//
	// Returns:
	//   - []common.Handle: out with the survivors appended
	CullLights(store proxy.Store, out []common.Handle) []common.Handle

	// Stats returns the counters accumulated by the Cull* methods.
	//
	// Returns:
	//   - CullStats: tested, visible and culled counts
	Stats() CullStats

	// ResetStats zeroes the counters.
	ResetStats()
}

var _ FrustumCuller = &frustumCuller{}

// NewFrustumCuller creates a culler in the fail-open state.
//
// Returns:
//   - FrustumCuller: the new culler
func NewFrustumCuller() FrustumCuller {
	return &frustumCuller{}
}

func (c *frustumCuller) SetFrustum(viewProj mgl32.Mat4) {
	c.frustum = common.ExtractFrustumFromMatrix(viewProj)
	c.initialized = true
}

func (c *frustumCuller) SetFrustumFromCamera(cam camera.Camera) {
	if cam == nil {
		return
	}
	c.frustum = cam.Frustum()
	c.initialized = true
}

func (c *frustumCuller) Frustum() (common.Frustum, bool) {
	return c.frustum, c.initialized
}

func (c *frustumCuller) IsVisibleAABB(b common.BoundingBox) bool {
	if !c.initialized {
		return true
	}
	for i := range c.frustum.Planes {
		p := &c.frustum.Planes[i]
		if p.DistanceTo(positiveVertex(b, p.Normal)) < 0 {
			return false
		}
	}
	return true
}

func (c *frustumCuller) IsVisibleSphere(s common.BoundingSphere) bool {
	if !c.initialized {
		return true
	}
	for i := range c.frustum.Planes {
		if c.frustum.Planes[i].DistanceTo(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}

func (c *frustumCuller) IsVisiblePoint(p mgl32.Vec3) bool {
	if !c.initialized {
		return true
	}
	return c.frustum.ContainsPoint(p)
}

func (c *frustumCuller) TestAABB(b common.BoundingBox) Containment {
	if !c.initialized {
		return Inside
	}
	result := Inside
	for i := range c.frustum.Planes {
		p := &c.frustum.Planes[i]
		if p.DistanceTo(positiveVertex(b, p.Normal)) < 0 {
			return Outside
		}
		if p.DistanceTo(negativeVertex(b, p.Normal)) < 0 {
			result = Intersects
		}
	}
	return result
}

func (c *frustumCuller) TestSphere(s common.BoundingSphere) Containment {
	if !c.initialized {
		return Inside
	}
	result := Inside
	for i := range c.frustum.Planes {
		d := c.frustum.Planes[i].DistanceTo(s.Center)
		if d < -s.Radius {
			return Outside
		}
		if d < s.Radius {
			result = Intersects
		}
	}
	return result
}

func (c *frustumCuller) CullMeshes(store proxy.Store, out []common.Handle) []common.Handle {
	if store == nil {
		return out
	}
	store.ForEachMesh(func(h common.Handle, p *proxy.MeshProxy) bool {
		if !p.Renderable() {
			return true
		}
		out = c.record(out, h, c.IsVisibleAABB(p.WorldBounds))
		return true
	})
	return out
}

func (c *frustumCuller) CullSkinnedMeshes(store proxy.Store, out []common.Handle) []common.Handle {
	if store == nil {
		return out
	}
	store.ForEachSkinnedMesh(func(h common.Handle, p *proxy.SkinnedMeshProxy) bool {
		if !p.Renderable() {
			return true
		}
		out = c.record(out, h, c.IsVisibleAABB(p.WorldBounds))
		return true
	})
	return out
}

func (c *frustumCuller) CullLights(store proxy.Store, out []common.Handle) []common.Handle {
	if store == nil {
		return out
	}
	store.ForEachLight(func(h common.Handle, p *proxy.LightProxy) bool {
		if !p.Renderable() {
			return true
		}
		if p.Light.Type() == light.LightTypeDirectional {
			out = append(out, h)
			return true
		}
		out = c.record(out, h, c.IsVisibleSphere(p.Light.BoundingSphere()))
		return true
	})
	return out
}

func (c *frustumCuller) Stats() CullStats {
	return c.stats
}

func (c *frustumCuller) ResetStats() {
	c.stats = CullStats{}
}

// record counts one test and appends h when it passed.
func (c *frustumCuller) record(out []common.Handle, h common.Handle, visible bool) []common.Handle {
	c.stats.Tested++
	if !visible {
		c.stats.Culled++
		return out
	}
	c.stats.Visible++
	return append(out, h)
}

// positiveVertex returns the corner of b furthest along n.
func positiveVertex(b common.BoundingBox, n mgl32.Vec3) mgl32.Vec3 {
	v := b.Min
	for i := range 3 {
		if n[i] >= 0 {
			v[i] = b.Max[i]
		}
	}
	return v
}

// negativeVertex returns the corner of b furthest against n.
func negativeVertex(b common.BoundingBox, n mgl32.Vec3) mgl32.Vec3 {
	v := b.Max
	for i := range 3 {
		if n[i] >= 0 {
			v[i] = b.Min[i]
		}
	}
	return v
}
