package visibility

import (
	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/culling"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/proxy"
	"github.com/go-gl/mathgl/mgl32"
)

type resolver struct {
	culler       culling.FrustumCuller
	thresholdsSq [4]float32
	maxLights    int

	meshHandles    []common.Handle
	skinnedHandles []common.Handle
	lightHandles   []common.Handle

	result Result
}

// Resolver turns a proxy store and a camera into ordered visible-object lists.
type Resolver interface {
	// Resolve runs one frame of visibility: reset the culler's stats, set its
	// frustum from cam, cull static meshes, skinned meshes and lights, then
	// compute distances, LODs and sort keys and order the lists.
	//
	// A nil cam leaves the culler's frustum untouched, so a culler that was
	// never given one stays fail-open and distances are measured from the origin.
	//
	// Parameters:
	//   - store: the proxy store
	//   - cam: the viewing camera
	//   - mode: the mesh ordering; lights are always front to back
	//
	// Returns:
	//   - Result: lists valid until the next Resolve call
	Resolve(store proxy.Store, cam camera.Camera, mode SortMode) Result

	// Culler returns the frustum culler the resolver drives.
	//
	// Returns:
	//   - culling.FrustumCuller: the culler
	Culler() culling.FrustumCuller

	// LODThresholds returns the squared LOD thresholds in use.
	//
	// Returns:
	//   - [4]float32: ascending squared distances
	LODThresholds() [4]float32

	// SetLODThresholds replaces the LOD thresholds.
	//
	// Parameters:
	//   - t: un-squared ascending distances
	SetLODThresholds(t [4]float32)

	// SetMaxLights sets the visible light budget. Zero means unlimited.
	//
	// Parameters:
	//   - n: the budget
	SetMaxLights(n int)
}

var _ Resolver = &resolver{}

// NewResolver creates a Resolver with the default LOD thresholds and a fresh
// FrustumCuller unless overridden by options.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - Resolver: the new resolver
func NewResolver(options ...ResolverBuilderOption) Resolver {
	r := &resolver{
		thresholdsSq: SquareThresholds(DefaultLODThresholds),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.culler == nil {
		r.culler = culling.NewFrustumCuller()
	}
	return r
}

func (r *resolver) Culler() culling.FrustumCuller {
	return r.culler
}

func (r *resolver) LODThresholds() [4]float32 {
	return r.thresholdsSq
}

func (r *resolver) SetLODThresholds(t [4]float32) {
	r.thresholdsSq = SquareThresholds(t)
}

func (r *resolver) SetMaxLights(n int) {
	r.maxLights = max(n, 0)
}

func (r *resolver) Resolve(store proxy.Store, cam camera.Camera, mode SortMode) Result {
	r.culler.ResetStats()

	var eye mgl32.Vec3
	if cam != nil {
		r.culler.SetFrustumFromCamera(cam)
		eye = cam.Position()
	}

	r.meshHandles = r.culler.CullMeshes(store, r.meshHandles[:0])
	r.skinnedHandles = r.culler.CullSkinnedMeshes(store, r.skinnedHandles[:0])
	r.lightHandles = r.culler.CullLights(store, r.lightHandles[:0])

	res := &r.result
	res.Mode = mode
	res.Meshes = res.Meshes[:0]
	res.SkinnedMeshes = res.SkinnedMeshes[:0]
	res.Lights = res.Lights[:0]

	for _, h := range r.meshHandles {
		p := store.GetMesh(h)
		if p == nil {
			continue
		}
		res.Meshes = append(res.Meshes, r.visibleMesh(h, p, eye))
	}
	for _, h := range r.skinnedHandles {
		p := store.GetSkinnedMesh(h)
		if p == nil {
			continue
		}
		res.SkinnedMeshes = append(res.SkinnedMeshes, r.visibleMesh(h, &p.MeshProxy, eye))
	}
	for _, h := range r.lightHandles {
		p := store.GetLight(h)
		if p == nil {
			continue
		}
		vl := VisibleLight{Handle: h, CastsShadows: p.Light.CastsShadows()}
		if p.Light.Type() == light.LightTypeDirectional {
			vl.Directional = true
		} else {
			vl.DistanceSq = distanceSq(p.Light.Position(), eye)
		}
		res.Lights = append(res.Lights, vl)
	}

	SortMeshes(res.Meshes, mode)
	SortMeshes(res.SkinnedMeshes, mode)
	SortLights(res.Lights)
	if r.maxLights > 0 && len(res.Lights) > r.maxLights {
		common.LogDebug("[Visibility] light budget %d exceeded by %d lights, truncating", r.maxLights, len(res.Lights)-r.maxLights)
		res.Lights = res.Lights[:r.maxLights]
	}

	res.Stats = r.culler.Stats()
	return *res
}

// visibleMesh computes distance, LOD and sort key for one surviving proxy.
func (r *resolver) visibleMesh(h common.Handle, p *proxy.MeshProxy, eye mgl32.Vec3) VisibleMesh {
	d := distanceSq(p.WorldBounds.Center(), eye)
	return VisibleMesh{
		Handle:     h,
		DistanceSq: d,
		LOD:        SelectLOD(d, r.thresholdsSq),
		SortKey:    SortKey(p.Material.Hash(), d),
	}
}

func distanceSq(a, b mgl32.Vec3) float32 {
	d := a.Sub(b)
	return d.Dot(d)
}
