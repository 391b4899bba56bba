package scene

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/proxy"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
)

// MeshAsset is a registered GPU mesh resource. Mesh proxies reference it by
// handle and inherit its local bounds.
type MeshAsset struct {
	Name        string
	LocalBounds common.BoundingBox
	VertexCount uint32
	IndexCount  uint32
}

// Scene is the reference proxy store. Every resource it owns (mesh assets,
// static and skinned mesh proxies, lights and cameras) lives in a generation
// checked handle table, so handles to removed entries fail to resolve even
// after their slot has been reused.
type Scene interface {
	proxy.Store

	// Name returns the scene name.
	//
	// Returns:
	//   - string: the name
	Name() string

	// RegisterMesh registers a GPU mesh resource.
	//
	// Parameters:
	//   - asset: the mesh description
	//
	// Returns:
	//   - common.Handle: handle used by AddMesh and AddSkinnedMesh
	RegisterMesh(asset MeshAsset) common.Handle

	// UnregisterMesh releases a mesh resource. Proxies still referencing it are
	// left in place but no longer resolve their asset.
	//
	// Parameters:
	//   - h: the mesh resource handle
	//
	// Returns:
	//   - bool: true if a live resource was released
	UnregisterMesh(h common.Handle) bool

	// GetMeshAsset resolves a mesh resource handle.
	//
	// Parameters:
	//   - h: the mesh resource handle
	//
	// Returns:
	//   - *MeshAsset: the resource or nil when stale
	GetMeshAsset(h common.Handle) *MeshAsset

	// AddMesh creates an active, visible static mesh proxy.
	//
	// Parameters:
	//   - mesh: a handle from RegisterMesh
	//   - mat: the material to draw with
	//   - world: the initial object-to-world transform
	//
	// Returns:
	//   - common.Handle: the proxy handle, or the zero handle when mesh is stale
	AddMesh(mesh common.Handle, mat material.Material, world mgl32.Mat4) common.Handle

	// RemoveMesh destroys a static mesh proxy.
	//
	// Parameters:
	//   - h: the proxy handle
	//
	// Returns:
	//   - bool: true if a live proxy was removed
	RemoveMesh(h common.Handle) bool

	// AddSkinnedMesh creates an active, visible skinned mesh proxy.
	//
	// Parameters:
	//   - mesh: a handle from RegisterMesh
	//   - mat: the material to draw with
	//   - world: the initial object-to-world transform
	//   - boneCount: the number of bones in the skeleton palette
	//
	// Returns:
	//   - common.Handle: the proxy handle, or the zero handle when mesh is stale
	AddSkinnedMesh(mesh common.Handle, mat material.Material, world mgl32.Mat4, boneCount uint32) common.Handle

	// RemoveSkinnedMesh destroys a skinned mesh proxy.
	//
	// Parameters:
	//   - h: the proxy handle
	//
	// Returns:
	//   - bool: true if a live proxy was removed
	RemoveSkinnedMesh(h common.Handle) bool

	// SetMeshTransform updates the world transform of a static mesh proxy,
	// shifting the previous transform into PrevWorld.
	//
	// Parameters:
	//   - h: a handle returned by AddMesh
	//   - world: the new transform
	//
	// Returns:
	//   - bool: false when h is stale
	SetMeshTransform(h common.Handle, world mgl32.Mat4) bool

	// SetSkinnedMeshTransform is SetMeshTransform for skinned mesh proxies.
	// Handles are only meaningful to the table that issued them.
	//
	// Parameters:
	//   - h: a handle returned by AddSkinnedMesh
	//   - world: the new transform
	//
	// Returns:
	//   - bool: false when h is stale
	SetSkinnedMeshTransform(h common.Handle, world mgl32.Mat4) bool

	// AddLight creates an active light proxy.
	//
	// Parameters:
	//   - l: the light
	//
	// Returns:
	//   - common.Handle: the proxy handle
	AddLight(l light.Light) common.Handle

	// RemoveLight destroys a light proxy.
	//
	// Parameters:
	//   - h: the proxy handle
	//
	// Returns:
	//   - bool: true if a live proxy was removed
	RemoveLight(h common.Handle) bool

	// AddCamera registers a camera proxy.
	//
	// Parameters:
	//   - cam: the camera
	//
	// Returns:
	//   - common.Handle: the proxy handle
	AddCamera(cam camera.Camera) common.Handle

	// RemoveCamera releases a camera proxy.
	//
	// Parameters:
	//   - h: the proxy handle
	//
	// Returns:
	//   - bool: true if a live camera was removed
	RemoveCamera(h common.Handle) bool

	// GetCamera resolves a camera handle.
	//
	// Parameters:
	//   - h: the proxy handle
	//
	// Returns:
	//   - camera.Camera: the camera or nil when stale
	GetCamera(h common.Handle) camera.Camera

	// Counts returns the number of live static meshes, skinned meshes and lights.
	//
	// Returns:
	//   - meshes, skinned, lights: live proxy counts
	Counts() (meshes, skinned, lights int)

	// Clear destroys every proxy and resource. All outstanding handles become stale.
	Clear()
}

type scene struct {
	mu *sync.RWMutex

	name     string
	capacity int

	assets  *common.HandleTable[MeshAsset]
	meshes  *common.HandleTable[proxy.MeshProxy]
	skinned *common.HandleTable[proxy.SkinnedMeshProxy]
	lights  *common.HandleTable[proxy.LightProxy]
	cameras *common.HandleTable[camera.Camera]
}

// Ensure scene implements Scene interface.
var _ Scene = &scene{}

// NewScene creates an empty Scene.
//
// Parameters:
//   - name: the name of the scene
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:       &sync.RWMutex{},
		name:     name,
		capacity: 256,
	}
	for _, option := range options {
		option(s)
	}
	s.reset()
	return s
}

// reset allocates fresh tables. Caller must hold the write lock or own s exclusively.
func (s *scene) reset() {
	s.assets = common.NewHandleTable[MeshAsset](16)
	s.meshes = common.NewHandleTable[proxy.MeshProxy](s.capacity)
	s.skinned = common.NewHandleTable[proxy.SkinnedMeshProxy](s.capacity / 4)
	s.lights = common.NewHandleTable[proxy.LightProxy](s.capacity / 4)
	s.cameras = common.NewHandleTable[camera.Camera](1)
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) RegisterMesh(asset MeshAsset) common.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assets.Allocate(asset)
}

func (s *scene) UnregisterMesh(h common.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assets.Release(h)
}

func (s *scene) GetMeshAsset(h common.Handle) *MeshAsset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assets.Get(h)
}

func (s *scene) AddMesh(mesh common.Handle, mat material.Material, world mgl32.Mat4) common.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.newMeshProxy(mesh, mat, world)
	if !ok {
		common.LogWarn("[Scene] %s: AddMesh with stale mesh handle %v", s.name, mesh)
		return common.Handle{}
	}
	return s.meshes.Allocate(p)
}

func (s *scene) RemoveMesh(h common.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meshes.Release(h)
}

func (s *scene) AddSkinnedMesh(mesh common.Handle, mat material.Material, world mgl32.Mat4, boneCount uint32) common.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.newMeshProxy(mesh, mat, world)
	if !ok {
		common.LogWarn("[Scene] %s: AddSkinnedMesh with stale mesh handle %v", s.name, mesh)
		return common.Handle{}
	}
	return s.skinned.Allocate(proxy.SkinnedMeshProxy{MeshProxy: p, BoneCount: boneCount})
}

func (s *scene) RemoveSkinnedMesh(h common.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skinned.Release(h)
}

// newMeshProxy builds a proxy whose PrevWorld equals World. Caller must hold the write lock.
func (s *scene) newMeshProxy(mesh common.Handle, mat material.Material, world mgl32.Mat4) (proxy.MeshProxy, bool) {
	asset := s.assets.Get(mesh)
	if asset == nil {
		return proxy.MeshProxy{}, false
	}
	return proxy.MeshProxy{
		GPUMesh:     mesh,
		IndexCount:  asset.IndexCount,
		Material:    mat,
		World:       world,
		PrevWorld:   world,
		LocalBounds: asset.LocalBounds,
		WorldBounds: asset.LocalBounds.Transform(world),
		Active:      true,
		Visible:     true,
	}, true
}

func (s *scene) SetMeshTransform(h common.Handle, world mgl32.Mat4) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.meshes.Get(h)
	if p == nil {
		return false
	}
	p.SetTransform(world)
	return true
}

func (s *scene) SetSkinnedMeshTransform(h common.Handle, world mgl32.Mat4) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.skinned.Get(h)
	if p == nil {
		return false
	}
	p.SetTransform(world)
	return true
}

func (s *scene) AddLight(l light.Light) common.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lights.Allocate(proxy.LightProxy{Light: l, Active: true})
}

func (s *scene) RemoveLight(h common.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lights.Release(h)
}

func (s *scene) AddCamera(cam camera.Camera) common.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameras.Allocate(cam)
}

func (s *scene) RemoveCamera(h common.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameras.Release(h)
}

func (s *scene) GetCamera(h common.Handle) camera.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.cameras.Get(h); c != nil {
		return *c
	}
	return nil
}

func (s *scene) Counts() (meshes, skinned, lights int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meshes.Len(), s.skinned.Len(), s.lights.Len()
}

func (s *scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Release rather than reallocate so outstanding handles stay stale.
	releaseAll(s.meshes)
	releaseAll(s.skinned)
	releaseAll(s.lights)
	releaseAll(s.cameras)
	releaseAll(s.assets)
}

func releaseAll[T any](t *common.HandleTable[T]) {
	var live []common.Handle
	t.ForEach(func(h common.Handle, _ *T) bool {
		live = append(live, h)
		return true
	})
	for _, h := range live {
		t.Release(h)
	}
}

// The proxy.Store methods below take the read lock for the duration of the
// visit. Visitors must not call mutating Scene methods.

func (s *scene) ForEachMesh(visit func(h common.Handle, p *proxy.MeshProxy) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.meshes.ForEach(visit)
}

func (s *scene) ForEachSkinnedMesh(visit func(h common.Handle, p *proxy.SkinnedMeshProxy) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.skinned.ForEach(visit)
}

func (s *scene) ForEachLight(visit func(h common.Handle, p *proxy.LightProxy) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.lights.ForEach(visit)
}

func (s *scene) GetMesh(h common.Handle) *proxy.MeshProxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meshes.Get(h)
}

func (s *scene) GetSkinnedMesh(h common.Handle) *proxy.SkinnedMeshProxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skinned.Get(h)
}

func (s *scene) GetLight(h common.Handle) *proxy.LightProxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lights.Get(h)
}
