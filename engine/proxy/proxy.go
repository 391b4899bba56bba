// Package proxy defines the render-side mirrors of scene objects that the
// visibility pipeline consumes, and the store contract it reads them through.
package proxy

import (
	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
)

// MeshProxy is the renderable state of one static mesh instance.
type MeshProxy struct {
	// GPUMesh references the uploaded mesh resource the proxy draws. Proxies
	// sharing a GPUMesh and a Material are instanced together.
	GPUMesh common.Handle
	// IndexCount is the index count of GPUMesh, the per-instance size of an indexed draw.
	IndexCount uint32
	// Material is the material the mesh is drawn with.
	Material material.Material
	// World is the current object-to-world transform.
	World mgl32.Mat4
	// PrevWorld is last frame's World, kept for motion vectors.
	PrevWorld mgl32.Mat4
	// LocalBounds is the mesh-space bounding box.
	LocalBounds common.BoundingBox
	// WorldBounds is LocalBounds transformed by World.
	WorldBounds common.BoundingBox
	// Active is false for proxies that exist but are parked.
	Active bool
	// Visible is the user-facing hide flag.
	Visible bool
}

// Renderable reports whether the proxy takes part in culling at all.
//
// Returns:
//   - bool: true when the proxy is active, visible and has a material
func (p *MeshProxy) Renderable() bool {
	return p.Active && p.Visible && p.Material != nil
}

// SetTransform moves the current world matrix into PrevWorld, stores world and
// refreshes WorldBounds.
//
// Parameters:
//   - world: the new object-to-world transform
func (p *MeshProxy) SetTransform(world mgl32.Mat4) {
	p.PrevWorld = p.World
	p.World = world
	p.WorldBounds = p.LocalBounds.Transform(world)
}

// SkinnedMeshProxy is a mesh proxy deformed by a skeleton. Skinned meshes carry
// per-instance bone data and are therefore never instanced.
type SkinnedMeshProxy struct {
	MeshProxy
	// Skeleton references the bone palette resource for this instance.
	Skeleton common.Handle
	// BoneCount is the number of bones in the palette.
	BoneCount uint32
}

// LightProxy is the render-side mirror of a scene light.
type LightProxy struct {
	Light  light.Light
	Active bool
}

// Renderable reports whether the light takes part in culling.
//
// Returns:
//   - bool: true when the proxy is active and its light is enabled
func (p *LightProxy) Renderable() bool {
	return p.Active && p.Light != nil && p.Light.Enabled()
}

// Store is the read side of the proxy layer. ForEach* visit live proxies in
// stable slot order and stop when visit returns false. Get* return nil for
// stale or unknown handles.
//
// Implementations need not be safe for concurrent mutation; proxies are only
// created and destroyed between frames.
type Store interface {
	ForEachMesh(visit func(h common.Handle, p *MeshProxy) bool)
	ForEachSkinnedMesh(visit func(h common.Handle, p *SkinnedMeshProxy) bool)
	ForEachLight(visit func(h common.Handle, p *LightProxy) bool)

	GetMesh(h common.Handle) *MeshProxy
	GetSkinnedMesh(h common.Handle) *SkinnedMeshProxy
	GetLight(h common.Handle) *LightProxy
}
