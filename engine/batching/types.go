package batching

import (
	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
)

// DefaultMaxInstancesPerDraw caps how many instances one instanced draw may cover.
const DefaultMaxInstancesPerDraw = 1024

// DrawCommand is one visible mesh ready to draw.
type DrawCommand struct {
	Mesh       common.Handle
	GPUMesh    common.Handle
	IndexCount uint32
	World      mgl32.Mat4
	PrevWorld  mgl32.Mat4
	Normal     mgl32.Mat4
	LOD        uint8
	Material   material.Material
	Skinned    bool
}

// Instance returns the GPU instance record of the command.
func (c *DrawCommand) Instance() GPUInstance {
	return GPUInstance{World: c.World, PrevWorld: c.PrevWorld, Normal: c.Normal}
}

// DrawBatch is a contiguous run of commands sharing a material and a
// transparency class. Start and Count index the batcher's command list.
type DrawBatch struct {
	Material    material.Material
	Start       uint32
	Count       uint32
	Skinned     bool
	Transparent bool
}

// InstanceGroup is a contiguous run of static commands sharing a material and a
// GPU mesh, drawn with one instanced call. InstanceStart indexes the instance
// buffer, CommandStart the command list; both ranges are InstanceCount long.
type InstanceGroup struct {
	GPUMesh       common.Handle
	IndexCount    uint32
	Material      material.Material
	InstanceStart uint32
	InstanceCount uint32
	CommandStart  uint32
	Transparent   bool
}

// BatchStats summarizes the last Build.
type BatchStats struct {
	StaticCommands  int
	SkinnedCommands int
	Batches         int
	InstanceGroups  int
	OpaqueInstances int
	Instances       int
}

// DrawCalls is the number of draws the build needs when static meshes are
// instanced: one per instance group plus one per skinned command.
func (s BatchStats) DrawCalls() int {
	return s.InstanceGroups + s.SkinnedCommands
}
