// Package occlusion removes objects hidden behind nearer geometry using a
// hierarchical depth (Hi-Z) pyramid built from the depth prepass.
package occlusion

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// hiZCuller is the implementation of the HiZOcclusionCuller interface.
type hiZCuller struct {
	label           string
	maxObjects      int
	framesInFlight  int
	readback        bool
	software        bool
	validateKernels bool

	strategy strategy
	width    uint32
	height   uint32
	mips     uint32
	state    State
	frame    int
	tested   int
	groups   []DrawGroup
	slots    []uint32
}

// HiZOcclusionCuller tests frustum-surviving bounds against a max-depth pyramid.
// Each frame runs BuildPyramid, then Cull, then optionally Readback. A call made
// out of that order does nothing and reports false.
//
// Without a usable backend the culler is a pass-through: GPUBuildAvailable and
// GPUCullAvailable are false and CullTwoPhase returns its input unchanged.
type HiZOcclusionCuller interface {
	// Backend names the active strategy: "gpu", "software" or "passthrough".
	Backend() string

	// GPUBuildAvailable reports whether the pyramid is built on the GPU.
	GPUBuildAvailable() bool

	// GPUCullAvailable reports whether candidates are tested on the GPU.
	GPUCullAvailable() bool

	// FiltersOnCPU reports whether cull results reach the CPU, which is the
	// case for the software strategy and for the GPU in readback mode. When
	// false and GPUCullAvailable is true, results exist only in the draw args
	// and visible-instance buffers.
	FiltersOnCPU() bool

	// State returns the position in the per-frame sequence.
	State() State

	// MipCount returns the pyramid depth for the current size, or 0 before Resize.
	MipCount() uint32

	// Resize reallocates the pyramid for a new screen size and returns to StateIdle.
	//
	// Parameters:
	//   - width, height: the depth buffer size in texels
	//
	// Returns:
	//   - bool: true if the pyramid was reallocated
	Resize(width, height int) bool

	// BeginFrame selects the frame-in-flight slot used by the next Cull.
	BeginFrame(frame int)

	// BuildPyramid seeds mip 0 from depth and max-reduces every following mip.
	//
	// Parameters:
	//   - depth: the depth prepass output, the size given to Resize
	//
	// Returns:
	//   - bool: true if the pyramid was built
	BuildPyramid(depth DepthSource) bool

	// Cull tests candidates against the pyramid built this frame. Candidates past
	// the object capacity are not tested. On the GPU the tested candidates form
	// a single draw group with an index count of zero.
	//
	// Parameters:
	//   - candidates: world-space bounds that survived frustum culling
	//   - viewProj: the view-projection matrix the depth was rendered with
	//
	// Returns:
	//   - bool: true if the candidates were tested
	Cull(candidates []common.BoundingBox, viewProj mgl32.Mat4) bool

	// CullGroups tests candidates laid out in instance order, where groups
	// partition the candidate slots into instanced draws. On the GPU the pass
	// writes one DrawIndexedArgs record per group, in group order, and the
	// visible slots of each group from its FirstInstance on. Nothing is tested
	// when the candidates exceed the object capacity or the groups do not
	// cover every slot exactly once.
	//
	// Parameters:
	//   - candidates: world-space bounds, candidate i being instance i
	//   - groups: the instanced draws over the candidate slots
	//   - viewProj: the view-projection matrix the depth was rendered with
	//
	// Returns:
	//   - bool: true if the candidates were tested
	CullGroups(candidates []common.BoundingBox, groups []DrawGroup, viewProj mgl32.Mat4) bool

	// Readback returns one flag per tested candidate. On the GPU this blocks until
	// the cull pass finishes, so it belongs in tooling and tests, not the frame loop.
	//
	// Returns:
	//   - []bool: true for each visible candidate
	//   - error: ErrReadbackUnavailable when Cull has not run, or a device failure
	Readback() ([]bool, error)

	// CullTwoPhase culls and returns the handles whose bounds are not occluded.
	// Filtering happens when FiltersOnCPU is true; otherwise the GPU writes the
	// draw args of a single group and handles is returned unchanged. Untested
	// candidates stay visible.
	//
	// Parameters:
	//   - handles: the frustum-culled set
	//   - bounds: the bounds of each handle, same order and length
	//   - viewProj: the view-projection matrix
	//
	// Returns:
	//   - []common.Handle: the visible subset in input order
	CullTwoPhase(handles []common.Handle, bounds []common.BoundingBox, viewProj mgl32.Mat4) []common.Handle

	// DrawArgsBuffer returns the current frame's draw args buffer, one
	// DrawIndexedArgs record per group of the last cull, usable as the
	// indirect buffer of DrawIndexedIndirect at offset group*DrawArgsSize.
	// Nil unless GPUCullAvailable.
	DrawArgsBuffer() renderer.Buffer

	// VisibleInstancesBuffer returns the current frame's u32 remap from drawn
	// instance to candidate slot. Entries past a group's visible count are stale.
	// Nil unless GPUCullAvailable.
	VisibleInstancesBuffer() renderer.Buffer

	// Release frees GPU resources.
	Release()
}

var _ HiZOcclusionCuller = &hiZCuller{}

// NewHiZOcclusionCuller creates a culler and selects its strategy. Kernel or
// device failures are logged and leave the culler in pass-through.
//
// Parameters:
//   - dev: the device, may be nil
//   - options: functional options such as WithMaxObjects
//
// Returns:
//   - HiZOcclusionCuller: the culler
func NewHiZOcclusionCuller(dev renderer.Device, options ...HiZCullerBuilderOption) HiZOcclusionCuller {
	c := &hiZCuller{
		label:           "hiz-" + uuid.NewString()[:8],
		maxObjects:      DefaultMaxObjects,
		framesInFlight:  renderer.FramesInFlight,
		validateKernels: true,
	}
	for _, opt := range options {
		opt(c)
	}

	switch {
	case c.software:
		c.strategy = &softwareStrategy{}
	case dev != nil && dev.SupportsCompute():
		g, err := newGPUStrategy(dev, c.label, c.maxObjects, shader.WithValidation(c.validateKernels))
		if err != nil {
			common.LogWarn("[HiZ] %s: GPU occlusion unavailable, passing frustum results through: %v", c.label, err)
			c.strategy = passthroughStrategy{}
		} else {
			c.strategy = g
		}
	default:
		c.strategy = passthroughStrategy{}
	}
	common.LogDebug("[HiZ] %s: strategy %s", c.label, c.strategy.name())
	return c
}

func (c *hiZCuller) Backend() string {
	return c.strategy.name()
}

func (c *hiZCuller) GPUBuildAvailable() bool {
	_, ok := c.strategy.(*gpuStrategy)
	return ok
}

func (c *hiZCuller) GPUCullAvailable() bool {
	return c.GPUBuildAvailable() && c.strategy.canCull()
}

func (c *hiZCuller) FiltersOnCPU() bool {
	return c.software || (c.GPUCullAvailable() && c.readback)
}

func (c *hiZCuller) State() State {
	return c.state
}

func (c *hiZCuller) MipCount() uint32 {
	return c.mips
}

func (c *hiZCuller) Resize(width, height int) bool {
	if width <= 0 || height <= 0 || !c.strategy.canBuild() {
		return false
	}
	w, h := uint32(width), uint32(height)
	c.state = StateIdle
	if w == c.width && h == c.height {
		return false
	}
	mips := MipCount(w, h)
	if err := c.strategy.resize(w, h, mips, c.framesInFlight); err != nil {
		common.LogWarn("[HiZ] %s: pyramid allocation failed, passing frustum results through: %v", c.label, err)
		c.strategy.release()
		c.strategy = passthroughStrategy{}
		c.width, c.height, c.mips = 0, 0, 0
		return false
	}
	c.width, c.height, c.mips = w, h, mips
	common.LogDebug("[HiZ] %s: pyramid %dx%d, %d mips", c.label, w, h, mips)
	return true
}

func (c *hiZCuller) BeginFrame(frame int) {
	c.frame = frame
}

func (c *hiZCuller) BuildPyramid(depth DepthSource) bool {
	if c.mips == 0 || !c.strategy.canBuild() {
		return false
	}
	if err := c.strategy.build(depth); err != nil {
		common.LogWarn("[HiZ] %s: build pyramid: %v", c.label, err)
		c.state = StateIdle
		return false
	}
	c.state = StatePyramidBuilt
	return true
}

func (c *hiZCuller) Cull(candidates []common.BoundingBox, viewProj mgl32.Mat4) bool {
	if c.state != StatePyramidBuilt || !c.strategy.canCull() {
		return false
	}
	n := min(len(candidates), c.maxObjects)
	if n < len(candidates) {
		common.LogDebug("[HiZ] %s: %d candidates over capacity, %d left untested", c.label, len(candidates), len(candidates)-n)
	}
	c.groups = append(c.groups[:0], DrawGroup{InstanceCount: uint32(n)})
	c.slots = slices.Grow(c.slots[:0], n)[:n]
	clear(c.slots)
	return c.cull(candidates[:n], drawLayout{groups: c.groups, slots: c.slots}, viewProj)
}

func (c *hiZCuller) CullGroups(candidates []common.BoundingBox, groups []DrawGroup, viewProj mgl32.Mat4) bool {
	if c.state != StatePyramidBuilt || !c.strategy.canCull() {
		return false
	}
	if len(candidates) > c.maxObjects || len(groups) > c.maxObjects {
		common.LogWarn("[HiZ] %s: %d candidates in %d groups over capacity %d, skipping occlusion", c.label, len(candidates), len(groups), c.maxObjects)
		return false
	}
	slots, err := groupIndex(c.slots, groups, len(candidates))
	if err != nil {
		common.LogWarn("[HiZ] %s: draw groups: %v", c.label, err)
		return false
	}
	c.slots = slots
	return c.cull(candidates, drawLayout{groups: groups, slots: slots}, viewProj)
}

func (c *hiZCuller) cull(candidates []common.BoundingBox, layout drawLayout, viewProj mgl32.Mat4) bool {
	params := GPUCullParams{
		ViewProj:    viewProj,
		ScreenSize:  [2]float32{float32(c.width), float32(c.height)},
		ObjectCount: uint32(len(candidates)),
		MipCount:    c.mips,
	}
	if err := c.strategy.cull(c.frame, candidates, layout, params); err != nil {
		common.LogWarn("[HiZ] %s: cull: %v", c.label, err)
		return false
	}
	c.tested = len(candidates)
	c.state = StateCulled
	return true
}

func (c *hiZCuller) Readback() ([]bool, error) {
	if c.state != StateCulled {
		return nil, ErrReadbackUnavailable
	}
	flags, ok, err := c.strategy.results(c.tested)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReadbackUnavailable
	}
	c.state = StateReadBack
	return flags, nil
}

func (c *hiZCuller) CullTwoPhase(handles []common.Handle, bounds []common.BoundingBox, viewProj mgl32.Mat4) []common.Handle {
	if len(handles) != len(bounds) {
		common.LogWarn("[HiZ] %s: %d handles but %d bounds, skipping occlusion", c.label, len(handles), len(bounds))
		return handles
	}
	if !c.Cull(bounds, viewProj) {
		return handles
	}
	if !c.FiltersOnCPU() {
		return handles
	}
	flags, err := c.Readback()
	if err != nil {
		common.LogWarn("[HiZ] %s: readback: %v", c.label, err)
		return handles
	}
	out := make([]common.Handle, 0, len(handles))
	for i, h := range handles {
		if i >= len(flags) || flags[i] {
			out = append(out, h)
		}
	}
	return out
}

func (c *hiZCuller) DrawArgsBuffer() renderer.Buffer {
	if !c.GPUCullAvailable() {
		return nil
	}
	return c.strategy.drawArgs()
}

func (c *hiZCuller) VisibleInstancesBuffer() renderer.Buffer {
	if !c.GPUCullAvailable() {
		return nil
	}
	return c.strategy.visibleInstances()
}

func (c *hiZCuller) Release() {
	c.strategy.release()
	c.state = StateIdle
	c.width, c.height, c.mips = 0, 0, 0
}
