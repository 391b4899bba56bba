// Package cluster partitions the view frustum into a 3D grid of screen tiles
// and exponential depth slices, and records which lights reach each cell.
package cluster

import (
	"fmt"
	"runtime"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/proxy"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-visibility/engine/visibility"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// clusterGrid is the implementation of the ClusterGrid interface.
type clusterGrid struct {
	grid                GridSize
	maxLightsPerCluster int
	maxLightIndices     int
	workers             int
	framesInFlight      int
	validateKernels     bool
	label               string

	params       frameParams
	hasParams    bool
	rebuildCount int
	frame        int

	clusters []Cluster
	indices  []uint32

	cpu *cpuStrategy
	gpu *gpuStrategy
}

// ClusterGrid assigns lights to view-space clusters. It runs on the GPU when
// the device supports compute and the kernels load; otherwise on the CPU.
// Both paths produce {offset, count} pairs into one flat light index list, in
// light order per cluster. When the list is full, later clusters are truncated
// first.
type ClusterGrid interface {
	// GPUAvailable reports whether light assignment runs on the GPU.
	GPUAvailable() bool

	// GridSize returns the grid resolution.
	GridSize() GridSize

	// Update recomputes the cluster AABBs when any input differs from the last
	// rebuild. Invalid inputs (non-positive size, near <= 0, far <= near) are
	// ignored.
	//
	// Parameters:
	//   - screenW, screenH: the render target size in pixels
	//   - near, far: the positive clip distances
	//   - invProj: the inverse projection matrix
	//
	// Returns:
	//   - bool: true if the AABBs were rebuilt
	Update(screenW, screenH int, near, far float32, invProj mgl32.Mat4) bool

	// RebuildCount returns how many times Update rebuilt the AABBs.
	RebuildCount() int

	// BeginFrame selects the frame-in-flight slot used by the next AssignLights.
	BeginFrame(frame int)

	// AssignLights fills the per-cluster light lists. At most
	// light.MaxGPULights lights take part, in slice order. Must follow a
	// successful Update.
	//
	// Parameters:
	//   - lights: view-space lights, highest priority first
	//
	// Returns:
	//   - error: when no Update has succeeded yet, or a GPU submission failed
	AssignLights(lights []ClusterLight) error

	// Clusters returns every cluster in index order (x fastest, then y, then z).
	// Offset and Count are only filled on the CPU path.
	Clusters() []Cluster

	// LightIndices returns the flat light index list of the CPU path.
	LightIndices() []uint32

	// ClusterAt returns the index of the cluster holding a pixel at a view-space distance.
	//
	// Parameters:
	//   - px, py: pixel coordinates, y down
	//   - depth: positive view-space distance
	//
	// Returns:
	//   - int: the flat cluster index
	ClusterAt(px, py int, depth float32) int

	// ClusterBuffer returns the GPU cluster AABB buffer, or nil on the CPU path.
	ClusterBuffer() renderer.Buffer

	// LightBuffer returns the current frame's GPU light buffer, or nil on the CPU path.
	LightBuffer() renderer.Buffer

	// LightInfoBuffer returns the current frame's {offset, count} buffer, or nil on the CPU path.
	LightInfoBuffer() renderer.Buffer

	// LightIndexBuffer returns the current frame's light index buffer, or nil on the CPU path.
	LightIndexBuffer() renderer.Buffer

	// Release frees GPU resources.
	Release()
}

var _ ClusterGrid = &clusterGrid{}

// NewClusterGrid creates a grid and selects its strategy. GPU initialization
// failures are logged and fall back to the CPU path.
//
// Parameters:
//   - dev: the device, may be nil
//   - options: functional options such as WithGridSize
//
// Returns:
//   - ClusterGrid: the grid
func NewClusterGrid(dev renderer.Device, options ...ClusterGridBuilderOption) ClusterGrid {
	c := &clusterGrid{
		grid:                GridSize{X: DefaultGridX, Y: DefaultGridY, Z: DefaultGridZ},
		maxLightsPerCluster: DefaultMaxLightsPerCluster,
		workers:             max(runtime.NumCPU()-1, 1),
		framesInFlight:      renderer.FramesInFlight,
		validateKernels:     true,
		label:               "clusters-" + uuid.NewString()[:8],
	}
	for _, opt := range options {
		opt(c)
	}
	if c.maxLightIndices <= 0 {
		c.maxLightIndices = c.grid.Count() * DefaultIndicesPerCluster
	}
	c.clusters = make([]Cluster, c.grid.Count())

	if dev != nil && dev.SupportsCompute() {
		if err := c.initGPU(dev); err != nil {
			common.LogWarn("[ClusterGrid] GPU light assignment unavailable, using CPU: %v", err)
			c.gpu = nil
		}
	}
	if c.gpu == nil {
		c.cpu = newCPUStrategy(c.workers)
	}
	common.LogDebug("[ClusterGrid] %s: %dx%dx%d grid, strategy %s", c.label, c.grid.X, c.grid.Y, c.grid.Z, c.strategyName())
	return c
}

func (c *clusterGrid) initGPU(dev renderer.Device) error {
	g, err := newGPUStrategy(dev, c.label, shader.WithValidation(c.validateKernels))
	if err != nil {
		return err
	}
	if err := g.resize(c.grid.Count(), c.maxLightIndices, c.framesInFlight); err != nil {
		g.releaseBuffers()
		return fmt.Errorf("allocate cluster buffers: %w", err)
	}
	c.gpu = g
	return nil
}

func (c *clusterGrid) strategyName() string {
	if c.gpu != nil {
		return c.gpu.name()
	}
	return c.cpu.name()
}

func (c *clusterGrid) GPUAvailable() bool {
	return c.gpu != nil
}

func (c *clusterGrid) GridSize() GridSize {
	return c.grid
}

func (c *clusterGrid) Update(screenW, screenH int, near, far float32, invProj mgl32.Mat4) bool {
	p := frameParams{width: screenW, height: screenH, near: near, far: far, invProj: invProj}
	if !p.valid() {
		return false
	}
	if c.hasParams && p == c.params {
		return false
	}
	c.params = p
	c.hasParams = true

	// bounds are kept on the CPU in both modes for ClusterAt and debugging
	buildBounds(c.clusters, c.grid, p)
	if c.gpu != nil {
		c.gpu.markRebuild()
	}
	c.rebuildCount++
	common.LogDebug("[ClusterGrid] rebuilt %d clusters for %dx%d near %.3f far %.1f", len(c.clusters), screenW, screenH, near, far)
	return true
}

func (c *clusterGrid) RebuildCount() int {
	return c.rebuildCount
}

func (c *clusterGrid) BeginFrame(frame int) {
	c.frame = frame
}

func (c *clusterGrid) AssignLights(lights []ClusterLight) error {
	if !c.hasParams {
		return fmt.Errorf("cluster grid %s: AssignLights before Update", c.label)
	}
	lights = lights[:min(len(lights), light.MaxGPULights)]

	if c.gpu != nil {
		if err := c.gpu.assign(c.frame, c.grid, c.params, lights, c.maxLightsPerCluster); err != nil {
			return fmt.Errorf("cluster grid %s: %w", c.label, err)
		}
		return nil
	}
	c.indices = c.cpu.assign(c.clusters, c.grid, lights, c.maxLightsPerCluster, c.maxLightIndices)
	return nil
}

func (c *clusterGrid) Clusters() []Cluster {
	return c.clusters
}

func (c *clusterGrid) LightIndices() []uint32 {
	return c.indices
}

func (c *clusterGrid) ClusterAt(px, py int, depth float32) int {
	if !c.hasParams {
		return 0
	}
	x := common.Clamp(px*int(c.grid.X)/c.params.width, 0, int(c.grid.X)-1)
	y := common.Clamp(py*int(c.grid.Y)/c.params.height, 0, int(c.grid.Y)-1)
	z := SliceForDepth(depth, c.grid.Z, c.params.near, c.params.far)
	return c.grid.Index(uint32(x), uint32(y), z)
}

func (c *clusterGrid) ClusterBuffer() renderer.Buffer {
	if c.gpu == nil {
		return nil
	}
	return c.gpu.clusters
}

func (c *clusterGrid) LightBuffer() renderer.Buffer {
	if c.gpu == nil {
		return nil
	}
	return c.gpu.current().lights
}

func (c *clusterGrid) LightInfoBuffer() renderer.Buffer {
	if c.gpu == nil {
		return nil
	}
	return c.gpu.current().lightInfo
}

func (c *clusterGrid) LightIndexBuffer() renderer.Buffer {
	if c.gpu == nil {
		return nil
	}
	return c.gpu.current().lightIndices
}

func (c *clusterGrid) Release() {
	if c.gpu != nil {
		c.gpu.releaseBuffers()
	}
	if c.cpu != nil {
		c.cpu.release()
	}
}

// LightsFromVisible converts the resolver's light list into view-space
// cluster lights, preserving order. Stale handles are skipped.
//
// Parameters:
//   - store: the proxy store the lights were resolved against
//   - visible: the visible lights, highest priority first
//   - view: the camera view matrix
//
// Returns:
//   - []ClusterLight: the converted lights
func LightsFromVisible(store proxy.Store, visible []visibility.VisibleLight, view mgl32.Mat4) []ClusterLight {
	out := make([]ClusterLight, 0, len(visible))
	for _, v := range visible {
		p := store.GetLight(v.Handle)
		if p == nil || p.Light == nil {
			continue
		}
		l := p.Light
		out = append(out, ClusterLight{
			Position:    view.Mul4x1(l.Position().Vec4(1)).Vec3(),
			Direction:   view.Mul4x1(l.Direction().Vec4(0)).Vec3(),
			Range:       l.Range(),
			Directional: l.Type() == light.LightTypeDirectional,
			Light:       l,
		})
	}
	return out
}
