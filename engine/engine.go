// Package engine runs one frame of visibility work: frustum culling and LOD,
// Hi-Z occlusion, clustered light assignment and draw batching, in that order.
package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/batching"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/cluster"
	"github.com/Carmen-Shannon/oxy-visibility/engine/config"
	"github.com/Carmen-Shannon/oxy-visibility/engine/occlusion"
	"github.com/Carmen-Shannon/oxy-visibility/engine/profiler"
	"github.com/Carmen-Shannon/oxy-visibility/engine/proxy"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/visibility"
)

// FrameInput is everything one Run call reads.
type FrameInput struct {
	// Store holds the proxies to cull.
	Store proxy.Store
	// Camera is the viewing camera.
	Camera camera.Camera
	// Depth is the depth prepass output to occlusion-cull against. Nil skips occlusion.
	Depth *occlusion.DepthSource
}

// Frame is the output of one Run call. Slices are owned by the pipeline and
// are overwritten by the next Run.
type Frame struct {
	// Index is the frame number BeginFrame returned.
	Index int
	// Visibility is the resolver output after occlusion filtering.
	Visibility visibility.Result
	// Occluded counts meshes removed by the Hi-Z pass.
	Occluded int
	// Commands, Batches and Groups are the batcher output.
	Commands []batching.DrawCommand
	Batches  []batching.DrawBatch
	Groups   []batching.InstanceGroup
	// Instances is the uploaded instance buffer, nil without a device.
	Instances renderer.Buffer
	// DrawArgs and VisibleInstances are set when occlusion ran on the GPU
	// without readback. DrawArgs holds one occlusion.DrawIndexedArgs record per
	// entry of Groups and VisibleInstances maps each drawn instance to its slot
	// in Instances. Visibility and Occluded are not filtered on that path, and
	// skinned commands are drawn without an occlusion test.
	DrawArgs         renderer.Buffer
	VisibleInstances renderer.Buffer
	// Stats are the counters reported to the profiler.
	Stats profiler.FrameStats
}

// pipeline implements the VisibilityPipeline interface.
type pipeline struct {
	device           renderer.Device
	cfg              config.Config
	profilingEnabled bool
	width            int
	height           int

	frame    int
	resolver visibility.Resolver
	culler   occlusion.HiZOcclusionCuller
	grid     cluster.ClusterGrid
	batcher  batching.DrawBatcher
	profiler *profiler.Profiler

	meshes        []visibility.VisibleMesh
	skinned       []visibility.VisibleSkinnedMesh
	occluderIDs   []common.Handle
	occluderBoxes []common.BoundingBox
	drawGroups    []occlusion.DrawGroup
}

// VisibilityPipeline owns every stage of per-frame visibility and runs them in
// dependency order on the calling goroutine.
type VisibilityPipeline interface {
	// BeginFrame advances the frame counter and selects the frame-in-flight
	// slot of every multi-buffered stage.
	//
	// Returns:
	//   - int: the new frame number
	BeginFrame() int

	// Resize updates the render target size used by the cluster grid and the Hi-Z pyramid.
	//
	// Parameters:
	//   - width, height: the size in pixels
	Resize(width, height int)

	// Run resolves visibility for one frame.
	//
	// Parameters:
	//   - in: the store, camera and optional depth
	//
	// Returns:
	//   - Frame: the frame output
	//   - error: when a GPU submission fails; CPU stages never fail
	Run(in FrameInput) (Frame, error)

	// ApplyConfig applies the settings that can change between frames: LOD
	// thresholds, light budget, sort mode, log level and profiling interval.
	// Grid and buffer sizes only take effect in a new pipeline.
	//
	// Parameters:
	//   - cfg: the new configuration
	ApplyConfig(cfg config.Config)

	// EnableProfiler enables culling statistics output to the log.
	EnableProfiler()

	// DisableProfiler disables culling statistics output.
	DisableProfiler()

	// Resolver returns the visibility resolver.
	Resolver() visibility.Resolver

	// Occlusion returns the Hi-Z culler.
	Occlusion() occlusion.HiZOcclusionCuller

	// Clusters returns the cluster grid.
	Clusters() cluster.ClusterGrid

	// Batcher returns the draw batcher.
	Batcher() batching.DrawBatcher

	// Release frees every GPU resource the stages hold.
	Release()
}

var _ VisibilityPipeline = &pipeline{}

// NewVisibilityPipeline creates a pipeline and builds each stage from the
// configuration. Stages pick GPU or CPU strategies from the device.
//
// Parameters:
//   - options: functional options such as WithDevice and WithConfig
//
// Returns:
//   - VisibilityPipeline: the newly created pipeline
func NewVisibilityPipeline(options ...PipelineBuilderOption) VisibilityPipeline {
	p := &pipeline{
		cfg:    config.Default(),
		width:  1280,
		height: 720,
		frame:  -1,
	}
	for _, opt := range options {
		opt(p)
	}
	common.SetLogLevel(p.cfg.Level())
	p.resolver = visibility.NewResolver(p.cfg.VisibilityOptions()...)
	p.culler = occlusion.NewHiZOcclusionCuller(p.device, p.cfg.OcclusionOptions()...)
	p.grid = cluster.NewClusterGrid(p.device, p.cfg.ClusterOptions()...)
	p.batcher = batching.NewDrawBatcher(append(p.cfg.BatcherOptions(), batching.WithDevice(p.device))...)
	p.profiler = profiler.NewProfiler(profiler.WithInterval(time.Duration(p.cfg.Pipeline.ProfileInterval)))
	p.culler.Resize(p.width, p.height)

	clusters := "cpu"
	if p.grid.GPUAvailable() {
		clusters = "gpu"
	}
	common.LogInfo("[Pipeline] ready: occlusion %s, clusters on %s, %dx%d", p.culler.Backend(), clusters, p.width, p.height)
	return p
}

func (p *pipeline) BeginFrame() int {
	p.frame++
	p.culler.BeginFrame(p.frame)
	p.grid.BeginFrame(p.frame)
	return p.frame
}

func (p *pipeline) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	p.width, p.height = width, height
	p.culler.Resize(width, height)
}

func (p *pipeline) Run(in FrameInput) (Frame, error) {
	start := time.Now()
	if p.frame < 0 {
		p.BeginFrame()
	}
	f := Frame{Index: p.frame}

	vis := p.resolver.Resolve(in.Store, in.Camera, p.cfg.SortMode())
	candidates := len(vis.Meshes) + len(vis.SkinnedMeshes)
	useOcclusion := p.cfg.Occlusion.Enabled && in.Depth != nil && in.Camera != nil
	gpuDraws := useOcclusion && p.culler.GPUCullAvailable() && !p.culler.FiltersOnCPU()
	if useOcclusion && !gpuDraws {
		vis, f.Occluded = p.occlude(in, vis)
	}
	f.Visibility = vis

	if in.Camera != nil {
		cam := in.Camera
		p.grid.Update(p.width, p.height, cam.Near(), cam.Far(), cam.InverseProjectionMatrix())
		lights := cluster.LightsFromVisible(in.Store, vis.Lights, cam.ViewMatrix())
		if err := p.grid.AssignLights(lights); err != nil {
			return f, fmt.Errorf("frame %d: %w", p.frame, err)
		}
	}

	p.batcher.Build(in.Store, vis)
	f.Commands = p.batcher.Commands()
	f.Batches = p.batcher.Batches()
	f.Groups = p.batcher.InstanceGroups()
	if p.device != nil {
		buf, err := p.batcher.Upload(p.frame)
		if err != nil {
			return f, fmt.Errorf("frame %d: %w", p.frame, err)
		}
		f.Instances = buf
	}
	if gpuDraws && p.cullDraws(in) {
		f.DrawArgs = p.culler.DrawArgsBuffer()
		f.VisibleInstances = p.culler.VisibleInstancesBuffer()
	}

	bs := p.batcher.Stats()
	f.Stats = profiler.FrameStats{
		Candidates:     candidates,
		VisibleMeshes:  len(vis.Meshes),
		VisibleSkinned: len(vis.SkinnedMeshes),
		VisibleLights:  len(vis.Lights),
		Occluded:       f.Occluded,
		DrawCalls:      bs.DrawCalls(),
		Instances:      bs.Instances,
		LightIndices:   len(p.grid.LightIndices()),
		CPUTime:        time.Since(start),
	}
	if p.profilingEnabled {
		p.profiler.Record(f.Stats)
	}
	return f, nil
}

// occlude runs the Hi-Z pass over the static then skinned meshes and returns
// the result with occluded entries removed, order preserved.
func (p *pipeline) occlude(in FrameInput, vis visibility.Result) (visibility.Result, int) {
	if !p.culler.BuildPyramid(*in.Depth) {
		return vis, 0
	}

	// positional ids, since static and skinned handles come from separate tables
	p.occluderIDs = p.occluderIDs[:0]
	p.occluderBoxes = p.occluderBoxes[:0]
	add := func(b common.BoundingBox) {
		p.occluderIDs = append(p.occluderIDs, common.Handle{Index: uint32(len(p.occluderIDs)), Generation: 1})
		p.occluderBoxes = append(p.occluderBoxes, b)
	}
	for _, m := range vis.Meshes {
		add(in.Store.GetMesh(m.Handle).WorldBounds)
	}
	for _, m := range vis.SkinnedMeshes {
		add(in.Store.GetSkinnedMesh(m.Handle).WorldBounds)
	}

	survivors := p.culler.CullTwoPhase(p.occluderIDs, p.occluderBoxes, in.Camera.ViewProjectionMatrix())
	if len(survivors) == len(p.occluderIDs) {
		return vis, 0
	}

	p.meshes = p.meshes[:0]
	p.skinned = p.skinned[:0]
	nStatic := uint32(len(vis.Meshes))
	for _, h := range survivors {
		if h.Index < nStatic {
			p.meshes = append(p.meshes, vis.Meshes[h.Index])
		} else {
			p.skinned = append(p.skinned, vis.SkinnedMeshes[h.Index-nStatic])
		}
	}
	occluded := len(p.occluderIDs) - len(survivors)
	vis.Meshes = p.meshes
	vis.SkinnedMeshes = p.skinned
	return vis, occluded
}

// cullDraws runs the Hi-Z pass over the static instances of the last Build in
// instance buffer order, one draw group per instance group, and leaves the
// results on the GPU.
func (p *pipeline) cullDraws(in FrameInput) bool {
	if !p.culler.BuildPyramid(*in.Depth) {
		return false
	}
	cmds := p.batcher.Commands()
	n := len(p.batcher.InstanceData())
	p.occluderBoxes = slices.Grow(p.occluderBoxes[:0], n)[:n]
	p.drawGroups = p.drawGroups[:0]
	for _, g := range p.batcher.InstanceGroups() {
		for k := range g.InstanceCount {
			p.occluderBoxes[g.InstanceStart+k] = in.Store.GetMesh(cmds[g.CommandStart+k].Mesh).WorldBounds
		}
		p.drawGroups = append(p.drawGroups, occlusion.DrawGroup{
			IndexCount:    g.IndexCount,
			InstanceStart: g.InstanceStart,
			InstanceCount: g.InstanceCount,
		})
	}
	return p.culler.CullGroups(p.occluderBoxes, p.drawGroups, in.Camera.ViewProjectionMatrix())
}

func (p *pipeline) ApplyConfig(cfg config.Config) {
	if err := cfg.Validate(); err != nil {
		common.LogWarn("[Pipeline] ignoring invalid config: %v", err)
		return
	}
	p.cfg = cfg
	common.SetLogLevel(cfg.Level())
	p.resolver.SetLODThresholds(cfg.Visibility.LODThresholds)
	p.resolver.SetMaxLights(cfg.Visibility.MaxLights)
	p.profiler = profiler.NewProfiler(profiler.WithInterval(time.Duration(cfg.Pipeline.ProfileInterval)))
	common.LogDebug("[Pipeline] config applied: sort %s, max lights %d", cfg.Visibility.SortMode, cfg.Visibility.MaxLights)
}

func (p *pipeline) EnableProfiler() {
	p.profilingEnabled = true
}

func (p *pipeline) DisableProfiler() {
	p.profilingEnabled = false
}

func (p *pipeline) Resolver() visibility.Resolver {
	return p.resolver
}

func (p *pipeline) Occlusion() occlusion.HiZOcclusionCuller {
	return p.culler
}

func (p *pipeline) Clusters() cluster.ClusterGrid {
	return p.grid
}

func (p *pipeline) Batcher() batching.DrawBatcher {
	return p.batcher
}

func (p *pipeline) Release() {
	p.batcher.Release()
	p.grid.Release()
	p.culler.Release()
}
