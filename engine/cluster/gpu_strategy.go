package cluster

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
)

// gpuFrame holds the buffers written or produced each frame.
type gpuFrame struct {
	uniforms     renderer.Buffer
	lights       renderer.Buffer
	lightInfo    renderer.Buffer
	lightIndices renderer.Buffer
	counter      renderer.Buffer
}

func (f gpuFrame) each(visit func(renderer.Buffer)) {
	for _, b := range []renderer.Buffer{f.uniforms, f.lights, f.lightInfo, f.lightIndices, f.counter} {
		if b != nil {
			visit(b)
		}
	}
}

// gpuStrategy builds cluster bounds and assigns lights with compute kernels.
type gpuStrategy struct {
	device renderer.Device
	label  string

	build renderer.ComputePipeline
	cull  renderer.ComputePipeline

	clusters     renderer.Buffer
	frames       *renderer.FrameRing[gpuFrame]
	clusterCount int
	maxIndices   int
	needsBuild   bool
}

// newGPUStrategy loads and registers both kernels. Any failure is returned so the
// grid can fall back to the CPU.
func newGPUStrategy(d renderer.Device, label string, options ...shader.ShaderOption) (*gpuStrategy, error) {
	if !d.SupportsCompute() {
		return nil, renderer.ErrNoCompute
	}
	g := &gpuStrategy{device: d, label: label}

	for _, k := range []struct {
		key string
		dst *renderer.ComputePipeline
	}{
		{shader.KeyClusterBuild, &g.build},
		{shader.KeyClusterCull, &g.cull},
	} {
		s, err := shader.LoadKernel(k.key, options...)
		if err != nil {
			return nil, err
		}
		p, err := d.RegisterComputePipeline(s)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", k.key, err)
		}
		*k.dst = p
	}
	return g, nil
}

func (g *gpuStrategy) name() string { return "gpu" }

// resize (re)allocates every buffer whose size depends on the grid or index capacity.
func (g *gpuStrategy) resize(clusterCount, maxIndices, framesInFlight int) error {
	if g.frames != nil && clusterCount == g.clusterCount && maxIndices == g.maxIndices {
		return nil
	}
	g.releaseBuffers()

	clusters, err := g.device.CreateBuffer(renderer.BufferDescriptor{
		Label: g.label + " clusters",
		Size:  uint64(clusterCount * gpuClusterAABBSize),
		Usage: renderer.BufferUsageStorage,
	})
	if err != nil {
		return err
	}
	g.clusters = clusters

	frames, err := renderer.NewFrameRing(framesInFlight,
		func(i int) (gpuFrame, error) {
			return g.allocFrame(i, clusterCount, maxIndices)
		},
		func(f gpuFrame) { f.each(g.device.ReleaseBuffer) },
	)
	if err != nil {
		g.device.ReleaseBuffer(clusters)
		g.clusters = nil
		return err
	}
	g.frames = frames
	g.clusterCount = clusterCount
	g.maxIndices = maxIndices
	g.needsBuild = true
	return nil
}

func (g *gpuStrategy) allocFrame(i, clusterCount, maxIndices int) (gpuFrame, error) {
	var f gpuFrame
	descs := []struct {
		dst  *renderer.Buffer
		desc renderer.BufferDescriptor
	}{
		{&f.uniforms, renderer.BufferDescriptor{Size: 112, Usage: renderer.BufferUsageUniform | renderer.BufferUsageCopyDst}},
		{&f.lights, renderer.BufferDescriptor{Size: light.LightBufferSize(light.MaxGPULights), Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst}},
		{&f.lightInfo, renderer.BufferDescriptor{Size: uint64(clusterCount * gpuLightInfoSize), Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopySrc}},
		{&f.lightIndices, renderer.BufferDescriptor{Size: uint64(max(maxIndices, 1) * 4), Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopySrc}},
		{&f.counter, renderer.BufferDescriptor{Size: 4, Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst | renderer.BufferUsageCopySrc}},
	}
	names := []string{"uniforms", "lights", "light info", "light indices", "counter"}
	for k, d := range descs {
		d.desc.Label = fmt.Sprintf("%s %s[%d]", g.label, names[k], i)
		b, err := g.device.CreateBuffer(d.desc)
		if err != nil {
			f.each(g.device.ReleaseBuffer)
			return gpuFrame{}, err
		}
		*d.dst = b
	}
	return f, nil
}

func (g *gpuStrategy) markRebuild() {
	g.needsBuild = true
}

// assign uploads this frame's uniforms and lights and records the build (when
// pending) and cull dispatches in one compute frame.
func (g *gpuStrategy) assign(frame int, grid GridSize, p frameParams, lights []ClusterLight, maxPerCluster int) error {
	g.frames.SetIndex(frame)
	f := g.frames.Current()

	u := GPUClusterUniforms{
		InvProj:             p.invProj,
		ScreenSize:          [2]float32{float32(p.width), float32(p.height)},
		ZNear:               p.near,
		ZFar:                p.far,
		GridSize:            [3]uint32{grid.X, grid.Y, grid.Z},
		MaxLightsPerCluster: uint32(maxPerCluster),
		MaxLightIndices:     uint32(g.maxIndices),
	}
	records := make([]light.GPULight, len(lights))
	for i, l := range lights {
		records[i] = l.gpuLight()
	}
	err := renderer.WriteBuffers(g.device,
		renderer.BufferWrite{Buffer: f.uniforms, Data: u.Marshal()},
		renderer.BufferWrite{Buffer: f.lights, Data: light.MarshalLightBuffer(records, [3]float32{})},
		renderer.BufferWrite{Buffer: f.counter, Data: make([]byte, 4)},
	)
	if err != nil {
		return err
	}

	if err := g.device.BeginComputeFrame(); err != nil {
		return err
	}
	if err := g.record(f, grid); err != nil {
		if endErr := g.device.EndComputeFrame(); endErr != nil {
			return fmt.Errorf("%w (ending frame: %v)", err, endErr)
		}
		return err
	}
	return g.device.EndComputeFrame()
}

func (g *gpuStrategy) record(f gpuFrame, grid GridSize) error {
	if g.needsBuild {
		err := g.device.Dispatch(g.build, []renderer.Binding{
			renderer.BufferBinding(0, f.uniforms),
			renderer.BufferBinding(1, g.clusters),
		}, grid.X, grid.Y, grid.Z)
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", shader.KeyClusterBuild, err)
		}
		g.needsBuild = false
	}
	err := g.device.Dispatch(g.cull, []renderer.Binding{
		renderer.BufferBinding(0, f.uniforms),
		renderer.BufferBinding(1, g.clusters),
		renderer.BufferBinding(2, f.lights),
		renderer.BufferBinding(3, f.lightInfo),
		renderer.BufferBinding(4, f.lightIndices),
		renderer.BufferBinding(5, f.counter),
	}, grid.X, grid.Y, grid.Z)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", shader.KeyClusterCull, err)
	}
	return nil
}

func (g *gpuStrategy) current() gpuFrame {
	if g.frames == nil {
		return gpuFrame{}
	}
	return g.frames.Current()
}

func (g *gpuStrategy) releaseBuffers() {
	if g.frames != nil {
		g.frames.Each(func(_ int, f gpuFrame) { f.each(g.device.ReleaseBuffer) })
		g.frames = nil
	}
	if g.clusters != nil {
		g.device.ReleaseBuffer(g.clusters)
		g.clusters = nil
	}
}
