package occlusion

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
)

// cullFrame holds the buffers one Cull call writes.
type cullFrame struct {
	params     renderer.Buffer
	bounds     renderer.Buffer
	visibility renderer.Buffer
	groups     renderer.Buffer
	args       renderer.Buffer
	visible    renderer.Buffer
}

func (f cullFrame) each(visit func(renderer.Buffer)) {
	for _, b := range []renderer.Buffer{f.params, f.bounds, f.visibility, f.groups, f.args, f.visible} {
		if b != nil {
			visit(b)
		}
	}
}

// gpuStrategy builds the pyramid and culls with compute kernels. Build and cull
// are registered independently, so a device may build without culling.
type gpuStrategy struct {
	device     renderer.Device
	label      string
	maxObjects int

	seed       renderer.ComputePipeline
	downsample renderer.ComputePipeline
	cullPass   renderer.ComputePipeline

	pyramid renderer.Texture
	upload  renderer.Texture
	frames  *renderer.FrameRing[cullFrame]
	width   uint32
	height  uint32
	mips    uint32
}

// newGPUStrategy registers the kernels. It fails only when the pyramid cannot
// be built; a missing cull kernel leaves canCull false.
func newGPUStrategy(d renderer.Device, label string, maxObjects int, options ...shader.ShaderOption) (*gpuStrategy, error) {
	if !d.SupportsCompute() {
		return nil, renderer.ErrNoCompute
	}
	g := &gpuStrategy{device: d, label: label, maxObjects: maxObjects}
	register := func(key string) (renderer.ComputePipeline, error) {
		s, err := shader.LoadKernel(key, options...)
		if err != nil {
			return nil, err
		}
		p, err := d.RegisterComputePipeline(s)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", key, err)
		}
		return p, nil
	}

	var err error
	if g.seed, err = register(shader.KeyHiZSeed); err != nil {
		return nil, err
	}
	if g.downsample, err = register(shader.KeyHiZDownsample); err != nil {
		return nil, err
	}
	if g.cullPass, err = register(shader.KeyHiZCull); err != nil {
		common.LogWarn("[HiZ] %s: cull kernel unavailable, pyramid only: %v", label, err)
		g.cullPass = nil
	}
	return g, nil
}

func (g *gpuStrategy) name() string   { return "gpu" }
func (g *gpuStrategy) canBuild() bool { return true }
func (g *gpuStrategy) canCull() bool  { return g.cullPass != nil }

func (g *gpuStrategy) resize(width, height, mips uint32, framesInFlight int) error {
	g.release()
	pyramid, err := g.device.CreateTexture(renderer.TextureDescriptor{
		Label:         g.label + " pyramid",
		Width:         width,
		Height:        height,
		MipLevelCount: mips,
		Format:        renderer.TextureFormatR32Float,
		Usage:         renderer.TextureUsageSampled | renderer.TextureUsageStorage,
	})
	if err != nil {
		return err
	}
	g.pyramid = pyramid
	g.width, g.height, g.mips = width, height, mips

	if !g.canCull() {
		return nil
	}
	frames, err := renderer.NewFrameRing(framesInFlight,
		func(i int) (cullFrame, error) { return g.allocFrame(i) },
		func(f cullFrame) { f.each(g.device.ReleaseBuffer) },
	)
	if err != nil {
		g.release()
		return err
	}
	g.frames = frames
	return nil
}

func (g *gpuStrategy) allocFrame(i int) (cullFrame, error) {
	var f cullFrame
	n := uint64(g.maxObjects)
	descs := []struct {
		dst   *renderer.Buffer
		name  string
		size  uint64
		usage renderer.BufferUsage
	}{
		{&f.params, "params", gpuCullParamsBytes, renderer.BufferUsageUniform | renderer.BufferUsageCopyDst},
		{&f.bounds, "bounds", n * gpuBoundsSize, renderer.BufferUsageStorage | renderer.BufferUsageCopyDst},
		{&f.visibility, "visibility", n * 4, renderer.BufferUsageStorage | renderer.BufferUsageCopySrc},
		{&f.groups, "groups", n * 4, renderer.BufferUsageStorage | renderer.BufferUsageCopyDst},
		{&f.args, "draw args", n * DrawArgsSize, renderer.BufferUsageStorage | renderer.BufferUsageIndirect | renderer.BufferUsageCopyDst | renderer.BufferUsageCopySrc},
		{&f.visible, "visible instances", n * 4, renderer.BufferUsageStorage | renderer.BufferUsageCopySrc},
	}
	for _, d := range descs {
		b, err := g.device.CreateBuffer(renderer.BufferDescriptor{
			Label: fmt.Sprintf("%s %s[%d]", g.label, d.name, i),
			Size:  d.size,
			Usage: d.usage,
		})
		if err != nil {
			f.each(g.device.ReleaseBuffer)
			return cullFrame{}, err
		}
		*d.dst = b
	}
	return f, nil
}

// seedSource returns the texture mip 0 is copied from, uploading the CPU image
// when no GPU depth texture was given.
func (g *gpuStrategy) seedSource(src DepthSource) (renderer.Texture, error) {
	if src.Texture != nil {
		if src.Texture.Width() != g.width || src.Texture.Height() != g.height {
			return nil, fmt.Errorf("depth texture %dx%d does not match pyramid %dx%d", src.Texture.Width(), src.Texture.Height(), g.width, g.height)
		}
		return src.Texture, nil
	}
	img := src.Image
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if uint32(img.Width) != g.width || uint32(img.Height) != g.height {
		return nil, fmt.Errorf("depth image %dx%d does not match pyramid %dx%d", img.Width, img.Height, g.width, g.height)
	}
	if g.upload == nil {
		t, err := g.device.CreateTexture(renderer.TextureDescriptor{
			Label:         g.label + " depth upload",
			Width:         g.width,
			Height:        g.height,
			MipLevelCount: 1,
			Format:        renderer.TextureFormatR32Float,
			Usage:         renderer.TextureUsageSampled | renderer.TextureUsageCopyDst,
		})
		if err != nil {
			return nil, err
		}
		g.upload = t
	}
	if err := g.device.WriteTexture(g.upload, 0, common.SliceToBytes(img.Depth)); err != nil {
		return nil, err
	}
	return g.upload, nil
}

func (g *gpuStrategy) build(src DepthSource) error {
	depth, err := g.seedSource(src)
	if err != nil {
		return err
	}
	if err := g.device.BeginComputeFrame(); err != nil {
		return err
	}
	if err := g.recordBuild(depth); err != nil {
		return endFrame(g.device, err)
	}
	return g.device.EndComputeFrame()
}

func (g *gpuStrategy) recordBuild(depth renderer.Texture) error {
	err := g.device.Dispatch(g.seed, []renderer.Binding{
		renderer.TextureMipBinding(0, depth, 0),
		renderer.TextureMipBinding(1, g.pyramid, 0),
	}, shader.DispatchSize(g.width, pyramidTileSize), shader.DispatchSize(g.height, pyramidTileSize), 1)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", shader.KeyHiZSeed, err)
	}
	for m := uint32(1); m < g.mips; m++ {
		w, h := renderer.MipExtent(g.width, g.height, m)
		err := g.device.Dispatch(g.downsample, []renderer.Binding{
			renderer.TextureMipBinding(0, g.pyramid, m-1),
			renderer.TextureMipBinding(1, g.pyramid, m),
		}, shader.DispatchSize(w, pyramidTileSize), shader.DispatchSize(h, pyramidTileSize), 1)
		if err != nil {
			return fmt.Errorf("dispatch %s mip %d: %w", shader.KeyHiZDownsample, m, err)
		}
	}
	return nil
}

func (g *gpuStrategy) cull(frame int, boxes []common.BoundingBox, layout drawLayout, params GPUCullParams) error {
	g.frames.SetIndex(frame)
	f := g.frames.Current()

	// every instance_count starts at zero and is bumped by the kernel
	err := renderer.WriteBuffers(g.device,
		renderer.BufferWrite{Buffer: f.params, Data: params.Marshal()},
		renderer.BufferWrite{Buffer: f.bounds, Data: marshalBounds(boxes)},
		renderer.BufferWrite{Buffer: f.groups, Data: common.SliceToBytes(layout.slots)},
		renderer.BufferWrite{Buffer: f.args, Data: marshalDrawArgs(layout.groups)},
	)
	if err != nil {
		return err
	}
	if len(boxes) == 0 {
		return nil
	}
	if err := g.device.BeginComputeFrame(); err != nil {
		return err
	}
	err = g.device.Dispatch(g.cullPass, []renderer.Binding{
		renderer.BufferBinding(0, f.params),
		renderer.BufferBinding(1, f.bounds),
		renderer.TextureBinding(2, g.pyramid),
		renderer.BufferBinding(3, f.visibility),
		renderer.BufferBinding(4, f.groups),
		renderer.BufferBinding(5, f.args),
		renderer.BufferBinding(6, f.visible),
	}, shader.DispatchSize(uint32(len(boxes)), cullWorkgroupSize), 1, 1)
	if err != nil {
		return endFrame(g.device, fmt.Errorf("dispatch %s: %w", shader.KeyHiZCull, err))
	}
	return g.device.EndComputeFrame()
}

// results blocks on a copy of the visibility flags.
func (g *gpuStrategy) results(n int) ([]bool, bool, error) {
	if n == 0 {
		return []bool{}, true, nil
	}
	data, err := g.device.ReadBuffer(g.frames.Current().visibility, 0, uint64(n*4))
	if err != nil {
		return nil, false, err
	}
	return unmarshalFlags(data, n), true, nil
}

func (g *gpuStrategy) drawArgs() renderer.Buffer {
	if g.frames == nil {
		return nil
	}
	return g.frames.Current().args
}

func (g *gpuStrategy) visibleInstances() renderer.Buffer {
	if g.frames == nil {
		return nil
	}
	return g.frames.Current().visible
}

func (g *gpuStrategy) release() {
	if g.frames != nil {
		g.frames.Each(func(_ int, f cullFrame) { f.each(g.device.ReleaseBuffer) })
		g.frames = nil
	}
	g.device.ReleaseTexture(g.pyramid)
	g.device.ReleaseTexture(g.upload)
	g.pyramid, g.upload = nil, nil
}

// endFrame closes a frame after a recording failure.
func endFrame(d renderer.Device, err error) error {
	if endErr := d.EndComputeFrame(); endErr != nil {
		return fmt.Errorf("%w (ending frame: %v)", err, endErr)
	}
	return err
}

var _ strategy = &gpuStrategy{}
