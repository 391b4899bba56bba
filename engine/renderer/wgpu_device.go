package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"
)

type wgpuBuffer struct {
	label string
	size  uint64
	buf   *wgpu.Buffer
}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() uint64  { return b.size }

type mipRange struct {
	base  uint32
	count uint32
}

type wgpuTexture struct {
	label  string
	width  uint32
	height uint32
	mips   uint32
	format TextureFormat
	tex    *wgpu.Texture
	views  map[mipRange]*wgpu.TextureView
}

func (t *wgpuTexture) Label() string         { return t.label }
func (t *wgpuTexture) Width() uint32         { return t.width }
func (t *wgpuTexture) Height() uint32        { return t.height }
func (t *wgpuTexture) MipLevelCount() uint32 { return t.mips }
func (t *wgpuTexture) Format() TextureFormat { return t.format }

// view returns a cached view covering r, creating it on first use.
func (t *wgpuTexture) view(r mipRange) (*wgpu.TextureView, error) {
	if r.count == 0 {
		r.count = t.mips - r.base
	}
	if v, ok := t.views[r]; ok {
		return v, nil
	}
	v, err := t.tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           fmt.Sprintf("%s mips %d+%d", t.label, r.base, r.count),
		Format:          wgpuTextureFormat(t.format),
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    r.base,
		MipLevelCount:   r.count,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, err
	}
	t.views[r] = v
	return v, nil
}

type wgpuComputePipeline struct {
	shader   shader.Shader
	pipeline *wgpu.ComputePipeline
	layouts  []*wgpu.BindGroupLayout
}

func (p *wgpuComputePipeline) Key() string           { return p.shader.Key() }
func (p *wgpuComputePipeline) Shader() shader.Shader { return p.shader }

// wgpuDevice is the WebGPU implementation of Device. It owns a headless
// instance/adapter/device triple; no surface is created.
type wgpuDevice struct {
	mu       *sync.Mutex
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	label     string
	pipelines []*wgpuComputePipeline

	// Compute frame state for batching all dispatches into a single submission
	computeFrameEncoder *wgpu.CommandEncoder
	frameBindGroups     []*wgpu.BindGroup
}

var _ Device = &wgpuDevice{}

// NewWGPUDevice requests a headless WebGPU adapter and device.
//
// Parameters:
//   - options: functional options applied before the adapter is requested
//
// Returns:
//   - Device: the device
//   - error: if no adapter or device could be obtained
func NewWGPUDevice(options ...DeviceBuilderOption) (Device, error) {
	cfg := deviceConfig{label: "oxy-visibility-" + uuid.NewString()[:8]}
	for _, opt := range options {
		opt(&cfg)
	}

	w := &wgpuDevice{
		mu:       &sync.Mutex{},
		instance: wgpu.CreateInstance(nil),
		label:    cfg.label,
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: cfg.forceFallbackAdapter,
	})
	if err != nil {
		w.instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	w.adapter = a

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: w.label + " Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		a.Release()
		w.instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	w.device = d
	w.queue = d.GetQueue()

	common.LogDebug("[Device] %s ready (fallback adapter: %v)", w.label, cfg.forceFallbackAdapter)
	return w, nil
}

func (w *wgpuDevice) SupportsCompute() bool {
	return w.device != nil
}

func (w *wgpuDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.device == nil {
		return nil, errDeviceLost
	}

	// wgpu requires buffer sizes to be a multiple of 4
	size := (max(desc.Size, 4) + 3) &^ 3
	buf, err := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             size,
		Usage:            wgpuBufferUsage(desc.Usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", desc.Label, err)
	}
	return &wgpuBuffer{label: desc.Label, size: size, buf: buf}, nil
}

func (w *wgpuDevice) CreateTexture(desc TextureDescriptor) (Texture, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.device == nil {
		return nil, errDeviceLost
	}

	mips := max(desc.MipLevelCount, 1)
	tex, err := w.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label,
		Usage:     wgpuTextureUsage(desc.Usage),
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpuTextureFormat(desc.Format),
		MipLevelCount: mips,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %s: %w", desc.Label, err)
	}
	return &wgpuTexture{
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		mips:   mips,
		format: desc.Format,
		tex:    tex,
		views:  make(map[mipRange]*wgpu.TextureView),
	}, nil
}

func (w *wgpuDevice) RegisterComputePipeline(s shader.Shader) (ComputePipeline, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.device == nil {
		return nil, ErrNoCompute
	}

	module, err := w.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: s.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: s.Source(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("shader module %s: %w", s.Key(), err)
	}
	defer module.Release()

	layouts := make([]*wgpu.BindGroupLayout, s.GroupCount())
	for g := range layouts {
		bindings := s.Group(uint32(g))
		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(bindings))
		for _, b := range bindings {
			entries = append(entries, layoutEntry(b))
		}
		bgl, bglErr := w.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", s.Key(), g),
			Entries: entries,
		})
		if bglErr != nil {
			return nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, bglErr)
		}
		layouts[g] = bgl
	}

	pipelineLayout, err := w.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            s.Key(),
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return nil, err
	}
	defer pipelineLayout.Release()

	created, err := w.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  s.Key() + " Compute Pipeline",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: s.EntryPoint(),
		},
	})
	if err != nil {
		return nil, err
	}

	p := &wgpuComputePipeline{shader: s, pipeline: created, layouts: layouts}
	w.pipelines = append(w.pipelines, p)
	common.LogDebug("[Device] registered compute pipeline %s", s.Key())
	return p, nil
}

func (w *wgpuDevice) WriteBuffer(b Buffer, offset uint64, data []byte) error {
	wb, ok := b.(*wgpuBuffer)
	if !ok {
		return ErrForeignResource
	}
	if err := CheckWrite(b, offset, len(data)); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue.WriteBuffer(wb.buf, offset, data)
	return nil
}

func (w *wgpuDevice) WriteTexture(t Texture, mip uint32, data []byte) error {
	wt, ok := t.(*wgpuTexture)
	if !ok {
		return ErrForeignResource
	}
	if mip >= wt.mips {
		return fmt.Errorf("%w: mip %d of %s", ErrOutOfRange, mip, wt.label)
	}
	width, height := MipExtent(wt.width, wt.height, mip)
	bpt := wt.format.BytesPerTexel()
	if uint64(len(data)) != uint64(width)*uint64(height)*uint64(bpt) {
		return fmt.Errorf("%w: %d bytes for %dx%d mip %d of %s", ErrOutOfRange, len(data), width, height, mip, wt.label)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  wt.tex,
			MipLevel: mip,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * bpt,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (w *wgpuDevice) BeginComputeFrame() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.device == nil {
		return errDeviceLost
	}
	if w.computeFrameEncoder != nil {
		return ErrFrameOpen
	}
	encoder, err := w.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	w.computeFrameEncoder = encoder
	return nil
}

func (w *wgpuDevice) Dispatch(p ComputePipeline, bindings []Binding, x, y, z uint32) error {
	wp, ok := p.(*wgpuComputePipeline)
	if !ok {
		return ErrForeignResource
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.computeFrameEncoder == nil {
		return ErrNoFrame
	}
	if len(wp.layouts) == 0 {
		return fmt.Errorf("pipeline %s has no bind groups", wp.Key())
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		switch {
		case b.Buffer != nil:
			wb, ok := b.Buffer.(*wgpuBuffer)
			if !ok {
				return ErrForeignResource
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: b.Binding,
				Buffer:  wb.buf,
				Offset:  0,
				Size:    wgpu.WholeSize,
			})
		case b.Texture != nil:
			wt, ok := b.Texture.(*wgpuTexture)
			if !ok {
				return ErrForeignResource
			}
			view, err := wt.view(mipRange{base: b.BaseMip, count: b.MipCount})
			if err != nil {
				return fmt.Errorf("texture view %s: %w", wt.label, err)
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding:     b.Binding,
				TextureView: view,
			})
		default:
			return fmt.Errorf("binding %d of %s has no resource", b.Binding, wp.Key())
		}
	}

	bindGroup, err := w.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   wp.Key() + " Bind Group",
		Layout:  wp.layouts[0],
		Entries: entries,
	})
	if err != nil {
		return err
	}
	// bind groups must outlive the submission
	w.frameBindGroups = append(w.frameBindGroups, bindGroup)

	pass := w.computeFrameEncoder.BeginComputePass(nil)
	pass.SetPipeline(wp.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(x, y, z)
	pass.End()
	return nil
}

func (w *wgpuDevice) CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) error {
	ws, ok1 := src.(*wgpuBuffer)
	wd, ok2 := dst.(*wgpuBuffer)
	if !ok1 || !ok2 {
		return ErrForeignResource
	}
	if srcOffset+size > ws.size || dstOffset+size > wd.size {
		return fmt.Errorf("%w: copy %d bytes %s -> %s", ErrOutOfRange, size, ws.label, wd.label)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.computeFrameEncoder == nil {
		return ErrNoFrame
	}
	w.computeFrameEncoder.CopyBufferToBuffer(ws.buf, srcOffset, wd.buf, dstOffset, size)
	return nil
}

func (w *wgpuDevice) EndComputeFrame() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.computeFrameEncoder == nil {
		return ErrNoFrame
	}
	defer w.releaseFrameBindGroups()

	commandBuffer, err := w.computeFrameEncoder.Finish(nil)
	if err != nil {
		w.computeFrameEncoder.Release()
		w.computeFrameEncoder = nil
		return err
	}

	w.queue.Submit(commandBuffer)
	commandBuffer.Release()
	w.computeFrameEncoder.Release()
	w.computeFrameEncoder = nil
	return nil
}

func (w *wgpuDevice) releaseFrameBindGroups() {
	for _, bg := range w.frameBindGroups {
		bg.Release()
	}
	w.frameBindGroups = w.frameBindGroups[:0]
}

func (w *wgpuDevice) ReadBuffer(b Buffer, offset, size uint64) ([]byte, error) {
	wb, ok := b.(*wgpuBuffer)
	if !ok {
		return nil, ErrForeignResource
	}
	if offset+size > wb.size {
		return nil, fmt.Errorf("%w: read %d bytes at %d from %s", ErrOutOfRange, size, offset, wb.label)
	}
	want := size
	size = (size + 3) &^ 3

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.device == nil {
		return nil, errDeviceLost
	}

	staging, err := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: wb.label + " Readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := w.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(wb.buf, offset, staging, 0, size)
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, err
	}
	w.queue.Submit(commandBuffer)
	commandBuffer.Release()

	var status wgpu.BufferMapAsyncStatus
	done := false
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	for !done {
		w.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map %s: status %v", wb.label, status)
	}
	out := make([]byte, want)
	copy(out, staging.GetMappedRange(0, uint(size)))
	staging.Unmap()
	return out, nil
}

func (w *wgpuDevice) ReleaseBuffer(b Buffer) {
	if wb, ok := b.(*wgpuBuffer); ok && wb.buf != nil {
		wb.buf.Release()
		wb.buf = nil
	}
}

func (w *wgpuDevice) ReleaseTexture(t Texture) {
	wt, ok := t.(*wgpuTexture)
	if !ok || wt.tex == nil {
		return
	}
	for _, v := range wt.views {
		v.Release()
	}
	clear(wt.views)
	wt.tex.Release()
	wt.tex = nil
}

func (w *wgpuDevice) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.computeFrameEncoder != nil {
		w.computeFrameEncoder.Release()
		w.computeFrameEncoder = nil
	}
	w.releaseFrameBindGroups()
	for _, p := range w.pipelines {
		for _, l := range p.layouts {
			l.Release()
		}
		p.pipeline.Release()
	}
	w.pipelines = nil
	if w.queue != nil {
		w.queue.Release()
	}
	if w.device != nil {
		w.device.Release()
		w.device = nil
	}
	if w.adapter != nil {
		w.adapter.Release()
	}
	if w.instance != nil {
		w.instance.Release()
	}
}

// layoutEntry converts a parsed binding into a compute-visible layout entry.
// Sampled float textures are declared unfilterable because the kernels only
// use textureLoad and R32Float cannot be filtered.
func layoutEntry(b shader.BindingLayout) wgpu.BindGroupLayoutEntry {
	e := wgpu.BindGroupLayoutEntry{
		Binding:    b.Binding,
		Visibility: wgpu.ShaderStageCompute,
	}
	switch b.Kind {
	case shader.BindingUniform:
		e.Buffer.Type = wgpu.BufferBindingTypeUniform
		e.Buffer.MinBindingSize = b.MinSize
	case shader.BindingStorage:
		e.Buffer.Type = wgpu.BufferBindingTypeStorage
		e.Buffer.MinBindingSize = b.MinSize
	case shader.BindingReadOnlyStorage:
		e.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		e.Buffer.MinBindingSize = b.MinSize
	case shader.BindingSampledTexture:
		e.Texture.SampleType = wgslSampleTypes[b.SampleType]
		e.Texture.ViewDimension = wgslViewDimensions[b.Dimension]
		e.Texture.Multisampled = b.Multisampled
	case shader.BindingDepthTexture:
		e.Texture.SampleType = wgpu.TextureSampleTypeDepth
		e.Texture.ViewDimension = wgslViewDimensions[b.Dimension]
		e.Texture.Multisampled = b.Multisampled
	case shader.BindingStorageTexture:
		e.StorageTexture.Access = wgslStorageAccess[b.Access]
		e.StorageTexture.Format = wgslTexelFormats[b.TexelFormat]
		e.StorageTexture.ViewDimension = wgslViewDimensions[b.Dimension]
	case shader.BindingSampler:
		e.Sampler.Type = wgpu.SamplerBindingTypeFiltering
		if b.Comparison {
			e.Sampler.Type = wgpu.SamplerBindingTypeComparison
		}
	}
	return e
}

var wgslSampleTypes = map[string]wgpu.TextureSampleType{
	"f32": wgpu.TextureSampleTypeUnfilterableFloat,
	"i32": wgpu.TextureSampleTypeSint,
	"u32": wgpu.TextureSampleTypeUint,
}

var wgslViewDimensions = map[string]wgpu.TextureViewDimension{
	"1d":         wgpu.TextureViewDimension1D,
	"2d":         wgpu.TextureViewDimension2D,
	"2d_array":   wgpu.TextureViewDimension2DArray,
	"3d":         wgpu.TextureViewDimension3D,
	"cube":       wgpu.TextureViewDimensionCube,
	"cube_array": wgpu.TextureViewDimensionCubeArray,
}

var wgslStorageAccess = map[string]wgpu.StorageTextureAccess{
	"write":      wgpu.StorageTextureAccessWriteOnly,
	"read":       wgpu.StorageTextureAccessReadOnly,
	"read_write": wgpu.StorageTextureAccessReadWrite,
}

var wgslTexelFormats = map[string]wgpu.TextureFormat{
	"r32float":    wgpu.TextureFormatR32Float,
	"r32uint":     wgpu.TextureFormatR32Uint,
	"rgba8unorm":  wgpu.TextureFormatRGBA8Unorm,
	"rgba16float": wgpu.TextureFormatRGBA16Float,
	"rgba32float": wgpu.TextureFormatRGBA32Float,
}

func wgpuTextureFormat(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case TextureFormatR32Float:
		return wgpu.TextureFormatR32Float
	default:
		return wgpu.TextureFormatUndefined
	}
}

func wgpuBufferUsage(u BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	for _, m := range [...]struct {
		from BufferUsage
		to   wgpu.BufferUsage
	}{
		{BufferUsageStorage, wgpu.BufferUsageStorage},
		{BufferUsageUniform, wgpu.BufferUsageUniform},
		{BufferUsageCopySrc, wgpu.BufferUsageCopySrc},
		{BufferUsageCopyDst, wgpu.BufferUsageCopyDst},
		{BufferUsageMapRead, wgpu.BufferUsageMapRead},
		{BufferUsageIndirect, wgpu.BufferUsageIndirect},
	} {
		if u&m.from != 0 {
			out |= m.to
		}
	}
	return out
}

func wgpuTextureUsage(u TextureUsage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	for _, m := range [...]struct {
		from TextureUsage
		to   wgpu.TextureUsage
	}{
		{TextureUsageSampled, wgpu.TextureUsageTextureBinding},
		{TextureUsageStorage, wgpu.TextureUsageStorageBinding},
		{TextureUsageCopySrc, wgpu.TextureUsageCopySrc},
		{TextureUsageCopyDst, wgpu.TextureUsageCopyDst},
	} {
		if u&m.from != 0 {
			out |= m.to
		}
	}
	return out
}

// errDeviceLost is reported when a device method is used after Release.
var errDeviceLost = errors.New("renderer: device released")
