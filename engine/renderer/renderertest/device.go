// Package renderertest provides an in-memory renderer.Device for tests. Buffers
// and textures are plain byte slices, dispatches are logged, and an optional hook
// lets a test emulate a kernel on the CPU.
package renderertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
)

// ErrInjected is returned by operations the test asked to fail.
var ErrInjected = errors.New("renderertest: injected failure")

// Buffer is a CPU-backed renderer.Buffer.
type Buffer struct {
	label string
	Data  []byte
	Usage renderer.BufferUsage
}

func (b *Buffer) Label() string { return b.label }
func (b *Buffer) Size() uint64  { return uint64(len(b.Data)) }

// Texture is a CPU-backed renderer.Texture holding one byte slice per mip level.
type Texture struct {
	label  string
	width  uint32
	height uint32
	format renderer.TextureFormat
	Mips   [][]byte
}

func (t *Texture) Label() string                  { return t.label }
func (t *Texture) Width() uint32                  { return t.width }
func (t *Texture) Height() uint32                 { return t.height }
func (t *Texture) MipLevelCount() uint32          { return uint32(len(t.Mips)) }
func (t *Texture) Format() renderer.TextureFormat { return t.format }

// Pipeline is a renderer.ComputePipeline that only remembers its shader.
type Pipeline struct {
	s shader.Shader
}

func (p *Pipeline) Key() string           { return p.s.Key() }
func (p *Pipeline) Shader() shader.Shader { return p.s }

// Dispatch records one Dispatch call.
type Dispatch struct {
	Key      string
	Bindings []renderer.Binding
	Groups   [3]uint32
}

// DispatchFunc emulates a kernel. It runs synchronously inside Dispatch.
type DispatchFunc func(d Dispatch) error

// Device is an in-memory renderer.Device.
type Device struct {
	mu *sync.Mutex

	compute       bool
	failPipelines map[string]bool
	failReadback  bool
	onDispatch    DispatchFunc

	frameOpen bool
	released  bool

	// Dispatches lists every recorded dispatch in order.
	Dispatches []Dispatch

	// Submissions counts EndComputeFrame calls.
	Submissions int

	// Readbacks counts ReadBuffer calls.
	Readbacks int

	// Released lists labels of freed resources.
	Released []string
}

var _ renderer.Device = &Device{}

// Option configures a Device.
type Option func(*Device)

// WithoutCompute makes the device report no compute support.
func WithoutCompute() Option {
	return func(d *Device) {
		d.compute = false
	}
}

// WithFailingPipeline makes RegisterComputePipeline fail for key.
func WithFailingPipeline(key string) Option {
	return func(d *Device) {
		d.failPipelines[key] = true
	}
}

// WithFailingReadback makes every ReadBuffer call fail.
func WithFailingReadback() Option {
	return func(d *Device) {
		d.failReadback = true
	}
}

// WithDispatchHook installs fn to run for every dispatch.
func WithDispatchHook(fn DispatchFunc) Option {
	return func(d *Device) {
		d.onDispatch = fn
	}
}

// NewDevice returns a compute-capable in-memory device.
func NewDevice(options ...Option) *Device {
	d := &Device{
		mu:            &sync.Mutex{},
		compute:       true,
		failPipelines: make(map[string]bool),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// DispatchCount returns how many dispatches ran kernel key.
func (d *Device) DispatchCount(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, dp := range d.Dispatches {
		if dp.Key == key {
			n++
		}
	}
	return n
}

func (d *Device) SupportsCompute() bool {
	return d.compute
}

func (d *Device) CreateBuffer(desc renderer.BufferDescriptor) (renderer.Buffer, error) {
	return &Buffer{
		label: desc.Label,
		Data:  make([]byte, (max(desc.Size, 4)+3)&^3),
		Usage: desc.Usage,
	}, nil
}

func (d *Device) CreateTexture(desc renderer.TextureDescriptor) (renderer.Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("texture %s: zero extent", desc.Label)
	}
	mips := max(desc.MipLevelCount, 1)
	t := &Texture{
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		Mips:   make([][]byte, mips),
	}
	for m := range mips {
		w, h := renderer.MipExtent(desc.Width, desc.Height, m)
		t.Mips[m] = make([]byte, w*h*desc.Format.BytesPerTexel())
	}
	return t, nil
}

func (d *Device) RegisterComputePipeline(s shader.Shader) (renderer.ComputePipeline, error) {
	if !d.compute {
		return nil, renderer.ErrNoCompute
	}
	if d.failPipelines[s.Key()] {
		return nil, fmt.Errorf("pipeline %s: %w", s.Key(), ErrInjected)
	}
	return &Pipeline{s: s}, nil
}

func (d *Device) WriteBuffer(b renderer.Buffer, offset uint64, data []byte) error {
	fb, ok := b.(*Buffer)
	if !ok {
		return renderer.ErrForeignResource
	}
	if err := renderer.CheckWrite(b, offset, len(data)); err != nil {
		return err
	}
	copy(fb.Data[offset:], data)
	return nil
}

func (d *Device) WriteTexture(t renderer.Texture, mip uint32, data []byte) error {
	ft, ok := t.(*Texture)
	if !ok {
		return renderer.ErrForeignResource
	}
	if int(mip) >= len(ft.Mips) || len(data) != len(ft.Mips[mip]) {
		return fmt.Errorf("%w: mip %d of %s", renderer.ErrOutOfRange, mip, ft.label)
	}
	copy(ft.Mips[mip], data)
	return nil
}

func (d *Device) BeginComputeFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frameOpen {
		return renderer.ErrFrameOpen
	}
	d.frameOpen = true
	return nil
}

func (d *Device) Dispatch(p renderer.ComputePipeline, bindings []renderer.Binding, x, y, z uint32) error {
	fp, ok := p.(*Pipeline)
	if !ok {
		return renderer.ErrForeignResource
	}
	d.mu.Lock()
	if !d.frameOpen {
		d.mu.Unlock()
		return renderer.ErrNoFrame
	}
	dp := Dispatch{
		Key:      fp.Key(),
		Bindings: append([]renderer.Binding(nil), bindings...),
		Groups:   [3]uint32{x, y, z},
	}
	d.Dispatches = append(d.Dispatches, dp)
	hook := d.onDispatch
	d.mu.Unlock()

	if hook != nil {
		return hook(dp)
	}
	return nil
}

func (d *Device) CopyBuffer(src renderer.Buffer, srcOffset uint64, dst renderer.Buffer, dstOffset uint64, size uint64) error {
	fs, ok1 := src.(*Buffer)
	fd, ok2 := dst.(*Buffer)
	if !ok1 || !ok2 {
		return renderer.ErrForeignResource
	}
	if srcOffset+size > fs.Size() || dstOffset+size > fd.Size() {
		return renderer.ErrOutOfRange
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.frameOpen {
		return renderer.ErrNoFrame
	}
	copy(fd.Data[dstOffset:dstOffset+size], fs.Data[srcOffset:srcOffset+size])
	return nil
}

func (d *Device) EndComputeFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.frameOpen {
		return renderer.ErrNoFrame
	}
	d.frameOpen = false
	d.Submissions++
	return nil
}

func (d *Device) ReadBuffer(b renderer.Buffer, offset, size uint64) ([]byte, error) {
	fb, ok := b.(*Buffer)
	if !ok {
		return nil, renderer.ErrForeignResource
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Readbacks++
	if d.failReadback {
		return nil, fmt.Errorf("read %s: %w", fb.label, ErrInjected)
	}
	if offset+size > fb.Size() {
		return nil, renderer.ErrOutOfRange
	}
	return append([]byte(nil), fb.Data[offset:offset+size]...), nil
}

func (d *Device) ReleaseBuffer(b renderer.Buffer) {
	if b == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Released = append(d.Released, b.Label())
}

func (d *Device) ReleaseTexture(t renderer.Texture) {
	if t == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Released = append(d.Released, t.Label())
}

func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}

// IsReleased reports whether Release was called.
func (d *Device) IsReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// BufferOf returns the fake behind a binding slot of a dispatch, or nil.
func BufferOf(dp Dispatch, slot uint32) *Buffer {
	for _, b := range dp.Bindings {
		if b.Binding == slot {
			fb, _ := b.Buffer.(*Buffer)
			return fb
		}
	}
	return nil
}

// TextureOf returns the fake texture and its bound base mip for a slot of a dispatch.
func TextureOf(dp Dispatch, slot uint32) (*Texture, uint32) {
	for _, b := range dp.Bindings {
		if b.Binding == slot {
			ft, _ := b.Texture.(*Texture)
			return ft, b.BaseMip
		}
	}
	return nil, 0
}
