package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
)

// BufferUsage is a bit set describing how a buffer will be used.
type BufferUsage uint32

const (
	// BufferUsageStorage allows binding as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << iota

	// BufferUsageUniform allows binding as a uniform buffer.
	BufferUsageUniform

	// BufferUsageCopySrc allows the buffer to be the source of a copy.
	BufferUsageCopySrc

	// BufferUsageCopyDst allows writes and copies into the buffer.
	BufferUsageCopyDst

	// BufferUsageMapRead allows the CPU to map the buffer for reading.
	BufferUsageMapRead

	// BufferUsageIndirect allows the buffer to supply indirect draw or dispatch arguments.
	BufferUsageIndirect
)

// TextureUsage is a bit set describing how a texture will be used.
type TextureUsage uint32

const (
	// TextureUsageSampled allows binding as a sampled texture.
	TextureUsageSampled TextureUsage = 1 << iota

	// TextureUsageStorage allows binding as a storage texture.
	TextureUsageStorage

	// TextureUsageCopySrc allows the texture to be the source of a copy.
	TextureUsageCopySrc

	// TextureUsageCopyDst allows writes and copies into the texture.
	TextureUsageCopyDst
)

// TextureFormat identifies the texel format of a texture.
type TextureFormat int

const (
	// TextureFormatR32Float is a single 32-bit float channel, used for depth pyramids.
	TextureFormatR32Float TextureFormat = iota
)

// BytesPerTexel returns the texel size of the format.
func (f TextureFormat) BytesPerTexel() uint32 {
	switch f {
	case TextureFormatR32Float:
		return 4
	default:
		return 0
	}
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDescriptor describes a 2D texture to create.
type TextureDescriptor struct {
	Label         string
	Width         uint32
	Height        uint32
	MipLevelCount uint32
	Format        TextureFormat
	Usage         TextureUsage
}

// Buffer is an opaque device buffer.
type Buffer interface {
	// Label returns the debug label the buffer was created with.
	Label() string

	// Size returns the buffer size in bytes.
	Size() uint64
}

// Texture is an opaque 2D device texture with a mip chain.
type Texture interface {
	// Label returns the debug label the texture was created with.
	Label() string

	// Width returns the width of mip 0 in texels.
	Width() uint32

	// Height returns the height of mip 0 in texels.
	Height() uint32

	// MipLevelCount returns the number of mip levels.
	MipLevelCount() uint32

	// Format returns the texel format.
	Format() TextureFormat
}

// ComputePipeline is a compute pipeline registered with a Device.
type ComputePipeline interface {
	// Key returns the key of the shader the pipeline was built from.
	Key() string

	// Shader returns the parsed shader backing the pipeline.
	Shader() shader.Shader
}

// Binding attaches a resource to one @binding slot of bind group 0 for a dispatch.
// Exactly one of Buffer or Texture is set. For textures, BaseMip selects the first
// mip level visible to the shader and MipCount how many follow; MipCount 0 exposes
// every level from BaseMip to the end of the chain.
type Binding struct {
	Binding  uint32
	Buffer   Buffer
	Texture  Texture
	BaseMip  uint32
	MipCount uint32
}

// BufferBinding binds a whole buffer.
//
// Parameters:
//   - slot: the @binding index
//   - b: the buffer
//
// Returns:
//   - Binding: the binding
func BufferBinding(slot uint32, b Buffer) Binding {
	return Binding{Binding: slot, Buffer: b}
}

// TextureMipBinding binds a single mip level of a texture.
//
// Parameters:
//   - slot: the @binding index
//   - t: the texture
//   - mip: the mip level exposed to the shader
//
// Returns:
//   - Binding: the binding
func TextureMipBinding(slot uint32, t Texture, mip uint32) Binding {
	return Binding{Binding: slot, Texture: t, BaseMip: mip, MipCount: 1}
}

// TextureBinding binds every mip level of a texture.
func TextureBinding(slot uint32, t Texture) Binding {
	return Binding{Binding: slot, Texture: t}
}

// BufferWrite describes a single buffer write at a byte offset.
type BufferWrite struct {
	Buffer Buffer
	Offset uint64
	Data   []byte
}

// Device is the narrow graphics-device contract the visibility pipeline needs:
// buffers with atomics, textures with per-mip views, compute dispatch and an
// optional blocking readback. Implementations must not assume a specific
// graphics API on the caller side.
//
// All recording methods (Dispatch, CopyBuffer) must be called between
// BeginComputeFrame and EndComputeFrame. Work recorded in one frame is
// submitted as a single command buffer in recording order.
type Device interface {
	// SupportsCompute reports whether the device can run compute shaders.
	SupportsCompute() bool

	// CreateBuffer allocates a buffer.
	//
	// Parameters:
	//   - desc: the buffer description
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: if allocation fails
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// CreateTexture allocates a 2D texture.
	//
	// Parameters:
	//   - desc: the texture description
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: if allocation fails
	CreateTexture(desc TextureDescriptor) (Texture, error)

	// RegisterComputePipeline builds a compute pipeline and its bind group layouts from a shader.
	//
	// Parameters:
	//   - s: the parsed compute shader
	//
	// Returns:
	//   - ComputePipeline: the registered pipeline
	//   - error: ErrNoCompute on devices without compute, or a creation failure
	RegisterComputePipeline(s shader.Shader) (ComputePipeline, error)

	// WriteBuffer queues a write of data into b at offset. The write is ordered
	// before any work submitted afterwards.
	//
	// Parameters:
	//   - b: the destination buffer
	//   - offset: destination byte offset
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: if the write falls outside the buffer
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// WriteTexture uploads one full mip level of t.
	//
	// Parameters:
	//   - t: the destination texture
	//   - mip: the mip level to write
	//   - data: tightly packed texel rows
	//
	// Returns:
	//   - error: if data does not match the mip extent
	WriteTexture(t Texture, mip uint32, data []byte) error

	// BeginComputeFrame opens a command encoder for compute work.
	BeginComputeFrame() error

	// Dispatch records one compute pass running p with the given bind group 0 resources.
	//
	// Parameters:
	//   - p: the pipeline to run
	//   - bindings: resources for bind group 0
	//   - x, y, z: workgroup counts
	//
	// Returns:
	//   - error: ErrNoFrame outside a compute frame, or a binding failure
	Dispatch(p ComputePipeline, bindings []Binding, x, y, z uint32) error

	// CopyBuffer records a buffer-to-buffer copy.
	CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) error

	// EndComputeFrame finishes the encoder and submits the recorded work.
	EndComputeFrame() error

	// ReadBuffer copies a range of b to the CPU, blocking until the GPU has
	// finished all submitted work. This is a synchronization point.
	//
	// Parameters:
	//   - b: the source buffer, created with BufferUsageCopySrc
	//   - offset: source byte offset
	//   - size: byte count
	//
	// Returns:
	//   - []byte: the buffer contents
	//   - error: if mapping fails
	ReadBuffer(b Buffer, offset, size uint64) ([]byte, error)

	// ReleaseBuffer frees a buffer. Releasing nil is a no-op.
	ReleaseBuffer(b Buffer)

	// ReleaseTexture frees a texture and its cached views. Releasing nil is a no-op.
	ReleaseTexture(t Texture)

	// Release frees every device object.
	Release()
}

// WriteBuffers applies a batch of writes in order, stopping at the first failure.
//
// Parameters:
//   - d: the device
//   - writes: the writes to apply
//
// Returns:
//   - error: the first write failure, wrapped with the buffer label
func WriteBuffers(d Device, writes ...BufferWrite) error {
	for _, w := range writes {
		if w.Buffer == nil || len(w.Data) == 0 {
			continue
		}
		if err := d.WriteBuffer(w.Buffer, w.Offset, w.Data); err != nil {
			return fmt.Errorf("write %s: %w", w.Buffer.Label(), err)
		}
	}
	return nil
}

// CheckWrite validates that a write of n bytes at offset fits in b.
//
// Returns:
//   - error: ErrOutOfRange when the write would overflow the buffer
func CheckWrite(b Buffer, offset uint64, n int) error {
	if offset+uint64(n) > b.Size() {
		return fmt.Errorf("%w: %d bytes at %d into %s (%d bytes)", ErrOutOfRange, n, offset, b.Label(), b.Size())
	}
	return nil
}

// MipExtent returns the extent of a mip level for a texture whose levels round
// up when halving, so every texel of level n-1 is covered by level n.
//
// Parameters:
//   - width, height: the mip 0 extent
//   - mip: the level
//
// Returns:
//   - uint32, uint32: the level extent, never below 1
func MipExtent(width, height, mip uint32) (uint32, uint32) {
	for range mip {
		width = max(1, (width+1)/2)
		height = max(1, (height+1)/2)
	}
	return max(width, 1), max(height, 1)
}
