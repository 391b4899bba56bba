package batching

import (
	_ "embed"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUInstanceSource is the canonical WGSL definition of the InstanceData struct.
// Matches GPUInstance layout exactly (192 bytes, std430 aligned).
//
//go:embed assets/instance.wgsl
var GPUInstanceSource string

func init() {
	shader.RegisterInclude("instance", GPUInstanceSource)
}

// GPUInstance is the per-instance record read by instanced draws.
// Size: 192 bytes (three mat4x4<f32>, no padding required).
type GPUInstance struct {
	World     mgl32.Mat4 // offset   0: object-to-world transform
	PrevWorld mgl32.Mat4 // offset  64: last frame's transform, for motion vectors
	Normal    mgl32.Mat4 // offset 128: inverse-transpose of World's upper 3x3
}

// GPUInstanceSize is the marshaled size of one GPUInstance.
const GPUInstanceSize = 192

// Size returns the size of the GPUInstance struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUInstance) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUInstance struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 192-byte buffer ready for GPU upload.
func (g *GPUInstance) Marshal() []byte {
	buf := make([]byte, GPUInstanceSize)
	g.put(buf)
	return buf
}

func (g *GPUInstance) put(buf []byte) {
	common.PutMat4(buf[0:64], g.World)
	common.PutMat4(buf[64:128], g.PrevWorld)
	common.PutMat4(buf[128:192], g.Normal)
}

// MarshalInstances packs instances back to back.
//
// Parameters:
//   - instances: the instance records in buffer order
//
// Returns:
//   - []byte: len(instances)*GPUInstanceSize bytes
func MarshalInstances(instances []GPUInstance) []byte {
	buf := make([]byte, len(instances)*GPUInstanceSize)
	for i := range instances {
		instances[i].put(buf[i*GPUInstanceSize:])
	}
	return buf
}
