package light

import (
	_ "embed"
	"encoding/binary"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxGPULights is the maximum number of lights that can be marshaled into the
// GPU light buffer per frame. Lights beyond the budget are dropped in list
// order, so callers pass lists already sorted by priority.
const MaxGPULights = 1024

// GPULightSource is the canonical WGSL definition of the Light struct.
// Matches GPULight layout exactly (64 bytes, std430 aligned).
//
//go:embed assets/light.wgsl
var GPULightSource string

// GPULight is the GPU-aligned representation of a single light source.
// Matches the WGSL Light struct layout exactly (see GPULightSource).
// Size: 64 bytes (std430 / WGSL aligned).
type GPULight struct {
	Position     [3]float32 // offset  0: view-space position (point/spot) or unused (directional)
	LightType    uint32     // offset 12: 0 = directional, 1 = point, 2 = spot
	Color        [3]float32 // offset 16: RGB color
	Intensity    float32    // offset 28: scalar multiplier
	Direction    [3]float32 // offset 32: view-space direction (directional/spot) or unused (point)
	LightRange   float32    // offset 44: attenuation cutoff distance, also the cluster test radius
	InnerCone    float32    // offset 48: cos(inner half-angle) for spot
	OuterCone    float32    // offset 52: cos(outer half-angle) for spot
	CastsShadows uint32     // offset 56: 1 = casts shadows, 0 = does not
	_pad         uint32     // offset 60: padding to 64-byte alignment
}

// Size returns the size of the GPULight struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (64)
func (g *GPULight) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPULight struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload
func (g *GPULight) Marshal() []byte {
	buf := make([]byte, 64)
	common.PutVec3(buf[0:12], g.Position)
	binary.LittleEndian.PutUint32(buf[12:16], g.LightType)
	common.PutVec3(buf[16:28], g.Color)
	common.PutFloat32(buf[28:32], g.Intensity)
	common.PutVec3(buf[32:44], g.Direction)
	common.PutFloat32(buf[44:48], g.LightRange)
	common.PutFloat32(buf[48:52], g.InnerCone)
	common.PutFloat32(buf[52:56], g.OuterCone)
	binary.LittleEndian.PutUint32(buf[56:60], g.CastsShadows)
	binary.LittleEndian.PutUint32(buf[60:64], 0) // padding
	return buf
}

// GPULightHeaderSource is the canonical WGSL definition of the LightHeader struct.
// Matches GPULightHeader layout exactly (16 bytes, std430 aligned).
//
//go:embed assets/light_header.wgsl
var GPULightHeaderSource string

// GPULightHeader is the header prepended to the light storage buffer.
// Contains the ambient color and the active light count.
// Matches the WGSL LightHeader struct layout exactly (see GPULightHeaderSource).
// Size: 16 bytes (vec3 + u32, std430 aligned).
type GPULightHeader struct {
	AmbientColor [3]float32 // offset 0: scene ambient RGB
	LightCount   uint32     // offset 12: number of active lights following the header
}

// Size returns the size of the GPULightHeader struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (h *GPULightHeader) Size() int {
	return int(unsafe.Sizeof(*h))
}

// Marshal serializes the GPULightHeader struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload
func (h *GPULightHeader) Marshal() []byte {
	buf := make([]byte, 16)
	common.PutVec3(buf[0:12], h.AmbientColor)
	binary.LittleEndian.PutUint32(buf[12:16], h.LightCount)
	return buf
}

// ToGPULight converts a Light into the GPU-aligned GPULight struct with its
// position and direction expressed in the space defined by view. Cluster
// assignment runs in view space, so view is normally the camera view matrix.
//
// Parameters:
//   - l: the Light to convert
//   - view: the world-to-view transform
//
// Returns:
//   - GPULight: the GPU-aligned representation
func ToGPULight(l Light, view mgl32.Mat4) GPULight {
	shadowVal := uint32(0)
	if l.CastsShadows() {
		shadowVal = 1
	}
	pos := view.Mul4x1(l.Position().Vec4(1)).Vec3()
	dir := view.Mul4x1(l.Direction().Vec4(0)).Vec3()
	return GPULight{
		Position:     pos,
		LightType:    uint32(l.Type()),
		Color:        l.Color(),
		Intensity:    l.Intensity(),
		Direction:    dir,
		LightRange:   l.Range(),
		InnerCone:    l.InnerCone(),
		OuterCone:    l.OuterCone(),
		CastsShadows: shadowVal,
	}
}

// MarshalLightBuffer marshals converted lights into a byte buffer suitable for
// GPU upload. The buffer layout is:
//
//	[GPULightHeader (16 bytes)] [GPULight × count (64 bytes each)]
//
// At most MaxGPULights lights are written; the rest are dropped in list order.
//
// Parameters:
//   - lights: the lights to marshal, highest priority first
//   - ambient: the scene ambient color as RGB
//
// Returns:
//   - []byte: the marshaled buffer ready for GPU upload
func MarshalLightBuffer(lights []GPULight, ambient [3]float32) []byte {
	headerSize := (&GPULightHeader{}).Size()
	lightSize := (&GPULight{}).Size()

	count := min(len(lights), MaxGPULights)
	buf := make([]byte, headerSize+count*lightSize)

	header := GPULightHeader{AmbientColor: ambient, LightCount: uint32(count)}
	copy(buf[0:headerSize], header.Marshal())

	offset := headerSize
	for i := range count {
		copy(buf[offset:offset+lightSize], lights[i].Marshal())
		offset += lightSize
	}
	return buf
}

// LightBufferSize returns the byte size of a light buffer holding capacity lights.
//
// Parameters:
//   - capacity: the number of light slots
//
// Returns:
//   - uint64: header plus capacity light records
func LightBufferSize(capacity int) uint64 {
	return uint64((&GPULightHeader{}).Size() + capacity*(&GPULight{}).Size())
}
