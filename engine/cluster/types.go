package cluster

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// DefaultGridX is the default number of horizontal screen tiles.
	DefaultGridX = 16
	// DefaultGridY is the default number of vertical screen tiles.
	DefaultGridY = 9
	// DefaultGridZ is the default number of exponential depth slices.
	DefaultGridZ = 24
	// DefaultMaxLightsPerCluster caps the lights recorded for one cluster.
	DefaultMaxLightsPerCluster = 256
	// DefaultIndicesPerCluster sizes the shared index list as clusters × this value.
	DefaultIndicesPerCluster = 32
)

// GridSize is the cluster grid resolution.
type GridSize struct {
	X, Y, Z uint32
}

// Count returns the number of clusters in the grid.
func (g GridSize) Count() int {
	return int(g.X) * int(g.Y) * int(g.Z)
}

// Index flattens cluster coordinates, x fastest.
func (g GridSize) Index(x, y, z uint32) int {
	return int(x + y*g.X + z*g.X*g.Y)
}

// Cluster is one cell of the grid. Bounds is in view space; Offset and Count
// address the cluster's run in the shared light index list.
type Cluster struct {
	Bounds common.BoundingBox
	Offset uint32
	Count  uint32
}

// ClusterLight is a light prepared for assignment. Position and Direction are
// in view space. Light, when set, supplies the shading attributes copied into
// the GPU light record.
type ClusterLight struct {
	Position    mgl32.Vec3
	Direction   mgl32.Vec3
	Range       float32
	Directional bool
	Light       light.Light
}

// gpuLight builds the GPU record for the light. The cull kernel reads only the
// position, type and range; the rest is carried for shading passes that bind
// the same buffer.
func (l ClusterLight) gpuLight() light.GPULight {
	g := light.GPULight{
		Position:   l.Position,
		LightType:  uint32(light.LightTypePoint),
		Direction:  l.Direction,
		LightRange: l.Range,
	}
	if l.Directional {
		g.LightType = uint32(light.LightTypeDirectional)
	}
	if l.Light != nil {
		if l.Light.Type() == light.LightTypeSpot {
			g.LightType = uint32(light.LightTypeSpot)
		}
		g.Color = l.Light.Color()
		g.Intensity = l.Light.Intensity()
		g.InnerCone = l.Light.InnerCone()
		g.OuterCone = l.Light.OuterCone()
		if l.Light.CastsShadows() {
			g.CastsShadows = 1
		}
	}
	return g
}

// touches reports whether the light reaches b. Directional lights reach every cluster.
func (l ClusterLight) touches(b common.BoundingBox) bool {
	if l.Directional {
		return true
	}
	return common.SphereIntersectsAABB(common.BoundingSphere{Center: l.Position, Radius: l.Range}, b)
}

// frameParams are the inputs that determine cluster bounds.
type frameParams struct {
	width   int
	height  int
	near    float32
	far     float32
	invProj mgl32.Mat4
}

func (p frameParams) valid() bool {
	return p.width > 0 && p.height > 0 && p.near > 0 && p.far > p.near
}

// GPUClusterUniforms is the GPU-aligned uniform block shared by the build and cull kernels.
// Matches the WGSL ClusterUniforms struct (112 bytes, uniform aligned).
type GPUClusterUniforms struct {
	InvProj             mgl32.Mat4 // offset   0
	ScreenSize          [2]float32 // offset  64
	ZNear               float32    // offset  72
	ZFar                float32    // offset  76
	GridSize            [3]uint32  // offset  80
	MaxLightsPerCluster uint32     // offset  92
	MaxLightIndices     uint32     // offset  96
	_pad                [3]uint32  // offset 100: pad to 112
}

// Size returns the size of the GPUClusterUniforms struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (112)
func (u *GPUClusterUniforms) Size() int {
	return int(unsafe.Sizeof(*u))
}

// Marshal serializes the uniforms for upload.
//
// Returns:
//   - []byte: 112-byte buffer ready for GPU upload
func (u *GPUClusterUniforms) Marshal() []byte {
	buf := make([]byte, 112)
	common.PutMat4(buf[0:64], u.InvProj)
	binary.LittleEndian.PutUint32(buf[64:68], math.Float32bits(u.ScreenSize[0]))
	binary.LittleEndian.PutUint32(buf[68:72], math.Float32bits(u.ScreenSize[1]))
	common.PutFloat32(buf[72:76], u.ZNear)
	common.PutFloat32(buf[76:80], u.ZFar)
	binary.LittleEndian.PutUint32(buf[80:84], u.GridSize[0])
	binary.LittleEndian.PutUint32(buf[84:88], u.GridSize[1])
	binary.LittleEndian.PutUint32(buf[88:92], u.GridSize[2])
	binary.LittleEndian.PutUint32(buf[92:96], u.MaxLightsPerCluster)
	binary.LittleEndian.PutUint32(buf[96:100], u.MaxLightIndices)
	return buf
}

const (
	gpuClusterAABBSize = 32
	gpuLightInfoSize   = 8
)
