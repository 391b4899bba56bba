package occlusion

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// DefaultMaxObjects is the default number of candidates one Cull call tests.
	DefaultMaxObjects = 65536

	// MaxMipLevels caps the pyramid depth.
	MaxMipLevels = 16

	cullWorkgroupSize  = 64
	pyramidTileSize    = 8
	gpuBoundsSize      = 32
	gpuCullParamsBytes = 80

	// DrawArgsSize is the size of one DrawIndexedArgs record in bytes.
	DrawArgsSize = 20
)

// ErrReadbackUnavailable is returned by Readback when no cull results exist to read,
// either because Cull has not run since the last BuildPyramid or because the
// active strategy produces none.
var ErrReadbackUnavailable = errors.New("occlusion: readback unavailable")

// State is the position of the culler in its per-frame sequence.
type State int

const (
	// StateIdle is the state after construction or Resize.
	StateIdle State = iota

	// StatePyramidBuilt follows a successful BuildPyramid.
	StatePyramidBuilt

	// StateCulled follows a successful Cull.
	StateCulled

	// StateReadBack follows a successful Readback.
	StateReadBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePyramidBuilt:
		return "pyramid-built"
	case StateCulled:
		return "culled"
	case StateReadBack:
		return "read-back"
	default:
		return "unknown"
	}
}

// DepthSource is the depth prepass output a pyramid is seeded from. The GPU
// strategy prefers Texture, an r32float texture the size of the pyramid, and
// uploads Image when Texture is nil. The software strategy reads Image only.
type DepthSource struct {
	Texture renderer.Texture
	Image   *common.DepthImage
}

// MipCount returns the number of pyramid levels for a screen size.
//
// Parameters:
//   - width, height: the mip 0 extent in texels
//
// Returns:
//   - uint32: ceil(log2(max(width, height))) + 1, capped at MaxMipLevels
func MipCount(width, height uint32) uint32 {
	m := max(width, height, 1)
	levels := uint32(1)
	for s := uint32(1); s < m; s <<= 1 {
		levels++
	}
	return min(levels, MaxMipLevels)
}

// GPUCullParams is the GPU-aligned uniform block read by the cull kernel.
// Matches the WGSL HiZCullParams struct (80 bytes).
type GPUCullParams struct {
	ViewProj    mgl32.Mat4 // offset  0
	ScreenSize  [2]float32 // offset 64
	ObjectCount uint32     // offset 72
	MipCount    uint32     // offset 76
}

// Size returns the size of the GPUCullParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (80)
func (p *GPUCullParams) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes the params for upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload
func (p *GPUCullParams) Marshal() []byte {
	buf := make([]byte, gpuCullParamsBytes)
	common.PutMat4(buf[0:64], p.ViewProj)
	common.PutFloat32(buf[64:68], p.ScreenSize[0])
	common.PutFloat32(buf[68:72], p.ScreenSize[1])
	binary.LittleEndian.PutUint32(buf[72:76], p.ObjectCount)
	binary.LittleEndian.PutUint32(buf[76:80], p.MipCount)
	return buf
}

// DrawGroup is one instanced indexed draw over a contiguous range of candidate
// slots. Candidates of a grouped cull are laid out in instance order, so slot i
// is instance i of the instance buffer.
type DrawGroup struct {
	IndexCount    uint32
	InstanceStart uint32
	InstanceCount uint32
}

// DrawIndexedArgs is one DrawIndexedIndirect record of the draw args buffer.
// The cull kernel counts the group's visible instances into InstanceCount and
// writes their slots to the visible-instance buffer starting at FirstInstance,
// so a vertex shader reads its instance as instances[visible[instance_index]].
type DrawIndexedArgs struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

// Marshal serializes the record in the WGSL HiZDrawArgs layout.
//
// Returns:
//   - []byte: DrawArgsSize bytes
func (a DrawIndexedArgs) Marshal() []byte {
	buf := make([]byte, DrawArgsSize)
	binary.LittleEndian.PutUint32(buf[0:4], a.IndexCount)
	binary.LittleEndian.PutUint32(buf[4:8], a.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:12], a.FirstIndex)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(a.BaseVertex))
	binary.LittleEndian.PutUint32(buf[16:20], a.FirstInstance)
	return buf
}

// UnmarshalDrawArgs decodes n records from a draw args buffer copy.
//
// Parameters:
//   - data: at least n*DrawArgsSize bytes
//   - n: the record count
//
// Returns:
//   - []DrawIndexedArgs: the decoded records
func UnmarshalDrawArgs(data []byte, n int) []DrawIndexedArgs {
	out := make([]DrawIndexedArgs, n)
	for i := range out {
		o := data[i*DrawArgsSize:]
		out[i] = DrawIndexedArgs{
			IndexCount:    binary.LittleEndian.Uint32(o[0:4]),
			InstanceCount: binary.LittleEndian.Uint32(o[4:8]),
			FirstIndex:    binary.LittleEndian.Uint32(o[8:12]),
			BaseVertex:    int32(binary.LittleEndian.Uint32(o[12:16])),
			FirstInstance: binary.LittleEndian.Uint32(o[16:20]),
		}
	}
	return out
}

// marshalDrawArgs writes the zero-count header of every group.
func marshalDrawArgs(groups []DrawGroup) []byte {
	buf := make([]byte, 0, len(groups)*DrawArgsSize)
	for _, g := range groups {
		buf = append(buf, DrawIndexedArgs{IndexCount: g.IndexCount, FirstInstance: g.InstanceStart}.Marshal()...)
	}
	return buf
}

// drawLayout is the group assignment of one cull: slots[i] is the index into
// groups of candidate i.
type drawLayout struct {
	groups []DrawGroup
	slots  []uint32
}

// groupIndex maps every candidate slot to its group, reusing dst. It fails
// unless the groups cover [0, n) with no slot claimed twice.
func groupIndex(dst []uint32, groups []DrawGroup, n int) ([]uint32, error) {
	const unset = ^uint32(0)
	out := slices.Grow(dst[:0], n)[:n]
	for i := range out {
		out[i] = unset
	}
	covered := 0
	for gi, g := range groups {
		end := uint64(g.InstanceStart) + uint64(g.InstanceCount)
		if end > uint64(n) {
			return nil, fmt.Errorf("group %d covers [%d, %d) past %d candidates", gi, g.InstanceStart, end, n)
		}
		for s := g.InstanceStart; s < uint32(end); s++ {
			if out[s] != unset {
				return nil, fmt.Errorf("slot %d claimed by groups %d and %d", s, out[s], gi)
			}
			out[s] = uint32(gi)
		}
		covered += int(g.InstanceCount)
	}
	if covered != n {
		return nil, fmt.Errorf("groups cover %d of %d candidates", covered, n)
	}
	return out, nil
}

// marshalBounds packs boxes as two vec4 corners each, w = 1.
func marshalBounds(boxes []common.BoundingBox) []byte {
	buf := make([]byte, len(boxes)*gpuBoundsSize)
	for i, b := range boxes {
		o := buf[i*gpuBoundsSize:]
		common.PutVec3(o[0:12], b.Min)
		common.PutFloat32(o[12:16], 1)
		common.PutVec3(o[16:28], b.Max)
		common.PutFloat32(o[28:32], 1)
	}
	return buf
}

func unmarshalFlags(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:]) != 0
	}
	return out
}

// depthLevel is one CPU-side pyramid level.
type depthLevel struct {
	width, height int
	texels        []float32
}

func (l depthLevel) at(x, y int) float32 {
	return l.texels[y*l.width+x]
}

// depthPyramid is the CPU form of the Hi-Z pyramid, also used to decode GPU
// texture mips in tests.
type depthPyramid struct {
	levels []depthLevel
}

// seed resets the pyramid to the given extent and copies img into level 0.
func (p *depthPyramid) seed(img *common.DepthImage, mips uint32) {
	p.levels = p.levels[:0]
	for m := range mips {
		w, h := renderer.MipExtent(uint32(img.Width), uint32(img.Height), m)
		p.levels = append(p.levels, depthLevel{width: int(w), height: int(h), texels: make([]float32, w*h)})
	}
	copy(p.levels[0].texels, img.Depth)
}

// reduce fills level m from level m-1 with a clamped 2x2 max.
func (p *depthPyramid) reduce(m int) {
	src, dst := p.levels[m-1], p.levels[m]
	for y := range dst.height {
		for x := range dst.width {
			x0, y0 := min(2*x, src.width-1), min(2*y, src.height-1)
			x1, y1 := min(2*x+1, src.width-1), min(2*y+1, src.height-1)
			dst.texels[y*dst.width+x] = max(src.at(x0, y0), src.at(x1, y0), src.at(x0, y1), src.at(x1, y1))
		}
	}
}

// projection is the screen-space footprint of a box.
type projection struct {
	uvMin, uvMax mgl32.Vec2
	nearest      float32
	crossesNear  bool
}

// project maps the corners of b to uv space with y down and depth in [0, 1].
func project(b common.BoundingBox, viewProj mgl32.Mat4) projection {
	pr := projection{uvMin: mgl32.Vec2{1, 1}, nearest: 1}
	for _, c := range b.Corners() {
		clip := viewProj.Mul4x1(c.Vec4(1))
		if clip.W() <= 0 {
			pr.crossesNear = true
			return pr
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		u := common.Clamp(ndc.X()*0.5+0.5, 0, 1)
		v := common.Clamp(0.5-ndc.Y()*0.5, 0, 1)
		pr.uvMin = mgl32.Vec2{min(pr.uvMin.X(), u), min(pr.uvMin.Y(), v)}
		pr.uvMax = mgl32.Vec2{max(pr.uvMax.X(), u), max(pr.uvMax.Y(), v)}
		pr.nearest = min(pr.nearest, ndc.Z()*0.5+0.5)
	}
	return pr
}

// texelRect returns the clamped texel rectangle {x0, y0, x1, y1} a uv range covers at a level.
func (p *depthPyramid) texelRect(uvMin, uvMax mgl32.Vec2, level int) [4]int {
	l := p.levels[level]
	sx, sy := float32(l.width), float32(l.height)
	return [4]int{
		common.Clamp(int(math.Floor(float64(uvMin.X()*sx))), 0, l.width-1),
		common.Clamp(int(math.Floor(float64(uvMin.Y()*sy))), 0, l.height-1),
		common.Clamp(int(math.Floor(float64(uvMax.X()*sx))), 0, l.width-1),
		common.Clamp(int(math.Floor(float64(uvMax.Y()*sy))), 0, l.height-1),
	}
}

// visible runs the per-object occlusion test against the pyramid.
func (p *depthPyramid) visible(b common.BoundingBox, viewProj mgl32.Mat4, screenW, screenH float32) bool {
	pr := project(b, viewProj)
	if pr.crossesNear || pr.nearest < 0 {
		return true
	}
	mips := len(p.levels)
	ext := pr.uvMax.Sub(pr.uvMin)
	footprint := max(ext.X()*screenW, ext.Y()*screenH, 1)
	level := min(int(math.Ceil(math.Log2(float64(footprint)))), mips-1)
	r := p.texelRect(pr.uvMin, pr.uvMax, level)
	for level < mips-1 && (r[2]-r[0] > 1 || r[3]-r[1] > 1) {
		level++
		r = p.texelRect(pr.uvMin, pr.uvMax, level)
	}
	l := p.levels[level]
	occluder := max(l.at(r[0], r[1]), l.at(r[2], r[1]), l.at(r[0], r[3]), l.at(r[2], r[3]))
	return pr.nearest <= occluder
}
