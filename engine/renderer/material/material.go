package material

import (
	"hash/fnv"
	"strconv"
	"sync/atomic"
)

// materialCount is an atomic counter used to assign each material a unique ID.
var materialCount atomic.Uint32

// BlendMode describes how a material's fragments combine with the target.
// Anything other than BlendOpaque is drawn in the transparent pass.
type BlendMode int

const (
	// BlendOpaque writes fragments without blending.
	BlendOpaque BlendMode = iota
	// BlendAlphaMask discards fragments below the alpha cutoff.
	BlendAlphaMask
	// BlendAlpha blends with standard source-over alpha.
	BlendAlpha
	// BlendAdditive adds the fragment color to the target.
	BlendAdditive
)

// material is the implementation of the Material interface.
type material struct {
	id          uint32
	name        string
	baseColor   [4]float32
	blendMode   BlendMode
	pipelineKey string
	hash        uint16
}

// Material is the render material reference carried by mesh proxies and draw
// commands. The visibility pipeline only needs a stable identity to sort and
// batch on, plus the blend mode to split opaque from transparent draws.
type Material interface {
	// ID returns the unique, stable numeric identity of the material. Draw
	// commands are sorted by this value.
	//
	// Returns:
	//   - uint32: the material ID
	ID() uint32

	// Name retrieves the material identifier.
	//
	// Returns:
	//   - string: the name of the material
	Name() string

	// BaseColor retrieves the albedo/diffuse RGBA color of the material.
	//
	// Returns:
	//   - [4]float32: the base color as RGBA values
	BaseColor() [4]float32

	// BlendMode returns how the material blends with the render target.
	//
	// Returns:
	//   - BlendMode: the blend mode
	BlendMode() BlendMode

	// Transparent reports whether the material belongs to the transparent pass.
	//
	// Returns:
	//   - bool: true when BlendMode is not BlendOpaque
	Transparent() bool

	// PipelineKey retrieves the key identifying the render pipeline this material uses.
	//
	// Returns:
	//   - string: the pipeline key
	PipelineKey() string

	// Hash returns the 16-bit material identity hash used in the high half of
	// visible-object sort keys.
	//
	// Returns:
	//   - uint16: FNV-1a of the material identity folded to 16 bits
	Hash() uint16

	// SetPipelineKey sets the render pipeline key for this material.
	//
	// Parameters:
	//   - key: the pipeline key to associate with this material
	SetPipelineKey(key string)
}

var _ Material = &material{}

// NewMaterial creates a new Material instance configured with the provided options.
//
// Parameters:
//   - options: variadic list of MaterialBuilderOption functions to configure the material
//
// Returns:
//   - Material: a new Material instance
func NewMaterial(options ...MaterialBuilderOption) Material {
	m := &material{
		id:        materialCount.Add(1),
		baseColor: [4]float32{1, 1, 1, 1},
		blendMode: BlendOpaque,
	}
	for _, opt := range options {
		opt(m)
	}
	m.hash = identityHash(m.id, m.pipelineKey)
	return m
}

func (m *material) ID() uint32 {
	return m.id
}

func (m *material) Name() string {
	return m.name
}

func (m *material) BaseColor() [4]float32 {
	return m.baseColor
}

func (m *material) BlendMode() BlendMode {
	return m.blendMode
}

func (m *material) Transparent() bool {
	return m.blendMode != BlendOpaque
}

func (m *material) PipelineKey() string {
	return m.pipelineKey
}

func (m *material) Hash() uint16 {
	return m.hash
}

func (m *material) SetPipelineKey(key string) {
	m.pipelineKey = key
	m.hash = identityHash(m.id, key)
}

// identityHash folds FNV-1a over the pipeline key and ID into 16 bits.
func identityHash(id uint32, pipelineKey string) uint16 {
	h := fnv.New32a()
	h.Write([]byte(pipelineKey))
	h.Write([]byte{0})
	h.Write(strconv.AppendUint(nil, uint64(id), 10))
	sum := h.Sum32()
	return uint16(sum>>16) ^ uint16(sum)
}
