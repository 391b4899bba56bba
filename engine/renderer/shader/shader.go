package shader

import (
	"fmt"
	"slices"

	"github.com/gogpu/naga"
)

// BindingKind classifies the resource a shader binding expects.
type BindingKind int

const (
	// BindingUniform is a var<uniform> buffer.
	BindingUniform BindingKind = iota

	// BindingStorage is a var<storage, read_write> buffer.
	BindingStorage

	// BindingReadOnlyStorage is a var<storage, read> buffer.
	BindingReadOnlyStorage

	// BindingSampledTexture is a texture_* handle read with textureLoad or textureSample.
	BindingSampledTexture

	// BindingDepthTexture is a texture_depth_* handle.
	BindingDepthTexture

	// BindingStorageTexture is a texture_storage_* handle.
	BindingStorageTexture

	// BindingSampler is a sampler or sampler_comparison handle.
	BindingSampler
)

// String returns the WGSL-flavoured name of the binding kind.
func (k BindingKind) String() string {
	switch k {
	case BindingUniform:
		return "uniform"
	case BindingStorage:
		return "storage"
	case BindingReadOnlyStorage:
		return "read-only-storage"
	case BindingSampledTexture:
		return "texture"
	case BindingDepthTexture:
		return "depth-texture"
	case BindingStorageTexture:
		return "storage-texture"
	case BindingSampler:
		return "sampler"
	default:
		return fmt.Sprintf("BindingKind(%d)", int(k))
	}
}

// IsBuffer reports whether the binding is backed by a buffer.
func (k BindingKind) IsBuffer() bool {
	return k == BindingUniform || k == BindingStorage || k == BindingReadOnlyStorage
}

// BindingLayout describes one @group/@binding declaration parsed from a shader.
// It carries no graphics-API types so any device backend can build its own
// layout objects from it.
type BindingLayout struct {
	// Group is the @group index.
	Group uint32
	// Binding is the @binding index within the group.
	Binding uint32
	// Name is the WGSL variable name.
	Name string
	// Kind classifies the bound resource.
	Kind BindingKind
	// MinSize is the minimum buffer size in bytes, 0 when unknown or not a buffer.
	MinSize uint64
	// SampleType is the texel scalar of a sampled texture ("f32", "u32", "i32") or "depth".
	SampleType string
	// Dimension is the view dimension of a texture binding, e.g. "2d".
	Dimension string
	// TexelFormat is the format of a storage texture, e.g. "r32float".
	TexelFormat string
	// Access is the access mode of a storage texture ("read", "write", "read_write").
	Access string
	// Multisampled is set for multisampled texture bindings.
	Multisampled bool
	// Comparison is set for sampler_comparison bindings.
	Comparison bool
}

// shader is the implementation of the Shader interface.
type shader struct {
	key           string
	source        string
	entryPoint    string
	workGroupSize [3]uint32
	bindings      []BindingLayout
}

// Shader is a parsed, validated WGSL compute shader. It exposes the metadata a
// device needs to build the compute pipeline and its bind group layouts.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the pre-processed WGSL source code.
	//
	// Returns:
	//   - string: the WGSL source with every include expanded
	Source() string

	// EntryPoint returns the name of the @compute function.
	//
	// Returns:
	//   - string: the entry point name (e.g. "cs_main")
	EntryPoint() string

	// WorkgroupSize returns the @workgroup_size dimensions, [1, 1, 1] when unspecified.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// Bindings returns every resource binding sorted by group then binding.
	//
	// Returns:
	//   - []BindingLayout: the parsed bindings
	Bindings() []BindingLayout

	// Group returns the bindings of one bind group sorted by binding index.
	//
	// Parameters:
	//   - group: the @group index
	//
	// Returns:
	//   - []BindingLayout: the group's bindings, nil if the group is unused
	Group(group uint32) []BindingLayout

	// GroupCount returns one past the highest @group index declared.
	GroupCount() int
}

var _ Shader = &shader{}

// ShaderOption configures NewComputeShader.
type ShaderOption func(*shaderConfig)

type shaderConfig struct {
	validate bool
}

// WithValidation toggles the naga compile step. Backends that validate WGSL
// themselves when creating the shader module may skip it.
//
// Parameters:
//   - validate: false to skip naga
//
// Returns:
//   - ShaderOption: a function that applies the validation option
func WithValidation(validate bool) ShaderOption {
	return func(c *shaderConfig) {
		c.validate = validate
	}
}

// NewComputeShader pre-processes source, validates it by compiling it with naga,
// and extracts the entry point, workgroup size and binding layouts.
//
// Parameters:
//   - key: a unique identifier for the shader, used for caching and labels
//   - source: WGSL source, optionally containing @oxy:include directives
//   - options: optional settings such as WithValidation
//
// Returns:
//   - Shader: the parsed shader
//   - error: when an include is unknown, the source fails to compile, or it has no @compute entry point
func NewComputeShader(key, source string, options ...ShaderOption) (Shader, error) {
	cfg := shaderConfig{validate: true}
	for _, opt := range options {
		opt(&cfg)
	}

	processed, err := NewPreProcessor().Process(source)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", key, err)
	}
	if cfg.validate {
		if _, err := naga.Compile(processed); err != nil {
			return nil, fmt.Errorf("shader %s: compile: %w", key, err)
		}
	}
	entry := parseEntryPoint(processed)
	if entry == "" {
		return nil, fmt.Errorf("shader %s: no @compute entry point", key)
	}
	return &shader{
		key:           key,
		source:        processed,
		entryPoint:    entry,
		workGroupSize: parseWorkgroupSize(processed),
		bindings:      parseBindings(processed),
	}, nil
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workGroupSize
}

func (s *shader) Bindings() []BindingLayout {
	return slices.Clone(s.bindings)
}

func (s *shader) Group(group uint32) []BindingLayout {
	var out []BindingLayout
	for _, b := range s.bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	return out
}

func (s *shader) GroupCount() int {
	n := 0
	for _, b := range s.bindings {
		n = max(n, int(b.Group)+1)
	}
	return n
}

// DispatchSize returns how many workgroups cover count invocations along one
// axis for a kernel with the given workgroup dimension.
//
// Parameters:
//   - count: the number of invocations needed
//   - workgroup: the workgroup size along the axis
//
// Returns:
//   - uint32: ceil(count / workgroup), at least 1 when count > 0
func DispatchSize(count, workgroup uint32) uint32 {
	if workgroup == 0 {
		workgroup = 1
	}
	return (count + workgroup - 1) / workgroup
}
