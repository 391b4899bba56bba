package shader

import (
	"strconv"
	"strings"
)

// wgslPrimitiveLayoutMap maps WGSL scalar, matrix and atomic type names to their byte
// size and alignment. Vector types are filled in by init for every scalar and
// both spellings (vec3<f32> and vec3f).
//
// Reference: https://www.w3.org/TR/WGSL/#alignment-and-size
var wgslPrimitiveLayoutMap = map[string]wgslTypeLayout{
	"f32":  {4, 4},
	"i32":  {4, 4},
	"u32":  {4, 4},
	"f16":  {2, 2},
	"bool": {4, 4},

	// matCxR<f32>: C columns of vecR<f32>, column stride = roundUp(align(vecR), size(vecR))
	"mat2x2<f32>": {16, 8},
	"mat2x3<f32>": {32, 16},
	"mat2x4<f32>": {32, 16},
	"mat3x2<f32>": {24, 8},
	"mat3x3<f32>": {48, 16},
	"mat3x4<f32>": {48, 16},
	"mat4x2<f32>": {32, 8},
	"mat4x3<f32>": {64, 16},
	"mat4x4<f32>": {64, 16},
	"mat4x4f":     {64, 16},
	"mat3x3f":     {48, 16},

	"atomic<u32>": {4, 4},
	"atomic<i32>": {4, 4},
}

func init() {
	scalars := []struct {
		name   string
		suffix string
		size   uint64
	}{
		{"f32", "f", 4},
		{"i32", "i", 4},
		{"u32", "u", 4},
		{"f16", "h", 2},
	}
	for _, s := range scalars {
		for n := uint64(2); n <= 4; n++ {
			size := n * s.size
			align := size
			if n == 3 {
				align = 4 * s.size
			}
			l := wgslTypeLayout{size, align}
			dim := strconv.FormatUint(n, 10)
			wgslPrimitiveLayoutMap["vec"+dim+"<"+s.name+">"] = l
			wgslPrimitiveLayoutMap["vec"+dim+s.suffix] = l
		}
	}
}

// roundUpAlign rounds value up to the next multiple of a power-of-two alignment.
func roundUpAlign(alignment, value uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// resolveTypeLayout resolves a WGSL type name to its size and alignment using the
// primitive table and previously computed struct layouts. A runtime-sized array
// resolves to a single element stride, the smallest useful binding size.
//
// Parameters:
//   - typeName: the WGSL type, e.g. "u32", "ClusterAABB", "array<HiZBounds>"
//   - known: struct layouts resolved so far
//
// Returns:
//   - wgslTypeLayout: the resolved layout
//   - bool: false for unknown types
func resolveTypeLayout(typeName string, known map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	if l, ok := wgslPrimitiveLayoutMap[typeName]; ok {
		return l, true
	}
	if l, ok := known[typeName]; ok {
		return l, true
	}
	inner, ok := strings.CutPrefix(typeName, "array<")
	if !ok || !strings.HasSuffix(inner, ">") {
		return wgslTypeLayout{}, false
	}
	elemType, countStr, fixed := strings.Cut(inner[:len(inner)-1], ",")
	elem, ok := resolveTypeLayout(strings.TrimSpace(elemType), known)
	if !ok {
		return wgslTypeLayout{}, false
	}
	stride := roundUpAlign(elem.align, elem.size)
	if !fixed {
		return wgslTypeLayout{stride, elem.align}, true
	}
	count, err := strconv.ParseUint(strings.TrimSpace(countStr), 10, 64)
	if err != nil {
		return wgslTypeLayout{}, false
	}
	return wgslTypeLayout{count * stride, elem.align}, true
}

// isRuntimeArray reports whether typeName is an unsized array<T>.
func isRuntimeArray(typeName string) bool {
	return strings.HasPrefix(typeName, "array<") && !strings.Contains(typeName, ",")
}

// computeStructLayout lays out a struct by WGSL rules: each field at its next aligned
// offset, total size rounded up to the largest field alignment. A trailing runtime-sized
// array contributes one element, so a struct holding a vec4 header and an
// array<u32> reports 20 bytes. @builtin fields are not part of buffer layouts and are skipped.
//
// Parameters:
//   - ps: the parsed struct
//   - known: struct layouts resolved so far
//
// Returns:
//   - wgslTypeLayout: the computed layout
//   - bool: false if any field type is still unresolved
func computeStructLayout(ps parsedStruct, known map[string]wgslTypeLayout) (wgslTypeLayout, bool) {
	offset := uint64(0)
	maxAlign := uint64(1)
	for _, f := range ps.fields {
		if f.isBuiltin {
			continue
		}
		fl, ok := resolveTypeLayout(f.typeName, known)
		if !ok {
			return wgslTypeLayout{}, false
		}
		offset = roundUpAlign(fl.align, offset) + fl.size
		maxAlign = max(maxAlign, fl.align)
		if isRuntimeArray(f.typeName) {
			break
		}
	}
	return wgslTypeLayout{roundUpAlign(maxAlign, offset), maxAlign}, true
}

// computeStructSizes resolves every parsed struct, repeating until no more progress
// is made so structs may reference structs declared after them.
//
// Parameters:
//   - structs: all parsed struct blocks from the source
//
// Returns:
//   - map[string]wgslTypeLayout: struct name to computed layout
func computeStructSizes(structs []parsedStruct) map[string]wgslTypeLayout {
	resolved := make(map[string]wgslTypeLayout, len(structs))
	pending := structs
	for len(pending) > 0 {
		var next []parsedStruct
		for _, ps := range pending {
			if l, ok := computeStructLayout(ps, resolved); ok {
				resolved[ps.name] = l
			} else {
				next = append(next, ps)
			}
		}
		if len(next) == len(pending) {
			break
		}
		pending = next
	}
	return resolved
}

// classifyResource builds a BindingLayout from the address space and type of a
// declaration. Group, binding and name are filled in by the caller.
//
// Parameters:
//   - addressSpace: the var<...> qualifier, empty for handle types
//   - typeName: the declared WGSL type
//
// Returns:
//   - BindingLayout: the classified binding
func classifyResource(addressSpace, typeName string) BindingLayout {
	var b BindingLayout
	if addressSpace != "" {
		switch {
		case addressSpace == "uniform":
			b.Kind = BindingUniform
		case strings.Contains(addressSpace, "read_write"):
			b.Kind = BindingStorage
		default:
			b.Kind = BindingReadOnlyStorage
		}
		return b
	}

	base, params := splitTypeParams(typeName)
	switch {
	case base == "sampler" || base == "sampler_comparison":
		b.Kind = BindingSampler
		b.Comparison = base == "sampler_comparison"
	case strings.HasPrefix(base, "texture_storage_"):
		b.Kind = BindingStorageTexture
		b.Dimension = strings.TrimPrefix(base, "texture_storage_")
		format, access, _ := strings.Cut(params, ",")
		b.TexelFormat = strings.TrimSpace(format)
		b.Access = strings.TrimSpace(access)
	case strings.HasPrefix(base, "texture_depth_"):
		b.Kind = BindingDepthTexture
		b.SampleType = "depth"
		b.Dimension = strings.TrimPrefix(base, "texture_depth_")
		b.Multisampled = strings.HasPrefix(b.Dimension, "multisampled_")
		b.Dimension = strings.TrimPrefix(b.Dimension, "multisampled_")
	case strings.HasPrefix(base, "texture_"):
		b.Kind = BindingSampledTexture
		b.SampleType = params
		b.Dimension = strings.TrimPrefix(base, "texture_")
		b.Multisampled = strings.HasPrefix(b.Dimension, "multisampled_")
		b.Dimension = strings.TrimPrefix(b.Dimension, "multisampled_")
	}
	return b
}

// splitTypeParams splits "texture_2d<f32>" into ("texture_2d", "f32"). Types without
// parameters return an empty params string.
func splitTypeParams(typeName string) (base string, params string) {
	before, after, ok := strings.Cut(typeName, "<")
	if !ok {
		return typeName, ""
	}
	return before, strings.TrimSpace(strings.TrimSuffix(after, ">"))
}

// stripComments removes block comments (nesting allowed) and then line comments.
func stripComments(source string) string {
	return stripLineComments(stripBlockComments(source))
}

func stripLineComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	for line := range strings.SplitSeq(source, "\n") {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func stripBlockComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		if i+1 < len(source) {
			switch {
			case source[i] == '/' && source[i+1] == '*':
				depth++
				i++
				continue
			case source[i] == '*' && source[i+1] == '/' && depth > 0:
				depth--
				i++
				continue
			}
		}
		if depth == 0 {
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}

// splitAtTopLevelCommas splits s at commas outside angle brackets, so
// array<Light, 4> stays one field.
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
