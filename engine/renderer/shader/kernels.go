package shader

import (
	"embed"
	"path"
	"sort"
	"strings"
)

// Keys of the compute kernels shipped with the package.
const (
	KeyClusterBuild  = "cluster_build"
	KeyClusterCull   = "cluster_cull"
	KeyHiZSeed       = "hiz_seed"
	KeyHiZDownsample = "hiz_downsample"
	KeyHiZCull       = "hiz_cull"
)

//go:embed assets/*.wgsl
var assets embed.FS

//go:embed assets/cluster_types.wgsl
var clusterTypesSource string

//go:embed assets/hiz_types.wgsl
var hizTypesSource string

// KernelSource returns the raw WGSL of an embedded kernel, includes unexpanded.
//
// Parameters:
//   - key: one of the Key* constants
//
// Returns:
//   - string: the kernel source
//   - bool: false if no kernel with that key is embedded
func KernelSource(key string) (string, bool) {
	data, err := assets.ReadFile(path.Join("assets", key+".wgsl"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// LoadKernel pre-processes, validates and parses an embedded kernel.
//
// Parameters:
//   - key: one of the Key* constants
//   - options: forwarded to NewComputeShader
//
// Returns:
//   - Shader: the parsed kernel
//   - error: if the kernel is unknown or fails validation
func LoadKernel(key string, options ...ShaderOption) (Shader, error) {
	src, ok := KernelSource(key)
	if !ok {
		return nil, &UnknownKernelError{Key: key}
	}
	return NewComputeShader(key, src, options...)
}

// KernelKeys lists every embedded kernel, skipping the shared struct files.
//
// Returns:
//   - []string: kernel keys in lexical order
func KernelKeys() []string {
	entries, err := assets.ReadDir("assets")
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".wgsl")
		if strings.HasSuffix(name, "_types") {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// UnknownKernelError is returned by LoadKernel for keys with no embedded source.
type UnknownKernelError struct {
	Key string
}

func (e *UnknownKernelError) Error() string {
	return "shader: unknown kernel " + e.Key
}
