// pre_processor.go implements the WGSL include pre-processor. Kernels reference shared
// struct definitions with a single-line comment of the form
//
//	// @oxy:include <name>
//
// which is replaced by the registered WGSL source for <name>. Each name is expanded at
// most once per shader so kernels may include overlapping sets without redefining a struct.
package shader

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
)

// includeRegex matches an include directive occupying a whole line.
var includeRegex = regexp.MustCompile(`^\s*//\s*@oxy:include\s+(\w+)\s*$`)

var (
	registryMu sync.RWMutex
	registry   = map[string]string{
		"light":         light.GPULightSource,
		"light_header":  light.GPULightHeaderSource,
		"cluster_types": clusterTypesSource,
		"hiz_types":     hizTypesSource,
	}
)

// RegisterInclude makes source available to @oxy:include under name. Registering
// an existing name replaces it.
//
// Parameters:
//   - name: the include key
//   - source: the WGSL text injected in place of the directive
func RegisterInclude(name, source string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = source
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	included []string
}

// PreProcessor expands @oxy:include directives in WGSL source.
type PreProcessor interface {
	// Process replaces every include directive with its registered source.
	//
	// Parameters:
	//   - source: the raw WGSL shader source
	//
	// Returns:
	//   - string: the expanded source
	//   - error: when a directive names an unregistered include
	Process(source string) (string, error)

	// Included returns the include names expanded by the last Process call, in source order.
	Included() []string
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor backed by the package include registry.
//
// Returns:
//   - PreProcessor: a new pre-processor
func NewPreProcessor() PreProcessor {
	return &preProcessor{}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.included = p.included[:0]
	seen := make(map[string]bool)

	registryMu.RLock()
	defer registryMu.RUnlock()

	var sb strings.Builder
	sb.Grow(len(source))
	for i, line := range strings.Split(source, "\n") {
		m := includeRegex.FindStringSubmatch(line)
		if m == nil {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}
		name := m[1]
		src, ok := registry[name]
		if !ok {
			return "", fmt.Errorf("line %d: unknown include %q", i+1, name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		p.included = append(p.included, name)
		sb.WriteString(strings.TrimRight(src, "\n"))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (p *preProcessor) Included() []string {
	return p.included
}
