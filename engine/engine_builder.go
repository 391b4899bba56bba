package engine

import (
	"github.com/Carmen-Shannon/oxy-visibility/engine/config"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
)

// PipelineBuilderOption is a functional option for configuring a VisibilityPipeline.
// Use the With* functions to create options that are applied directly to the pipeline instance.
type PipelineBuilderOption func(*pipeline)

// WithProfiling enables or disables culling statistics output.
//
// Parameters:
//   - enabled: if true, enables profiling
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithProfiling(enabled bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.profilingEnabled = enabled
	}
}

// WithDevice gives the GPU-capable stages a device. Without one every stage
// runs its CPU or pass-through strategy.
//
// Parameters:
//   - d: the device
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithDevice(d renderer.Device) PipelineBuilderOption {
	return func(p *pipeline) {
		p.device = d
	}
}

// WithConfig replaces the default configuration. An invalid configuration is
// ignored in favor of the defaults.
//
// Parameters:
//   - cfg: the configuration
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithConfig(cfg config.Config) PipelineBuilderOption {
	return func(p *pipeline) {
		if cfg.Validate() == nil {
			p.cfg = cfg
		}
	}
}

// WithScreenSize sets the initial render target size. Values <= 0 keep the 1280x720 default.
//
// Parameters:
//   - width, height: the size in pixels
//
// Returns:
//   - PipelineBuilderOption: option function to apply
func WithScreenSize(width, height int) PipelineBuilderOption {
	return func(p *pipeline) {
		if width > 0 && height > 0 {
			p.width, p.height = width, height
		}
	}
}
