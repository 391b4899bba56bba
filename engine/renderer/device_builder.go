package renderer

// deviceConfig collects builder options before the adapter is requested.
type deviceConfig struct {
	label                string
	forceFallbackAdapter bool
}

// DeviceBuilderOption is a functional option applied to a device during construction via NewWGPUDevice.
type DeviceBuilderOption func(*deviceConfig)

// WithLabel sets the label prefix used for the device and its debug names.
//
// Parameters:
//   - label: the label prefix
//
// Returns:
//   - DeviceBuilderOption: a function that applies the label option
func WithLabel(label string) DeviceBuilderOption {
	return func(c *deviceConfig) {
		if label != "" {
			c.label = label
		}
	}
}

// WithForceSoftwareAdapter forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe). Useful for running the GPU culling paths in CI.
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - DeviceBuilderOption: a function that applies the fallback adapter option
func WithForceSoftwareAdapter(force bool) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.forceFallbackAdapter = force
	}
}
