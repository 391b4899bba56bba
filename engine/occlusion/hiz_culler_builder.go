package occlusion

// HiZCullerBuilderOption is a functional option applied to a culler during construction via NewHiZOcclusionCuller.
type HiZCullerBuilderOption func(*hiZCuller)

// WithMaxObjects sets how many candidates one Cull call tests.
//
// Parameters:
//   - n: the capacity, ignored when below 1
//
// Returns:
//   - HiZCullerBuilderOption: a function that applies the capacity option
func WithMaxObjects(n int) HiZCullerBuilderOption {
	return func(c *hiZCuller) {
		if n > 0 {
			c.maxObjects = n
		}
	}
}

// WithFramesInFlight sets how many copies of the per-frame cull buffers rotate.
func WithFramesInFlight(n int) HiZCullerBuilderOption {
	return func(c *hiZCuller) {
		if n > 0 {
			c.framesInFlight = n
		}
	}
}

// WithReadback makes CullTwoPhase read GPU results back and filter on the CPU.
// Every frame then waits for the GPU, so this is for tooling and debugging.
func WithReadback(enabled bool) HiZCullerBuilderOption {
	return func(c *hiZCuller) {
		c.readback = enabled
	}
}

// WithSoftwareStrategy builds and tests the pyramid on the CPU from
// DepthSource.Image, ignoring the device.
func WithSoftwareStrategy() HiZCullerBuilderOption {
	return func(c *hiZCuller) {
		c.software = true
	}
}

// WithKernelValidation toggles naga validation of the Hi-Z kernels.
func WithKernelValidation(validate bool) HiZCullerBuilderOption {
	return func(c *hiZCuller) {
		c.validateKernels = validate
	}
}
