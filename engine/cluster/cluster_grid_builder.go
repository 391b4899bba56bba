package cluster

// ClusterGridBuilderOption is a functional option applied to a grid during construction via NewClusterGrid.
type ClusterGridBuilderOption func(*clusterGrid)

// WithGridSize sets the grid resolution. Zero dimensions are ignored.
//
// Parameters:
//   - x, y: screen tiles across and down
//   - z: exponential depth slices
//
// Returns:
//   - ClusterGridBuilderOption: a function that applies the grid size option
func WithGridSize(x, y, z uint32) ClusterGridBuilderOption {
	return func(c *clusterGrid) {
		if x > 0 && y > 0 && z > 0 {
			c.grid = GridSize{X: x, Y: y, Z: z}
		}
	}
}

// WithMaxLightsPerCluster caps how many lights one cluster records.
//
// Parameters:
//   - n: the per-cluster cap, ignored when below 1
//
// Returns:
//   - ClusterGridBuilderOption: a function that applies the cap option
func WithMaxLightsPerCluster(n int) ClusterGridBuilderOption {
	return func(c *clusterGrid) {
		if n > 0 {
			c.maxLightsPerCluster = n
		}
	}
}

// WithMaxLightIndices sets the capacity of the shared light index list.
// The default is the cluster count times DefaultIndicesPerCluster.
//
// Parameters:
//   - n: the index capacity, ignored when below 1
//
// Returns:
//   - ClusterGridBuilderOption: a function that applies the capacity option
func WithMaxLightIndices(n int) ClusterGridBuilderOption {
	return func(c *clusterGrid) {
		if n > 0 {
			c.maxLightIndices = n
		}
	}
}

// WithWorkers sets the CPU worker count. 1 runs the CPU path serially.
func WithWorkers(n int) ClusterGridBuilderOption {
	return func(c *clusterGrid) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithFramesInFlight sets how many copies of the per-frame GPU buffers rotate.
func WithFramesInFlight(n int) ClusterGridBuilderOption {
	return func(c *clusterGrid) {
		if n > 0 {
			c.framesInFlight = n
		}
	}
}

// WithKernelValidation toggles naga validation of the cluster kernels before
// their pipelines are registered.
func WithKernelValidation(validate bool) ClusterGridBuilderOption {
	return func(c *clusterGrid) {
		c.validateKernels = validate
	}
}
