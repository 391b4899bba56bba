package visibility

import "github.com/Carmen-Shannon/oxy-visibility/engine/culling"

// ResolverBuilderOption is a function that configures a resolver during construction.
type ResolverBuilderOption func(*resolver)

// WithLODThresholds sets the four un-squared LOD band distances.
//
// Parameters:
//   - t: ascending distances in world units
//
// Returns:
//   - ResolverBuilderOption: a function that applies the thresholds
func WithLODThresholds(t [4]float32) ResolverBuilderOption {
	return func(r *resolver) {
		r.thresholdsSq = SquareThresholds(t)
	}
}

// WithCuller makes the resolver drive an existing FrustumCuller.
//
// Parameters:
//   - c: the culler
//
// Returns:
//   - ResolverBuilderOption: a function that applies the culler
func WithCuller(c culling.FrustumCuller) ResolverBuilderOption {
	return func(r *resolver) {
		r.culler = c
	}
}

// WithMaxLights caps the number of visible lights kept after sorting. Zero
// keeps every light.
//
// Parameters:
//   - n: the light budget
//
// Returns:
//   - ResolverBuilderOption: a function that applies the budget
func WithMaxLights(n int) ResolverBuilderOption {
	return func(r *resolver) {
		r.maxLights = max(n, 0)
	}
}
