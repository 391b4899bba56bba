package scene

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithCapacity sets the initial static mesh proxy capacity. Skinned mesh and
// light tables are sized to a quarter of it.
//
// Parameters:
//   - n: the expected number of static mesh proxies
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithCapacity(n int) SceneBuilderOption {
	return func(s *scene) {
		if n < 4 {
			n = 4
		}
		s.capacity = n
	}
}
