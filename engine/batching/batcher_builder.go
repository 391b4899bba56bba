package batching

import "github.com/Carmen-Shannon/oxy-visibility/engine/renderer"

// DrawBatcherBuilderOption is a functional option applied to a batcher during construction via NewDrawBatcher.
type DrawBatcherBuilderOption func(*drawBatcher)

// WithMaxInstancesPerDraw sets the instance cap per group. Values below 1 are ignored.
//
// Parameters:
//   - n: the maximum instances covered by one instanced draw
//
// Returns:
//   - DrawBatcherBuilderOption: a function that applies the cap option
func WithMaxInstancesPerDraw(n int) DrawBatcherBuilderOption {
	return func(b *drawBatcher) {
		if n > 0 {
			b.maxInstances = n
		}
	}
}

// WithDevice enables Upload against d.
//
// Parameters:
//   - d: the device owning the instance buffers
//
// Returns:
//   - DrawBatcherBuilderOption: a function that applies the device option
func WithDevice(d renderer.Device) DrawBatcherBuilderOption {
	return func(b *drawBatcher) {
		b.device = d
	}
}

// WithFramesInFlight sets how many instance buffers rotate.
func WithFramesInFlight(n int) DrawBatcherBuilderOption {
	return func(b *drawBatcher) {
		if n > 0 {
			b.frames = n
		}
	}
}
