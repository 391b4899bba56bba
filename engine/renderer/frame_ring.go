package renderer

import "fmt"

// FramesInFlight is the default number of frames the CPU may run ahead of the GPU.
const FramesInFlight = 2

// FrameRing holds one instance of a per-frame resource for every frame in flight,
// so writing frame N's data never touches the copy the GPU may still be reading
// for frame N-1.
type FrameRing[T any] struct {
	slots []T
	index int
}

// NewFrameRing allocates count slots with alloc. On failure the slots allocated so
// far are passed to release (when non-nil) before the error is returned.
//
// Parameters:
//   - count: number of frames in flight, at least 1
//   - alloc: creates the resource for slot i
//   - release: frees a slot on partial failure, may be nil
//
// Returns:
//   - *FrameRing[T]: the ring positioned at slot 0
//   - error: the first allocation failure
func NewFrameRing[T any](count int, alloc func(i int) (T, error), release func(T)) (*FrameRing[T], error) {
	count = max(count, 1)
	r := &FrameRing[T]{slots: make([]T, 0, count)}
	for i := range count {
		v, err := alloc(i)
		if err != nil {
			if release != nil {
				for _, s := range r.slots {
					release(s)
				}
			}
			return nil, fmt.Errorf("frame ring slot %d: %w", i, err)
		}
		r.slots = append(r.slots, v)
	}
	return r, nil
}

// Current returns the resource for the frame being recorded.
func (r *FrameRing[T]) Current() T {
	return r.slots[r.index]
}

// At returns the resource of slot i modulo the ring length.
func (r *FrameRing[T]) At(i int) T {
	n := len(r.slots)
	return r.slots[((i%n)+n)%n]
}

// Advance moves to the next slot and returns its resource.
func (r *FrameRing[T]) Advance() T {
	r.index = (r.index + 1) % len(r.slots)
	return r.slots[r.index]
}

// SetIndex positions the ring on the slot for frame.
func (r *FrameRing[T]) SetIndex(frame int) {
	n := len(r.slots)
	r.index = ((frame % n) + n) % n
}

// Index returns the current slot.
func (r *FrameRing[T]) Index() int {
	return r.index
}

// Len returns the number of slots.
func (r *FrameRing[T]) Len() int {
	return len(r.slots)
}

// Each calls visit for every slot in order.
func (r *FrameRing[T]) Each(visit func(i int, v T)) {
	for i, s := range r.slots {
		visit(i, s)
	}
}
