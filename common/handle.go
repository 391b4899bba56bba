package common

// Handle is an opaque reference into a HandleTable. It pairs a slot index
// with the generation the slot had when the handle was issued. The zero
// Handle is never issued and always fails to resolve.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

// handleSlot is one entry of a HandleTable.
type handleSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// HandleTable stores values of type T addressed by generation-checked handles.
//
// Releasing a slot increments its generation, so every handle issued before
// the release permanently fails to resolve, even after the slot is reused.
// Released slots are recycled LIFO from a free list.
//
// A HandleTable is not safe for concurrent mutation. Proxy tables are mutated
// between frames on the submitting thread only.
type HandleTable[T any] struct {
	slots []handleSlot[T]
	free  []uint32
	count int
}

// NewHandleTable creates a table with room for capacity values before growing.
//
// Parameters:
//   - capacity: initial slot capacity hint
//
// Returns:
//   - *HandleTable[T]: the new, empty table
func NewHandleTable[T any](capacity int) *HandleTable[T] {
	return &HandleTable[T]{
		slots: make([]handleSlot[T], 0, capacity),
	}
}

// Allocate stores value in a free slot and returns its handle.
//
// Parameters:
//   - value: the value to store
//
// Returns:
//   - Handle: a handle that resolves to the stored value until Release
func (t *HandleTable[T]) Allocate(value T) Handle {
	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = uint32(len(t.slots))
		// Generation starts at 1 so the zero Handle never matches.
		t.slots = append(t.slots, handleSlot[T]{generation: 1})
	}
	s := &t.slots[index]
	s.value = value
	s.live = true
	t.count++
	return Handle{Index: index, Generation: s.generation}
}

// Release frees the slot referenced by h. Stale or unknown handles are ignored.
//
// Parameters:
//   - h: the handle to release
//
// Returns:
//   - bool: true if a live value was released
func (t *HandleTable[T]) Release(h Handle) bool {
	if !t.Valid(h) {
		return false
	}
	s := &t.slots[h.Index]
	var zero T
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	t.free = append(t.free, h.Index)
	t.count--
	return true
}

// Valid reports whether h currently resolves to a live value.
func (t *HandleTable[T]) Valid(h Handle) bool {
	if int(h.Index) >= len(t.slots) {
		return false
	}
	s := &t.slots[h.Index]
	return s.live && s.generation == h.Generation
}

// Get returns a pointer to the value referenced by h, or nil when h is stale.
// The pointer is valid until the next Allocate or Release on the table.
//
// Parameters:
//   - h: the handle to resolve
//
// Returns:
//   - *T: the stored value or nil
func (t *HandleTable[T]) Get(h Handle) *T {
	if !t.Valid(h) {
		return nil
	}
	return &t.slots[h.Index].value
}

// ForEach calls visit for every live value in slot order. Iteration stops
// early when visit returns false.
//
// Parameters:
//   - visit: callback receiving the handle and a pointer to the value
func (t *HandleTable[T]) ForEach(visit func(h Handle, v *T) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !visit(Handle{Index: uint32(i), Generation: s.generation}, &s.value) {
			return
		}
	}
}

// Len returns the number of live values.
func (t *HandleTable[T]) Len() int {
	return t.count
}
