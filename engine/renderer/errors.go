package renderer

import "errors"

var (
	// ErrNoCompute is returned when compute work is requested from a device without compute support.
	ErrNoCompute = errors.New("renderer: device does not support compute")

	// ErrNoFrame is returned when work is recorded outside BeginComputeFrame/EndComputeFrame.
	ErrNoFrame = errors.New("renderer: no compute frame is open")

	// ErrFrameOpen is returned by BeginComputeFrame when a frame is already being recorded.
	ErrFrameOpen = errors.New("renderer: compute frame already open")

	// ErrOutOfRange is returned for writes or reads past the end of a resource.
	ErrOutOfRange = errors.New("renderer: access out of range")

	// ErrForeignResource is returned when a resource created by another device is passed in.
	ErrForeignResource = errors.New("renderer: resource belongs to a different device")
)
