package occlusion

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
)

// strategy is one backend behind HiZOcclusionCuller.
type strategy interface {
	name() string
	canBuild() bool
	canCull() bool
	resize(width, height, mips uint32, framesInFlight int) error
	build(src DepthSource) error
	cull(frame int, boxes []common.BoundingBox, layout drawLayout, params GPUCullParams) error
	results(n int) ([]bool, bool, error)
	drawArgs() renderer.Buffer
	visibleInstances() renderer.Buffer
	release()
}

// softwareStrategy builds and tests the pyramid on the CPU from a DepthImage.
type softwareStrategy struct {
	pyramid depthPyramid
	width   uint32
	height  uint32
	mips    uint32
	flags   []bool
}

func (s *softwareStrategy) name() string   { return "software" }
func (s *softwareStrategy) canBuild() bool { return true }
func (s *softwareStrategy) canCull() bool  { return true }

func (s *softwareStrategy) resize(width, height, mips uint32, _ int) error {
	s.width, s.height, s.mips = width, height, mips
	s.pyramid.levels = nil
	return nil
}

func (s *softwareStrategy) build(src DepthSource) error {
	img := src.Image
	if err := img.Validate(); err != nil {
		return err
	}
	if uint32(img.Width) != s.width || uint32(img.Height) != s.height {
		return fmt.Errorf("depth image %dx%d does not match pyramid %dx%d", img.Width, img.Height, s.width, s.height)
	}
	s.pyramid.seed(img, s.mips)
	for m := 1; m < len(s.pyramid.levels); m++ {
		s.pyramid.reduce(m)
	}
	return nil
}

func (s *softwareStrategy) cull(_ int, boxes []common.BoundingBox, _ drawLayout, params GPUCullParams) error {
	s.flags = s.flags[:0]
	for _, b := range boxes {
		s.flags = append(s.flags, s.pyramid.visible(b, params.ViewProj, params.ScreenSize[0], params.ScreenSize[1]))
	}
	return nil
}

func (s *softwareStrategy) results(n int) ([]bool, bool, error) {
	return append([]bool(nil), s.flags[:min(n, len(s.flags))]...), true, nil
}

func (s *softwareStrategy) drawArgs() renderer.Buffer         { return nil }
func (s *softwareStrategy) visibleInstances() renderer.Buffer { return nil }
func (s *softwareStrategy) release()                          {}

// passthroughStrategy is used when no backend can run. It never builds, so the
// culler stays idle and CullTwoPhase returns its input.
type passthroughStrategy struct{}

func (passthroughStrategy) name() string                       { return "passthrough" }
func (passthroughStrategy) canBuild() bool                     { return false }
func (passthroughStrategy) canCull() bool                      { return false }
func (passthroughStrategy) resize(_, _, _ uint32, _ int) error { return nil }
func (passthroughStrategy) build(DepthSource) error            { return ErrReadbackUnavailable }
func (passthroughStrategy) results(int) ([]bool, bool, error)  { return nil, false, nil }
func (passthroughStrategy) drawArgs() renderer.Buffer          { return nil }
func (passthroughStrategy) visibleInstances() renderer.Buffer  { return nil }
func (passthroughStrategy) release()                           {}

func (passthroughStrategy) cull(int, []common.BoundingBox, drawLayout, GPUCullParams) error {
	return ErrReadbackUnavailable
}

var (
	_ strategy = &softwareStrategy{}
	_ strategy = passthroughStrategy{}
)
