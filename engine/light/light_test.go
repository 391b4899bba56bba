package light

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestBoundingSphere(t *testing.T) {
	p := NewLight(LightTypePoint, WithPosition(mgl32.Vec3{1, 2, 3}), WithRange(7))
	s := p.BoundingSphere()
	if s.Center != (mgl32.Vec3{1, 2, 3}) || s.Radius != 7 {
		t.Fatalf("point BoundingSphere\nhave %v\nwant center [1 2 3] radius 7", s)
	}

	d := NewLight(LightTypeDirectional, WithRange(7))
	if r := d.BoundingSphere().Radius; r != 0 {
		t.Fatalf("directional BoundingSphere radius\nhave %v\nwant 0", r)
	}
}

func TestToGPULightViewSpace(t *testing.T) {
	l := NewLight(LightTypeSpot,
		WithPosition(mgl32.Vec3{0, 0, -5}),
		WithDirection(mgl32.Vec3{0, 0, -2}),
		WithCastsShadows(true),
	)
	view := mgl32.Translate3D(0, 0, -10)
	g := ToGPULight(l, view)
	if g.Position != [3]float32{0, 0, -15} {
		t.Fatalf("view-space position\nhave %v\nwant [0 0 -15]", g.Position)
	}
	if g.Direction != [3]float32{0, 0, -1} {
		t.Fatalf("direction moved by translation\nhave %v\nwant [0 0 -1]", g.Direction)
	}
	if g.CastsShadows != 1 || g.LightType != uint32(LightTypeSpot) {
		t.Fatalf("flags\nhave shadows=%d type=%d\nwant shadows=1 type=%d", g.CastsShadows, g.LightType, LightTypeSpot)
	}
}

func TestMarshalLightBuffer(t *testing.T) {
	lights := []GPULight{
		{Position: [3]float32{1, 2, 3}, LightRange: 4},
		{Position: [3]float32{5, 6, 7}, LightRange: 8},
	}
	buf := MarshalLightBuffer(lights, [3]float32{0.1, 0.1, 0.1})
	if len(buf) != 16+2*64 {
		t.Fatalf("buffer length\nhave %d\nwant %d", len(buf), 16+2*64)
	}
	if n := binary.LittleEndian.Uint32(buf[12:16]); n != 2 {
		t.Fatalf("header light count\nhave %d\nwant 2", n)
	}
	second := buf[16+64:]
	if x := math.Float32frombits(binary.LittleEndian.Uint32(second[0:4])); x != 5 {
		t.Fatalf("second light x\nhave %v\nwant 5", x)
	}
	if r := math.Float32frombits(binary.LittleEndian.Uint32(second[44:48])); r != 8 {
		t.Fatalf("second light range\nhave %v\nwant 8", r)
	}
	if got := LightBufferSize(2); got != uint64(len(buf)) {
		t.Fatalf("LightBufferSize\nhave %d\nwant %d", got, len(buf))
	}
}
