package proxy

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/material"
	"github.com/go-gl/mathgl/mgl32"
)

func TestMeshProxySetTransform(t *testing.T) {
	p := MeshProxy{
		LocalBounds: common.BoundingBox{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}},
		World:       mgl32.Ident4(),
	}
	p.SetTransform(mgl32.Translate3D(5, 0, 0))
	if p.PrevWorld != mgl32.Ident4() {
		t.Fatalf("PrevWorld\nhave %v\nwant identity", p.PrevWorld)
	}
	if c := p.WorldBounds.Center(); c != (mgl32.Vec3{5, 0, 0}) {
		t.Fatalf("WorldBounds center\nhave %v\nwant [5 0 0]", c)
	}
}

func TestRenderable(t *testing.T) {
	m := MeshProxy{Active: true, Visible: true}
	if m.Renderable() {
		t.Fatal("mesh without material is renderable")
	}
	m.Material = material.NewMaterial()
	if !m.Renderable() {
		t.Fatal("active visible mesh with material is not renderable")
	}
	m.Visible = false
	if m.Renderable() {
		t.Fatal("hidden mesh is renderable")
	}

	l := LightProxy{Light: light.NewLight(light.LightTypePoint), Active: true}
	if !l.Renderable() {
		t.Fatal("active enabled light is not renderable")
	}
	l.Light.SetEnabled(false)
	if l.Renderable() {
		t.Fatal("disabled light is renderable")
	}
}
