package common

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testViewProj() mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return proj.Mul4(view)
}

func TestExtractFrustumFromMatrix(t *testing.T) {
	f := ExtractFrustumFromMatrix(testViewProj())

	for i, p := range f.Planes {
		if l := p.Normal.Len(); !mgl32.FloatEqualThreshold(l, 1, 1e-5) {
			t.Fatalf("plane %d not normalized: |n| = %v", i, l)
		}
	}

	// Camera looks down -Z, so the near plane faces -Z and sits 0.1 away.
	near := f.Planes[FrustumNear]
	if !near.Normal.ApproxEqualThreshold(mgl32.Vec3{0, 0, -1}, 1e-4) {
		t.Fatalf("near normal\nhave %v\nwant [0 0 -1]", near.Normal)
	}
	if d := near.DistanceTo(mgl32.Vec3{0, 0, -0.1}); !mgl32.FloatEqualThreshold(d, 0, 1e-4) {
		t.Fatalf("near plane distance at z=-0.1\nhave %v\nwant 0", d)
	}
	far := f.Planes[FrustumFar]
	if d := far.DistanceTo(mgl32.Vec3{0, 0, -100}); !mgl32.FloatEqualThreshold(d, 0, 1e-2) {
		t.Fatalf("far plane distance at z=-100\nhave %v\nwant 0", d)
	}

	if !f.ContainsPoint(mgl32.Vec3{0, 0, -10}) {
		t.Fatal("point straight ahead not contained")
	}
	if f.ContainsPoint(mgl32.Vec3{0, 0, 10}) {
		t.Fatal("point behind the camera contained")
	}
	if f.ContainsPoint(mgl32.Vec3{20, 0, -10}) {
		t.Fatal("point outside the 90 degree FOV contained")
	}
}
