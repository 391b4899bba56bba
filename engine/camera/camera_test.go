package camera

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestCameraBasis(t *testing.T) {
	c := NewCamera(
		WithPosition(mgl32.Vec3{0, 0, 5}),
		WithTarget(mgl32.Vec3{0, 0, 0}),
	)
	if f := c.Forward(); !f.ApproxEqual(mgl32.Vec3{0, 0, -1}) {
		t.Fatalf("Forward\nhave %v\nwant [0 0 -1]", f)
	}
	if r := c.Right(); !r.ApproxEqual(mgl32.Vec3{1, 0, 0}) {
		t.Fatalf("Right\nhave %v\nwant [1 0 0]", r)
	}
	if u := c.Up(); !u.ApproxEqual(mgl32.Vec3{0, 1, 0}) {
		t.Fatalf("Up\nhave %v\nwant [0 1 0]", u)
	}
}

func TestCameraMatricesTrackSetters(t *testing.T) {
	c := NewCamera()
	before := c.ViewProjectionMatrix()

	c.SetPosition(mgl32.Vec3{3, 0, 0})
	if c.ViewProjectionMatrix() == before {
		t.Fatal("view-projection unchanged after SetPosition")
	}

	proj := c.ProjectionMatrix()
	if !proj.Mul4(c.InverseProjectionMatrix()).ApproxEqualThreshold(mgl32.Ident4(), 1e-4) {
		t.Fatal("inverse projection does not invert the projection")
	}

	c.SetFar(500)
	if c.Far() != 500 {
		t.Fatalf("Far\nhave %v\nwant 500", c.Far())
	}
	f := c.Frustum()
	inside := c.Position().Add(c.Forward().Mul(499))
	if d := f.Planes[5].DistanceTo(inside); d <= 0 {
		t.Fatalf("point inside the new far plane reported outside: %v", d)
	}
}
