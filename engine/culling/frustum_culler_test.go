package culling

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-visibility/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
)

// testCamera sits at the origin looking down -Z with a 90 degree FOV.
func testCamera() camera.Camera {
	return camera.NewCamera(
		camera.WithFov(mgl32.DegToRad(90)),
		camera.WithNear(0.1),
		camera.WithFar(100),
	)
}

func box(center mgl32.Vec3, half float32) common.BoundingBox {
	h := mgl32.Vec3{half, half, half}
	return common.BoundingBox{Min: center.Sub(h), Max: center.Add(h)}
}

func TestFailOpenBeforeSetFrustum(t *testing.T) {
	c := NewFrustumCuller()
	far := box(mgl32.Vec3{1e6, 1e6, 1e6}, 1)
	if !c.IsVisibleAABB(far) {
		t.Error("IsVisibleAABB rejected before SetFrustum")
	}
	if !c.IsVisibleSphere(common.BoundingSphere{Center: mgl32.Vec3{0, 0, 1e6}, Radius: 1}) {
		t.Error("IsVisibleSphere rejected before SetFrustum")
	}
	if !c.IsVisiblePoint(mgl32.Vec3{0, 0, 1e6}) {
		t.Error("IsVisiblePoint rejected before SetFrustum")
	}
	if got := c.TestAABB(far); got != Inside {
		t.Errorf("TestAABB before SetFrustum\nhave %v\nwant inside", got)
	}
	if got := c.TestSphere(common.BoundingSphere{Radius: 1}); got != Inside {
		t.Errorf("TestSphere before SetFrustum\nhave %v\nwant inside", got)
	}
	if _, ok := c.Frustum(); ok {
		t.Error("Frustum reports initialized before SetFrustum")
	}
}

func TestBoxOutsideEachPlane(t *testing.T) {
	cam := testCamera()
	c := NewFrustumCuller()
	c.SetFrustumFromCamera(cam)

	tests := []struct {
		name string
		b    common.BoundingBox
	}{
		{"behind near", box(mgl32.Vec3{0, 0, 5}, 1)},
		{"beyond far", box(mgl32.Vec3{0, 0, -200}, 1)},
		{"left", box(mgl32.Vec3{-50, 0, -10}, 1)},
		{"right", box(mgl32.Vec3{50, 0, -10}, 1)},
		{"below", box(mgl32.Vec3{0, -50, -10}, 1)},
		{"above", box(mgl32.Vec3{0, 50, -10}, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c.IsVisibleAABB(tt.b) {
				t.Errorf("IsVisibleAABB(%v) = true, want false", tt.b)
			}
			if got := c.TestAABB(tt.b); got != Outside {
				t.Errorf("TestAABB(%v)\nhave %v\nwant outside", tt.b, got)
			}
		})
	}

	enclosing := box(cam.Position(), 2)
	if !c.IsVisibleAABB(enclosing) {
		t.Error("box enclosing the camera reported invisible")
	}
	if got := c.TestAABB(enclosing); got != Intersects {
		t.Errorf("TestAABB(enclosing)\nhave %v\nwant intersects", got)
	}
}

func TestTriStateNeverOutsideForInteriorCenter(t *testing.T) {
	c := NewFrustumCuller()
	c.SetFrustumFromCamera(testCamera())

	centers := []mgl32.Vec3{
		{0, 0, -1},
		{0, 0, -50},
		{4, 4, -10},
		{-9, 9, -10},
		{0, 0, -99},
	}
	for _, ctr := range centers {
		for _, size := range []float32{0.01, 1, 25, 500} {
			if got := c.TestAABB(box(ctr, size)); got == Outside {
				t.Errorf("TestAABB(center %v, half %v) = outside", ctr, size)
			}
			if got := c.TestSphere(common.BoundingSphere{Center: ctr, Radius: size}); got == Outside {
				t.Errorf("TestSphere(center %v, r %v) = outside", ctr, size)
			}
		}
	}

	if got := c.TestAABB(box(mgl32.Vec3{0, 0, -10}, 0.5)); got != Inside {
		t.Errorf("small interior box\nhave %v\nwant inside", got)
	}
	if got := c.TestSphere(common.BoundingSphere{Center: mgl32.Vec3{0, 0, -10}, Radius: 0.5}); got != Inside {
		t.Errorf("small interior sphere\nhave %v\nwant inside", got)
	}
}

func TestCullStoreEntryPoints(t *testing.T) {
	s := scene.NewScene("cull")
	cube := s.RegisterMesh(scene.MeshAsset{Name: "cube", LocalBounds: box(mgl32.Vec3{}, 1)})
	mat := material.NewMaterial()

	front := s.AddMesh(cube, mat, mgl32.Translate3D(0, 0, -10))
	s.AddMesh(cube, mat, mgl32.Translate3D(0, 0, 10))
	hidden := s.AddMesh(cube, mat, mgl32.Translate3D(0, 0, -20))
	s.GetMesh(hidden).Visible = false
	skinned := s.AddSkinnedMesh(cube, mat, mgl32.Translate3D(2, 0, -5), 16)

	sun := s.AddLight(light.NewLight(light.LightTypeDirectional))
	near := s.AddLight(light.NewLight(light.LightTypePoint, light.WithPosition(mgl32.Vec3{0, 0, -3}), light.WithRange(2)))
	s.AddLight(light.NewLight(light.LightTypePoint, light.WithPosition(mgl32.Vec3{0, 0, 30}), light.WithRange(2)))
	s.AddLight(light.NewLight(light.LightTypeSpot, light.WithEnabled(false)))

	c := NewFrustumCuller()
	c.SetFrustumFromCamera(testCamera())

	meshes := c.CullMeshes(s, nil)
	if len(meshes) != 1 || meshes[0] != front {
		t.Fatalf("CullMeshes\nhave %v\nwant [%v]", meshes, front)
	}
	sk := c.CullSkinnedMeshes(s, nil)
	if len(sk) != 1 || sk[0] != skinned {
		t.Fatalf("CullSkinnedMeshes\nhave %v\nwant [%v]", sk, skinned)
	}
	lights := c.CullLights(s, nil)
	if len(lights) != 2 || lights[0] != sun || lights[1] != near {
		t.Fatalf("CullLights\nhave %v\nwant [%v %v]", lights, sun, near)
	}

	// 2 tested static meshes, 1 skinned, 2 non-directional lights.
	want := CullStats{Tested: 5, Visible: 3, Culled: 2}
	if got := c.Stats(); got != want {
		t.Fatalf("Stats\nhave %+v\nwant %+v", got, want)
	}
	c.ResetStats()
	if got := c.Stats(); got != (CullStats{}) {
		t.Fatalf("Stats after reset\nhave %+v\nwant zero", got)
	}
}

func TestSetFrustumMatchesCamera(t *testing.T) {
	cam := testCamera()
	a := NewFrustumCuller()
	a.SetFrustum(cam.ViewProjectionMatrix())
	b := NewFrustumCuller()
	b.SetFrustumFromCamera(cam)
	fa, _ := a.Frustum()
	fb, ok := b.Frustum()
	if !ok || fa != fb {
		t.Fatalf("SetFrustum and SetFrustumFromCamera disagree\nhave %v\nwant %v", fa, fb)
	}
}
