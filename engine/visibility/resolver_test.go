package visibility

import (
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-visibility/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
)

func TestSelectLOD(t *testing.T) {
	th := SquareThresholds(DefaultLODThresholds)
	if th != [4]float32{625, 10000, 160000, 2560000} {
		t.Fatalf("SquareThresholds\nhave %v\nwant [625 10000 160000 2560000]", th)
	}
	tests := []struct {
		dist float32
		want uint8
	}{
		{0, 0},
		{5, 0},
		{50, 1},
		{300, 2},
		// 500 is past the 400 edge of band 2, so it falls in the last band
		// rather than band 2.
		{500, 3},
		{1599, 3},
		{5000, 3},
		{1e9, MaxLOD},
	}
	for _, tt := range tests {
		if got := SelectLOD(tt.dist*tt.dist, th); got != tt.want {
			t.Errorf("SelectLOD(%v^2)\nhave %d\nwant %d", tt.dist, got, tt.want)
		}
	}

	prev := uint8(0)
	for d := float32(0); d < 3000; d += 7 {
		lod := SelectLOD(d*d, th)
		if lod < prev || lod > MaxLOD {
			t.Fatalf("SelectLOD not monotonic at %v: %d after %d", d, lod, prev)
		}
		prev = lod
	}
}

func TestSortKey(t *testing.T) {
	tests := []struct {
		name   string
		hash   uint16
		distSq float32
		want   uint32
	}{
		{"zero", 0, 0, 0},
		{"ten units", 0xABCD, 100, 0xABCD<<16 | 100},
		{"truncates", 1, 2.25, 1<<16 | 15},
		{"saturates", 0x0001, 1e12, 0x0001FFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SortKey(tt.hash, tt.distSq); got != tt.want {
				t.Errorf("SortKey(%#x, %v)\nhave %#x\nwant %#x", tt.hash, tt.distSq, got, tt.want)
			}
		})
	}
}

func sampleList() []VisibleMesh {
	// Ties on distance at indices 1/3 and 2/4 exercise tie ordering.
	dists := []float32{9, 4, 1, 4, 1, 16, 0}
	out := make([]VisibleMesh, len(dists))
	for i, d := range dists {
		out[i] = VisibleMesh{
			Handle:     common.Handle{Index: uint32(i), Generation: 1},
			DistanceSq: d,
			SortKey:    SortKey(uint16(i%2), d),
		}
	}
	return out
}

func TestSortIdempotentAndReverse(t *testing.T) {
	for _, mode := range []SortMode{SortNone, SortFrontToBack, SortBackToFront, SortByMaterial} {
		t.Run(mode.String(), func(t *testing.T) {
			once := sampleList()
			SortMeshes(once, mode)
			twice := slices.Clone(once)
			SortMeshes(twice, mode)
			if !slices.Equal(once, twice) {
				t.Fatalf("re-sort changed order\nhave %v\nwant %v", twice, once)
			}
		})
	}

	ftb := sampleList()
	SortMeshes(ftb, SortFrontToBack)
	btf := sampleList()
	SortMeshes(btf, SortBackToFront)
	slices.Reverse(btf)
	if !slices.Equal(ftb, btf) {
		t.Fatalf("back-to-front is not the reverse of front-to-back\nhave %v\nwant %v", btf, ftb)
	}
	for i := 1; i < len(ftb); i++ {
		if ftb[i].DistanceSq < ftb[i-1].DistanceSq {
			t.Fatalf("front-to-back out of order at %d: %v", i, ftb)
		}
	}

	none := sampleList()
	SortMeshes(none, SortNone)
	if !slices.Equal(none, sampleList()) {
		t.Fatal("SortNone reordered the list")
	}
}

func TestResolve(t *testing.T) {
	s := scene.NewScene("resolve")
	cube := s.RegisterMesh(scene.MeshAsset{
		Name:        "cube",
		LocalBounds: common.BoundingBox{Min: mgl32.Vec3{-0.5, -0.5, -0.5}, Max: mgl32.Vec3{0.5, 0.5, 0.5}},
	})
	mat := material.NewMaterial()
	for _, z := range []float32{-60, -5, -30, 40} {
		s.AddMesh(cube, mat, mgl32.Translate3D(0, 0, z))
	}
	s.AddSkinnedMesh(cube, mat, mgl32.Translate3D(0, 0, -8), 4)
	s.AddLight(light.NewLight(light.LightTypePoint, light.WithPosition(mgl32.Vec3{0, 0, -20}), light.WithRange(1)))
	s.AddLight(light.NewLight(light.LightTypePoint, light.WithPosition(mgl32.Vec3{0, 0, -2}), light.WithRange(1), light.WithCastsShadows(true)))
	sun := s.AddLight(light.NewLight(light.LightTypeDirectional))

	cam := camera.NewCamera(camera.WithFar(200))
	r := NewResolver()
	res := r.Resolve(s, cam, SortFrontToBack)

	if len(res.Meshes) != 3 {
		t.Fatalf("visible meshes\nhave %d\nwant 3", len(res.Meshes))
	}
	wantLOD := []uint8{0, 1, 1}
	wantDist := []float32{25, 900, 3600}
	for i, m := range res.Meshes {
		if m.DistanceSq != wantDist[i] || m.LOD != wantLOD[i] {
			t.Errorf("mesh %d\nhave dist %v lod %d\nwant dist %v lod %d", i, m.DistanceSq, m.LOD, wantDist[i], wantLOD[i])
		}
		if m.SortKey>>16 != uint32(mat.Hash()) {
			t.Errorf("mesh %d sort key high bits\nhave %#x\nwant %#x", i, m.SortKey>>16, mat.Hash())
		}
	}
	if len(res.SkinnedMeshes) != 1 || res.SkinnedMeshes[0].DistanceSq != 64 {
		t.Fatalf("skinned meshes\nhave %v\nwant one at distSq 64", res.SkinnedMeshes)
	}

	if len(res.Lights) != 3 {
		t.Fatalf("visible lights\nhave %d\nwant 3", len(res.Lights))
	}
	if res.Lights[0].Handle != sun || !res.Lights[0].Directional || res.Lights[0].DistanceSq != 0 {
		t.Fatalf("first light\nhave %+v\nwant the directional light at distance 0", res.Lights[0])
	}
	if !res.Lights[1].CastsShadows || res.Lights[1].DistanceSq != 4 {
		t.Fatalf("second light\nhave %+v\nwant shadow caster at distSq 4", res.Lights[1])
	}
	if res.Stats.Culled != 1 {
		t.Fatalf("Stats.Culled\nhave %d\nwant 1", res.Stats.Culled)
	}

	r.SetMaxLights(2)
	res = r.Resolve(s, cam, SortNone)
	if len(res.Lights) != 2 || res.Lights[0].Handle != sun {
		t.Fatalf("truncated lights\nhave %v\nwant the nearest two", res.Lights)
	}
}

func TestResolveNilCameraFailsOpen(t *testing.T) {
	s := scene.NewScene("open")
	cube := s.RegisterMesh(scene.MeshAsset{LocalBounds: common.BoundingBox{Max: mgl32.Vec3{1, 1, 1}}})
	mat := material.NewMaterial()
	s.AddMesh(cube, mat, mgl32.Translate3D(0, 0, 1e5))
	s.AddMesh(cube, mat, mgl32.Translate3D(0, 0, -1e5))

	res := NewResolver(WithLODThresholds([4]float32{1, 2, 3, 4})).Resolve(s, nil, SortNone)
	if len(res.Meshes) != 2 {
		t.Fatalf("fail-open resolve\nhave %d meshes\nwant 2", len(res.Meshes))
	}
	for _, m := range res.Meshes {
		if m.LOD != MaxLOD {
			t.Errorf("far mesh LOD\nhave %d\nwant %d", m.LOD, MaxLOD)
		}
	}
}

func TestParseSortMode(t *testing.T) {
	for m := SortNone; m <= SortByMaterial; m++ {
		got, ok := ParseSortMode(m.String())
		if !ok || got != m {
			t.Errorf("ParseSortMode(%q)\nhave %v, %v\nwant %v, true", m.String(), got, ok, m)
		}
	}
	if _, ok := ParseSortMode("sideways"); ok {
		t.Error("ParseSortMode accepted an unknown mode")
	}
}

func BenchmarkResolve(b *testing.B) {
	s := scene.NewScene("bench", scene.WithCapacity(4096))
	cube := s.RegisterMesh(scene.MeshAsset{LocalBounds: common.BoundingBox{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}})
	mat := material.NewMaterial()
	for i := range 4096 {
		x := float32(i%64) - 32
		z := -float32(i / 64)
		s.AddMesh(cube, mat, mgl32.Translate3D(x, 0, z))
	}
	cam := camera.NewCamera(camera.WithFar(500))
	r := NewResolver()
	b.ResetTimer()
	for range b.N {
		r.Resolve(s, cam, SortFrontToBack)
	}
}
