package cluster

import (
	"encoding/binary"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/light"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/renderertest"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-visibility/engine/scene"
	"github.com/Carmen-Shannon/oxy-visibility/engine/visibility"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	testW    = 1600
	testH    = 900
	testNear = 0.1
	testFar  = 100
)

func testInvProj() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(60), float32(testW)/testH, testNear, testFar).Inv()
}

func updated(t *testing.T, g ClusterGrid) ClusterGrid {
	t.Helper()
	t.Cleanup(g.Release)
	if !g.Update(testW, testH, testNear, testFar, testInvProj()) {
		t.Fatal("first Update did not rebuild")
	}
	return g
}

func pointLight(x, y, z, r float32) ClusterLight {
	return ClusterLight{Position: mgl32.Vec3{x, y, z}, Range: r}
}

func TestSliceDepth(t *testing.T) {
	if got := SliceDepth(0, 24, 0.1, 100); math.Abs(float64(got-0.1)) > 1e-6 {
		t.Errorf("slice 0\nhave %v\nwant 0.1", got)
	}
	if got := SliceDepth(24, 24, 0.1, 100); math.Abs(float64(got-100)) > 1e-3 {
		t.Errorf("slice Z\nhave %v\nwant 100", got)
	}
	prev := float32(0)
	for s := range uint32(25) {
		d := SliceDepth(s, 24, 0.1, 100)
		if d <= prev {
			t.Fatalf("slice %d depth %v not above %v", s, d, prev)
		}
		prev = d
	}
	for s := range uint32(24) {
		mid := (SliceDepth(s, 24, 0.1, 100) + SliceDepth(s+1, 24, 0.1, 100)) / 2
		if got := SliceForDepth(mid, 24, 0.1, 100); got != s {
			t.Errorf("SliceForDepth(%v)\nhave %d\nwant %d", mid, got, s)
		}
	}
	if got := SliceForDepth(1e6, 24, 0.1, 100); got != 23 {
		t.Errorf("SliceForDepth past far\nhave %d\nwant 23", got)
	}
}

func TestUpdateSkipsUnchangedInputs(t *testing.T) {
	g := updated(t, NewClusterGrid(nil))
	if g.Update(testW, testH, testNear, testFar, testInvProj()) {
		t.Error("unchanged Update rebuilt")
	}
	if g.RebuildCount() != 1 {
		t.Errorf("rebuilds\nhave %d\nwant 1", g.RebuildCount())
	}

	changes := []struct {
		name   string
		w, h   int
		n, f   float32
		expect bool
	}{
		{"resize", 1280, 720, testNear, testFar, true},
		{"near", 1280, 720, 0.5, testFar, true},
		{"far", 1280, 720, 0.5, 500, true},
		{"same again", 1280, 720, 0.5, 500, false},
		{"zero width", 0, 720, 0.5, 500, false},
		{"far before near", 1280, 720, 5, 1, false},
	}
	want := 1
	for _, c := range changes {
		got := g.Update(c.w, c.h, c.n, c.f, testInvProj())
		if got != c.expect {
			t.Errorf("%s\nhave rebuilt=%v\nwant %v", c.name, got, c.expect)
		}
		if got {
			want++
		}
	}
	if g.RebuildCount() != want {
		t.Errorf("rebuilds\nhave %d\nwant %d", g.RebuildCount(), want)
	}
}

func TestClusterBoundsSpanSlices(t *testing.T) {
	g := updated(t, NewClusterGrid(nil))
	size := g.GridSize()
	if size.Count() != 16*9*24 || len(g.Clusters()) != 3456 {
		t.Fatalf("cluster count\nhave %d\nwant 3456", len(g.Clusters()))
	}
	for z := range size.Z {
		b := g.Clusters()[size.Index(0, 0, z)].Bounds
		nearZ := SliceDepth(z, size.Z, testNear, testFar)
		farZ := SliceDepth(z+1, size.Z, testNear, testFar)
		if math.Abs(float64(b.Max.Z()+nearZ)) > 1e-3*float64(nearZ) {
			t.Errorf("slice %d max z\nhave %v\nwant %v", z, b.Max.Z(), -nearZ)
		}
		if math.Abs(float64(b.Min.Z()+farZ)) > 1e-3*float64(farZ) {
			t.Errorf("slice %d min z\nhave %v\nwant %v", z, b.Min.Z(), -farZ)
		}
	}
	// x=0,y=0 is the top-left tile: left of and above the view axis
	b := g.Clusters()[0].Bounds
	if b.Max.X() > 0 || b.Min.Y() < 0 {
		t.Errorf("top-left cluster bounds %v", b)
	}
}

func TestPointLightReachesItsCluster(t *testing.T) {
	g := updated(t, NewClusterGrid(nil, WithWorkers(1)))
	if err := g.AssignLights([]ClusterLight{pointLight(0, 0, -10, 1)}); err != nil {
		t.Fatal(err)
	}
	home := g.Clusters()[g.ClusterAt(testW/2, testH/2, 10)]
	if home.Count != 1 || g.LightIndices()[home.Offset] != 0 {
		t.Errorf("home cluster\nhave %+v\nwant one light at index 0", home)
	}
	if far := g.Clusters()[0]; far.Count != 0 {
		t.Errorf("corner cluster near the camera\nhave %d lights\nwant 0", far.Count)
	}

	total := 0
	for _, c := range g.Clusters() {
		total += int(c.Count)
	}
	if total == 0 || total >= len(g.Clusters()) {
		t.Errorf("small light touched %d of %d clusters", total, len(g.Clusters()))
	}
}

func TestDirectionalLightReachesEveryCluster(t *testing.T) {
	g := updated(t, NewClusterGrid(nil, WithGridSize(4, 3, 5)))
	lights := []ClusterLight{
		{Directional: true},
		pointLight(1000, 1000, 1000, 1),
	}
	if err := g.AssignLights(lights); err != nil {
		t.Fatal(err)
	}
	for i, c := range g.Clusters() {
		if c.Count != 1 || g.LightIndices()[c.Offset] != 0 {
			t.Fatalf("cluster %d\nhave %+v\nwant only the directional light", i, c)
		}
	}
}

func TestCapacityTruncation(t *testing.T) {
	sun := ClusterLight{Directional: true}

	t.Run("per cluster", func(t *testing.T) {
		g := updated(t, NewClusterGrid(nil, WithGridSize(2, 2, 2), WithMaxLightsPerCluster(3)))
		if err := g.AssignLights([]ClusterLight{sun, sun, sun, sun, sun}); err != nil {
			t.Fatal(err)
		}
		for i, c := range g.Clusters() {
			got := g.LightIndices()[c.Offset : c.Offset+c.Count]
			if !slices.Equal(got, []uint32{0, 1, 2}) {
				t.Errorf("cluster %d\nhave %v\nwant [0 1 2]", i, got)
			}
		}
	})

	t.Run("index list", func(t *testing.T) {
		g := updated(t, NewClusterGrid(nil, WithGridSize(2, 2, 2), WithMaxLightIndices(5)))
		if err := g.AssignLights([]ClusterLight{sun, sun}); err != nil {
			t.Fatal(err)
		}
		wantCount := []uint32{2, 2, 1, 0, 0, 0, 0, 0}
		wantOffset := []uint32{0, 2, 4, 5, 5, 5, 5, 5}
		for i, c := range g.Clusters() {
			if c.Count != wantCount[i] || c.Offset != wantOffset[i] {
				t.Errorf("cluster %d\nhave offset %d count %d\nwant offset %d count %d", i, c.Offset, c.Count, wantOffset[i], wantCount[i])
			}
		}
		if len(g.LightIndices()) != 5 {
			t.Errorf("indices\nhave %d\nwant 5", len(g.LightIndices()))
		}
	})
}

func randomLights(n int, seed int64) []ClusterLight {
	rng := rand.New(rand.NewSource(seed))
	out := make([]ClusterLight, n)
	for i := range out {
		out[i] = pointLight(rng.Float32()*40-20, rng.Float32()*24-12, -rng.Float32()*90-1, rng.Float32()*6+0.5)
	}
	out[n/2] = ClusterLight{Directional: true}
	return out
}

func snapshot(g ClusterGrid) ([]Cluster, []uint32) {
	return slices.Clone(g.Clusters()), slices.Clone(g.LightIndices())
}

func TestParallelAssignmentMatchesSerial(t *testing.T) {
	lights := randomLights(200, 7)

	serial := updated(t, NewClusterGrid(nil, WithWorkers(1)))
	parallel := updated(t, NewClusterGrid(nil, WithWorkers(4)))
	if err := serial.AssignLights(lights); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := parallel.AssignLights(lights); err != nil {
			t.Fatal(err)
		}
		pc, pi := snapshot(parallel)
		sc, si := snapshot(serial)
		if !slices.Equal(pc, sc) {
			t.Fatal("parallel cluster ranges differ from serial")
		}
		if !slices.Equal(pi, si) {
			t.Fatal("parallel light indices differ from serial")
		}
	}
}

func TestReleaseStopsWorkerPool(t *testing.T) {
	lights := randomLights(50, 3)
	g := updated(t, NewClusterGrid(nil, WithWorkers(4)))
	cpu := g.(*clusterGrid).cpu
	if cpu.pool == nil {
		t.Fatal("multi-worker grid has no pool")
	}
	if err := g.AssignLights(lights); err != nil {
		t.Fatal(err)
	}
	before, beforeIdx := snapshot(g)

	g.Release()
	if cpu.pool != nil {
		t.Fatal("Release left the worker pool running")
	}
	// assignment still works after Release, serially
	if err := g.AssignLights(lights); err != nil {
		t.Fatal(err)
	}
	after, afterIdx := snapshot(g)
	if !slices.Equal(before, after) || !slices.Equal(beforeIdx, afterIdx) {
		t.Error("serial assignment after Release differs from pooled assignment")
	}

	if NewClusterGrid(nil, WithWorkers(1)).(*clusterGrid).cpu.pool != nil {
		t.Error("single-worker grid started a pool")
	}
}

func TestAssignBeforeUpdate(t *testing.T) {
	if err := NewClusterGrid(nil).AssignLights(nil); err == nil {
		t.Error("AssignLights before Update succeeded")
	}
}

func TestGPUFallback(t *testing.T) {
	tests := []struct {
		name string
		dev  renderer.Device
	}{
		{"nil device", nil},
		{"no compute", renderertest.NewDevice(renderertest.WithoutCompute())},
		{"cull pipeline fails", renderertest.NewDevice(renderertest.WithFailingPipeline(shader.KeyClusterCull))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewClusterGrid(tt.dev, WithKernelValidation(false))
			if g.GPUAvailable() {
				t.Fatal("GPU path selected")
			}
			if g.LightInfoBuffer() != nil || g.LightIndexBuffer() != nil || g.ClusterBuffer() != nil {
				t.Error("CPU path exposes GPU buffers")
			}
			updated(t, g)
			if err := g.AssignLights([]ClusterLight{pointLight(0, 0, -5, 2)}); err != nil {
				t.Fatal(err)
			}
			if len(g.LightIndices()) == 0 {
				t.Error("CPU fallback assigned nothing")
			}
		})
	}
}

func TestGPUPathMatchesCPU(t *testing.T) {
	dev := renderertest.NewDevice(renderertest.WithDispatchHook(emulateClusterKernels))
	gpu := NewClusterGrid(dev, WithKernelValidation(false), WithMaxLightsPerCluster(16), WithMaxLightIndices(20000))
	if !gpu.GPUAvailable() {
		t.Fatal("GPU path not selected")
	}
	cpu := NewClusterGrid(nil, WithMaxLightsPerCluster(16), WithMaxLightIndices(20000))
	updated(t, gpu)
	updated(t, cpu)

	lights := randomLights(64, 3)
	for frame := range 3 {
		gpu.BeginFrame(frame)
		if err := gpu.AssignLights(lights); err != nil {
			t.Fatal(err)
		}
	}
	if err := cpu.AssignLights(lights); err != nil {
		t.Fatal(err)
	}

	if got := dev.DispatchCount(shader.KeyClusterBuild); got != 1 {
		t.Errorf("build dispatches\nhave %d\nwant 1", got)
	}
	if got := dev.DispatchCount(shader.KeyClusterCull); got != 3 {
		t.Errorf("cull dispatches\nhave %d\nwant 3", got)
	}
	if dev.Submissions != 3 {
		t.Errorf("submissions\nhave %d\nwant 3", dev.Submissions)
	}

	info := gpu.LightInfoBuffer().(*renderertest.Buffer).Data
	indices := gpu.LightIndexBuffer().(*renderertest.Buffer).Data
	for i, c := range cpu.Clusters() {
		off := binary.LittleEndian.Uint32(info[i*8:])
		count := binary.LittleEndian.Uint32(info[i*8+4:])
		// empty clusters keep whatever offset the counter held
		if count != c.Count || (count > 0 && off != c.Offset) {
			t.Fatalf("cluster %d\nhave offset %d count %d\nwant offset %d count %d", i, off, count, c.Offset, c.Count)
		}
		for k := range count {
			got := binary.LittleEndian.Uint32(indices[(off+k)*4:])
			if want := cpu.LightIndices()[c.Offset+k]; got != want {
				t.Fatalf("cluster %d light %d\nhave %d\nwant %d", i, k, got, want)
			}
		}
	}

	// a new projection schedules exactly one more build
	gpu.Update(testW, testH, 1, testFar, testInvProj())
	if err := gpu.AssignLights(lights); err != nil {
		t.Fatal(err)
	}
	if got := dev.DispatchCount(shader.KeyClusterBuild); got != 2 {
		t.Errorf("build dispatches after rebuild\nhave %d\nwant 2", got)
	}
}

func TestGPUFramesRotate(t *testing.T) {
	dev := renderertest.NewDevice()
	g := updated(t, NewClusterGrid(dev, WithKernelValidation(false)))
	g.BeginFrame(0)
	if err := g.AssignLights(nil); err != nil {
		t.Fatal(err)
	}
	first := g.LightInfoBuffer()
	g.BeginFrame(1)
	if err := g.AssignLights(nil); err != nil {
		t.Fatal(err)
	}
	if g.LightInfoBuffer() == first {
		t.Error("frames 0 and 1 share a light info buffer")
	}
	g.Release()
	if len(dev.Released) == 0 {
		t.Error("Release freed nothing")
	}
}

func TestLightsFromVisible(t *testing.T) {
	s := scene.NewScene("lights")
	sun := s.AddLight(light.NewLight(light.LightTypeDirectional, light.WithDirection(mgl32.Vec3{0, -1, 0})))
	lamp := s.AddLight(light.NewLight(light.LightTypePoint, light.WithPosition(mgl32.Vec3{0, 0, -5}), light.WithRange(3)))
	gone := s.AddLight(light.NewLight(light.LightTypePoint))
	s.RemoveLight(gone)

	cam := camera.NewCamera()
	cam.SetPosition(mgl32.Vec3{0, 0, 5})
	cam.LookAt(mgl32.Vec3{0, 0, 0})

	visible := []visibility.VisibleLight{{Handle: sun}, {Handle: lamp}, {Handle: gone}}
	out := LightsFromVisible(s, visible, cam.ViewMatrix())
	if len(out) != 2 {
		t.Fatalf("lights\nhave %d\nwant 2", len(out))
	}
	if !out[0].Directional || out[1].Directional {
		t.Errorf("directional flags\nhave %v %v\nwant true false", out[0].Directional, out[1].Directional)
	}
	// lamp sits 10 units in front of the camera
	if !out[1].Position.ApproxEqualThreshold(mgl32.Vec3{0, 0, -10}, 1e-4) || out[1].Range != 3 {
		t.Errorf("lamp\nhave %v range %v\nwant [0 0 -10] range 3", out[1].Position, out[1].Range)
	}
}

func TestUniformLayout(t *testing.T) {
	u := GPUClusterUniforms{GridSize: [3]uint32{16, 9, 24}, MaxLightIndices: 7}
	if u.Size() != 112 {
		t.Errorf("Size\nhave %d\nwant 112", u.Size())
	}
	buf := u.Marshal()
	if got := binary.LittleEndian.Uint32(buf[88:]); got != 24 {
		t.Errorf("grid z\nhave %d\nwant 24", got)
	}
	if got := binary.LittleEndian.Uint32(buf[96:]); got != 7 {
		t.Errorf("max light indices\nhave %d\nwant 7", got)
	}
}

func f32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

// emulateClusterKernels runs cs_build and cs_cull on the fake device's buffers,
// visiting workgroups in cluster index order.
func emulateClusterKernels(d renderertest.Dispatch) error {
	u := renderertest.BufferOf(d, 0).Data
	var invProj mgl32.Mat4
	for i := range 16 {
		invProj[i] = f32(u, i*4)
	}
	p := frameParams{
		width:   int(f32(u, 64)),
		height:  int(f32(u, 68)),
		near:    f32(u, 72),
		far:     f32(u, 76),
		invProj: invProj,
	}
	g := GridSize{
		X: binary.LittleEndian.Uint32(u[80:]),
		Y: binary.LittleEndian.Uint32(u[84:]),
		Z: binary.LittleEndian.Uint32(u[88:]),
	}
	maxPer := binary.LittleEndian.Uint32(u[92:])
	maxIdx := binary.LittleEndian.Uint32(u[96:])
	clusters := renderertest.BufferOf(d, 1).Data

	switch d.Key {
	case shader.KeyClusterBuild:
		for z := range g.Z {
			for y := range g.Y {
				for x := range g.X {
					b := clusterBounds(x, y, z, g, p)
					o := g.Index(x, y, z) * gpuClusterAABBSize
					for k := range 3 {
						common.PutFloat32(clusters[o+k*4:], b.Min[k])
						common.PutFloat32(clusters[o+16+k*4:], b.Max[k])
					}
				}
			}
		}
	case shader.KeyClusterCull:
		lb := renderertest.BufferOf(d, 2).Data
		info := renderertest.BufferOf(d, 3).Data
		indices := renderertest.BufferOf(d, 4).Data
		counter := renderertest.BufferOf(d, 5).Data

		n := int(binary.LittleEndian.Uint32(lb[12:]))
		lights := make([]ClusterLight, n)
		for i := range lights {
			o := 16 + i*64
			lights[i] = ClusterLight{
				Position:    mgl32.Vec3{f32(lb, o), f32(lb, o+4), f32(lb, o+8)},
				Directional: binary.LittleEndian.Uint32(lb[o+12:]) == 0,
				Range:       f32(lb, o+44),
			}
		}
		for i := range g.Count() {
			o := i * gpuClusterAABBSize
			b := common.BoundingBox{
				Min: mgl32.Vec3{f32(clusters, o), f32(clusters, o+4), f32(clusters, o+8)},
				Max: mgl32.Vec3{f32(clusters, o+16), f32(clusters, o+20), f32(clusters, o+24)},
			}
			var hits []uint32
			for li := range lights {
				if uint32(len(hits)) >= maxPer {
					break
				}
				if lights[li].touches(b) {
					hits = append(hits, uint32(li))
				}
			}
			count := uint32(len(hits))
			offset := uint32(0)
			if count > 0 {
				offset = binary.LittleEndian.Uint32(counter)
				binary.LittleEndian.PutUint32(counter, offset+count)
			}
			available := uint32(0)
			if offset < maxIdx {
				available = maxIdx - offset
			}
			count = min(count, available)
			for k := range count {
				binary.LittleEndian.PutUint32(indices[(offset+k)*4:], hits[k])
			}
			binary.LittleEndian.PutUint32(info[i*8:], offset)
			binary.LittleEndian.PutUint32(info[i*8+4:], count)
		}
	}
	return nil
}
