package batching

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/camera"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer/renderertest"
	"github.com/Carmen-Shannon/oxy-visibility/engine/scene"
	"github.com/Carmen-Shannon/oxy-visibility/engine/visibility"
	"github.com/go-gl/mathgl/mgl32"
)

var unitBox = common.BoundingBox{Min: mgl32.Vec3{-0.5, -0.5, -0.5}, Max: mgl32.Vec3{0.5, 0.5, 0.5}}

type fixture struct {
	scene  scene.Scene
	result visibility.Result
}

func newFixture() *fixture {
	return &fixture{scene: scene.NewScene("batching")}
}

func (f *fixture) mesh() common.Handle {
	return f.scene.RegisterMesh(scene.MeshAsset{Name: "m", LocalBounds: unitBox})
}

// add places n static proxies and appends them to the visible list.
func (f *fixture) add(n int, mesh common.Handle, mat material.Material) []common.Handle {
	out := make([]common.Handle, n)
	for i := range n {
		h := f.scene.AddMesh(mesh, mat, mgl32.Translate3D(float32(i), 0, -10))
		out[i] = h
		f.result.Meshes = append(f.result.Meshes, visibility.VisibleMesh{Handle: h})
	}
	return out
}

func (f *fixture) addSkinned(n int, mesh common.Handle, mat material.Material) {
	for i := range n {
		h := f.scene.AddSkinnedMesh(mesh, mat, mgl32.Translate3D(0, float32(i), -10), 4)
		f.result.SkinnedMeshes = append(f.result.SkinnedMeshes, visibility.VisibleSkinnedMesh{Handle: h})
	}
}

func TestInstanceGroupCount(t *testing.T) {
	tests := []struct {
		n, cap     int
		wantGroups int
	}{
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{2500, 1024, 3},
		{10, 3, 4},
		{7, 1, 7},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_cap_%d", tt.n, tt.cap), func(t *testing.T) {
			f := newFixture()
			f.add(tt.n, f.mesh(), material.NewMaterial())

			b := NewDrawBatcher(WithMaxInstancesPerDraw(tt.cap))
			b.Build(f.scene, f.result)

			groups := b.InstanceGroups()
			if len(groups) != tt.wantGroups {
				t.Fatalf("groups\nhave %d\nwant %d", len(groups), tt.wantGroups)
			}
			next := uint32(0)
			for i, g := range groups {
				if g.InstanceCount == 0 || int(g.InstanceCount) > tt.cap {
					t.Errorf("group %d count %d outside (0, %d]", i, g.InstanceCount, tt.cap)
				}
				if g.CommandStart != next {
					t.Errorf("group %d command start\nhave %d\nwant %d", i, g.CommandStart, next)
				}
				if g.InstanceStart != next {
					t.Errorf("group %d instance start\nhave %d\nwant %d", i, g.InstanceStart, next)
				}
				next += g.InstanceCount
			}
			if int(next) != tt.n {
				t.Errorf("covered commands\nhave %d\nwant %d", next, tt.n)
			}
		})
	}
}

func TestTransparentInstancesFollowOpaqueBlock(t *testing.T) {
	f := newFixture()
	mesh := f.mesh()
	glass := material.NewMaterial(material.WithBlendMode(material.BlendAlpha))
	stone := material.NewMaterial()

	// glass has the lower ID, so its commands sort before the opaque ones
	const k, m = 7, 5
	f.add(m, mesh, glass)
	f.add(k, mesh, stone)

	b := NewDrawBatcher(WithMaxInstancesPerDraw(2))
	b.Build(f.scene, f.result)

	if got := b.OpaqueInstanceCount(); got != k {
		t.Fatalf("opaque instances\nhave %d\nwant %d", got, k)
	}
	var seenTransparent, seenOpaque int
	for i, g := range b.InstanceGroups() {
		if g.Transparent {
			seenTransparent += int(g.InstanceCount)
			if g.InstanceStart < k {
				t.Errorf("transparent group %d starts at %d, inside opaque block of %d", i, g.InstanceStart, k)
			}
		} else {
			seenOpaque += int(g.InstanceCount)
			if g.InstanceStart >= k {
				t.Errorf("opaque group %d starts at %d, past opaque block of %d", i, g.InstanceStart, k)
			}
		}
	}
	if seenTransparent != m || seenOpaque != k {
		t.Errorf("instances\nhave %d opaque, %d transparent\nwant %d, %d", seenOpaque, seenTransparent, k, m)
	}
	if got := len(b.InstanceData()); got != k+m {
		t.Errorf("instance data\nhave %d\nwant %d", got, k+m)
	}
}

func TestInstanceDataMatchesGroups(t *testing.T) {
	f := newFixture()
	meshA, meshB := f.mesh(), f.mesh()
	opaque := material.NewMaterial()
	blended := material.NewMaterial(material.WithBlendMode(material.BlendAdditive))
	f.add(3, meshB, opaque)
	f.add(4, meshA, blended)
	f.add(2, meshA, opaque)

	b := NewDrawBatcher(WithMaxInstancesPerDraw(3))
	b.Build(f.scene, f.result)

	cmds := b.Commands()
	data := b.InstanceData()
	for _, g := range b.InstanceGroups() {
		for k := range g.InstanceCount {
			c := cmds[g.CommandStart+k]
			if c.GPUMesh != g.GPUMesh || c.Material.ID() != g.Material.ID() {
				t.Fatalf("group %+v covers foreign command %+v", g, c)
			}
			if data[g.InstanceStart+k].World != c.World {
				t.Errorf("instance %d world does not match command %d", g.InstanceStart+k, g.CommandStart+k)
			}
		}
	}
}

func TestCommandOrder(t *testing.T) {
	f := newFixture()
	meshA, meshB := f.mesh(), f.mesh()
	first := material.NewMaterial()
	second := material.NewMaterial()

	hb := f.add(2, meshB, second)
	ha := f.add(2, meshA, second)
	hf := f.add(1, meshB, first)

	b := NewDrawBatcher()
	b.Build(f.scene, f.result)

	want := []common.Handle{hf[0], ha[0], ha[1], hb[0], hb[1]}
	cmds := b.Commands()
	if len(cmds) != len(want) {
		t.Fatalf("commands\nhave %d\nwant %d", len(cmds), len(want))
	}
	for i, c := range cmds {
		if c.Mesh != want[i] {
			t.Errorf("command %d\nhave %v\nwant %v", i, c.Mesh, want[i])
		}
	}
}

func TestBatchesSplitOnMaterialAndSkinning(t *testing.T) {
	f := newFixture()
	mesh := f.mesh()
	a := material.NewMaterial()
	c := material.NewMaterial(material.WithBlendMode(material.BlendAlpha))
	f.add(3, mesh, a)
	f.add(2, mesh, c)
	f.addSkinned(2, mesh, a)

	b := NewDrawBatcher()
	b.Build(f.scene, f.result)

	batches := b.Batches()
	want := []DrawBatch{
		{Material: a, Start: 0, Count: 3},
		{Material: c, Start: 3, Count: 2, Transparent: true},
		{Material: a, Start: 5, Count: 2, Skinned: true},
	}
	if len(batches) != len(want) {
		t.Fatalf("batches\nhave %d\nwant %d", len(batches), len(want))
	}
	for i, w := range want {
		got := batches[i]
		if got.Material.ID() != w.Material.ID() || got.Start != w.Start || got.Count != w.Count ||
			got.Skinned != w.Skinned || got.Transparent != w.Transparent {
			t.Errorf("batch %d\nhave %+v\nwant %+v", i, got, w)
		}
	}

	for _, g := range b.InstanceGroups() {
		if int(g.CommandStart+g.InstanceCount) > b.Stats().StaticCommands {
			t.Errorf("instance group %+v reaches into skinned commands", g)
		}
	}
	for _, cmd := range b.Commands()[5:] {
		if !cmd.Skinned {
			t.Error("skinned block holds a static command")
		}
	}
	if got := b.Stats().DrawCalls(); got != 2+2 {
		t.Errorf("draw calls\nhave %d\nwant 4", got)
	}
}

func TestStaleHandlesSkipped(t *testing.T) {
	f := newFixture()
	hs := f.add(3, f.mesh(), material.NewMaterial())
	f.scene.RemoveMesh(hs[1])

	b := NewDrawBatcher()
	b.Build(f.scene, f.result)
	if got := len(b.Commands()); got != 2 {
		t.Fatalf("commands\nhave %d\nwant 2", got)
	}
	for _, c := range b.Commands() {
		if c.Mesh == hs[1] {
			t.Error("stale handle produced a command")
		}
	}
}

func TestBuildClearsPreviousFrame(t *testing.T) {
	f := newFixture()
	f.add(4, f.mesh(), material.NewMaterial())

	b := NewDrawBatcher()
	b.Build(f.scene, f.result)
	b.Build(f.scene, visibility.Result{})
	if len(b.Commands()) != 0 || len(b.Batches()) != 0 || len(b.InstanceGroups()) != 0 || len(b.InstanceData()) != 0 {
		t.Errorf("empty build left output: %+v", b.Stats())
	}
}

func TestUploadRotatesFrameBuffers(t *testing.T) {
	f := newFixture()
	f.add(3, f.mesh(), material.NewMaterial())

	if _, err := NewDrawBatcher().Upload(0); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("upload without device\nhave %v\nwant %v", err, ErrNoDevice)
	}

	dev := renderertest.NewDevice()
	b := NewDrawBatcher(WithDevice(dev), WithMaxInstancesPerDraw(2))
	b.Build(f.scene, f.result)

	buf0, err := b.Upload(0)
	if err != nil {
		t.Fatal(err)
	}
	buf1, err := b.Upload(1)
	if err != nil {
		t.Fatal(err)
	}
	if buf0 == buf1 {
		t.Error("consecutive frames share an instance buffer")
	}
	again, _ := b.Upload(2)
	if again != buf0 {
		t.Error("frame 2 did not reuse frame 0's buffer")
	}

	// cap 2 sizes the first ring at 2 instances, so 3 forced a doubling
	if got := buf0.Size(); got != 4*GPUInstanceSize {
		t.Errorf("buffer size\nhave %d\nwant %d", got, 4*GPUInstanceSize)
	}
	want := MarshalInstances(b.InstanceData())
	got := buf0.(*renderertest.Buffer).Data[:len(want)]
	if string(got) != string(want) {
		t.Error("uploaded bytes differ from InstanceData")
	}

	b.Release()
	if len(dev.Released) != renderer.FramesInFlight {
		t.Errorf("released buffers\nhave %d\nwant %d", len(dev.Released), renderer.FramesInFlight)
	}
}

func TestGrowthDefersRelease(t *testing.T) {
	f := newFixture()
	mesh, mat := f.mesh(), material.NewMaterial()
	f.add(3, mesh, mat)

	dev := renderertest.NewDevice()
	b := NewDrawBatcher(WithDevice(dev), WithMaxInstancesPerDraw(2))
	b.Build(f.scene, f.result)
	if _, err := b.Upload(4); err != nil {
		t.Fatal(err)
	}

	f.add(3, mesh, mat)
	b.Build(f.scene, f.result)
	grown, err := b.Upload(5)
	if err != nil {
		t.Fatal(err)
	}
	if got := grown.Size(); got != 8*GPUInstanceSize {
		t.Fatalf("grown buffer size\nhave %d\nwant %d", got, 8*GPUInstanceSize)
	}

	// frames 5 and 6 may still read the old ring
	for _, x := range []struct {
		frame    int
		released int
	}{
		{5, 0},
		{6, 0},
		{7, renderer.FramesInFlight},
		{8, renderer.FramesInFlight},
	} {
		if _, err := b.Upload(x.frame); err != nil {
			t.Fatal(err)
		}
		if len(dev.Released) != x.released {
			t.Errorf("frame %d: released buffers\nhave %d\nwant %d", x.frame, len(dev.Released), x.released)
		}
	}

	b.Release()
	if len(dev.Released) != 2*renderer.FramesInFlight {
		t.Errorf("after Release\nhave %d\nwant %d", len(dev.Released), 2*renderer.FramesInFlight)
	}
}

func TestReleaseFreesRetiredBuffers(t *testing.T) {
	f := newFixture()
	mesh, mat := f.mesh(), material.NewMaterial()
	f.add(1, mesh, mat)

	dev := renderertest.NewDevice()
	b := NewDrawBatcher(WithDevice(dev), WithMaxInstancesPerDraw(1))
	b.Build(f.scene, f.result)
	b.Upload(0)
	f.add(4, mesh, mat)
	b.Build(f.scene, f.result)
	b.Upload(1)
	if len(dev.Released) != 0 {
		t.Fatalf("growth freed %d buffers in flight", len(dev.Released))
	}

	b.Release()
	if len(dev.Released) != 2*renderer.FramesInFlight {
		t.Errorf("released buffers\nhave %d\nwant %d", len(dev.Released), 2*renderer.FramesInFlight)
	}
}

func TestGPUInstanceLayout(t *testing.T) {
	var g GPUInstance
	if g.Size() != GPUInstanceSize {
		t.Errorf("Size\nhave %d\nwant %d", g.Size(), GPUInstanceSize)
	}
	g.World = mgl32.Translate3D(1, 2, 3)
	buf := g.Marshal()
	if len(buf) != GPUInstanceSize {
		t.Fatalf("Marshal\nhave %d bytes\nwant %d", len(buf), GPUInstanceSize)
	}
	// translation lives in column 3 of the column-major world matrix
	if buf[48] == 0 && buf[49] == 0 && buf[50] == 0 && buf[51] == 0 {
		t.Error("world translation not marshaled")
	}
}

func BenchmarkBuild2000(b *testing.B) {
	s := scene.NewScene("bench")
	meshes := []common.Handle{
		s.RegisterMesh(scene.MeshAsset{LocalBounds: unitBox}),
		s.RegisterMesh(scene.MeshAsset{LocalBounds: unitBox}),
		s.RegisterMesh(scene.MeshAsset{LocalBounds: unitBox}),
	}
	mats := []material.Material{
		material.NewMaterial(),
		material.NewMaterial(),
		material.NewMaterial(material.WithBlendMode(material.BlendAlpha)),
	}
	rng := rand.New(rand.NewSource(1))
	for range 2000 {
		pos := mgl32.Vec3{rng.Float32()*100 - 50, rng.Float32()*100 - 50, rng.Float32()*100 - 50}
		s.AddMesh(meshes[rng.Intn(len(meshes))], mats[rng.Intn(len(mats))], mgl32.Translate3D(pos[0], pos[1], pos[2]))
	}
	cam := camera.NewCamera(camera.WithFov(mgl32.DegToRad(60)), camera.WithNear(0.1), camera.WithFar(200))
	vis := visibility.NewResolver().Resolve(s, cam, visibility.SortFrontToBack)
	batcher := NewDrawBatcher()

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		batcher.Build(s, vis)
	}
}
