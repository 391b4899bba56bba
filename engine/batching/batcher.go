package batching

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/proxy"
	"github.com/Carmen-Shannon/oxy-visibility/engine/renderer"
	"github.com/Carmen-Shannon/oxy-visibility/engine/visibility"
	"github.com/google/uuid"
)

// ErrNoDevice is returned by Upload when the batcher was built without a device.
var ErrNoDevice = errors.New("batching: no device configured")

// drawBatcher is the implementation of the DrawBatcher interface.
type drawBatcher struct {
	maxInstances int
	device       renderer.Device
	frames       int
	label        string

	commands     []DrawCommand
	staticCount  int
	batches      []DrawBatch
	groups       []InstanceGroup
	instances    []GPUInstance
	opaqueCount  uint32
	stats        BatchStats
	instanceRing *renderer.FrameRing[renderer.Buffer]
	ringCapacity int
	retired      []retiredBuffer
}

// retiredBuffer is an instance buffer replaced by a larger ring. It may still
// be read by a frame in flight, so it is freed once the frame counter reaches
// releaseAt.
type retiredBuffer struct {
	buf       renderer.Buffer
	releaseAt int
}

// DrawBatcher turns a visibility result into draw commands, state batches and
// instance groups.
type DrawBatcher interface {
	// Build rebuilds every output from the store and the resolver's result.
	// One command is produced per visible mesh whose proxy still resolves;
	// stale handles are skipped. Static commands come first in Commands(),
	// followed by skinned commands, each block sorted stably by material ID
	// then GPU mesh handle.
	//
	// Parameters:
	//   - store: the proxy store the result was resolved against
	//   - vis: the visible mesh lists
	Build(store proxy.Store, vis visibility.Result)

	// Commands returns the sorted command list of the last Build.
	//
	// Returns:
	//   - []DrawCommand: owned by the batcher, overwritten by the next Build
	Commands() []DrawCommand

	// Batches returns the state batches of the last Build. Static batches come
	// first, skinned batches after them.
	//
	// Returns:
	//   - []DrawBatch: owned by the batcher
	Batches() []DrawBatch

	// InstanceGroups returns the instance groups of the last Build. Opaque
	// groups occupy instance slots [0, OpaqueInstanceCount) and transparent
	// groups the slots after them.
	//
	// Returns:
	//   - []InstanceGroup: owned by the batcher
	InstanceGroups() []InstanceGroup

	// OpaqueInstanceCount returns the size of the opaque instance block.
	OpaqueInstanceCount() uint32

	// InstanceData returns the instance records laid out to match the group
	// offsets, opaque block first.
	//
	// Returns:
	//   - []GPUInstance: owned by the batcher
	InstanceData() []GPUInstance

	// Upload writes InstanceData into the instance buffer of the given frame in
	// flight, growing the buffers when the instance count exceeds their capacity.
	//
	// Parameters:
	//   - frame: the frame counter, mapped onto a frame-in-flight slot
	//
	// Returns:
	//   - renderer.Buffer: the buffer holding this frame's instances
	//   - error: ErrNoDevice without a device, or an allocation or write failure
	Upload(frame int) (renderer.Buffer, error)

	// MaxInstancesPerDraw returns the instance cap per group.
	MaxInstancesPerDraw() int

	// Stats returns counters of the last Build.
	Stats() BatchStats

	// Release frees the instance buffers.
	Release()
}

var _ DrawBatcher = &drawBatcher{}

// NewDrawBatcher creates a batcher.
//
// Parameters:
//   - options: functional options such as WithMaxInstancesPerDraw or WithDevice
//
// Returns:
//   - DrawBatcher: the batcher
func NewDrawBatcher(options ...DrawBatcherBuilderOption) DrawBatcher {
	b := &drawBatcher{
		maxInstances: DefaultMaxInstancesPerDraw,
		frames:       renderer.FramesInFlight,
		label:        "instances-" + uuid.NewString()[:8],
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

func (b *drawBatcher) Commands() []DrawCommand {
	return b.commands
}

func (b *drawBatcher) Batches() []DrawBatch {
	return b.batches
}

func (b *drawBatcher) InstanceGroups() []InstanceGroup {
	return b.groups
}

func (b *drawBatcher) OpaqueInstanceCount() uint32 {
	return b.opaqueCount
}

func (b *drawBatcher) InstanceData() []GPUInstance {
	return b.instances
}

func (b *drawBatcher) MaxInstancesPerDraw() int {
	return b.maxInstances
}

func (b *drawBatcher) Stats() BatchStats {
	return b.stats
}

func (b *drawBatcher) Build(store proxy.Store, vis visibility.Result) {
	b.commands = b.commands[:0]
	b.batches = b.batches[:0]
	b.groups = b.groups[:0]
	b.instances = b.instances[:0]
	b.opaqueCount = 0

	for _, v := range vis.Meshes {
		p := store.GetMesh(v.Handle)
		if p == nil || p.Material == nil {
			continue
		}
		b.commands = append(b.commands, newCommand(v, p, false))
	}
	b.staticCount = len(b.commands)
	for _, v := range vis.SkinnedMeshes {
		p := store.GetSkinnedMesh(v.Handle)
		if p == nil || p.Material == nil {
			continue
		}
		b.commands = append(b.commands, newCommand(v, &p.MeshProxy, true))
	}

	static, skinned := b.commands[:b.staticCount], b.commands[b.staticCount:]
	slices.SortStableFunc(static, compareCommands)
	slices.SortStableFunc(skinned, compareCommands)

	b.appendBatches(0, b.staticCount, false)
	b.appendBatches(b.staticCount, len(b.commands), true)
	b.buildInstanceGroups()
	b.packInstances()

	b.stats = BatchStats{
		StaticCommands:  b.staticCount,
		SkinnedCommands: len(b.commands) - b.staticCount,
		Batches:         len(b.batches),
		InstanceGroups:  len(b.groups),
		OpaqueInstances: int(b.opaqueCount),
		Instances:       len(b.instances),
	}
}

func newCommand(v visibility.VisibleMesh, p *proxy.MeshProxy, skinned bool) DrawCommand {
	return DrawCommand{
		Mesh:       v.Handle,
		GPUMesh:    p.GPUMesh,
		IndexCount: p.IndexCount,
		World:      p.World,
		PrevWorld:  p.PrevWorld,
		Normal:     common.NormalMatrix(p.World),
		LOD:        v.LOD,
		Material:   p.Material,
		Skinned:    skinned,
	}
}

func compareCommands(a, b DrawCommand) int {
	return cmp.Or(
		cmp.Compare(a.Material.ID(), b.Material.ID()),
		cmp.Compare(a.GPUMesh.Index, b.GPUMesh.Index),
		cmp.Compare(a.GPUMesh.Generation, b.GPUMesh.Generation),
	)
}

// appendBatches splits commands[lo:hi] into runs of equal material and
// transparency class.
func (b *drawBatcher) appendBatches(lo, hi int, skinned bool) {
	for i := lo; i < hi; {
		first := &b.commands[i]
		transparent := first.Material.Transparent()
		j := i + 1
		for j < hi {
			next := &b.commands[j]
			if next.Material.ID() != first.Material.ID() || next.Material.Transparent() != transparent {
				break
			}
			j++
		}
		b.batches = append(b.batches, DrawBatch{
			Material:    first.Material,
			Start:       uint32(i),
			Count:       uint32(j - i),
			Skinned:     skinned,
			Transparent: transparent,
		})
		i = j
	}
}

// buildInstanceGroups groups the static commands. Opaque and transparent
// groups take instance slots from separate counters; once the opaque total is
// known every transparent start is shifted past the opaque block.
func (b *drawBatcher) buildInstanceGroups() {
	var opaque, transparent uint32
	for i := 0; i < b.staticCount; {
		first := &b.commands[i]
		j := i + 1
		for j < b.staticCount {
			next := &b.commands[j]
			if next.Material.ID() != first.Material.ID() || next.GPUMesh != first.GPUMesh {
				break
			}
			j++
		}

		isTransparent := first.Material.Transparent()
		for start := i; start < j; start += b.maxInstances {
			count := uint32(min(b.maxInstances, j-start))
			g := InstanceGroup{
				GPUMesh:       first.GPUMesh,
				IndexCount:    first.IndexCount,
				Material:      first.Material,
				InstanceCount: count,
				CommandStart:  uint32(start),
				Transparent:   isTransparent,
			}
			if isTransparent {
				g.InstanceStart = transparent
				transparent += count
			} else {
				g.InstanceStart = opaque
				opaque += count
			}
			b.groups = append(b.groups, g)
		}
		i = j
	}

	for k := range b.groups {
		if b.groups[k].Transparent {
			b.groups[k].InstanceStart += opaque
		}
	}
	b.opaqueCount = opaque
}

func (b *drawBatcher) packInstances() {
	total := 0
	for _, g := range b.groups {
		total += int(g.InstanceCount)
	}
	b.instances = slices.Grow(b.instances[:0], total)[:total]
	for _, g := range b.groups {
		for k := range g.InstanceCount {
			b.instances[g.InstanceStart+k] = b.commands[g.CommandStart+k].Instance()
		}
	}
}

func (b *drawBatcher) Upload(frame int) (renderer.Buffer, error) {
	if b.device == nil {
		return nil, ErrNoDevice
	}
	b.reclaim(frame)
	if err := b.ensureCapacity(len(b.instances), frame); err != nil {
		return nil, err
	}
	b.instanceRing.SetIndex(frame)
	buf := b.instanceRing.Current()
	if len(b.instances) == 0 {
		return buf, nil
	}
	if err := b.device.WriteBuffer(buf, 0, MarshalInstances(b.instances)); err != nil {
		return nil, fmt.Errorf("upload instances: %w", err)
	}
	return buf, nil
}

// ensureCapacity (re)allocates the per-frame instance buffers when n instances
// do not fit. Capacity doubles so steady growth reallocates rarely. The old
// buffers are retired rather than freed; frames up to frame+frames-1 may still
// reference them.
func (b *drawBatcher) ensureCapacity(n, frame int) error {
	if b.instanceRing != nil && n <= b.ringCapacity {
		return nil
	}
	capacity := max(b.ringCapacity, b.maxInstances)
	for capacity < n {
		capacity *= 2
	}

	ring, err := renderer.NewFrameRing(b.frames,
		func(i int) (renderer.Buffer, error) {
			return b.device.CreateBuffer(renderer.BufferDescriptor{
				Label: fmt.Sprintf("%s[%d]", b.label, i),
				Size:  uint64(capacity) * GPUInstanceSize,
				Usage: renderer.BufferUsageStorage | renderer.BufferUsageCopyDst,
			})
		},
		b.device.ReleaseBuffer,
	)
	if err != nil {
		return fmt.Errorf("allocate instance buffers: %w", err)
	}
	b.retireRing(frame + b.frames)
	b.instanceRing = ring
	b.ringCapacity = capacity
	common.LogDebug("[Batcher] instance buffers sized for %d instances x %d frames", capacity, b.frames)
	return nil
}

func (b *drawBatcher) retireRing(releaseAt int) {
	if b.instanceRing == nil {
		return
	}
	b.instanceRing.Each(func(_ int, buf renderer.Buffer) {
		b.retired = append(b.retired, retiredBuffer{buf: buf, releaseAt: releaseAt})
	})
	b.instanceRing = nil
	b.ringCapacity = 0
}

// reclaim frees the retired buffers no frame in flight can still read.
func (b *drawBatcher) reclaim(frame int) {
	kept := b.retired[:0]
	for _, r := range b.retired {
		if frame >= r.releaseAt {
			b.device.ReleaseBuffer(r.buf)
			continue
		}
		kept = append(kept, r)
	}
	clear(b.retired[len(kept):])
	b.retired = kept
}

func (b *drawBatcher) releaseRing() {
	if b.instanceRing == nil {
		return
	}
	b.instanceRing.Each(func(_ int, buf renderer.Buffer) {
		b.device.ReleaseBuffer(buf)
	})
	b.instanceRing = nil
	b.ringCapacity = 0
}

func (b *drawBatcher) Release() {
	if b.device == nil {
		return
	}
	for _, r := range b.retired {
		b.device.ReleaseBuffer(r.buf)
	}
	b.retired = nil
	b.releaseRing()
}
