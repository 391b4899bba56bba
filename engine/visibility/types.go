package visibility

import (
	"cmp"
	"math"
	"slices"

	"github.com/Carmen-Shannon/oxy-visibility/common"
	"github.com/Carmen-Shannon/oxy-visibility/engine/culling"
)

// MaxLOD is the coarsest level of detail a visible mesh can be assigned.
const MaxLOD = 3

// DefaultLODThresholds are the un-squared camera distances at which each LOD
// band ends. A mesh closer than DefaultLODThresholds[i] gets LOD i; anything
// beyond the last threshold gets MaxLOD.
var DefaultLODThresholds = [4]float32{25, 100, 400, 1600}

// SortMode controls the final ordering of visible mesh lists.
type SortMode int

const (
	// SortNone keeps culling order.
	SortNone SortMode = iota
	// SortFrontToBack orders by ascending distance. Used for opaque geometry.
	SortFrontToBack
	// SortBackToFront orders by descending distance, the exact reverse of
	// SortFrontToBack. Used for blended geometry.
	SortBackToFront
	// SortByMaterial orders by ascending sort key, grouping materials together.
	SortByMaterial
)

// String returns a readable name for the sort mode.
func (m SortMode) String() string {
	switch m {
	case SortNone:
		return "none"
	case SortFrontToBack:
		return "front_to_back"
	case SortBackToFront:
		return "back_to_front"
	case SortByMaterial:
		return "by_material"
	default:
		return "unknown"
	}
}

// ParseSortMode converts the String form back into a SortMode.
//
// Parameters:
//   - s: the mode name
//
// Returns:
//   - SortMode: the parsed mode
//   - bool: false when s names no mode
func ParseSortMode(s string) (SortMode, bool) {
	for m := SortNone; m <= SortByMaterial; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return SortNone, false
}

// VisibleMesh is one frustum-surviving static mesh.
type VisibleMesh struct {
	Handle     common.Handle
	DistanceSq float32
	LOD        uint8
	SortKey    uint32
}

// VisibleSkinnedMesh is one frustum-surviving skinned mesh. It carries the
// same data as VisibleMesh but refers to the skinned proxy table.
type VisibleSkinnedMesh = VisibleMesh

// VisibleLight is one light that affects the view. Directional lights report
// DistanceSq 0.
type VisibleLight struct {
	Handle       common.Handle
	DistanceSq   float32
	CastsShadows bool
	Directional  bool
}

// Result is the output of one Resolve call. The slices are owned by the
// resolver and are overwritten by the next Resolve.
type Result struct {
	Meshes        []VisibleMesh
	SkinnedMeshes []VisibleSkinnedMesh
	Lights        []VisibleLight
	Stats         culling.CullStats
	Mode          SortMode
}

// SquareThresholds squares LOD distance thresholds so they can be compared to
// squared distances.
//
// Parameters:
//   - t: un-squared thresholds in ascending order
//
// Returns:
//   - [4]float32: the squared thresholds
func SquareThresholds(t [4]float32) [4]float32 {
	return [4]float32{t[0] * t[0], t[1] * t[1], t[2] * t[2], t[3] * t[3]}
}

// SelectLOD maps a squared distance onto a LOD band.
//
// Parameters:
//   - distSq: squared camera distance
//   - thresholdsSq: ascending squared thresholds
//
// Returns:
//   - uint8: the first i with distSq < thresholdsSq[i], or MaxLOD
func SelectLOD(distSq float32, thresholdsSq [4]float32) uint8 {
	for i, t := range thresholdsSq {
		if distSq < t {
			return uint8(min(i, MaxLOD))
		}
	}
	return MaxLOD
}

// SortKey packs a material hash and a quantized distance into 32 bits. The
// distance is sqrt(distSq)*10 truncated and saturated at 0xFFFF.
//
// Parameters:
//   - materialHash: 16-bit material identity hash
//   - distSq: squared camera distance
//
// Returns:
//   - uint32: materialHash<<16 | quantized distance
func SortKey(materialHash uint16, distSq float32) uint32 {
	q := math.Sqrt(float64(max(distSq, 0))) * 10
	if q > math.MaxUint16 {
		q = math.MaxUint16
	}
	return uint32(materialHash)<<16 | uint32(uint16(q))
}

// SortMeshes orders list in place according to mode. Ties fall back to handle
// order, which is the order the store yields proxies in, so every mode is
// stable and idempotent, and SortBackToFront is the exact reverse of
// SortFrontToBack.
//
// Parameters:
//   - list: the visible meshes to sort
//   - mode: the ordering to apply
func SortMeshes(list []VisibleMesh, mode SortMode) {
	switch mode {
	case SortFrontToBack:
		slices.SortStableFunc(list, compareFrontToBack)
	case SortBackToFront:
		slices.SortStableFunc(list, func(a, b VisibleMesh) int {
			return compareFrontToBack(b, a)
		})
	case SortByMaterial:
		slices.SortStableFunc(list, func(a, b VisibleMesh) int {
			return cmp.Or(
				cmp.Compare(a.SortKey, b.SortKey),
				compareHandles(a.Handle, b.Handle),
			)
		})
	}
}

// SortLights orders lights front to back, directional lights first.
//
// Parameters:
//   - list: the visible lights to sort
func SortLights(list []VisibleLight) {
	slices.SortStableFunc(list, func(a, b VisibleLight) int {
		return cmp.Or(
			cmp.Compare(a.DistanceSq, b.DistanceSq),
			compareHandles(a.Handle, b.Handle),
		)
	})
}

func compareFrontToBack(a, b VisibleMesh) int {
	return cmp.Or(
		cmp.Compare(a.DistanceSq, b.DistanceSq),
		compareHandles(a.Handle, b.Handle),
	)
}

func compareHandles(a, b common.Handle) int {
	return cmp.Or(
		cmp.Compare(a.Index, b.Index),
		cmp.Compare(a.Generation, b.Generation),
	)
}
