package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-visibility/common"
)

// FrameStats are the culling counters of one pipeline frame.
type FrameStats struct {
	Candidates     int
	VisibleMeshes  int
	VisibleSkinned int
	VisibleLights  int
	Occluded       int
	DrawCalls      int
	Instances      int
	LightIndices   int
	CPUTime        time.Duration
}

// Summary is the per-frame average over one reporting interval.
type Summary struct {
	Frames         int
	FPS            float64
	Candidates     float64
	VisibleMeshes  float64
	VisibleSkinned float64
	VisibleLights  float64
	Occluded       float64
	DrawCalls      float64
	Instances      float64
	LightIndices   float64
	CPUTime        time.Duration
	MaxCPUTime     time.Duration
	HeapMB         float64
	AllocRateMB    float64
	GCCount        uint32
}

// Profiler accumulates culling statistics and memory churn, and logs a Summary
// at a configurable interval.
type Profiler struct {
	now            func() time.Time
	updateInterval time.Duration
	lastTime       time.Time
	frameCount     int
	sum            FrameStats
	maxCPU         time.Duration
	memStats       runtime.MemStats
	lastTotalAlloc uint64
	last           Summary
}

// ProfilerBuilderOption is a functional option applied to a profiler during construction via NewProfiler.
type ProfilerBuilderOption func(*Profiler)

// WithInterval sets how often Record reports. Non-positive values are ignored.
func WithInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if d > 0 {
			p.updateInterval = d
		}
	}
}

// WithClock replaces time.Now, so tests can step time by hand.
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.now = now
	}
}

// NewProfiler creates a new Profiler. The update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options such as WithInterval
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		now:            time.Now,
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Record adds one frame's stats. When the update interval has elapsed it logs
// the averages since the previous report and starts a new interval.
//
// Parameters:
//   - s: the frame's counters
//
// Returns:
//   - bool: true if stats were logged by this call
func (p *Profiler) Record(s FrameStats) bool {
	p.frameCount++
	p.sum.Candidates += s.Candidates
	p.sum.VisibleMeshes += s.VisibleMeshes
	p.sum.VisibleSkinned += s.VisibleSkinned
	p.sum.VisibleLights += s.VisibleLights
	p.sum.Occluded += s.Occluded
	p.sum.DrawCalls += s.DrawCalls
	p.sum.Instances += s.Instances
	p.sum.LightIndices += s.LightIndices
	p.sum.CPUTime += s.CPUTime
	p.maxCPU = max(p.maxCPU, s.CPUTime)

	current := p.now()
	elapsed := current.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	n := float64(p.frameCount)
	avg := func(v int) float64 { return float64(v) / n }
	p.last = Summary{
		Frames:         p.frameCount,
		FPS:            n / elapsed.Seconds(),
		Candidates:     avg(p.sum.Candidates),
		VisibleMeshes:  avg(p.sum.VisibleMeshes),
		VisibleSkinned: avg(p.sum.VisibleSkinned),
		VisibleLights:  avg(p.sum.VisibleLights),
		Occluded:       avg(p.sum.Occluded),
		DrawCalls:      avg(p.sum.DrawCalls),
		Instances:      avg(p.sum.Instances),
		LightIndices:   avg(p.sum.LightIndices),
		CPUTime:        p.sum.CPUTime / time.Duration(p.frameCount),
		MaxCPUTime:     p.maxCPU,
		HeapMB:         float64(p.memStats.Alloc) / 1024 / 1024,
		AllocRateMB:    float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds(),
		GCCount:        p.memStats.NumGC,
	}

	l := p.last
	common.LogInfo("[Profiler] FPS: %.2f | Visible: %.0f/%.0f (+%.0f skinned, %.0f occluded) | Lights: %.0f (%.0f indices) | Draws: %.0f (%.0f instances) | CPU: %v avg, %v max | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d",
		l.FPS, l.VisibleMeshes, l.Candidates, l.VisibleSkinned, l.Occluded, l.VisibleLights, l.LightIndices, l.DrawCalls, l.Instances, l.CPUTime, l.MaxCPUTime, l.HeapMB, l.AllocRateMB, l.GCCount)

	p.frameCount = 0
	p.sum = FrameStats{}
	p.maxCPU = 0
	p.lastTime = current
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// Last returns the most recently logged Summary.
func (p *Profiler) Last() Summary {
	return p.last
}
