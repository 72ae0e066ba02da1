package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-vrs/common"
	"github.com/Carmen-Shannon/oxy-vrs/engine/renderer"
)

// Report is one interval of profiling statistics.
type Report struct {
	FPS float64
	// HeapMB is the live heap; SysMB the memory obtained from the OS.
	HeapMB      float64
	SysMB       float64
	AllocRateMB float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
	// InvocationRatio is fragment invocations per shaded pixel over the interval; 1 means
	// full-rate shading, 0.25 a quarter of the work.
	InvocationRatio float64
}

// Saved is the fraction of fragment invocations avoided by coarse shading.
func (r Report) Saved() float64 {
	if r.InvocationRatio == 0 {
		return 0
	}
	return 1 - r.InvocationRatio
}

// Profiler tracks frame rate, memory and shading statistics for performance monitoring.
// Outputs stats to the log at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	lastDevice     renderer.Stats
	last           Report
}

// NewProfiler creates a new Profiler.
// Update interval defaults to 1 second.
//
// Parameters:
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, heap usage, allocation rate, GC count/pause times, total memory
// and the fragment invocation ratio of the device.
//
// Parameters:
//   - device: the cumulative device counters after the frame
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(device renderer.Stats) bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}
	seconds := max(elapsed.Seconds(), 1e-9)

	runtime.ReadMemStats(&p.memStats)
	r := Report{
		FPS:         float64(p.frameCount) / seconds,
		HeapMB:      float64(p.memStats.Alloc) / 1024 / 1024,
		SysMB:       float64(p.memStats.Sys) / 1024 / 1024,
		AllocRateMB: float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / seconds,
		GCCount:     p.memStats.NumGC,
	}
	if gcCount := p.memStats.NumGC; gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses
		r.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}
	r.InvocationRatio = delta(p.lastDevice, device).InvocationRatio()

	common.Logger().Info("profile",
		"component", "profiler",
		"fps", r.FPS,
		"heap_mb", r.HeapMB,
		"alloc_rate_mb", r.AllocRateMB,
		"gc", r.GCCount,
		"gc_last_us", r.LastPauseUs,
		"gc_max_us", r.MaxPauseUs,
		"sys_mb", r.SysMB,
		"invocation_ratio", r.InvocationRatio,
		"invocations_saved", r.Saved(),
	)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = r.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.lastDevice = device
	p.last = r
	return true
}

// Last returns the most recently logged report.
func (p *Profiler) Last() Report {
	return p.last
}

// delta returns the counters accumulated between two snapshots.
func delta(prev, cur renderer.Stats) renderer.Stats {
	return renderer.Stats{
		Submissions:         cur.Submissions - prev.Submissions,
		Dispatches:          cur.Dispatches - prev.Dispatches,
		Draws:               cur.Draws - prev.Draws,
		FragmentInvocations: cur.FragmentInvocations - prev.FragmentInvocations,
		PixelsShaded:        cur.PixelsShaded - prev.PixelsShaded,
		Presents:            cur.Presents - prev.Presents,
	}
}
