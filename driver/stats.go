package driver

import (
	"time"

	"github.com/oxy-go/splat-lod/diagnostics"
)

// Stats tracks per-frame engine counters and periodically pushes them to
// diagnostics for live broadcast, the same FPS/sampling-interval idiom
// used elsewhere for heap stats, generalized to per-frame LoD counters.
type Stats struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration

	splatsDrawn     uint32
	pagesResident   uint32
	fetchQueueDepth int
	sortLatency     time.Duration
}

// NewStats creates a Stats tracker that pushes a broadcast once per
// updateInterval (defaulting to one second if zero).
func NewStats(updateInterval time.Duration) *Stats {
	if updateInterval <= 0 {
		updateInterval = time.Second
	}
	return &Stats{lastTime: time.Now(), updateInterval: updateInterval}
}

// Record latches this frame's counters ahead of the next Tick.
func (s *Stats) Record(splatsDrawn, pagesResident uint32, fetchQueueDepth int, sortLatency time.Duration) {
	s.splatsDrawn = splatsDrawn
	s.pagesResident = pagesResident
	s.fetchQueueDepth = fetchQueueDepth
	s.sortLatency = sortLatency
}

// Tick should be called once per frame. When the update interval has
// elapsed it broadcasts the latest recorded counters through diag and
// resets the interval, returning true.
func (s *Stats) Tick(diag *diagnostics.Diagnostics) bool {
	s.frameCount++
	now := time.Now()
	if now.Sub(s.lastTime) < s.updateInterval {
		return false
	}

	if diag != nil {
		diag.Broadcast(diagnostics.FrameStats{
			SplatsDrawn:     s.splatsDrawn,
			PagesResident:   s.pagesResident,
			FetchQueueDepth: s.fetchQueueDepth,
			SortLatency:     s.sortLatency,
		})
	}

	s.frameCount = 0
	s.lastTime = now
	return true
}
