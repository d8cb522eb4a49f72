package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/facecap/internal/mocap/retarget"
)

// PoseSample is one recorded head pose.
type PoseSample struct {
	At    time.Time      `json:"at"`
	Head  retarget.Euler `json:"head"`
	Final retarget.Euler `json:"final"`
}

// PoseHistory keeps the most recent head poses in a ring buffer. It records at
// most one sample per interval so a fast tick rate does not shorten the window.
type PoseHistory struct {
	mu       sync.Mutex
	buf      []PoseSample
	next     int
	full     bool
	interval time.Duration
	last     time.Time
}

// NewPoseHistory keeps up to capacity samples spaced at least interval apart.
func NewPoseHistory(capacity int, interval time.Duration) *PoseHistory {
	if capacity <= 0 {
		capacity = 600
	}
	return &PoseHistory{buf: make([]PoseSample, capacity), interval: interval}
}

// Observe records res; it is called from the animator after each tick.
func (h *PoseHistory) Observe(at time.Time, res retarget.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.last.IsZero() && at.Sub(h.last) < h.interval {
		return
	}
	h.last = at
	h.buf[h.next] = PoseSample{At: at, Head: res.Head, Final: res.Final}
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Samples returns the recorded samples, oldest first.
func (h *PoseHistory) Samples() []PoseSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]PoseSample(nil), h.buf[:h.next]...)
	}
	out := make([]PoseSample, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}
