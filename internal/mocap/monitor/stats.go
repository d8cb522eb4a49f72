package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/facecap/internal/monitoring"
)

// StatsSnapshot is one logged interval of receive statistics.
type StatsSnapshot struct {
	PacketsPerSec float64   `json:"packets_per_sec"`
	KBPerSec      float64   `json:"kb_per_sec"`
	Accepted      int64     `json:"accepted"`
	Filtered      int64     `json:"filtered"`
	Invalid       int64     `json:"invalid_utf8"`
	Dropped       int64     `json:"dropped"`
	Timestamp     time.Time `json:"timestamp"`
}

// PacketStats counts receive activity per logging interval.
type PacketStats struct {
	mu        sync.Mutex
	packets   int64
	bytes     int64
	accepted  int64
	filtered  int64
	invalid   int64
	dropped   int64
	lastReset time.Time
	startTime time.Time
	latest    *StatsSnapshot
	now       func() time.Time
}

// NewPacketStats returns zeroed counters.
func NewPacketStats() *PacketStats {
	return newPacketStats(time.Now)
}

func newPacketStats(now func() time.Time) *PacketStats {
	t := now()
	return &PacketStats{lastReset: t, startTime: t, now: now}
}

func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	ps.packets++
	ps.bytes += int64(bytes)
	ps.mu.Unlock()
}

func (ps *PacketStats) AddAccepted() {
	ps.mu.Lock()
	ps.accepted++
	ps.mu.Unlock()
}

func (ps *PacketStats) AddFiltered() {
	ps.mu.Lock()
	ps.filtered++
	ps.mu.Unlock()
}

func (ps *PacketStats) AddInvalid() {
	ps.mu.Lock()
	ps.invalid++
	ps.mu.Unlock()
}

// AddDropped counts a datagram a relay or recorder could not keep up with.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	ps.dropped++
	ps.mu.Unlock()
}

// GetAndReset returns the interval counters and starts a new interval.
func (ps *PacketStats) GetAndReset() (snap StatsSnapshot, packets, bytes int64, d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.now()
	d = now.Sub(ps.lastReset)
	snap = StatsSnapshot{
		Accepted:  ps.accepted,
		Filtered:  ps.filtered,
		Invalid:   ps.invalid,
		Dropped:   ps.dropped,
		Timestamp: now,
	}
	packets, bytes = ps.packets, ps.bytes
	ps.packets, ps.bytes = 0, 0
	ps.accepted, ps.filtered, ps.invalid, ps.dropped = 0, 0, 0, 0
	ps.lastReset = now
	return snap, packets, bytes, d
}

// LogStats logs the interval rates and keeps them for the status endpoint.
// Quiet intervals are not logged.
func (ps *PacketStats) LogStats() {
	snap, packets, bytes, d := ps.GetAndReset()
	if packets == 0 && snap.Dropped == 0 {
		return
	}
	if secs := d.Seconds(); secs > 0 {
		snap.PacketsPerSec = float64(packets) / secs
		snap.KBPerSec = float64(bytes) / secs / 1024
	}

	ps.mu.Lock()
	ps.latest = &snap
	ps.mu.Unlock()

	msg := fmt.Sprintf("[UDP] stats (/sec): %.1f packets, %.2f KB", snap.PacketsPerSec, snap.KBPerSec)
	if snap.Filtered > 0 {
		msg += fmt.Sprintf(", %d filtered", snap.Filtered)
	}
	if snap.Invalid > 0 {
		msg += fmt.Sprintf(", %d invalid", snap.Invalid)
	}
	if snap.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", snap.Dropped)
	}
	monitoring.Logf("%s", msg)
}

// LatestSnapshot returns a copy of the last logged interval, or nil.
func (ps *PacketStats) LatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latest == nil {
		return nil
	}
	s := *ps.latest
	return &s
}

// Uptime returns the time since the stats were created.
func (ps *PacketStats) Uptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.now().Sub(ps.startTime)
}
