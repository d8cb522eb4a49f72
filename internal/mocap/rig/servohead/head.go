// Package servohead drives a serial pan/tilt/roll servo controller as the
// head bone of a rig.
//
// The controller accepts one ASCII line per pose:
//
//	P<pitch> Y<yaw> R<roll>\n
//
// with each angle in degrees to one decimal place.
package servohead

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/mocap/rig"
	"github.com/banshee-data/facecap/internal/monitoring"
)

// Port is the part of a serial port the head writes to.
type Port interface {
	io.Writer
	io.Closer
}

// Limits is the largest absolute angle, in degrees, each axis may be driven
// to. Zero means the axis is not limited.
type Limits struct {
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
	Roll  float64 `json:"roll" yaml:"roll"`
}

// DefaultLimits matches a typical hobby pan/tilt rig.
var DefaultLimits = Limits{Pitch: 45, Yaw: 90, Roll: 30}

// Config configures a Head.
type Config struct {
	Options PortOptions
	Limits  Limits
	// UpdateRate is the most lines per second sent to the controller.
	UpdateRate float64
	Now        func() time.Time
}

// Head implements rig.Bone on top of a servo controller.
type Head struct {
	port    Port
	limits  Limits
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	rotation quat.Number
	lastLine string
	writes   int
	skipped  int
	failures int
	closed   bool
}

var _ rig.Bone = (*Head)(nil)

// Open opens the serial port at path and returns a Head writing to it.
func Open(path string, cfg Config) (*Head, error) {
	mode, err := cfg.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open servo port %s: %w", path, err)
	}
	monitoring.Logf("[servo] opened %s at %d baud", path, mode.BaudRate)
	return New(port, cfg), nil
}

// New returns a Head writing to port.
func New(port Port, cfg Config) *Head {
	if cfg.UpdateRate <= 0 {
		cfg.UpdateRate = 50
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Head{
		port:     port,
		limits:   cfg.Limits,
		limiter:  rate.NewLimiter(rate.Limit(cfg.UpdateRate), 1),
		now:      cfg.Now,
		rotation: retarget.Identity,
	}
}

// LocalRotation returns the last rotation set, before clamping.
func (h *Head) LocalRotation() quat.Number {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rotation
}

// SetLocalRotation sends q to the controller unless the update rate has been
// reached or the pose is unchanged at the controller's resolution.
func (h *Head) SetLocalRotation(q quat.Number) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotation = q
	if h.closed {
		return
	}

	line := FormatPose(h.Clamp(retarget.QuatToEuler(q)))
	if line == h.lastLine {
		return
	}
	if !h.limiter.AllowN(h.now(), 1) {
		h.skipped++
		return
	}
	if _, err := io.WriteString(h.port, line); err != nil {
		h.failures++
		if h.failures == 1 || h.failures%100 == 0 {
			monitoring.Logf("[servo] write failed (%d failures): %v", h.failures, err)
		}
		return
	}
	h.lastLine = line
	h.writes++
}

// Clamp limits e to the configured range.
func (h *Head) Clamp(e retarget.Euler) retarget.Euler {
	return retarget.Euler{
		Pitch: clampAxis(e.Pitch, h.limits.Pitch),
		Yaw:   clampAxis(e.Yaw, h.limits.Yaw),
		Roll:  clampAxis(e.Roll, h.limits.Roll),
	}
}

// Stats returns lines written, updates skipped by the rate limit and failed
// writes.
func (h *Head) Stats() (writes, skipped, failures int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes, h.skipped, h.failures
}

// Close centres the head and closes the port.
func (h *Head) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	io.WriteString(h.port, FormatPose(retarget.Euler{}))
	return h.port.Close()
}

// FormatPose renders e as one controller line.
func FormatPose(e retarget.Euler) string {
	return fmt.Sprintf("P%.1f Y%.1f R%.1f\n", zero(e.Pitch), zero(e.Yaw), zero(e.Roll))
}

func clampAxis(v, limit float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if limit <= 0 {
		return v
	}
	return math.Max(-limit, math.Min(limit, v))
}

// zero turns -0.0x into 0 so it does not print as "-0.0".
func zero(v float64) float64 {
	if math.Abs(v) < 0.05 {
		return 0
	}
	return v
}
