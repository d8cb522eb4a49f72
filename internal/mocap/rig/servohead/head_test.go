package servohead

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/monitoring"
)

type fakePort struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.buf.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := strings.TrimSuffix(p.buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newHead(t *testing.T) (*Head, *fakePort, *stepClock) {
	t.Helper()
	port := &fakePort{}
	clock := &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(port, Config{UpdateRate: 50, Now: clock.Now}), port, clock
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even parity word", PortOptions{BaudRate: 9600, Parity: " even "}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"odd", PortOptions{Parity: "o", StopBits: 2, DataBits: 7}, PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "O"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode: %v", err)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("one stop bit mapped to %v", mode.StopBits)
	}
	if mode.Parity != serial.NoParity || mode.BaudRate != 115200 || mode.DataBits != 8 {
		t.Errorf("unexpected mode %+v", mode)
	}

	mode, err = PortOptions{StopBits: 2, Parity: "E"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode: %v", err)
	}
	if mode.StopBits != serial.TwoStopBits || mode.Parity != serial.EvenParity {
		t.Errorf("unexpected mode %+v", mode)
	}

	if _, err := (PortOptions{Parity: "x"}).SerialMode(); err == nil {
		t.Error("expected an error for bad parity")
	}
}

func TestFormatPose(t *testing.T) {
	tests := []struct {
		in   retarget.Euler
		want string
	}{
		{retarget.Euler{}, "P0.0 Y0.0 R0.0\n"},
		{retarget.Euler{Pitch: 10, Yaw: -20.25, Roll: 5.04}, "P10.0 Y-20.2 R5.0\n"},
		{retarget.Euler{Pitch: -0.01}, "P0.0 Y0.0 R0.0\n"},
	}
	for _, tt := range tests {
		if got := FormatPose(tt.in); got != tt.want {
			t.Errorf("FormatPose(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHead_WritesClampedPose(t *testing.T) {
	h, port, _ := newHead(t)

	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Pitch: 10, Yaw: 20, Roll: 5}))
	got := port.lines()
	if len(got) != 1 || got[0] != "P10.0 Y20.0 R5.0" {
		t.Fatalf("lines = %q", got)
	}

	clamped := h.Clamp(retarget.Euler{Pitch: 60, Yaw: -120, Roll: 10})
	if clamped != (retarget.Euler{Pitch: 45, Yaw: -90, Roll: 10}) {
		t.Errorf("Clamp = %+v", clamped)
	}
}

func TestHead_RateLimit(t *testing.T) {
	h, port, clock := newHead(t)

	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Yaw: 10}))
	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Yaw: 11})) // same instant
	clock.Advance(25 * time.Millisecond)
	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Yaw: 12}))

	got := port.lines()
	if len(got) != 2 || got[0] != "P0.0 Y10.0 R0.0" || got[1] != "P0.0 Y12.0 R0.0" {
		t.Errorf("lines = %q", got)
	}
	writes, skipped, failures := h.Stats()
	if writes != 2 || skipped != 1 || failures != 0 {
		t.Errorf("Stats() = %d, %d, %d", writes, skipped, failures)
	}

	want := retarget.EulerToQuat(retarget.Euler{Yaw: 12})
	if h.LocalRotation() != want {
		t.Errorf("LocalRotation() = %v, want %v", h.LocalRotation(), want)
	}
}

func TestHead_SkipsUnchangedPose(t *testing.T) {
	h, port, clock := newHead(t)
	q := retarget.EulerToQuat(retarget.Euler{Pitch: 3})
	for i := 0; i < 5; i++ {
		h.SetLocalRotation(q)
		clock.Advance(time.Second)
	}
	if got := port.lines(); len(got) != 1 {
		t.Errorf("expected one line, got %q", got)
	}
}

func TestHead_WriteFailure(t *testing.T) {
	prev := monitoring.SetLogger(nil)
	defer monitoring.SetLogger(prev)

	h, port, clock := newHead(t)
	port.writeErr = errors.New("unplugged")
	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Pitch: 3}))
	_, _, failures := h.Stats()
	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}

	// The pose is retried once the port recovers.
	port.mu.Lock()
	port.writeErr = nil
	port.mu.Unlock()
	clock.Advance(time.Second)
	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Pitch: 3}))
	if got := port.lines(); len(got) != 1 || got[0] != "P3.0 Y0.0 R0.0" {
		t.Errorf("lines = %q", got)
	}
}

func TestHead_CloseCentres(t *testing.T) {
	h, port, clock := newHead(t)
	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Roll: 8}))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	clock.Advance(time.Second)
	h.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Roll: 9}))

	got := port.lines()
	if len(got) != 2 || got[1] != "P0.0 Y0.0 R0.0" {
		t.Errorf("lines = %q", got)
	}
	if !port.closed {
		t.Error("port not closed")
	}
}

func TestNew_Defaults(t *testing.T) {
	h := New(&fakePort{}, Config{})
	if h.limits != DefaultLimits {
		t.Errorf("limits = %+v", h.limits)
	}
	if h.LocalRotation() != retarget.Identity {
		t.Errorf("rotation = %v", h.LocalRotation())
	}
}
