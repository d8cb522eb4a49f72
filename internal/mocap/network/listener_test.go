package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/banshee-data/facecap/internal/mocap/dispatch"
	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/monitoring"
	"github.com/banshee-data/facecap/internal/testutil"
)

type statsCounts struct {
	packets, accepted, filtered, invalid, drop int
}

type countingStats struct {
	mu sync.Mutex
	statsCounts
}

func (s *countingStats) AddPacket(int) { s.mu.Lock(); s.packets++; s.mu.Unlock() }
func (s *countingStats) AddAccepted()  { s.mu.Lock(); s.accepted++; s.mu.Unlock() }
func (s *countingStats) AddFiltered()  { s.mu.Lock(); s.filtered++; s.mu.Unlock() }
func (s *countingStats) AddInvalid()   { s.mu.Lock(); s.invalid++; s.mu.Unlock() }
func (s *countingStats) AddDropped()   { s.mu.Lock(); s.drop++; s.mu.Unlock() }
func (s *countingStats) LogStats()     {}

func (s *countingStats) snapshot() statsCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsCounts
}

type recordingTap struct {
	mu   sync.Mutex
	msgs []protocol.RawMessage
}

func (r *recordingTap) Tap(m protocol.RawMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recordingTap) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func muteLogs(t *testing.T) {
	prev := monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func drain(q *dispatch.Queue[protocol.RawMessage]) []protocol.RawMessage {
	var out []protocol.RawMessage
	q.Drain(func(m protocol.RawMessage) { out = append(out, m) })
	return out
}

func TestReceiver_AcceptsAndQueuesInOrder(t *testing.T) {
	muteLogs(t)
	sock := NewMockUDPSocket(
		MockUDPPacket{Data: []byte("jawOpen-0.1"), Addr: udpAddr("10.0.0.5", 5000)},
		MockUDPPacket{Data: []byte("jawOpen-0.2"), Addr: udpAddr("10.0.0.5", 5000)},
	)
	q := dispatch.NewQueue[protocol.RawMessage]()
	stats := &countingStats{}
	tap := &recordingTap{}
	r := NewReceiver(ReceiverConfig{
		Port:    protocol.DefaultPort,
		Sink:    q,
		Taps:    []Tap{tap},
		Stats:   stats,
		Sockets: &MockUDPSocketFactory{Socket: sock},
	})

	conn, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Stop()

	testutil.WaitFor(t, "two queued messages", func() bool { return q.Len() == 2 })
	msgs := drain(q)
	if msgs[0].Text != "jawOpen-0.1" || msgs[1].Text != "jawOpen-0.2" {
		t.Errorf("unexpected order: %+v", msgs)
	}
	if msgs[0].Sender != "10.0.0.5" {
		t.Errorf("sender = %q, want 10.0.0.5", msgs[0].Sender)
	}
	if !conn.Connected() {
		t.Error("expected Connected after first accepted message")
	}
	testutil.WaitFor(t, "tap", func() bool { return tap.len() == 2 })
	if s := stats.snapshot(); s.accepted != 2 || s.packets != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestReceiver_SenderFilterDrops(t *testing.T) {
	muteLogs(t)
	sock := NewMockUDPSocket(
		MockUDPPacket{Data: []byte("jawOpen-0.9"), Addr: udpAddr("10.0.0.6", 5000)},
		MockUDPPacket{Data: []byte("jawOpen-0.3"), Addr: udpAddr("10.0.0.5", 5000)},
	)
	q := dispatch.NewQueue[protocol.RawMessage]()
	stats := &countingStats{}
	r := NewReceiver(ReceiverConfig{
		SenderFilter: "10.0.0.5",
		Sink:         q,
		Stats:        stats,
		Sockets:      &MockUDPSocketFactory{Socket: sock},
	})
	conn, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Stop()

	testutil.WaitFor(t, "both datagrams read", func() bool { return stats.snapshot().packets == 2 })
	msgs := drain(q)
	if len(msgs) != 1 || msgs[0].Text != "jawOpen-0.3" {
		t.Fatalf("expected only the allowed sender's message, got %+v", msgs)
	}
	if s := stats.snapshot(); s.filtered != 1 {
		t.Errorf("filtered = %d, want 1", s.filtered)
	}
}

func TestReceiver_InvalidUTF8Dropped(t *testing.T) {
	muteLogs(t)
	sock := NewMockUDPSocket(
		MockUDPPacket{Data: []byte{0xff, 0xfe, 0xfd}, Addr: udpAddr("127.0.0.1", 5000)},
		MockUDPPacket{Data: []byte("mouthFunnel-0.5"), Addr: udpAddr("127.0.0.1", 5000)},
	)
	q := dispatch.NewQueue[protocol.RawMessage]()
	stats := &countingStats{}
	r := NewReceiver(ReceiverConfig{Sink: q, Stats: stats, Sockets: &MockUDPSocketFactory{Socket: sock}})
	conn, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Stop()

	testutil.WaitFor(t, "valid message", func() bool { return q.Len() == 1 })
	if s := stats.snapshot(); s.invalid != 1 {
		t.Errorf("invalid = %d, want 1", s.invalid)
	}
}

func TestReceiver_BindFailure(t *testing.T) {
	muteLogs(t)
	bindErr := &net.OpError{Op: "listen", Net: "udp", Err: syscall.EADDRINUSE}
	factory := &MockUDPSocketFactory{Err: bindErr}
	r := NewReceiver(ReceiverConfig{Port: protocol.DefaultPort, Sockets: factory})

	conn, err := r.Start(context.Background())
	if conn != nil {
		t.Error("expected no connection on bind failure")
	}
	var be *BindError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BindError, got %T: %v", err, err)
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		t.Errorf("BindError should wrap the OS error, got %v", err)
	}
	if be.Addr != ":49983" {
		t.Errorf("Addr = %q", be.Addr)
	}
	if !errors.Is(r.Stop(), ErrNotRunning) {
		t.Error("Stop after failed Start should report ErrNotRunning")
	}

	// The receiver stays usable.
	factory.Err = nil
	factory.Socket = NewMockUDPSocket()
	conn, err = r.Start(context.Background())
	if err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	conn.Stop()
}

func TestReceiver_ResolveFailure(t *testing.T) {
	muteLogs(t)
	r := NewReceiver(ReceiverConfig{Port: 70000, Sockets: &MockUDPSocketFactory{Socket: NewMockUDPSocket()}})
	_, err := r.Start(context.Background())
	var be *BindError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BindError, got %v", err)
	}
}

func TestReceiver_StartTwiceReturnsRunningConnection(t *testing.T) {
	muteLogs(t)
	factory := &MockUDPSocketFactory{Socket: NewMockUDPSocket()}
	r := NewReceiver(ReceiverConfig{Sockets: factory})

	c1, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	c2, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if c1 != c2 {
		t.Error("second Start should return the running connection")
	}
	if n := len(factory.ListenAddrs()); n != 1 {
		t.Errorf("expected one bind, got %d", n)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestConnection_StopClosesOnceAndIsIdempotent(t *testing.T) {
	muteLogs(t)
	sock := NewMockUDPSocket()
	r := NewReceiver(ReceiverConfig{Sockets: &MockUDPSocketFactory{Socket: sock}})
	conn, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := conn.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if err := conn.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if conn.Running() {
		t.Error("connection should not be running after Stop")
	}
	if n := sock.CloseCalls(); n != 1 {
		t.Errorf("socket closed %d times, want 1", n)
	}
}

func TestConnection_ContextCancelStopsLoop(t *testing.T) {
	muteLogs(t)
	sock := NewMockUDPSocket()
	r := NewReceiver(ReceiverConfig{Sockets: &MockUDPSocketFactory{Socket: sock}})
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := r.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancel")
	}
	if sock.CloseCalls() != 1 {
		t.Error("socket should be closed when the loop exits")
	}
}

func TestConnection_TransientReadFaultContinues(t *testing.T) {
	muteLogs(t)
	sock := NewMockUDPSocket()
	sock.FailNextRead(errors.New("connection refused"))
	sock.Queue(MockUDPPacket{Data: []byte("jawOpen-1"), Addr: udpAddr("127.0.0.1", 1)})
	q := dispatch.NewQueue[protocol.RawMessage]()
	r := NewReceiver(ReceiverConfig{Sink: q, Sockets: &MockUDPSocketFactory{Socket: sock}})
	conn, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Stop()

	testutil.WaitFor(t, "message after fault", func() bool { return q.Len() == 1 })
	if !conn.Running() {
		t.Error("read fault should not stop the loop")
	}
}

func TestReceiver_SetsReadBuffer(t *testing.T) {
	muteLogs(t)
	sock := NewMockUDPSocket()
	r := NewReceiver(ReceiverConfig{RcvBuf: 1 << 20, Sockets: &MockUDPSocketFactory{Socket: sock}})
	conn, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Stop()
	if sock.ReadBufferSize() != 1<<20 {
		t.Errorf("read buffer = %d", sock.ReadBufferSize())
	}
}

func TestReceiver_LoopbackSocket(t *testing.T) {
	muteLogs(t)
	q := dispatch.NewQueue[protocol.RawMessage]()
	r := NewReceiver(ReceiverConfig{BindAddress: "127.0.0.1", Port: 0, Sink: q})
	conn, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Stop()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	payload := "head#0,0,0,5,10,0|jawOpen-0.8"
	testutil.WaitFor(t, "loopback datagram", func() bool {
		_, _ = client.Write([]byte(payload))
		return q.Len() > 0
	})
	msgs := drain(q)
	if msgs[0].Text != payload || msgs[0].Sender != "127.0.0.1" {
		t.Errorf("unexpected message %+v", msgs[0])
	}
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(time.Second, 1)
	now := time.Unix(1000, 0)
	if !th.Allow("a", now) {
		t.Fatal("first event should pass")
	}
	if th.Allow("a", now.Add(100*time.Millisecond)) {
		t.Error("second event within interval should be throttled")
	}
	if !th.Allow("b", now) {
		t.Error("keys are throttled independently")
	}
	if !th.Allow("a", now.Add(1100*time.Millisecond)) {
		t.Error("event after interval should pass")
	}

	var nilThrottle *Throttle
	if !nilThrottle.Allow("x", now) {
		t.Error("nil throttle allows everything")
	}
}

func TestThrottle_EvictsIdleKeys(t *testing.T) {
	th := NewThrottle(time.Second, 1)
	start := time.Unix(0, 0)
	th.Allow("old", start)
	later := start.Add(time.Hour)
	for i := 0; i < 256; i++ {
		th.Allow("new", later)
	}
	if th.Len() != 1 {
		t.Errorf("expected idle key evicted, tracking %d keys", th.Len())
	}
}
