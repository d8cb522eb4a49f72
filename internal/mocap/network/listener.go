// Package network receives capture datagrams over UDP and hands them to the
// animator's message queue.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/monitoring"
)

const (
	readDeadline    = 100 * time.Millisecond
	maxDatagramSize = 65507
	faultBackoff    = 10 * time.Millisecond
)

// ErrNotRunning is returned by Receiver.Stop when no connection is running.
var ErrNotRunning = errors.New("receiver not running")

// BindError reports that the receive socket could not be resolved or bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind UDP %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// MessageSink accepts messages for the consumer. Push must not block.
// *dispatch.Queue[protocol.RawMessage] satisfies it.
type MessageSink interface {
	Push(msg protocol.RawMessage)
}

// Tap observes every accepted message after it was queued. Tap must not block.
type Tap interface {
	Tap(msg protocol.RawMessage)
}

// PacketStatsInterface collects per-interval packet counters.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddAccepted()
	AddFiltered()
	AddInvalid()
	AddDropped()
	LogStats()
}

type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddAccepted()  {}
func (noopStats) AddFiltered()  {}
func (noopStats) AddInvalid()   {}
func (noopStats) AddDropped()   {}
func (noopStats) LogStats()     {}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// BindAddress is the local address to bind; empty binds all interfaces.
	BindAddress string
	// Port 0 binds an ephemeral port.
	Port int
	// SenderFilter, when set, drops datagrams whose sender IP differs.
	SenderFilter string
	RcvBuf       int
	LogInterval  time.Duration

	Sink    MessageSink
	Taps    []Tap
	Stats   PacketStatsInterface
	Metrics monitoring.Recorder
	Sockets UDPSocketFactory
	Now     func() time.Time
}

// Receiver owns at most one running Connection.
type Receiver struct {
	cfg    ReceiverConfig
	filter string
	warn   *Throttle

	mu   sync.Mutex
	conn *Connection
}

// NewReceiver returns a Receiver; nothing is bound until Start.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Stats == nil {
		cfg.Stats = noopStats{}
	}
	cfg.Metrics = monitoring.OrNoop(cfg.Metrics)
	if cfg.Sockets == nil {
		cfg.Sockets = RealUDPSocketFactory{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.Sink == nil {
		cfg.Sink = discardSink{}
	}
	return &Receiver{
		cfg:    cfg,
		filter: NormalizeFilter(cfg.SenderFilter),
		warn:   NewThrottle(10*time.Second, 1),
	}
}

type discardSink struct{}

func (discardSink) Push(protocol.RawMessage) {}

// NormalizeFilter returns the canonical form of a sender filter address, so
// that "::ffff:10.0.0.5" matches senders reported as "10.0.0.5".
func NormalizeFilter(f string) string {
	if ip := net.ParseIP(f); ip != nil {
		return ip.String()
	}
	return f
}

// Start binds the socket and starts the receive loop. If a Connection is
// already running it is returned unchanged. Bind failures are returned as
// *BindError and leave the Receiver ready for another attempt.
func (r *Receiver) Start(ctx context.Context) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && r.conn.Running() {
		return r.conn, nil
	}

	address := net.JoinHostPort(r.cfg.BindAddress, strconv.Itoa(r.cfg.Port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, &BindError{Addr: address, Err: err}
	}
	sock, err := r.cfg.Sockets.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, &BindError{Addr: address, Err: err}
	}

	if r.cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(r.cfg.RcvBuf); err != nil {
			monitoring.Logf("[UDP] warning: failed to set receive buffer to %d: %v", r.cfg.RcvBuf, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		Port:   r.cfg.Port,
		Filter: r.filter,
		r:      r,
		sock:   sock,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if la, ok := sock.LocalAddr().(*net.UDPAddr); ok && la != nil {
		c.Port = la.Port
	}
	c.running.Store(true)
	r.conn = c

	go c.loop(loopCtx)
	go c.logStats(loopCtx)

	if r.filter != "" {
		monitoring.Logf("[UDP] listening on %s, accepting only %s", sock.LocalAddr(), r.filter)
	} else {
		monitoring.Logf("[UDP] listening on %s", sock.LocalAddr())
	}
	return c, nil
}

// Connection returns the most recently started Connection, or nil.
func (r *Receiver) Connection() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Stop stops the running Connection.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	c := r.conn
	r.mu.Unlock()
	if c == nil || !c.Running() {
		return ErrNotRunning
	}
	return c.Stop()
}

// Connection is one bound socket and its receive loop.
type Connection struct {
	Port   int
	Filter string

	r      *Receiver
	sock   UDPSocket
	cancel context.CancelFunc
	done   chan struct{}

	running   atomic.Bool
	connected atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Running reports whether the receive loop is still active.
func (c *Connection) Running() bool { return c.running.Load() }

// Connected reports whether this Connection has accepted a message.
func (c *Connection) Connected() bool { return c.connected.Load() }

// LocalAddr returns the bound socket address.
func (c *Connection) LocalAddr() net.Addr { return c.sock.LocalAddr() }

// Done is closed when the receive loop has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Stop cancels the receive loop, closes the socket and waits for the loop to
// exit. It is safe to call more than once.
func (c *Connection) Stop() error {
	c.cancel()
	c.closeSocket()
	<-c.done
	return c.closeErr
}

func (c *Connection) closeSocket() {
	c.closeOnce.Do(func() {
		if err := c.sock.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = fmt.Errorf("close UDP socket: %w", err)
		}
	})
}

func (c *Connection) loop(ctx context.Context) {
	defer func() {
		c.closeSocket()
		c.running.Store(false)
		c.r.cfg.Metrics.SetConnected(false)
		close(c.done)
		monitoring.Logf("[UDP] receiver on port %d stopped", c.Port)
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(readDeadline))

		n, from, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			c.r.cfg.Metrics.ReadFault()
			if c.r.warn.Allow("read-fault", c.r.cfg.Now()) {
				monitoring.Logf("[UDP] read error: %v", err)
			}
			time.Sleep(faultBackoff)
			continue
		}
		c.handle(buf[:n], from)
	}
}

func (c *Connection) handle(data []byte, from *net.UDPAddr) {
	cfg := &c.r.cfg
	now := cfg.Now()
	cfg.Stats.AddPacket(len(data))
	cfg.Metrics.DatagramReceived(len(data))

	if !utf8.Valid(data) {
		cfg.Stats.AddInvalid()
		cfg.Metrics.DatagramInvalid()
		return
	}

	var sender string
	if from != nil {
		sender = from.IP.String()
	}
	if c.Filter != "" && sender != c.Filter {
		cfg.Stats.AddFiltered()
		cfg.Metrics.DatagramFiltered()
		if c.r.warn.Allow(sender, now) {
			monitoring.Logf("[UDP] ignoring datagram from %s, filter is %s", sender, c.Filter)
		}
		return
	}

	msg := protocol.RawMessage{Text: string(data), Sender: sender, Received: now}
	cfg.Sink.Push(msg)
	for _, t := range cfg.Taps {
		t.Tap(msg)
	}

	cfg.Stats.AddAccepted()
	cfg.Metrics.DatagramAccepted()
	if !c.connected.Swap(true) {
		cfg.Metrics.SetConnected(true)
		monitoring.Logf("[UDP] receiving from %s", sender)
	}
}

func (c *Connection) logStats(ctx context.Context) {
	ticker := time.NewTicker(c.r.cfg.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.r.cfg.Stats.LogStats()
		}
	}
}
