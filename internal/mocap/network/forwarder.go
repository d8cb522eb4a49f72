package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/monitoring"
)

// DropCounter is told about every datagram the forwarder could not queue.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder relays accepted datagrams to another UDP address without
// blocking the receive loop. When its buffer is full the datagram is dropped.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       DropCounter
	metrics     monitoring.Recorder
	logInterval time.Duration
	address     string

	closeOnce sync.Once
	done      chan struct{}
}

// NewPacketForwarder dials addr:port. stats and metrics may be nil.
func NewPacketForwarder(addr string, port int, stats DropCounter, metrics monitoring.Recorder, logInterval time.Duration) (*PacketForwarder, error) {
	address := net.JoinHostPort(addr, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve relay address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial relay address: %w", err)
	}
	return newPacketForwarder(conn, address, stats, metrics, logInterval), nil
}

func newPacketForwarder(conn net.Conn, address string, stats DropCounter, metrics monitoring.Recorder, logInterval time.Duration) *PacketForwarder {
	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		metrics:     monitoring.OrNoop(metrics),
		logInterval: logInterval,
		address:     address,
		done:        make(chan struct{}),
	}
}

// Start runs the write loop until ctx is cancelled or Close is called. Write
// failures are counted and logged once per interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 && lastErr != nil {
					monitoring.Logf("[relay] %d datagrams failed to send to %s (latest: %v)", failed, f.address, lastErr)
					failed = 0
					lastErr = nil
				}
			}
		}
	}()
	monitoring.Logf("[relay] forwarding datagrams to %s", f.address)
}

// ForwardAsync copies packet and queues it for sending.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	p := make([]byte, len(packet))
	copy(p, packet)
	select {
	case f.channel <- p:
	default:
		f.stats.AddDropped()
		f.metrics.RelayDropped()
	}
}

// Tap forwards an accepted message.
func (f *PacketForwarder) Tap(msg protocol.RawMessage) {
	f.ForwardAsync([]byte(msg.Text))
}

// Address returns the relay destination.
func (f *PacketForwarder) Address() string { return f.address }

// Close stops the write loop and closes the connection.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
