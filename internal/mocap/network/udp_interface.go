package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the part of *net.UDPConn the receive loop uses.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates sockets for a Receiver.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory opens real sockets with net.ListenUDP.
type RealUDPSocketFactory struct{}

// ListenUDP opens a UDP socket bound to laddr.
func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPPacket is one datagram served by MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket serves queued packets and then behaves like an idle socket:
// reads time out until more packets are queued or the socket is closed.
type MockUDPSocket struct {
	mu                 sync.Mutex
	packets            []MockUDPPacket
	readErrs           []error
	closed             bool
	closeCalls         int
	readBufferSize     int
	setReadBufferError error
	localAddr          *net.UDPAddr
}

// NewMockUDPSocket returns a socket that will serve packets in order.
func NewMockUDPSocket(packets ...MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		packets:   packets,
		localAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 49983},
	}
}

// Queue appends packets to be served by later reads.
func (m *MockUDPSocket) Queue(packets ...MockUDPPacket) {
	m.mu.Lock()
	m.packets = append(m.packets, packets...)
	m.mu.Unlock()
}

// FailNextRead makes the next read return err before any queued packet.
func (m *MockUDPSocket) FailNextRead(err error) {
	m.mu.Lock()
	m.readErrs = append(m.readErrs, err)
	m.mu.Unlock()
}

// FailSetReadBuffer makes SetReadBuffer return err.
func (m *MockUDPSocket) FailSetReadBuffer(err error) {
	m.mu.Lock()
	m.setReadBufferError = err
	m.mu.Unlock()
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		m.mu.Unlock()
		return 0, nil, err
	}
	if len(m.packets) == 0 {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.packets[0]
	m.packets = m.packets[1:]
	m.mu.Unlock()
	return copy(b, pkt.Data), pkt.Addr, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setReadBufferError != nil {
		return m.setReadBufferError
	}
	m.readBufferSize = bytes
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(time.Time) error { return nil }

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	if m.closed {
		return net.ErrClosed
	}
	m.closed = true
	return nil
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.localAddr }

// CloseCalls returns how many times Close was called.
func (m *MockUDPSocket) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

// ReadBufferSize returns the last size passed to SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

// Pending returns the number of packets not yet read.
func (m *MockUDPSocket) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.packets)
}

// MockUDPSocketFactory hands out a fixed socket, or fails with Err.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Err    error

	mu    sync.Mutex
	addrs []*net.UDPAddr
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	f.addrs = append(f.addrs, laddr)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Socket, nil
}

// ListenAddrs returns every address ListenUDP was called with.
func (f *MockUDPSocketFactory) ListenAddrs() []*net.UDPAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*net.UDPAddr(nil), f.addrs...)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
