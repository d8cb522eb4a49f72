package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/facecap/internal/mocap/network"
	"github.com/banshee-data/facecap/internal/mocap/protocol"
)

// pcapng section header block type.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PCAPFile replays the capture at path. See PCAP.
func PCAPFile(ctx context.Context, path string, port int, sink network.MessageSink, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return PCAP(ctx, f, port, sink, opts)
}

// PCAP replays UDP datagrams sent to port from a pcap or pcapng stream,
// pacing them by capture timestamp. Port 0 accepts every UDP datagram.
// Payloads that are not valid UTF-8 are skipped and empty payloads are
// delivered as "", as the live receiver does.
func PCAP(ctx context.Context, r io.Reader, port int, sink network.MessageSink, opts Options) (Result, error) {
	pr, err := openCapture(r)
	if err != nil {
		return Result{}, err
	}
	p := newPlayer(sink, opts)
	udpSeen := 0
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// A truncated final record ends the capture.
			break
		}
		if err != nil {
			return p.res, fmt.Errorf("read capture: %w", err)
		}
		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		udpSeen++
		if !utf8.Valid(udp.Payload) {
			p.skip()
			continue
		}
		msg := protocol.RawMessage{
			Text:     string(udp.Payload),
			Sender:   sourceIP(pkt),
			Received: ci.Timestamp,
		}
		if err := p.play(ctx, msg); err != nil {
			return p.res, err
		}
	}
	if udpSeen == 0 {
		return p.res, fmt.Errorf("%w on udp port %d", ErrNoPayload, port)
	}
	p.finish(fmt.Sprintf("capture (udp port %d)", port))
	return p.res, nil
}

func openCapture(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return pr, nil
}

func sourceIP(pkt gopacket.Packet) string {
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		return ip.SrcIP.String()
	case *layers.IPv6:
		return ip.SrcIP.String()
	}
	return ""
}
