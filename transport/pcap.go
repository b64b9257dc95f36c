package transport

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/opd-ai/meshvoice/clock"
	"github.com/sirupsen/logrus"
)

const pcapSnapLen = 65536

// PcapTap wraps a Transport and records every datagram it sends or
// receives as a raw IPv4/UDP packet in pcap format.
type PcapTap struct {
	inner  Transport
	local  *net.UDPAddr
	remote *net.UDPAddr
	clk    clock.TimeProvider

	mu      sync.Mutex
	writer  *pcapgo.Writer
	closer  io.Closer
	records uint64
	failed  bool
}

// NewPcapTap writes a pcap header to w and returns a tap around inner.
// local and remote label the synthetic IP/UDP headers; nil values use
// 127.0.0.1 with port 0.
func NewPcapTap(inner Transport, w io.Writer, local, remote *net.UDPAddr) (*PcapTap, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(pcapSnapLen, layers.LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}

	loopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
	if local == nil {
		local = loopback
	}
	if remote == nil {
		remote = loopback
	}

	return &PcapTap{
		inner:  inner,
		local:  local,
		remote: remote,
		clk:    clock.Default(),
		writer: pw,
	}, nil
}

// OpenPcapTap creates path and records into it. Close closes the file.
func OpenPcapTap(inner Transport, path string, local, remote *net.UDPAddr) (*PcapTap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap %q: %w", path, err)
	}
	tap, err := NewPcapTap(inner, f, local, remote)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	tap.closer = f
	return tap, nil
}

// Send implements Transport.
func (p *PcapTap) Send(datagram []byte) error {
	p.record(p.local, p.remote, datagram)
	return p.inner.Send(datagram)
}

// OnReceive implements Transport.
func (p *PcapTap) OnReceive(h Handler) {
	if h == nil {
		p.inner.OnReceive(nil)
		return
	}
	p.inner.OnReceive(func(datagram []byte) {
		p.record(p.remote, p.local, datagram)
		h(datagram)
	})
}

// Records returns how many packets have been written.
func (p *PcapTap) Records() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records
}

// Close stops recording and closes the underlying file, if any. The
// wrapped transport is left alone.
func (p *PcapTap) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writer = nil
	if p.closer != nil {
		err := p.closer.Close()
		p.closer = nil
		return err
	}
	return nil
}

func (p *PcapTap) record(src, dst *net.UDPAddr, payload []byte) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TOS:      DSCPExpeditedForwarding << 2,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.IP.To4(),
		DstIP:    dst.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		p.logFailure(err)
		return
	}
	data := buf.Bytes()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return
	}
	ci := gopacket.CaptureInfo{Timestamp: p.clk.Now(), CaptureLength: len(data), Length: len(data)}
	if err := p.writer.WritePacket(ci, data); err != nil {
		if !p.failed {
			p.failed = true
			p.logFailure(err)
		}
		return
	}
	p.records++
}

func (p *PcapTap) logFailure(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "PcapTap.record",
		"error":    err.Error(),
	}).Warn("Failed to record datagram")
}
