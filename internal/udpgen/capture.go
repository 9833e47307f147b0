package udpgen

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// CaptureWriter records generated datagrams to a pcap stream so a run can be
// inspected offline with standard capture tools. Datagrams are wrapped in
// synthetic Ethernet/IPv4/UDP framing.
type CaptureWriter struct {
	w        *pcapgo.Writer
	srcIP    net.IP
	dstIP    net.IP
	srcPort  layers.UDPPort
	dstPort  layers.UDPPort
	recorded int
}

// NewCaptureWriter writes a pcap header and returns a writer recording
// datagrams between the two endpoints.
func NewCaptureWriter(w io.Writer, srcIP net.IP, srcPort int, dstIP net.IP, dstPort int) (*CaptureWriter, error) {
	const snaplen = 65536
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snaplen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &CaptureWriter{
		w:       pw,
		srcIP:   srcIP.To4(),
		dstIP:   dstIP.To4(),
		srcPort: layers.UDPPort(srcPort),
		dstPort: layers.UDPPort(dstPort),
	}, nil
}

// Record writes one datagram to the capture.
func (c *CaptureWriter) Record(payload []byte, ts time.Time) error {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    c.srcIP,
		DstIP:    c.dstIP,
	}
	udp := layers.UDP{SrcPort: c.srcPort, DstPort: c.dstPort}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize capture frame: %w", err)
	}

	frame := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := c.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write capture frame: %w", err)
	}
	c.recorded++
	return nil
}

// Recorded returns the number of datagrams written.
func (c *CaptureWriter) Recorded() int { return c.recorded }

// CaptureReport summarizes the beam data packets found in a capture.
type CaptureReport struct {
	Packets      int
	Bytes        int
	FirstSeq     uint64
	LastSeq      uint64
	MissingSeqs  []uint64
	OtherScans   int
	NonBeamcount int
}

// VerifyCapture reads a pcap stream and checks the beam data packets of a
// scan for sequence continuity. Packets of other scans are counted but not
// verified.
func VerifyCapture(r io.Reader, scanID uint64) (CaptureReport, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return CaptureReport{}, fmt.Errorf("read capture header: %w", err)
	}

	report := CaptureReport{}
	next := uint64(0)
	first := true
	for {
		data, _, err := pr.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read capture frame: %w", err)
		}

		packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			report.NonBeamcount++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			report.NonBeamcount++
			continue
		}

		hdr, _, _, err := DecodePacket(udp.Payload)
		if err != nil {
			report.NonBeamcount++
			continue
		}
		if hdr.ScanID != scanID {
			report.OtherScans++
			continue
		}

		if first {
			report.FirstSeq = hdr.Sequence
			next = hdr.Sequence
			first = false
		}
		for next < hdr.Sequence {
			report.MissingSeqs = append(report.MissingSeqs, next)
			next++
		}
		next = hdr.Sequence + 1
		report.LastSeq = hdr.Sequence
		report.Packets++
		report.Bytes += len(udp.Payload)
	}
	return report, nil
}
