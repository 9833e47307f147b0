package udpgen

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PacketMagic identifies a beam data packet.
const PacketMagic uint32 = 0x50535442 // "PSTB"

// HeaderSize is the fixed size of the packet header in bytes.
const HeaderSize = 32

// PacketHeader is the fixed header at the start of every beam data packet.
// All fields are big-endian on the wire.
type PacketHeader struct {
	Magic        uint32
	Version      uint8
	Nbit         uint8 // per dimension
	Npol         uint8
	BeamID       uint8
	ScanID       uint64
	Sequence     uint64
	FirstChannel uint32
	Nchan        uint16
	Nsamp        uint16
}

// PacketVersion is the current wire format version.
const PacketVersion = 1

// PayloadSize returns the byte size of the sample payload the header
// describes: complex samples at Nbit bits per dimension.
func (h PacketHeader) PayloadSize() int {
	return int(h.Nsamp) * int(h.Nchan) * int(h.Npol) * 2 * int(h.Nbit) / 8
}

// WeightsSize returns the byte size of the weights block between header and
// samples: one float32 scale factor plus a 16-bit weight per channel.
func (h PacketHeader) WeightsSize() int {
	return 4 + int(h.Nchan)*2
}

// PacketWeights is the relative weighting of a packet's samples. The scale
// covers the whole packet; Channels holds one weight per channel. A NaN
// scale marks a packet whose data must not be trusted, the same convention
// the recorded weights artefacts use for dropped packets.
type PacketWeights struct {
	Scale    float32
	Channels []uint16
}

// UnityWeights returns the weights a healthy packet carries: scale 1 and
// weight 1 in every channel.
func UnityWeights(nchan int) PacketWeights {
	w := PacketWeights{Scale: 1, Channels: make([]uint16, nchan)}
	for i := range w.Channels {
		w.Channels[i] = 1
	}
	return w
}

// EncodePacket serializes a header, weights block and 16-bit sample payload
// into a datagram. Samples are ordered time, channel, polarization with
// real before imaginary.
func EncodePacket(h PacketHeader, w PacketWeights, samples []int16) ([]byte, error) {
	if h.Nbit != 16 {
		return nil, fmt.Errorf("unsupported packet NBIT %d", h.Nbit)
	}
	if len(w.Channels) != int(h.Nchan) {
		return nil, fmt.Errorf("expected %d channel weights, got %d", h.Nchan, len(w.Channels))
	}
	if want := h.PayloadSize() / 2; len(samples) != want {
		return nil, fmt.Errorf("expected %d samples for packet geometry, got %d", want, len(samples))
	}

	buf := make([]byte, HeaderSize+h.WeightsSize()+h.PayloadSize())
	binary.BigEndian.PutUint32(buf[0:], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Nbit
	buf[6] = h.Npol
	buf[7] = h.BeamID
	binary.BigEndian.PutUint64(buf[8:], h.ScanID)
	binary.BigEndian.PutUint64(buf[16:], h.Sequence)
	binary.BigEndian.PutUint32(buf[24:], h.FirstChannel)
	binary.BigEndian.PutUint16(buf[28:], h.Nchan)
	binary.BigEndian.PutUint16(buf[30:], h.Nsamp)

	binary.BigEndian.PutUint32(buf[HeaderSize:], math.Float32bits(w.Scale))
	for i, cw := range w.Channels {
		binary.BigEndian.PutUint16(buf[HeaderSize+4+i*2:], cw)
	}

	base := HeaderSize + h.WeightsSize()
	for i, s := range samples {
		binary.BigEndian.PutUint16(buf[base+i*2:], uint16(s))
	}
	return buf, nil
}

// DecodePacket parses a datagram into its header, weights block and 16-bit
// samples.
func DecodePacket(datagram []byte) (PacketHeader, PacketWeights, []int16, error) {
	if len(datagram) < HeaderSize {
		return PacketHeader{}, PacketWeights{}, nil, fmt.Errorf("datagram of %d bytes is shorter than a packet header", len(datagram))
	}
	h := PacketHeader{
		Magic:        binary.BigEndian.Uint32(datagram[0:]),
		Version:      datagram[4],
		Nbit:         datagram[5],
		Npol:         datagram[6],
		BeamID:       datagram[7],
		ScanID:       binary.BigEndian.Uint64(datagram[8:]),
		Sequence:     binary.BigEndian.Uint64(datagram[16:]),
		FirstChannel: binary.BigEndian.Uint32(datagram[24:]),
		Nchan:        binary.BigEndian.Uint16(datagram[28:]),
		Nsamp:        binary.BigEndian.Uint16(datagram[30:]),
	}
	if h.Magic != PacketMagic {
		return PacketHeader{}, PacketWeights{}, nil, fmt.Errorf("bad packet magic %#x", h.Magic)
	}
	if h.Nbit != 16 {
		return PacketHeader{}, PacketWeights{}, nil, fmt.Errorf("unsupported packet NBIT %d", h.Nbit)
	}
	if len(datagram) != HeaderSize+h.WeightsSize()+h.PayloadSize() {
		return PacketHeader{}, PacketWeights{}, nil, fmt.Errorf("datagram of %d bytes does not match declared weights of %d and payload of %d",
			len(datagram), h.WeightsSize(), h.PayloadSize())
	}

	w := PacketWeights{
		Scale:    math.Float32frombits(binary.BigEndian.Uint32(datagram[HeaderSize:])),
		Channels: make([]uint16, h.Nchan),
	}
	for i := range w.Channels {
		w.Channels[i] = binary.BigEndian.Uint16(datagram[HeaderSize+4+i*2:])
	}

	base := HeaderSize + h.WeightsSize()
	samples := make([]int16, h.PayloadSize()/2)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(datagram[base+i*2:]))
	}
	return h, w, samples, nil
}
