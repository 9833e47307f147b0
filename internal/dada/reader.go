package dada

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/openpst/pstbench/internal/fsutil"
)

// FileReader gives access to the header and payload of one artefact file.
type FileReader struct {
	Path   string
	Header *Header

	payload []byte
}

// OpenFile reads an artefact file from the filesystem.
func OpenFile(fsys fsutil.FileSystem, path string) (*FileReader, error) {
	raw, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open artefact %s: %w", path, err)
	}
	if len(raw) < DefaultHeaderSize {
		return nil, fmt.Errorf("artefact %s is %d bytes, shorter than a header", path, len(raw))
	}
	hdr, err := ParseHeader(raw[:DefaultHeaderSize])
	if err != nil {
		return nil, fmt.Errorf("artefact %s: %w", path, err)
	}
	hdrSize := hdr.HeaderSize()
	if hdrSize > len(raw) {
		return nil, fmt.Errorf("artefact %s declares header of %d bytes but file is %d", path, hdrSize, len(raw))
	}
	if hdrSize > DefaultHeaderSize {
		// Larger headers carry extra keys beyond the first block.
		if hdr, err = ParseHeader(raw[:hdrSize]); err != nil {
			return nil, fmt.Errorf("artefact %s: %w", path, err)
		}
	}
	return &FileReader{Path: path, Header: hdr, payload: raw[hdrSize:]}, nil
}

// Data returns the payload after the header.
func (r *FileReader) Data() []byte { return r.payload }

// DataSize returns the payload size in bytes.
func (r *FileReader) DataSize() int64 { return int64(len(r.payload)) }

// FileSize returns the total file size, header included.
func (r *FileReader) FileSize() int64 {
	return int64(r.Header.HeaderSize()) + r.DataSize()
}

// ScanID returns the scan the file belongs to.
func (r *FileReader) ScanID() uint64 { return uint64(r.Header.IntOr(KeyScanID, 0)) }

// ObsOffset returns the byte offset of this file's payload within the scan.
func (r *FileReader) ObsOffset() int64 { return r.Header.IntOr(KeyObsOffset, 0) }

// FileNumber returns the sequence number of this file within the scan.
func (r *FileReader) FileNumber() int { return int(r.Header.IntOr(KeyFileNumber, 0)) }

// ComplexSamples decodes the payload of a data file into the complex time
// series of one channel and polarization. Samples are stored time, channel,
// polarization ordered with little-endian signed integers of NBIT bits per
// dimension.
func (r *FileReader) ComplexSamples(channel, pol int) ([]complex128, error) {
	nchan := int(r.Header.IntOr(KeyNchan, 0))
	npol := int(r.Header.IntOr(KeyNpol, 0))
	nbit := int(r.Header.IntOr(KeyNbit, 0))
	if nchan <= 0 || npol <= 0 {
		return nil, fmt.Errorf("artefact %s header lacks NCHAN/NPOL", r.Path)
	}
	if channel < 0 || channel >= nchan || pol < 0 || pol >= npol {
		return nil, fmt.Errorf("channel %d pol %d out of range for %dx%d", channel, pol, nchan, npol)
	}

	bytesPerDim := nbit / 8
	switch nbit {
	case 8, 16:
	default:
		return nil, fmt.Errorf("unsupported NBIT %d", nbit)
	}

	sampleStride := nchan * npol * 2 * bytesPerDim
	offset := (channel*npol + pol) * 2 * bytesPerDim
	nsamp := len(r.payload) / sampleStride

	out := make([]complex128, 0, nsamp)
	for i := 0; i < nsamp; i++ {
		base := i*sampleStride + offset
		var re, im float64
		if nbit == 8 {
			re = float64(int8(r.payload[base]))
			im = float64(int8(r.payload[base+1]))
		} else {
			re = float64(int16(binary.LittleEndian.Uint16(r.payload[base:])))
			im = float64(int16(binary.LittleEndian.Uint16(r.payload[base+2:])))
		}
		out = append(out, complex(re, im))
	}
	return out, nil
}

// WeightsFileReader decodes a weights artefact: per ring-buffer packet, one
// float32 scale factor for every packet's worth of channels followed by the
// 16-bit channel weights. A NaN scale marks the packet as dropped.
type WeightsFileReader struct {
	*FileReader

	Scales  []float32
	Weights []uint16
}

// OpenWeightsFile reads and unpacks a weights artefact.
func OpenWeightsFile(fsys fsutil.FileSystem, path string) (*WeightsFileReader, error) {
	fr, err := OpenFile(fsys, path)
	if err != nil {
		return nil, err
	}
	w := &WeightsFileReader{FileReader: fr}
	if err := w.unpack(); err != nil {
		return nil, fmt.Errorf("artefact %s: %w", path, err)
	}
	return w, nil
}

func (w *WeightsFileReader) unpack() error {
	nchan := int(w.Header.IntOr(KeyNchan, 0))
	packetNchan := int(w.Header.IntOr(KeyPacketNchan, 0))
	if nchan <= 0 || packetNchan <= 0 || nchan%packetNchan != 0 {
		return fmt.Errorf("invalid NCHAN %d / PACKET_NCHAN %d", nchan, packetNchan)
	}

	scalesPerBlock := nchan / packetNchan
	scaleBytes := scalesPerBlock * 4
	weightsBytes := nchan * 2 // 16-bit weights, one per channel
	blockSize := scaleBytes + weightsBytes
	if len(w.payload)%blockSize != 0 {
		return fmt.Errorf("payload of %d bytes is not a whole number of %d byte weight blocks",
			len(w.payload), blockSize)
	}

	blocks := len(w.payload) / blockSize
	w.Scales = make([]float32, 0, blocks*scalesPerBlock)
	w.Weights = make([]uint16, 0, blocks*nchan)
	for b := 0; b < blocks; b++ {
		base := b * blockSize
		for s := 0; s < scalesPerBlock; s++ {
			bits := binary.LittleEndian.Uint32(w.payload[base+s*4:])
			w.Scales = append(w.Scales, math.Float32frombits(bits))
		}
		for c := 0; c < nchan; c++ {
			w.Weights = append(w.Weights, binary.LittleEndian.Uint16(w.payload[base+scaleBytes+c*2:]))
		}
	}
	return nil
}

// DroppedPackets returns the indices, within this file, of packets whose
// scale factor is NaN. firstPacket offsets the indices for files later in
// the scan.
func (w *WeightsFileReader) DroppedPackets(firstPacket int) []int {
	var dropped []int
	for i, s := range w.Scales {
		if math.IsNaN(float64(s)) {
			dropped = append(dropped, firstPacket+i)
		}
	}
	return dropped
}
