// Package dada reads and writes the recorded artefact files the disk writer
// produces for a scan, and verifies a scan's recording against its derived
// resources: file layout, contiguity, dropped packets and signal content.
//
// Each file starts with a fixed-size ASCII header of "KEY value" lines
// padded with NUL bytes, followed by the raw payload.
package dada

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultHeaderSize is the header size written and assumed when a header
// does not carry its own HDR_SIZE.
const DefaultHeaderSize = 4096

// SecondsPerFile is the nominal amount of data recorded per file; the disk
// writer rounds the file size up to a whole number of ring buffers.
const SecondsPerFile = 10

// Well-known header keys.
const (
	KeyHdrSize        = "HDR_SIZE"
	KeyHdrVersion     = "HDR_VERSION"
	KeyScanID         = "SCAN_ID"
	KeyEbID           = "EB_ID"
	KeyObsOffset      = "OBS_OFFSET"
	KeyFileNumber     = "FILE_NUMBER"
	KeyFileSize       = "FILE_SIZE"
	KeyResolution     = "RESOLUTION"
	KeyNchan          = "NCHAN"
	KeyNpol           = "NPOL"
	KeyNbit           = "NBIT"
	KeyNdim           = "NDIM"
	KeyTsamp          = "TSAMP"
	KeyBytesPerSecond = "BYTES_PER_SECOND"
	KeyUDPFormat      = "UDP_FORMAT"
	KeyPacketNchan    = "PACKET_NCHAN"
	KeyPacketNsamp    = "PACKET_NSAMP"
	KeyUTCStart       = "UTC_START"
	KeySource         = "SOURCE"
)

// Header is the key/value metadata block at the start of an artefact file.
type Header struct {
	m map[string]string
}

// NewHeader creates an empty header.
func NewHeader() *Header {
	return &Header{m: map[string]string{}}
}

// ParseHeader decodes a header block. Lines are "KEY value"; blank lines,
// comments starting with # and NUL padding are ignored.
func ParseHeader(block []byte) (*Header, error) {
	h := NewHeader()
	text := strings.TrimRight(string(block), "\x00")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		h.m[fields[0]] = strings.Join(fields[1:], " ")
	}
	if len(h.m) == 0 {
		return nil, fmt.Errorf("empty header")
	}
	return h, nil
}

// Get returns the raw value for a key.
func (h *Header) Get(key string) (string, bool) {
	v, ok := h.m[key]
	return v, ok
}

// Set stores a value for a key.
func (h *Header) Set(key, value string) {
	h.m[key] = value
}

// SetInt stores an integer value for a key.
func (h *Header) SetInt(key string, value int64) {
	h.m[key] = strconv.FormatInt(value, 10)
}

// SetFloat stores a float value for a key.
func (h *Header) SetFloat(key string, value float64) {
	h.m[key] = strconv.FormatFloat(value, 'f', -1, 64)
}

// Int returns the value for a key parsed as an integer.
func (h *Header) Int(key string) (int64, error) {
	v, ok := h.m[key]
	if !ok {
		return 0, fmt.Errorf("header missing key %s", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("header key %s: %w", key, err)
	}
	return n, nil
}

// IntOr returns the value for a key parsed as an integer, or the fallback if
// the key is absent or malformed.
func (h *Header) IntOr(key string, fallback int64) int64 {
	n, err := h.Int(key)
	if err != nil {
		return fallback
	}
	return n
}

// Float returns the value for a key parsed as a float.
func (h *Header) Float(key string) (float64, error) {
	v, ok := h.m[key]
	if !ok {
		return 0, fmt.Errorf("header missing key %s", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("header key %s: %w", key, err)
	}
	return f, nil
}

// HeaderSize returns the declared header size, or DefaultHeaderSize when
// none is declared.
func (h *Header) HeaderSize() int {
	return int(h.IntOr(KeyHdrSize, DefaultHeaderSize))
}

// Encode renders the header as NUL-padded ASCII of HeaderSize bytes. Keys
// are emitted in sorted order so encoded headers are stable.
func (h *Header) Encode() ([]byte, error) {
	size := h.HeaderSize()
	keys := make([]string, 0, len(h.m))
	for k := range h.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%-19s %s\n", k, h.m[k])
	}
	if buf.Len() > size {
		return nil, fmt.Errorf("header of %d bytes exceeds declared size %d", buf.Len(), size)
	}
	out := make([]byte, size)
	copy(out, buf.Bytes())
	return out, nil
}
