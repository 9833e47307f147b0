// Package resources derives signal-processing resource parameters from a
// scan request: UDP packet geometry and data rates for the receiver, shared
// ring-buffer keys and sizes, and disk-writer scan parameters.
package resources

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openpst/pstbench/internal/telescope"
)

const (
	// MegaHertz converts the SI frequencies in scan requests to MHz.
	MegaHertz = 1_000_000

	// NumDimensions is fixed at 2: the receiver only handles complex data.
	NumDimensions = 2

	bitsPerByte = 8

	// Weights are stored as 16-bit values with a float32 scale factor for
	// each packet's worth of channels.
	WeightsNbits       = 16
	sizeofFloat32Bytes = 4

	headerBufferCount = 8
	headerBufferSize  = 16384
)

// Default pointing parameters. Only J2000 equatorial tracking is supported.
const (
	DefaultCoordMode    = "J2000"
	DefaultEquinox      = 2000.0
	DefaultTrackingMode = "TRACK"
)

// Coordinates is the pointing target of a scan.
type Coordinates struct {
	Equinox float64 `json:"equinox,omitempty"`
	RA      string  `json:"ra"`
	Dec     string  `json:"dec"`
}

// ScanRequest carries the merged common and scan sections of a scan
// configuration, flattened to the fields the resource calculators need.
type ScanRequest struct {
	ActivationTime string
	ObserverID     string
	ProjectID      string
	PointingID     string
	SubarrayID     int
	Source         string
	ITRF           []float64
	Coordinates    Coordinates
	TestVectorID   string

	FrequencyBand        string
	NumFrequencyChannels int
	NumOfPolarizations   int
	BitsPerSample        int
	UDPNsamp             int
	WTNsamp              int
	UDPNchan             int
	OversamplingRatio    [2]int
	TotalBandwidth       float64 // Hz
	CentreFrequency      float64 // Hz
	MaxScanLength        float64 // seconds

	ReceiverID        string
	FeedPolarization  string
	FeedHandedness    int
	FeedAngle         float64
	FeedTrackingMode  string
	FeedPositionAngle float64
	Receptors         []string
	ReceptorWeights   []float64
	TimingBeamID      string
}

// PacketResources describes the per-packet receive parameters derived from a
// scan request.
type PacketResources struct {
	Nchan          int
	BandwidthMHz   float64
	Npol           int
	Nbits          int // per dimension
	Ndim           int
	Tsamp          float64 // microseconds per sample
	Oversampling   string  // "numerator/denominator"
	UDPFormat      string
	BytesPerSecond float64
}

// CalculatePacketResources derives the packet geometry and data rate for a
// scan request. Bits per sample in the request covers both dimensions of a
// complex sample, so the per-dimension width is half of it.
func CalculatePacketResources(req ScanRequest) (PacketResources, error) {
	band, err := telescope.BandConfigFor(req.FrequencyBand)
	if err != nil {
		return PacketResources{}, err
	}
	if req.NumFrequencyChannels <= 0 {
		return PacketResources{}, fmt.Errorf("num_frequency_channels must be positive, got %d", req.NumFrequencyChannels)
	}
	if req.OversamplingRatio[1] == 0 {
		return PacketResources{}, fmt.Errorf("oversampling ratio denominator is zero")
	}

	nchan := req.NumFrequencyChannels
	npol := req.NumOfPolarizations
	nbits := req.BitsPerSample / NumDimensions
	bandwidthMHz := req.TotalBandwidth / MegaHertz

	// tsamp is in microseconds: channel bandwidth in MHz gives samples per
	// microsecond after applying the oversampling ratio.
	tsamp := 1 / (bandwidthMHz / float64(nchan) *
		float64(req.OversamplingRatio[0]) / float64(req.OversamplingRatio[1]))

	bytesPerSecond := float64(nchan*npol*nbits*NumDimensions) / bitsPerByte * 1_000_000 / tsamp

	return PacketResources{
		Nchan:          nchan,
		BandwidthMHz:   bandwidthMHz,
		Npol:           npol,
		Nbits:          nbits,
		Ndim:           NumDimensions,
		Tsamp:          tsamp,
		Oversampling:   fmt.Sprintf("%d/%d", req.OversamplingRatio[0], req.OversamplingRatio[1]),
		UDPFormat:      band.UDPFormat,
		BytesPerSecond: bytesPerSecond,
	}, nil
}

// Resolution is the byte span of one packet sequence across all channels:
// samples per packet x nchan x ndim x npol x nbits/8. LowPST packs 32
// samples per packet; all mid formats pack 185.
func Resolution(udpFormat string, nchan, ndim, npol, nbits int) int {
	nsampPerPacket := 185
	if udpFormat == "LowPST" {
		nsampPerPacket = 32
	}
	return nsampPerPacket * nchan * ndim * npol * nbits / bitsPerByte
}

// DataKey generates the shared ring-buffer key for beam data. The key is the
// beam id in two hex digits, the subband id and a 0 suffix.
func DataKey(beamID, subbandID int) string {
	return fmt.Sprintf("%02x%d%d", beamID, subbandID, 0)
}

// WeightsKey generates the shared ring-buffer key for beam weights. The
// suffix is 2 rather than 0 because the ring buffer holds two keys per
// buffer.
func WeightsKey(beamID, subbandID int) string {
	return fmt.Sprintf("%02x%d%d", beamID, subbandID, 2)
}

// RingBufferResources sizes the shared-memory ring buffers for one subband.
type RingBufferResources struct {
	DataKey    string
	WeightsKey string
	HdrNbufs   int
	HdrBufsz   int
	DataNbufs  int
	DataBufsz  int
	WtsNbufs   int
	WtsBufsz   int
}

// CalculateRingBufferResources sizes the header, data and weights ring
// buffers for subband 1 of a beam.
func CalculateRingBufferResources(beamID int, req ScanRequest) (RingBufferResources, error) {
	band, err := telescope.BandConfigFor(req.FrequencyBand)
	if err != nil {
		return RingBufferResources{}, err
	}

	nchan := req.NumFrequencyChannels
	npol := req.NumOfPolarizations
	nbits := req.BitsPerSample // both dimensions
	if req.WTNsamp == 0 {
		return RingBufferResources{}, fmt.Errorf("wt_nsamp is zero")
	}
	// udp_nsamp should equal wt_nsamp so this is normally 1.
	wtNweight := req.UDPNsamp / req.WTNsamp

	dataResolution := nchan * npol * nbits / bitsPerByte * req.UDPNsamp
	weightsResolution := nchan/band.PacketNchan*sizeofFloat32Bytes +
		nchan*WeightsNbits/bitsPerByte*wtNweight

	return RingBufferResources{
		DataKey:    DataKey(beamID, 1),
		WeightsKey: WeightsKey(beamID, 1),
		HdrNbufs:   headerBufferCount,
		HdrBufsz:   headerBufferSize,
		DataNbufs:  band.NumBuffers,
		DataBufsz:  band.PacketsPerBuffer * dataResolution,
		WtsNbufs:   band.NumBuffers,
		WtsBufsz:   band.PacketsPerBuffer * weightsResolution,
	}, nil
}

// ScanHeader maps a scan request to the key/value parameters recorded in the
// artefact headers and passed to the receiver at scan time.
type ScanHeader struct {
	ActivationTime string
	Observer       string
	ProjID         string
	PntID          string
	SubarrayID     string
	Source         string
	ITRF           string
	CoordMode      string
	Equinox        string
	SttCrd1        string
	SttCrd2        string
	TrkMode        string
	ScanlenMax     int
	TestVector     string
}

// NewScanHeader maps a scan request to the receiver's scan-time parameters.
func NewScanHeader(req ScanRequest) ScanHeader {
	equinox := req.Coordinates.Equinox
	if equinox == 0 {
		equinox = DefaultEquinox
	}
	itrf := make([]string, len(req.ITRF))
	for i, v := range req.ITRF {
		itrf[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ScanHeader{
		ActivationTime: req.ActivationTime,
		Observer:       req.ObserverID,
		ProjID:         req.ProjectID,
		PntID:          req.PointingID,
		SubarrayID:     strconv.Itoa(req.SubarrayID),
		Source:         req.Source,
		ITRF:           strings.Join(itrf, ","),
		CoordMode:      DefaultCoordMode,
		Equinox:        strconv.FormatFloat(equinox, 'f', -1, 64),
		SttCrd1:        req.Coordinates.RA,
		SttCrd2:        req.Coordinates.Dec,
		TrkMode:        DefaultTrackingMode,
		ScanlenMax:     int(req.MaxScanLength),
		TestVector:     req.TestVectorID,
	}
}

// DiskWriterRequest carries the parameters the disk writer needs at scan
// time.
type DiskWriterRequest struct {
	BytesPerSecond float64
	ScanlenMax     float64
}

// NewDiskWriterRequest derives the disk-writer scan parameters from a scan
// request.
func NewDiskWriterRequest(req ScanRequest) (DiskWriterRequest, error) {
	packet, err := CalculatePacketResources(req)
	if err != nil {
		return DiskWriterRequest{}, err
	}
	return DiskWriterRequest{
		BytesPerSecond: packet.BytesPerSecond,
		ScanlenMax:     req.MaxScanLength,
	}, nil
}
