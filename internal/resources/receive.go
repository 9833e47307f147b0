package resources

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openpst/pstbench/internal/telescope"
)

// CommonReceiveResources are the receiver parameters shared across subbands.
type CommonReceiveResources struct {
	PacketResources

	Nsubband     int
	UDPNsamp     int
	WTNsamp      int
	UDPNchan     int
	FrequencyMHz float64
	Frontend     string
	FdPoln       string
	FdHand       int
	FdSang       float64
	FdMode       string
	FaReq        float64
	Nant         int
	Antennas     string
	AntWeights   string
	BeamID       string
}

// SubbandReceiveResources are the per-subband receiver parameters, including
// the UDP endpoint data is received on.
type SubbandReceiveResources struct {
	DataKey         string
	WeightsKey      string
	BandwidthMHz    float64
	Nchan           int
	FrequencyMHz    float64
	StartChannel    int
	EndChannel      int // exclusive
	StartChannelOut int
	EndChannelOut   int // exclusive
	NchanOut        int
	BandwidthOutMHz float64
	FrequencyOutMHz float64
	DataHost        string
	DataPort        int
}

// ReceiveResources groups the common and per-subband receiver parameters.
// Only one subband is in use; the map is keyed by subband id to keep the
// shape once multiple subbands arrive.
type ReceiveResources struct {
	Common   CommonReceiveResources
	Subbands map[int]SubbandReceiveResources
}

// CalculateReceiveResources derives the receiver resources for all subbands
// of a beam. dataHost and subbandPorts give the destination endpoints for
// each subband's UDP stream; at most one port is currently consumed.
func CalculateReceiveResources(beamID int, req ScanRequest, dataHost string, subbandPorts []int) (ReceiveResources, error) {
	if len(subbandPorts) == 0 {
		return ReceiveResources{}, fmt.Errorf("at least one subband UDP port is required")
	}
	common, err := calculateCommonReceiveResources(beamID, req)
	if err != nil {
		return ReceiveResources{}, err
	}

	nchan := req.NumFrequencyChannels
	bandwidthMHz := req.TotalBandwidth / MegaHertz
	frequencyMHz := req.CentreFrequency / MegaHertz

	return ReceiveResources{
		Common: common,
		Subbands: map[int]SubbandReceiveResources{
			1: {
				DataKey:         DataKey(beamID, 1),
				WeightsKey:      WeightsKey(beamID, 1),
				BandwidthMHz:    bandwidthMHz,
				Nchan:           nchan,
				FrequencyMHz:    frequencyMHz,
				StartChannel:    0,
				EndChannel:      nchan,
				StartChannelOut: 0,
				EndChannelOut:   nchan,
				NchanOut:        nchan,
				BandwidthOutMHz: bandwidthMHz,
				FrequencyOutMHz: frequencyMHz,
				DataHost:        dataHost,
				DataPort:        subbandPorts[0],
			},
		},
	}, nil
}

func calculateCommonReceiveResources(beamID int, req ScanRequest) (CommonReceiveResources, error) {
	packet, err := CalculatePacketResources(req)
	if err != nil {
		return CommonReceiveResources{}, err
	}

	weights := make([]string, len(req.ReceptorWeights))
	for i, w := range req.ReceptorWeights {
		weights[i] = strconv.FormatFloat(w, 'f', -1, 64)
	}

	// The timing beam id from the configuration takes precedence over the
	// device's configured beam while only one beam is deployed.
	beam := req.TimingBeamID
	if beam == "" {
		beam = strconv.Itoa(beamID)
	}

	return CommonReceiveResources{
		PacketResources: packet,
		Nsubband:        1,
		UDPNsamp:        req.UDPNsamp,
		WTNsamp:         req.WTNsamp,
		UDPNchan:        req.UDPNchan,
		FrequencyMHz:    req.CentreFrequency / MegaHertz,
		Frontend:        req.ReceiverID,
		FdPoln:          req.FeedPolarization,
		FdHand:          req.FeedHandedness,
		FdSang:          req.FeedAngle,
		FdMode:          req.FeedTrackingMode,
		FaReq:           req.FeedPositionAngle,
		Nant:            len(req.Receptors),
		Antennas:        strings.Join(req.Receptors, ","),
		AntWeights:      strings.Join(weights, ","),
		BeamID:          beam,
	}, nil
}

// ScanResources flattens the derived parameters a test needs to generate and
// verify a scan's UDP data: the band geometry, packet resources, ring-buffer
// shape and the destination endpoint.
type ScanResources struct {
	PacketResources

	// Band carries the packet geometry and buffering for the frequency
	// band. Its UDPFormat always matches the packet resources.
	Band telescope.BandConfig

	Resolution int
	BeamID     string
	DataKey    string
	WeightsKey string
	DataHost   string
	DataPort   int
	Telescope  string
	ScanlenMax float64
}

// CalculateScanResources derives the flattened resource view for a beam from
// a scan request.
func CalculateScanResources(beamID int, req ScanRequest, facility telescope.Facility, dataHost string, dataPort int) (ScanResources, error) {
	band, err := telescope.BandConfigFor(req.FrequencyBand)
	if err != nil {
		return ScanResources{}, err
	}
	packet, err := CalculatePacketResources(req)
	if err != nil {
		return ScanResources{}, err
	}

	beam := req.TimingBeamID
	if beam == "" {
		beam = strconv.Itoa(beamID)
	}

	return ScanResources{
		PacketResources: packet,
		Band:            band,
		Resolution:      Resolution(packet.UDPFormat, packet.Nchan, packet.Ndim, packet.Npol, packet.Nbits),
		BeamID:          beam,
		DataKey:         DataKey(beamID, 1),
		WeightsKey:      WeightsKey(beamID, 1),
		DataHost:        dataHost,
		DataPort:        dataPort,
		Telescope:       facility.Telescope(),
		ScanlenMax:      req.MaxScanLength,
	}, nil
}
