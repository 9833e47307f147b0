// Package scanconfig generates and validates the JSON scan configurations
// used to drive the signal processor in tests. A generator produces valid
// configurations by default; overrides allow individual keys to be replaced,
// including with invalid values, to exercise rejection paths.
package scanconfig

import (
	"encoding/json"
	"fmt"

	"github.com/openpst/pstbench/internal/resources"
	"github.com/openpst/pstbench/internal/telescope"
)

// InterfaceVersion is the configuration schema version the generator emits.
const InterfaceVersion = "https://schema.skao.int/ska-csp-configure/2.4"

// Common is the common section of a scan configuration.
type Common struct {
	ConfigID      string `json:"config_id"`
	SubarrayID    int    `json:"subarray_id"`
	FrequencyBand string `json:"frequency_band"`
	EbID          string `json:"eb_id"`
}

// ChannelizationStage describes one stage of the channelization cascade.
type ChannelizationStage struct {
	NumFilterTaps        int       `json:"num_filter_taps"`
	FilterCoefficients   []float64 `json:"filter_coefficients"`
	NumFrequencyChannels int       `json:"num_frequency_channels"`
	OversamplingRatio    [2]int    `json:"oversampling_ratio"`
}

// ScanParameters is the timing-subsystem scan section of a configuration.
type ScanParameters struct {
	ActivationTime          string                `json:"activation_time"`
	TimingBeamID            string                `json:"timing_beam_id"`
	BitsPerSample           int                   `json:"bits_per_sample"`
	NumOfPolarizations      int                   `json:"num_of_polarizations"`
	UDPNsamp                int                   `json:"udp_nsamp"`
	WTNsamp                 int                   `json:"wt_nsamp"`
	UDPNchan                int                   `json:"udp_nchan"`
	NumFrequencyChannels    int                   `json:"num_frequency_channels"`
	CentreFrequency         float64               `json:"centre_frequency"`
	TotalBandwidth          float64               `json:"total_bandwidth"`
	ObservationMode         string                `json:"observation_mode"`
	ObserverID              string                `json:"observer_id"`
	ProjectID               string                `json:"project_id"`
	PointingID              string                `json:"pointing_id"`
	Source                  string                `json:"source"`
	ITRF                    []float64             `json:"itrf"`
	ReceiverID              string                `json:"receiver_id"`
	FeedPolarization        string                `json:"feed_polarization"`
	FeedHandedness          int                   `json:"feed_handedness"`
	FeedAngle               float64               `json:"feed_angle"`
	FeedTrackingMode        string                `json:"feed_tracking_mode"`
	FeedPositionAngle       float64               `json:"feed_position_angle"`
	OversamplingRatio       [2]int                `json:"oversampling_ratio"`
	Coordinates             resources.Coordinates `json:"coordinates"`
	MaxScanLength           float64               `json:"max_scan_length"`
	SubintDuration          float64               `json:"subint_duration"`
	Receptors               []string              `json:"receptors"`
	ReceptorWeights         []float64             `json:"receptor_weights"`
	NumChannelizationStages int                   `json:"num_channelization_stages"`
	ChannelizationStages    []ChannelizationStage `json:"channelization_stages"`
	TestVectorID            string                `json:"test_vector_id,omitempty"`
}

// PST is the timing-subsystem section of a scan configuration.
type PST struct {
	Scan ScanParameters `json:"scan"`
}

// ScanConfiguration is a complete scan configuration document.
type ScanConfiguration struct {
	Interface string `json:"interface"`
	Common    Common `json:"common"`
	PST       PST    `json:"pst"`
}

// Request flattens a configuration into the scan request consumed by the
// resource calculators.
func (c *ScanConfiguration) Request() resources.ScanRequest {
	scan := c.PST.Scan
	return resources.ScanRequest{
		ActivationTime:       scan.ActivationTime,
		ObserverID:           scan.ObserverID,
		ProjectID:            scan.ProjectID,
		PointingID:           scan.PointingID,
		SubarrayID:           c.Common.SubarrayID,
		Source:               scan.Source,
		ITRF:                 scan.ITRF,
		Coordinates:          scan.Coordinates,
		TestVectorID:         scan.TestVectorID,
		FrequencyBand:        c.Common.FrequencyBand,
		NumFrequencyChannels: scan.NumFrequencyChannels,
		NumOfPolarizations:   scan.NumOfPolarizations,
		BitsPerSample:        scan.BitsPerSample,
		UDPNsamp:             scan.UDPNsamp,
		WTNsamp:              scan.WTNsamp,
		UDPNchan:             scan.UDPNchan,
		OversamplingRatio:    scan.OversamplingRatio,
		TotalBandwidth:       scan.TotalBandwidth,
		CentreFrequency:      scan.CentreFrequency,
		MaxScanLength:        scan.MaxScanLength,
		ReceiverID:           scan.ReceiverID,
		FeedPolarization:     scan.FeedPolarization,
		FeedHandedness:       scan.FeedHandedness,
		FeedAngle:            scan.FeedAngle,
		FeedTrackingMode:     scan.FeedTrackingMode,
		FeedPositionAngle:    scan.FeedPositionAngle,
		Receptors:            scan.Receptors,
		ReceptorWeights:      scan.ReceptorWeights,
		TimingBeamID:         scan.TimingBeamID,
	}
}

// Facility returns the facility the configuration targets, derived from the
// frequency band: the low band belongs to the low facility, everything else
// to mid.
func (c *ScanConfiguration) Facility() telescope.Facility {
	if c.Common.FrequencyBand == "low" || c.Common.FrequencyBand == "" {
		return telescope.FacilityLow
	}
	return telescope.FacilityMid
}

// ParseScanConfiguration decodes a configuration document from JSON.
func ParseScanConfiguration(data []byte) (*ScanConfiguration, error) {
	var cfg ScanConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid scan configuration: %w", err)
	}
	return &cfg, nil
}
