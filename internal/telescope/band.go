package telescope

import "fmt"

// BandConfig describes the UDP packet geometry and ring-buffer shape for a
// frequency band. The low facility has a single band; the mid facility has
// bands 1 through 5b (5a and 5b share a UDP format).
type BandConfig struct {
	UDPFormat        string
	PacketNchan      int
	PacketNsamp      int
	PacketsPerBuffer int
	NumBuffers       int
}

var lowBand = BandConfig{
	UDPFormat:        "LowPST",
	PacketNchan:      24,
	PacketNsamp:      32,
	PacketsPerBuffer: 16,
	NumBuffers:       64,
}

// All mid bands share the same packet geometry and differ only in format
// name and buffering.
var midBands = map[string]BandConfig{
	"1":  {UDPFormat: "MidPSTBand1", PacketNchan: 185, PacketNsamp: 4, PacketsPerBuffer: 1024, NumBuffers: 128},
	"2":  {UDPFormat: "MidPSTBand2", PacketNchan: 185, PacketNsamp: 4, PacketsPerBuffer: 1024, NumBuffers: 128},
	"3":  {UDPFormat: "MidPSTBand3", PacketNchan: 185, PacketNsamp: 4, PacketsPerBuffer: 512, NumBuffers: 256},
	"4":  {UDPFormat: "MidPSTBand4", PacketNchan: 185, PacketNsamp: 4, PacketsPerBuffer: 512, NumBuffers: 256},
	"5a": {UDPFormat: "MidPSTBand5", PacketNchan: 185, PacketNsamp: 4, PacketsPerBuffer: 512, NumBuffers: 256},
	"5b": {UDPFormat: "MidPSTBand5", PacketNchan: 185, PacketNsamp: 4, PacketsPerBuffer: 512, NumBuffers: 256},
}

// BandConfigFor returns the configuration for a frequency band. An empty
// band or "low" selects the low facility's single band; "1" through "5b"
// select the mid bands.
func BandConfigFor(frequencyBand string) (BandConfig, error) {
	if frequencyBand == "" || frequencyBand == "low" {
		return lowBand, nil
	}
	cfg, ok := midBands[frequencyBand]
	if !ok {
		return BandConfig{}, fmt.Errorf("unknown frequency band %q", frequencyBand)
	}
	return cfg, nil
}

// UDPFormatConfig returns the band configuration keyed by UDP format name.
func UDPFormatConfig(udpFormat string) (BandConfig, error) {
	if udpFormat == lowBand.UDPFormat {
		return lowBand, nil
	}
	// 5a and 5b share a format; either entry carries identical values.
	for _, cfg := range midBands {
		if cfg.UDPFormat == udpFormat {
			return cfg, nil
		}
	}
	return BandConfig{}, fmt.Errorf("unknown UDP format %q", udpFormat)
}
