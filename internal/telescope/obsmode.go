package telescope

import (
	"fmt"
	"strings"
)

// ObservationMode is the processing mode requested for a scan.
type ObservationMode string

const (
	PulsarTiming    ObservationMode = "PULSAR_TIMING"
	DynamicSpectrum ObservationMode = "DYNAMIC_SPECTRUM"
	FlowThrough     ObservationMode = "FLOW_THROUGH"
	VoltageRecorder ObservationMode = "VOLTAGE_RECORDER"
)

// ParseObservationMode parses an observation mode from free text. Test
// scenarios use phrasing like "voltage recorder" or "pulsar timing"; the
// value is upper-cased and spaces are replaced with underscores before
// matching.
func ParseObservationMode(s string) (ObservationMode, error) {
	mode := ObservationMode(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_"))
	switch mode {
	case PulsarTiming, DynamicSpectrum, FlowThrough, VoltageRecorder:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown observation mode %q", s)
	}
}

// ExampleSuffix returns the short suffix used to select the example scan
// configuration for this mode (e.g. "vr" for voltage recorder).
func (m ObservationMode) ExampleSuffix() string {
	switch m {
	case PulsarTiming:
		return "pt"
	case DynamicSpectrum:
		return "ds"
	case FlowThrough:
		return "ft"
	default:
		return "vr"
	}
}
