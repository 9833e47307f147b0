// Package telescope provides enumerations and per-band configuration for the
// telescope facilities that feed the pulsar timing signal processor.
package telescope

import "fmt"

// Facility identifies which telescope facility a scan is configured for.
type Facility int

const (
	// FacilityLow is the low-frequency aperture-array facility.
	FacilityLow Facility = 1
	// FacilityMid is the mid-frequency dish facility.
	FacilityMid Facility = 2
)

// String returns the facility name.
func (f Facility) String() string {
	switch f {
	case FacilityLow:
		return "Low"
	case FacilityMid:
		return "Mid"
	default:
		return fmt.Sprintf("Facility(%d)", int(f))
	}
}

// Telescope returns the telescope name for the facility.
func (f Facility) Telescope() string {
	if f == FacilityLow {
		return "SKALow"
	}
	return "SKAMid"
}

// ParseFacility parses a facility from its name ("Low" or "Mid").
func ParseFacility(s string) (Facility, error) {
	switch s {
	case "Low":
		return FacilityLow, nil
	case "Mid":
		return FacilityMid, nil
	default:
		return 0, fmt.Errorf("unknown facility %q", s)
	}
}

// FacilityFromTelescope maps a telescope name to its facility.
func FacilityFromTelescope(telescope string) (Facility, error) {
	switch telescope {
	case "SKALow":
		return FacilityLow, nil
	case "SKAMid":
		return FacilityMid, nil
	default:
		return 0, fmt.Errorf("unknown telescope %q", telescope)
	}
}
