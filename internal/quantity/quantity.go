// Package quantity parses the human-readable quantity strings used by the
// behavioural test suites, e.g. "10 seconds", "200 MHz" or "1 to 5 secs".
package quantity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind groups units by the dimension they measure.
type Kind int

const (
	Dimensionless Kind = iota
	Time
	Frequency
	DataSize
	DataRate
)

// String returns the kind name for error messages.
func (k Kind) String() string {
	switch k {
	case Time:
		return "time"
	case Frequency:
		return "frequency"
	case DataSize:
		return "data size"
	case DataRate:
		return "data rate"
	default:
		return "dimensionless"
	}
}

// Quantity is a parsed value with its unit resolved to a base factor.
// Base units are seconds, hertz, bytes and bytes/second.
type Quantity struct {
	Value float64
	Unit  string
	Kind  Kind
	// factor converts Value into the base unit for its kind.
	factor float64
}

// Base returns the value converted to the base unit of its kind.
func (q Quantity) Base() float64 { return q.Value * q.factor }

// Range is a pair of quantities parsed from "<low> to <high> <unit>" text.
// The low bound inherits the unit of the high bound.
type Range struct {
	Low  Quantity
	High Quantity
}

type unitDef struct {
	kind   Kind
	factor float64
}

// Unit aliases cover the spellings that appear in test scenarios, including
// British spellings and abbreviations.
var units = map[string]unitDef{
	"second": {Time, 1}, "seconds": {Time, 1}, "sec": {Time, 1},
	"secs": {Time, 1}, "s": {Time, 1},
	"millisecond": {Time, 1e-3}, "milliseconds": {Time, 1e-3}, "ms": {Time, 1e-3},
	"minute": {Time, 60}, "minutes": {Time, 60}, "min": {Time, 60}, "mins": {Time, 60},
	"hour": {Time, 3600}, "hours": {Time, 3600}, "h": {Time, 3600},

	"Hz": {Frequency, 1}, "kHz": {Frequency, 1e3},
	"MHz": {Frequency, 1e6}, "GHz": {Frequency, 1e9},

	"B": {DataSize, 1}, "bytes": {DataSize, 1},
	"kB": {DataSize, 1e3}, "MB": {DataSize, 1e6}, "GB": {DataSize, 1e9}, "TB": {DataSize, 1e12},
	"KiB": {DataSize, 1024}, "MiB": {DataSize, 1 << 20}, "GiB": {DataSize, 1 << 30},

	"B/s": {DataRate, 1}, "kB/s": {DataRate, 1e3}, "MB/s": {DataRate, 1e6}, "GB/s": {DataRate, 1e9},
}

var (
	quantityRe = regexp.MustCompile(`^([0-9]*\.?[0-9]+)(?:\s+(\S+))?$`)
	rangeRe    = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s+to\s+([0-9]*\.?[0-9]+)(?:\s+(\S+))?$`)
)

// Parse converts a quantity string to a Quantity. A bare number is
// dimensionless; otherwise the unit must be one of the known aliases.
func Parse(s string) (Quantity, error) {
	m := quantityRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity value %q: %w", m[1], err)
	}
	if m[2] == "" {
		return Quantity{Value: value, Kind: Dimensionless, factor: 1}, nil
	}
	def, ok := units[m[2]]
	if !ok {
		return Quantity{}, fmt.Errorf("unknown unit %q in %q", m[2], s)
	}
	return Quantity{Value: value, Unit: m[2], Kind: def.kind, factor: def.factor}, nil
}

// ParseRange converts a "<low> to <high> <unit>" string to a Range. The unit
// applies to both bounds.
func ParseRange(s string) (Range, error) {
	m := rangeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Range{}, fmt.Errorf("invalid quantity range %q", s)
	}
	high, err := Parse(strings.TrimSpace(m[2] + " " + m[3]))
	if err != nil {
		return Range{}, err
	}
	lowValue, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid range value %q: %w", m[1], err)
	}
	low := high
	low.Value = lowValue
	return Range{Low: low, High: high}, nil
}

// ParseAny parses either a single quantity or a range, preferring the range
// form. Free text that is neither returns an error.
func ParseAny(s string) (Quantity, *Range, error) {
	if r, err := ParseRange(s); err == nil {
		return Quantity{}, &r, nil
	}
	q, err := Parse(s)
	if err != nil {
		return Quantity{}, nil, err
	}
	return q, nil, nil
}
