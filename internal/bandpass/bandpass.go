// Package bandpass unpacks and analyses bandpass dumps: binary files holding
// the per-channel power of each polarization, produced by the signal
// processing chain for a scan. The analysis locates the power maxima and
// checks that a test tone lands in the expected channel with everything else
// below a dB limit.
package bandpass

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/openpst/pstbench/internal/fsutil"
)

// DefaultDBLimit is the relative power every off-tone channel must stay
// below when validating a test tone.
const DefaultDBLimit = -40.0

// defaultNoiseFloor keeps empty channels off negative infinity when
// converting to dB.
const defaultNoiseFloor = 1000.0

// Bandpass holds the per-channel power of each polarization.
type Bandpass struct {
	// Frequencies is the centre frequency of each channel in MHz.
	Frequencies []float64
	// Power holds the uncalibrated power per polarization and channel,
	// indexed [pol][channel].
	Power [][]float64
}

// Nchan returns the number of frequency channels.
func (b *Bandpass) Nchan() int { return len(b.Frequencies) }

// Npol returns the number of polarizations.
func (b *Bandpass) Npol() int { return len(b.Power) }

// Unpack decodes a binary bandpass dump. The layout is little-endian:
// uint32 nchan, uint32 npol, float32 frequencies[nchan], then
// float32 power[npol][nchan].
func Unpack(data []byte) (*Bandpass, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("bandpass file too short: %d bytes", len(data))
	}
	nchan := binary.LittleEndian.Uint32(data[0:4])
	npol := binary.LittleEndian.Uint32(data[4:8])

	want := 8 + 4*int(nchan) + 4*int(npol)*int(nchan)
	if len(data) != want {
		return nil, fmt.Errorf("bandpass file size %d does not match nchan=%d npol=%d (want %d)",
			len(data), nchan, npol, want)
	}

	readFloats := func(off, n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			bits := binary.LittleEndian.Uint32(data[off+4*i:])
			out[i] = float64(math.Float32frombits(bits))
		}
		return out
	}

	bp := &Bandpass{
		Frequencies: readFloats(8, int(nchan)),
		Power:       make([][]float64, npol),
	}
	off := 8 + 4*int(nchan)
	for ipol := range bp.Power {
		bp.Power[ipol] = readFloats(off, int(nchan))
		off += 4 * int(nchan)
	}
	return bp, nil
}

// Pack encodes the bandpass in the binary dump layout.
func (b *Bandpass) Pack() []byte {
	nchan := b.Nchan()
	npol := b.Npol()
	out := make([]byte, 0, 8+4*nchan+4*npol*nchan)
	out = binary.LittleEndian.AppendUint32(out, uint32(nchan))
	out = binary.LittleEndian.AppendUint32(out, uint32(npol))
	for _, f := range b.Frequencies {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(f)))
	}
	for _, pol := range b.Power {
		for _, v := range pol {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v)))
		}
	}
	return out
}

// ReadFile reads and unpacks a bandpass dump.
func ReadFile(fsys fsutil.FileSystem, path string) (*Bandpass, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bandpass file %s: %w", path, err)
	}
	bp, err := Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", path, err)
	}
	return bp, nil
}

// WriteFile packs and writes a bandpass dump.
func WriteFile(fsys fsutil.FileSystem, path string, b *Bandpass) error {
	if err := fsys.WriteFile(path, b.Pack(), 0o644); err != nil {
		return fmt.Errorf("write bandpass file %s: %w", path, err)
	}
	return nil
}

// Maxima is the peak power of one polarization.
type Maxima struct {
	Channel int
	Value   float64
}

// Maxima returns the peak channel and value of each polarization.
func (b *Bandpass) Maxima() []Maxima {
	out := make([]Maxima, b.Npol())
	for ipol, pol := range b.Power {
		for ichan, v := range pol {
			if ichan == 0 || v > out[ipol].Value {
				out[ipol] = Maxima{Channel: ichan, Value: v}
			}
		}
	}
	return out
}

// Decibels returns a copy of the bandpass with each polarization converted
// to dB relative to its own peak. Power below the noise floor is clamped to
// it so empty channels stay finite; pass 0 to use the default floor.
func (b *Bandpass) Decibels(noiseFloor float64) *Bandpass {
	if noiseFloor <= 0 {
		noiseFloor = defaultNoiseFloor
	}
	out := &Bandpass{
		Frequencies: append([]float64(nil), b.Frequencies...),
		Power:       make([][]float64, b.Npol()),
	}
	for ipol, pol := range b.Power {
		clamped := make([]float64, len(pol))
		maxval := noiseFloor
		for i, v := range pol {
			if v < noiseFloor {
				v = noiseFloor
			}
			clamped[i] = v
			if v > maxval {
				maxval = v
			}
		}
		for i, v := range clamped {
			clamped[i] = 10 * math.Log10(v/maxval)
		}
		out.Power[ipol] = clamped
	}
	return out
}

// ValidateMaxima checks that every polarization peaks in the expected
// channel and that all other channels are below dbLimit relative to the
// peak. Pass 0 for dbLimit to use DefaultDBLimit. All failures are
// collected.
func (b *Bandpass) ValidateMaxima(expectedChannel int, dbLimit float64) error {
	if dbLimit >= 0 {
		dbLimit = DefaultDBLimit
	}
	if expectedChannel < 0 || expectedChannel >= b.Nchan() {
		return fmt.Errorf("expected maxima channel %d out of range [0,%d)", expectedChannel, b.Nchan())
	}

	var errs []error
	db := b.Decibels(0)
	for ipol, m := range b.Maxima() {
		if m.Channel != expectedChannel {
			errs = append(errs, fmt.Errorf(
				"maxima in polarisation %d was found in channel %d, expecting %d",
				ipol, m.Channel, expectedChannel))
			continue
		}
		for ichan, v := range db.Power[ipol] {
			if ichan != expectedChannel && v > dbLimit {
				errs = append(errs, fmt.Errorf(
					"power in polarisation %d, channel %d was %0.3f dB which exceeded the limit of %0.1f dB",
					ipol, ichan, v, dbLimit))
			}
		}
	}
	return errors.Join(errs...)
}
