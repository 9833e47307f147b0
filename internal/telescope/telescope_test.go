package telescope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacility(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SKALow", FacilityLow.Telescope())
	assert.Equal(t, "SKAMid", FacilityMid.Telescope())
	assert.Equal(t, "Low", FacilityLow.String())

	f, err := FacilityFromTelescope("SKALow")
	require.NoError(t, err)
	assert.Equal(t, FacilityLow, f)

	f, err = ParseFacility("Mid")
	require.NoError(t, err)
	assert.Equal(t, FacilityMid, f)

	_, err = FacilityFromTelescope("VLA")
	assert.Error(t, err)
}

func TestParseObservationMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want ObservationMode
	}{
		{"voltage recorder", VoltageRecorder},
		{"pulsar timing", PulsarTiming},
		{"DYNAMIC_SPECTRUM", DynamicSpectrum},
		{"flow through", FlowThrough},
	}
	for _, tc := range tests {
		got, err := ParseObservationMode(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseObservationMode("imaging")
	assert.Error(t, err)
}

func TestObservationModeExampleSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pt", PulsarTiming.ExampleSuffix())
	assert.Equal(t, "ds", DynamicSpectrum.ExampleSuffix())
	assert.Equal(t, "ft", FlowThrough.ExampleSuffix())
	assert.Equal(t, "vr", VoltageRecorder.ExampleSuffix())
}

func TestBandConfigFor(t *testing.T) {
	t.Parallel()

	low, err := BandConfigFor("low")
	require.NoError(t, err)
	assert.Equal(t, "LowPST", low.UDPFormat)
	assert.Equal(t, 24, low.PacketNchan)
	assert.Equal(t, 32, low.PacketNsamp)

	// empty band defaults to low
	def, err := BandConfigFor("")
	require.NoError(t, err)
	assert.Equal(t, low, def)

	b3, err := BandConfigFor("3")
	require.NoError(t, err)
	assert.Equal(t, "MidPSTBand3", b3.UDPFormat)
	assert.Equal(t, 185, b3.PacketNchan)
	assert.Equal(t, 512, b3.PacketsPerBuffer)
	assert.Equal(t, 256, b3.NumBuffers)

	_, err = BandConfigFor("6")
	assert.Error(t, err)
}

func TestUDPFormatConfig(t *testing.T) {
	t.Parallel()

	cfg, err := UDPFormatConfig("LowPST")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.PacketNsamp)

	// bands 5a and 5b share the MidPSTBand5 format
	cfg, err = UDPFormatConfig("MidPSTBand5")
	require.NoError(t, err)
	assert.Equal(t, "MidPSTBand5", cfg.UDPFormat)

	_, err = UDPFormatConfig("HighPST")
	assert.Error(t, err)
}
