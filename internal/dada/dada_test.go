package dada

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpst/pstbench/internal/fsutil"
	"github.com/openpst/pstbench/internal/resources"
	"github.com/openpst/pstbench/internal/telescope"
)

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := NewHeader()
	h.SetInt(KeyScanID, 42)
	h.SetInt(KeyObsOffset, 102400)
	h.SetFloat(KeyTsamp, 6250)
	h.Set(KeySource, "J1921+2153")

	block, err := h.Encode()
	require.NoError(t, err)
	assert.Len(t, block, DefaultHeaderSize)

	parsed, err := ParseHeader(block)
	require.NoError(t, err)

	scanID, err := parsed.Int(KeyScanID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), scanID)

	tsamp, err := parsed.Float(KeyTsamp)
	require.NoError(t, err)
	assert.Equal(t, 6250.0, tsamp)

	src, ok := parsed.Get(KeySource)
	require.True(t, ok)
	assert.Equal(t, "J1921+2153", src)

	assert.Equal(t, DefaultHeaderSize, parsed.HeaderSize())
	assert.Equal(t, int64(7), parsed.IntOr("MISSING", 7))
}

func TestParseHeaderErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseHeader([]byte("\x00\x00"))
	assert.Error(t, err)

	_, err = ParseHeader([]byte("ORPHANKEY\n"))
	assert.Error(t, err)
}

// testResources is a deliberately small band so whole files fit in memory:
// 8 channels in packets of 4, 2048 byte packet resolution, 5 packets per
// buffer and 10240 bytes/second, giving 102400 byte files.
func testResources() resources.ScanResources {
	return resources.ScanResources{
		PacketResources: resources.PacketResources{
			Nchan:          8,
			Npol:           2,
			Nbits:          16,
			Ndim:           2,
			Tsamp:          6250,
			UDPFormat:      "LowPST",
			BytesPerSecond: 10240,
		},
		Band: telescope.BandConfig{
			UDPFormat:        "LowPST",
			PacketNchan:      4,
			PacketNsamp:      32,
			PacketsPerBuffer: 5,
			NumBuffers:       4,
		},
		Resolution: 2048,
	}
}

func testRecording(fs fsutil.FileSystem) Recording {
	return Recording{
		FS:          fs,
		Mount:       "/mnt/dsp",
		EbID:        "eb-t001-20260823-00001",
		SubsystemID: "pst-low",
		ScanID:      42,
	}
}

func dataHeader(rec Recording, res resources.ScanResources, obsOffset int64, fileNumber int) *Header {
	h := NewHeader()
	h.SetInt(KeyScanID, int64(rec.ScanID))
	h.Set(KeyEbID, rec.EbID)
	h.SetInt(KeyObsOffset, obsOffset)
	h.SetInt(KeyFileNumber, int64(fileNumber))
	h.SetInt(KeyNchan, int64(res.Nchan))
	h.SetInt(KeyNpol, int64(res.Npol))
	h.SetInt(KeyNbit, int64(res.Nbits))
	h.SetInt(KeyNdim, int64(res.Ndim))
	h.SetInt(KeyPacketNchan, int64(res.Band.PacketNchan))
	h.SetFloat(KeyTsamp, res.Tsamp)
	h.SetFloat(KeyBytesPerSecond, res.BytesPerSecond)
	h.Set(KeyUTCStart, "2026-08-23-01:02:03")
	return h
}

// writeScan materializes a 15 second scan as two data files and two weights
// files. droppedPackets marks those packet numbers with NaN scales.
func writeScan(t *testing.T, fs fsutil.FileSystem, rec Recording, res resources.ScanResources, droppedPackets map[int]bool) {
	t.Helper()

	const (
		bytesPerFile   = 102400
		totalBytes     = 153600 // 15 seconds at 10240 B/s
		packetsPerFile = bytesPerFile / 2048
	)

	scalesPerBlock := res.Nchan / res.Band.PacketNchan
	wtBlockSize := scalesPerBlock*4 + res.Nchan*2

	packet := 0
	for n, offset := 0, int64(0); offset < totalBytes; n++ {
		size := int64(bytesPerFile)
		if rest := int64(totalBytes) - offset; rest < size {
			size = rest
		}

		dataName := rec.Dir(DataDir) + "/" + FileName("2026-08-23-01:02:03", offset, n)
		require.NoError(t, WriteFile(fs, dataName, dataHeader(rec, res, offset, n), make([]byte, size)))

		packets := int(size) / res.Resolution
		wt := make([]byte, packets*wtBlockSize)
		for p := 0; p < packets; p++ {
			for s := 0; s < scalesPerBlock; s++ {
				scale := float32(1.0)
				if droppedPackets[packet] {
					scale = float32(math.NaN())
				}
				binary.LittleEndian.PutUint32(wt[p*wtBlockSize+s*4:], math.Float32bits(scale))
				packet++
			}
			for c := 0; c < res.Nchan; c++ {
				binary.LittleEndian.PutUint16(wt[p*wtBlockSize+scalesPerBlock*4+c*2:], 1)
			}
		}
		wtOffset := offset / int64(res.Resolution) * int64(wtBlockSize)
		wtHdr := dataHeader(rec, res, wtOffset, n)
		wtHdr.SetInt(KeyNbit, resources.WeightsNbits)
		wtName := rec.Dir(WeightsDir) + "/" + FileName("2026-08-23-01:02:03", wtOffset, n)
		require.NoError(t, WriteFile(fs, wtName, wtHdr, wt))

		offset += size
	}
}

func TestCheckFilesExist(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec := testRecording(fs)
	v := &Verifier{Recording: rec, Resources: testResources()}

	assert.Error(t, v.CheckFilesExist(DataDir))

	writeScan(t, fs, rec, testResources(), nil)
	assert.NoError(t, v.CheckFilesExist(DataDir))
	assert.NoError(t, v.CheckFilesExist(WeightsDir))
}

func TestCheckContiguousFiles(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec := testRecording(fs)
	res := testResources()
	writeScan(t, fs, rec, res, nil)

	v := &Verifier{Recording: rec, Resources: res}
	assert.NoError(t, v.CheckContiguousFiles(15, DataDir))
	assert.NoError(t, v.CheckContiguousFiles(15, WeightsDir))

	// A wrong scan length shows up as a file count or size mismatch.
	assert.Error(t, v.CheckContiguousFiles(25, DataDir))
}

func TestCheckContiguousFilesDetectsGap(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec := testRecording(fs)
	res := testResources()
	writeScan(t, fs, rec, res, nil)

	// Remove the first file; the second file's offset no longer tiles.
	files, err := rec.Files(DataDir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.NoError(t, fs.Remove(files[0]))

	v := &Verifier{Recording: rec, Resources: res}
	assert.Error(t, v.CheckContiguousFiles(15, DataDir))
}

func TestCheckDroppedPackets(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec := testRecording(fs)
	res := testResources()

	// Packet 3 sits in the first file, 103 in the second (each file holds
	// 50 blocks of 2 packets).
	writeScan(t, fs, rec, res, map[int]bool{3: true, 103: true})

	v := &Verifier{Recording: rec, Resources: res}
	assert.NoError(t, v.CheckDroppedPackets([]int{3, 103}))
	assert.NoError(t, v.CheckDroppedPackets(nil))
	assert.Error(t, v.CheckDroppedPackets([]int{7}))
}

func TestWeightsFileReader(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec := testRecording(fs)
	res := testResources()
	writeScan(t, fs, rec, res, map[int]bool{0: true})

	files, err := rec.Files(WeightsDir)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	w, err := OpenWeightsFile(fs, files[0])
	require.NoError(t, err)
	assert.Len(t, w.Scales, 100)   // 50 blocks x 2 scales
	assert.Len(t, w.Weights, 8*50) // nchan per block
	assert.Equal(t, []int{0}, w.DroppedPackets(0))
}

func TestCheckSinusoidFrequency(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()
	rec := testRecording(fs)

	// Single channel, single polarization, 1 kHz sampling: a complex tone
	// at 50 Hz lands exactly on bin 50 of a 1000 point spectrum.
	const (
		nsamp  = 1000
		toneHz = 50.0
		rateHz = 1000.0
	)
	payload := make([]byte, nsamp*4)
	for i := 0; i < nsamp; i++ {
		phase := 2 * math.Pi * toneHz * float64(i) / rateHz
		s := cmplx.Rect(10000, phase)
		binary.LittleEndian.PutUint16(payload[i*4:], uint16(int16(real(s))))
		binary.LittleEndian.PutUint16(payload[i*4+2:], uint16(int16(imag(s))))
	}

	h := NewHeader()
	h.SetInt(KeyScanID, int64(rec.ScanID))
	h.SetInt(KeyObsOffset, 0)
	h.SetInt(KeyFileNumber, 0)
	h.SetInt(KeyNchan, 1)
	h.SetInt(KeyNpol, 1)
	h.SetInt(KeyNbit, 16)
	h.SetInt(KeyNdim, 2)
	h.SetFloat(KeyTsamp, 1000) // microseconds
	name := rec.Dir(DataDir) + "/" + FileName("2026-08-23-01:02:03", 0, 0)
	require.NoError(t, WriteFile(fs, name, h, payload))

	v := &Verifier{Recording: rec}
	assert.NoError(t, v.CheckSinusoidFrequency(toneHz, 0.5))
	assert.Error(t, v.CheckSinusoidFrequency(80, 0.5))
}

func TestComplexSamples(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()

	// Two channels, one polarization, two samples of known values.
	payload := make([]byte, 2*2*1*4)
	vals := []int16{100, -100, 200, -200, 300, -300, 400, -400}
	for i, v := range vals {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(v))
	}

	h := NewHeader()
	h.SetInt(KeyNchan, 2)
	h.SetInt(KeyNpol, 1)
	h.SetInt(KeyNbit, 16)
	require.NoError(t, WriteFile(fs, "/d/f.dada", h, payload))

	f, err := OpenFile(fs, "/d/f.dada")
	require.NoError(t, err)

	ch0, err := f.ComplexSamples(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []complex128{complex(100, -100), complex(300, -300)}, ch0)

	ch1, err := f.ComplexSamples(1, 0)
	require.NoError(t, err)
	assert.Equal(t, []complex128{complex(200, -200), complex(400, -400)}, ch1)

	_, err = f.ComplexSamples(2, 0)
	assert.Error(t, err)
}

func TestRecordingRejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	fs := fsutil.NewMemoryFileSystem()

	rec := testRecording(fs)
	rec.EbID = "../../../etc"
	_, err := rec.Files(DataDir)
	assert.ErrorContains(t, err, "invalid recording path")

	rec = testRecording(fs)
	rec.SubsystemID = "pst/low"
	_, err = rec.Files(WeightsDir)
	assert.ErrorContains(t, err, "separator")
}
