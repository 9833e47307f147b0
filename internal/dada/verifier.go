package dada

import (
	"fmt"
	"math"
	"math/cmplx"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/openpst/pstbench/internal/fsutil"
	"github.com/openpst/pstbench/internal/monitoring"
	"github.com/openpst/pstbench/internal/resources"
	"github.com/openpst/pstbench/internal/security"
)

// Recording identifies one scan's artefacts on the recording mount. Files
// live under <mount>/<eb_id>/<subsystem>/<scan_id>/{data,weights}.
type Recording struct {
	FS          fsutil.FileSystem
	Mount       string
	EbID        string
	SubsystemID string
	ScanID      uint64
}

// Subdirectories of a scan's recording.
const (
	DataDir    = "data"
	WeightsDir = "weights"
)

// Dir returns the directory holding one file type of the scan.
func (r Recording) Dir(fileType string) string {
	return filepath.Join(r.Mount, r.EbID, r.SubsystemID, strconv.FormatUint(r.ScanID, 10), fileType)
}

// Validate checks the identifiers that become path components, so a bad
// eb_id or subsystem id cannot reach outside the mount.
func (r Recording) Validate() error {
	for _, component := range []string{r.EbID, r.SubsystemID} {
		if err := security.ValidatePathComponent(component); err != nil {
			return fmt.Errorf("invalid recording path: %w", err)
		}
	}
	return security.ValidateWithinDirectory(r.Dir(DataDir), r.Mount)
}

// Files lists the artefact files of one type, sorted by name. The disk
// writer names files so lexical order is scan order.
func (r Recording) Files(fileType string) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r.FS.Glob(filepath.Join(r.Dir(fileType), "*.dada"))
}

// Verifier checks a scan's recording against the resources derived from its
// configuration.
type Verifier struct {
	Recording Recording
	Resources resources.ScanResources
}

// CheckFilesExist fails when the scan recorded no files of the given type.
func (v *Verifier) CheckFilesExist(fileType string) error {
	files, err := v.Recording.Files(fileType)
	if err != nil {
		return err
	}
	monitoring.Logf("scan %d %s files: %v", v.Recording.ScanID, fileType, files)
	if len(files) == 0 {
		return fmt.Errorf("no %s files recorded under %s", fileType, v.Recording.Dir(fileType))
	}
	return nil
}

// layout describes the expected on-disk shape of one file type of a scan.
type layout struct {
	bytesPerSecond float64
	bytesPerFile   int64
	numFiles       int
}

// expectedLayout derives the file layout for a scan of the given length.
// Each file nominally holds SecondsPerFile of data, rounded up to a whole
// number of ring buffers; weights files hold the matching number of packets
// at the weights resolution.
func (v *Verifier) expectedLayout(scanlen float64, fileType string) (layout, error) {
	res := v.Resources
	resolution := int64(res.Resolution)
	bufferSize := int64(res.Band.PacketsPerBuffer) * resolution
	if bufferSize <= 0 {
		return layout{}, fmt.Errorf("invalid buffer size %d", bufferSize)
	}

	expectedBytes := scanlen * 1e6 * float64(res.Nbits*res.Ndim*res.Npol*res.Nchan) / (8 * res.Tsamp)

	bytesPerFile := int64(math.Floor(res.BytesPerSecond * SecondsPerFile))
	if rem := bytesPerFile % bufferSize; rem != 0 {
		bytesPerFile += bufferSize - rem
	}
	numFiles := int(math.Ceil(expectedBytes / float64(bytesPerFile)))
	packetsPerFile := bytesPerFile / resolution

	bytesPerSecond := res.BytesPerSecond
	if fileType == WeightsDir {
		nchan := int64(res.Nchan)
		wtResolution := nchan/int64(res.Band.PacketNchan)*4 + nchan*resources.WeightsNbits/8
		bytesPerSecond *= float64(wtResolution) / float64(resolution)
		bytesPerFile = packetsPerFile * wtResolution
	}

	return layout{
		bytesPerSecond: bytesPerSecond,
		bytesPerFile:   bytesPerFile,
		numFiles:       numFiles,
	}, nil
}

// CheckContiguousFiles verifies that a scan of the given length recorded the
// expected number of files, that roughly the right amount of data was
// captured, and that payload offsets and sizes tile the scan without gaps.
// The receiver starts on a second boundary so the recorded length may be up
// to a second short.
func (v *Verifier) CheckContiguousFiles(scanlen float64, fileType string) error {
	want, err := v.expectedLayout(scanlen, fileType)
	if err != nil {
		return err
	}

	files, err := v.Recording.Files(fileType)
	if err != nil {
		return err
	}

	byNumber := map[int]*FileReader{}
	var totalData int64
	for _, path := range files {
		f, err := OpenFile(v.Recording.FS, path)
		if err != nil {
			return err
		}
		if got, want := f.ScanID(), v.Recording.ScanID; got != want {
			return fmt.Errorf("%s belongs to scan %d, expected %d", path, got, want)
		}
		byNumber[f.FileNumber()] = f
		totalData += f.DataSize()
	}
	monitoring.Logf("scan %d: %d %s files, %d payload bytes", v.Recording.ScanID, len(files), fileType, totalData)

	if len(byNumber) != want.numFiles {
		return fmt.Errorf("expected %d %s files, found %d", want.numFiles, fileType, len(byNumber))
	}

	recorded := float64(totalData) / want.bytesPerSecond
	if math.Abs(recorded-scanlen) >= 1.0 {
		return fmt.Errorf("recorded %.6fs of %s, expected around %.3fs", recorded, fileType, scanlen)
	}

	for n := 0; n < want.numFiles; n++ {
		f, ok := byNumber[n]
		if !ok {
			return fmt.Errorf("missing %s file number %d", fileType, n)
		}
		wantOffset := int64(n) * want.bytesPerFile
		if f.ObsOffset() != wantOffset {
			return fmt.Errorf("expected payload offset %d for %s, got %d", wantOffset, f.Path, f.ObsOffset())
		}
		wantSize := want.bytesPerFile
		if n == want.numFiles-1 {
			wantSize = totalData - wantOffset
		}
		if f.DataSize() != wantSize {
			return fmt.Errorf("expected %dB payload in %s, got %dB", wantSize, f.Path, f.DataSize())
		}
	}
	return nil
}

// CheckDroppedPackets verifies that every expected packet number is flagged
// as dropped in the scan's weights, by a NaN scale factor.
func (v *Verifier) CheckDroppedPackets(expected []int) error {
	files, err := v.Recording.Files(WeightsDir)
	if err != nil {
		return err
	}

	dropped := map[int]struct{}{}
	for _, path := range files {
		w, err := OpenWeightsFile(v.Recording.FS, path)
		if err != nil {
			return err
		}
		nchan := w.Header.IntOr(KeyNchan, 0)
		packetNchan := w.Header.IntOr(KeyPacketNchan, 1)
		scalesPerBlock := int(nchan / packetNchan)
		blockSize := int64(scalesPerBlock*4) + nchan*2
		firstPacket := int(w.ObsOffset()/blockSize) * scalesPerBlock
		for _, p := range w.DroppedPackets(firstPacket) {
			dropped[p] = struct{}{}
		}
	}
	monitoring.Logf("scan %d: found %d dropped packets, searching for %v", v.Recording.ScanID, len(dropped), expected)

	for _, p := range expected {
		if _, ok := dropped[p]; !ok {
			return fmt.Errorf("expected packet %d to be flagged as dropped", p)
		}
	}
	return nil
}

// CheckSinusoidFrequency verifies that the dominant tone of the recorded
// data sits within tolerance of the expected frequency in Hz. The spectrum
// is taken over channel 0, polarization 0 of all data files in scan order.
// A tolerance of zero means one spectral bin.
func (v *Verifier) CheckSinusoidFrequency(expectedHz, toleranceHz float64) error {
	files, err := v.Recording.Files(DataDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no data files recorded under %s", v.Recording.Dir(DataDir))
	}

	readers := make([]*FileReader, 0, len(files))
	for _, path := range files {
		f, err := OpenFile(v.Recording.FS, path)
		if err != nil {
			return err
		}
		readers = append(readers, f)
	}
	sort.Slice(readers, func(i, j int) bool { return readers[i].FileNumber() < readers[j].FileNumber() })

	var samples []complex128
	var tsamp float64
	for _, f := range readers {
		s, err := f.ComplexSamples(0, 0)
		if err != nil {
			return err
		}
		samples = append(samples, s...)
		if tsamp == 0 {
			tsamp, err = f.Header.Float(KeyTsamp)
			if err != nil {
				return err
			}
		}
	}
	if len(samples) == 0 || tsamp <= 0 {
		return fmt.Errorf("no samples to analyse")
	}

	sampleRate := 1e6 / tsamp // TSAMP is microseconds per sample

	fft := fourier.NewCmplxFFT(len(samples))
	coeff := fft.Coefficients(nil, samples)

	peak := 0
	peakMag := 0.0
	for i, c := range coeff {
		if mag := cmplx.Abs(c); mag > peakMag {
			peak, peakMag = i, mag
		}
	}
	foundHz := math.Abs(fft.Freq(peak) * sampleRate)

	if toleranceHz <= 0 {
		toleranceHz = sampleRate / float64(len(samples))
	}
	monitoring.Logf("scan %d: dominant tone at %.3f Hz, expected %.3f Hz (tolerance %.3f Hz)",
		v.Recording.ScanID, foundHz, expectedHz, toleranceHz)
	if math.Abs(foundHz-expectedHz) > toleranceHz {
		return fmt.Errorf("expected dominant tone %.3f Hz to be within %.3f Hz of %.3f Hz",
			foundHz, toleranceHz, expectedHz)
	}
	return nil
}
