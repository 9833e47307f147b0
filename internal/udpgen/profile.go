package udpgen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openpst/pstbench/internal/fsutil"
	"github.com/openpst/pstbench/internal/monitoring"
)

// Profile is an on-disk generator profile: the signal source plus sending
// behavior, loaded from YAML so repeated runs share one definition.
type Profile struct {
	SourceConfig `yaml:",inline"`

	// RateBytesPerSecond overrides the pacing rate; see Config.
	RateBytesPerSecond float64 `yaml:"rate_bytes_per_second,omitempty"`
	// DropPackets lists packet sequence numbers to skip.
	DropPackets []uint64 `yaml:"drop_packets,omitempty"`
	// Seed makes the signal reproducible.
	Seed int64 `yaml:"seed,omitempty"`
}

// LoadProfile reads and validates a generator profile.
func LoadProfile(fsys fsutil.FileSystem, path string) (*Profile, error) {
	raw, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read generator profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse generator profile %s: %w", path, err)
	}
	if _, err := ParseGeneratorKind(string(p.Kind)); err != nil {
		return nil, err
	}
	if err := p.SourceConfig.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply merges the profile into a generator configuration.
func (p *Profile) Apply(cfg *Config) {
	cfg.Source = p.SourceConfig
	cfg.RateBytesPerSecond = p.RateBytesPerSecond
	cfg.DropPackets = append(cfg.DropPackets, p.DropPackets...)
	if p.Seed != 0 {
		cfg.Seed = p.Seed
	}
}

// Environment renders the generator's full parameter set as key/value pairs:
// the scan resources, the destination and the source parameters. It is what
// WriteConfigFile records next to a scan for later inspection.
func (g *Generator) Environment() map[string]string {
	res := g.cfg.Resources
	env := map[string]string{
		"DATA_HOST":        g.dest.IP.String(),
		"DATA_PORT":        strconv.Itoa(g.dest.Port),
		"SCAN_ID":          strconv.FormatUint(g.cfg.ScanID, 10),
		"SCANLEN_MAX":      strconv.FormatFloat(g.cfg.Scanlen, 'f', -1, 64),
		"DATA_GENERATOR":   string(g.cfg.Source.Kind),
		"UDP_FORMAT":       res.UDPFormat,
		"NCHAN":            strconv.Itoa(res.Nchan),
		"NPOL":             strconv.Itoa(res.Npol),
		"NBIT":             strconv.Itoa(res.Nbits),
		"NDIM":             strconv.Itoa(res.Ndim),
		"TSAMP":            strconv.FormatFloat(res.Tsamp, 'f', -1, 64),
		"BYTES_PER_SECOND": strconv.FormatFloat(res.BytesPerSecond, 'f', -1, 64),
		"RESOLUTION":       strconv.Itoa(res.Resolution),
		"BEAM_ID":          res.BeamID,
		"DATA_KEY":         res.DataKey,
		"WEIGHTS_KEY":      res.WeightsKey,
		"TELESCOPE":        res.Telescope,
	}
	if env["DATA_GENERATOR"] == "" {
		env["DATA_GENERATOR"] = string(Random)
	}

	setFloat := func(key string, v *float64) {
		if v != nil {
			env[key] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	setFloat("SINUSOID_FREQ", g.cfg.Source.Sine.SinusoidFreq)
	setFloat("NORMAL_DIST_MEAN", g.cfg.Source.Gaussian.NormalDistMean)
	setFloat("NORMAL_DIST_STDDEV", g.cfg.Source.Gaussian.NormalDistStddev)
	setFloat("NORMAL_DIST_RED_STDDEV", g.cfg.Source.Gaussian.NormalDistRedStddev)
	sq := g.cfg.Source.Square
	setFloat("CAL_OFF_INTENSITY", sq.CalOffIntensity)
	setFloat("CAL_ON_INTENSITY", sq.CalOnIntensity)
	setFloat("CAL_ON_POL_0_INTENSITY", sq.CalOnPol0Intensity)
	setFloat("CAL_ON_POL_1_INTENSITY", sq.CalOnPol1Intensity)
	setFloat("CAL_ON_CHAN_0_INTENSITY", sq.CalOnChan0Intensity)
	setFloat("CAL_ON_CHAN_N_INTENSITY", sq.CalOnChanNIntensity)
	setFloat("CAL_ON_POL_0_CHAN_0_INTENSITY", sq.CalOnPol0Chan0Intensity)
	setFloat("CAL_ON_POL_0_CHAN_N_INTENSITY", sq.CalOnPol0ChanNIntensity)
	setFloat("CAL_ON_POL_1_CHAN_0_INTENSITY", sq.CalOnPol1Chan0Intensity)
	setFloat("CAL_ON_POL_1_CHAN_N_INTENSITY", sq.CalOnPol1ChanNIntensity)
	setFloat("CAL_DUTY_CYCLE", sq.CalDutyCycle)
	setFloat("CALFREQ", sq.CalFreq)
	return env
}

// WriteConfigFile writes the generator environment as "KEY value" lines,
// sorted by key.
func (g *Generator) WriteConfigFile(fsys fsutil.FileSystem, path string) error {
	env := g.Environment()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%-31s %s\n", k, env[k])
	}
	if err := fsys.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write generator config %s: %w", path, err)
	}
	monitoring.Logf("udpgen: wrote generator config to %s", path)
	return nil
}
