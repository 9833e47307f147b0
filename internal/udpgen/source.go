// Package udpgen streams synthetic beam data over UDP at the rate a real
// beamformer would, so the receive and disk-writer chain can be exercised
// without upstream hardware. A generator is configured from a scan's derived
// resources and a signal source, sends for the scan length, and can be
// aborted early.
package udpgen

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// GeneratorKind names a signal source.
type GeneratorKind string

const (
	// Random sends uniform random samples. The default.
	Random GeneratorKind = "Random"
	// GaussianNoise sends normally distributed samples, optionally with a
	// red noise component.
	GaussianNoise GeneratorKind = "GaussianNoise"
	// Sine sends a tone at a fixed frequency.
	Sine GeneratorKind = "Sine"
	// SquareWave sends noise whose intensity switches between an on and
	// an off level at a fixed cal frequency.
	SquareWave GeneratorKind = "SquareWave"
)

// ParseGeneratorKind validates a generator name. Empty means Random.
func ParseGeneratorKind(s string) (GeneratorKind, error) {
	switch GeneratorKind(s) {
	case "":
		return Random, nil
	case Random, GaussianNoise, Sine, SquareWave:
		return GeneratorKind(s), nil
	default:
		return "", fmt.Errorf("unknown data generator %q", s)
	}
}

// Source produces the complex voltage sample at time index t for a channel
// and polarization. Implementations need not be safe for concurrent use; a
// generator drives its source from a single goroutine.
type Source interface {
	Sample(t, channel, pol int) complex128
}

// SineWaveConfig configures the Sine source.
type SineWaveConfig struct {
	// SinusoidFreq is the tone frequency in Hz. Required.
	SinusoidFreq *float64 `json:"sinusoid_freq,omitempty" yaml:"sinusoid_freq,omitempty"`
}

func (c SineWaveConfig) validate() error {
	if c.SinusoidFreq == nil {
		return fmt.Errorf("expected sinusoid_freq set when data generator is %q", Sine)
	}
	return nil
}

// GaussianNoiseConfig configures the GaussianNoise source. Unset fields take
// the defaults: mean 0, standard deviation 10, no red noise.
type GaussianNoiseConfig struct {
	NormalDistMean      *float64 `json:"normal_dist_mean,omitempty" yaml:"normal_dist_mean,omitempty"`
	NormalDistStddev    *float64 `json:"normal_dist_stddev,omitempty" yaml:"normal_dist_stddev,omitempty"`
	NormalDistRedStddev *float64 `json:"normal_dist_red_stddev,omitempty" yaml:"normal_dist_red_stddev,omitempty"`
}

func (c GaussianNoiseConfig) validate() error {
	if c.NormalDistStddev != nil && *c.NormalDistStddev <= 0 {
		return fmt.Errorf("expected normal_dist_stddev to be greater than 0 when data generator is %q", GaussianNoise)
	}
	if c.NormalDistRedStddev != nil && *c.NormalDistRedStddev <= 0 {
		return fmt.Errorf("expected normal_dist_red_stddev to be greater than 0 when data generator is %q", GaussianNoise)
	}
	return nil
}

// SquareWaveConfig configures the SquareWave source. Intensities later in
// the field list override earlier ones where they overlap; a chan-0
// intensity requires its matching chan-n intensity, which together define a
// gradient across the band.
type SquareWaveConfig struct {
	CalOffIntensity         *float64 `json:"cal_off_intensity,omitempty" yaml:"cal_off_intensity,omitempty"`
	CalOnIntensity          *float64 `json:"cal_on_intensity,omitempty" yaml:"cal_on_intensity,omitempty"`
	CalOnPol0Intensity      *float64 `json:"cal_on_pol_0_intensity,omitempty" yaml:"cal_on_pol_0_intensity,omitempty"`
	CalOnPol1Intensity      *float64 `json:"cal_on_pol_1_intensity,omitempty" yaml:"cal_on_pol_1_intensity,omitempty"`
	CalOnChan0Intensity     *float64 `json:"cal_on_chan_0_intensity,omitempty" yaml:"cal_on_chan_0_intensity,omitempty"`
	CalOnChanNIntensity     *float64 `json:"cal_on_chan_n_intensity,omitempty" yaml:"cal_on_chan_n_intensity,omitempty"`
	CalOnPol0Chan0Intensity *float64 `json:"cal_on_pol_0_chan_0_intensity,omitempty" yaml:"cal_on_pol_0_chan_0_intensity,omitempty"`
	CalOnPol0ChanNIntensity *float64 `json:"cal_on_pol_0_chan_n_intensity,omitempty" yaml:"cal_on_pol_0_chan_n_intensity,omitempty"`
	CalOnPol1Chan0Intensity *float64 `json:"cal_on_pol_1_chan_0_intensity,omitempty" yaml:"cal_on_pol_1_chan_0_intensity,omitempty"`
	CalOnPol1ChanNIntensity *float64 `json:"cal_on_pol_1_chan_n_intensity,omitempty" yaml:"cal_on_pol_1_chan_n_intensity,omitempty"`
	CalDutyCycle            *float64 `json:"cal_duty_cycle,omitempty" yaml:"cal_duty_cycle,omitempty"`
	CalFreq                 *float64 `json:"calfreq,omitempty" yaml:"calfreq,omitempty"`
}

func (c SquareWaveConfig) validate() error {
	pairs := []struct {
		name string
		a, b *float64
	}{
		{"cal_on_chan_0_intensity/cal_on_chan_n_intensity", c.CalOnChan0Intensity, c.CalOnChanNIntensity},
		{"cal_on_pol_0_chan_0_intensity/cal_on_pol_0_chan_n_intensity", c.CalOnPol0Chan0Intensity, c.CalOnPol0ChanNIntensity},
		{"cal_on_pol_1_chan_0_intensity/cal_on_pol_1_chan_n_intensity", c.CalOnPol1Chan0Intensity, c.CalOnPol1ChanNIntensity},
	}
	for _, p := range pairs {
		if (p.a == nil) != (p.b == nil) {
			return fmt.Errorf("expected both of %s set when data generator is %q", p.name, SquareWave)
		}
	}
	if c.CalDutyCycle != nil && (*c.CalDutyCycle <= 0 || *c.CalDutyCycle >= 1) {
		return fmt.Errorf("expected cal_duty_cycle to be within (0.0, 1.0) when data generator is %q", SquareWave)
	}
	if c.CalFreq != nil && *c.CalFreq <= 0 {
		return fmt.Errorf("expected calfreq to be greater than 0 when data generator is %q", SquareWave)
	}
	return nil
}

// SourceConfig bundles a generator kind with its parameters.
type SourceConfig struct {
	Kind     GeneratorKind       `yaml:"data_generator"`
	Sine     SineWaveConfig      `yaml:",inline"`
	Gaussian GaussianNoiseConfig `yaml:",inline"`
	Square   SquareWaveConfig    `yaml:",inline"`
}

// Validate checks the parameters for the configured kind.
func (c SourceConfig) Validate() error {
	switch c.Kind {
	case "", Random:
		return nil
	case Sine:
		return c.Sine.validate()
	case GaussianNoise:
		return c.Gaussian.validate()
	case SquareWave:
		return c.Square.validate()
	default:
		return fmt.Errorf("unknown data generator %q", c.Kind)
	}
}

// sourceParams are the stream properties a source needs beyond its own
// configuration.
type sourceParams struct {
	nchan int
	npol  int
	tsamp float64 // microseconds per sample
	scale float64 // full-scale sample amplitude
	seed  int64
}

// NewSource builds the source for a validated configuration.
func NewSource(cfg SourceConfig, p sourceParams) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case "", Random:
		return newRandomSource(p), nil
	case Sine:
		return newSineSource(*cfg.Sine.SinusoidFreq, p), nil
	case GaussianNoise:
		return newGaussianSource(cfg.Gaussian, p), nil
	case SquareWave:
		return newSquareWaveSource(cfg.Square, p), nil
	default:
		return nil, fmt.Errorf("unknown data generator %q", cfg.Kind)
	}
}

type randomSource struct {
	rng   *rand.Rand
	scale float64
}

func newRandomSource(p sourceParams) *randomSource {
	return &randomSource{rng: rand.New(randSource(p.seed)), scale: p.scale}
}

func (s *randomSource) Sample(_, _, _ int) complex128 {
	return complex(
		(s.rng.Float64()*2-1)*s.scale,
		(s.rng.Float64()*2-1)*s.scale,
	)
}

type sineSource struct {
	freq  float64 // Hz
	rate  float64 // samples per second
	scale float64
}

func newSineSource(freqHz float64, p sourceParams) *sineSource {
	return &sineSource{
		freq:  freqHz,
		rate:  1e6 / p.tsamp,
		scale: p.scale,
	}
}

// Sample emits a complex exponential so the tone lands in a single spectral
// bin rather than a mirrored pair.
func (s *sineSource) Sample(t, _, _ int) complex128 {
	phase := 2 * math.Pi * s.freq * float64(t) / s.rate
	return complex(s.scale*math.Cos(phase), s.scale*math.Sin(phase))
}

type gaussianSource struct {
	white distuv.Normal
	red   *distuv.Normal
	walk  float64
}

func newGaussianSource(cfg GaussianNoiseConfig, p sourceParams) *gaussianSource {
	mean := 0.0
	if cfg.NormalDistMean != nil {
		mean = *cfg.NormalDistMean
	}
	stddev := 10.0
	if cfg.NormalDistStddev != nil {
		stddev = *cfg.NormalDistStddev
	}
	src := &gaussianSource{
		white: distuv.Normal{Mu: mean, Sigma: stddev, Src: randSource(p.seed)},
	}
	if cfg.NormalDistRedStddev != nil && *cfg.NormalDistRedStddev > 0 {
		src.red = &distuv.Normal{Mu: 0, Sigma: *cfg.NormalDistRedStddev, Src: randSource(p.seed + 1)}
	}
	return src
}

func (s *gaussianSource) Sample(_, _, _ int) complex128 {
	if s.red != nil {
		// Red noise is an accumulated random walk on top of the white
		// component.
		s.walk += s.red.Rand()
	}
	return complex(s.white.Rand()+s.walk, s.white.Rand()+s.walk)
}

type squareWaveSource struct {
	noise     distuv.Normal
	rate      float64 // samples per second
	calFreq   float64
	dutyCycle float64
	nchan     int
	offSigma  float64
	onSigma   [][]float64 // [pol][chan]
}

func newSquareWaveSource(cfg SquareWaveConfig, p sourceParams) *squareWaveSource {
	s := &squareWaveSource{
		noise:     distuv.Normal{Mu: 0, Sigma: 1, Src: randSource(p.seed)},
		rate:      1e6 / p.tsamp,
		calFreq:   1.0,
		dutyCycle: 0.5,
		nchan:     p.nchan,
	}
	if cfg.CalFreq != nil {
		s.calFreq = *cfg.CalFreq
	}
	if cfg.CalDutyCycle != nil {
		s.dutyCycle = *cfg.CalDutyCycle
	}

	offIntensity := 1.0
	if cfg.CalOffIntensity != nil {
		offIntensity = *cfg.CalOffIntensity
	}
	s.offSigma = math.Sqrt(offIntensity)

	// Later, more specific intensities override earlier ones.
	on := make([][]float64, p.npol)
	for pol := range on {
		on[pol] = make([]float64, p.nchan)
		for ch := range on[pol] {
			on[pol][ch] = 10 * offIntensity
		}
	}
	setAll := func(pols []int, chan0, chanN *float64) {
		if chan0 == nil {
			return
		}
		for _, pol := range pols {
			for ch := 0; ch < p.nchan; ch++ {
				frac := 0.0
				if p.nchan > 1 {
					frac = float64(ch) / float64(p.nchan)
				}
				on[pol][ch] = *chan0 + (*chanN-*chan0)*frac
			}
		}
	}
	setFlat := func(pols []int, v *float64) {
		if v == nil {
			return
		}
		for _, pol := range pols {
			for ch := 0; ch < p.nchan; ch++ {
				on[pol][ch] = *v
			}
		}
	}
	allPols := make([]int, p.npol)
	for i := range allPols {
		allPols[i] = i
	}
	setFlat(allPols, cfg.CalOnIntensity)
	setFlat([]int{0}, cfg.CalOnPol0Intensity)
	if p.npol > 1 {
		setFlat([]int{1}, cfg.CalOnPol1Intensity)
	}
	setAll(allPols, cfg.CalOnChan0Intensity, cfg.CalOnChanNIntensity)
	setAll([]int{0}, cfg.CalOnPol0Chan0Intensity, cfg.CalOnPol0ChanNIntensity)
	if p.npol > 1 {
		setAll([]int{1}, cfg.CalOnPol1Chan0Intensity, cfg.CalOnPol1ChanNIntensity)
	}

	s.onSigma = make([][]float64, len(on))
	for pol := range on {
		s.onSigma[pol] = make([]float64, p.nchan)
		for ch := range on[pol] {
			s.onSigma[pol][ch] = math.Sqrt(on[pol][ch])
		}
	}
	return s
}

func (s *squareWaveSource) Sample(t, channel, pol int) complex128 {
	phase := math.Mod(float64(t)/s.rate*s.calFreq, 1.0)
	sigma := s.offSigma
	if phase < s.dutyCycle {
		sigma = s.onSigma[pol][channel]
	}
	return complex(s.noise.Rand()*sigma, s.noise.Rand()*sigma)
}

// randSource adapts a seed to the source interface distuv uses.
func randSource(seed int64) rand.Source {
	return rand.NewPCG(uint64(seed), 0)
}
