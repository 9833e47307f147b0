package scanconfig

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/openpst/pstbench/internal/resources"
	"github.com/openpst/pstbench/internal/telescope"
)

const configIDLength = 20

const configIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-"

// Generator produces scan configurations for a beam. Each call to Generate
// yields a configuration with a config id never produced before by this
// generator. Overrides are applied to the JSON document after the typed
// configuration is built, so they may introduce values the typed model
// cannot represent, which is exactly what rejection tests need.
type Generator struct {
	mu sync.Mutex

	beamID          int
	facility        telescope.Facility
	frequencyBand   string
	maxScanLength   float64
	observationMode telescope.ObservationMode

	overrides map[string]any
	fixed     *ScanConfiguration

	rng         *rand.Rand
	usedIDs     map[string]struct{}
	current     *ScanConfiguration
	currentDoc  map[string]any
	currentEbID string
}

// Option configures a Generator.
type Option func(*Generator)

// WithFacility sets the target facility. The default is derived from the
// frequency band.
func WithFacility(f telescope.Facility) Option {
	return func(g *Generator) { g.facility = f }
}

// WithObservationMode sets the observation mode of generated configurations.
func WithObservationMode(m telescope.ObservationMode) Option {
	return func(g *Generator) { g.observationMode = m }
}

// WithMaxScanLength sets the maximum scan length in seconds.
func WithMaxScanLength(seconds float64) Option {
	return func(g *Generator) { g.maxScanLength = seconds }
}

// WithSeed seeds the generator's random source, making config and execution
// block ids reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithFixedConfiguration makes the generator replay the given configuration
// instead of generating fresh ones. Overrides still apply on top of it.
func WithFixedConfiguration(cfg *ScanConfiguration) Option {
	return func(g *Generator) { g.fixed = cfg }
}

// New creates a Generator for a beam and frequency band. An empty band means
// the low band.
func New(beamID int, frequencyBand string, opts ...Option) *Generator {
	g := &Generator{
		beamID:          beamID,
		frequencyBand:   frequencyBand,
		maxScanLength:   10.0,
		observationMode: telescope.VoltageRecorder,
		overrides:       map[string]any{},
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		usedIDs:         map[string]struct{}{},
	}
	if frequencyBand == "" || frequencyBand == "low" {
		g.facility = telescope.FacilityLow
	} else {
		g.facility = telescope.FacilityMid
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Facility returns the facility configurations are generated for.
func (g *Generator) Facility() telescope.Facility { return g.facility }

// FrequencyBand returns the frequency band configurations are generated for.
func (g *Generator) FrequencyBand() string { return g.frequencyBand }

// ObservationMode returns the observation mode of generated configurations.
func (g *Generator) ObservationMode() telescope.ObservationMode { return g.observationMode }

// Override replaces the value of a scan key in generated documents. key is a
// key within the pst scan section, or one of "config_id", "subarray_id",
// "frequency_band" and "eb_id" for the common section. Setting an override
// does not affect the configuration already generated.
func (g *Generator) Override(key string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides[key] = value
}

// ClearOverrides removes all overrides.
func (g *Generator) ClearOverrides() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides = map[string]any{}
}

// Generate produces the next scan configuration and remembers it as the
// current one. Typed fields reflect overrides only where the override value
// fits the field; the JSON document from CurrentJSON always carries the raw
// override values.
func (g *Generator) Generate() (*ScanConfiguration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var cfg ScanConfiguration
	if g.fixed != nil {
		cfg = *g.fixed
	} else {
		cfg = ScanConfiguration{
			Interface: InterfaceVersion,
			Common: Common{
				ConfigID:      g.nextConfigID(),
				SubarrayID:    1,
				FrequencyBand: g.frequencyBand,
				EbID:          g.nextEbID(),
			},
			PST: PST{Scan: g.defaultScanParameters()},
		}
	}

	doc, err := applyOverrides(&cfg, g.overrides)
	if err != nil {
		return nil, err
	}

	// Fold compatible overrides back into the typed configuration so
	// resource calculations see them. Unmarshal keeps going past type
	// mismatches, so an override the model cannot represent leaves that
	// field at its zero value while the rest decode normally.
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("remarshal configuration: %w", err)
	}
	var typed ScanConfiguration
	_ = json.Unmarshal(merged, &typed)
	cfg = typed

	g.current = &cfg
	g.currentDoc = doc
	g.currentEbID = cfg.Common.EbID
	return g.current, nil
}

// Current returns the most recently generated configuration, or nil if none
// has been generated yet.
func (g *Generator) Current() *ScanConfiguration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// CurrentConfigID returns the config id of the current configuration.
func (g *Generator) CurrentConfigID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return ""
	}
	return g.current.Common.ConfigID
}

// CurrentEbID returns the execution block id of the current configuration.
func (g *Generator) CurrentEbID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentEbID
}

// CurrentJSON renders the current configuration document, overrides
// included, as indented JSON.
func (g *Generator) CurrentJSON() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentDoc == nil {
		return nil, fmt.Errorf("no configuration generated yet")
	}
	return json.MarshalIndent(g.currentDoc, "", "  ")
}

// CalculateResources derives the scan resources of the current configuration
// using the local host as data receiver.
func (g *Generator) CalculateResources(dataPort int) (resources.ScanResources, error) {
	g.mu.Lock()
	cfg := g.current
	facility := g.facility
	beamID := g.beamID
	g.mu.Unlock()

	if cfg == nil {
		return resources.ScanResources{}, fmt.Errorf("no configuration generated yet")
	}
	host, err := LocalHostIP()
	if err != nil {
		return resources.ScanResources{}, err
	}
	return resources.CalculateScanResources(beamID, cfg.Request(), facility, host, dataPort)
}

func (g *Generator) nextConfigID() string {
	for {
		b := make([]byte, configIDLength)
		for i := range b {
			b[i] = configIDAlphabet[g.rng.Intn(len(configIDAlphabet))]
		}
		id := string(b)
		if _, used := g.usedIDs[id]; !used {
			g.usedIDs[id] = struct{}{}
			return id
		}
	}
}

// nextEbID generates an execution block id of the form
// eb-x999-20260823-99999 that this generator has not produced before.
func (g *Generator) nextEbID() string {
	date := time.Now().Format("20060102")
	for {
		id := fmt.Sprintf("eb-%c%03d-%s-%05d",
			'a'+rune(g.rng.Intn(26)), g.rng.Intn(1000), date, g.rng.Intn(100000))
		if _, used := g.usedIDs[id]; !used {
			g.usedIDs[id] = struct{}{}
			return id
		}
	}
}

func (g *Generator) defaultScanParameters() ScanParameters {
	band, err := telescope.BandConfigFor(g.frequencyBand)
	if err != nil {
		// Generation with an unknown band still produces a document so
		// rejection paths can be exercised; the packet geometry falls
		// back to the low band.
		band, _ = telescope.BandConfigFor("low")
	}
	return ScanParameters{
		ActivationTime:       time.Now().UTC().Format(time.RFC3339),
		TimingBeamID:         fmt.Sprintf("%d", g.beamID),
		BitsPerSample:        32,
		NumOfPolarizations:   2,
		UDPNsamp:             band.PacketNsamp,
		WTNsamp:              band.PacketNsamp,
		UDPNchan:             band.PacketNchan,
		NumFrequencyChannels: 432,
		CentreFrequency:      1_000_000_000.0,
		TotalBandwidth:       1_562_500.0,
		ObservationMode:      string(g.observationMode),
		ObserverID:           "jdoe",
		ProjectID:            "project1",
		PointingID:           "pointing1",
		Source:               "J1921+2153",
		ITRF:                 []float64{5109360.133, 2006852.586, -3238948.127},
		ReceiverID:           "receiver3",
		FeedPolarization:     "LIN",
		FeedHandedness:       1,
		FeedAngle:            10.0,
		FeedTrackingMode:     "FA",
		FeedPositionAngle:    0.0,
		OversamplingRatio:    [2]int{4, 3},
		Coordinates: resources.Coordinates{
			Equinox: resources.DefaultEquinox,
			RA:      "19:21:44.815",
			Dec:     "21:53:02.400",
		},
		MaxScanLength:           g.maxScanLength,
		SubintDuration:          30.0,
		Receptors:               []string{"receptor1"},
		ReceptorWeights:         []float64{1.0},
		NumChannelizationStages: 1,
		ChannelizationStages: []ChannelizationStage{
			{
				NumFilterTaps:        1,
				FilterCoefficients:   []float64{1.0},
				NumFrequencyChannels: 432,
				OversamplingRatio:    [2]int{4, 3},
			},
		},
	}
}

// commonKeys are override keys that land in the common section rather than
// the pst scan section.
var commonKeys = map[string]struct{}{
	"config_id":      {},
	"subarray_id":    {},
	"frequency_band": {},
	"eb_id":          {},
}

// applyOverrides renders the configuration to a JSON document and merges the
// overrides in.
func applyOverrides(cfg *ScanConfiguration, overrides map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if len(overrides) == 0 {
		return doc, nil
	}

	common, _ := doc["common"].(map[string]any)
	pst, _ := doc["pst"].(map[string]any)
	var scan map[string]any
	if pst != nil {
		scan, _ = pst["scan"].(map[string]any)
	}
	for key, value := range overrides {
		if _, ok := commonKeys[key]; ok && common != nil {
			common[key] = value
			continue
		}
		if scan != nil {
			scan[key] = value
		}
	}
	return doc, nil
}

// LocalHostIP returns the first non-loopback IPv4 address of the host, used
// as the data receiver endpoint when the bench receives its own traffic.
func LocalHostIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "127.0.0.1", nil
}
