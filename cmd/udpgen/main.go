// udpgen streams synthetic beam data at a scan's natural rate to a UDP
// endpoint, standing in for the beamformer.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/openpst/pstbench/internal/config"
	"github.com/openpst/pstbench/internal/fsutil"
	"github.com/openpst/pstbench/internal/resources"
	"github.com/openpst/pstbench/internal/scanconfig"
	"github.com/openpst/pstbench/internal/udpgen"
	"github.com/openpst/pstbench/internal/version"
)

func main() {
	settingsPath := flag.String("settings", "", "bench settings JSON file supplying flag defaults")
	configPath := flag.String("config", "", "scan configuration JSON file (empty generates one)")
	beam := flag.Int("beam", 1, "beam id (used when generating a configuration)")
	band := flag.String("band", "low", "frequency band (used when generating a configuration)")
	host := flag.String("host", "127.0.0.1", "data receiver host")
	port := flag.Int("port", 0, "data receiver UDP port")
	scanID := flag.Uint64("scan-id", 0, "scan id (0 picks a fresh one)")
	scanlen := flag.Float64("scanlen", 10, "scan length in seconds")
	generator := flag.String("generator", "", "data generator (Random, GaussianNoise, Sine, SquareWave)")
	sineFreq := flag.Float64("sine-freq", 0, "sine tone frequency in Hz (required for Sine)")
	rate := flag.Float64("rate", 0, "send rate in bytes per second (0 paces at the natural rate, negative sends flat out)")
	drop := flag.String("drop", "", "comma separated packet sequence numbers to drop")
	seed := flag.Int64("seed", 0, "random seed (0 seeds from the clock)")
	profilePath := flag.String("profile", "", "generator profile YAML (overrides -generator and friends)")
	configOut := flag.String("config-out", "", "write the generator environment to this file (default config_scan_<scan id>.txt)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("udpgen " + version.String())
		return
	}

	if *settingsPath != "" {
		settings, err := config.Load(*settingsPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["beam"] {
			*beam = settings.GetBeamID()
		}
		if !set["band"] {
			*band = settings.GetFrequencyBand()
		}
		if !set["host"] {
			*host = settings.GetDataHost()
		}
		if !set["port"] {
			*port = settings.GetDataPort()
		}
		if !set["scanlen"] {
			*scanlen = settings.GetScanlen()
		}
	}

	if *port <= 0 {
		log.Fatalf("-port is required")
	}

	fsys := fsutil.OSFileSystem{}

	var cfg *scanconfig.ScanConfiguration
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("read scan configuration: %v", err)
		}
		cfg, err = scanconfig.ParseScanConfiguration(raw)
		if err != nil {
			log.Fatalf("parse scan configuration: %v", err)
		}
	} else {
		gen := scanconfig.New(*beam, *band)
		if _, err := gen.Generate(); err != nil {
			log.Fatalf("generate scan configuration: %v", err)
		}
		cfg = gen.Current()
	}
	res, err := resources.CalculateScanResources(*beam, cfg.Request(), cfg.Facility(), *host, *port)
	if err != nil {
		log.Fatalf("calculate scan resources: %v", err)
	}

	if *scanID == 0 {
		*scanID = scanconfig.NewScanIDFactory().Next()
	}

	kind, err := udpgen.ParseGeneratorKind(*generator)
	if err != nil {
		log.Fatalf("%v", err)
	}
	source := udpgen.SourceConfig{Kind: kind}
	if *sineFreq > 0 {
		f := *sineFreq
		source.Sine.SinusoidFreq = &f
	}

	genCfg := udpgen.Config{
		Resources:          res,
		ScanID:             *scanID,
		Scanlen:            *scanlen,
		Source:             source,
		RateBytesPerSecond: *rate,
		Seed:               *seed,
		FS:                 fsys,
		ConfigPath:         *configOut,
	}
	if *drop != "" {
		for _, field := range strings.Split(*drop, ",") {
			seq, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
			if err != nil {
				log.Fatalf("invalid -drop value %q: %v", field, err)
			}
			genCfg.DropPackets = append(genCfg.DropPackets, seq)
		}
	}

	if *profilePath != "" {
		profile, err := udpgen.LoadProfile(fsys, *profilePath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		profile.Apply(&genCfg)
	}

	g, err := udpgen.NewWithDestination(genCfg, *host, *port)
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Printf("sending scan %d to %s:%d for %.1fs", *scanID, *host, *port, *scanlen)
	if err := g.Generate(); err != nil {
		log.Fatalf("start generator: %v", err)
	}
	if !g.WaitForEndOfData() {
		log.Fatalf("generator failed: %v", g.Err())
	}
	packets, bytes := g.Stats()
	log.Printf("sent %d packets, %d bytes", packets, bytes)
}
