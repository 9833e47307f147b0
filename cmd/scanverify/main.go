// scanverify checks the artefacts a scan left on the recording mount
// against the resources derived from its configuration, and can record the
// outcome in a session database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/openpst/pstbench/internal/config"
	"github.com/openpst/pstbench/internal/dada"
	"github.com/openpst/pstbench/internal/fsutil"
	"github.com/openpst/pstbench/internal/resources"
	"github.com/openpst/pstbench/internal/scanconfig"
	"github.com/openpst/pstbench/internal/scandb"
	"github.com/openpst/pstbench/internal/version"
)

func main() {
	settingsPath := flag.String("settings", "", "bench settings JSON file supplying flag defaults")
	configPath := flag.String("config", "", "scan configuration JSON file (required)")
	mount := flag.String("mount", "", "recording mount point (required)")
	ebID := flag.String("eb", "", "execution block id (defaults to the configuration's eb_id)")
	subsystem := flag.String("subsystem", "pst-low", "subsystem id in the recording path")
	scanID := flag.Uint64("scan-id", 0, "scan id (required)")
	scanlen := flag.Float64("scanlen", 0, "scan length in seconds (required)")
	beam := flag.Int("beam", 1, "beam id")
	dataPort := flag.Int("data-port", 10000, "data port used when deriving resources")
	sineFreq := flag.Float64("sine-freq", 0, "verify a sine tone at this frequency in Hz")
	sineTol := flag.Float64("sine-tol", 100, "sine frequency tolerance in Hz")
	drop := flag.String("drop", "", "comma separated packet sequence numbers that were dropped")
	dbPath := flag.String("db", "", "record check outcomes in this session database")
	session := flag.String("session", "", "session id to record under (empty starts a new session)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("scanverify " + version.String())
		return
	}

	if *settingsPath != "" {
		settings, err := config.Load(*settingsPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["mount"] {
			*mount = settings.GetMount()
		}
		if !set["subsystem"] {
			*subsystem = settings.GetSubsystemID()
		}
		if !set["beam"] {
			*beam = settings.GetBeamID()
		}
		if !set["data-port"] {
			*dataPort = settings.GetDataPort()
		}
		if !set["scanlen"] {
			*scanlen = settings.GetScanlen()
		}
		if !set["db"] {
			*dbPath = settings.GetSessionDB()
		}
	}

	if *configPath == "" || *mount == "" || *scanID == 0 || *scanlen <= 0 {
		log.Fatalf("-config, -mount, -scan-id and -scanlen are required")
	}

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatalf("read scan configuration: %v", err)
	}
	cfg, err := scanconfig.ParseScanConfiguration(raw)
	if err != nil {
		log.Fatalf("parse scan configuration: %v", err)
	}
	if *ebID == "" {
		*ebID = cfg.Common.EbID
	}

	res, err := resources.CalculateScanResources(*beam, cfg.Request(), cfg.Facility(), "127.0.0.1", *dataPort)
	if err != nil {
		log.Fatalf("calculate scan resources: %v", err)
	}

	verifier := &dada.Verifier{
		Recording: dada.Recording{
			FS:          fsutil.OSFileSystem{},
			Mount:       *mount,
			EbID:        *ebID,
			SubsystemID: *subsystem,
			ScanID:      *scanID,
		},
		Resources: res,
	}

	checks := []struct {
		name string
		run  func() error
	}{
		{"data_files_exist", func() error { return verifier.CheckFilesExist(dada.DataDir) }},
		{"weights_files_exist", func() error { return verifier.CheckFilesExist(dada.WeightsDir) }},
		{"data_contiguous", func() error { return verifier.CheckContiguousFiles(*scanlen, dada.DataDir) }},
		{"weights_contiguous", func() error { return verifier.CheckContiguousFiles(*scanlen, dada.WeightsDir) }},
	}
	if *drop != "" {
		var dropped []int
		for _, field := range strings.Split(*drop, ",") {
			seq, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				log.Fatalf("invalid -drop value %q: %v", field, err)
			}
			dropped = append(dropped, seq)
		}
		checks = append(checks, struct {
			name string
			run  func() error
		}{"dropped_packets", func() error { return verifier.CheckDroppedPackets(dropped) }})
	}
	if *sineFreq > 0 {
		checks = append(checks, struct {
			name string
			run  func() error
		}{"sinusoid_frequency", func() error { return verifier.CheckSinusoidFrequency(*sineFreq, *sineTol) }})
	}

	var store *scandb.Store
	if *dbPath != "" {
		store, err = scandb.Open(*dbPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer store.Close()
		if *session == "" {
			s, err := store.StartSession()
			if err != nil {
				log.Fatalf("%v", err)
			}
			*session = s.ID
			log.Printf("started session %s", *session)
		}
	}

	failed := 0
	for _, check := range checks {
		err := check.run()
		if err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", check.name, err)
		} else {
			fmt.Printf("ok   %s\n", check.name)
		}
		if store != nil {
			detail := ""
			if err != nil {
				detail = err.Error()
			}
			if rerr := store.RecordVerification(*session, *scanID, check.name, err == nil, detail); rerr != nil {
				log.Fatalf("record verification: %v", rerr)
			}
		}
	}

	if failed > 0 {
		log.Fatalf("%d of %d checks failed for scan %d", failed, len(checks), *scanID)
	}
	log.Printf("all %d checks passed for scan %d", len(checks), *scanID)
}
