// scangen emits a generated scan configuration as JSON on stdout.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/openpst/pstbench/internal/scanconfig"
	"github.com/openpst/pstbench/internal/telescope"
	"github.com/openpst/pstbench/internal/version"
)

// overrides collects repeated -set key=value flags. Values that parse as
// JSON keep their type; anything else is a string.
type overrides map[string]any

func (o overrides) String() string { return fmt.Sprintf("%v", map[string]any(o)) }

func (o overrides) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	o[key] = v
	return nil
}

func main() {
	beam := flag.Int("beam", 1, "beam id")
	band := flag.String("band", "low", "frequency band (low, 1, 2, 3, 4, 5a, 5b)")
	mode := flag.String("mode", "voltage recorder", "observation mode")
	maxScanlen := flag.Float64("max-scanlen", 0, "maximum scan length in seconds (0 keeps the default)")
	seed := flag.Int64("seed", 0, "random seed (0 seeds from the clock)")
	dataPort := flag.Int("resources-port", 0, "also print the calculated scan resources for this data port")
	sets := overrides{}
	flag.Var(sets, "set", "override a configuration key, e.g. -set subarray_id=3 (repeatable)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("scangen " + version.String())
		return
	}

	obsMode, err := telescope.ParseObservationMode(*mode)
	if err != nil {
		log.Fatalf("invalid mode: %v", err)
	}

	opts := []scanconfig.Option{scanconfig.WithObservationMode(obsMode)}
	if *maxScanlen > 0 {
		opts = append(opts, scanconfig.WithMaxScanLength(*maxScanlen))
	}
	if *seed != 0 {
		opts = append(opts, scanconfig.WithSeed(*seed))
	}

	gen := scanconfig.New(*beam, *band, opts...)
	for key, value := range sets {
		gen.Override(key, value)
	}

	if _, err := gen.Generate(); err != nil {
		log.Fatalf("generate scan configuration: %v", err)
	}

	data, err := gen.CurrentJSON()
	if err != nil {
		log.Fatalf("encode scan configuration: %v", err)
	}
	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err != nil {
		log.Fatalf("encode scan configuration: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pretty); err != nil {
		log.Fatalf("write scan configuration: %v", err)
	}

	if *dataPort > 0 {
		res, err := gen.CalculateResources(*dataPort)
		if err != nil {
			log.Fatalf("calculate resources: %v", err)
		}
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("write resources: %v", err)
		}
	}
}
