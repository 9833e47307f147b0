// bandpass inspects a recorded bandpass file: prints the per-polarisation
// maxima, optionally validates a sine tone landed in the expected channel,
// and renders plots.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/openpst/pstbench/internal/bandpass"
	"github.com/openpst/pstbench/internal/fsutil"
	"github.com/openpst/pstbench/internal/version"
)

func main() {
	validate := flag.Int("validate", -1, "expected peak channel (-1 skips validation)")
	dbLimit := flag.Float64("db-limit", bandpass.DefaultDBLimit, "maximum power outside the peak channel, in dB")
	pngPath := flag.String("png", "", "write a plot image to this path")
	htmlPath := flag.String("html", "", "write an interactive chart to this path")
	decibels := flag.Bool("db", false, "plot in decibels relative to the peak instead of raw power")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("bandpass " + version.String())
		return
	}

	if flag.NArg() != 1 {
		log.Fatalf("usage: bandpass [flags] <bandpass file>")
	}

	fsys := fsutil.OSFileSystem{}
	bp, err := bandpass.ReadFile(fsys, flag.Arg(0))
	if err != nil {
		log.Fatalf("%v", err)
	}

	for pol, m := range bp.Maxima() {
		fmt.Printf("polarisation=%d max channel=%d value=%g\n", pol, m.Channel, m.Value)
	}

	scale := bandpass.Linear
	if *decibels {
		scale = bandpass.Decibel
	}
	if *pngPath != "" {
		if err := bp.SavePlot(*pngPath, scale); err != nil {
			log.Fatalf("save plot: %v", err)
		}
		log.Printf("wrote %s", *pngPath)
	}
	if *htmlPath != "" {
		f, err := os.Create(*htmlPath)
		if err != nil {
			log.Fatalf("create chart file: %v", err)
		}
		if err := bp.RenderChart(f, scale); err != nil {
			f.Close()
			log.Fatalf("render chart: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("close chart file: %v", err)
		}
		log.Printf("wrote %s", *htmlPath)
	}

	if *validate >= 0 {
		if err := bp.ValidateMaxima(*validate, *dbLimit); err != nil {
			log.Fatalf("bandpass validation failed:\n%v", err)
		}
		fmt.Printf("bandpass peak confirmed in channel %d\n", *validate)
	}
}
