package bandpass

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Scale selects the y axis of a rendered bandpass.
type Scale int

const (
	// Linear plots uncalibrated power.
	Linear Scale = iota
	// Decibel plots power relative to the per-polarization peak.
	Decibel
)

var polColors = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
}

// SavePlot renders the bandpass to a PNG file, one line per polarization.
func (b *Bandpass) SavePlot(path string, scale Scale) error {
	src := b
	yLabel := "Uncalibrated power"
	if scale == Decibel {
		src = b.Decibels(0)
		yLabel = "Power [dB]"
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Bandpass of %d channels with %d polarisations", b.Nchan(), b.Npol())
	p.X.Label.Text = "Frequency [MHz]"
	p.Y.Label.Text = yLabel

	for ipol, pol := range src.Power {
		pts := make(plotter.XYs, len(pol))
		for i, v := range pol {
			pts[i] = plotter.XY{X: src.Frequencies[i], Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("polarisation %d: %w", ipol, err)
		}
		line.Color = polColors[ipol%len(polColors)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Polarisation %d", ipol), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save bandpass plot: %w", err)
	}
	return nil
}
