package bandpass

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderChart writes an interactive HTML line chart of the bandpass, one
// series per polarization.
func (b *Bandpass) RenderChart(w io.Writer, scale Scale) error {
	src := b
	yName := "Uncalibrated power"
	if scale == Decibel {
		src = b.Decibels(0)
		yName = "Power [dB]"
	}

	x := make([]string, src.Nchan())
	for i, f := range src.Frequencies {
		x[i] = fmt.Sprintf("%.3f", f)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Bandpass",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Bandpass",
			Subtitle: fmt.Sprintf("nchan=%d npol=%d", src.Nchan(), src.Npol()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frequency [MHz]"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)

	line.SetXAxis(x)
	for ipol, pol := range src.Power {
		data := make([]opts.LineData, len(pol))
		for i, v := range pol {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(fmt.Sprintf("Polarisation %d", ipol), data)
	}

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render bandpass chart: %w", err)
	}
	return nil
}
