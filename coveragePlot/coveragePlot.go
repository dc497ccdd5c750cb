//Package coveragePlot draws how many coarse channels have data per timestep, and line plots of summary results
package coveragePlot

import (
	"fmt"
	"io"

	"golang.org/x/image/colornames"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
)

type sliceXY struct {
	yValues []float64
}

func (s *sliceXY) Len() int {
	return len(s.yValues)
}

func (s *sliceXY) XY(index int) (x, y float64) {
	x = float64(index)
	y = s.yValues[index]
	return
}

//ProvidedFunc reports whether (timestep, channel) has data, e.g. correlator.Context.Provided
type ProvidedFunc func(timestep, channel int) bool

//Counts returns the number of channels with data for every timestep
func Counts(provided ProvidedFunc, numTimesteps, numChannels int) []float64 {
	counts := make([]float64, numTimesteps)
	for ts := range counts {
		for ch := 0; ch < numChannels; ch++ {
			if provided(ts, ch) {
				counts[ts]++
			}
		}
	}
	return counts
}

//Plot creates a step plot of counts with a horizontal line at the number of catalog channels
func Plot(counts []float64, numChannels int) (*plot.Plot, error) {
	if len(counts) == 0 {
		return nil, fmt.Errorf("no timesteps to plot")
	}
	p := plot.New()
	p.Title.Text = "Coarse channel coverage"
	p.X.Label.Text = "Timestep"
	p.Y.Label.Text = "Channels with data"

	coverage, err := plotter.NewLine(&sliceXY{counts})
	if err != nil {
		return nil, fmt.Errorf("failed creating line for counts : %v", err)
	}
	coverage.StepStyle = plotter.PreStep

	full := plotter.NewFunction(func(x float64) float64 {
		return float64(numChannels)
	})
	full.Color = colornames.Red

	p.Add(coverage, full)
	p.Legend.Add("Provided", coverage)
	p.Legend.Add("Catalog", full)
	p.Legend.Top = true
	p.Y.Max = float64(numChannels) + 2
	p.Y.Min = 0
	p.X.Min = 0
	p.X.Max = float64(len(counts))
	return p, nil
}

//PlotValues creates a line plot of values over their index, e.g. the result of a summary
func PlotValues(title, xLabel string, values []float64) (*plot.Plot, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("no values to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Value"

	line, err := plotter.NewLine(&sliceXY{values})
	if err != nil {
		return nil, fmt.Errorf("failed creating line for values : %v", err)
	}
	line.Color = colornames.Blue
	p.Add(line)
	return p, nil
}

//Store renders p as png to out
func Store(p *plot.Plot, out io.Writer) error {
	writerTo, err := p.WriterTo(800, 600, "png")
	if err != nil {
		return fmt.Errorf("failed to prepare plot for writing : %v", err)
	}
	if _, err := writerTo.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write plot : %v", err)
	}
	return nil
}

//PlotAndStore wraps Plot and stores the result in out
func PlotAndStore(counts []float64, numChannels int, out io.Writer) error {
	p, err := Plot(counts, numChannels)
	if err != nil {
		return fmt.Errorf("failed to create plot : %v", err)
	}
	return Store(p, out)
}
