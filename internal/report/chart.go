package report

import (
	"fmt"
	"image/color"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sells-group/ohsome-cli/internal/model"
)

const (
	chartWidth  = 10 * vg.Inch
	chartHeight = 4 * vg.Inch
	dateFormat  = "2006-01-02"
)

var kindColors = map[model.MetricKind]color.RGBA{
	model.MetricCreated:  {R: 0x1b, G: 0x9e, B: 0x77, A: 0xff},
	model.MetricModified: {R: 0xd9, G: 0x5f, B: 0x02, A: 0xff},
	model.MetricDeleted:  {R: 0x75, G: 0x70, B: 0xb3, A: 0xff},
}

var fitColor = color.RGBA{R: 0xe7, G: 0x29, B: 0x8a, A: 0xff}

func xy(ts []time.Time, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(ts))
	for i := range ts {
		pts[i].X = float64(ts[i].Unix())
		pts[i].Y = ys[i]
	}
	return pts
}

func newTimePlot(title, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "date"
	p.Y.Label.Text = ylabel
	p.X.Tick.Marker = plot.TimeTicks{Format: dateFormat}
	p.Add(plotter.NewGrid())
	return p
}

// writeSeriesChart plots the daily counts of one merged series.
func writeSeriesChart(path, region string, s model.MergedSeries) error {
	ys := make([]float64, s.Len())
	for i, r := range s.Records {
		ys[i] = float64(r.Count)
	}

	p := newTimePlot(fmt.Sprintf("%s cell %d: %s per day", region, s.CellID, s.Kind), "contributions")
	line, err := plotter.NewLine(xy(s.Timestamps(), ys))
	if err != nil {
		return eris.Wrap(err, "report: series line")
	}
	line.LineStyle.Color = kindColors[s.Kind]
	line.LineStyle.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return eris.Wrapf(err, "report: save chart %s", path)
	}
	return nil
}

// writeCumulativeChart plots the running total with the fitted logistic
// curve overlaid when the fit succeeded.
func writeCumulativeChart(path, region string, s model.MergedSeries, fit *model.SaturationFit) error {
	cum := s.Cumulative()
	ys := make([]float64, len(cum))
	for i, c := range cum {
		ys[i] = float64(c)
	}
	ts := s.Timestamps()

	p := newTimePlot(fmt.Sprintf("%s cell %d: cumulative %s", region, s.CellID, s.Kind), "cumulative contributions")
	obs, err := plotter.NewScatter(xy(ts, ys))
	if err != nil {
		return eris.Wrap(err, "report: cumulative scatter")
	}
	obs.GlyphStyle.Color = kindColors[s.Kind]
	obs.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(obs)
	p.Legend.Add("observed", obs)

	if fit != nil && fit.Status == model.FitOK {
		fitted := make([]float64, len(ts))
		for i, t := range ts {
			fitted[i] = fit.Evaluate(t)
		}
		curve, err := plotter.NewLine(xy(ts, fitted))
		if err != nil {
			return eris.Wrap(err, "report: fit line")
		}
		curve.LineStyle.Color = fitColor
		curve.LineStyle.Width = vg.Points(1.5)
		p.Add(curve)
		p.Legend.Add(fmt.Sprintf("logistic K=%.0f R²=%.3f", fit.Capacity, fit.RSquared), curve)
	}
	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return eris.Wrapf(err, "report: save chart %s", path)
	}
	return nil
}

// writeTypeChart compares the created, modified and deleted totals of a cell.
func writeTypeChart(path, region string, c model.CellResult) error {
	bars := make([]bar, 0, len(model.AllMetrics))
	for _, kind := range model.AllMetrics {
		var total int64
		if s, ok := c.Series[kind]; ok {
			total = s.Total()
		}
		bars = append(bars, bar{name: string(kind), value: float64(total), color: kindColors[kind]})
	}
	title := fmt.Sprintf("%s cell %d: contributions by type", region, c.CellID)
	return writeBarChart(path, title, "contribution type", "contributions", bars)
}
