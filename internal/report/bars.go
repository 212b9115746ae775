package report

import (
	"image/color"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

const (
	barWidth     = vg.Length(28) // points
	barChartSize = 8 * vg.Inch
)

// barPalette runs from dark purple to yellow, one step per bar.
var barPalette = []color.RGBA{
	{R: 0x44, G: 0x01, B: 0x54, A: 0xff},
	{R: 0x48, G: 0x28, B: 0x78, A: 0xff},
	{R: 0x3e, G: 0x4a, B: 0x89, A: 0xff},
	{R: 0x31, G: 0x68, B: 0x8e, A: 0xff},
	{R: 0x26, G: 0x82, B: 0x8e, A: 0xff},
	{R: 0x1f, G: 0x9e, B: 0x89, A: 0xff},
	{R: 0x35, G: 0xb7, B: 0x79, A: 0xff},
	{R: 0x6d, G: 0xcd, B: 0x59, A: 0xff},
	{R: 0xb4, G: 0xde, B: 0x2c, A: 0xff},
	{R: 0xfd, G: 0xe7, B: 0x25, A: 0xff},
}

type bar struct {
	name  string
	value float64
	color color.Color
}

// writeBarChart draws one labelled bar per entry, each with its value
// printed above it.
func writeBarChart(path, title, xlabel, ylabel string, bars []bar) error {
	if len(bars) == 0 {
		return eris.Errorf("report: no bars for %s", path)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	names := make([]string, len(bars))
	labels := plotter.XYLabels{XYs: make(plotter.XYs, len(bars)), Labels: make([]string, len(bars))}
	for i, b := range bars {
		chart, err := plotter.NewBarChart(plotter.Values{b.value}, barWidth)
		if err != nil {
			return eris.Wrapf(err, "report: bar %q", b.name)
		}
		chart.XMin = float64(i)
		chart.Color = b.color
		chart.LineStyle.Width = 0
		p.Add(chart)

		names[i] = b.name
		labels.XYs[i] = plotter.XY{X: float64(i), Y: b.value}
		labels.Labels[i] = humanize.Comma(int64(b.value))
	}
	p.NominalX(names...)

	values, err := plotter.NewLabels(labels)
	if err != nil {
		return eris.Wrap(err, "report: bar labels")
	}
	for i := range values.TextStyle {
		values.TextStyle[i].XAlign = text.XCenter
		values.TextStyle[i].YAlign = text.YBottom
	}
	values.Offset = vg.Point{Y: 3}
	p.Add(values)

	if err := p.Save(barChartSize, chartHeight+vg.Inch, path); err != nil {
		return eris.Wrapf(err, "report: save chart %s", path)
	}
	return nil
}

func paletteColor(i, n int) color.Color {
	if n <= 1 {
		return barPalette[0]
	}
	return barPalette[i*(len(barPalette)-1)/(n-1)]
}
