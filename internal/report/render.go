// Package report writes charts, tables and run summaries to the output directory.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ohsome-cli/internal/grid"
	"github.com/sells-group/ohsome-cli/internal/model"
)

// Options selects which artifacts are produced.
type Options struct {
	Dir    string
	Region string
	Charts bool
	XLSX   bool
}

// Renderer writes report artifacts. All file names start with the region slug.
type Renderer struct {
	opts Options
	slug string
}

// NewRenderer creates the output directory if needed.
func NewRenderer(opts Options) (*Renderer, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "report: create output dir %s", opts.Dir)
	}
	return &Renderer{opts: opts, slug: Slug(opts.Region)}, nil
}

// Dir returns the output directory.
func (r *Renderer) Dir() string {
	return r.opts.Dir
}

func (r *Renderer) path(format string, args ...any) string {
	return filepath.Join(r.opts.Dir, r.slug+"_"+fmt.Sprintf(format, args...))
}

// RenderCell writes the per-cell CSV and, if enabled, one count chart and
// one cumulative chart per merged series plus a contribution type
// breakdown. It returns the written paths.
func (r *Renderer) RenderCell(c model.CellResult) ([]string, error) {
	var written []string
	if len(c.Series) == 0 {
		return written, nil
	}

	csvPath := r.path("cell_%d_series.csv", c.CellID)
	if err := writeCSV(csvPath, seriesRows(c.Series)); err != nil {
		return written, err
	}
	written = append(written, csvPath)

	if !r.opts.Charts {
		return written, nil
	}

	fits := make(map[model.MetricKind]*model.SaturationFit, len(c.Fits))
	for i := range c.Fits {
		fits[c.Fits[i].Kind] = &c.Fits[i]
	}

	for _, kind := range model.AllMetrics {
		s, ok := c.Series[kind]
		if !ok || s.Len() == 0 {
			continue
		}
		p := r.path("cell_%d_%s.png", c.CellID, kind)
		if err := writeSeriesChart(p, r.opts.Region, s); err != nil {
			return written, err
		}
		written = append(written, p)

		p = r.path("cell_%d_%s_cumulative.png", c.CellID, kind)
		if err := writeCumulativeChart(p, r.opts.Region, s, fits[kind]); err != nil {
			return written, err
		}
		written = append(written, p)
	}

	p := r.path("cell_%d_types.png", c.CellID)
	if err := writeTypeChart(p, r.opts.Region, c); err != nil {
		return written, err
	}
	written = append(written, p)

	zap.L().Debug("report: rendered cell", zap.Int64("cell", c.CellID), zap.Int("files", len(written)))
	return written, nil
}

// RenderSummary writes summary.yaml and, if enabled, summary.xlsx.
func (r *Renderer) RenderSummary(s *model.RunSummary) ([]string, error) {
	if s == nil {
		return nil, eris.New("report: nil summary")
	}
	var written []string

	data, err := yaml.Marshal(s)
	if err != nil {
		return written, eris.Wrap(err, "report: encode summary")
	}
	yamlPath := r.path("summary.yaml")
	if err := os.WriteFile(yamlPath, data, 0o644); err != nil {
		return written, eris.Wrapf(err, "report: write %s", yamlPath)
	}
	written = append(written, yamlPath)

	if r.opts.XLSX {
		xlsxPath := r.path("summary.xlsx")
		if err := writeSummaryXLSX(xlsxPath, s); err != nil {
			return written, err
		}
		written = append(written, xlsxPath)
	}
	return written, nil
}

// RenderRanking writes the ranking CSV and a GeoJSON of the ranked cells
// with their activity attached as properties. With charts enabled it also
// draws the ranked totals as a bar chart.
func (r *Renderer) RenderRanking(ranked []model.CellActivity, cells []model.GridCell) ([]string, error) {
	var written []string

	csvPath := r.path("top_%d_cells.csv", len(ranked))
	if err := writeCSV(csvPath, ranked); err != nil {
		return written, err
	}
	written = append(written, csvPath)

	byID := make(map[int64]model.GridCell, len(cells))
	for _, c := range cells {
		byID[c.ID] = c
	}
	top := make([]model.GridCell, 0, len(ranked))
	props := make(map[int64]map[string]any, len(ranked))
	for _, a := range ranked {
		c, ok := byID[a.CellID]
		if !ok {
			continue
		}
		top = append(top, c)
		props[a.CellID] = map[string]any{
			"rank":     a.Rank,
			"created":  a.Created,
			"modified": a.Modified,
			"deleted":  a.Deleted,
			"total":    a.Total,
		}
	}

	geoPath := r.path("top_%d_cells.geojson", len(ranked))
	if err := grid.WriteFeatures(geoPath, top, props); err != nil {
		return written, err
	}
	written = append(written, geoPath)

	if r.opts.Charts && len(ranked) > 0 {
		bars := make([]bar, len(ranked))
		for i, a := range ranked {
			bars[i] = bar{name: strconv.FormatInt(a.CellID, 10), value: float64(a.Total), color: paletteColor(i, len(ranked))}
		}
		chartPath := r.path("top_%d_cells.png", len(ranked))
		title := fmt.Sprintf("Top %d most active cells in %s", len(ranked), r.opts.Region)
		if err := writeBarChart(chartPath, title, "cell", "total contributions", bars); err != nil {
			return written, err
		}
		written = append(written, chartPath)
	}
	return written, nil
}

// RenderComparison writes regions_summary.csv, ordered by total activity,
// and with charts enabled one bar chart of total activity and one of the
// most active cell per region. Regions that failed stay in the CSV but are
// left out of the charts. File names carry no region prefix.
func (r *Renderer) RenderComparison(regions []model.RegionActivity) ([]string, error) {
	var written []string

	sorted := slices.Clone(regions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalActivity > sorted[j].TotalActivity
	})

	csvPath := filepath.Join(r.opts.Dir, "regions_summary.csv")
	if err := writeCSV(csvPath, sorted); err != nil {
		return written, err
	}
	written = append(written, csvPath)

	if !r.opts.Charts {
		return written, nil
	}
	ok := make([]model.RegionActivity, 0, len(sorted))
	for _, reg := range sorted {
		if reg.Error == "" {
			ok = append(ok, reg)
		}
	}
	if len(ok) == 0 {
		return written, nil
	}

	total := make([]bar, len(ok))
	peak := make([]bar, len(ok))
	for i, reg := range ok {
		total[i] = bar{name: reg.Region, value: float64(reg.TotalActivity), color: paletteColor(i, len(ok))}
		peak[i] = bar{name: reg.Region, value: float64(reg.MaxActivity), color: paletteColor(len(ok)-1-i, len(ok))}
	}

	totalPath := filepath.Join(r.opts.Dir, "regions_total_activity.png")
	if err := writeBarChart(totalPath, "Total activity of the ranked cells by region", "region", "total contributions", total); err != nil {
		return written, err
	}
	written = append(written, totalPath)

	peakPath := filepath.Join(r.opts.Dir, "regions_max_activity.png")
	if err := writeBarChart(peakPath, "Most active cell by region", "region", "contributions in the most active cell", peak); err != nil {
		return written, err
	}
	written = append(written, peakPath)
	return written, nil
}
