package grid

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/ohsome-cli/internal/model"
)

func readShapefile(path, prop string) ([]model.GridCell, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	idIdx := -1
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(names[i], prop) {
			idIdx = i
		}
	}
	if idIdx < 0 {
		return nil, eris.Errorf("grid: shapefile %s has no %q field", path, prop)
	}

	var cells []model.GridCell
	var skipped int
	seen := make(map[int64]bool)
	for reader.Next() {
		n, shape := reader.Shape()

		raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(idIdx), "\x00"))
		id, ok := cellID(raw)
		if !ok {
			return nil, eris.Errorf("grid: record %d has non-numeric id %q", n, raw)
		}
		if seen[id] {
			return nil, eris.Errorf("grid: duplicate cell id %d", id)
		}

		poly, isPoly := shape.(*shp.Polygon)
		if !isPoly {
			skipped++
			continue
		}
		g := polygonToMultiPolygon(poly)
		if g == nil {
			skipped++
			continue
		}
		seen[id] = true

		props := make(map[string]any, len(names))
		for i, name := range names {
			props[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		props[prop] = id
		cells = append(cells, model.GridCell{ID: id, Geometry: g, Properties: props})
	}

	if skipped > 0 {
		zap.L().Debug("grid: skipped shapefile records", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return cells, nil
}

// polygonToMultiPolygon converts a shapefile polygon to a MultiPolygon,
// one polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("grid: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("grid: skipping malformed polygon", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
