// Package grid loads the numbered study grid from GeoJSON or shapefiles.
package grid

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// DefaultIDProperty is the attribute that numbers grid cells.
const DefaultIDProperty = "id"

// Loader reads grid cells from disk.
type Loader struct {
	IDProperty string
}

// Load reads the grid at path with the default id property.
func Load(path string, ids []int64) ([]model.GridCell, error) {
	return Loader{IDProperty: DefaultIDProperty}.Load(path, ids)
}

// Load returns the cells listed in ids, in that order. An empty ids
// selects every cell, sorted by id. Unknown ids are an error.
func (l Loader) Load(path string, ids []int64) ([]model.GridCell, error) {
	prop := l.IDProperty
	if prop == "" {
		prop = DefaultIDProperty
	}

	var (
		cells []model.GridCell
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		cells, err = readGeoJSON(path, prop)
	case ".shp":
		cells, err = readShapefile(path, prop)
	default:
		return nil, eris.Errorf("grid: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	zap.L().Debug("grid: loaded cells", zap.String("path", path), zap.Int("cells", len(cells)))
	return selectCells(cells, ids)
}

func selectCells(cells []model.GridCell, ids []int64) ([]model.GridCell, error) {
	if len(ids) == 0 {
		sort.Slice(cells, func(i, j int) bool { return cells[i].ID < cells[j].ID })
		return cells, nil
	}

	byID := make(map[int64]model.GridCell, len(cells))
	for _, c := range cells {
		byID[c.ID] = c
	}

	out := make([]model.GridCell, 0, len(ids))
	var missing []string
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			missing = append(missing, strconv.FormatInt(id, 10))
			continue
		}
		out = append(out, c)
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("grid: unknown cell ids: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func readGeoJSON(path, prop string) ([]model.GridCell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "grid: decode %s", path)
	}

	cells := make([]model.GridCell, 0, len(fc.Features))
	seen := make(map[int64]bool, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := cellID(f.Properties[prop])
		if !ok && f.ID != "" {
			id, ok = cellID(f.ID)
		}
		if !ok {
			return nil, eris.Errorf("grid: feature %d has no numeric %q property", i, prop)
		}
		if seen[id] {
			return nil, eris.Errorf("grid: duplicate cell id %d", id)
		}
		seen[id] = true

		switch f.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
		default:
			return nil, eris.Errorf("grid: cell %d geometry %T is not a polygon", id, f.Geometry)
		}
		cells = append(cells, model.GridCell{ID: id, Geometry: f.Geometry, Properties: f.Properties})
	}
	return cells, nil
}

// cellID accepts the id as a JSON number or a numeric string.
func cellID(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}
