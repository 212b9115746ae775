package grid

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// WriteFeatures writes cells as a GeoJSON FeatureCollection. props adds
// per-cell properties on top of the cell's own.
func WriteFeatures(path string, cells []model.GridCell, props map[int64]map[string]any) error {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(cells))}
	for _, c := range cells {
		p := make(map[string]any, len(c.Properties)+len(props[c.ID])+1)
		for k, v := range c.Properties {
			p[k] = v
		}
		for k, v := range props[c.ID] {
			p[k] = v
		}
		p[DefaultIDProperty] = c.ID

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.FormatInt(c.ID, 10),
			Geometry:   c.Geometry,
			Properties: p,
		})
	}

	data, err := json.MarshalIndent(&fc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "grid: encode features")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "grid: write %s", path)
	}
	return nil
}
