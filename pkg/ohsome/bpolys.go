package ohsome

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// EncodeBPolys renders a cell as the GeoJSON FeatureCollection expected by
// the bpolys parameter. The feature id is the cell id so grouped responses
// can be mapped back.
func EncodeBPolys(cell model.GridCell) (string, error) {
	switch cell.Geometry.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
	case nil:
		return "", eris.Errorf("ohsome: cell %d has no geometry", cell.ID)
	default:
		return "", eris.Errorf("ohsome: cell %d geometry %T is not a polygon", cell.ID, cell.Geometry)
	}

	fc := geojson.FeatureCollection{
		Features: []*geojson.Feature{{
			ID:         strconv.FormatInt(cell.ID, 10),
			Geometry:   cell.Geometry,
			Properties: map[string]any{"id": cell.ID},
		}},
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return "", eris.Wrapf(err, "ohsome: encode bpolys for cell %d", cell.ID)
	}
	return string(data), nil
}
