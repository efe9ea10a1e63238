// Package export writes trips out as GeoJSON and GPX.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/ray1729/takeout-routes/pkg/trips"
)

const (
	DefaultStrokeWidth = 2.0
	DefaultStrokeColor = "#FF0000"
)

// Style holds the simplestyle properties attached to every feature.
type Style struct {
	StrokeWidth float64
	StrokeColor string
}

func DefaultStyle() Style {
	return Style{StrokeWidth: DefaultStrokeWidth, StrokeColor: DefaultStrokeColor}
}

// Feature returns t as a LineString feature, or false if t has fewer than two
// points.
func Feature(t *trips.Trip, style Style) (*geojson.Feature, bool) {
	if len(t.Points) < 2 {
		return nil, false
	}
	coords := make([]geom.Coord, len(t.Points))
	for i, p := range t.Points {
		coords[i] = geom.Coord{p.Lon, p.Lat}
	}
	ls, err := geom.NewLineString(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, false
	}
	return &geojson.Feature{
		ID:       t.ID,
		Geometry: ls,
		Properties: map[string]interface{}{
			"activityType": t.Activity,
			"stroke-width": style.StrokeWidth,
			"stroke-color": style.StrokeColor,
			"startTime":    t.Start.Format(time.RFC3339),
			"endTime":      t.End.Format(time.RFC3339),
			"snapped":      t.Snapped,
		},
	}, true
}

// FeatureCollection converts the trips, in order, skipping any with fewer
// than two points.
func FeatureCollection(ts []*trips.Trip, style Style) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, t := range ts {
		if f, ok := Feature(t, style); ok {
			fc.Features = append(fc.Features, f)
		}
	}
	return fc
}

// WriteGeoJSON replaces the file at path with the feature collection for ts
// and returns the number of features written.
func WriteGeoJSON(path string, ts []*trips.Trip, style Style) (int, error) {
	fc := FeatureCollection(ts, style)
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("error encoding GeoJSON: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return 0, fmt.Errorf("error writing %s: %w", path, err)
	}
	return len(fc.Features), nil
}
