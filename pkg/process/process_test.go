package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ray1729/takeout-routes/pkg/export"
	"github.com/ray1729/takeout-routes/pkg/metrics"
	"github.com/ray1729/takeout-routes/pkg/trips"
)

func setup(t *testing.T) (folder, output string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "takeout", "testdata", "legacy_2024_MARCH.json"))
	require.NoError(t, err)
	folder = filepath.Join(t.TempDir(), "Semantic Location History")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "2024"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "2024", "2024_MARCH.json"), data, 0644))
	return folder, filepath.Join(t.TempDir(), "routes.geojson")
}

type feature struct {
	ID       string `json:"id"`
	Geometry struct {
		Coordinates [][2]float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

func readFeatures(t *testing.T, path string) []feature {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var fc struct {
		Features []feature `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	return fc.Features
}

func activities(fs []feature) []string {
	var xs []string
	for _, f := range fs {
		xs = append(xs, f.Properties["activityType"].(string))
	}
	return xs
}

func TestRunNoFilters(t *testing.T) {
	folder, output := setup(t)
	m := metrics.NewCollector()
	summary, err := Run(context.Background(), Options{
		FolderPath:    folder,
		OutputGeoJSON: output,
		Style:         export.DefaultStyle(),
		Metrics:       m,
	})
	require.NoError(t, err)
	assert.Equal(t, &Summary{Loaded: 3, Kept: 3, Features: 3}, summary)

	fs := readFeatures(t, output)
	assert.Equal(t, []string{"IN_PASSENGER_VEHICLE", "WALKING", "IN_TRAIN"}, activities(fs))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FeaturesOutput))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TripsKept))
}

func TestRunFilters(t *testing.T) {
	day, err := trips.ParseDate("2024-03-01")
	require.NoError(t, err)
	stockholm := &trips.Geofence{CenterLat: 59.3293, CenterLon: 18.0686, RadiusKm: 5}

	tests := []struct {
		name       string
		opts       Options
		activities []string
	}{
		{
			name: "passenger vehicle near Stockholm on the day",
			opts: Options{
				Activities: []string{trips.InPassengerVehicle},
				DateRange:  &trips.DateRange{From: day, To: day},
				Geofence:   stockholm,
			},
			activities: []string{"IN_PASSENGER_VEHICLE"},
		},
		{
			name:       "no bus trips recorded",
			opts:       Options{Activities: []string{"IN_BUS"}},
			activities: nil,
		},
		{
			name: "outside the date range",
			opts: Options{
				Activities: []string{trips.InPassengerVehicle},
				DateRange:  &trips.DateRange{From: time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC)},
			},
			activities: nil,
		},
		{
			name:       "exclude Sweden",
			opts:       Options{ExcludeCountries: []string{"Sweden"}},
			activities: []string{"IN_PASSENGER_VEHICLE", "WALKING"},
		},
		{
			name:       "open ended date range",
			opts:       Options{DateRange: &trips.DateRange{From: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}},
			activities: []string{"IN_TRAIN"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			folder, output := setup(t)
			opts := tc.opts
			opts.FolderPath = folder
			opts.OutputGeoJSON = output
			opts.Style = export.DefaultStyle()

			summary, err := Run(context.Background(), opts)
			require.NoError(t, err)
			assert.Equal(t, 3, summary.Loaded)
			assert.Equal(t, len(tc.activities), summary.Features)
			assert.Equal(t, tc.activities, activities(readFeatures(t, output)))
		})
	}
}

func TestRunKeepsOriginalCoordinates(t *testing.T) {
	folder, output := setup(t)
	_, err := Run(context.Background(), Options{
		FolderPath:    folder,
		OutputGeoJSON: output,
		Activities:    []string{trips.InPassengerVehicle},
		Style:         export.Style{StrokeWidth: 4, StrokeColor: "#0000FF"},
	})
	require.NoError(t, err)

	fs := readFeatures(t, output)
	require.Len(t, fs, 1)
	coords := fs[0].Geometry.Coordinates
	require.Len(t, coords, 4)
	assert.Equal(t, [2]float64{18.0686, 59.3293}, coords[0])
	assert.Equal(t, [2]float64{18.1, 59.35}, coords[3])
	assert.Equal(t, 4.0, fs[0].Properties["stroke-width"])
	assert.Equal(t, "#0000FF", fs[0].Properties["stroke-color"])
	assert.Equal(t, false, fs[0].Properties["snapped"])
}

type fakeSnapper struct {
	fail map[string]bool
}

func (f *fakeSnapper) Snap(ctx context.Context, t *trips.Trip) (*trips.Trip, error) {
	if f.fail[t.Activity] {
		return nil, errors.New("no route")
	}
	return t.WithPoints([][2]float64{{1, 2}, {3, 4}}), nil
}

func TestRunSnapping(t *testing.T) {
	folder, output := setup(t)
	gpxPath := filepath.Join(t.TempDir(), "routes.gpx")
	m := metrics.NewCollector()
	summary, err := Run(context.Background(), Options{
		FolderPath:    folder,
		OutputGeoJSON: output,
		OutputGPX:     gpxPath,
		Creator:       "test",
		Style:         export.DefaultStyle(),
		Snapper:       &fakeSnapper{fail: map[string]bool{trips.Walking: true}},
		SnapWorkers:   2,
		Logger:        zap.NewNop(),
		Metrics:       m,
	})
	require.NoError(t, err)
	assert.Equal(t, &Summary{Loaded: 3, Kept: 3, Snapped: 2, SnapFailed: 1, Features: 3}, summary)

	fs := readFeatures(t, output)
	require.Len(t, fs, 3)
	assert.Equal(t, true, fs[0].Properties["snapped"])
	assert.Equal(t, [][2]float64{{2, 1}, {4, 3}}, fs[0].Geometry.Coordinates)
	assert.Equal(t, false, fs[1].Properties["snapped"])
	assert.Len(t, fs[1].Geometry.Coordinates, 4)
	assert.Equal(t, true, fs[2].Properties["snapped"])

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Snaps.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Snaps.WithLabelValues("failed")))
	assert.FileExists(t, gpxPath)
}

type slowSnapper struct{}

// Snap finishes later for earlier trips, so completion order is reversed.
func (slowSnapper) Snap(ctx context.Context, t *trips.Trip) (*trips.Trip, error) {
	var i int
	fmt.Sscanf(t.ID, "trip-%d", &i)
	time.Sleep(time.Duration(20-i) * time.Millisecond)
	if i%5 == 0 {
		return nil, errors.New("no route")
	}
	return t.WithPoints([][2]float64{{float64(i), 0}, {float64(i), 1}}), nil
}

func TestSnapAllPreservesOrder(t *testing.T) {
	var ts []*trips.Trip
	for i := 0; i < 20; i++ {
		ts = append(ts, &trips.Trip{
			ID:     fmt.Sprintf("trip-%d", i),
			Points: []trips.Point{{Lat: float64(i)}, {Lat: float64(i), Lon: 1}},
		})
	}
	out, snapped, failed := snapAll(context.Background(), ts, slowSnapper{}, 8, zap.NewNop(), metrics.NewCollector())
	require.Len(t, out, 20)
	assert.Equal(t, 16, snapped)
	assert.Equal(t, 4, failed)
	for i, tr := range out {
		assert.Equal(t, ts[i].ID, tr.ID)
		assert.Equal(t, i%5 != 0, tr.Snapped, tr.ID)
	}
	assert.Same(t, ts[5], out[5])
}

func TestRunErrors(t *testing.T) {
	folder, _ := setup(t)

	_, err := Run(context.Background(), Options{
		FolderPath:    filepath.Join(folder, "missing"),
		OutputGeoJSON: filepath.Join(t.TempDir(), "out.geojson"),
	})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Run(context.Background(), Options{
		FolderPath:    folder,
		OutputGeoJSON: filepath.Join(t.TempDir(), "missing", "out.geojson"),
	})
	assert.Error(t, err)
}
