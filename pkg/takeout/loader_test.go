package takeout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ray1729/takeout-routes/pkg/metrics"
	"github.com/ray1729/takeout-routes/pkg/trips"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestDecodeLegacy(t *testing.T) {
	ts, recErrs, err := Decode(readFixture(t, "legacy_2024_MARCH.json"))
	require.NoError(t, err)
	require.Len(t, ts, 3)

	require.Len(t, recErrs, 2)
	var recErr *RecordError
	require.True(t, errors.As(recErrs[0], &recErr))
	assert.Equal(t, 3, recErr.Index)
	assert.ErrorIs(t, recErrs[0], errMissingTimestamp)
	require.True(t, errors.As(recErrs[1], &recErr))
	assert.Equal(t, 5, recErr.Index)

	t.Run("waypoints", func(t *testing.T) {
		car := ts[0]
		assert.Equal(t, "0", car.ID)
		assert.Equal(t, trips.InPassengerVehicle, car.Activity)
		assert.Equal(t, mustTime(t, "2024-03-01T08:00:00Z"), car.Start)
		assert.Equal(t, mustTime(t, "2024-03-01T08:30:00Z"), car.End)
		require.Len(t, car.Points, 4)
		assert.Equal(t, trips.Point{Time: car.Start, Lat: 59.3293, Lon: 18.0686}, car.Points[0])
		assert.InDelta(t, 59.335, car.Points[1].Lat, 1e-9)
		assert.InDelta(t, 18.075, car.Points[1].Lon, 1e-9)
		assert.Equal(t, mustTime(t, "2024-03-01T08:10:00Z"), car.Points[1].Time)
		assert.Equal(t, car.End, car.Points[3].Time)
		assert.True(t, car.Chronological())
		assert.Empty(t, car.Places)
	})

	t.Run("raw path with millisecond timestamps", func(t *testing.T) {
		walk := ts[1]
		assert.Equal(t, "2", walk.ID)
		assert.Equal(t, trips.Walking, walk.Activity)
		assert.Equal(t, mustTime(t, "2024-03-01T10:00:00Z"), walk.Start)
		assert.Equal(t, mustTime(t, "2024-03-01T10:15:00Z"), walk.End)
		require.Len(t, walk.Points, 4)
		assert.Equal(t, mustTime(t, "2024-03-01T10:05:00Z"), walk.Points[1].Time)
		assert.Equal(t, mustTime(t, "2024-03-01T10:10:00Z"), walk.Points[2].Time)
		assert.True(t, walk.Chronological())
	})

	t.Run("transit stops become places", func(t *testing.T) {
		train := ts[2]
		assert.Equal(t, "IN_TRAIN", train.Activity)
		require.Len(t, train.Points, 2)
		assert.Equal(t, []string{
			"Stockholm Central", "Centralplan 15, 111 20 Stockholm, Sverige",
			"Lund Central", "Bangatan 1, 222 21 Lund, Sverige",
		}, train.Places)
	})
}

func TestDecodeLegacyPlacesFromTransitStopsOnly(t *testing.T) {
	data := `{"timelineObjects": [
	  {"activitySegment": {
	    "activityType": "IN_PASSENGER_VEHICLE",
	    "duration": {"startTimestamp": "2024-03-01T08:00:00Z", "endTimestamp": "2024-03-01T08:30:00Z"},
	    "startLocation": {"latitudeE7": 593293000, "longitudeE7": 180686000, "name": "Hem", "address": "Götgatan 1, Stockholm, Sverige"},
	    "endLocation": {"latitudeE7": 593500000, "longitudeE7": 181000000, "name": "Jobb", "address": "Drottninggatan 1, Stockholm, Sverige"}
	  }},
	  {"activitySegment": {
	    "activityType": "IN_BUS",
	    "duration": {"startTimestamp": "2024-03-01T09:00:00Z", "endTimestamp": "2024-03-01T09:30:00Z"},
	    "startLocation": {"latitudeE7": 593293000, "longitudeE7": 180686000, "address": "Götgatan 1, Stockholm, Sverige"},
	    "endLocation": {"latitudeE7": 593500000, "longitudeE7": 181000000, "address": "Drottninggatan 1, Stockholm, Sverige"},
	    "transitPath": {"transitStops": [{"name": "Slussen"}, {"name": "Odenplan", "address": "Odenplan, Stockholm"}]}
	  }}
	]}`
	ts, recErrs, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Empty(t, recErrs)
	require.Len(t, ts, 2)
	assert.Empty(t, ts[0].Places)
	assert.Equal(t, []string{"Slussen", "Odenplan", "Odenplan, Stockholm"}, ts[1].Places)
}

func TestDecodeAndroid(t *testing.T) {
	ts, recErrs, err := Decode(readFixture(t, "android_Timeline.json"))
	require.NoError(t, err)
	require.Len(t, ts, 1)
	require.Len(t, recErrs, 1)

	car := ts[0]
	assert.Equal(t, "0", car.ID)
	assert.Equal(t, trips.InPassengerVehicle, car.Activity)
	assert.True(t, car.Start.Equal(mustTime(t, "2024-03-01T08:00:00Z")))
	require.Len(t, car.Points, 4)
	assert.Equal(t, 59.3293, car.Points[0].Lat)
	assert.Equal(t, 18.0686, car.Points[0].Lon)
	assert.Equal(t, 59.335, car.Points[1].Lat)
	assert.Equal(t, 59.342, car.Points[2].Lat)
	assert.Equal(t, 59.35, car.Points[3].Lat)
	assert.True(t, car.Chronological())
}

func TestDecodeIOS(t *testing.T) {
	ts, recErrs, err := Decode(readFixture(t, "ios_location-history.json"))
	require.NoError(t, err)
	assert.Empty(t, recErrs)
	require.Len(t, ts, 1)

	car := ts[0]
	assert.Equal(t, trips.InPassengerVehicle, car.Activity)
	require.Len(t, car.Points, 4)
	assert.True(t, car.Points[1].Time.Equal(mustTime(t, "2024-03-01T08:10:00Z")))
	assert.True(t, car.Points[2].Time.Equal(mustTime(t, "2024-03-01T08:20:00Z")))
	assert.Equal(t, 18.1, car.Points[3].Lon)
	assert.True(t, car.Chronological())
}

func TestDecodeUnrecognized(t *testing.T) {
	for name, data := range map[string]string{
		"empty":        "",
		"whitespace":   " \n\t",
		"other object": `{"locations": []}`,
		"scalar":       `42`,
	} {
		_, _, err := Decode([]byte(data))
		assert.ErrorIs(t, err, ErrUnrecognizedFormat, name)
	}

	_, _, err := Decode([]byte(`{"timelineObjects": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")

	ts, _, err := Decode(append([]byte{0xef, 0xbb, 0xbf}, `{"timelineObjects": []}`...))
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("2024-03-01T08:00:00.123Z", "")
	require.NoError(t, err)
	assert.Equal(t, 123*time.Millisecond, time.Duration(ts.Nanosecond()))

	ts, err = parseTimestamp("", "1709280000000")
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-03-01T08:00:00Z"), ts)

	_, err = parseTimestamp("", "soon")
	assert.Error(t, err)
	_, err = parseTimestamp("", "")
	assert.ErrorIs(t, err, errMissingTimestamp)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024", "2024_MARCH.json"), readFixture(t, "legacy_2024_MARCH.json"))
	writeFile(t, filepath.Join(dir, "Timeline.json"), readFixture(t, "android_Timeline.json"))
	writeFile(t, filepath.Join(dir, "broken.json"), []byte(`{"timelineObjects": [{`))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("not location history"))
	writeFile(t, filepath.Join(dir, ".hidden", "2024_APRIL.json"), readFixture(t, "legacy_2024_MARCH.json"))

	m := metrics.NewCollector()
	ts, err := NewLoader(nil, m).Load(dir)
	require.NoError(t, err)

	// lexical order: 2024/2024_MARCH.json, Timeline.json
	require.Len(t, ts, 4)
	assert.Equal(t, "2024/2024_MARCH.json", ts[0].Source)
	assert.Equal(t, "2024/2024_MARCH.json", ts[2].Source)
	assert.Equal(t, "Timeline.json", ts[3].Source)
	assert.Equal(t, trips.InPassengerVehicle, ts[0].Activity)
	assert.Equal(t, trips.Walking, ts[1].Activity)

	seen := make(map[string]bool)
	for _, tr := range ts {
		assert.Len(t, tr.ID, 36)
		assert.False(t, seen[tr.ID], "duplicate id %s", tr.ID)
		seen[tr.ID] = true
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesRead))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TripsLoaded))
	// broken.json plus three bad records
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ParseWarnings))

	again, err := NewLoader(nil, nil).Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ts[0].ID, again[0].ID)
}

func TestLoadEmptyDirectory(t *testing.T) {
	ts, err := NewLoader(nil, nil).Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestLoadBadDirectory(t *testing.T) {
	_, err := NewLoader(nil, nil).Load(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file.json")
	writeFile(t, file, []byte(`[]`))
	_, err = NewLoader(nil, nil).Load(file)
	assert.ErrorIs(t, err, ErrNotDirectory)
}
