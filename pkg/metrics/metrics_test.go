package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.TripsLoaded.Add(3)
	c.TripsFiltered.WithLabelValues("activity").Inc()
	c.Snaps.WithLabelValues("ok").Add(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.TripsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TripsFiltered.WithLabelValues("activity")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Snaps.WithLabelValues("ok")))
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector()
	c.FeaturesOutput.Add(4)
	path := filepath.Join(t.TempDir(), "takeout_routes.prom")

	require.NoError(t, c.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "takeout_routes_features_written_total 4")
	assert.Contains(t, string(data), "takeout_routes_last_run_timestamp_seconds")
}
