package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the counters for a single run. The registry is written out
// once at the end of the run for node_exporter's textfile collector.
type Collector struct {
	reg *prometheus.Registry

	FilesRead      prometheus.Counter
	ParseWarnings  prometheus.Counter
	TripsLoaded    prometheus.Counter
	TripsFiltered  *prometheus.CounterVec // filter label: activity|date|geofence|countries
	TripsKept      prometheus.Counter
	Snaps          *prometheus.CounterVec // result label: ok|failed
	SnapDuration   prometheus.Histogram
	FeaturesOutput prometheus.Counter
	LastRun        prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FilesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takeout_routes_files_read_total",
			Help: "Location history files read.",
		}),
		ParseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takeout_routes_parse_warnings_total",
			Help: "Files or records skipped because they could not be parsed.",
		}),
		TripsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takeout_routes_trips_loaded_total",
			Help: "Trips extracted from the input files.",
		}),
		TripsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takeout_routes_trips_filtered_total",
			Help: "Trips removed, by filter.",
		}, []string{"filter"}),
		TripsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takeout_routes_trips_kept_total",
			Help: "Trips that passed every filter.",
		}),
		Snaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takeout_routes_snaps_total",
			Help: "Road snapping attempts, by result.",
		}, []string{"result"}),
		SnapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "takeout_routes_snap_duration_seconds",
			Help:    "Duration of road snapping requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		FeaturesOutput: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takeout_routes_features_written_total",
			Help: "GeoJSON features written.",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "takeout_routes_last_run_timestamp_seconds",
			Help: "Unix time the run finished.",
		}),
	}

	reg.MustRegister(
		c.FilesRead, c.ParseWarnings,
		c.TripsLoaded, c.TripsFiltered, c.TripsKept,
		c.Snaps, c.SnapDuration,
		c.FeaturesOutput, c.LastRun,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// WriteTextfile writes the current values in the Prometheus text format,
// replacing path atomically.
func (c *Collector) WriteTextfile(path string) error {
	c.LastRun.SetToCurrentTime()
	return prometheus.WriteToTextfile(path, c.reg)
}
