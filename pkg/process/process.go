// Package process runs the whole extraction: load, filter, snap and write.
package process

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ray1729/takeout-routes/pkg/export"
	"github.com/ray1729/takeout-routes/pkg/logging"
	"github.com/ray1729/takeout-routes/pkg/metrics"
	"github.com/ray1729/takeout-routes/pkg/takeout"
	"github.com/ray1729/takeout-routes/pkg/trips"
)

const DefaultSnapWorkers = 4

// Snapper replaces a trip's points with a road-aligned path.
type Snapper interface {
	Snap(ctx context.Context, t *trips.Trip) (*trips.Trip, error)
}

type Options struct {
	FolderPath    string
	OutputGeoJSON string
	OutputGPX     string
	Creator       string

	Activities       []string
	DateRange        *trips.DateRange
	Geofence         *trips.Geofence
	ExcludeCountries []string

	Style export.Style

	// Snapper is optional; without it trips keep their recorded points.
	Snapper     Snapper
	SnapWorkers int

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

type Summary struct {
	Loaded     int
	Kept       int
	Snapped    int
	SnapFailed int
	Features   int
}

func Run(ctx context.Context, opts Options) (*Summary, error) {
	log := logging.OrNop(opts.Logger)
	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}

	ts, err := takeout.NewLoader(log, m).Load(opts.FolderPath)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Loaded: len(ts)}

	ts = Filter(ts, opts, log, m)
	summary.Kept = len(ts)
	m.TripsKept.Add(float64(len(ts)))
	log.Info("filtered trips", zap.Int("loaded", summary.Loaded), zap.Int("kept", summary.Kept))

	if opts.Snapper != nil {
		ts, summary.Snapped, summary.SnapFailed = snapAll(ctx, ts, opts.Snapper, opts.SnapWorkers, log, m)
		log.Info("snapped trips", zap.Int("snapped", summary.Snapped), zap.Int("failed", summary.SnapFailed))
	}

	n, err := export.WriteGeoJSON(opts.OutputGeoJSON, ts, opts.Style)
	if err != nil {
		return nil, err
	}
	summary.Features = n
	m.FeaturesOutput.Add(float64(n))
	log.Info("wrote GeoJSON", zap.String("file", opts.OutputGeoJSON), zap.Int("features", n))

	if opts.OutputGPX != "" {
		n, err := export.WriteGPX(opts.OutputGPX, ts, opts.Creator)
		if err != nil {
			return nil, err
		}
		log.Info("wrote GPX", zap.String("file", opts.OutputGPX), zap.Int("tracks", n))
	}
	return summary, nil
}

// Filter applies the activity, date, geofence and country filters in turn,
// counting the trips each one removes.
func Filter(ts []*trips.Trip, opts Options, log *zap.Logger, m *metrics.Collector) []*trips.Trip {
	stages := []struct {
		name string
		run  func([]*trips.Trip) []*trips.Trip
	}{
		{"activity", func(ts []*trips.Trip) []*trips.Trip { return trips.ByActivity(ts, opts.Activities) }},
		{"date", func(ts []*trips.Trip) []*trips.Trip { return trips.ByDateRange(ts, opts.DateRange) }},
		{"geofence", func(ts []*trips.Trip) []*trips.Trip { return trips.ByGeofence(ts, opts.Geofence) }},
		{"countries", func(ts []*trips.Trip) []*trips.Trip { return trips.ExcludeCountries(ts, opts.ExcludeCountries) }},
	}
	for _, s := range stages {
		before := len(ts)
		ts = s.run(ts)
		if removed := before - len(ts); removed > 0 {
			m.TripsFiltered.WithLabelValues(s.name).Add(float64(removed))
			log.Debug("filter removed trips", zap.String("filter", s.name), zap.Int("removed", removed))
		}
	}
	return ts
}

// snapAll snaps each trip in parallel. A trip that cannot be snapped is kept
// with its recorded points. The result is in the same order as ts.
func snapAll(ctx context.Context, ts []*trips.Trip, s Snapper, workers int, log *zap.Logger, m *metrics.Collector) (out []*trips.Trip, snapped, failed int) {
	if workers < 1 {
		workers = DefaultSnapWorkers
	}
	out = make([]*trips.Trip, len(ts))
	ok := make([]bool, len(ts))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, t := range ts {
		i, t := i, t
		g.Go(func() error {
			start := time.Now()
			st, err := s.Snap(ctx, t)
			m.SnapDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				m.Snaps.WithLabelValues("failed").Inc()
				log.Warn("road snapping failed, keeping recorded points",
					zap.String("trip", t.ID), zap.String("source", t.Source), zap.Error(err))
				out[i] = t
				return nil
			}
			m.Snaps.WithLabelValues("ok").Inc()
			out[i] = st
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait() // tasks always return nil

	for _, b := range ok {
		if b {
			snapped++
		} else {
			failed++
		}
	}
	return out, snapped, failed
}
