package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ray1729/takeout-routes/pkg/export"
	"github.com/ray1729/takeout-routes/pkg/logging"
	"github.com/ray1729/takeout-routes/pkg/metrics"
	"github.com/ray1729/takeout-routes/pkg/process"
	"github.com/ray1729/takeout-routes/pkg/snap"
	"github.com/ray1729/takeout-routes/pkg/trips"
)

const appName = "takeout-routes"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// UsageError is returned for missing or invalid arguments.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

func usageErrorf(format string, args ...interface{}) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(exitError)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	err := app.RunContext(ctx, expandMultiValueFlags(args, multiValueFlags))
	if err == nil {
		return exitOK
	}
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(stderr, "%s: %v\nRun '%s --help' for usage.\n", appName, err, appName)
		return exitUsage
	}
	fmt.Fprintf(stderr, "%s: %v\n", appName, err)
	return exitError
}

// Flags that take a space separated list of values.
var multiValueFlags = []string{"activity-types", "exclude-countries"}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      appName,
		Usage:     "Extract trips from Google location history as GeoJSON",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "folder-path",
				Aliases: []string{"f"},
				Usage:   "Directory containing the location history JSON files",
			},
			&cli.StringFlag{
				Name:    "output-geojson",
				Aliases: []string{"o"},
				Usage:   "GeoJSON file to write",
			},
			&cli.StringSliceFlag{
				Name:  "activity-types",
				Usage: "Only include trips with these activity types, e.g. IN_PASSENGER_VEHICLE WALKING",
			},
			&cli.StringFlag{
				Name:  "from-date",
				Usage: "Only include trips starting on or after this date (YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "to-date",
				Usage: "Only include trips starting on or before this date (YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "timezone",
				Usage: "Time zone in which trip dates are compared",
				Value: "UTC",
			},
			&cli.Float64Flag{
				Name:  "center-lat",
				Usage: "Latitude of the geofence center",
			},
			&cli.Float64Flag{
				Name:  "center-lon",
				Usage: "Longitude of the geofence center",
			},
			&cli.Float64Flag{
				Name:  "radius-km",
				Usage: "Only include trips with a point within RADIUS kilometres of the geofence center",
			},
			&cli.StringSliceFlag{
				Name:  "exclude-countries",
				Usage: "Exclude trips passing through these countries, e.g. Sweden USA",
			},
			&cli.Float64Flag{
				Name:  "stroke-width",
				Usage: "Line width for the GeoJSON features",
				Value: export.DefaultStrokeWidth,
			},
			&cli.StringFlag{
				Name:  "stroke-color",
				Usage: "Line color for the GeoJSON features (#RRGGBB)",
				Value: export.DefaultStrokeColor,
			},
			&cli.BoolFlag{
				Name:  "snap",
				Usage: "Snap trips to roads using an OSRM service",
			},
			&cli.StringFlag{
				Name:    "osrm-url",
				Usage:   "Base URL of the OSRM service",
				Value:   snap.DefaultBaseURL,
				EnvVars: []string{"OSRM_URL"},
			},
			&cli.StringFlag{
				Name:    "osrm-profile",
				Usage:   "OSRM routing profile",
				Value:   snap.DefaultProfile,
				EnvVars: []string{"OSRM_PROFILE"},
			},
			&cli.StringFlag{
				Name:  "snap-service",
				Usage: "OSRM service to use: route or match",
				Value: string(snap.Route),
			},
			&cli.DurationFlag{
				Name:  "snap-timeout",
				Usage: "Timeout for each OSRM request",
				Value: snap.DefaultTimeout,
			},
			&cli.IntFlag{
				Name:  "snap-workers",
				Usage: "Number of concurrent OSRM requests",
				Value: process.DefaultSnapWorkers,
			},
			&cli.Float64Flag{
				Name:  "snap-rate",
				Usage: "Maximum OSRM requests per second, 0 for no limit",
			},
			&cli.IntFlag{
				Name:  "snap-max-points",
				Usage: "Maximum number of coordinates sent to OSRM per trip",
				Value: snap.DefaultMaxPoints,
			},
			&cli.StringFlag{
				Name:  "output-gpx",
				Usage: "Also write the trips as tracks to this GPX file",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write run metrics to this file in Prometheus text format",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log debug messages",
			},
		},
		OnUsageError: func(c *cli.Context, err error, isSubcommand bool) error {
			return &UsageError{Err: err}
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return usageErrorf("unexpected arguments: %s", strings.Join(c.Args().Slice(), " "))
			}
			log := logging.New(c.App.ErrWriter, c.Bool("verbose"))
			defer log.Sync()

			opts, err := parseOptions(c, log)
			if err != nil {
				return err
			}
			m := metrics.NewCollector()
			opts.Metrics = m

			summary, err := process.Run(c.Context, *opts)
			if path := c.String("metrics-file"); path != "" {
				if err := m.WriteTextfile(path); err != nil {
					log.Warn("error writing metrics", zap.String("file", path), zap.Error(err))
				}
			}
			if err != nil {
				return err
			}
			log.Info("filtered routes saved",
				zap.String("file", opts.OutputGeoJSON),
				zap.Int("loaded", summary.Loaded),
				zap.Int("kept", summary.Kept),
				zap.Int("snapped", summary.Snapped),
				zap.Int("snapFailed", summary.SnapFailed),
				zap.Int("features", summary.Features),
			)
			return nil
		},
	}
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// parseOptions validates the command line and builds the pipeline options.
// Every problem it finds is a *UsageError.
func parseOptions(c *cli.Context, log *zap.Logger) (*process.Options, error) {
	opts := &process.Options{
		FolderPath:       c.String("folder-path"),
		OutputGeoJSON:    c.String("output-geojson"),
		OutputGPX:        c.String("output-gpx"),
		Creator:          appName,
		Activities:       splitList(c.StringSlice("activity-types")),
		ExcludeCountries: splitList(c.StringSlice("exclude-countries")),
		Logger:           log,
	}

	if opts.FolderPath == "" {
		return nil, usageErrorf("--folder-path is required")
	}
	if opts.OutputGeoJSON == "" {
		return nil, usageErrorf("--output-geojson is required")
	}
	info, err := os.Stat(opts.FolderPath)
	if err != nil {
		return nil, &UsageError{Err: fmt.Errorf("input directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, usageErrorf("input directory: %s is not a directory", opts.FolderPath)
	}

	for _, a := range opts.Activities {
		if !trips.KnownActivity(a) {
			log.Warn("unknown activity type, no trips will match it", zap.String("activity", a))
		}
	}

	dr, err := parseDateRange(c.String("from-date"), c.String("to-date"), c.String("timezone"))
	if err != nil {
		return nil, err
	}
	opts.DateRange = dr

	gf, err := parseGeofence(c)
	if err != nil {
		return nil, err
	}
	opts.Geofence = gf

	opts.Style = export.Style{StrokeWidth: c.Float64("stroke-width"), StrokeColor: c.String("stroke-color")}
	if opts.Style.StrokeWidth <= 0 {
		return nil, usageErrorf("--stroke-width must be positive, got %g", opts.Style.StrokeWidth)
	}
	if !colorPattern.MatchString(opts.Style.StrokeColor) {
		return nil, usageErrorf("--stroke-color must look like #RRGGBB, got %q", opts.Style.StrokeColor)
	}

	if c.Bool("snap") {
		s, err := newSnapClient(c, log)
		if err != nil {
			return nil, err
		}
		opts.Snapper = s
		opts.SnapWorkers = c.Int("snap-workers")
	}
	return opts, nil
}

func parseDateRange(from, to, tz string) (*trips.DateRange, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, usageErrorf("invalid --timezone %q: %v", tz, err)
	}
	if from == "" && to == "" {
		return nil, nil
	}
	r := &trips.DateRange{Location: loc}
	if from != "" {
		if r.From, err = trips.ParseDate(from); err != nil {
			return nil, usageErrorf("invalid --from-date %q: expected YYYY-MM-DD", from)
		}
	}
	if to != "" {
		if r.To, err = trips.ParseDate(to); err != nil {
			return nil, usageErrorf("invalid --to-date %q: expected YYYY-MM-DD", to)
		}
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return nil, usageErrorf("--from-date %s is after --to-date %s", from, to)
	}
	return r, nil
}

func parseGeofence(c *cli.Context) (*trips.Geofence, error) {
	names := []string{"center-lat", "center-lon", "radius-km"}
	set := 0
	for _, n := range names {
		if c.IsSet(n) {
			set++
		}
	}
	switch set {
	case 0:
		return nil, nil
	case len(names):
	default:
		return nil, usageErrorf("--center-lat, --center-lon and --radius-km must be given together")
	}
	g := &trips.Geofence{
		CenterLat: c.Float64("center-lat"),
		CenterLon: c.Float64("center-lon"),
		RadiusKm:  c.Float64("radius-km"),
	}
	if err := g.Validate(); err != nil {
		return nil, &UsageError{Err: err}
	}
	return g, nil
}

func newSnapClient(c *cli.Context, log *zap.Logger) (*snap.Client, error) {
	service, err := snap.ParseService(c.String("snap-service"))
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	if c.Duration("snap-timeout") <= 0 {
		return nil, usageErrorf("--snap-timeout must be positive")
	}
	if c.Int("snap-workers") < 1 {
		return nil, usageErrorf("--snap-workers must be at least 1")
	}
	if c.Int("snap-max-points") < 2 {
		return nil, usageErrorf("--snap-max-points must be at least 2")
	}
	if c.Float64("snap-rate") < 0 {
		return nil, usageErrorf("--snap-rate must not be negative")
	}
	return snap.New(
		snap.WithBaseURL(c.String("osrm-url")),
		snap.WithProfile(c.String("osrm-profile")),
		snap.WithService(service),
		snap.WithTimeout(c.Duration("snap-timeout")),
		snap.WithMaxPoints(c.Int("snap-max-points")),
		snap.WithRateLimit(c.Float64("snap-rate")),
		snap.WithLogger(log),
	), nil
}

// splitList flattens comma separated values and drops empty entries.
func splitList(values []string) []string {
	var xs []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				xs = append(xs, s)
			}
		}
	}
	return xs
}

// expandMultiValueFlags rewrites "--flag a b" as "--flag a --flag b" for the
// named flags, so that they accept a space separated list of values.
func expandMultiValueFlags(args []string, names []string) []string {
	isMulti := make(map[string]bool)
	for _, n := range names {
		isMulti["-"+n] = true
		isMulti["--"+n] = true
	}
	if len(args) == 0 {
		return args
	}
	out := []string{args[0]}
	for i := 1; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			out = append(out, args[i:]...)
			break
		}
		if !isMulti[a] {
			out = append(out, a)
			continue
		}
		n := 0
		for i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			n++
			out = append(out, a, args[i])
		}
		if n == 0 {
			// leave the flag for the parser to report its missing value
			out = append(out, a)
		}
	}
	return out
}
