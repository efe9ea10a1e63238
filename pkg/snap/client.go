// Package snap aligns trips to the road network using an OSRM routing
// service.
package snap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ray1729/takeout-routes/pkg/logging"
	"github.com/ray1729/takeout-routes/pkg/trips"
)

const (
	DefaultBaseURL   = "https://router.project-osrm.org"
	DefaultProfile   = "driving"
	DefaultTimeout   = 30 * time.Second
	DefaultMaxPoints = 100

	maxResponseSize = 16 << 20
)

// Service selects the OSRM endpoint. Route finds the fastest road route
// through the points; Match fits the points, with their times, to the roads
// actually travelled.
type Service string

const (
	Route Service = "route"
	Match Service = "match"
)

func ParseService(s string) (Service, error) {
	switch Service(s) {
	case Route, Match:
		return Service(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownService, s)
}

type Client struct {
	baseURL    string
	profile    string
	service    Service
	timeout    time.Duration
	maxPoints  int
	limiter    *rate.Limiter
	httpClient *http.Client
	log        *zap.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

func WithProfile(p string) Option {
	return func(c *Client) {
		c.profile = p
	}
}

func WithService(s Service) Option {
	return func(c *Client) {
		c.service = s
	}
}

// WithTimeout sets the timeout of each request. It has no effect when a
// client is supplied with WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxPoints limits the number of coordinates sent per request. Longer
// trips are thinned out evenly, always keeping the first and last point.
func WithMaxPoints(n int) Option {
	return func(c *Client) {
		c.maxPoints = n
	}
}

// WithRateLimit limits requests to perSecond. Zero or less means no limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		profile:   DefaultProfile,
		service:   Route,
		timeout:   DefaultTimeout,
		maxPoints: DefaultMaxPoints,
		limiter:   rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	c.log = logging.OrNop(c.log)
	return c
}

type osrmResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Routes    []osrmGeometry `json:"routes"`
	Matchings []osrmGeometry `json:"matchings"`
}

type osrmGeometry struct {
	Geometry *geojson.Geometry `json:"geometry"`
}

// Snap returns a copy of t with its points replaced by the geometry returned
// by the routing service. The copy keeps the ID, activity and time span of
// t; the new points are given evenly spaced times.
func (c *Client) Snap(ctx context.Context, t *trips.Trip) (*trips.Trip, error) {
	if len(t.Points) < 2 {
		return nil, ErrTooShort
	}
	u := c.requestURL(downsample(t.Points, c.maxPoints))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request for %s: %w", u, err)
	}
	c.log.Debug("snapping trip", zap.String("trip", t.ID), zap.String("url", u))
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error getting %s: %w", c.baseURL, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", c.baseURL, err)
	}

	var resp osrmResponse
	decodeErr := json.Unmarshal(body, &resp)
	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: res.StatusCode, Code: resp.Code, Message: resp.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGeometry, decodeErr)
	}
	if resp.Code != "Ok" {
		return nil, &StatusError{StatusCode: res.StatusCode, Code: resp.Code, Message: resp.Message}
	}

	parts := resp.Routes
	if len(parts) > 1 {
		parts = parts[:1]
	}
	if c.service == Match {
		parts = resp.Matchings
	}
	latLons, err := joinGeometries(parts)
	if err != nil {
		return nil, err
	}
	return t.WithPoints(latLons), nil
}

func (c *Client) requestURL(pts []trips.Point) string {
	coords := make([]string, len(pts))
	for i, p := range pts {
		coords[i] = formatCoord(p.Lon) + "," + formatCoord(p.Lat)
	}
	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "geojson")
	if c.service == Match {
		stamps := make([]string, len(pts))
		for i, p := range pts {
			stamps[i] = strconv.FormatInt(p.Time.Unix(), 10)
		}
		q.Set("timestamps", strings.Join(stamps, ";"))
	}
	return fmt.Sprintf("%s/%s/v1/%s/%s?%s",
		c.baseURL, c.service, url.PathEscape(c.profile), strings.Join(coords, ";"), q.Encode())
}

func formatCoord(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// joinGeometries concatenates the line strings in order, dropping a joining
// coordinate repeated at the start of the next part. Repeats within a part
// are kept.
func joinGeometries(parts []osrmGeometry) ([][2]float64, error) {
	var latLons [][2]float64
	for i, part := range parts {
		if part.Geometry == nil || part.Geometry.Coordinates == nil {
			return nil, fmt.Errorf("%w: part %d has no geometry", ErrNoGeometry, i)
		}
		g, err := part.Geometry.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoGeometry, err)
		}
		ls, ok := g.(*geom.LineString)
		if !ok {
			return nil, fmt.Errorf("%w: expected LineString, got %T", ErrNoGeometry, g)
		}
		for j, coord := range ls.Coords() {
			ll := [2]float64{coord[1], coord[0]}
			if n := len(latLons); j == 0 && n > 0 && latLons[n-1] == ll {
				continue
			}
			latLons = append(latLons, ll)
		}
	}
	if len(latLons) < 2 {
		return nil, fmt.Errorf("%w: %d coordinates", ErrNoGeometry, len(latLons))
	}
	return latLons, nil
}

// downsample picks n points spread evenly along pts, including both ends.
func downsample(pts []trips.Point, n int) []trips.Point {
	if n < 2 || len(pts) <= n {
		return pts
	}
	out := make([]trips.Point, n)
	last := float64(len(pts) - 1)
	for i := range out {
		out[i] = pts[int(math.Round(float64(i)*last/float64(n-1)))]
	}
	return out
}
