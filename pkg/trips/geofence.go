package trips

import (
	"errors"
	"fmt"
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/golang/geo/s2"
)

const EarthRadiusKm = 6371.0

// Minimum extent (in degrees) of an index rectangle; rtreego rejects empty rectangles.
const minRectSize = 1e-9

type Geofence struct {
	CenterLat float64
	CenterLon float64
	RadiusKm  float64
}

var ErrInvalidGeofence = errors.New("invalid geofence")

func (g *Geofence) Validate() error {
	if g.CenterLat < -90 || g.CenterLat > 90 {
		return fmt.Errorf("%w: center latitude %v out of range", ErrInvalidGeofence, g.CenterLat)
	}
	if g.CenterLon < -180 || g.CenterLon > 180 {
		return fmt.Errorf("%w: center longitude %v out of range", ErrInvalidGeofence, g.CenterLon)
	}
	if !(g.RadiusKm > 0) {
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidGeofence, g.RadiusKm)
	}
	return nil
}

// DistanceKm returns the great-circle distance between two points in kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

func (g *Geofence) ContainsPoint(p Point) bool {
	return DistanceKm(g.CenterLat, g.CenterLon, p.Lat, p.Lon) <= g.RadiusKm
}

// ContainsAny reports whether at least one point of t lies inside the fence.
func (g *Geofence) ContainsAny(t *Trip) bool {
	for _, p := range t.Points {
		if g.ContainsPoint(p) {
			return true
		}
	}
	return false
}

// Bounds returns the fence's bounding box in degrees. It returns nil when the
// box would cross a pole or the antimeridian.
func (g *Geofence) Bounds() *rtreego.Rect {
	dLat := g.RadiusKm / EarthRadiusKm * 180 / math.Pi
	minLat, maxLat := g.CenterLat-dLat, g.CenterLat+dLat
	if minLat <= -90 || maxLat >= 90 {
		return nil
	}
	// widest at the latitude furthest from the equator
	cos := math.Min(math.Cos(minLat*math.Pi/180), math.Cos(maxLat*math.Pi/180))
	dLon := dLat / cos
	minLon, maxLon := g.CenterLon-dLon, g.CenterLon+dLon
	if minLon < -180 || maxLon > 180 {
		return nil
	}
	r, err := rtreego.NewRect(rtreego.Point{minLon, minLat}, []float64{maxLon - minLon, maxLat - minLat})
	if err != nil {
		return nil
	}
	return r
}

func FilterGeofence(g *Geofence) Filter {
	return func(t *Trip) bool {
		return g == nil || g.ContainsAny(t)
	}
}

// ByGeofence keeps the trips with at least one point inside g. Candidates are
// found through an R-tree of trip bounding boxes before the exact distance
// check.
func ByGeofence(ts []*Trip, g *Geofence) []*Trip {
	if g == nil {
		return Apply(ts)
	}
	bb := g.Bounds()
	if bb == nil {
		return Apply(ts, FilterGeofence(g))
	}
	idx := NewIndex(ts)
	candidates := make(map[*Trip]bool)
	for _, s := range idx.SearchIntersect(bb) {
		candidates[s.(*tripBounds).trip] = true
	}
	return Apply(ts, func(t *Trip) bool {
		return candidates[t] && g.ContainsAny(t)
	})
}

type tripBounds struct {
	trip           *Trip
	minLon, minLat float64
	maxLon, maxLat float64
}

func (b *tripBounds) Bounds() *rtreego.Rect {
	r, err := rtreego.NewRect(
		rtreego.Point{b.minLon, b.minLat},
		[]float64{math.Max(b.maxLon-b.minLon, minRectSize), math.Max(b.maxLat-b.minLat, minRectSize)},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// NewIndex builds an R-tree over the bounding boxes of the trips that have
// points.
func NewIndex(ts []*Trip) *rtreego.Rtree {
	objs := make([]rtreego.Spatial, 0, len(ts))
	for _, t := range ts {
		if len(t.Points) == 0 {
			continue
		}
		b := &tripBounds{
			trip:   t,
			minLon: t.Points[0].Lon, maxLon: t.Points[0].Lon,
			minLat: t.Points[0].Lat, maxLat: t.Points[0].Lat,
		}
		for _, p := range t.Points[1:] {
			b.minLon = math.Min(b.minLon, p.Lon)
			b.maxLon = math.Max(b.maxLon, p.Lon)
			b.minLat = math.Min(b.minLat, p.Lat)
			b.maxLat = math.Max(b.maxLat, p.Lat)
		}
		objs = append(objs, b)
	}
	return rtreego.NewTree(2, 25, 50, objs...)
}
