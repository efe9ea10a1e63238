package trips

import (
	"time"
)

type Point struct {
	Time time.Time
	Lat  float64
	Lon  float64
}

// Trip is a single activity segment from a location history export.
type Trip struct {
	ID       string
	Source   string
	Activity string
	Start    time.Time
	End      time.Time
	Points   []Point
	Places   []string
	Snapped  bool
}

// WithPoints returns a copy of t with its point sequence replaced. The new
// points are given times spread evenly between t.Start and t.End.
func (t *Trip) WithPoints(latLons [][2]float64) *Trip {
	pts := make([]Point, len(latLons))
	for i, ll := range latLons {
		pts[i] = Point{Lat: ll[0], Lon: ll[1]}
	}
	InterpolateTimes(pts, t.Start, t.End)
	c := *t
	c.Points = pts
	c.Places = append([]string(nil), t.Places...)
	c.Snapped = true
	return &c
}

// InterpolateTimes assigns times to points linearly by index, the first point
// at start and the last at end.
func InterpolateTimes(pts []Point, start, end time.Time) {
	n := len(pts)
	if n == 0 {
		return
	}
	if n == 1 {
		pts[0].Time = start
		return
	}
	span := end.Sub(start)
	if span < 0 {
		span = 0
	}
	for i := range pts {
		pts[i].Time = start.Add(time.Duration(float64(span) * float64(i) / float64(n-1)))
	}
}

// Chronological reports whether the point times never decrease.
func (t *Trip) Chronological() bool {
	for i := 1; i < len(t.Points); i++ {
		if t.Points[i].Time.Before(t.Points[i-1].Time) {
			return false
		}
	}
	return true
}

// LatLons returns the point coordinates as (lat, lon) pairs.
func (t *Trip) LatLons() [][2]float64 {
	xs := make([][2]float64, len(t.Points))
	for i, p := range t.Points {
		xs[i] = [2]float64{p.Lat, p.Lon}
	}
	return xs
}
