package takeout

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ray1729/takeout-routes/pkg/trips"
)

// Timeline exports made on the device since Google moved location history
// off its servers. Activities only record their end points; the path in
// between comes from separate timelinePath records.

// degreeString looks like "59.3293°, 18.0686°".
type degreeString string

func (d degreeString) parse() (lat, lon float64, err error) {
	str := strings.ReplaceAll(string(d), "°", "")
	latStr, lonStr, ok := strings.Cut(str, ",")
	if !ok {
		return 0, 0, fmt.Errorf("not a valid degree string %q: missing comma separator", string(d))
	}
	return parseLatLon(latStr, lonStr)
}

// geoString looks like "geo:59.329300,18.068600".
type geoString string

func (g geoString) parse() (lat, lon float64, err error) {
	const prefix = "geo:"
	if !strings.HasPrefix(string(g), prefix) {
		return 0, 0, fmt.Errorf("not a valid geo string %q: missing prefix", string(g))
	}
	latStr, lonStr, ok := strings.Cut(string(g[len(prefix):]), ",")
	if !ok {
		return 0, 0, fmt.Errorf("not a valid geo string %q: missing comma separator", string(g))
	}
	return parseLatLon(latStr, lonStr)
}

func parseLatLon(latStr, lonStr string) (lat, lon float64, err error) {
	lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad latitude %q: %w", latStr, err)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad longitude %q: %w", lonStr, err)
	}
	return lat, lon, nil
}

// activityRecord is an activity from either on-device format, before its
// path has been attached.
type activityRecord struct {
	index      int
	activity   string
	start, end time.Time
	from, to   trips.Point
}

var errNoActivitySpan = errors.New("activity has no start or end time")

func newActivityRecord(index int, label string, start, end time.Time, from, to func() (float64, float64, error)) (*activityRecord, error) {
	if start.IsZero() || end.IsZero() {
		return nil, errNoActivitySpan
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end time %s before start time %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	fromLat, fromLon, err := from()
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	toLat, toLon, err := to()
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	return &activityRecord{
		index:    index,
		activity: trips.NormalizeActivity(label),
		start:    start,
		end:      end,
		from:     trips.Point{Time: start, Lat: fromLat, Lon: fromLon},
		to:       trips.Point{Time: end, Lat: toLat, Lon: toLon},
	}, nil
}

// assemble builds trips from the activities, inserting the path points that
// fall strictly inside each activity's time span.
func assemble(acts []*activityRecord, path []trips.Point) []*trips.Trip {
	sort.SliceStable(path, func(i, j int) bool {
		return path[i].Time.Before(path[j].Time)
	})
	ts := make([]*trips.Trip, 0, len(acts))
	for _, a := range acts {
		t := &trips.Trip{
			ID:       indexID(a.index),
			Activity: a.activity,
			Start:    a.start,
			End:      a.end,
		}
		t.Points = append(t.Points, a.from)
		i := sort.Search(len(path), func(i int) bool { return path[i].Time.After(a.start) })
		for ; i < len(path) && path[i].Time.Before(a.end); i++ {
			t.Points = append(t.Points, path[i])
		}
		t.Points = append(t.Points, a.to)
		ts = append(ts, t)
	}
	return ts
}

type androidSegment struct {
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	TimelinePath []struct {
		Point degreeString `json:"point"`
		Time  time.Time    `json:"time"`
	} `json:"timelinePath"`
	Activity *struct {
		Start struct {
			LatLng degreeString `json:"latLng"`
		} `json:"start"`
		End struct {
			LatLng degreeString `json:"latLng"`
		} `json:"end"`
		TopCandidate struct {
			Type string `json:"type"`
		} `json:"topCandidate"`
	} `json:"activity"`
}

func decodeAndroid(records jsonArray) ([]*trips.Trip, []error, error) {
	var acts []*activityRecord
	var path []trips.Point
	var errs []error
	for i, raw := range records {
		var seg androidSegment
		if err := unmarshal(raw, &seg); err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			continue
		}
		for _, p := range seg.TimelinePath {
			lat, lon, err := p.Point.parse()
			if err != nil {
				errs = append(errs, &RecordError{Index: i, Err: err})
				continue
			}
			path = append(path, trips.Point{Time: p.Time, Lat: lat, Lon: lon})
		}
		if seg.Activity == nil {
			continue
		}
		a, err := newActivityRecord(i, seg.Activity.TopCandidate.Type, seg.StartTime, seg.EndTime,
			seg.Activity.Start.LatLng.parse, seg.Activity.End.LatLng.parse)
		if err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			continue
		}
		acts = append(acts, a)
	}
	return assemble(acts, path), errs, nil
}

type iosEntry struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Activity  *struct {
		Start        geoString `json:"start"`
		End          geoString `json:"end"`
		TopCandidate struct {
			Type string `json:"type"`
		} `json:"topCandidate"`
	} `json:"activity"`
	TimelinePath []struct {
		Point                              geoString `json:"point"`
		DurationMinutesOffsetFromStartTime string    `json:"durationMinutesOffsetFromStartTime"`
	} `json:"timelinePath"`
}

func decodeIOS(data []byte) ([]*trips.Trip, []error, error) {
	var records jsonArray
	if err := unmarshal(data, &records); err != nil {
		return nil, nil, err
	}
	var acts []*activityRecord
	var path []trips.Point
	var errs []error
	for i, raw := range records {
		var e iosEntry
		if err := unmarshal(raw, &e); err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			continue
		}
		for _, p := range e.TimelinePath {
			lat, lon, err := p.Point.parse()
			if err != nil {
				errs = append(errs, &RecordError{Index: i, Err: err})
				continue
			}
			offset, err := strconv.ParseFloat(p.DurationMinutesOffsetFromStartTime, 64)
			if err != nil {
				errs = append(errs, &RecordError{Index: i, Err: fmt.Errorf("bad path offset %q: %w", p.DurationMinutesOffsetFromStartTime, err)})
				continue
			}
			ts := e.StartTime.Add(time.Duration(offset * float64(time.Minute)))
			path = append(path, trips.Point{Time: ts, Lat: lat, Lon: lon})
		}
		if e.Activity == nil {
			continue
		}
		a, err := newActivityRecord(i, e.Activity.TopCandidate.Type, e.StartTime, e.EndTime,
			e.Activity.Start.parse, e.Activity.End.parse)
		if err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			continue
		}
		acts = append(acts, a)
	}
	return assemble(acts, path), errs, nil
}
