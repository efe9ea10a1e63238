package takeout

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ray1729/takeout-routes/pkg/trips"
)

// Coordinates in the Takeout files are integers, degrees times 1e7.
const e7 = 1e7

type jsonArray []json.RawMessage

func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}

// Semantic Location History, one file per month:
// Semantic Location History/2024/2024_MARCH.json
type legacyTimelineObject struct {
	ActivitySegment *legacyActivitySegment `json:"activitySegment"`
}

type legacyActivitySegment struct {
	ActivityType string `json:"activityType"`
	Duration     struct {
		StartTimestamp   string `json:"startTimestamp"`
		EndTimestamp     string `json:"endTimestamp"`
		StartTimestampMs string `json:"startTimestampMs"`
		EndTimestampMs   string `json:"endTimestampMs"`
	} `json:"duration"`
	StartLocation *e7Location `json:"startLocation"`
	EndLocation   *e7Location `json:"endLocation"`
	WaypointPath  struct {
		Waypoints []struct {
			LatE7 int64 `json:"latE7"`
			LngE7 int64 `json:"lngE7"`
		} `json:"waypoints"`
	} `json:"waypointPath"`
	SimplifiedRawPath struct {
		Points []struct {
			LatE7       int64  `json:"latE7"`
			LngE7       int64  `json:"lngE7"`
			Timestamp   string `json:"timestamp"`
			TimestampMs string `json:"timestampMs"`
		} `json:"points"`
	} `json:"simplifiedRawPath"`
	TransitPath struct {
		TransitStops []struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"transitStops"`
	} `json:"transitPath"`
}

type e7Location struct {
	LatitudeE7  *int64 `json:"latitudeE7"`
	LongitudeE7 *int64 `json:"longitudeE7"`
}

func (l *e7Location) point(ts time.Time) (trips.Point, bool) {
	if l == nil || l.LatitudeE7 == nil || l.LongitudeE7 == nil {
		return trips.Point{}, false
	}
	return trips.Point{Time: ts, Lat: float64(*l.LatitudeE7) / e7, Lon: float64(*l.LongitudeE7) / e7}, true
}

var errMissingTimestamp = errors.New("missing timestamp")

// parseTimestamp accepts an RFC 3339 timestamp, with or without fractional
// seconds, or, as in older exports, a string of milliseconds since the epoch.
func parseTimestamp(iso, millis string) (time.Time, error) {
	switch {
	case iso != "":
		return time.Parse(time.RFC3339Nano, iso)
	case millis != "":
		ms, err := strconv.ParseInt(millis, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad millisecond timestamp %q: %w", millis, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, errMissingTimestamp
}

func decodeLegacy(records jsonArray) ([]*trips.Trip, []error, error) {
	var ts []*trips.Trip
	var errs []error
	for i, raw := range records {
		var obj legacyTimelineObject
		if err := unmarshal(raw, &obj); err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			continue
		}
		if obj.ActivitySegment == nil {
			// place visits
			continue
		}
		t, err := obj.ActivitySegment.trip()
		if err != nil {
			errs = append(errs, &RecordError{Index: i, Err: err})
			continue
		}
		t.ID = indexID(i)
		ts = append(ts, t)
	}
	return ts, errs, nil
}

func (s *legacyActivitySegment) trip() (*trips.Trip, error) {
	start, err := parseTimestamp(s.Duration.StartTimestamp, s.Duration.StartTimestampMs)
	if err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	end, err := parseTimestamp(s.Duration.EndTimestamp, s.Duration.EndTimestampMs)
	if err != nil {
		return nil, fmt.Errorf("end time: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end time %s before start time %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	activity := s.ActivityType
	if activity == "" {
		activity = trips.UnknownActivityType
	}
	t := &trips.Trip{Activity: activity, Start: start, End: end}

	if len(s.WaypointPath.Waypoints) > 0 || len(s.SimplifiedRawPath.Points) == 0 {
		// waypoints carry no times of their own
		if p, ok := s.StartLocation.point(start); ok {
			t.Points = append(t.Points, p)
		}
		for _, w := range s.WaypointPath.Waypoints {
			t.Points = append(t.Points, trips.Point{Lat: float64(w.LatE7) / e7, Lon: float64(w.LngE7) / e7})
		}
		if p, ok := s.EndLocation.point(end); ok {
			t.Points = append(t.Points, p)
		}
		trips.InterpolateTimes(t.Points, start, end)
	} else {
		if p, ok := s.StartLocation.point(start); ok {
			t.Points = append(t.Points, p)
		}
		for _, rp := range s.SimplifiedRawPath.Points {
			ts, err := parseTimestamp(rp.Timestamp, rp.TimestampMs)
			if err != nil {
				return nil, fmt.Errorf("raw path point: %w", err)
			}
			t.Points = append(t.Points, trips.Point{Time: ts, Lat: float64(rp.LatE7) / e7, Lon: float64(rp.LngE7) / e7})
		}
		if p, ok := s.EndLocation.point(end); ok {
			t.Points = append(t.Points, p)
		}
		sort.SliceStable(t.Points, func(i, j int) bool {
			return t.Points[i].Time.Before(t.Points[j].Time)
		})
	}

	// Only transit stops are places; start and end location names are not.
	for _, stop := range s.TransitPath.TransitStops {
		t.Places = appendNonEmpty(t.Places, stop.Name, stop.Address)
	}
	return t, nil
}

func appendNonEmpty(xs []string, ys ...string) []string {
	for _, y := range ys {
		if y != "" {
			xs = append(xs, y)
		}
	}
	return xs
}
