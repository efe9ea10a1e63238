package export

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"os"

	"github.com/twpayne/go-gpx"

	"github.com/ray1729/takeout-routes/pkg/trips"
)

// GPX returns a document with one track per trip that has at least two
// points.
func GPX(ts []*trips.Trip, creator string) *gpx.GPX {
	g := &gpx.GPX{
		Version: "1.1",
		Creator: creator,
	}
	for _, t := range ts {
		if len(t.Points) < 2 {
			continue
		}
		seg := &gpx.TrkSegType{}
		for _, p := range t.Points {
			seg.TrkPt = append(seg.TrkPt, &gpx.WptType{Lat: p.Lat, Lon: p.Lon, Time: p.Time.UTC()})
		}
		g.Trk = append(g.Trk, &gpx.TrkType{
			Name:   fmt.Sprintf("%s %s", t.Activity, t.Start.Format("2006-01-02")),
			Type:   t.Activity,
			TrkSeg: []*gpx.TrkSegType{seg},
		})
	}
	return g
}

// WriteGPX replaces the file at path with a GPX document for ts and returns
// the number of tracks written.
func WriteGPX(path string, ts []*trips.Trip, creator string) (n int, err error) {
	g := GPX(ts, creator)
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("error opening %s for writing: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("error closing %s: %w", path, cerr)
		}
	}()
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(xml.Header); err != nil {
		return 0, fmt.Errorf("error writing %s: %w", path, err)
	}
	if err := g.WriteIndent(w, "", "  "); err != nil {
		return 0, fmt.Errorf("error writing %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("error writing %s: %w", path, err)
	}
	return len(g.Trk), nil
}
