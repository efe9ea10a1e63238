// Package takeout reads Google location history exports: the Semantic
// Location History folder of a Takeout archive and the Timeline files
// exported from Android and iOS devices.
package takeout

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ray1729/takeout-routes/pkg/logging"
	"github.com/ray1729/takeout-routes/pkg/metrics"
	"github.com/ray1729/takeout-routes/pkg/trips"
)

var (
	ErrNotDirectory       = errors.New("not a directory")
	ErrUnrecognizedFormat = errors.New("unrecognized location history format")
)

// RecordError describes a single record of a file that could not be parsed.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

type Loader struct {
	log     *zap.Logger
	metrics *metrics.Collector
}

func NewLoader(log *zap.Logger, m *metrics.Collector) *Loader {
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Loader{log: logging.OrNop(log), metrics: m}
}

// Load reads every .json file below dir, in lexical order, and returns the
// trips found in them. Files and records that cannot be parsed are logged and
// skipped.
func (l *Loader) Load(dir string) ([]*trips.Trip, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}

	var result []*trips.Trip
	err = filepath.WalkDir(dir, func(fpath string, d fs.DirEntry, err error) error {
		if err != nil {
			if fpath == dir {
				return err
			}
			l.metrics.ParseWarnings.Inc()
			l.log.Warn("skipping unreadable entry", zap.String("path", fpath), zap.Error(err))
			return nil
		}
		if fpath != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || strings.ToLower(filepath.Ext(d.Name())) != ".json" {
			return nil
		}
		source, err := filepath.Rel(dir, fpath)
		if err != nil {
			source = fpath
		}
		ts, err := l.LoadFile(fpath, filepath.ToSlash(source))
		if err != nil {
			l.metrics.ParseWarnings.Inc()
			l.log.Warn("skipping file", zap.String("file", fpath), zap.Error(err))
			return nil
		}
		result = append(result, ts...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", dir, err)
	}
	l.log.Info("loaded trips", zap.String("folder", dir), zap.Int("trips", len(result)))
	return result, nil
}

// LoadFile parses a single file. source identifies the file in trip IDs.
// Malformed records are logged and skipped; an error is returned only when
// the file as a whole cannot be read or recognized.
func (l *Loader) LoadFile(path, source string) ([]*trips.Trip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	l.metrics.FilesRead.Inc()
	l.log.Debug("processing file", zap.String("file", path))

	ts, recErrs, err := Decode(data)
	if err != nil {
		return nil, err
	}
	for _, e := range recErrs {
		l.metrics.ParseWarnings.Inc()
		l.log.Warn("skipping record", zap.String("file", path), zap.Error(e))
	}
	for _, t := range ts {
		t.Source = source
		t.ID = tripID(source, t.ID)
	}
	l.metrics.TripsLoaded.Add(float64(len(ts)))
	return ts, nil
}

// Decode recognizes the export format of data and extracts its trips. The
// ID of each returned trip is the index of the record it came from. Records
// that cannot be decoded are reported in recErrs.
func Decode(data []byte) (ts []*trips.Trip, recErrs []error, err error) {
	data = bytes.TrimSpace(skipBOM(data))
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty file", ErrUnrecognizedFormat)
	}
	switch data[0] {
	case '[':
		return decodeIOS(data)
	case '{':
		var probe struct {
			TimelineObjects  *jsonArray `json:"timelineObjects"`
			SemanticSegments *jsonArray `json:"semanticSegments"`
		}
		if err := unmarshal(data, &probe); err != nil {
			return nil, nil, err
		}
		switch {
		case probe.TimelineObjects != nil:
			return decodeLegacy(*probe.TimelineObjects)
		case probe.SemanticSegments != nil:
			return decodeAndroid(*probe.SemanticSegments)
		}
	}
	return nil, nil, ErrUnrecognizedFormat
}

var bom = []byte{0xef, 0xbb, 0xbf}

func skipBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, bom)
}

func tripID(source, index string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+index)).String()
}

func indexID(i int) string {
	return strconv.Itoa(i)
}
