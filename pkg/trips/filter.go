package trips

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type Filter func(*Trip) bool

func (f Filter) Complement() Filter {
	return func(t *Trip) bool {
		return !f(t)
	}
}

// Apply returns the trips that pass every filter, in their original order.
// The input slice is not modified.
func Apply(ts []*Trip, filters ...Filter) []*Trip {
	result := make([]*Trip, 0, len(ts))
	for _, t := range ts {
		if applyFilters(t, filters) {
			result = append(result, t)
		}
	}
	return result
}

func applyFilters(t *Trip, filters []Filter) bool {
	for _, f := range filters {
		if !f(t) {
			return false
		}
	}
	return true
}

// FilterActivity keeps trips whose label is a known activity type and one of
// activities. An empty set keeps everything, unknown labels included.
func FilterActivity(activities ...string) Filter {
	if len(activities) == 0 {
		return func(*Trip) bool { return true }
	}
	set := make(map[string]struct{}, len(activities))
	for _, a := range activities {
		set[a] = struct{}{}
	}
	return func(t *Trip) bool {
		if !KnownActivity(t.Activity) {
			return false
		}
		_, ok := set[t.Activity]
		return ok
	}
}

func ByActivity(ts []*Trip, activities []string) []*Trip {
	return Apply(ts, FilterActivity(activities...))
}

// DateRange is an inclusive range of calendar dates. A zero From or To leaves
// that side open.
type DateRange struct {
	From     time.Time
	To       time.Time
	Location *time.Location
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func (r *DateRange) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Contains reports whether the calendar date of ts, in the range's location,
// lies within the range.
func (r *DateRange) Contains(ts time.Time) bool {
	y, m, d := ts.In(r.location()).Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if !r.From.IsZero() && date.Before(civil(r.From)) {
		return false
	}
	if !r.To.IsZero() && date.After(civil(r.To)) {
		return false
	}
	return true
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FilterDateRange(r *DateRange) Filter {
	return func(t *Trip) bool {
		return r == nil || r.Contains(t.Start)
	}
}

func ByDateRange(ts []*Trip, r *DateRange) []*Trip {
	if r == nil {
		return Apply(ts)
	}
	return Apply(ts, FilterDateRange(r))
}

var countryAliases = map[string][]string{
	"sweden": {"sverige", "sweden"},
	"usa":    {"united states", "usa", "us"},
	"spain":  {"españa", "spain", "espanya"},
	"france": {"france"},
}

// NormalizeCountry maps a country name or one of its aliases to a canonical
// lower case name. Unknown names are lower cased.
func NormalizeCountry(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for base, aliases := range countryAliases {
		for _, a := range aliases {
			if a == name {
				return base
			}
		}
	}
	return name
}

// FilterExcludeCountries drops trips with a place (transit stop name or
// address) mentioning any of the given countries as a whole word.
func FilterExcludeCountries(countries ...string) Filter {
	var needles []string
	for _, c := range countries {
		base := NormalizeCountry(c)
		if aliases, ok := countryAliases[base]; ok {
			needles = append(needles, aliases...)
		} else if base != "" {
			needles = append(needles, base)
		}
	}
	return func(t *Trip) bool {
		for _, p := range t.Places {
			p = strings.ToLower(p)
			for _, n := range needles {
				if containsWord(p, n) {
					return false
				}
			}
		}
		return true
	}
}

func ExcludeCountries(ts []*Trip, countries []string) []*Trip {
	return Apply(ts, FilterExcludeCountries(countries...))
}

func containsWord(s, word string) bool {
	for i := 0; i+len(word) <= len(s); {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !unicode.IsLetter(before)) && (end == len(s) || !unicode.IsLetter(after)) {
			return true
		}
		i = start + 1
	}
	return false
}
