// Package normalize converts provider units and timestamps into the single
// civil-time reference used by the reconciliation pipeline.
//
// The time conventions are station specific. For the WillyWeather feeds the
// observation epochs carry local wall-clock digits of the station zone even
// though they look like UTC; forecast dateTime strings are usually naive local
// time. Getting either wrong shifts every output by the zone offset.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/lox/seawaywind/internal/models"
)

// KnotsPerKmh is the one conversion constant used across the pipeline
// (1 knot = 1.852 km/h, reciprocal to 6 significant digits).
const KnotsPerKmh = 0.539957

func KmhToKnots(kmh float64) float64 {
	return kmh * KnotsPerKmh
}

func KnotsToKmh(knots float64) float64 {
	return knots / KnotsPerKmh
}

// ReinterpretEpochAsLocalWallclock takes the UTC decomposition of epoch and
// labels those same wall-clock digits as loc. No offset is applied.
func ReinterpretEpochAsLocalWallclock(epoch int64, loc *time.Location) time.Time {
	u := time.Unix(epoch, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), 0, loc)
}

// TimeConfig controls how provider timestamps are interpreted for a station.
type TimeConfig struct {
	Location *time.Location
	// EpochIsWallClock selects ReinterpretEpochAsLocalWallclock for epoch
	// values. When false the epoch is treated as a true instant and converted.
	EpochIsWallClock bool
}

func NewTimeConfig(loc *time.Location) TimeConfig {
	return TimeConfig{Location: loc, EpochIsWallClock: true}
}

func (c TimeConfig) Epoch(epoch int64) time.Time {
	if c.EpochIsWallClock {
		return ReinterpretEpochAsLocalWallclock(epoch, c.Location)
	}
	return time.Unix(epoch, 0).In(c.Location)
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseProviderTime parses an ISO-8601 timestamp. Zoned values are converted
// into loc; naive values are taken to already be wall-clock time in loc.
func ParseProviderTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse provider time %q: unrecognised format", s)
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// CivilDay returns [local midnight, next local midnight) for date in loc.
func CivilDay(date time.Time, loc *time.Location) Window {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// ParseDate parses a YYYY-MM-DD civil date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(models.DateLayout, strings.TrimSpace(s), loc)
}

// Yesterday returns the civil date before now in loc.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d-1, 0, 0, 0, 0, loc)
}
