package series

import (
	"sort"
	"time"

	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
)

// Step is the resampling interval.
const Step = 10 * time.Minute

const labelLayout = "15:04"

// Resample converts hourly forecast entries (native km/h) into a knots series
// with linearly interpolated points every Step between consecutive entries.
//
// A synthetic point is only emitted while step+Step is strictly before the
// next entry, so entries exactly Step apart get nothing between them and no
// point ever lands on an original entry's timestamp.
func Resample(entries []models.ForecastEntry) []models.ResampledPoint {
	sorted := sortedUnique(entries)
	if len(sorted) == 0 {
		return nil
	}

	out := make([]models.ResampledPoint, 0, len(sorted)*int(time.Hour/Step))
	for i := 0; i+1 < len(sorted); i++ {
		a, b := sorted[i], sorted[i+1]
		aKnots := normalize.KmhToKnots(a.Speed)
		bKnots := normalize.KmhToKnots(b.Speed)
		out = append(out, point(a.Time, aKnots, a))

		span := b.Time.Sub(a.Time).Seconds()
		for t := a.Time; t.Add(Step).Before(b.Time); {
			t = t.Add(Step)
			frac := t.Sub(a.Time).Seconds() / span
			out = append(out, point(t, aKnots+frac*(bKnots-aKnots), a))
		}
	}

	last := sorted[len(sorted)-1]
	out = append(out, point(last.Time, normalize.KmhToKnots(last.Speed), last))
	return out
}

// ResampleWindow resamples only the entries inside the half-open window.
func ResampleWindow(entries []models.ForecastEntry, w normalize.Window) []models.ResampledPoint {
	return Resample(Filter(entries, w.Contains))
}

// Filter returns the entries whose timestamp satisfies keep.
func Filter(entries []models.ForecastEntry, keep func(time.Time) bool) []models.ForecastEntry {
	var out []models.ForecastEntry
	for _, e := range entries {
		if keep(e.Time) {
			out = append(out, e)
		}
	}
	return out
}

// sortedUnique sorts a copy by time and drops entries repeating the previous
// timestamp (first one wins).
func sortedUnique(entries []models.ForecastEntry) []models.ForecastEntry {
	sorted := make([]models.ForecastEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	out := sorted[:0]
	for i, e := range sorted {
		if i > 0 && e.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func point(t time.Time, knots float64, src models.ForecastEntry) models.ResampledPoint {
	return models.ResampledPoint{
		Time:             t,
		Label:            t.Format(labelLayout),
		WindKnots:        knots,
		DirectionDegrees: src.DirectionDegrees,
		DirectionText:    src.DirectionText,
	}
}

// Lookahead resamples the forecast from the next full hour after now (now
// itself when already on the hour) through hours later, both ends inclusive.
func Lookahead(entries []models.ForecastEntry, now time.Time, hours int) []models.ResampledPoint {
	y, m, d := now.Date()
	start := time.Date(y, m, d, now.Hour(), 0, 0, 0, now.Location())
	if !start.Equal(now) {
		start = start.Add(time.Hour)
	}
	cutoff := start.Add(time.Duration(hours) * time.Hour)
	return Resample(Filter(entries, func(t time.Time) bool {
		return !t.Before(start) && !t.After(cutoff)
	}))
}
