package series

import (
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
)

// Merge pairs every observed point inside w with the matched forecast value.
// Observed values are converted to knots. Points outside the window are
// dropped; order and duplicates are preserved.
func Merge(observed []models.ObservedPoint, forecast []models.ResampledPoint, w normalize.Window, m Matcher) []models.MergedRecord {
	out := make([]models.MergedRecord, 0, len(observed))
	for _, p := range observed {
		if !w.Contains(p.Time) {
			continue
		}
		rec := models.MergedRecord{
			Time:   p.Time,
			Actual: normalize.KmhToKnots(p.Value),
		}
		if v, ok := m.Nearest(forecast, p.Time); ok {
			predicted := v
			rec.Predicted = &predicted
		}
		out = append(out, rec)
	}
	return out
}
