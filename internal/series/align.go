package series

import (
	"sort"
	"time"

	"github.com/lox/seawaywind/internal/models"
)

// Matcher finds the resampled value nearest in time to a target.
type Matcher struct {
	// MaxDistance rejects matches further than this from the target. Zero
	// means any distance is accepted.
	MaxDistance time.Duration
}

// Nearest returns the value of the point in s closest to t. s must be
// strictly ordered by time. When t is equidistant from its two neighbours
// the earlier point wins.
func (m Matcher) Nearest(s []models.ResampledPoint, t time.Time) (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}

	i := sort.Search(len(s), func(i int) bool {
		return !s[i].Time.Before(t)
	})

	var idx int
	switch {
	case i == 0:
		idx = 0
	case i == len(s):
		idx = len(s) - 1
	default:
		before := absDuration(t.Sub(s[i-1].Time))
		after := absDuration(s[i].Time.Sub(t))
		if before <= after {
			idx = i - 1
		} else {
			idx = i
		}
	}

	if m.MaxDistance > 0 && absDuration(t.Sub(s[idx].Time)) > m.MaxDistance {
		return 0, false
	}
	return s[idx].WindKnots, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
