package accuracy

import (
	"math"
	"time"

	"github.com/lox/seawaywind/internal/models"
)

const (
	// ExpectedSlots is one 10 minute slot per day.
	ExpectedSlots = 144
	// EPS keeps the sMAPE denominator away from zero.
	EPS = 1e-6
)

// Compute reduces a day's merged records into accuracy statistics. Only
// records with a finite actual and a finite predicted value count towards N.
// Coverage is N/ExpectedSlots and is not clamped, so duplicated observations
// can push it above 1.
func Compute(records []models.MergedRecord, date time.Time) models.DailyMetricsEntry {
	entry := models.DailyMetricsEntry{Date: date.Format(models.DateLayout)}

	var n int
	var sumAbs, sumSq, sumSigned, sumSMAPE, sumActual, sumPredicted float64
	for _, r := range records {
		if r.Predicted == nil || !finite(r.Actual) || !finite(*r.Predicted) {
			continue
		}
		actual, predicted := r.Actual, *r.Predicted
		diff := predicted - actual
		abs := math.Abs(diff)

		n++
		sumAbs += abs
		sumSq += diff * diff
		sumSigned += diff
		sumSMAPE += 2 * abs / (math.Abs(actual) + math.Abs(predicted) + EPS)
		sumActual += actual
		sumPredicted += predicted
	}

	if n == 0 {
		return entry
	}

	fn := float64(n)
	entry.N = n
	entry.Coverage = fn / ExpectedSlots
	entry.MAE = ptr(sumAbs / fn)
	entry.RMSE = ptr(math.Sqrt(sumSq / fn))
	entry.Bias = ptr(sumSigned / fn)
	entry.SMAPE = ptr(sumSMAPE / fn)
	entry.MeanActual = ptr(sumActual / fn)
	entry.MeanPredicted = ptr(sumPredicted / fn)
	return entry
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func ptr(f float64) *float64 {
	return &f
}
