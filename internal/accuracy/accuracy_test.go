package accuracy

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/store"
)

var testLoc = mustLoadLocation("Australia/Brisbane")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, testLoc)
}

func rec(actual float64, predicted *float64) models.MergedRecord {
	return models.MergedRecord{Time: day(2), Actual: actual, Predicted: predicted}
}

func f(v float64) *float64 { return &v }

func approx(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s = nil, want %v", name, want)
		return
	}
	if math.Abs(*got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, *got, want)
	}
}

func TestCompute(t *testing.T) {
	entry := Compute([]models.MergedRecord{rec(10, f(12)), rec(8, f(8))}, day(2))

	if entry.Date != "2025-01-02" {
		t.Errorf("Date = %q, want 2025-01-02", entry.Date)
	}
	if entry.N != 2 {
		t.Fatalf("N = %d, want 2", entry.N)
	}
	if want := 2.0 / 144; math.Abs(entry.Coverage-want) > 1e-12 {
		t.Errorf("Coverage = %v, want %v", entry.Coverage, want)
	}
	approx(t, "MAE", entry.MAE, 1)
	approx(t, "RMSE", entry.RMSE, math.Sqrt2)
	approx(t, "Bias", entry.Bias, 1)
	approx(t, "MeanActual", entry.MeanActual, 9)
	approx(t, "MeanPredicted", entry.MeanPredicted, 10)

	wantSMAPE := (4.0 / (22 + EPS)) / 2
	approx(t, "SMAPE", entry.SMAPE, wantSMAPE)
}

func TestCompute_UnderForecastHasNegativeBias(t *testing.T) {
	entry := Compute([]models.MergedRecord{rec(12, f(9)), rec(10, f(9))}, day(2))
	approx(t, "Bias", entry.Bias, -2)
	approx(t, "MAE", entry.MAE, 2)
}

func TestCompute_NoValidPairs(t *testing.T) {
	tests := []struct {
		name    string
		records []models.MergedRecord
	}{
		{"empty", nil},
		{"all unmatched", []models.MergedRecord{rec(10, nil), rec(12, nil)}},
		{"non-finite", []models.MergedRecord{rec(math.NaN(), f(1)), rec(2, f(math.Inf(1)))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := Compute(tt.records, day(2))
			if entry.N != 0 || entry.Coverage != 0 {
				t.Errorf("N=%d Coverage=%v, want zero", entry.N, entry.Coverage)
			}
			if entry.MAE != nil || entry.RMSE != nil || entry.Bias != nil || entry.SMAPE != nil ||
				entry.MeanActual != nil || entry.MeanPredicted != nil {
				t.Errorf("expected all statistics nil, got %+v", entry)
			}
		})
	}
}

func TestCompute_SkipsInvalidPairs(t *testing.T) {
	entry := Compute([]models.MergedRecord{rec(10, f(11)), rec(math.NaN(), f(3)), rec(4, nil)}, day(2))
	if entry.N != 1 {
		t.Fatalf("N = %d, want 1", entry.N)
	}
	approx(t, "MAE", entry.MAE, 1)
}

func TestCompute_CoverageNotClamped(t *testing.T) {
	records := make([]models.MergedRecord, 150)
	for i := range records {
		records[i] = rec(10, f(10))
	}
	entry := Compute(records, day(2))
	if entry.Coverage <= 1 {
		t.Errorf("Coverage = %v, want > 1 for duplicated observations", entry.Coverage)
	}
	approx(t, "SMAPE", entry.SMAPE, 0)
}

func TestCompute_SMAPEBothZero(t *testing.T) {
	entry := Compute([]models.MergedRecord{rec(0, f(0))}, day(2))
	approx(t, "SMAPE", entry.SMAPE, 0)
}

func newTestAggregator(t *testing.T) (*Aggregator, *store.Memory, *clockwork.FakeClock) {
	t.Helper()
	docs := store.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 3, 0, 30, 0, 0, testLoc))
	return NewAggregator(docs, clock, testLoc, nil), docs, clock
}

func TestAggregator_CreatesLedger(t *testing.T) {
	ctx := context.Background()
	agg, docs, clock := newTestAggregator(t)

	entry, err := agg.Record(ctx, "GC", []models.MergedRecord{rec(10, f(11))}, day(2))
	require.NoError(t, err)
	assert.Equal(t, 1, entry.N)

	ledger, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)
	assert.Equal(t, "GC", ledger.Station)
	assert.Equal(t, models.DefaultUnit, ledger.Unit)
	assert.Equal(t, models.DefaultModelID, ledger.ModelID)
	assert.True(t, ledger.UpdatedAt.Equal(clock.Now()))
	require.Len(t, ledger.Daily, 1)
	assert.Equal(t, "2025-01-02", ledger.Daily[0].Date)
}

func TestAggregator_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	agg, docs, _ := newTestAggregator(t)
	records := []models.MergedRecord{rec(10, f(11)), rec(8, f(9))}

	_, err := agg.Record(ctx, "GC", records, day(2))
	require.NoError(t, err)
	first, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)

	_, err = agg.Record(ctx, "GC", records, day(2))
	require.NoError(t, err)
	second, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)

	assert.Equal(t, first.Daily, second.Daily)
}

func TestAggregator_ReplacesOnlySameDate(t *testing.T) {
	ctx := context.Background()
	agg, docs, clock := newTestAggregator(t)

	for _, d := range []int{3, 1, 2} {
		_, err := agg.Record(ctx, "GC", []models.MergedRecord{rec(10, f(11))}, day(d))
		require.NoError(t, err)
	}
	before, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = agg.Record(ctx, "GC", []models.MergedRecord{rec(10, f(14)), rec(10, f(14))}, day(2))
	require.NoError(t, err)

	after, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)
	require.Len(t, after.Daily, 3)

	var dates []string
	for _, e := range after.Daily {
		dates = append(dates, e.Date)
	}
	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-03"}, dates)
	assert.Equal(t, before.Daily[0], after.Daily[0])
	assert.Equal(t, before.Daily[2], after.Daily[2])
	assert.Equal(t, 2, after.Daily[1].N)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestAggregator_UnreadableLedgerStartsFresh(t *testing.T) {
	ctx := context.Background()
	agg, docs, _ := newTestAggregator(t)
	require.NoError(t, docs.Put(ctx, store.BucketAnalysis, store.LedgerKey("GC"), []byte("not json")))

	_, err := agg.Record(ctx, "GC", []models.MergedRecord{rec(10, f(11))}, day(2))
	require.NoError(t, err)

	ledger, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)
	assert.Len(t, ledger.Daily, 1)
}

func TestAggregator_ZeroPairsStillRecorded(t *testing.T) {
	ctx := context.Background()
	agg, docs, _ := newTestAggregator(t)

	_, err := agg.Record(ctx, "GC", []models.MergedRecord{rec(10, nil)}, day(2))
	require.NoError(t, err)

	ledger, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)
	require.Len(t, ledger.Daily, 1)
	assert.Equal(t, 0, ledger.Daily[0].N)
	assert.Nil(t, ledger.Daily[0].MAE)
}

func TestAggregator_ConcurrentWritersSameStation(t *testing.T) {
	ctx := context.Background()
	agg, docs, _ := newTestAggregator(t)

	var wg sync.WaitGroup
	for d := 1; d <= 10; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			_, err := agg.Record(ctx, "GC", []models.MergedRecord{rec(10, f(11))}, day(d))
			assert.NoError(t, err)
		}(d)
	}
	wg.Wait()

	ledger, err := store.LoadLedger(ctx, docs, "GC")
	require.NoError(t, err)
	assert.Len(t, ledger.Daily, 10)
}
