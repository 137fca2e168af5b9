package analysis

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/seawaywind/internal/accuracy"
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
	"github.com/lox/seawaywind/internal/store"
)

var brisbane = mustLoadLocation("Australia/Brisbane")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Epoch digits are Brisbane wall-clock: 06:00, 06:05, plus one point either
// side of 2025-01-02.
const observationDoc = `{
  "observationalGraphs": {"wind": {"dataConfig": {"series": {"groups": [
    {"points": [
      {"x": 1735775400, "y": 30},
      {"x": 1735797600, "y": 20},
      {"x": 1735797900, "y": 18.52},
      {"x": 1735862400, "y": 30}
    ]}
  ]}}}}
}`

const forecastDoc = `{
  "forecasts": {"wind": {"days": [
    {"entries": [
      {"dateTime": "2025-01-01 23:00:00", "speed": 40},
      {"dateTime": "2025-01-02 06:00:00", "speed": 20, "direction": 135, "directionText": "SE"},
      {"dateTime": "2025-01-02 07:00:00", "speed": 26}
    ]}
  ]}}
}`

var (
	gc    = models.Station{Code: "GC", LocationID: "18591", Name: "Gold Coast Seaway", IsPrimary: true, Forecast: true, Active: true}
	hope  = models.Station{Code: "HOPE", LocationID: "39817", Name: "Hope Island", Active: true}
	jan02 = time.Date(2025, 1, 2, 0, 0, 0, 0, brisbane)
)

type fixture struct {
	store   *store.Store
	builder *Builder
	clock   *clockwork.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	require.NoError(t, s.Migrate())

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 3, 1, 0, 0, 0, brisbane))
	agg := accuracy.NewAggregator(s, clock, brisbane, nil)
	return &fixture{
		store:   s,
		builder: NewBuilder(s, s, agg, normalize.NewTimeConfig(brisbane), nil),
		clock:   clock,
	}
}

func (f *fixture) seed(t *testing.T, station string) {
	t.Helper()
	ctx := context.Background()
	key := store.DayKey(station, jan02)
	require.NoError(t, f.store.Put(ctx, store.BucketRecord, key, []byte(observationDoc)))
	require.NoError(t, f.store.Put(ctx, store.BucketForecast, key, []byte(forecastDoc)))
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "GC")

	res, err := f.builder.Build(ctx, gc, jan02)
	require.NoError(t, err)
	assert.Equal(t, "GC2025-01-02.json", res.Key)
	assert.Equal(t, 2, res.Observed, "points outside the civil day are dropped")
	assert.Equal(t, 7, res.Forecast, "06:00 to 07:00 in 10 minute steps")

	var day models.MergedDay
	require.NoError(t, store.GetJSON(ctx, f.store, store.BucketAnalysis, "GC2025-01-02.json", &day))
	assert.Equal(t, "Gold Coast Seaway Wind Data", day.Metadata.Title)
	assert.Equal(t, "knots", day.Metadata.Unit)
	assert.Equal(t, "2025-01-02", day.Metadata.Date)
	require.Len(t, day.Data, 2)

	want := normalize.KmhToKnots(20)
	assert.InDelta(t, want, day.Data[0].Actual, 1e-9)
	require.NotNil(t, day.Data[0].Predicted)
	assert.InDelta(t, want, *day.Data[0].Predicted, 1e-9)
	require.NotNil(t, day.Data[1].Predicted)
	assert.InDelta(t, want, *day.Data[1].Predicted, 1e-9, "06:05 ties between 06:00 and 06:10; earlier wins")
	assert.InDelta(t, 10.0, day.Data[1].Actual, 1e-3)

	ledger, err := store.LoadLedger(ctx, f.store, "GC")
	require.NoError(t, err)
	entry, ok := ledger.Entry("2025-01-02")
	require.True(t, ok)
	assert.Equal(t, 2, entry.N)
	require.NotNil(t, entry.MAE)
	assert.InDelta(t, (want-day.Data[1].Actual)/2, *entry.MAE, 1e-9)
	assert.True(t, ledger.UpdatedAt.Equal(f.clock.Now()))

	runs, err := f.store.GetLatestRuns(ctx, "GC")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
	assert.Equal(t, int64(2), runs[0].RecordsOut.Int64)
}

func TestBuild_Rebuild(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "GC")

	_, err := f.builder.Build(ctx, gc, jan02)
	require.NoError(t, err)
	_, err = f.builder.Build(ctx, gc, jan02)
	require.NoError(t, err)

	ledger, err := store.LoadLedger(ctx, f.store, "GC")
	require.NoError(t, err)
	assert.Len(t, ledger.Daily, 1, "rebuilding a date replaces its entry")
}

func TestBuild_MatchCutoff(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "GC")

	strict := gc
	strict.MatchCutoff = time.Minute
	res, err := f.builder.Build(ctx, strict, jan02)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entry.N)

	var day models.MergedDay
	require.NoError(t, store.GetJSON(ctx, f.store, store.BucketAnalysis, "GC2025-01-02.json", &day))
	require.Len(t, day.Data, 2)
	assert.NotNil(t, day.Data[0].Predicted)
	assert.Nil(t, day.Data[1].Predicted)
}

func TestBuild_MissingForecast(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.store.Put(ctx, store.BucketRecord, "GC2025-01-02.json", []byte(observationDoc)))

	_, err := f.builder.Build(ctx, gc, jan02)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.store.Get(ctx, store.BucketAnalysis, "GC2025-01-02.json")
	assert.ErrorIs(t, err, store.ErrNotFound)

	failed, err := f.store.GetRecentFailedRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage.String, "load forecast")
}

func TestBuild_EmptyForecastWindow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	require.NoError(t, f.store.Put(ctx, store.BucketRecord, "GC2025-01-02.json", []byte(observationDoc)))
	require.NoError(t, f.store.Put(ctx, store.BucketForecast, "GC2025-01-02.json",
		[]byte(`{"forecasts": {"wind": {"days": []}}}`)))

	res, err := f.builder.Build(ctx, gc, jan02)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Entry.N)
	assert.Nil(t, res.Entry.MAE)

	var day models.MergedDay
	require.NoError(t, store.GetJSON(ctx, f.store, store.BucketAnalysis, "GC2025-01-02.json", &day))
	require.Len(t, day.Data, 2)
	assert.Nil(t, day.Data[0].Predicted)
}

func TestRunner_RunAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "GC")

	coolly := models.Station{Code: "COOLLY", LocationID: "18118", Forecast: true, Active: true}
	runner := NewRunner(f.builder, []models.Station{gc, hope, coolly}, nil)

	err := runner.RunAll(ctx, jan02)
	require.Error(t, err, "COOLLY has no raw documents")
	assert.Contains(t, err.Error(), "COOLLY")

	_, err = f.store.Get(ctx, store.BucketAnalysis, "GC2025-01-02.json")
	assert.NoError(t, err, "other stations still build")

	_, err = f.store.Get(ctx, store.BucketAnalysis, "HOPE2025-01-02.json")
	assert.ErrorIs(t, err, store.ErrNotFound, "stations without forecasts are not built")
}

func TestBuildable(t *testing.T) {
	inactive := gc
	inactive.Active = false
	got := Buildable([]models.Station{gc, hope, inactive})
	require.Len(t, got, 1)
	assert.Equal(t, "GC", got[0].Code)
}

func TestLookahead(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "GC")

	now := time.Date(2025, 1, 2, 5, 30, 0, 0, brisbane)
	window, err := f.builder.Lookahead(ctx, gc, now, DefaultLookaheadHours)
	require.NoError(t, err)

	assert.Equal(t, "Gold Coast Seaway Forecast (next 12 h, 10-min steps)", window.Metadata.Title)
	assert.Equal(t, "2025-01-02", window.Metadata.Date)
	require.Len(t, window.Data, 7)
	assert.Equal(t, "06:00", window.Data[0].Label)
	assert.Equal(t, "07:00", window.Data[6].Label)
	require.NotNil(t, window.Data[3].DirectionText)
	assert.Equal(t, "SE", *window.Data[3].DirectionText)

	later := time.Date(2025, 1, 2, 7, 0, 1, 0, brisbane)
	window, err = f.builder.Lookahead(ctx, gc, later, DefaultLookaheadHours)
	require.NoError(t, err)
	assert.NotNil(t, window.Data)
	assert.Empty(t, window.Data)
}

func TestLookahead_MissingForecast(t *testing.T) {
	f := setup(t)
	_, err := f.builder.Lookahead(context.Background(), gc, jan02.Add(5*time.Hour), 12)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
