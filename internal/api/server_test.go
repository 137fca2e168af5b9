package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/seawaywind/internal/accuracy"
	"github.com/lox/seawaywind/internal/analysis"
	"github.com/lox/seawaywind/internal/api"
	"github.com/lox/seawaywind/internal/config"
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/query"
	"github.com/lox/seawaywind/internal/store"
)

const forecastDoc = `{
  "forecasts": {"wind": {"days": [{"entries": [
    {"dateTime": "2025-01-02 06:00:00", "speed": 20},
    {"dateTime": "2025-01-02 07:00:00", "speed": 26},
    {"dateTime": "2025-01-03 10:00:00", "speed": 20, "direction": 90, "directionText": "E"},
    {"dateTime": "2025-01-03 11:00:00", "speed": 30}
  ]}]}}
}`

// 2025-01-02 06:00 wall-clock digits.
const observationDoc = `{
  "observationalGraphs": {"wind": {"dataConfig": {"series": {"groups": [
    {"points": [{"x": 1735797600, "y": 20}]}
  ]}}}}
}`

type testEnv struct {
	store   *store.Store
	builder *analysis.Builder
	handler http.Handler
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	require.NoError(t, s.Migrate())

	catalog, err := config.Load("")
	require.NoError(t, err)
	loc := catalog.Location()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 3, 9, 0, 0, 0, loc))
	agg := accuracy.NewAggregator(s, clock, loc, nil)
	builder := analysis.NewBuilder(s, s, agg, catalog.TimeConfig(), nil)
	srv := api.NewServer(catalog, s, s, query.NewReader(s, nil), builder, api.Options{Clock: clock})

	return &testEnv{store: s, builder: builder, handler: srv.Handler()}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) putDay(t *testing.T, key string, day models.MergedDay) {
	t.Helper()
	require.NoError(t, store.PutJSON(context.Background(), e.store, store.BucketAnalysis, key, day))
}

func day(date string, actual float64) models.MergedDay {
	ts, _ := time.Parse(models.DateLayout, date)
	p := actual + 1
	return models.MergedDay{
		Metadata: models.DocumentMetadata{Station: "GC", Unit: "knots", Date: date},
		Data:     []models.MergedRecord{{Time: ts, Actual: actual, Predicted: &p}},
	}
}

func TestGraph_Line(t *testing.T) {
	t.Parallel()
	env := setup(t)
	env.putDay(t, "GC2025-01-01.json", day("2025-01-01", 1))
	env.putDay(t, "GC2025-01-02.json", day("2025-01-02", 2))
	env.putDay(t, "GC2025-01-03.json", day("2025-01-03", 3))

	w := env.get(t, "/api/graph?type=line&start=2025-01-02&end=2025-01-03")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var resp struct {
		Metadata struct {
			Station   string   `json:"station"`
			GraphType string   `json:"graph_type"`
			Dates     []string `json:"dates"`
		} `json:"metadata"`
		Data []models.MergedRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "GC", resp.Metadata.Station)
	assert.Equal(t, "line", resp.Metadata.GraphType)
	assert.Equal(t, []string{"2025-01-02", "2025-01-03"}, resp.Metadata.Dates)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 2.0, resp.Data[0].Actual)
}

func TestGraph_BarWithMalformedRange(t *testing.T) {
	t.Parallel()
	env := setup(t)
	ledger := models.NewLedger("GC")
	ledger.Upsert(models.DailyMetricsEntry{Date: "2025-01-01", N: 1}, time.Now())
	ledger.Upsert(models.DailyMetricsEntry{Date: "2025-01-02", N: 2}, time.Now())
	require.NoError(t, store.SaveLedger(context.Background(), env.store, ledger))

	w := env.get(t, "/api/graph?type=bar&start=yesterday")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []models.DailyMetricsEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2, "malformed bound means unbounded")
}

func TestGraph_Scatter(t *testing.T) {
	t.Parallel()
	env := setup(t)

	w := env.get(t, "/api/graph?type=scatter")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"metadata":{},"data":[]}`, w.Body.String())
}

func TestGraph_UnknownType(t *testing.T) {
	t.Parallel()
	env := setup(t)

	w := env.get(t, "/api/graph?type=pie")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "pie")
}

func TestAnalysis_YesterdayAndToday(t *testing.T) {
	t.Parallel()
	env := setup(t)
	env.putDay(t, "GC2025-01-02.json", day("2025-01-02", 2))

	w := env.get(t, "/api/analysis")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.JSONEq(t, `{"error":"file not found"}`, string(resp["GC2025-01-03.json"]))
	assert.Contains(t, string(resp["GC2025-01-02.json"]), `"date":"2025-01-02"`)
}

func TestAnalysis_UnknownStation(t *testing.T) {
	t.Parallel()
	env := setup(t)

	w := env.get(t, "/api/analysis?station=NOWHERE")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForecast(t *testing.T) {
	t.Parallel()
	env := setup(t)

	w := env.get(t, "/api/forecast")
	require.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, env.store.Put(context.Background(), store.BucketForecast, "GC2025-01-03.json", []byte(forecastDoc)))

	w = env.get(t, "/api/forecast?station=gc")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ForecastWindow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2025-01-03", resp.Metadata.Date)
	assert.True(t, strings.HasPrefix(resp.Metadata.Title, "Gold Coast Seaway Forecast"))
	require.Len(t, resp.Data, 7)
	assert.Equal(t, "10:00", resp.Data[0].Label)
	assert.Equal(t, "11:00", resp.Data[6].Label)

	w = env.get(t, "/api/forecast?hours=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	env := setup(t)

	w := env.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no build yet")
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	ctx := context.Background()
	require.NoError(t, env.store.Put(ctx, store.BucketRecord, "GC2025-01-02.json", []byte(observationDoc)))
	require.NoError(t, env.store.Put(ctx, store.BucketForecast, "GC2025-01-02.json", []byte(forecastDoc)))
	gc := models.Station{Code: "GC", LocationID: "18591", Name: "Gold Coast Seaway", Forecast: true, Active: true}
	_, err := env.builder.Build(ctx, gc, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	w = env.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var health api.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	require.Len(t, health.Stations, 1)
	assert.NotNil(t, health.Stations[0].LastBuild)
	require.NotNil(t, health.Documents)
	assert.Equal(t, 2, health.Documents.CountByBucket[store.BucketAnalysis], "merged day and ledger")
}

func TestHealthEndpoint_RecentFailures(t *testing.T) {
	t.Parallel()
	env := setup(t)

	ctx := context.Background()
	gc := models.Station{Code: "GC", LocationID: "18591", Name: "Gold Coast Seaway", Forecast: true, Active: true}
	_, err := env.builder.Build(ctx, gc, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err, "no raw documents stored")

	_, err = env.store.StartRun(ctx, "collect:forecasts", "GC", "2025-01-03")
	require.NoError(t, err)

	w := env.get(t, "/health")
	var health api.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	require.Len(t, health.Failures, 1, "runs still in progress are not failures")
	assert.Equal(t, "build", health.Failures[0].Kind)
	assert.Equal(t, "2025-01-01", health.Failures[0].TargetDate)
	assert.Contains(t, health.Failures[0].Error, "load observations")
	assert.Equal(t, "degraded", health.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := setup(t)
	env.get(t, "/api/graph?type=scatter")

	w := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "seawaywind_http_requests_total")
}
