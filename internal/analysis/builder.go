package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lox/seawaywind/internal/accuracy"
	"github.com/lox/seawaywind/internal/ingest"
	"github.com/lox/seawaywind/internal/metrics"
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
	"github.com/lox/seawaywind/internal/series"
	"github.com/lox/seawaywind/internal/store"
)

// Builder reconciles one station's observations with the forecast issued on
// the same civil day and records the day's accuracy.
type Builder struct {
	docs   store.Documents
	runs   store.RunLog
	agg    *accuracy.Aggregator
	time   normalize.TimeConfig
	logger *slog.Logger
}

func NewBuilder(docs store.Documents, runs store.RunLog, agg *accuracy.Aggregator, tc normalize.TimeConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		docs:   docs,
		runs:   runs,
		agg:    agg,
		time:   tc,
		logger: logger.With("component", "analysis"),
	}
}

// Result describes one completed build.
type Result struct {
	Station string
	Date    string
	Key     string
	// Observed counts observation points inside the day window.
	Observed int
	// Forecast counts resampled forecast points inside the day window.
	Forecast int
	Entry    models.DailyMetricsEntry
}

// Title is the merged-day document title for st.
func Title(st models.Station) string {
	name := st.Name
	if name == "" {
		name = st.Code
	}
	return name + " Wind Data"
}

// Build loads the raw observation and forecast documents for st and date,
// writes the merged-day document and upserts the day's ledger entry. Both
// raw documents must exist.
func (b *Builder) Build(ctx context.Context, st models.Station, date time.Time) (*Result, error) {
	window := normalize.CivilDay(date, b.time.Location)
	day := window.Start.Format(models.DateLayout)

	var run *store.Run
	if b.runs != nil {
		var err error
		run, err = b.runs.StartRun(ctx, "build", st.Code, day)
		if err != nil {
			b.logger.Warn("analysis: start run", "station", st.Code, "error", err)
		}
	}

	res, err := b.build(ctx, st, window)

	if run != nil {
		run.Success = err == nil
		if res != nil {
			run.RecordsIn = sql.NullInt64{Int64: int64(res.Observed), Valid: true}
			run.RecordsOut = sql.NullInt64{Int64: int64(res.Entry.N), Valid: true}
		}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := b.runs.CompleteRun(ctx, run); cerr != nil {
			b.logger.Warn("analysis: complete run", "station", st.Code, "error", cerr)
		}
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.BuildsTotal.WithLabelValues(st.Code, status).Inc()
	return res, err
}

func (b *Builder) build(ctx context.Context, st models.Station, window normalize.Window) (*Result, error) {
	key := store.DayKey(st.Code, window.Start)
	day := window.Start.Format(models.DateLayout)

	rawObs, err := b.docs.Get(ctx, store.BucketRecord, key)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	rawForecast, err := b.docs.Get(ctx, store.BucketForecast, key)
	if err != nil {
		return nil, fmt.Errorf("load forecast: %w", err)
	}

	observed, obsResult, err := ingest.DecodeObservations(rawObs, b.time)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", store.BucketRecord, key, err)
	}
	entries, fcResult, err := ingest.DecodeForecast(rawForecast, b.time.Location)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", store.BucketForecast, key, err)
	}
	if obsResult.Skipped > 0 || fcResult.Skipped > 0 {
		b.logger.Warn("analysis: skipped malformed points",
			"station", st.Code, "date", day,
			"observations", obsResult.Skipped, "forecast", fcResult.Skipped)
	}

	forecast := series.ResampleWindow(entries, window)
	merged := series.Merge(observed, forecast, window, series.Matcher{MaxDistance: st.MatchCutoff})

	doc := models.MergedDay{
		Metadata: models.DocumentMetadata{
			Station: st.Code,
			Title:   Title(st),
			Unit:    models.DefaultUnit,
			Date:    day,
		},
		Data: merged,
	}
	if err := store.PutJSON(ctx, b.docs, store.BucketAnalysis, key, doc); err != nil {
		return nil, fmt.Errorf("save merged day: %w", err)
	}
	metrics.MergedRecords.WithLabelValues(st.Code).Add(float64(len(merged)))

	entry, err := b.agg.Record(ctx, st.Code, merged, window.Start)
	if err != nil {
		return nil, fmt.Errorf("record metrics: %w", err)
	}
	if entry.MAE != nil {
		metrics.DailyMAE.WithLabelValues(st.Code).Set(*entry.MAE)
	}

	b.logger.Info("analysis: built merged day",
		"station", st.Code,
		"date", day,
		"observed", len(merged),
		"forecast_points", len(forecast),
		"matched", entry.N,
	)

	return &Result{
		Station:  st.Code,
		Date:     day,
		Key:      key,
		Observed: len(merged),
		Forecast: len(forecast),
		Entry:    entry,
	}, nil
}
