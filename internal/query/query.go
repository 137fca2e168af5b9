package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/store"
)

// ErrUnknownGraphType is returned for graph types outside line, bar and
// scatter.
var ErrUnknownGraphType = errors.New("unknown graph type")

// ErrInvalidRequest is returned for graph requests with invalid parameters.
var ErrInvalidRequest = errors.New("invalid graph request")

const (
	GraphLine    = "line"
	GraphBar     = "bar"
	GraphScatter = "scatter"
)

// FileNotFound is the per-key marker returned by Recent for a missing day.
type FileNotFound struct {
	Error string `json:"error"`
}

var missingFile = FileNotFound{Error: "file not found"}

var validate = validator.New()

// DateRange is an inclusive range of civil dates. An empty bound is open.
type DateRange struct {
	Start string
	End   string
}

// ParseDateRange builds a range from YYYY-MM-DD strings. Empty or malformed
// values leave that side unbounded.
func ParseDateRange(start, end string) DateRange {
	return DateRange{Start: parseBound(start), End: parseBound(end)}
}

func parseBound(s string) string {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(models.DateLayout, s); err != nil {
		return ""
	}
	return s
}

// Contains reports whether date falls inside the range. Dates share the fixed
// YYYY-MM-DD layout so string order is date order.
func (r DateRange) Contains(date string) bool {
	if r.Start != "" && date < r.Start {
		return false
	}
	if r.End != "" && date > r.End {
		return false
	}
	return true
}

// GraphRequest selects a graph type, station and optional date range.
type GraphRequest struct {
	Type    string `validate:"oneof=line bar scatter"`
	Station string `validate:"omitempty,uppercase,max=32,excludesall=/."`
	Start   string
	End     string
}

type GraphMetadata struct {
	Station   string   `json:"station"`
	Unit      string   `json:"unit"`
	GraphType string   `json:"graph_type"`
	Dates     []string `json:"dates"`
}

// MarshalJSON writes an empty object for graph types without data yet.
func (m GraphMetadata) MarshalJSON() ([]byte, error) {
	if m.GraphType == "" {
		return []byte("{}"), nil
	}
	type plain GraphMetadata
	if m.Dates == nil {
		m.Dates = []string{}
	}
	return json.Marshal(plain(m))
}

type GraphResponse struct {
	Metadata GraphMetadata `json:"metadata"`
	Data     any           `json:"data"`
}

// Reader answers range queries over merged-day documents and the ledger.
type Reader struct {
	docs   store.Documents
	logger *slog.Logger
}

func NewReader(docs store.Documents, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{docs: docs, logger: logger.With("component", "query")}
}

// Graph dispatches on req.Type. Scatter is accepted but not built yet and
// returns an empty response.
func (r *Reader) Graph(ctx context.Context, req GraphRequest) (*GraphResponse, error) {
	req.Station = strings.ToUpper(strings.TrimSpace(req.Station))
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "Type" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGraphType, req.Type)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	station := req.Station
	if station == "" {
		station = models.DefaultStation
	}
	rng := ParseDateRange(req.Start, req.End)

	switch req.Type {
	case GraphLine:
		records, dates, unit, err := r.mergedRange(ctx, station, rng)
		if err != nil {
			return nil, err
		}
		return &GraphResponse{
			Metadata: GraphMetadata{Station: station, Unit: unit, GraphType: GraphLine, Dates: dates},
			Data:     records,
		}, nil
	case GraphBar:
		entries, unit, err := r.metricsRange(ctx, station, rng)
		if err != nil {
			return nil, err
		}
		dates := make([]string, 0, len(entries))
		for _, e := range entries {
			dates = append(dates, e.Date)
		}
		return &GraphResponse{
			Metadata: GraphMetadata{Station: station, Unit: unit, GraphType: GraphBar, Dates: dates},
			Data:     entries,
		}, nil
	default:
		return &GraphResponse{Metadata: GraphMetadata{}, Data: []any{}}, nil
	}
}

// MergedRange concatenates the data of every merged-day document for station
// whose date is in rng, in key order, and returns the dates included.
func (r *Reader) MergedRange(ctx context.Context, station string, rng DateRange) ([]models.MergedRecord, []string, error) {
	records, dates, _, err := r.mergedRange(ctx, station, rng)
	return records, dates, err
}

// mergedRange also reports the unit of the first document read, falling back
// to the default unit when none is.
func (r *Reader) mergedRange(ctx context.Context, station string, rng DateRange) ([]models.MergedRecord, []string, string, error) {
	keys, err := r.docs.List(ctx, store.BucketAnalysis, station)
	if err != nil {
		return nil, nil, "", fmt.Errorf("list merged days: %w", err)
	}
	sort.Strings(keys)

	records := []models.MergedRecord{}
	dates := []string{}
	unit := ""
	for _, key := range keys {
		if key == store.LedgerKey(station) {
			continue
		}
		date, err := store.ParseDayKey(station, key)
		if err != nil {
			r.logger.Warn("query: skipping key with unparseable date", "key", key, "error", err)
			continue
		}
		if !rng.Contains(date) {
			continue
		}

		var day models.MergedDay
		if err := store.GetJSON(ctx, r.docs, store.BucketAnalysis, key, &day); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return nil, nil, "", ctx.Err()
			}
			r.logger.Warn("query: skipping unreadable merged day", "key", key, "error", err)
			continue
		}
		if unit == "" {
			unit = day.Metadata.Unit
		}
		records = append(records, day.Data...)
		dates = append(dates, date)
	}
	if unit == "" {
		unit = models.DefaultUnit
	}
	return records, dates, unit, nil
}

// MetricsRange returns the ledger entries for station whose date is in rng,
// ascending by date. A missing or unreadable ledger yields no entries.
func (r *Reader) MetricsRange(ctx context.Context, station string, rng DateRange) ([]models.DailyMetricsEntry, error) {
	entries, _, err := r.metricsRange(ctx, station, rng)
	return entries, err
}

func (r *Reader) metricsRange(ctx context.Context, station string, rng DateRange) ([]models.DailyMetricsEntry, string, error) {
	ledger, err := store.LoadLedger(ctx, r.docs, station)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("query: ledger unreadable, treating as empty", "station", station, "error", err)
		}
		ledger = models.NewLedger(station)
	}

	entries := []models.DailyMetricsEntry{}
	for _, e := range ledger.Daily {
		if rng.Contains(e.Date) {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date < entries[j].Date
	})
	unit := ledger.Unit
	if unit == "" {
		unit = models.DefaultUnit
	}
	return entries, unit, nil
}

// Recent returns the merged-day documents for station on each date, keyed by
// object key. Missing days carry a FileNotFound marker instead.
func (r *Reader) Recent(ctx context.Context, station string, dates ...time.Time) (map[string]any, error) {
	out := make(map[string]any, len(dates))
	for _, d := range dates {
		key := store.DayKey(station, d)
		body, err := r.docs.Get(ctx, store.BucketAnalysis, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			out[key] = missingFile
		case err != nil:
			return nil, fmt.Errorf("get %s: %w", key, err)
		case !json.Valid(body):
			r.logger.Warn("query: merged day is not valid json", "key", key)
			out[key] = missingFile
		default:
			out[key] = json.RawMessage(body)
		}
	}
	return out, nil
}
