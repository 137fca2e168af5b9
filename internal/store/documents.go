package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lox/seawaywind/internal/models"
)

var ErrNotFound = errors.New("document not found")

const (
	BucketRecord   = "record-wind"
	BucketForecast = "forecast-wind"
	BucketAnalysis = "analysis-wind"
)

const (
	keySuffix       = ".json"
	ledgerKeySuffix = "daily.json"
)

// Documents is the object-store collaborator. Implementations return an
// error wrapping ErrNotFound from Get when the key does not exist.
type Documents interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte) error
	// List returns every key in bucket starting with prefix, sorted.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// DayKey returns the per-day document key, e.g. "GC2025-01-02.json".
func DayKey(station string, date time.Time) string {
	return station + date.Format(models.DateLayout) + keySuffix
}

// LedgerKey returns the metrics ledger key, e.g. "GCdaily.json".
func LedgerKey(station string) string {
	return station + ledgerKeySuffix
}

// ParseDayKey extracts the civil date from a per-day key for station.
func ParseDayKey(station, key string) (string, error) {
	if !strings.HasPrefix(key, station) || !strings.HasSuffix(key, keySuffix) {
		return "", fmt.Errorf("key %q is not a %s day document", key, station)
	}
	date := strings.TrimSuffix(strings.TrimPrefix(key, station), keySuffix)
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return "", fmt.Errorf("key %q: %w", key, err)
	}
	return date, nil
}

func GetJSON(ctx context.Context, docs Documents, bucket, key string, v any) error {
	body, err := docs.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return nil
}

func PutJSON(ctx context.Context, docs Documents, bucket, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return docs.Put(ctx, bucket, key, body)
}

// LoadLedger reads the station's metrics ledger from the analysis bucket.
func LoadLedger(ctx context.Context, docs Documents, station string) (*models.MetricsLedger, error) {
	var ledger models.MetricsLedger
	if err := GetJSON(ctx, docs, BucketAnalysis, LedgerKey(station), &ledger); err != nil {
		return nil, err
	}
	if ledger.Daily == nil {
		ledger.Daily = []models.DailyMetricsEntry{}
	}
	return &ledger, nil
}

func SaveLedger(ctx context.Context, docs Documents, ledger *models.MetricsLedger) error {
	return PutJSON(ctx, docs, BucketAnalysis, LedgerKey(ledger.Station), ledger)
}
