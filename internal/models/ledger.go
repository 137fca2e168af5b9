package models

import (
	"sort"
	"time"
)

const (
	DefaultStation = "GC"
	DefaultUnit    = "knots"
	DefaultModelID = "willyweather"
)

// MetricsLedger is the single date-keyed history of daily accuracy entries
// for a station.
type MetricsLedger struct {
	Station   string              `json:"station"`
	Unit      string              `json:"unit"`
	ModelID   string              `json:"model_id"`
	UpdatedAt time.Time           `json:"updated_at"`
	Daily     []DailyMetricsEntry `json:"daily"`
}

// NewLedger returns an empty ledger with the default identifiers. An empty
// station falls back to DefaultStation.
func NewLedger(station string) *MetricsLedger {
	if station == "" {
		station = DefaultStation
	}
	return &MetricsLedger{
		Station: station,
		Unit:    DefaultUnit,
		ModelID: DefaultModelID,
		Daily:   []DailyMetricsEntry{},
	}
}

// Upsert replaces the entry for entry.Date, re-sorts the whole collection by
// date and stamps UpdatedAt. Entries for other dates are left untouched.
// The full re-sort is O(n log n) in the ledger's history length.
func (l *MetricsLedger) Upsert(entry DailyMetricsEntry, now time.Time) {
	kept := make([]DailyMetricsEntry, 0, len(l.Daily)+1)
	for _, e := range l.Daily {
		if e.Date != entry.Date {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entry)
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Date < kept[j].Date
	})
	l.Daily = kept
	l.UpdatedAt = now
}

// Entry returns the entry for date, if present.
func (l *MetricsLedger) Entry(date string) (DailyMetricsEntry, bool) {
	for _, e := range l.Daily {
		if e.Date == date {
			return e, true
		}
	}
	return DailyMetricsEntry{}, false
}
