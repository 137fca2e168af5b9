package accuracy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/store"
)

// Aggregator computes daily statistics and upserts them into the station's
// metrics ledger. Writers within one process are serialized per ledger;
// concurrent processes writing the same ledger race and the last write wins.
type Aggregator struct {
	docs   store.Documents
	clock  clockwork.Clock
	loc    *time.Location
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAggregator(docs store.Documents, clock clockwork.Clock, loc *time.Location, logger *slog.Logger) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		docs:   docs,
		clock:  clock,
		loc:    loc,
		logger: logger.With("component", "accuracy"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (a *Aggregator) ledgerLock(station string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[station]
	if !ok {
		l = &sync.Mutex{}
		a.locks[station] = l
	}
	return l
}

// Record computes the entry for date, replaces any existing entry for that
// date in the ledger and persists the ledger. A missing or unreadable ledger
// is replaced by a fresh one.
func (a *Aggregator) Record(ctx context.Context, station string, records []models.MergedRecord, date time.Time) (models.DailyMetricsEntry, error) {
	entry := Compute(records, date)

	lock := a.ledgerLock(station)
	lock.Lock()
	defer lock.Unlock()

	ledger, err := store.LoadLedger(ctx, a.docs, station)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.logger.Info("accuracy: no ledger yet, starting fresh", "station", station)
		ledger = models.NewLedger(station)
	case err != nil:
		if ctx.Err() != nil {
			return entry, ctx.Err()
		}
		a.logger.Warn("accuracy: ledger unreadable, starting fresh", "station", station, "error", err)
		ledger = models.NewLedger(station)
	}
	if ledger.Station == "" {
		ledger.Station = station
	}

	if prev, ok := ledger.Entry(entry.Date); ok {
		a.logger.Info("accuracy: replacing ledger entry", "station", station, "date", entry.Date, "previous_n", prev.N, "n", entry.N)
	}
	ledger.Upsert(entry, a.clock.Now().In(a.loc))

	if err := store.SaveLedger(ctx, a.docs, ledger); err != nil {
		return entry, fmt.Errorf("save ledger %s: %w", station, err)
	}

	a.logger.Info("accuracy: ledger updated",
		"station", station,
		"date", entry.Date,
		"n", entry.N,
		"entries", len(ledger.Daily),
	)
	return entry, nil
}
