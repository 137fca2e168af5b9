package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run records a single collect or build invocation for auditing.
type Run struct {
	ID           string
	Kind         string // "collect", "build"
	Station      string
	TargetDate   string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	RecordsIn    sql.NullInt64
	RecordsOut   sql.NullInt64
	Success      bool
	ErrorMessage sql.NullString
}

// RunLog is the audit sink used by the collector and the daily builder.
type RunLog interface {
	StartRun(ctx context.Context, kind, station, targetDate string) (*Run, error)
	CompleteRun(ctx context.Context, run *Run) error
}

// StartRun creates a new run record and returns it.
func (s *Store) StartRun(ctx context.Context, kind, station, targetDate string) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		Kind:       kind,
		Station:    station,
		TargetDate: targetDate,
		StartedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, station, target_date, started_at, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.ID, run.Kind, run.Station, run.TargetDate, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun updates the run with results.
func (s *Store) CompleteRun(ctx context.Context, run *Run) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?,
			records_in = ?,
			records_out = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsIn, run.RecordsOut, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetLatestRuns returns the most recent run of each kind for station.
func (s *Store) GetLatestRuns(ctx context.Context, station string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.station, r.target_date, r.started_at, r.finished_at,
		       r.records_in, r.records_out, r.success, r.error_message
		FROM runs r
		WHERE r.station = ? AND r.started_at = (
			SELECT MAX(started_at) FROM runs WHERE station = r.station AND kind = r.kind
		)
		ORDER BY r.kind
	`, station)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.Station, &r.TargetDate, &r.StartedAt, &r.FinishedAt,
			&r.RecordsIn, &r.RecordsOut, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRecentFailedRuns returns recent failed runs across all stations.
func (s *Store) GetRecentFailedRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, station, target_date, started_at, finished_at,
		       records_in, records_out, success, error_message
		FROM runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.Station, &r.TargetDate, &r.StartedAt, &r.FinishedAt,
			&r.RecordsIn, &r.RecordsOut, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
