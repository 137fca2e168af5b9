package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/seawaywind/internal/models"
)

// Runner builds every forecast station for a date. Stations write disjoint
// documents so they run concurrently.
type Runner struct {
	builder  *Builder
	stations []models.Station
	limit    int
	logger   *slog.Logger
}

func NewRunner(builder *Builder, stations []models.Station, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		builder:  builder,
		stations: stations,
		limit:    4,
		logger:   logger.With("component", "analysis"),
	}
}

// Buildable returns the active stations that have a forecast to compare with.
func Buildable(stations []models.Station) []models.Station {
	var out []models.Station
	for _, st := range models.ActiveStations(stations) {
		if st.Forecast {
			out = append(out, st)
		}
	}
	return out
}

// RunAll builds date for every buildable station. A failing station does not
// stop the others; the first error is returned once all have finished.
func (r *Runner) RunAll(ctx context.Context, date time.Time) error {
	stations := Buildable(r.stations)
	r.logger.Info("analysis: running builds", "date", date.Format(models.DateLayout), "stations", len(stations))

	var g errgroup.Group
	g.SetLimit(r.limit)
	for _, st := range stations {
		st := st
		g.Go(func() error {
			if _, err := r.builder.Build(ctx, st, date); err != nil {
				r.logger.Error("analysis: build failed", "station", st.Code, "date", date.Format(models.DateLayout), "error", err)
				return fmt.Errorf("build %s: %w", st.Code, err)
			}
			return nil
		})
	}
	return g.Wait()
}
