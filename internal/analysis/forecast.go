package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/seawaywind/internal/ingest"
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
	"github.com/lox/seawaywind/internal/series"
	"github.com/lox/seawaywind/internal/store"
)

const DefaultLookaheadHours = 12

// Lookahead resamples today's stored forecast for st over the next hours,
// starting at the next full hour after now.
func (b *Builder) Lookahead(ctx context.Context, st models.Station, now time.Time, hours int) (*models.ForecastWindow, error) {
	now = now.In(b.time.Location)
	key := store.DayKey(st.Code, b.Today(now))

	raw, err := b.docs.Get(ctx, store.BucketForecast, key)
	if err != nil {
		return nil, fmt.Errorf("load forecast: %w", err)
	}
	entries, _, err := ingest.DecodeForecast(raw, b.time.Location)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", store.BucketForecast, key, err)
	}

	data := series.Lookahead(entries, now, hours)
	if data == nil {
		data = []models.ResampledPoint{}
	}

	name := st.Name
	if name == "" {
		name = st.Code
	}
	return &models.ForecastWindow{
		Metadata: models.DocumentMetadata{
			Station: st.Code,
			Title:   fmt.Sprintf("%s Forecast (next %d h, 10-min steps)", name, hours),
			Unit:    models.DefaultUnit,
			Date:    now.Format(models.DateLayout),
		},
		Data: data,
	}, nil
}

// Today returns the civil date of now in the builder's zone.
func (b *Builder) Today(now time.Time) time.Time {
	return normalize.CivilDay(now.In(b.time.Location), b.time.Location).Start
}
