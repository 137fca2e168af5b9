package models

import (
	"time"
)

const DateLayout = "2006-01-02"

type Station struct {
	Code       string `koanf:"code" yaml:"code" validate:"required,uppercase"`
	LocationID string `koanf:"location_id" yaml:"location_id" validate:"required,numeric"`
	Name       string `koanf:"name" yaml:"name"`
	IsPrimary  bool   `koanf:"is_primary" yaml:"is_primary"`
	Forecast   bool   `koanf:"forecast" yaml:"forecast"` // fetch forecasts and build analysis
	Active     bool   `koanf:"active" yaml:"active"`
	// MatchCutoff rejects forecast matches further than this from an
	// observation. Zero accepts any distance.
	MatchCutoff time.Duration `koanf:"match_cutoff" yaml:"match_cutoff" validate:"gte=0"`
}

// ActiveStations returns the stations that are collected, in catalog order.
func ActiveStations(stations []Station) []Station {
	var out []Station
	for _, st := range stations {
		if st.Active {
			out = append(out, st)
		}
	}
	return out
}

// ObservedPoint is one sensor sample. Value is in the provider's native unit
// until the merge converts it.
type ObservedPoint struct {
	Time             time.Time
	Value            float64
	DirectionDegrees *float64
	DirectionText    *string
}

// ForecastEntry is one hourly forecast value in the provider's native unit.
type ForecastEntry struct {
	Time             time.Time
	Speed            float64
	DirectionDegrees *float64
	DirectionText    *string
}

type ResampledPoint struct {
	Time             time.Time `json:"time"`
	Label            string    `json:"x"`
	WindKnots        float64   `json:"wind_knots"`
	DirectionDegrees *float64  `json:"direction_degrees"`
	DirectionText    *string   `json:"direction_text"`
}

type MergedRecord struct {
	Time      time.Time `json:"time"`
	Actual    float64   `json:"actual"`
	Predicted *float64  `json:"predicted"`
}

type DocumentMetadata struct {
	Station string `json:"station"`
	Title   string `json:"title,omitempty"`
	Unit    string `json:"unit"`
	Date    string `json:"date"`
}

// MergedDay is the persisted analysis document for one station and civil day.
type MergedDay struct {
	Metadata DocumentMetadata `json:"metadata"`
	Data     []MergedRecord   `json:"data"`
}

// ForecastWindow is the short-range resampled forecast served to the frontend.
type ForecastWindow struct {
	Metadata DocumentMetadata `json:"metadata"`
	Data     []ResampledPoint `json:"data"`
}

// DailyMetricsEntry holds the accuracy statistics for one civil date. All
// statistics are nil when N is zero.
type DailyMetricsEntry struct {
	Date          string   `json:"date"`
	N             int      `json:"n"`
	Coverage      float64  `json:"coverage"`
	MAE           *float64 `json:"mae"`
	RMSE          *float64 `json:"rmse"`
	Bias          *float64 `json:"bias"`
	SMAPE         *float64 `json:"smape"`
	MeanActual    *float64 `json:"mean_actual"`
	MeanPredicted *float64 `json:"mean_predicted"`
}
