package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
)

// ErrMalformedDocument is returned when a raw provider document is not JSON
// or lacks the series the pipeline reads.
var ErrMalformedDocument = errors.New("malformed provider document")

const (
	observationGroupsPath = "observationalGraphs.wind.dataConfig.series.groups"
	forecastDaysPath      = "forecasts.wind.days"
)

var validate = validator.New()

// DecodeResult summarises what was kept and dropped while decoding a document.
type DecodeResult struct {
	Records    int
	Skipped    int
	Flagged    int
	FirstError string
}

func (r *DecodeResult) skip(err error) {
	r.Skipped++
	if r.FirstError == "" {
		r.FirstError = err.Error()
	}
}

type rawObservation struct {
	Epoch         *int64   `validate:"required"`
	Speed         *float64 `validate:"required"`
	Direction     *float64
	DirectionText *string
}

type rawForecast struct {
	DateTime      string   `validate:"required"`
	Speed         *float64 `validate:"required"`
	Direction     *float64
	DirectionText *string
}

// DecodeObservations extracts the wind observation points from a raw
// WillyWeather weather.json document. Points from every group are returned
// in document order with Value in km/h. Points missing a timestamp or speed
// are skipped and counted.
func DecodeObservations(body []byte, tc normalize.TimeConfig) ([]models.ObservedPoint, DecodeResult, error) {
	var result DecodeResult
	if !gjson.ValidBytes(body) {
		return nil, result, fmt.Errorf("observations: invalid json: %w", ErrMalformedDocument)
	}
	groups := gjson.GetBytes(body, observationGroupsPath)
	if !groups.IsArray() {
		return nil, result, fmt.Errorf("observations: %s missing: %w", observationGroupsPath, ErrMalformedDocument)
	}

	var points []models.ObservedPoint
	for _, group := range groups.Array() {
		for i, p := range group.Get("points").Array() {
			raw := rawObservation{
				Epoch:         intPtr(p.Get("x")),
				Speed:         numberPtr(p.Get("y")),
				Direction:     numberPtr(p.Get("direction")),
				DirectionText: stringPtr(p.Get("directionText")),
			}
			if err := validate.Struct(raw); err != nil {
				result.skip(fmt.Errorf("points[%d]: %w", i, err))
				continue
			}

			point := models.ObservedPoint{
				Time:             tc.Epoch(*raw.Epoch),
				Value:            *raw.Speed,
				DirectionDegrees: raw.Direction,
				DirectionText:    raw.DirectionText,
			}
			if len(QualityFlags(point.Value, point.DirectionDegrees)) > 0 {
				result.Flagged++
			}
			points = append(points, point)
		}
	}
	result.Records = len(points)
	return points, result, nil
}

// DecodeForecast extracts the hourly wind forecast entries from a raw
// WillyWeather forecast document. Speeds stay in km/h.
func DecodeForecast(body []byte, loc *time.Location) ([]models.ForecastEntry, DecodeResult, error) {
	var result DecodeResult
	if !gjson.ValidBytes(body) {
		return nil, result, fmt.Errorf("forecast: invalid json: %w", ErrMalformedDocument)
	}
	days := gjson.GetBytes(body, forecastDaysPath)
	if !days.IsArray() {
		return nil, result, fmt.Errorf("forecast: %s missing: %w", forecastDaysPath, ErrMalformedDocument)
	}

	var entries []models.ForecastEntry
	for d, day := range days.Array() {
		for i, e := range day.Get("entries").Array() {
			raw := rawForecast{
				DateTime:      e.Get("dateTime").String(),
				Speed:         numberPtr(e.Get("speed")),
				Direction:     numberPtr(e.Get("direction")),
				DirectionText: stringPtr(e.Get("directionText")),
			}
			if err := validate.Struct(raw); err != nil {
				result.skip(fmt.Errorf("days[%d].entries[%d]: %w", d, i, err))
				continue
			}
			ts, err := normalize.ParseProviderTime(raw.DateTime, loc)
			if err != nil {
				result.skip(fmt.Errorf("days[%d].entries[%d]: %w", d, i, err))
				continue
			}

			entry := models.ForecastEntry{
				Time:             ts,
				Speed:            *raw.Speed,
				DirectionDegrees: raw.Direction,
				DirectionText:    raw.DirectionText,
			}
			if len(QualityFlags(entry.Speed, entry.DirectionDegrees)) > 0 {
				result.Flagged++
			}
			entries = append(entries, entry)
		}
	}
	result.Records = len(entries)
	return entries, result, nil
}

func intPtr(r gjson.Result) *int64 {
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Int()
	return &v
}

func numberPtr(r gjson.Result) *float64 {
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Float()
	return &v
}

func stringPtr(r gjson.Result) *string {
	if r.Type != gjson.String {
		return nil
	}
	v := r.String()
	return &v
}
