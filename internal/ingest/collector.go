package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/lox/seawaywind/internal/httputil"
	"github.com/lox/seawaywind/internal/metrics"
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
	"github.com/lox/seawaywind/internal/store"
)

const DefaultBaseURL = "https://api.willyweather.com.au/v2"

// observationGraphs is the full set requested from the provider; only wind
// is read downstream but the raw documents keep the rest.
const observationGraphs = "wind,pressure,wind-gust,rainfall,temperature,apparent-temperature,cloud,delta-t,dew-point,humidity"

const (
	endpointObservations = "observationalGraphs"
	endpointForecast     = "forecasts"
)

// FetchResult captures metadata about a provider fetch for the run audit.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	Decode       DecodeResult
}

type CollectorConfig struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Clock   clockwork.Clock
	Loc     *time.Location
	Logger  *slog.Logger
	// MaxElapsed bounds the retry loop for one fetch.
	MaxElapsed time.Duration
}

// Collector fetches raw observation and forecast documents from WillyWeather
// and stores them unmodified under the per-day keys.
type Collector struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	docs       store.Documents
	runs       store.RunLog
	breaker    *gobreaker.CircuitBreaker
	clock      clockwork.Clock
	loc        *time.Location
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

func NewCollector(cfg CollectorConfig, docs store.Documents, runs store.RunLog) *Collector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = httputil.NewClient()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	logger := cfg.Logger.With("component", "collector")

	maxElapsed := cfg.MaxElapsed
	return &Collector{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		docs:    docs,
		runs:    runs,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "willyweather",
			MaxRequests: 1,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("collector: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		clock:  cfg.Clock,
		loc:    cfg.Loc,
		logger: logger,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = maxElapsed
			return bo
		},
	}
}

// CollectAll stores yesterday's observations for every active station and
// today's forecast for every forecast station. The first failure aborts the
// invocation.
func (c *Collector) CollectAll(ctx context.Context, stations []models.Station) error {
	now := c.clock.Now().In(c.loc)
	yesterday := normalize.Yesterday(now, c.loc)
	today := normalize.CivilDay(now, c.loc).Start

	active := models.ActiveStations(stations)
	c.logger.Info("collector: starting", "stations", len(active), "observation_date", yesterday.Format(models.DateLayout))

	for _, st := range active {
		if err := c.CollectObservations(ctx, st, yesterday); err != nil {
			return err
		}
	}
	for _, st := range active {
		if !st.Forecast {
			continue
		}
		if err := c.CollectForecast(ctx, st, today); err != nil {
			return err
		}
	}
	return nil
}

// CollectObservations fetches the observational graphs starting at date and
// stores the document in the record bucket under the station's key for date.
func (c *Collector) CollectObservations(ctx context.Context, st models.Station, date time.Time) error {
	params := url.Values{}
	params.Set("observationalGraphs", observationGraphs)
	params.Set("startDate", date.Format(models.DateLayout))

	return c.collect(ctx, st, date, endpointObservations, params, store.BucketRecord, func(body []byte) (DecodeResult, error) {
		_, res, err := DecodeObservations(body, normalize.NewTimeConfig(c.loc))
		return res, err
	})
}

// CollectForecast fetches the wind forecast and stores it in the forecast
// bucket under the station's key for date, the day the forecast was issued.
func (c *Collector) CollectForecast(ctx context.Context, st models.Station, date time.Time) error {
	params := url.Values{}
	params.Set("forecasts", "wind")

	return c.collect(ctx, st, date, endpointForecast, params, store.BucketForecast, func(body []byte) (DecodeResult, error) {
		_, res, err := DecodeForecast(body, c.loc)
		return res, err
	})
}

func (c *Collector) collect(ctx context.Context, st models.Station, date time.Time, endpoint string, params url.Values, bucket string, decode func([]byte) (DecodeResult, error)) error {
	key := store.DayKey(st.Code, date)

	var run *store.Run
	if c.runs != nil {
		var err error
		run, err = c.runs.StartRun(ctx, "collect:"+endpoint, st.Code, date.Format(models.DateLayout))
		if err != nil {
			c.logger.Warn("collector: start run", "station", st.Code, "error", err)
		}
	}

	err := c.collectOnce(ctx, st, endpoint, params, bucket, key, decode, run)

	if run != nil {
		run.Success = err == nil
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := c.runs.CompleteRun(ctx, run); cerr != nil {
			c.logger.Warn("collector: complete run", "station", st.Code, "error", cerr)
		}
	}
	return err
}

func (c *Collector) collectOnce(ctx context.Context, st models.Station, endpoint string, params url.Values, bucket, key string, decode func([]byte) (DecodeResult, error), run *store.Run) error {
	body, fetch, err := c.fetch(ctx, st, endpoint, params)
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", st.Code, endpoint, err)
	}

	fetch.Decode, err = decode(body)
	if err != nil {
		return fmt.Errorf("decode %s %s: %w", st.Code, endpoint, err)
	}
	if run != nil {
		run.RecordsIn = sql.NullInt64{Int64: int64(fetch.Decode.Records + fetch.Decode.Skipped), Valid: true}
		run.RecordsOut = sql.NullInt64{Int64: int64(fetch.Decode.Records), Valid: true}
	}
	if fetch.Decode.Skipped > 0 {
		c.logger.Warn("collector: skipped malformed points",
			"station", st.Code, "endpoint", endpoint, "skipped", fetch.Decode.Skipped, "first_error", fetch.Decode.FirstError)
	}
	if fetch.Decode.Flagged > 0 {
		c.logger.Warn("collector: implausible values", "station", st.Code, "endpoint", endpoint, "flagged", fetch.Decode.Flagged)
	}

	if c.unchanged(ctx, bucket, key, body) {
		c.logger.Info("collector: document unchanged", "station", st.Code, "bucket", bucket, "key", key)
		return nil
	}
	if err := c.docs.Put(ctx, bucket, key, body); err != nil {
		return fmt.Errorf("store %s/%s: %w", bucket, key, err)
	}
	metrics.DocumentsCollected.WithLabelValues(st.Code, bucket).Inc()

	c.logger.Info("collector: stored document",
		"station", st.Code, "bucket", bucket, "key", key, "records", fetch.Decode.Records, "bytes", fetch.ResponseSize)
	return nil
}

// documentHasher is implemented by backends that keep a content hash.
type documentHasher interface {
	DocumentHash(ctx context.Context, bucket, key string) (string, error)
}

// unchanged reports whether the stored document at bucket/key already has
// body's sha256.
func (c *Collector) unchanged(ctx context.Context, bucket, key string, body []byte) bool {
	h, ok := c.docs.(documentHasher)
	if !ok {
		return false
	}
	prev, err := h.DocumentHash(ctx, bucket, key)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(body)
	return prev == hex.EncodeToString(sum[:])
}

// fetch retries rate limiting and server errors with backoff inside a
// circuit breaker shared by all stations.
func (c *Collector) fetch(ctx context.Context, st models.Station, endpoint string, params url.Values) ([]byte, *FetchResult, error) {
	reqURL := fmt.Sprintf("%s/%s/locations/%s/weather.json?%s", c.baseURL, c.apiKey, st.LocationID, params.Encode())
	result := &FetchResult{}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		metrics.ProviderAPILatency.WithLabelValues(st.Code, endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProviderAPICallsTotal.WithLabelValues(st.Code, endpoint, "error").Inc()
			return redactURL(err)
		}
		defer resp.Body.Close()

		result.HTTPStatus = resp.StatusCode
		metrics.ProviderAPICallsTotal.WithLabelValues(st.Code, endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		result.ResponseSize = len(body)
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
	})
	if err != nil {
		return nil, result, err
	}
	return body, result, nil
}

// redactURL drops the request URL, which embeds the API key, from transport
// errors.
func redactURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
