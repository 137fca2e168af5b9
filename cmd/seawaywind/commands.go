package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/seawaywind/internal/analysis"
	"github.com/lox/seawaywind/internal/api"
	"github.com/lox/seawaywind/internal/ingest"
	"github.com/lox/seawaywind/internal/query"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type BuildCmd struct {
	Date    string `help:"Civil date to build (YYYY-MM-DD). Defaults to yesterday."`
	Station string `help:"Build a single station instead of every forecast station."`
}

func (c *BuildCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	date, err := a.dateOrYesterday(c.Date)
	if err != nil {
		return fmt.Errorf("parse --date: %w", err)
	}

	builder := a.builder()
	if c.Station == "" {
		return analysis.NewRunner(builder, a.catalog.Stations, a.logger).RunAll(ctx, date)
	}

	st, err := a.catalog.Station(c.Station)
	if err != nil {
		return err
	}
	res, err := builder.Build(ctx, st, date)
	if err != nil {
		return err
	}
	a.logger.Info("build complete",
		"station", res.Station,
		"date", res.Date,
		"observed", res.Observed,
		"forecast", res.Forecast,
		"n", res.Entry.N)
	return nil
}

type CollectCmd struct {
	APIKey  string        `name:"api-key" help:"WillyWeather API key." env:"WILLYWEATHER_API_KEY" required:""`
	BaseURL string        `name:"base-url" help:"Provider base URL." default:"https://api.willyweather.com.au/v2" env:"SEAWAY_BASE_URL"`
	Timeout time.Duration `help:"Maximum time spent retrying one fetch." default:"2m"`
	Build   bool          `help:"Build yesterday's analysis once collection succeeds."`
}

func (c *CollectCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	collector := ingest.NewCollector(ingest.CollectorConfig{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Clock:      a.clock,
		Loc:        a.catalog.Location(),
		Logger:     a.logger,
		MaxElapsed: c.Timeout,
	}, a.docs, a.store)

	if err := collector.CollectAll(ctx, a.catalog.Stations); err != nil {
		return err
	}
	if !c.Build {
		return nil
	}
	date, _ := a.dateOrYesterday("")
	return analysis.NewRunner(a.builder(), a.catalog.Stations, a.logger).RunAll(ctx, date)
}

type ForecastCmd struct {
	Station string `help:"Station code. Defaults to the primary station."`
	Hours   int    `help:"Hours ahead to include." default:"12"`
}

func (c *ForecastCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.catalog.Primary()
	if c.Station != "" {
		if st, err = a.catalog.Station(c.Station); err != nil {
			return err
		}
	}
	window, err := a.builder().Lookahead(context.Background(), st, a.clock.Now(), c.Hours)
	if err != nil {
		return err
	}
	return printJSON(window)
}

type QueryCmd struct {
	Type    string `arg:"" help:"Graph type." enum:"line,bar,scatter"`
	Station string `help:"Station code. Defaults to ${default_station}." default:"${default_station}"`
	Start   string `help:"First date (YYYY-MM-DD), inclusive."`
	End     string `help:"Last date (YYYY-MM-DD), inclusive."`
}

func (c *QueryCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := query.NewReader(a.docs, a.logger).Graph(context.Background(), query.GraphRequest{
		Type:    c.Type,
		Station: c.Station,
		Start:   c.Start,
		End:     c.End,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

type ServeCmd struct {
	Addr       string `help:"Listen address." default:":8080" env:"SEAWAY_ADDR"`
	APIKey     string `name:"api-key" help:"WillyWeather API key; collection is not scheduled without one." env:"WILLYWEATHER_API_KEY"`
	NoSchedule bool   `name:"no-schedule" help:"Serve queries only."`
	Collect    string `help:"Collect cron schedule." default:"30 0 * * *"`
	BuildAt    string `name:"build-at" help:"Build cron schedule." default:"0 1 * * *"`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	builder := a.builder()
	runner := analysis.NewRunner(builder, a.catalog.Stations, a.logger)
	reader := query.NewReader(a.docs, a.logger)
	server := api.NewServer(a.catalog, a.docs, a.store, reader, builder, api.Options{
		Addr:   c.Addr,
		Clock:  a.clock,
		Logger: a.logger,
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Run(ctx) })

	if !c.NoSchedule {
		var collector *ingest.Collector
		if c.APIKey != "" {
			collector = ingest.NewCollector(ingest.CollectorConfig{
				APIKey: c.APIKey,
				Clock:  a.clock,
				Loc:    a.catalog.Location(),
				Logger: a.logger,
			}, a.docs, a.store)
		} else {
			a.logger.Warn("no API key configured; collection not scheduled")
		}
		scheduler := ingest.NewScheduler(collector, runner.RunAll, a.catalog.Stations, a.catalog.Location(), a.clock, a.logger)
		scheduler.CollectSchedule = c.Collect
		scheduler.BuildSchedule = c.BuildAt
		group.Go(func() error { return scheduler.Run(ctx) })
	}

	return group.Wait()
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	version, err := a.store.MigrationVersion()
	if err != nil {
		return err
	}
	a.logger.Info("database migrated", "path", g.DB, "version", version)
	return nil
}
