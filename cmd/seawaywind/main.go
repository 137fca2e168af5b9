package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/seawaywind/internal/accuracy"
	"github.com/lox/seawaywind/internal/analysis"
	"github.com/lox/seawaywind/internal/config"
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
	"github.com/lox/seawaywind/internal/store"
)

type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`

	DB       string `help:"Path to SQLite database." default:"data/seawaywind.db" env:"SEAWAY_DB"`
	Stations string `help:"Station catalog YAML file." type:"path" env:"SEAWAY_STATIONS"`

	Storage     string `help:"Document backend." enum:"sqlite,ftp" default:"sqlite" env:"SEAWAY_STORAGE"`
	FTPAddr     string `name:"ftp-addr" help:"FTP server host:port." env:"SEAWAY_FTP_ADDR"`
	FTPUser     string `name:"ftp-user" help:"FTP user (anonymous when empty)." env:"SEAWAY_FTP_USER"`
	FTPPassword string `name:"ftp-password" help:"FTP password." env:"SEAWAY_FTP_PASSWORD"`
	FTPRoot     string `name:"ftp-root" help:"FTP directory holding the buckets." default:"/" env:"SEAWAY_FTP_ROOT"`

	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"SEAWAY_LOG_LEVEL"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text" env:"SEAWAY_LOG_FORMAT"`
}

type CLI struct {
	Globals

	Build    BuildCmd    `cmd:"" help:"Merge observations with the forecast for a civil date and update the metrics ledger."`
	Collect  CollectCmd  `cmd:"" help:"Fetch yesterday's observations and today's forecast from WillyWeather."`
	Forecast ForecastCmd `cmd:"" help:"Print the resampled forecast for the next hours."`
	Query    QueryCmd    `cmd:"" help:"Run a graph query over the merged days or the metrics ledger."`
	Serve    ServeCmd    `cmd:"" help:"Serve the query API and run the daily schedule."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply database migrations."`
}

// app holds the collaborators shared by every command.
type app struct {
	catalog *config.Catalog
	db      *sql.DB
	store   *store.Store
	docs    store.Documents
	clock   clockwork.Clock
	logger  *slog.Logger
}

func (g *Globals) newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if g.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func (g *Globals) open() (*app, error) {
	logger := g.newLogger()

	catalog, err := config.Load(g.Stations)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(g.DB); dir != "" && !strings.HasPrefix(g.DB, ":") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var docs store.Documents = st
	if g.Storage == "ftp" {
		if g.FTPAddr == "" {
			db.Close()
			return nil, fmt.Errorf("--ftp-addr is required with --storage=ftp")
		}
		docs = store.NewFTP(g.FTPAddr, g.FTPUser, g.FTPPassword, g.FTPRoot)
		logger.Info("storage: using ftp", "addr", g.FTPAddr, "root", g.FTPRoot)
	}

	return &app{
		catalog: catalog,
		db:      db,
		store:   st,
		docs:    docs,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) builder() *analysis.Builder {
	agg := accuracy.NewAggregator(a.docs, a.clock, a.catalog.Location(), a.logger)
	return analysis.NewBuilder(a.docs, a.store, agg, a.catalog.TimeConfig(), a.logger)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("seawaywind"),
		kong.Description("Reconciles Gold Coast Seaway wind observations with forecasts."),
		kong.UsageOnError(),
		kong.Vars{"default_station": models.DefaultStation},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (a *app) dateOrYesterday(s string) (time.Time, error) {
	loc := a.catalog.Location()
	if s == "" {
		return normalize.Yesterday(a.clock.Now(), loc), nil
	}
	return normalize.ParseDate(s, loc)
}
