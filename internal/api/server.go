package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/seawaywind/internal/analysis"
	"github.com/lox/seawaywind/internal/config"
	"github.com/lox/seawaywind/internal/metrics"
	"github.com/lox/seawaywind/internal/query"
	"github.com/lox/seawaywind/internal/store"
)

// RunStatus reports the latest collect and build runs for a station and the
// recent failures across stations.
type RunStatus interface {
	GetLatestRuns(ctx context.Context, station string) ([]store.Run, error)
	GetRecentFailedRuns(ctx context.Context, limit int) ([]store.Run, error)
}

type Server struct {
	catalog *config.Catalog
	docs    store.Documents
	runs    RunStatus
	reader  *query.Reader
	builder *analysis.Builder
	clock   clockwork.Clock
	logger  *slog.Logger
	addr    string
}

type Options struct {
	Addr   string
	Clock  clockwork.Clock
	Logger *slog.Logger
}

func NewServer(catalog *config.Catalog, docs store.Documents, runs RunStatus, reader *query.Reader, builder *analysis.Builder, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		catalog: catalog,
		docs:    docs,
		runs:    runs,
		reader:  reader,
		builder: builder,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "api"),
		addr:    opts.Addr,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/graph", s.instrument("graph", s.handleGraph))
	mux.Handle("GET /api/analysis", s.instrument("analysis", s.handleAnalysis))
	mux.Handle("GET /api/forecast", s.instrument("forecast", s.handleForecast))
	mux.Handle("GET /health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api: listening", "addr", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument sets the CORS header the browser frontend needs and counts
// responses by route and status.
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}
