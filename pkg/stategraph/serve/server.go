package serve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stategraph/stategraph/pkg/stategraph"
	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
	sgconfig "github.com/stategraph/stategraph/pkg/stategraph/config"
	"github.com/stategraph/stategraph/pkg/stategraph/event"
	"github.com/stategraph/stategraph/pkg/stategraph/query"
	"github.com/stategraph/stategraph/pkg/stategraph/registry"
	"github.com/stategraph/stategraph/pkg/stategraph/signal"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// ReadHeaderTimeout bounds header parsing. Defaults to 10s.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown when Shutdown is called
	// with a background context. Defaults to 30s.
	ShutdownTimeout time.Duration
}

// graphEntry pairs a compiled graph with the run options it is served with.
type graphEntry struct {
	graph   *stategraph.CompiledGraph[sgconfig.State]
	options []stategraph.RunOption
}

// Server hosts compiled graphs over HTTP.
type Server struct {
	cfg    Config
	logger *slog.Logger

	graphs *registry.Registry[string, *graphEntry]
	store  checkpoint.Store
	bus    *event.LocalBus

	queries   *query.Registry
	queryExec *query.Executor

	hub        *signal.Hub
	dispatcher *signal.Dispatcher

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore enables checkpointing for served runs. Without a store,
// runs execute but cannot be resumed or inspected after the fact.
func WithStore(store checkpoint.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithBus sets the run lifecycle event bus backing the events endpoint.
// Defaults to a local bus with default configuration.
func WithBus(bus *event.LocalBus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithQuery registers a custom read-only query handler, dispatched by
// name through the run query endpoint. Panics when the name collides
// with a built-in or an earlier registration.
func WithQuery(name string, handler query.Handler) Option {
	return func(s *Server) {
		s.queries.MustRegister(name, handler)
	}
}

// WithGraph registers a named graph. The given run options are applied to
// every run of the graph, before per-run options like checkpointing.
func WithGraph(name string, graph *stategraph.CompiledGraph[sgconfig.State], opts ...stategraph.RunOption) Option {
	return func(s *Server) {
		s.graphs.Register(name, &graphEntry{graph: graph, options: opts})
	}
}

// New creates a server hosting the given graphs.
func New(cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		graphs:  registry.New[string, *graphEntry](),
		hub:     signal.NewHub(),
		queries: query.NewRegistry(),
	}
	// Registering builtins on a fresh registry cannot collide.
	_ = query.RegisterBuiltins(s.queries, s.loadRunState)
	s.queryExec = query.NewExecutor(s.queries, s.loadRunState)

	for _, opt := range opts {
		opt(s)
	}

	if s.bus == nil {
		s.bus = event.NewBus(event.DefaultBusConfig)
	}

	// Run control: cancel signals resolve to context cancellation
	// through the hub.
	signals := signal.NewRegistry()
	signal.BindCancel(signals, s.hub)
	s.dispatcher = signal.NewDispatcher(signals, signal.NewMemoryStore()).
		WithLogger(s.logger)

	return s
}

// Router returns the server's HTTP handler, for mounting or testing
// without starting a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger(s.logger))
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", MetricsHandler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/graphs", s.handleListGraphs)

		r.Route("/graphs/{graph}", func(r chi.Router) {
			r.Get("/schema", s.handleSchema)
			r.Post("/runs", s.handleStartRun)
			r.Post("/runs:stream", s.handleStartRunStream)

			r.Route("/runs/{run}", func(r chi.Router) {
				r.Get("/state", s.handleGetState)
				r.Get("/history", s.handleGetHistory)
				r.Post("/resume", s.handleResume)
				r.Post("/resume:stream", s.handleResumeStream)
			})
		})

		r.Get("/queries", s.handleListQueries)
		r.Get("/runs/active", s.handleActiveRuns)
		r.Post("/runs/{run}/cancel", s.handleCancel)
		r.Get("/runs/{run}/events", s.handleRunEvents)
		r.Get("/runs/{run}/query/{name}", s.handleQuery)
	})

	return r
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	s.logger.Info("http server starting",
		"addr", s.cfg.Addr,
		"graphs", s.graphs.Keys(),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
// Open SSE streams are closed when their runs finish or the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	s.logger.Info("http server shutting down")

	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.bus.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Hub returns the server's run control hub.
func (s *Server) Hub() *signal.Hub {
	return s.hub
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
