package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/config"
	"github.com/jonatasu/dubby/internal/metrics"
)

// ServerOptions carries the collaborators behind the HTTP surface.
type ServerOptions struct {
	Config    *config.Config
	Runner    JobRunner
	Queue     JobQueue    // nil without workers
	Archive   JobArchive  // nil without DATABASE_URL
	Events    EventSource // nil disables SSE
	Media     MediaProbe
	MQTT      Pinger
	AMQP      Pinger
	Watcher   func() *WatcherStatusData
	Outputs   ArtifactLocator // nil: local outputs only
	Backends  BackendInfo
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// Health and Prometheus endpoints are open
	health := NewHealthHandler(HealthOptions{
		Media:     opts.Media,
		Archive:   opts.Archive,
		MQTT:      opts.MQTT,
		AMQP:      opts.AMQP,
		Queue:     opts.Queue,
		Watcher:   opts.Watcher,
		Version:   opts.Version,
		StartTime: opts.StartTime,
	})
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	jobsHandler := NewJobsHandler(opts.Runner, opts.Queue, opts.Archive, opts.Log)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Route("/api/v1", func(r chi.Router) {
			NewProcessHandler(ProcessOptions{
				Runner:         opts.Runner,
				Queue:          opts.Queue,
				UploadsDir:     cfg.UploadsDir,
				AllowedExts:    cfg.UploadExtensions(),
				MaxUploadBytes: cfg.MaxUploadBytes(),
				DefaultSrcLang: cfg.DefaultSrcLang,
				DefaultDstLang: cfg.DefaultDstLang,
				Log:            opts.Log,
			}).Routes(r)
			jobsHandler.Routes(r)
			NewStatusHandler(StatusOptions{
				Runner:     opts.Runner,
				Media:      opts.Media,
				Version:    opts.Version,
				StartTime:  opts.StartTime,
				UploadsDir: cfg.UploadsDir,
				OutputsDir: cfg.OutputsDir,
				ModelsDir:  cfg.ModelsDir,
				Backends:   opts.Backends,
			}).Routes(r)
			NewEventsHandler(opts.Events).Routes(r)

			// Destructive maintenance is never exposed without a token.
			r.With(RequireAuth(cfg.AuthToken)).Post("/jobs/purge", jobsHandler.PurgeJobs)
		})

		r.Handle("/outputs/*", OutputsHandler(cfg.OutputsDir, opts.Outputs, opts.Log))
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
