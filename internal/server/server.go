package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/payloadbench/apiserver/config"
	"github.com/payloadbench/apiserver/internal/cache"
	"github.com/payloadbench/apiserver/internal/channel"
	"github.com/payloadbench/apiserver/internal/dataset"
	"github.com/payloadbench/apiserver/internal/db"
	"github.com/payloadbench/apiserver/internal/handlers"
	"github.com/payloadbench/apiserver/internal/metrics"
	"github.com/payloadbench/apiserver/internal/mq"
	"github.com/payloadbench/apiserver/internal/services"
	"github.com/payloadbench/apiserver/internal/storage"
	"github.com/payloadbench/apiserver/internal/store"
)

// Deps are the external collaborators of a Server. Nil members disable the
// features that need them.
type Deps struct {
	DB      *sql.DB
	Storage *storage.Storage
	MQ      *mq.MQ
	Clock   dataset.Clock
}

// Server wraps the HTTP server, the router and the channel hub.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	hub        *channel.Hub
	deps       Deps
	logger     *slog.Logger
}

// New connects the collaborators enabled in cfg and builds a Server.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	var deps Deps
	if cfg.Database.Enabled {
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		deps.DB = conn
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		closeDeps(deps)
		return nil, fmt.Errorf("open storage: %w", err)
	}
	deps.Storage = objects

	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		closeDeps(deps)
		return nil, fmt.Errorf("open mq: %w", err)
	}
	deps.MQ = broker

	return Build(ctx, cfg, logger, deps)
}

// Build assembles the routes over already connected collaborators.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	resource, err := cacheResource(cfg.Cache, deps.Storage)
	if err != nil {
		return nil, err
	}
	if err := resource.Prime(ctx); err != nil {
		logger.Error("cache resource failed to load; requests will fail", "err", err)
	}

	m := metrics.New()
	ds := dataset.New(cfg.Dataset.Size, deps.Clock)
	logger.Info("dataset generated", "records", ds.Len(), "at", ds.GeneratedAt())

	opts := services.PayloadOptions{TupleModeEnabled: cfg.Dataset.TupleModeEnabled}
	if deps.DB != nil {
		opts.Runs = store.NewRunRepository(deps.DB)
	}
	if deps.MQ != nil {
		opts.Broker = deps.MQ
	}

	hub := channel.NewHub(channel.Options{
		Workers:       cfg.Channel.Workers,
		SendBuffer:    cfg.Channel.SendBuffer,
		RatePerSecond: cfg.Channel.RatePerSecond,
		Burst:         cfg.Channel.Burst,
		CheckOrigin:   checkOrigin(cfg.AllowedOrigins),
	}, logger, m)
	services.NewPayloadService(ds, opts, logger, m).Register(hub)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		handlers.CORS(cfg.AllowedOrigins),
	)

	// The channel outlives any request timeout.
	router.Get("/channel", hub.ServeHTTP)

	router.Group(func(r chi.Router) {
		r.Use(
			handlers.RequestMetrics(logger),
			middleware.Timeout(60*time.Second),
		)
		r.Get("/healthz", handlers.Healthz)
		r.Method(http.MethodGet, "/cache-demo-resource", handlers.NewCacheHandler(resource, m, logger))
		r.Method(http.MethodGet, "/metrics", m.Handler())

		if cfg.Auth.JWTSecret == "" {
			logger.Warn("JWT_SECRET not set; token and runs endpoints disabled")
			return
		}
		tokens := handlers.NewTokenHandler(
			cfg.Auth.JWTSecret,
			cfg.Auth.ClientSecretHash,
			cfg.MQ.Channel,
			time.Duration(cfg.Auth.TokenTTLSeconds)*time.Second,
		)
		r.Route("/api", func(r chi.Router) {
			handlers.TokenRouter(r, tokens)
		})
		if deps.DB != nil {
			runService := services.NewRunService(store.NewRunRepository(deps.DB))
			r.Route("/runs", func(r chi.Router) {
				handlers.RunRouter(r, runService, handlers.RequireAuth(cfg.Auth.JWTSecret))
			})
		}
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 3002
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		hub:        hub,
		deps:       deps,
		logger:     logger,
	}, nil
}

// Router exposes the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, disconnects channel clients and closes
// the collaborators.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	closeDeps(s.deps)
	return err
}

func closeDeps(deps Deps) {
	if deps.MQ != nil {
		_ = deps.MQ.Close()
	}
	if deps.DB != nil {
		_ = deps.DB.Close()
	}
}

func cacheResource(cfg config.CacheConfig, objects *storage.Storage) (*cache.Resource, error) {
	if cfg.ObjectKey == "" {
		size := cfg.BodySize
		if size <= 0 {
			size = cache.DefaultBodySize
		}
		return cache.NewResource(cache.InlineBody(size, cache.DefaultFill)), nil
	}
	if objects == nil {
		return nil, errors.New("CACHE_OBJECT_KEY requires STORAGE_BACKEND")
	}
	return cache.NewResource(cache.ObjectBody(objects, cfg.ObjectKey, cfg.MaxObjectSize)), nil
}

func checkOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
