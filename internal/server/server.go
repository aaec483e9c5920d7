// Package server exposes the recommendation endpoint over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RecommendHandler serves POST /recommend.
type RecommendHandler interface {
	Recommend(w http.ResponseWriter, r *http.Request)
}

type Options struct {
	Port               int
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	RequestTimeout     time.Duration
	StaticDir          string
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	srv    *http.Server
}

func New(opts Options, h RecommendHandler, logger *slog.Logger) (*Server, error) {
	if h == nil {
		return nil, errors.New("server: recommend handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Correlation-Id"},
	}))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "movie-agent")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.RateLimitRequests > 0 && opts.RateLimitWindow > 0 {
			r.Use(httprate.Limit(
				opts.RateLimitRequests,
				opts.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					_, _ = w.Write([]byte(`{"error":"RATE_LIMITED","message":"Too many requests from this IP, please try again later."}`))
				}),
			))
		}
		r.Use(TimeoutMiddleware(opts.RequestTimeout))
		r.Post("/recommend", h.Recommend)

		if dir := opts.StaticDir; dir != "" {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				r.Handle("/*", http.FileServer(http.Dir(dir)))
			} else {
				logger.Warn("static directory not found, not serving assets", "dir", dir)
			}
		}
	})

	return &Server{
		Router: r,
		Port:   opts.Port,
		logger: logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
