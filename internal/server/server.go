package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"zckyachmd/notifyrelay/internal/dispatch"
)

// Relay delivers a built payload to recipient tokens.
type Relay interface {
	Dispatch(ctx context.Context, p dispatch.Payload, tokens []string) (dispatch.Result, error)
}

// Server exposes the relay over HTTP.
type Server struct {
	router          *chi.Mux
	server          *http.Server
	relay           Relay
	silentByDefault bool
	logger          zerolog.Logger
	outMiddleware   []func(http.Handler) http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithOutMiddleware wraps only the relay endpoint, e.g. for rate limiting.
func WithOutMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.outMiddleware = append(s.outMiddleware, mw...) }
}

// New creates the HTTP server and registers routes.
func New(addr string, relay Relay, silentByDefault bool, logger zerolog.Logger, opts ...Option) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		router:          r,
		relay:           relay,
		silentByDefault: silentByDefault,
		logger:          logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Group(func(r chi.Router) {
		r.Use(s.outMiddleware...)
		r.Get("/out", s.handleOut)
		r.Post("/out", s.handleOut)
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("req_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("dur", time.Since(start)).
				Msg("http request")
		})
	}
}
