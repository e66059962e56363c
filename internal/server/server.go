// Package server exposes the secret lookup and the Google OAuth flow over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/home-secrets/internal/apikey"
	"github.com/florianilch/home-secrets/internal/googleoauth"
	"github.com/florianilch/home-secrets/internal/observability"
	"github.com/florianilch/home-secrets/internal/observability/middleware"
	"github.com/florianilch/home-secrets/internal/secrets"
)

// SecretLookup resolves secrets by key.
type SecretLookup interface {
	Get(ctx context.Context, key string) (*secrets.Secret, error)
}

// OAuthFlow drives the Google authorization-code flow and token lifecycle.
type OAuthFlow interface {
	Start(ctx context.Context, redirectURI, label string) (string, error)
	Callback(ctx context.Context, req googleoauth.CallbackRequest) (*googleoauth.CallbackResult, error)
	Token(ctx context.Context, label string) (*googleoauth.Entry, error)
	Status(ctx context.Context, label string) (*googleoauth.Status, error)
	Delete(ctx context.Context, label string) error
	DefaultLabel() string
}

// Server is the HTTP surface of the service.
type Server struct {
	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server

	gate    *apikey.Gate
	secrets SecretLookup
	oauth   OAuthFlow

	allowedOrigins []string
	metrics        *observability.Metrics
	debugInfo      func() any
	logger         *slog.Logger
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithMetrics counts requests per route and serves GET /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDebugInfo serves the value returned by fn on GET /debug/env.
// fn must not expose secret values.
func WithDebugInfo(fn func() any) Option {
	return func(s *Server) {
		s.debugInfo = fn
	}
}

// WithLogger sets the request logger. If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates the server and registers all routes.
func New(gate *apikey.Gate, lookup SecretLookup, oauth OAuthFlow, opts ...Option) (*Server, error) {
	if gate == nil {
		return nil, errors.New("missing api key gate")
	}
	if lookup == nil {
		return nil, errors.New("missing secret lookup")
	}
	if oauth == nil {
		return nil, errors.New("missing oauth flow")
	}

	s := &Server{
		mux:     http.NewServeMux(),
		gate:    gate,
		secrets: lookup,
		oauth:   oauth,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()

	s.handler = applyMiddlewares(s.mux,
		// Runs before request logging so the key never reaches the logs
		apikey.StripQuery,
		middleware.Logging(s.logger),
		RequestID,
		Recovery,
		CORS(s.allowedOrigins),
	)
	return s, nil
}

func (s *Server) routes() {
	protected := s.gate.Middleware(s.writeError)

	s.handle("GET /healthz", "healthz", http.HandlerFunc(s.handleHealth))
	s.handle("GET /secret/{key}", "secret", protected(http.HandlerFunc(s.handleSecret)))

	s.handle("GET /oauth/google/start", "oauth_start", protected(http.HandlerFunc(s.handleStart)))
	s.handle("GET /oauth/google/callback", "oauth_callback", http.HandlerFunc(s.handleCallback))
	s.handle("GET /oauth/google/token", "oauth_token", protected(http.HandlerFunc(s.handleToken)))
	s.handle("DELETE /oauth/google/token", "oauth_delete", protected(http.HandlerFunc(s.handleDelete)))
	s.handle("GET /oauth/google/status", "oauth_status", protected(http.HandlerFunc(s.handleStatus)))

	if s.debugInfo != nil {
		s.handle("GET /debug/env", "debug_env", protected(http.HandlerFunc(s.handleDebugEnv)))
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// handle registers h under pattern, counted under route when metrics are enabled.
func (s *Server) handle(pattern, route string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.InstrumentRoute(route)(h)
	}
	s.mux.Handle(pattern, h)
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // bounded by the token endpoint timeout
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
