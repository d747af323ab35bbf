// Package server provides the HTTP façade over the trading engines.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/database"
	"github.com/ashare/papertrade/internal/domain"
	"github.com/ashare/papertrade/internal/engine"
)

// Config holds everything the HTTP layer needs.
type Config struct {
	Log        zerolog.Logger
	Config     *config.Config
	DB         *database.DB
	Engine     *engine.MainEngine
	UserEngine *engine.UserEngine
	Quotes     domain.QuoteProvider
	Users      domain.UserStore
	Orders     domain.OrderStore
	Positions  domain.PositionStore
	Statements domain.StatementStore
	UserCache  domain.UserCache
	PosCache   domain.PositionCache
}

// Server is the REST façade. It never mutates trading state directly:
// everything goes through the main engine's submission path or the user
// engine's synchronous operations.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	cfg        *config.Config
	db         *database.DB
	engine     *engine.MainEngine
	userEngine *engine.UserEngine
	quotes     domain.QuoteProvider
	users      domain.UserStore
	orders     domain.OrderStore
	positions  domain.PositionStore
	statements domain.StatementStore
	userCache  domain.UserCache
	posCache   domain.PositionCache
	auth       *authenticator
	startedAt  time.Time
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cfg:        cfg.Config,
		db:         cfg.DB,
		engine:     cfg.Engine,
		userEngine: cfg.UserEngine,
		quotes:     cfg.Quotes,
		users:      cfg.Users,
		orders:     cfg.Orders,
		positions:  cfg.Positions,
		statements: cfg.Statements,
		userCache:  cfg.UserCache,
		posCache:   cfg.PosCache,
		auth:       newAuthenticator(cfg.Config.Auth),
		startedAt:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/system/info", s.handleSystemInfo)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handleCreateOrder)
			r.Get("/", s.handleListOrders)
			r.Get("/{entrustID}", s.handleGetOrder)
			r.Delete("/entrust_orders/{entrustID}", s.handleCancelOrder)
		})

		r.Route("/position", func(r chi.Router) {
			r.Get("/", s.handleListPositions)
			r.Post("/manual_import", s.handleManualImport)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleListUsers)
			r.Put("/cash", s.handleAdjustCash)
			r.Put("/terminate", s.handleTerminate)
			r.Get("/{userID}", s.handleGetUser)
		})

		r.Get("/statement/", s.handleListStatements)
	})
}

// Start starts the HTTP server. Blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps a domain error to its HTTP status and writes the
// error body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEntityDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAuthHeaderNotFound),
		errors.Is(err, domain.ErrWrongTokenFormat),
		errors.Is(err, domain.ErrInvalidTokenPrefix),
		errors.Is(err, domain.ErrInvalidAuthToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrNoPositionsAvailable),
		errors.Is(err, domain.ErrNotEnoughAvailablePositions),
		errors.Is(err, domain.ErrInvalidExchange),
		errors.Is(err, domain.ErrNotTradingTime),
		errors.Is(err, domain.ErrUserTerminated),
		errors.Is(err, domain.ErrInvalidUserID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
