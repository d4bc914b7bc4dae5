// Package server is the composition root: it opens the store, builds the
// services and handlers, mounts the routes and runs the HTTP server until
// a shutdown signal arrives.
//
// ROUTES:
//
//	POST /auth/signup                     → AuthHandler.HandleSignup
//	POST /auth/login                      → AuthHandler.HandleLogin
//	GET  /auth/logout                     → AuthHandler.HandleLogout
//	GET  /auth/status                     → AuthHandler.HandleStatus
//	GET  /auth/google                     → AuthHandler.HandleGoogleStart     (google.client_id set)
//	GET  /auth/google/callback            → AuthHandler.HandleGoogleCallback  (google.client_id set)
//	GET  /auth/verify/{accountId}/{token} → AuthHandler.HandleVerify
//	POST /auth/verify/resend              → AuthHandler.HandleResend
//	GET  /api/dashboard                   → AuthHandler.HandleDashboard       (session required)
//	POST /api/summarize, /api/summary     → SummarizeHandler.HandleSummarize  (summarizer.api_key set)
//	GET  /healthz                         → HealthHandler.HandleHealth
//	GET  /metrics                         → Prometheus exposition
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/digest/internal/auth"
	"github.com/sakif/digest/internal/config"
	"github.com/sakif/digest/internal/handler"
	"github.com/sakif/digest/internal/mail"
	"github.com/sakif/digest/internal/metrics"
	"github.com/sakif/digest/internal/middleware"
	"github.com/sakif/digest/internal/repository"
	dsRepo "github.com/sakif/digest/internal/repository/datastore"
	sqliteRepo "github.com/sakif/digest/internal/repository/sqlite"
	"github.com/sakif/digest/internal/service"
	"github.com/sakif/digest/internal/summarizer/cohere"
	"github.com/sakif/digest/internal/sweeper"
)

const shutdownTimeout = 30 * time.Second

// sessionStore is an scs store that can also purge expired sessions.
type sessionStore interface {
	scs.Store
	DeleteExpired() (int64, error)
}

// Server owns the store and the sweeper; both are released by Start on
// shutdown, or by Close when Start is never called.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   repository.Store
	sweeper *sweeper.Sweeper // nil when verification.sweep_interval is 0
}

// New wires every dependency named by cfg. cfg must already be validated.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, sessions, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(sessions); err != nil {
		store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openStore opens the configured backend and the session store that
// lives next to it.
func openStore(ctx context.Context, cfg config.StoreConfig) (repository.Store, sessionStore, error) {
	switch cfg.Driver {
	case config.StoreDatastore:
		ds, err := dsRepo.New(ctx, cfg.DatastoreProject, cfg.DatastoreNamespace)
		if err != nil {
			return nil, nil, fmt.Errorf("opening datastore: %w", err)
		}
		return ds, ds.Sessions(), nil

	default:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		return db, db.Sessions(), nil
	}
}

func newSender(cfg config.MailConfig, logger *slog.Logger) (mail.Sender, error) {
	if cfg.Driver != config.MailSMTP {
		logger.Warn("mail driver is log: verification links are logged at debug level, not sent")
		return mail.NewLogSender(logger), nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	})
}

// setupRoutes builds the dependency chain and mounts the routes.
//
// Middleware order: RequestID and RealIP feed the logger, Recoverer turns
// panics into 500s that still get logged, and LoadAndSave runs only on the
// routes that read or write the session.
func (s *Server) setupRoutes(sessions sessionStore) error {
	cfg := s.config

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	sender, err := newSender(cfg.Mail, s.logger)
	if err != nil {
		return fmt.Errorf("creating mail sender: %w", err)
	}

	passwords := auth.NewPasswordService(cfg.Bcrypt.Cost)
	ledger := service.NewVerificationLedger(s.store, s.store, passwords, sender, service.LedgerConfig{
		BaseURL: cfg.BaseURL,
		Window:  cfg.Verification.Window,
	}, s.logger)
	authService := service.NewAuthService(s.store, s.store, ledger, passwords, s.logger)

	sm, err := auth.NewSessionManager(sessions, auth.CookieConfig{
		Name:     cfg.Session.CookieName,
		Lifetime: cfg.Session.Lifetime,
		Secure:   cfg.Session.Secure,
		SameSite: cfg.Session.SameSite,
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	resolver := auth.NewSessionResolver(sm)

	stateSigner, err := auth.NewStateSigner(cfg.Session.Secret)
	if err != nil {
		return fmt.Errorf("creating oauth state signer: %w", err)
	}

	authCfg := handler.AuthHandlerConfig{
		State:       stateSigner,
		FrontendURL: cfg.FrontendURL,
		Metrics:     m,
	}
	if cfg.Google.Enabled() {
		authCfg.Google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
	} else {
		s.logger.Warn("google.client_id not set: Google sign-in is disabled")
	}
	authHandler := handler.NewAuthHandler(authService, resolver, authCfg, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	var summarizeHandler *handler.SummarizeHandler
	if cfg.Summarizer.Enabled() {
		ccfg := cohere.DefaultConfig()
		ccfg.APIKey = cfg.Summarizer.APIKey
		if cfg.Summarizer.BaseURL != "" {
			ccfg.BaseURL = cfg.Summarizer.BaseURL
		}
		if cfg.Summarizer.Model != "" {
			ccfg.Model = cfg.Summarizer.Model
		}
		if cfg.Summarizer.Timeout > 0 {
			ccfg.Timeout = cfg.Summarizer.Timeout
		}
		client, err := cohere.New(ccfg, s.logger)
		if err != nil {
			return fmt.Errorf("creating summarizer: %w", err)
		}
		summarizeHandler = handler.NewSummarizeHandler(client, m, s.logger)
	} else {
		s.logger.Warn("summarizer.api_key not set: /api/summarize is disabled")
	}

	if cfg.Verification.SweepInterval > 0 {
		s.sweeper = sweeper.New(ledger, sessions, cfg.Verification.SweepInterval, m, s.logger)
	}

	// === Global middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Ops ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	// === Session routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(sm.LoadAndSave)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.HandleSignup)
			r.Post("/login", authHandler.HandleLogin)
			r.Get("/logout", authHandler.HandleLogout)
			r.Get("/status", authHandler.HandleStatus)
			r.Get("/verify/{accountId}/{token}", authHandler.HandleVerify)
			r.Post("/verify/resend", authHandler.HandleResend)

			if cfg.Google.Enabled() {
				r.Get("/google", authHandler.HandleGoogleStart)
				r.Get("/google/callback", authHandler.HandleGoogleCallback)
			}
		})

		r.Route("/api", func(r chi.Router) {
			r.With(auth.RequireAuth(resolver, authService, s.logger)).Get("/dashboard", authHandler.HandleDashboard)
			if summarizeHandler != nil {
				r.Post("/summarize", summarizeHandler.HandleSummarize)
				r.Post("/summary", summarizeHandler.HandleSummarize)
			}
		})
	})

	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store. Start calls it on shutdown.
func (s *Server) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	return s.store.Close()
}

// Start serves HTTP until SIGINT or SIGTERM, then drains in-flight requests
// for up to 30 seconds, stops the sweeper and closes the store.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Summaries can take a while; leave room past the provider timeout.
		WriteTimeout: s.config.Summarizer.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.sweeper != nil {
		s.sweeper.Start()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("baseURL", s.config.BaseURL),
			slog.String("store", s.config.Store.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
