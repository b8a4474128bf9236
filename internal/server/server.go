// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server assembles the passkey HTTP server: stores, ceremony
// service, routes, middleware, and lifecycle.
package server

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/passkey/http"
	"github.com/jeremyhahn/go-passkey/pkg/passkey/sqlite"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

// Server is the passkey HTTP server.
type Server struct {
	server     *http.Server
	service    *passkey.Service
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	cfg        *config.Config
	sqliteDB   *sqlite.Store                  // nil for the memory backend
	memCreds   *passkey.MemoryCredentialStore // nil for the sqlite backend
	memLedger  *passkey.MemoryChallengeLedger // nil for the sqlite backend
	stopReaper context.CancelFunc
	started    time.Time
}

// New builds a server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		cfg:    cfg,
		logger: logger,
	}

	creds, ledger, err := srv.buildStores()
	if err != nil {
		return nil, err
	}

	var issuer passkey.TokenIssuer
	if cfg.Token.Enabled {
		issuer, err = buildIssuer(&cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("build token issuer: %w", err)
		}
	}

	service, err := passkey.NewService(passkey.ServiceParams{
		Config:          cfg.PasskeyConfig(),
		CredentialStore: creds,
		ChallengeLedger: ledger,
		TokenIssuer:     issuer,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create passkey service: %w", err)
	}
	srv.service = service

	srv.limiter = ratelimit.New(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		Burst:             cfg.RateLimit.Burst,
	})

	router := srv.setupRouter()

	srv.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// buildStores constructs the credential store and challenge ledger for the
// configured backend.
func (s *Server) buildStores() (passkey.CredentialStore, passkey.ChallengeLedger, error) {
	switch s.cfg.Storage.Backend {
	case "sqlite":
		store, err := sqlite.Open(s.cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		s.sqliteDB = store
		return store, store, nil
	default:
		creds := passkey.NewMemoryCredentialStore()
		ledger := passkey.NewMemoryChallengeLedger(s.cfg.PasskeyConfig().ChallengeTTL)
		s.memCreds = creds
		s.memLedger = ledger
		return creds, ledger, nil
	}
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	if s.cfg.Health.Enabled {
		path := s.cfg.Health.Path
		if path == "" {
			path = "/healthz"
		}
		r.Get(path, s.healthHandler)
	}

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	handler := passkeyhttp.NewHandler(s.service).WithLogger(s.logger)
	r.Route("/api/v1/passkeys", func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.limiter))
		passkeyhttp.MountChi(r, handler)
	})

	return r
}

// loggingMiddleware logs each request with method, path, status, and
// duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d}`, int(time.Since(s.started).Seconds()))
}

// Start starts the server and the challenge reaper. Blocks until the
// listener fails or Stop is called.
func (s *Server) Start() error {
	s.started = time.Now()

	reaperCtx, cancel := context.WithCancel(context.Background())
	s.stopReaper = cancel
	s.startReaper(reaperCtx)
	metrics.StartGaugeCollector(reaperCtx, s.cfg.ReaperInterval(), s.gaugeSource())

	s.logger.Info("starting passkey server",
		"addr", s.server.Addr,
		"storage", s.cfg.Storage.Backend,
		"rp_id", s.cfg.RelyingParty.ID)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// gaugeSource exposes the active backend's counts for the metrics gauges.
func (s *Server) gaugeSource() metrics.GaugeSource {
	if s.sqliteDB != nil {
		return metrics.GaugeSource{
			PendingChallenges: s.sqliteDB.CountPending,
			Credentials:       s.sqliteDB.CountCredentials,
		}
	}
	return metrics.GaugeSource{
		PendingChallenges: func(ctx context.Context) (int, error) {
			return s.memLedger.Count(), nil
		},
		Credentials: func(ctx context.Context) (int, error) {
			return s.memCreds.Count(), nil
		},
	}
}

// startReaper launches expired challenge cleanup for the active backend.
func (s *Server) startReaper(ctx context.Context) {
	interval := s.cfg.ReaperInterval()
	if s.sqliteDB != nil {
		s.sqliteDB.StartReaper(ctx, interval)
		return
	}
	if s.memLedger != nil {
		s.memLedger.StartReaper(ctx, interval)
	}
}

// Stop gracefully stops the server and its background workers.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.stopReaper != nil {
		s.stopReaper()
	}
	s.limiter.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if s.sqliteDB != nil {
		if err := s.sqliteDB.Close(); err != nil {
			return fmt.Errorf("close sqlite store: %w", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Service returns the underlying passkey service.
func (s *Server) Service() *passkey.Service {
	return s.service
}

// buildIssuer loads the signing key and constructs the JWT issuer.
func buildIssuer(cfg *config.TokenConfig) (passkey.TokenIssuer, error) {
	key, err := loadPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	expiresIn := time.Duration(cfg.ExpiresMinutes) * time.Minute
	return passkey.NewJWTIssuer(&passkey.JWTIssuerConfig{
		PrivateKey: key,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		ExpiresIn:  expiresIn,
	})
}

// loadPrivateKey reads a PEM-encoded private key. PKCS#8, PKCS#1, and SEC 1
// encodings are accepted.
func loadPrivateKey(path string) (crypto.PrivateKey, error) {
	// #nosec G304 - Key file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key encoding in %s", path)
}
