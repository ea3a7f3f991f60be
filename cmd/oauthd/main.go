// Command oauthd runs the authorization server as a standalone daemon with
// in-memory storage. Resource owner authentication is delegated to a trusted
// front proxy that asserts the subject in a request header; running without
// that proxy is only suitable for development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/quartzlabs/oauth"
	"github.com/quartzlabs/oauth/instrumentation"
	"github.com/quartzlabs/oauth/security"
	"github.com/quartzlabs/oauth/server"
	"github.com/quartzlabs/oauth/storage/memory"
)

type config struct {
	Addr           string        `env:"OAUTH_ADDR" envDefault:":8080"`
	Issuer         string        `env:"OAUTH_ISSUER" envDefault:"http://localhost:8080"`
	AccessTokenTTL time.Duration `env:"OAUTH_ACCESS_TOKEN_TTL" envDefault:"4h"`
	LogLevel       slog.Level    `env:"OAUTH_LOG_LEVEL" envDefault:"INFO"`
	LogFormat      string        `env:"OAUTH_LOG_FORMAT" envDefault:"json"`

	SubjectHeader string `env:"OAUTH_SUBJECT_HEADER" envDefault:"X-Subject"`

	RateLimitRPS   int  `env:"OAUTH_RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int  `env:"OAUTH_RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxy     bool `env:"OAUTH_TRUST_PROXY" envDefault:"false"`
	TrustedProxies int  `env:"OAUTH_TRUSTED_PROXY_COUNT" envDefault:"1"`

	AuditLog      bool          `env:"OAUTH_AUDIT_LOG" envDefault:"true"`
	OTELEnabled   bool          `env:"OAUTH_OTEL_ENABLED" envDefault:"false"`
	ShutdownGrace time.Duration `env:"OAUTH_SHUTDOWN_GRACE" envDefault:"10s"`
}

// headerSubjects resolves the resource owner from a header asserted by a
// trusted front proxy
type headerSubjects struct {
	header string
}

func (p headerSubjects) SubjectFromRequest(_ context.Context, r *http.Request) (*oauth.Subject, error) {
	subject := r.Header.Get(p.header)
	if subject == "" {
		return nil, nil
	}
	return &oauth.Subject{ID: subject, Username: subject}, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "oauthd:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "oauthd",
		ServiceVersion: "dev",
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return fmt.Errorf("initializing instrumentation: %w", err)
	}

	store := memory.New()
	store.SetLogger(logger.With("component", "storage"))
	store.SetInstrumentation(inst)

	srv, err := server.New(server.Config{
		Issuer:         cfg.Issuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
	}, store, store, store)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}
	srv.SetLogger(logger.With("component", "server"))
	srv.SetInstrumentation(inst)

	auditor := security.NewAuditor(logger.With("component", "audit"), cfg.AuditLog)
	srv.SetAuditor(auditor)

	limiter := security.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst,
		logger.With("component", "ratelimit"))
	defer limiter.Stop()

	httpHandler, err := oauth.NewHandler(srv, headerSubjects{header: cfg.SubjectHeader})
	if err != nil {
		return fmt.Errorf("initializing handler: %w", err)
	}
	httpHandler.SetLogger(logger.With("component", "http"))
	httpHandler.SetAuditor(auditor)
	httpHandler.SetRateLimiter(limiter)
	httpHandler.SetInstrumentation(inst)
	httpHandler.SetProxyTrust(cfg.TrustProxy, cfg.TrustedProxies)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting authorization server", "addr", cfg.Addr, "issuer", cfg.Issuer)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		logger.Warn("Instrumentation shutdown failed", "error", err)
	}
	return nil
}
