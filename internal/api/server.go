// Package api exposes the privileged operations over authenticated HTTP.
// Every request flows rate limiter, authenticator, validator, service,
// executor, audit; any stage can short-circuit to a typed failure that
// is itself audited.
package api

import (
	"context"
	stdtls "crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luigi-home/luigid/internal/audit"
	"github.com/luigi-home/luigid/internal/auth"
	"github.com/luigi-home/luigid/internal/clock"
	"github.com/luigi-home/luigid/internal/config"
	"github.com/luigi-home/luigid/internal/health"
	"github.com/luigi-home/luigid/internal/logging"
	"github.com/luigi-home/luigid/internal/metrics"
	"github.com/luigi-home/luigid/internal/modules"
	"github.com/luigi-home/luigid/internal/ratelimit"
	"github.com/luigi-home/luigid/internal/registry"
	"github.com/luigi-home/luigid/internal/system"
	"github.com/luigi-home/luigid/internal/tls"
)

// ServerConfig holds HTTP server hardening settings.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns the default server hardening settings.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 20,
	}
}

// Server handles API requests.
type Server struct {
	cfg        *config.Config
	srvCfg     *ServerConfig
	logger     *logging.Logger
	auth       *auth.Authenticator
	limiter    *ratelimit.Limiter
	auditor    *audit.Logger
	auditStore *audit.Store
	modules    *modules.Service
	system     *system.Service
	registry   *registry.Registry
	checker    *health.Checker
	registryM  *metrics.Registry
	startTime  time.Time

	httpSrv *http.Server
	mux     *http.ServeMux
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Config     *config.Config
	Logger     *logging.Logger
	Auth       *auth.Authenticator
	Limiter    *ratelimit.Limiter
	Auditor    *audit.Logger
	AuditStore *audit.Store
	Modules    *modules.Service
	System     *system.Service
	Registry   *registry.Registry
	Checker    *health.Checker
	Metrics    *metrics.Registry
	ServerCfg  *ServerConfig
}

// NewServer creates the API server and wires its routes.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	srvCfg := opts.ServerCfg
	if srvCfg == nil {
		srvCfg = DefaultServerConfig()
	}
	registryM := opts.Metrics
	if registryM == nil {
		registryM = metrics.Get()
	}

	s := &Server{
		cfg:        opts.Config,
		srvCfg:     srvCfg,
		logger:     logger.WithComponent("api"),
		auth:       opts.Auth,
		limiter:    opts.Limiter,
		auditor:    opts.Auditor,
		auditStore: opts.AuditStore,
		modules:    opts.Modules,
		system:     opts.System,
		registry:   opts.Registry,
		checker:    opts.Checker,
		registryM:  registryM,
		startTime:  clock.Now(),
	}

	s.initRoutes()
	return s
}

// initRoutes initializes the HTTP router.
func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	// Public endpoints (rate-limited, no auth)
	mux.HandleFunc("GET /healthz", s.public(s.checker.Handler()))

	// Authenticated read endpoints
	mux.Handle("GET /metrics", s.protect(promhttp.Handler().ServeHTTP))
	mux.HandleFunc("GET /api/modules", s.protect(s.handleListModules))
	mux.HandleFunc("GET /api/modules/{name}", s.protect(s.handleModuleStatus))
	mux.HandleFunc("GET /api/system/metrics", s.protect(s.handleSystemMetrics))
	mux.HandleFunc("GET /api/audit", s.protect(s.handleAuditQuery))
	mux.HandleFunc("GET /api/logs", s.protect(s.handleLogs))
	mux.HandleFunc("GET /api/logs/stream", s.protect(s.handleLogStream))
	mux.HandleFunc("GET /api/config/modules", s.protect(s.handleRegistryShow))

	// Authenticated mutating endpoints (sensitive tier)
	mux.HandleFunc("POST /api/modules/{name}/start", s.sensitive(s.handleModuleStart))
	mux.HandleFunc("POST /api/modules/{name}/stop", s.sensitive(s.handleModuleStop))
	mux.HandleFunc("POST /api/modules/{name}/restart", s.sensitive(s.handleModuleRestart))
	mux.HandleFunc("POST /api/system/reboot", s.sensitive(s.handleSystemVerb(system.VerbReboot)))
	mux.HandleFunc("POST /api/system/shutdown", s.sensitive(s.handleSystemVerb(system.VerbShutdown)))
	mux.HandleFunc("POST /api/system/update", s.sensitive(s.handleSystemVerb(system.VerbUpdate)))
	mux.HandleFunc("POST /api/system/cleanup", s.sensitive(s.handleSystemVerb(system.VerbCleanup)))
	mux.HandleFunc("POST /api/config/modules/diff", s.sensitive(s.handleRegistryDiff))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server, with TLS when configured. A
// plaintext listener is an explicit misconfiguration that is warned
// about, not refused, so first-boot setups can still reach the API.
func (s *Server) ListenAndServe(ctx context.Context, tlsCert *stdtls.Certificate) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.mux,
		ReadHeaderTimeout: s.srvCfg.ReadHeaderTimeout,
		ReadTimeout:       s.srvCfg.ReadTimeout,
		WriteTimeout:      s.srvCfg.WriteTimeout,
		IdleTimeout:       s.srvCfg.IdleTimeout,
		MaxHeaderBytes:    s.srvCfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if tlsCert != nil {
			s.httpSrv.TLSConfig = tls.ServerConfig(tlsCert)
			s.logger.Info("listening", "addr", s.cfg.Listen, "tls", true)
			errCh <- s.httpSrv.ListenAndServeTLS("", "")
		} else {
			s.logger.Warn("TLS is not configured, credentials will cross the network in plaintext", "addr", s.cfg.Listen)
			errCh <- s.httpSrv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
