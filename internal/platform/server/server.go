package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/valinor-ai/tenantry/internal/audit"
	"github.com/valinor-ai/tenantry/internal/platform/middleware"
	"github.com/valinor-ai/tenantry/internal/registry"
	"github.com/valinor-ai/tenantry/internal/tenancy"
)

// Pinger reports whether the registry store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Registry           Pinger
	TenantHandler      *registry.Handler
	AuditHandler       *audit.Handler
	Tenancy            func(http.Handler) http.Handler
	TenantPathPrefix   string
	Metrics            http.Handler
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

type Server struct {
	httpServer      *http.Server
	tenantMux       *http.ServeMux
	registry        Pinger
	handler         http.Handler
	shutdownTimeout time.Duration
}

func New(addr string, deps Dependencies) *Server {
	// Tenant-scoped routes; every request is bound to its tenant first.
	tenantMux := http.NewServeMux()
	tenantMux.HandleFunc("GET /api/v1/tenant", handleCurrentTenant)

	var tenantHandler http.Handler = tenantMux
	if deps.TenantPathPrefix != "" {
		tenantHandler = stripTenantPrefix(deps.TenantPathPrefix, tenantHandler)
	}
	if deps.Tenancy != nil {
		tenantHandler = deps.Tenancy(tenantHandler)
	}

	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		tenantMux:       tenantMux,
		registry:        deps.Registry,
		shutdownTimeout: deps.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	// Operational and management routes (no tenant binding)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		topMux.Handle("GET /metrics", deps.Metrics)
	}
	if deps.TenantHandler != nil {
		deps.TenantHandler.RegisterRoutes(topMux)
	}
	if deps.AuditHandler != nil {
		deps.AuditHandler.RegisterRoutes(topMux)
	}

	// All other routes are tenant-scoped
	topMux.Handle("/", tenantHandler)

	var handler http.Handler = chimw.Recoverer(topMux)
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// TenantMux returns the mux for tenant-scoped routes. Handlers registered
// here always run with a bound tenancy.Context.
func (s *Server) TenantMux() *http.ServeMux {
	return s.tenantMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "registry not connected",
		})
		return
	}

	if err := s.registry.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "registry ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleCurrentTenant describes the tenant the request was bound to.
func handleCurrentTenant(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenancy.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "no tenant bound"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":       tc.Tenant.Key,
		"name":      tc.Tenant.Name,
		"hostnames": tc.Tenant.Hostnames,
		"database":  tc.Connection.Database,
	})
}

// stripTenantPrefix removes /{prefix}/{key} from the path so tenant routes
// are registered the same way under every identification strategy.
func stripTenantPrefix(prefix string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest, ok := strings.CutPrefix(r.URL.Path, prefix)
		if ok {
			_, tail, _ := strings.Cut(rest, "/")
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/" + tail
			r2.URL.RawPath = ""
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
