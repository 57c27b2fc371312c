// Package api provides the HTTP server for the course catalog.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/amillerrr/lms-catalog/internal/auth"
	"github.com/amillerrr/lms-catalog/internal/config"
	"github.com/amillerrr/lms-catalog/internal/health"
)

// Server configuration constants
const (
	ReadTimeout       = 30 * time.Minute // large video uploads
	ReadHeaderTimeout = 10 * time.Second
	WriteTimeout      = 35 * time.Minute
	IdleTimeout       = 120 * time.Second
	MaxHeaderBytes    = 1 << 20 // 1 MB
)

// Server represents the HTTP server for the API.
type Server struct {
	httpServer  *http.Server
	cfg         *config.Config
	log         *slog.Logger
	rateLimiter *auth.RateLimiter
}

// ServerConfig holds dependencies for the server.
type ServerConfig struct {
	Config        *config.Config
	Logger        *slog.Logger
	Catalog       Catalog
	Admins        AdminStore
	JWTService    *auth.JWTService
	RateLimiter   *auth.RateLimiter
	HealthChecker *health.Checker
}

// NewServer creates a new API server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Catalog == nil || cfg.Admins == nil || cfg.JWTService == nil || cfg.HealthChecker == nil {
		return nil, errors.New("api: catalog, admins, JWT service and health checker are required")
	}

	handlers := NewHandlers(&HandlersConfig{
		Config:      cfg.Config,
		Logger:      cfg.Logger,
		Catalog:     cfg.Catalog,
		Admins:      cfg.Admins,
		JWTService:  cfg.JWTService,
		RateLimiter: cfg.RateLimiter,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Config.API.Port,
		Handler:           NewRouter(handlers, cfg.JWTService, cfg.RateLimiter, cfg.HealthChecker),
		ReadTimeout:       ReadTimeout,
		ReadHeaderTimeout: ReadHeaderTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		MaxHeaderBytes:    MaxHeaderBytes,
	}

	return &Server{
		httpServer:  httpServer,
		cfg:         cfg.Config,
		log:         cfg.Logger,
		rateLimiter: cfg.RateLimiter,
	}, nil
}

// NewRouter builds the routed, instrumented handler tree.
func NewRouter(h *Handlers, jwtService *auth.JWTService, rl *auth.RateLimiter, checker *health.Checker) http.Handler {
	required := jwtService.Middleware(rl)
	optional := jwtService.OptionalMiddleware

	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", checker.Handler())
	mux.HandleFunc("GET /health/deep", checker.DeepHandler())
	mux.Handle("GET /metrics", internalOnlyMiddleware(promhttp.Handler()))

	// Auth
	mux.HandleFunc("POST /api/auth/login", h.LoginHandler)
	mux.HandleFunc("GET /api/auth/profile", required(h.ProfileHandler))
	mux.HandleFunc("GET /api/auth/verify", required(h.VerifyHandler))
	mux.HandleFunc("PUT /api/auth/change-password", required(h.ChangePasswordHandler))

	// Courses
	mux.HandleFunc("GET /api/courses", optional(h.ListCoursesHandler))
	mux.HandleFunc("GET /api/courses/{id}", optional(h.GetCourseHandler))
	mux.HandleFunc("POST /api/courses", required(h.CreateCourseHandler))
	mux.HandleFunc("PUT /api/courses/reorder", required(h.ReorderCoursesHandler))
	mux.HandleFunc("PUT /api/courses/{id}", required(h.UpdateCourseHandler))
	mux.HandleFunc("DELETE /api/courses/{id}", required(h.DeleteCourseHandler))
	mux.HandleFunc("POST /api/courses/{id}/thumbnail", required(h.UploadThumbnailHandler))

	// Videos
	mux.HandleFunc("GET /api/videos/course/{courseId}", optional(h.ListVideosHandler))
	mux.HandleFunc("GET /api/videos/{id}", optional(h.GetVideoHandler))
	mux.HandleFunc("POST /api/videos", required(h.CreateVideoHandler))
	mux.HandleFunc("POST /api/videos/upload", required(h.UploadVideoHandler))
	mux.HandleFunc("POST /api/videos/{id}/notes", required(h.UploadNotesHandler))
	mux.HandleFunc("DELETE /api/videos/{id}/notes", required(h.RemoveNotesHandler))
	mux.HandleFunc("PUT /api/videos/reorder", required(h.ReorderVideosHandler))
	mux.HandleFunc("PUT /api/videos/{id}", required(h.UpdateVideoHandler))
	mux.HandleFunc("DELETE /api/videos/{id}", required(h.DeleteVideoHandler))

	handler := CORSMiddleware(h.cfg.CORS.AllowedOrigins)(MetricsMiddleware(mux))
	return otelhttp.NewHandler(handler, "lms-api")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("Starting API server", "port", s.cfg.API.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server...")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// Private networks for internal-only middleware
var privateNetworks = []net.IPNet{
	{IP: net.ParseIP("10.0.0.0"), Mask: net.CIDRMask(8, 32)},
	{IP: net.ParseIP("172.16.0.0"), Mask: net.CIDRMask(12, 32)},
	{IP: net.ParseIP("192.168.0.0"), Mask: net.CIDRMask(16, 32)},
	{IP: net.ParseIP("127.0.0.0"), Mask: net.CIDRMask(8, 32)},
}

// internalOnlyMiddleware restricts access to internal networks.
func internalOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deny if X-Forwarded-For is present (came through load balancer)
		if r.Header.Get("X-Forwarded-For") != "" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		// Verify connection is from internal network
		if isInternalRequest(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}

// isInternalRequest checks if the request is from an internal network.
func isInternalRequest(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return ip.IsLoopback()
}
