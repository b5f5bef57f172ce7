package scan

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/invoice-scanner/internal/auth"
)

const sessionCookieName = "session"

type contextKey struct{}

// Server handles HTTP requests for scans and sessions
type Server struct {
	service      *Service
	auth         *auth.Service
	mux          *http.ServeMux
	secureCookie bool
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, authService *auth.Service) *Server {
	return NewServerWithMux(service, authService, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, authService *auth.Service, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		auth:    authService,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// SetSecureCookie marks the session cookie Secure, for deployments behind TLS
func (s *Server) SetSecureCookie(secure bool) {
	s.secureCookie = secure
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers and records request metrics
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		// The mux fills in the matched pattern, which keeps label cardinality bounded
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, http.StatusText(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// sessionToken reads the token from the session cookie or a Bearer header
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, "Sign in required", http.StatusUnauthorized)
			return
		}
		claims, err := s.auth.Validate(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				slog.Error("Error validating session", "error", err)
			}
			writeError(w, "Session expired, please sign in again", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	}
}

// requireAdmin middleware
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !claimsFrom(r).Admin {
			writeError(w, "Admin access required", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

// claimsFrom returns the session attached by requireAuth
func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(contextKey{}).(*auth.Claims)
	return claims
}

// handleControllers serves controller JavaScript files with correct MIME type
func (s *Server) handleControllers(w http.ResponseWriter, r *http.Request) {
	fileServer := http.FileServer(http.FS(getControllersFS()))

	if strings.HasSuffix(r.URL.Path, ".js") {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	}
	// Strip the /static/controllers/ prefix to get just the filename
	r.URL.Path = strings.TrimPrefix(r.URL.Path, "/static/controllers/")
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}
	fileServer.ServeHTTP(w, r)
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Static files are public so the sign-in page can load
	s.mux.HandleFunc("GET /static/controllers/", s.handleControllers)
	s.mux.HandleFunc("GET /static/app.css", s.handleStaticCSS)
	s.mux.HandleFunc("GET /static/app.js", s.handleStaticJS)

	s.mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/auth/session", s.requireAuth(s.handleSession))

	s.mux.HandleFunc("GET /api/scans/{id}/image", s.requireAuth(s.handleGetScanImage))
	s.mux.HandleFunc("GET /api/scans/{id}/fields", s.requireAuth(s.handleExportFields))
	s.mux.HandleFunc("GET /api/scans/{id}", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("DELETE /api/scans/{id}", s.requireAuth(s.handleDeleteScan))
	s.mux.HandleFunc("GET /api/scans", s.requireAuth(s.handleListScans))
	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleUploadScan))
	s.mux.HandleFunc("POST /api/extract", s.requireAuth(s.handleExtract))

	s.mux.HandleFunc("GET /api/admin/scans/export.xlsx", s.requireAdmin(s.handleExportXLSX))
	s.mux.HandleFunc("GET /api/admin/scans", s.requireAdmin(s.handleListAllScans))

	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.handleIndex)
	s.mux.HandleFunc("GET /", s.handleIndex)
}

// Handler returns the mux wrapped in the CORS and metrics middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
