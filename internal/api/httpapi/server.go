package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	domain "github.com/forgestamp/forgestamp/internal/domain/release"
	"github.com/forgestamp/forgestamp/internal/logger"
)

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	PublishRelease(ctx context.Context, actor *domain.Actor, stamp domain.Stamp, checksums map[string]string) (*domain.Release, error)
	LatestRelease(ctx context.Context) (*domain.Release, error)
	ListReleases(ctx context.Context, limit int) ([]*domain.Release, error)
	RecordCheckIn(ctx context.Context, checkIn *domain.CheckIn) (*domain.CheckIn, *domain.Release, error)
	ListAgents(ctx context.Context) ([]*domain.CheckIn, error)
}

// Options carries the transport settings of the registry API.
type Options struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string
	// AuthUsername and AuthPassword guard the mutating endpoints with
	// HTTP Basic Auth when both are non-empty.
	AuthUsername string
	AuthPassword string
}

// Server exposes the registry service over HTTP.
type Server struct {
	opts       Options
	service    Service
	router     chi.Router
	httpServer *http.Server
}

const (
	// requestTimeout bounds a single API request.
	requestTimeout = 30 * time.Second
	// maxBodyBytes bounds request bodies; manifests stay well under it.
	maxBodyBytes = 1 << 20
)

// NewServer wires the provided service implementation into an HTTP handler.
func NewServer(service Service, opts Options) *Server {
	s := &Server{
		opts:    opts,
		service: service,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/release/latest", s.handleLatestRelease)
		r.Get("/releases", s.handleListReleases)
		r.Get("/agents", s.handleListAgents)

		// Mutating endpoints, optionally behind Basic Auth.
		r.Group(func(r chi.Router) {
			if s.opts.AuthUsername != "" {
				r.Use(s.basicAuthMiddleware)
			}

			r.Post("/releases", s.handlePublishRelease)
			r.Post("/checkins", s.handleRecordCheckIn)
		})
	})

	s.router = r
}

// Start runs the HTTP server until the context is canceled or the listener
// fails. Request contexts derive from ctx, so scoped loggers travel into
// the handlers.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	logger.InfoKV(ctx, "Starting registry API", "listen", s.opts.ListenAddress)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router, useful for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggingMiddleware logs every request with its status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logger.DebugKV(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// basicAuthMiddleware implements HTTP Basic Authentication with
// constant-time credential comparison.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w)

			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(s.opts.AuthUsername)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.AuthPassword)) == 1

		if !userMatch || !passMatch {
			logger.WarnKV(r.Context(), "Authentication failed",
				"user", user,
				"remote", r.RemoteAddr,
			)
			s.unauthorized(w)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// unauthorized sends a 401 response with the WWW-Authenticate header.
func (s *Server) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="forgestamp registry"`)
	s.writeError(w, http.StatusUnauthorized, "credentials required")
}
