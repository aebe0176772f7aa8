package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/seca-recon/internal/api/middleware"
	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	sharedErrors "github.com/khanhnv2901/seca-recon/internal/shared/errors"
)

const maxRequestBody = 1 << 20

// ScanService is the orchestrator surface the API drives.
type ScanService interface {
	Start(ctx context.Context, cfg scan.Config) (string, error)
	Get(ctx context.Context, id string) (*scan.Scan, error)
	List(ctx context.Context) ([]*scan.Scan, error)
	Pause(ctx context.Context, id string) (*scan.Scan, error)
	Resume(ctx context.Context, id string) (*scan.Scan, error)
	Stop(ctx context.Context, id string) (*scan.Scan, error)
	Delete(ctx context.Context, id string) error
	Subscribe() (<-chan *scan.Scan, func())
	Active() int
}

type Config struct {
	Scans       ScanService
	Defaults    scan.Config // applied to fields a request leaves unset
	Gatherer    prometheus.Gatherer
	AuthToken   string
	Logger      *zap.Logger
	CORSOrigins []string // Allowed CORS origins (empty = allow all)
	RateLimit   int      // Requests per second per IP (0 = disabled)
	RateBurst   int      // Burst size for rate limiter
}

type Server struct {
	cfg      Config
	mux      *http.ServeMux
	limiters *rateLimiterMap
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		limiters: newRateLimiterMap(),
	}
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Apply middleware chain: RequestID -> Logging -> RateLimit -> CORS -> Auth -> Handler
	handler := middleware.RequestID(s.withLogging(s.withRateLimit(s.withCORS(s.mux))))
	handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.Handle("/api/v1/health", s.withAuth(http.HandlerFunc(s.handleHealth)))
	s.mux.Handle("/api/v1/modules", s.withAuth(http.HandlerFunc(s.handleModules)))
	s.mux.Handle("/api/v1/scans", s.withAuth(http.HandlerFunc(s.handleScans)))
	s.mux.Handle("/api/v1/scans/", s.withAuth(http.HandlerFunc(s.handleScanByID)))
	s.mux.Handle("/api/v1/scans-stream", s.withAuth(http.HandlerFunc(s.handleScanStream)))

	gatherer := s.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.mux.Handle("/metrics", s.withAuth(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	active := 0
	if s.cfg.Scans != nil {
		active = s.cfg.Scans.Active()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "active_scans": active})
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, moduleViews())
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		scans, err := s.cfg.Scans.List(r.Context())
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		items := make([]ScanSummary, 0, len(scans))
		for _, sc := range scans {
			if status := r.URL.Query().Get("status"); status != "" && string(sc.Status()) != status {
				continue
			}
			items = append(items, toScanSummary(sc))
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		cfg, err := s.scanConfig(req)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		id, err := s.cfg.Scans.Start(r.Context(), cfg)
		if err != nil {
			s.writeError(w, r, statusFor(err), err)
			return
		}
		created, err := s.cfg.Scans.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, statusFor(err), err)
			return
		}
		w.Header().Set("Location", "/api/v1/scans/"+id)
		writeJSON(w, http.StatusAccepted, NewScanView(created))
	default:
		s.methodNotAllowed(w, r)
	}
}

// handleScanByID serves /api/v1/scans/{id} and /api/v1/scans/{id}/{pause|resume|stop}.
func (s *Server) handleScanByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/scans/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, r, http.StatusNotFound, errors.New("scan ID required"))
		return
	}

	if action == "" {
		switch r.Method {
		case http.MethodGet:
			sc, err := s.cfg.Scans.Get(r.Context(), id)
			if err != nil {
				s.writeError(w, r, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, NewScanView(sc))
		case http.MethodDelete:
			if err := s.cfg.Scans.Delete(r.Context(), id); err != nil {
				s.writeError(w, r, statusFor(err), err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			s.methodNotAllowed(w, r)
		}
		return
	}

	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var control func(context.Context, string) (*scan.Scan, error)
	switch action {
	case "pause":
		control = s.cfg.Scans.Pause
	case "resume":
		control = s.cfg.Scans.Resume
	case "stop":
		control = s.cfg.Scans.Stop
	default:
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
		return
	}
	sc, err := control(r.Context(), id)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.requestLogger(r).Info("scan_control", zap.String("scan_id", id), zap.String("action", action))
	writeJSON(w, http.StatusOK, NewScanView(sc))
}

// handleScanStream emits a server-sent "scan" event for every persisted scan update.
// An optional ?id= restricts the stream to one scan.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	filter := r.URL.Query().Get("id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, unsubscribe := s.cfg.Scans.Subscribe()
	defer unsubscribe()
	ctx := r.Context()
	for {
		select {
		case sc, ok := <-updates:
			if !ok {
				return
			}
			if filter != "" && sc.ID() != filter {
				continue
			}
			payload, err := json.Marshal(NewScanView(sc))
			if err != nil {
				s.requestLogger(r).Error("failed to marshal scan", zap.Error(err))
				continue
			}
			if !s.writeStreamChunk(w, []byte("event: scan\n")) {
				return
			}
			if !s.writeStreamChunk(w, []byte("data: ")) {
				return
			}
			if !s.writeStreamChunk(w, payload) {
				return
			}
			if !s.writeStreamChunk(w, []byte("\n\n")) {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// scanConfig overlays the request on the server defaults.
func (s *Server) scanConfig(req ScanRequest) (scan.Config, error) {
	if strings.TrimSpace(req.Target) == "" {
		return scan.Config{}, sharedErrors.ErrEmptyTarget
	}
	cfg := s.cfg.Defaults
	cfg.Target = req.Target
	if len(req.Modules) > 0 {
		mods, err := recon.ParseModules(req.Modules)
		if err != nil {
			return scan.Config{}, fmt.Errorf("%w: %v", sharedErrors.ErrUnknownModule, err)
		}
		cfg.Modules = mods
	}
	if req.Threads > 0 {
		cfg.Threads = req.Threads
	}
	if req.TimeoutSecs > 0 {
		cfg.Timeout = time.Duration(req.TimeoutSecs) * time.Second
	}
	if req.Retries != nil {
		cfg.Retries = *req.Retries
	}
	if req.RetryDelayMS > 0 {
		cfg.RetryDelay = time.Duration(req.RetryDelayMS) * time.Millisecond
	}
	if req.PayloadLimit > 0 {
		cfg.PayloadLimit = req.PayloadLimit
	}
	if req.PacingMS != nil {
		cfg.Pacing = time.Duration(*req.PacingMS) * time.Millisecond
	}
	if len(req.Relays) > 0 {
		cfg.Relays = req.Relays
	}
	if len(req.Ports) > 0 {
		cfg.Ports = req.Ports
	}
	return cfg, nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sharedErrors.ErrScanNotFound):
		return http.StatusNotFound
	case errors.Is(err, sharedErrors.ErrInvalidTransition),
		errors.Is(err, sharedErrors.ErrScanNotPaused),
		errors.Is(err, sharedErrors.ErrScanNotRunning),
		errors.Is(err, sharedErrors.ErrScanFinished):
		return http.StatusConflict
	case errors.Is(err, sharedErrors.ErrEmptyTarget),
		errors.Is(err, sharedErrors.ErrNoModules),
		errors.Is(err, sharedErrors.ErrUnknownModule),
		errors.Is(err, sharedErrors.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip rate limiting if disabled
		if s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if !s.limiters.getLimiter(ip, s.cfg.RateLimit, s.cfg.RateBurst).Allow() {
			if s.cfg.Logger != nil {
				// Log with request context
				logger := s.requestLogger(r)
				logger.Warn("rate_limit_exceeded",
					zap.String("client_ip", ip),
				)
			}
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Determine if origin is allowed
		allowOrigin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			// Check if origin is in whitelist
			allowed := false
			for _, allowedOrigin := range s.cfg.CORSOrigins {
				if allowedOrigin == origin {
					allowed = true
					allowOrigin = origin
					break
				}
			}
			if !allowed {
				allowOrigin = ""
			}
		}

		// Set CORS headers
		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Process request
		next.ServeHTTP(lrw, r)

		// Log request details with request ID
		duration := time.Since(start)
		if s.cfg.Logger != nil {
			requestID := middleware.GetRequestID(r.Context())
			s.cfg.Logger.Info("http_request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", lrw.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("bytes", lrw.bytesWritten),
			)
		}
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		// Use constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code and bytes written
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += int64(n)
	return n, err
}

// Flush lets the scan stream push events through the logging wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// clientIP returns the first X-Forwarded-For hop, or the remote address without its port.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// Sanitize error messages to prevent information disclosure
	msg := err.Error()

	// For 5xx errors, return generic message and log details server-side
	if status >= 500 {
		if s.cfg.Logger != nil {
			// Log with request context
			logger := s.requestLogger(r)
			logger.Error("internal_server_error",
				zap.Error(err),
				zap.Int("status", status),
			)
		}
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger creates a logger with request context (request ID, method, path)
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if s.cfg.Logger == nil {
		return zap.NewNop()
	}

	requestID := middleware.GetRequestID(r.Context())
	return s.cfg.Logger.With(
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (s *Server) writeStreamChunk(w http.ResponseWriter, data []byte) bool {
	if _, err := w.Write(data); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("failed to write stream chunk", zap.Error(err))
		}
		return false
	}
	return true
}

// rateLimiterMap manages per-IP rate limiters with automatic cleanup
type rateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[string]*ipLimiter
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterMap() *rateLimiterMap {
	m := &rateLimiterMap{
		limiters: make(map[string]*ipLimiter),
	}
	// Start cleanup goroutine to remove stale limiters
	go m.cleanupLoop()
	return m
}

func (m *rateLimiterMap) getLimiter(ip string, rps, burst int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, exists := m.limiters[ip]
	if !exists {
		limiter = &ipLimiter{
			limiter:  rate.NewLimiter(rate.Limit(rps), burst),
			lastSeen: time.Now(),
		}
		m.limiters[ip] = limiter
	} else {
		limiter.lastSeen = time.Now()
	}

	return limiter.limiter
}

// cleanupLoop removes limiters that haven't been used in 5 minutes
func (m *rateLimiterMap) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		for ip, limiter := range m.limiters {
			if time.Since(limiter.lastSeen) > 5*time.Minute {
				delete(m.limiters, ip)
			}
		}
		m.mu.Unlock()
	}
}
