package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
)

// setupRoutes registers all HTTP routes and middleware
func (s *Server) setupRoutes() (http.Handler, error) {
	mux := http.NewServeMux()

	limit, err := s.loginLimiter()
	if err != nil {
		return nil, err
	}

	// Root endpoint
	mux.HandleFunc("/", s.handleRoot)

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/health", s.handleStats)
	mux.Handle("/metrics", s.metrics.Handler())

	// Registration and login
	mux.HandleFunc("/api/register", s.postOnly(s.handleRegister))
	mux.HandleFunc("/api/register/voice", s.postOnly(s.handleRegisterVoice))
	mux.Handle("/api/login", limit(s.postOnly(s.handleLogin)))
	mux.Handle("/api/login/voice", limit(s.postOnly(s.handleLoginVoice)))
	mux.Handle("/api/login/features", limit(s.postOnly(s.handleLoginFeatures)))
	mux.Handle("/api/verify", limit(s.postOnly(s.handleVerify)))

	// Catalog endpoints
	mux.HandleFunc("/api/products", s.handleProducts)
	mux.HandleFunc("/api/products/", s.handleProduct)

	// Session endpoints
	mux.HandleFunc("/api/voice-command", s.postOnly(s.handleVoiceCommand))
	mux.HandleFunc("/api/cart", s.handleCart)
	mux.HandleFunc("/api/cart/add", s.postOnly(s.handleCartItem(intent.AddToCart)))
	mux.HandleFunc("/api/cart/remove", s.postOnly(s.handleCartItem(intent.RemoveFromCart)))
	mux.HandleFunc("/api/cart/clear", s.postOnly(s.handleCartClear))
	mux.HandleFunc("/api/checkout", s.postOnly(s.handleCheckout))
	mux.HandleFunc("/api/logout", s.postOnly(s.handleLogout))
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	// Back office
	mux.HandleFunc("/api/users", s.handleListUsers)
	mux.HandleFunc("/api/sales", s.handleListSales)

	// Wrap with CORS middleware
	return corsMiddleware(s.config.AllowedOrigins)(mux), nil
}

// loginLimiter throttles voice verification per client IP
func (s *Server) loginLimiter() (func(http.Handler) http.Handler, error) {
	if s.config.LoginRate == "" {
		return func(h http.Handler) http.Handler { return h }, nil
	}
	rate, err := limiter.NewRateFromFormatted(s.config.LoginRate)
	if err != nil {
		return nil, fmt.Errorf("invalid login rate %q: %w", s.config.LoginRate, err)
	}
	mw := stdlib.NewMiddleware(limiter.New(memory.NewStore(), rate))
	return mw.Handler, nil
}

func originAllowed(allowedOrigins []string, origin string) bool {
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		return true
	}
	for _, allowedOrigin := range allowedOrigins {
		if allowedOrigin == origin {
			return true
		}
	}
	return false
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := originAllowed(allowedOrigins, origin)
			if wildcard {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(wrapped, r)

		logger.GetLogger().Named("http").Infof("%s %s from %s -> %d (%s)",
			r.Method, r.URL.Path, getClientIP(r), wrapped.statusCode, time.Since(start).Round(time.Millisecond))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Start serves until ctx is canceled, then drains in-flight requests
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.setupRoutes()
	if err != nil {
		return err
	}
	if s.config.LogRequests {
		handler = loggingMiddleware(handler)
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Infof("🚀 VoxCart server starting on %s", addr)
	s.log.Infof("   Database: %s", s.config.DBPath)
	s.log.Infof("   Sample Rate: %d Hz", s.config.SampleRate)
	s.log.Infof("   Threshold: %.1f", s.config.Threshold)
	s.log.Infof("   CORS Origins: %v", s.config.AllowedOrigins)
	s.log.Infof("\nEndpoints:")
	s.log.Infof("   POST   /api/register            - Start voice registration")
	s.log.Infof("   POST   /api/register/voice      - Submit an enrollment sample")
	s.log.Infof("   POST   /api/login               - Start voice login")
	s.log.Infof("   POST   /api/login/voice         - Submit a login sample")
	s.log.Infof("   POST   /api/login/features      - Submit a client MFCC vector (WASM)")
	s.log.Infof("   POST   /api/voice-command       - Run a spoken or typed command")
	s.log.Infof("   GET    /api/cart                - Show the session cart")
	s.log.Infof("   POST   /api/checkout            - Finish the purchase")
	s.log.Infof("   GET    /api/products            - List the catalog")
	s.log.Infof("   GET    /api/ws                  - Session prompts over websocket")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infof("🛑 Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
