// Package server hosts the HTTP + WebSocket API: public market data, trading
// and funding endpoints keyed by the caller's account header, and key-gated
// administrative controls.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mktsim/mktsim/internal/server/handler"
	"github.com/mktsim/mktsim/internal/server/middleware"
	"github.com/mktsim/mktsim/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, admin routes are unprotected
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Instruments *handler.InstrumentHandler
	Orders      *handler.OrderHandler
	Accounts    *handler.AccountHandler
	Funding     *handler.FundingHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (identity, logging, CORS) wired. Admin routes additionally pass
// through key authentication.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	adminOnly := middleware.AdminAuth(cfg.AdminAPIKey)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Public market data.
	mux.HandleFunc("GET /api/instruments", handlers.Instruments.ListInstruments)
	mux.HandleFunc("GET /api/instruments/{id}", handlers.Instruments.GetInstrument)
	mux.HandleFunc("GET /api/instruments/{id}/bars", handlers.Instruments.ListBars)

	// Trading, keyed by the caller's account.
	mux.HandleFunc("POST /api/orders", handlers.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)

	// Account reads.
	mux.HandleFunc("GET /api/account", handlers.Accounts.GetAccount)
	mux.HandleFunc("GET /api/account/holdings", handlers.Accounts.ListHoldings)
	mux.HandleFunc("GET /api/account/ledger", handlers.Accounts.ListLedger)

	// Funding.
	mux.HandleFunc("POST /api/deposits", handlers.Funding.CreateDeposit)
	mux.HandleFunc("GET /api/deposits", handlers.Funding.ListDeposits)
	mux.HandleFunc("POST /api/deposits/{id}/confirm", handlers.Funding.ConfirmDeposit)
	mux.HandleFunc("POST /api/withdrawals", handlers.Funding.SubmitWithdrawal)
	mux.HandleFunc("GET /api/withdrawals", handlers.Funding.ListWithdrawals)

	// Administrative controls, key gated.
	mux.Handle("POST /api/admin/instruments/{id}/price", adminOnly(http.HandlerFunc(handlers.Instruments.AdjustPrice)))
	mux.Handle("PUT /api/admin/instruments/{id}/strategy", adminOnly(http.HandlerFunc(handlers.Instruments.SetStrategy)))
	mux.Handle("POST /api/admin/deposits/{id}/review", adminOnly(http.HandlerFunc(handlers.Funding.ReviewDeposit)))
	mux.Handle("POST /api/admin/withdrawals/{id}/review", adminOnly(http.HandlerFunc(handlers.Funding.ReviewWithdrawal)))

	// Live quote feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Identity()(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for the allowed origins. No configured
// origins means allow all.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Account-ID")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
