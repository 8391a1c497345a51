package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/brojonat/mintpass/service/config"
	"github.com/brojonat/mintpass/service/controller"
	"github.com/brojonat/mintpass/service/db"
	"github.com/brojonat/mintpass/service/metrics"
	"github.com/brojonat/mintpass/service/solana"
)

// SessionController is the part of the wallet session controller the API drives.
type SessionController interface {
	Snapshot() controller.Snapshot
	Connect(ctx context.Context, providerName string) error
	Disconnect(ctx context.Context) error
	RefreshBalance(ctx context.Context) (*solana.TokenBalanceSnapshot, error)
	Mint(ctx context.Context) (*controller.PaymentResult, error)
	Transfer(ctx context.Context, to solanago.PublicKey, amount decimal.Decimal) (*controller.PaymentResult, error)
	Subscribe(fn func(controller.Snapshot)) func()
}

// ReceiptLister reads stored mint receipts.
type ReceiptLister interface {
	ListMintsByOwner(ctx context.Context, owner, network string, limit int32) ([]*db.MintReceipt, error)
}

// Server represents the HTTP server for the wallet session API.
type Server struct {
	addr     string
	cfg      *config.Config
	ctrl     SessionController
	receipts ReceiptLister
	stream   *MintStream
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The receipts lister is optional - if nil, receipt endpoints won't be available.
// The stream is optional - if nil, mint streaming won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, ctrl SessionController, receipts ReceiptLister, stream *MintStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		cfg:      cfg,
		ctrl:     ctrl,
		receipts: receipts,
		stream:   stream,
		metrics:  m,
		logger:   logger,
	}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	// Session routes
	route("GET /api/v1/session", handleGetSession(s.ctrl))
	route("POST /api/v1/session/connect", handleConnect(s.ctrl, s.logger))
	route("POST /api/v1/session/disconnect", handleDisconnect(s.ctrl, s.logger))
	route("GET /api/v1/session/events", handleSessionEvents(s.ctrl, s.logger))

	// Balance routes
	route("GET /api/v1/balance", handleGetBalance(s.ctrl))
	route("POST /api/v1/balance/refresh", handleRefreshBalance(s.ctrl, s.logger))

	// Payment routes
	route("POST /api/v1/mint", handleMint(s.ctrl, s.logger))
	route("POST /api/v1/transfer", handleTransfer(s.ctrl, s.logger))
	route("GET /api/v1/mint/invoice", handleMintInvoice(s.cfg, s.logger))

	if s.receipts != nil {
		route("GET /api/v1/mints/{owner}", handleListMints(s.receipts, s.cfg.Network, s.logger))
	} else {
		s.logger.Warn("receipt store not configured, receipt endpoints disabled")
	}

	if s.stream != nil {
		route("GET /api/v1/stream/mints/{owner}", handleStreamMints(s.stream, s.logger))
		route("GET /api/v1/stream/mints", handleStreamMints(s.stream, s.logger))
		s.logger.Info("mint streaming endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Mint and transfer requests wait for on-chain confirmation, so the write
	// timeout covers a full polling budget. Streaming handlers clear it.
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the stream first (disconnects all streaming clients)
	if s.stream != nil {
		s.stream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
