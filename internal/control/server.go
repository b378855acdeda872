// Package control exposes the sniper over an HTTP control API.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"pumpsniper/internal/accounts"
	"pumpsniper/internal/config"
	"pumpsniper/internal/domain"
	"pumpsniper/internal/logging"
	"pumpsniper/internal/orchestrator"
	"pumpsniper/internal/storage"
)

// Sniper is the start/stop/status surface of the orchestrator.
type Sniper interface {
	Start(ctx context.Context) error
	Stop() error
	Status() orchestrator.Status
	MonitorState() domain.MonitorState
	Subscribe() (<-chan domain.TradeOutcome, func())
}

// ConfigStore reads and atomically rewrites config.yaml.
type ConfigStore interface {
	Load() (*config.Config, error)
	Update(fn func(*config.Config) error) (*config.Config, error)
}

// WalletStore manages the wallets the sniper trades with.
type WalletStore interface {
	Wallets(ctx context.Context) ([]accounts.WalletInfo, error)
	Add(ctx context.Context, secret string) (string, error)
	Generate(ctx context.Context) (string, error)
	Remove(ctx context.Context, id string) error
}

// BalanceSource looks up lamport balances.
type BalanceSource interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// AllowList is an externally managed contract allow-list.
type AllowList interface {
	Members(ctx context.Context) ([]string, error)
	Add(ctx context.Context, mints ...string) error
	Remove(ctx context.Context, mints ...string) error
	Replace(ctx context.Context, mints []string) error
}

// Options configures the control server.
type Options struct {
	Sniper   Sniper
	Config   ConfigStore
	Wallets  WalletStore
	Balances BalanceSource
	Outcomes storage.OutcomeStore

	// AllowList, when set, backs /api/contracts instead of config.yaml.
	AllowList AllowList
	// Metrics is served on /metrics when set.
	Metrics http.Handler

	AllowedOrigins []string // default: any origin
	Logger         *zap.Logger
}

// Server routes the control API.
type Server struct {
	opts    Options
	log     *zap.Logger
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router. Sniper, Config and Outcomes are required.
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Sniper == nil:
		return nil, errors.New("sniper is required")
	case opts.Config == nil:
		return nil, errors.New("config store is required")
	case opts.Outcomes == nil:
		return nil, errors.New("outcome store is required")
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		opts:   opts,
		log:    logging.OrNop(opts.Logger).Named("control"),
		router: mux.NewRouter(),
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	s.handler = c.Handler(s.logRequests(s.router))
	return s, nil
}

func (s *Server) setupRoutes() {
	// Routes sit on the root router so a method mismatch answers 405.
	r := s.router
	const prefix = "/api"

	r.HandleFunc(prefix+"/sniper/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc(prefix+"/sniper/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc(prefix+"/sniper/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc(prefix+"/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/config", s.handlePutConfig).Methods(http.MethodPut)

	r.HandleFunc(prefix+"/contracts", s.handleGetContracts).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/contracts", s.handlePutContracts).Methods(http.MethodPut)
	r.HandleFunc(prefix+"/contracts", s.handleAddContract).Methods(http.MethodPost)
	r.HandleFunc(prefix+"/contracts/{address}", s.handleRemoveContract).Methods(http.MethodDelete)

	r.HandleFunc(prefix+"/transactions", s.handleTransactions).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/transactions/stream", s.handleStream).Methods(http.MethodGet)

	r.HandleFunc(prefix+"/wallets", s.handleListWallets).Methods(http.MethodGet)
	r.HandleFunc(prefix+"/wallets", s.handleAddWallet).Methods(http.MethodPost)
	r.HandleFunc(prefix+"/wallets/{pubkey}", s.handleRemoveWallet).Methods(http.MethodDelete)

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack allows websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
