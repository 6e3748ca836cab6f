package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"usvchain/core"
	"usvchain/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	txSeenTTL       = 15 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeDuplicateTx    = -32010
	codeRateLimited    = -32020
)

// Rate limit route keys.
const (
	RouteTransactions = "tx"
	RouteQueries      = "query"
)

// ServerConfig tunes the JSON-RPC endpoint.
type ServerConfig struct {
	Auth              middleware.AuthConfig
	RateLimits        map[string]middleware.RateLimit
	TrustProxyHeaders bool
	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Server exposes the node over JSON-RPC, the event websocket and /metrics.
type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter

	mu     sync.Mutex
	txSeen map[string]time.Time
	now    func() time.Time

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimits, cfg.TrustProxyHeaders, logger),
		txSeen:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Handler returns the full HTTP surface of the server.
func (s *Server) Handler() http.Handler {
	obs := middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "usvd", Module: "rpc"}, s.logger)
	mux := http.NewServeMux()
	mux.Handle("/", obs.Middleware("jsonrpc")(http.HandlerFunc(s.handle)))
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	cors := middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins})
	return otelhttp.NewHandler(cors(mux), "usvd-rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: durationOr(s.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       durationOr(s.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      durationOr(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       durationOr(s.cfg.IdleTimeout, 60*time.Second),
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("JSON-RPC server listening", slog.String("addr", listener.Addr().String()))
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	if s.node == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "node unavailable", nil)
		return
	}

	switch req.Method {
	case "usv_sendTransaction":
		if s.auth.Enabled() {
			ctx, status, authErr := s.auth.Authorize(r, "tx:submit")
			if authErr != nil {
				writeError(w, status, req.ID, codeUnauthorized, authErr.Error(), nil)
				return
			}
			r = r.WithContext(ctx)
		}
		if !s.limiter.Allow(RouteTransactions, r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "transaction rate limit exceeded", nil)
			return
		}
		s.handleSendTransaction(w, r, req)
		return
	}

	if !s.limiter.Allow(RouteQueries, r) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "query rate limit exceeded", nil)
		return
	}
	switch req.Method {
	case "usv_getProgramState":
		s.handleGetProgramState(w, r, req)
	case "usv_getParams":
		s.handleGetParams(w, r, req)
	case "usv_getBatch":
		s.handleGetBatch(w, r, req)
	case "usv_getClaim":
		s.handleGetClaim(w, r, req)
	case "usv_getStats":
		s.handleGetStats(w, r, req)
	case "usv_getBalance":
		s.handleGetBalance(w, r, req)
	case "usv_getNonce":
		s.handleGetNonce(w, r, req)
	case "usv_deriveAddresses":
		s.handleDeriveAddresses(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
}

// rememberTx reports whether hash is new within txSeenTTL.
func (s *Server) rememberTx(hash string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, seenAt := range s.txSeen {
		if now.Sub(seenAt) > txSeenTTL {
			delete(s.txSeen, h)
		}
	}
	if _, exists := s.txSeen[hash]; exists {
		return false
	}
	s.txSeen[hash] = now
	return true
}

func (s *Server) forgetTx(hash string) {
	s.mu.Lock()
	delete(s.txSeen, hash)
	s.mu.Unlock()
}
