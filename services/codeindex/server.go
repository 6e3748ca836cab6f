package codeindex

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"usvchain/native/rewards"
	"usvchain/rpc/middleware"
)

const ScopeRead = "codes:read"

// ServerConfig wires the lookup API.
type ServerConfig struct {
	Auth       middleware.AuthConfig
	RateLimit  middleware.RateLimit
	TrustProxy bool
}

// Server exposes read-only lookups over the index for partner tooling.
type Server struct {
	store  *Store
	logger *slog.Logger
	router http.Handler
}

func NewServer(store *Store, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{store: store, logger: logger}
	auth := middleware.NewAuthenticator(cfg.Auth, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{"codeindex": cfg.RateLimit}, cfg.TrustProxy, logger)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "usv-codeindex", Module: "codeindex"}, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1", func(api chi.Router) {
		if cfg.RateLimit.RequestsPerMinute > 0 {
			api.Use(limiter.Middleware("codeindex"))
		}
		api.Use(auth.Middleware(ScopeRead))
		api.With(obs.Middleware("codes.get")).Get("/codes/{hash}", srv.getCode)
		api.With(obs.Middleware("batches.codes")).Get("/batches/{address}/codes", srv.listBatch)
	})
	srv.router = r
	return srv
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) getCode(w http.ResponseWriter, r *http.Request) {
	hash, err := rewards.NormalizeQRHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	lookup, err := s.store.Lookup(r.Context(), hash)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusOK, &Lookup{Hash: hash})
		return
	}
	if err != nil {
		s.logger.Error("codeindex: lookup failed", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, lookup)
}

func (s *Server) listBatch(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeJSONError(w, http.StatusBadRequest, "batch address required")
		return
	}
	codes, err := s.store.BatchCodes(r.Context(), address)
	if err != nil {
		s.logger.Error("codeindex: batch listing failed", slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if len(codes) == 0 {
		writeJSONError(w, http.StatusNotFound, "batch not indexed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batch": address, "codes": codes})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
