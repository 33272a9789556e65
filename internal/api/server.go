// Package api serves signed audits over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"feed-attestor/internal/config"
	"feed-attestor/internal/manifest"
	"feed-attestor/internal/service"
	"feed-attestor/internal/soul"
)

type ctxKey int

const requestIDKey ctxKey = iota

// Auditor produces one round of signed audits.
type Auditor interface {
	AuditAll(ctx context.Context) (service.Round, error)
}

// InferenceResponse is the body of GET /api/inference.
type InferenceResponse struct {
	Audits    []service.SignedAudit    `json:"audits"`
	Failures  []service.Failure        `json:"failures,omitempty"`
	Identity  string                   `json:"identity"`
	AgentID   string                   `json:"agent_id"`
	Soul      map[string]any           `json:"soul"`
	Artifacts map[string]soul.Artifact `json:"artifacts"`
}

// VerifyRequest is the body of POST /api/verify.
type VerifyRequest struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// VerifyResponse reports the recovered signer.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Signer string `json:"signer"`
}

// Server is the HTTP façade.
type Server struct {
	cfg      config.ServerConfig
	auditor  Auditor
	identity *manifest.Identity
	soul     *soul.Document
	metrics  http.Handler
	router   chi.Router
	server   *http.Server
	logger   zerolog.Logger
}

// New wires the routes. soulDoc and metricsHandler may be nil.
func New(cfg config.ServerConfig, auditor Auditor, identity *manifest.Identity, soulDoc *soul.Document, metricsHandler http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		auditor:  auditor,
		identity: identity,
		soul:     soulDoc,
		metrics:  metricsHandler,
		router:   chi.NewRouter(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogging)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.cors)
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	s.router.Get("/healthz", s.health)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}
	s.router.Route("/api", func(api chi.Router) {
		api.Get("/inference", s.inference)
		api.Post("/verify", s.verify)
	})
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("shutting down http server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) inference(w http.ResponseWriter, r *http.Request) {
	round, err := s.auditor.AuditAll(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("audit round failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := InferenceResponse{
		Audits:   round.Audits,
		Failures: round.Failures,
		Identity: s.identity.Address().Hex(),
		AgentID:  s.identity.AgentID(),
	}
	if resp.Audits == nil {
		resp.Audits = []service.SignedAudit{}
	}
	if s.soul != nil {
		resp.Soul = s.soul.AgentCard
	}
	resp.Artifacts = s.soul.Artifacts()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hashBytes, err := decodeHex(req.Hash)
	if err != nil || len(hashBytes) != common.HashLength {
		writeError(w, http.StatusBadRequest, "hash must be 32 hex bytes")
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature must be hex")
		return
	}
	if req.Address != "" && !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "address is not valid")
		return
	}

	signer, err := manifest.Recover(common.BytesToHash(hashBytes), sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature is not recoverable")
		return
	}

	expected := s.identity.Address()
	if req.Address != "" {
		expected = common.HexToAddress(req.Address)
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: signer == expected, Signer: signer.Hex()})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
