package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nftmint/internal/dapp"
	"nftmint/internal/hmacauth"
	"nftmint/internal/idempotency"
	"nftmint/internal/minting"
	"nftmint/internal/nft"
	"nftmint/internal/session"
	"nftmint/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	headerRequestID      = "X-Request-Id"

	mintIntent = "mint"
)

// Controller is the part of dapp.Controller the API drives.
type Controller interface {
	Snapshot() dapp.Snapshot
	Subscribe() (<-chan dapp.Snapshot, func())
	Connect(ctx context.Context) (session.Session, error)
	Mint(ctx context.Context) (common.Hash, error)
	Ping(ctx context.Context) error
}

type Options struct {
	HTTPPort          int
	HMACSecret        string
	HMACClockSkew     time.Duration
	IdempotencyWindow time.Duration
	// Clock stamps idempotency records and checks signatures.
	Clock clock.Clock
}

type Server struct {
	opts       Options
	ctrl       Controller
	store      idempotency.Store
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *Metrics
	dbHealthFn func(context.Context) error
}

func NewServer(opts Options, ctrl Controller, store idempotency.Store, metrics *Metrics) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.NewDefaultClock()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		opts:  opts,
		ctrl:  ctrl,
		store: store,
		hmac: &hmacauth.Verifier{
			Secret:  opts.HMACSecret,
			MaxSkew: opts.HMACClockSkew,
			Clock:   opts.Clock,
		},
		metrics: metrics,
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.Handle("POST /api/v1/connect", s.hmac.Middleware(http.HandlerFunc(s.handleConnect)))
	mux.Handle("POST /api/v1/mint", s.hmac.Middleware(http.HandlerFunc(s.handleMint)))
	mux.Handle("GET /api/v1/metrics", metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(opts.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	log.Infof("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

type connectResponse struct {
	Session  session.Session `json:"session"`
	Snapshot dapp.Snapshot   `json:"snapshot"`
}

type mintResponse struct {
	Status string `json:"status"`
	TxHash string `json:"txHash"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleEvents streams snapshots as server-sent events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, cancel := s.ctrl.Subscribe()
	defer cancel()
	s.metrics.streamClients.Inc()
	defer s.metrics.streamClients.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case snap := <-updates:
			b, err := json.Marshal(snap)
			if err != nil {
				log.Errorf("Encode snapshot: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, b); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ctrl.Connect(r.Context())
	if err != nil {
		status, code := classify(err)
		s.metrics.incIntent("connect", code)
		s.writeError(w, r, status, code, err)
		return
	}
	s.metrics.incIntent("connect", "ok")
	writeJSON(w, http.StatusOK, connectResponse{Session: sess, Snapshot: s.ctrl.Snapshot()})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, "missing_idempotency_key",
			fmt.Errorf("missing %s header", headerIdempotencyKey))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
		s.writeError(w, r, http.StatusBadRequest, "bad_request", errors.New("invalid json payload"))
		return
	}

	ctx := r.Context()
	scoped := idempotency.Key(mintIntent, s.ctrl.Snapshot().Account, key)
	fingerprint := idempotency.Fingerprint(body)

	existing, err := idempotency.Lookup(ctx, s.store, scoped, fingerprint)
	switch {
	case errors.Is(err, idempotency.ErrKeyReused):
		s.metrics.incIntent(mintIntent, "key_reused")
		s.writeError(w, r, http.StatusUnprocessableEntity, "key_reused", err)
		return
	case err != nil:
		log.Warnf("Idempotency lookup for %s failed: %v", scoped, err)
	case existing != nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incIntent(mintIntent, "cached")
		return
	}

	hash, err := s.ctrl.Mint(ctx)
	if err != nil {
		status, code := classify(err)
		s.metrics.incIntent(mintIntent, code)
		s.writeError(w, r, status, code, err)
		return
	}

	b, _ := json.Marshal(mintResponse{Status: "submitted", TxHash: hash.Hex()})
	now := s.opts.Clock.Now()
	record := idempotency.Record{
		StatusCode:  http.StatusAccepted,
		Response:    b,
		Fingerprint: fingerprint,
		TxHash:      hash.Hex(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.opts.IdempotencyWindow),
	}
	if err := s.store.Save(ctx, scoped, record); err != nil {
		log.Warnf("Unable to store mint response for %s: %v", scoped, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write(b)
	s.metrics.incIntent(mintIntent, "submitted")
}

// classify maps an intent failure onto an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, wallet.ErrUserRejected):
		return http.StatusForbidden, "user_rejected"
	case errors.Is(err, session.ErrNoAccounts):
		return http.StatusForbidden, "no_accounts"
	case errors.Is(err, minting.ErrNotConnected):
		return http.StatusPreconditionFailed, "not_connected"
	case errors.Is(err, minting.ErrWrongNetwork):
		return http.StatusPreconditionFailed, "wrong_network"
	case errors.Is(err, minting.ErrMintInProgress):
		return http.StatusConflict, "mint_in_progress"
	case errors.Is(err, nft.ErrSupplyExhausted):
		return http.StatusGone, "supply_exhausted"
	case errors.Is(err, nft.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	default:
		return http.StatusBadGateway, "failed"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: r.Header.Get(headerRequestID),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	walletInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	start := time.Now()
	walletCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ctrl.Ping(walletCtx); err != nil {
		walletInfo.Error = err.Error()
		// A missing wallet is a user condition, not a service fault.
		if !errors.Is(err, wallet.ErrProviderUnavailable) {
			overallHealthy = false
		}
	} else {
		walletInfo.Connected = true
		walletInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	snap := s.ctrl.Snapshot()
	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status     string      `json:"status"`
		Wallet     interface{} `json:"wallet"`
		Database   interface{} `json:"database"`
		MintStatus string      `json:"mint_status"`
	}{
		Status:     status,
		Wallet:     walletInfo,
		Database:   dbInfo,
		MintStatus: snap.Status,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}
