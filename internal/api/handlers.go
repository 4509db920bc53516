package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/tunnelpay/internal/apikey"
	"github.com/punchamoorthee/tunnelpay/internal/auth"
	"github.com/punchamoorthee/tunnelpay/internal/chain"
	"github.com/punchamoorthee/tunnelpay/internal/charge"
	"github.com/punchamoorthee/tunnelpay/internal/domain"
	"github.com/punchamoorthee/tunnelpay/internal/ledger"
	"github.com/punchamoorthee/tunnelpay/internal/settle"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tunnelpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store      ledger.Store
	authorizer *charge.Authorizer
	submitter  *settle.Submitter
	chain      chain.Client
	authn      auth.Authenticator
	price      uint64
	logger     *slog.Logger
}

func NewHandler(store ledger.Store, authorizer *charge.Authorizer, submitter *settle.Submitter, chainClient chain.Client, authn auth.Authenticator, price uint64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:      store,
		authorizer: authorizer,
		submitter:  submitter,
		chain:      chainClient,
		authn:      authn,
		price:      price,
		logger:     logger,
	}
}

// Register mounts all routes on the given router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/keys", h.withAuth(h.GenerateKey)).Methods("POST")
	r.HandleFunc("/tunnels", h.withAuth(h.RegisterTunnel)).Methods("POST")
	r.HandleFunc("/tunnels", h.withAuth(h.ListTunnels)).Methods("GET")
	r.HandleFunc("/tunnels/{id}", h.withAuth(h.GetTunnel)).Methods("GET")
	r.HandleFunc("/tunnels/{id}/balance", h.withAuth(h.Balance)).Methods("GET")
	r.HandleFunc("/tunnels/{id}/topup", h.withAuth(h.Topup)).Methods("POST")
	r.HandleFunc("/tunnels/{id}/charge", h.withAuth(h.Charge)).Methods("POST")
	r.HandleFunc("/tunnels/{id}/claim", h.withAuth(h.Claim)).Methods("POST")
	r.HandleFunc("/tunnels/{id}/close", h.withAuth(h.CloseTunnel)).Methods("POST")
}

type identityKey struct{}

func identityFrom(ctx context.Context) string {
	v, _ := ctx.Value(identityKey{}).(string)
	return v
}

func (h *Handler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			respondWithError(w, http.StatusUnauthorized, "Missing bearer token", r.Method, r.URL.Path)
			return
		}
		identity, err := h.authn.Authenticate(r.Context(), token)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Invalid bearer token", r.Method, r.URL.Path)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	}
}

// GenerateKey mints a fresh payer credential. The credential is returned
// exactly once and never stored.
func (h *Handler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	credential, pub, err := apikey.Generate()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Key generation failed", "POST", "/keys")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{
		"api_key":    credential,
		"hint":       apikey.Hint(credential),
		"public_key": base64.StdEncoding.EncodeToString(pub),
		"address":    apikey.Address(pub),
	}, "POST", "/keys")
}

type registerTunnelRequest struct {
	TunnelID       string `json:"tunnel_id"`
	PayerPublicKey string `json:"payer_public_key"`
	TotalDeposit   uint64 `json:"total_deposit"`
}

func (h *Handler) RegisterTunnel(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/tunnels"))
	defer timer.ObserveDuration()

	var req registerTunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/tunnels")
		return
	}
	if req.TunnelID == "" || req.PayerPublicKey == "" || req.TotalDeposit == 0 {
		respondWithError(w, http.StatusBadRequest, "Missing required fields", "POST", "/tunnels")
		return
	}

	id, err := domain.ParseTunnelID(req.TunnelID)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "Invalid tunnel id", "POST", "/tunnels")
		return
	}
	payerPub, err := base64.StdEncoding.DecodeString(req.PayerPublicKey)
	if err != nil || len(payerPub) != 32 {
		respondWithError(w, http.StatusUnprocessableEntity, "Invalid payer public key", "POST", "/tunnels")
		return
	}

	// Cross-check the on-chain object before mirroring it. A read failure is
	// tolerated (the fullnode may lag a fresh object), but a payer that does
	// not match the submitted key is a hard reject.
	if state, err := h.chain.ReadTunnel(r.Context(), id); err != nil {
		h.logger.Warn("could not verify on-chain tunnel", "tunnel", id.String(), "err", err)
	} else if state.Payer != apikey.Address(payerPub) {
		respondWithError(w, http.StatusUnprocessableEntity, "Tunnel payer does not match key", "POST", "/tunnels")
		return
	}

	t, err := h.store.Create(r.Context(), id, identityFrom(r.Context()), payerPub, req.TotalDeposit)
	if err != nil {
		if errors.Is(err, domain.ErrTunnelExists) {
			respondWithError(w, http.StatusConflict, "Tunnel already registered", "POST", "/tunnels")
			return
		}
		h.logger.Error("tunnel create failed", "tunnel", req.TunnelID, "err", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/tunnels")
		return
	}
	respondWithJSON(w, http.StatusCreated, tunnelView(t), "POST", "/tunnels")
}

func (h *Handler) ListTunnels(w http.ResponseWriter, r *http.Request) {
	tunnels, err := h.store.ListByOwner(r.Context(), identityFrom(r.Context()))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/tunnels")
		return
	}
	views := make([]map[string]any, 0, len(tunnels))
	for _, t := range tunnels {
		views = append(views, tunnelView(t))
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"tunnels": views}, "GET", "/tunnels")
}

// ownedTunnel loads the tunnel from the path and checks it belongs to the
// caller. Foreign tunnels read as not found.
func (h *Handler) ownedTunnel(w http.ResponseWriter, r *http.Request, endpoint string) (*domain.Tunnel, bool) {
	id, err := domain.ParseTunnelID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "Invalid tunnel id", r.Method, endpoint)
		return nil, false
	}
	t, err := h.store.Get(r.Context(), id)
	if err != nil || t.Owner != identityFrom(r.Context()) {
		respondWithError(w, http.StatusNotFound, "Tunnel not found", r.Method, endpoint)
		return nil, false
	}
	return t, true
}

func (h *Handler) GetTunnel(w http.ResponseWriter, r *http.Request) {
	t, ok := h.ownedTunnel(w, r, "/tunnels/{id}")
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, tunnelView(t), "GET", "/tunnels/{id}")
}

// Balance puts the on-chain escrow state next to the off-chain mirror so an
// operator can spot drift. The mirror half always renders; the on-chain half
// degrades to an error note when the fullnode read fails.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	t, ok := h.ownedTunnel(w, r, "/tunnels/{id}/balance")
	if !ok {
		return
	}

	view := map[string]any{
		"tunnel_id": t.ID.String(),
		"mirror": map[string]any{
			"total_deposited": t.TotalDeposited,
			"claimed_amount":  t.ClaimedAmount,
			"pending_amount":  t.PendingAmount,
			"nonce":           t.Nonce,
		},
	}
	if state, err := h.chain.ReadTunnel(r.Context(), t.ID); err != nil {
		h.logger.Warn("on-chain read failed", "tunnel", t.ID.String(), "err", err)
		view["error"] = "could not fetch on-chain data"
	} else {
		view["on_chain"] = map[string]any{
			"balance":            state.Balance,
			"cumulative_claimed": state.CumulativeClaimed,
			"nonce":              state.Nonce,
			"closing":            state.Closing,
		}
	}
	respondWithJSON(w, http.StatusOK, view, "GET", "/tunnels/{id}/balance")
}

type topupRequest struct {
	Amount uint64 `json:"amount"`
}

// Topup mirrors a confirmed on-chain deposit. Deduplicating replayed chain
// events is the watcher's job, not ours.
func (h *Handler) Topup(w http.ResponseWriter, r *http.Request) {
	t, ok := h.ownedTunnel(w, r, "/tunnels/{id}/topup")
	if !ok {
		return
	}
	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required", "POST", "/tunnels/{id}/topup")
		return
	}
	if err := h.store.ApplyTopup(r.Context(), t.ID, req.Amount); err != nil {
		h.logger.Error("topup failed", "tunnel", t.ID.String(), "err", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/tunnels/{id}/topup")
		return
	}
	updated, err := h.store.Get(r.Context(), t.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/tunnels/{id}/topup")
		return
	}
	respondWithJSON(w, http.StatusOK, tunnelView(updated), "POST", "/tunnels/{id}/topup")
}

type chargeRequest struct {
	Price uint64 `json:"price"`
}

func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/tunnels/{id}/charge"))
	defer timer.ObserveDuration()

	t, ok := h.ownedTunnel(w, r, "/tunnels/{id}/charge")
	if !ok {
		return
	}

	price := h.price
	if r.Body != nil {
		var req chargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Price > 0 {
			price = req.Price
		}
	}

	receipt, err := h.authorizer.Authorize(r.Context(), t.ID, price)
	if err != nil {
		var insufficient *domain.InsufficientBalanceError
		switch {
		case errors.As(err, &insufficient):
			respondWithJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":     "insufficient balance",
				"available": insufficient.Available,
				"required":  insufficient.Required,
			}, "POST", "/tunnels/{id}/charge")
		case errors.Is(err, domain.ErrTunnelNotActive):
			respondWithError(w, http.StatusConflict, "Tunnel is not active", "POST", "/tunnels/{id}/charge")
		default:
			h.logger.Error("charge failed", "tunnel", t.ID.String(), "err", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/tunnels/{id}/charge")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"request_id":        uuid.NewString(),
		"tunnel_id":         receipt.TunnelID.String(),
		"price":             receipt.Price,
		"cumulative_amount": receipt.Cumulative,
		"nonce":             receipt.Nonce,
		"signature":         base64.StdEncoding.EncodeToString(receipt.Signature),
	}, "POST", "/tunnels/{id}/charge")
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	t, ok := h.ownedTunnel(w, r, "/tunnels/{id}/claim")
	if !ok {
		return
	}
	result, err := h.submitter.Settle(r.Context(), t.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNothingToSettle):
			respondWithError(w, http.StatusUnprocessableEntity, "No pending amount to claim", "POST", "/tunnels/{id}/claim")
		case errors.Is(err, domain.ErrTunnelNotActive):
			respondWithError(w, http.StatusConflict, "Tunnel is closed", "POST", "/tunnels/{id}/claim")
		default:
			h.logger.Error("claim failed", "tunnel", t.ID.String(), "err", err)
			respondWithError(w, http.StatusBadGateway, "Settlement failed", "POST", "/tunnels/{id}/claim")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"digest":         result.Digest,
		"tunnel_id":      result.TunnelID.String(),
		"claimed_amount": result.Claimed,
	}, "POST", "/tunnels/{id}/claim")
}

func (h *Handler) CloseTunnel(w http.ResponseWriter, r *http.Request) {
	t, ok := h.ownedTunnel(w, r, "/tunnels/{id}/close")
	if !ok {
		return
	}
	result, err := h.submitter.Close(r.Context(), t.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			respondWithError(w, http.StatusConflict, "Tunnel already closed", "POST", "/tunnels/{id}/close")
		default:
			h.logger.Error("close failed", "tunnel", t.ID.String(), "err", err)
			respondWithError(w, http.StatusBadGateway, "Close failed", "POST", "/tunnels/{id}/close")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"digest":    result.Digest,
		"tunnel_id": result.TunnelID.String(),
	}, "POST", "/tunnels/{id}/close")
}

func tunnelView(t *domain.Tunnel) map[string]any {
	return map[string]any{
		"tunnel_id":         t.ID.String(),
		"total_deposited":   t.TotalDeposited,
		"claimed_amount":    t.ClaimedAmount,
		"pending_amount":    t.PendingAmount,
		"available_balance": t.Available(),
		"nonce":             t.Nonce,
		"status":            t.Status,
		"created_at":        t.CreatedAt,
	}
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
