package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mongoadapter "github.com/robertarktes/wifi-access-tickets/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/wifi-access-tickets/internal/adapters/redis"
	"github.com/robertarktes/wifi-access-tickets/internal/config"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/robertarktes/wifi-access-tickets/internal/engine"
	"github.com/robertarktes/wifi-access-tickets/internal/idempotency"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
)

type Handlers struct {
	cfg      *config.Config
	engine   *engine.Engine
	idemp    *idempotency.Idempotency
	audit    *mongoadapter.AuditLogger
	bindings *redisadapter.Bindings
}

// NewHandlers wires the engine behind the HTTP surface. audit and bindings
// may be nil when Mongo/Redis are not configured.
func NewHandlers(cfg *config.Config, eng *engine.Engine, idemp *idempotency.Idempotency, audit *mongoadapter.AuditLogger, bindings *redisadapter.Bindings) *Handlers {
	return &Handlers{
		cfg:      cfg,
		engine:   eng,
		idemp:    idemp,
		audit:    audit,
		bindings: bindings,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientPayment):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrNotAuthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrAlreadyActivated):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func ticketIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func walletParam(r *http.Request) (domain.Address, error) {
	return domain.ParseAddress(chi.URLParam(r, "wallet"))
}

func (h *Handlers) Mint(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	caller, ok := CallerWallet(r.Context())
	if !ok {
		http.Error(w, "missing X-Wallet-Address", http.StatusUnauthorized)
		return
	}

	var req struct {
		Quantity int    `json:"quantity"`
		Payment  string `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payment, err := domain.ParseWei(req.Payment)
	if err != nil {
		http.Error(w, "invalid payment", http.StatusBadRequest)
		return
	}

	ids, err := h.engine.Mint(r.Context(), caller, req.Quantity, payment)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientPayment) {
			observability.MintRejections.WithLabelValues("insufficient_payment").Inc()
		} else if errors.Is(err, domain.ErrInvalidInput) {
			observability.MintRejections.WithLabelValues("invalid_input").Inc()
		}
		writeDomainError(w, err)
		return
	}
	observability.TicketsMinted.Add(float64(len(ids)))

	if h.audit != nil {
		h.audit.LogMint(r.Context(), caller, ids, payment.Dec())
	}

	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ticket_ids": ids,
	})
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerWallet(r.Context())
	if !ok {
		http.Error(w, "missing X-Wallet-Address", http.StatusUnauthorized)
		return
	}
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if err := h.engine.Activate(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}
	observability.TicketsActivated.Inc()

	t, err := h.engine.Ticket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogActivation(r.Context(), t)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id":    t.ID,
		"activated_at": t.ActivatedAt.UTC().Format(time.RFC3339),
		"expires_at":   t.ActivatedAt.Add(t.Duration).UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerWallet(r.Context())
	if !ok {
		http.Error(w, "missing X-Wallet-Address", http.StatusUnauthorized)
		return
	}
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := domain.ParseAddress(req.To)
	if err != nil {
		http.Error(w, "invalid recipient", http.StatusBadRequest)
		return
	}

	if err := h.engine.Transfer(r.Context(), caller, id, to); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogTransfer(r.Context(), id, caller, to)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id": id,
		"owner":     to.String(),
	})
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	t, err := h.engine.Ticket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now()
	resp := map[string]interface{}{
		"ticket_id":     t.ID,
		"owner":         t.Owner.String(),
		"status":        t.StatusAt(now),
		"duration_secs": int64(t.Duration / time.Second),
	}
	if t.Activated() {
		resp["activated_at"] = t.ActivatedAt.UTC().Format(time.RFC3339)
		resp["expires_at"] = t.ActivatedAt.Add(t.Duration).UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) IsValid(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	valid, err := h.engine.IsValid(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id": id,
		"valid":     valid,
	})
}

// CheckAccess is the verifier-facing entry point the captive portal polls.
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletParam(r)
	if err != nil {
		http.Error(w, "invalid wallet", http.StatusBadRequest)
		return
	}
	access, err := h.engine.CheckAccess(r.Context(), wallet)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	observability.AccessChecks.WithLabelValues(strconv.FormatBool(access)).Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet": wallet.String(),
		"access": access,
	})
}

func (h *Handlers) UserTickets(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletParam(r)
	if err != nil {
		http.Error(w, "invalid wallet", http.StatusBadRequest)
		return
	}
	ids, err := h.engine.UserTicketIDs(r.Context(), wallet)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":     wallet.String(),
		"ticket_ids": ids,
	})
}

func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.engine.Policy(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price_wei":             policy.Price.Dec(),
		"default_duration_secs": int64(policy.DefaultDuration / time.Second),
	})
}

func (h *Handlers) authorized(r *http.Request) bool {
	return h.cfg.AuthorityToken != "" &&
		r.Header.Get("Authorization") == "Bearer "+h.cfg.AuthorityToken
}

func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req struct {
		PriceWei            *string `json:"price_wei"`
		DefaultDurationSecs *int64  `json:"default_duration_secs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.PriceWei != nil {
		price, err := domain.ParseWei(*req.PriceWei)
		if err != nil {
			http.Error(w, "invalid price", http.StatusBadRequest)
			return
		}
		if err := h.engine.SetPrice(r.Context(), price); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.DefaultDurationSecs != nil {
		d := time.Duration(*req.DefaultDurationSecs) * time.Second
		if err := h.engine.SetDefaultDuration(r.Context(), d); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	h.GetPolicy(w, r)
}

func (h *Handlers) Treasury(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	revenue, err := h.engine.Revenue(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"revenue_wei": revenue.Dec(),
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.Policy(r.Context()); err != nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
