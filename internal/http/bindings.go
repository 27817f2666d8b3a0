package http

import (
	"encoding/json"
	"net/http"

	"github.com/robertarktes/wifi-access-tickets/internal/domain"
)

// Bindings endpoints let the router's verifier register which MAC it
// whitelisted for a wallet, so the sync worker can revoke it on expiry.

func (h *Handlers) decodeBinding(w http.ResponseWriter, r *http.Request) (domain.Address, string, bool) {
	if h.bindings == nil {
		http.Error(w, "bindings not configured", http.StatusNotImplemented)
		return "", "", false
	}
	var req struct {
		Wallet string `json:"wallet"`
		MAC    string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	wallet, err := domain.ParseAddress(req.Wallet)
	if err != nil {
		http.Error(w, "invalid wallet", http.StatusBadRequest)
		return "", "", false
	}
	if req.MAC == "" {
		http.Error(w, "missing mac", http.StatusBadRequest)
		return "", "", false
	}
	return wallet, req.MAC, true
}

func (h *Handlers) CreateBinding(w http.ResponseWriter, r *http.Request) {
	wallet, mac, ok := h.decodeBinding(w, r)
	if !ok {
		return
	}
	if err := h.bindings.Add(r.Context(), wallet, mac); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"wallet": wallet.String(),
		"mac":    mac,
	})
}

func (h *Handlers) DeleteBinding(w http.ResponseWriter, r *http.Request) {
	wallet, mac, ok := h.decodeBinding(w, r)
	if !ok {
		return
	}
	if err := h.bindings.Remove(r.Context(), wallet, mac); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
