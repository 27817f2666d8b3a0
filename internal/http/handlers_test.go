package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/sqlite"
	"github.com/robertarktes/wifi-access-tickets/internal/config"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/robertarktes/wifi-access-tickets/internal/engine"
	httphandler "github.com/robertarktes/wifi-access-tickets/internal/http"
	"github.com/robertarktes/wifi-access-tickets/internal/idempotency"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
	"github.com/robertarktes/wifi-access-tickets/internal/rateLimit"
)

const (
	buyerWallet    = "0x1111111111111111111111111111111111111111"
	strangerWallet = "0x2222222222222222222222222222222222222222"
	authorityToken = "test-authority-token"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ledger, err := sqlite.Open(":memory:", domain.Policy{
		Price:           uint256.NewInt(1000),
		DefaultDuration: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })

	cfg := &config.Config{
		AuthorityToken:  authorityToken,
		MaxMintQuantity: 100,
	}
	eng := engine.New(ledger, cfg.MaxMintQuantity, nil)
	idemp := idempotency.NewIdempotency(nil, time.Hour)
	rl := rateLimit.NewRateLimiter(nil)
	handlers := httphandler.NewHandlers(cfg, eng, idemp, nil, nil)

	srv := httptest.NewServer(httphandler.SetupRouter(handlers, observability.NewLogger(), rl, idemp))
	t.Cleanup(srv.Close)
	return srv
}

var keySeq int

func doJSON(t *testing.T, srv *httptest.Server, method, path, wallet string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set("X-Wallet-Address", wallet)
	}
	if method == http.MethodPost {
		keySeq++
		req.Header.Set("Idempotency-Key", fmt.Sprintf("test-key-%024d", keySeq))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func mintOne(t *testing.T, srv *httptest.Server, wallet, payment string) uint64 {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/v1/tickets/mint", wallet, map[string]interface{}{
		"quantity": 1,
		"payment":  payment,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mint returned %d", resp.StatusCode)
	}
	ids := body["ticket_ids"].([]interface{})
	return uint64(ids[0].(float64))
}

func TestMintEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Exact payment mints and returns the new id.
	id := mintOne(t, srv, buyerWallet, "1000")
	if id != 1 {
		t.Errorf("first ticket id = %d, want 1", id)
	}

	// One wei short: 402, and the buyer's ticket count is unchanged.
	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/tickets/mint", buyerWallet, map[string]interface{}{
		"quantity": 1,
		"payment":  "999",
	})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("underpaid mint returned %d, want 402", resp.StatusCode)
	}
	resp, body := doJSON(t, srv, http.MethodGet, "/v1/wallets/"+buyerWallet+"/tickets", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user tickets returned %d", resp.StatusCode)
	}
	if ids := body["ticket_ids"].([]interface{}); len(ids) != 1 {
		t.Errorf("ticket count after rejected mint = %d, want 1", len(ids))
	}

	// Batch mint with batch payment.
	resp, body = doJSON(t, srv, http.MethodPost, "/v1/tickets/mint", buyerWallet, map[string]interface{}{
		"quantity": 3,
		"payment":  "3000",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("batch mint returned %d", resp.StatusCode)
	}
	if ids := body["ticket_ids"].([]interface{}); len(ids) != 3 {
		t.Errorf("batch minted %d tickets, want 3", len(ids))
	}

	// Without a wallet identity the mint is rejected.
	resp, _ = doJSON(t, srv, http.MethodPost, "/v1/tickets/mint", "", map[string]interface{}{
		"quantity": 1,
		"payment":  "1000",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous mint returned %d, want 401", resp.StatusCode)
	}
}

func TestActivateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	id := mintOne(t, srv, buyerWallet, "1000")
	path := fmt.Sprintf("/v1/tickets/%d/activate", id)

	// Stranger cannot activate someone else's ticket.
	resp, _ := doJSON(t, srv, http.MethodPost, path, strangerWallet, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-owner activate returned %d, want 403", resp.StatusCode)
	}

	// Before activation the ticket is not valid.
	resp, body := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v1/tickets/%d/valid", id), "", nil)
	if resp.StatusCode != http.StatusOK || body["valid"].(bool) {
		t.Errorf("pre-activation valid = %v (%d), want false", body["valid"], resp.StatusCode)
	}

	resp, body = doJSON(t, srv, http.MethodPost, path, buyerWallet, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate returned %d", resp.StatusCode)
	}
	if body["expires_at"] == nil {
		t.Error("activation response missing expires_at")
	}

	// Second activation conflicts.
	resp, _ = doJSON(t, srv, http.MethodPost, path, buyerWallet, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second activate returned %d, want 409", resp.StatusCode)
	}

	resp, body = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v1/tickets/%d/valid", id), "", nil)
	if !body["valid"].(bool) {
		t.Error("ticket must be valid right after activation")
	}

	resp, body = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v1/tickets/%d", id), "", nil)
	if body["status"].(string) != domain.StatusActive {
		t.Errorf("status = %v, want ACTIVE", body["status"])
	}
}

func TestCheckAccessEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Wallet that never minted: false, not an error.
	resp, body := doJSON(t, srv, http.MethodGet, "/v1/access/"+strangerWallet, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("access check returned %d", resp.StatusCode)
	}
	if body["access"].(bool) {
		t.Error("wallet without tickets must not have access")
	}

	id := mintOne(t, srv, buyerWallet, "1000")
	resp, body = doJSON(t, srv, http.MethodGet, "/v1/access/"+buyerWallet, "", nil)
	if body["access"].(bool) {
		t.Error("unactivated ticket must not grant access")
	}

	doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/tickets/%d/activate", id), buyerWallet, nil)
	resp, body = doJSON(t, srv, http.MethodGet, "/v1/access/"+buyerWallet, "", nil)
	if !body["access"].(bool) {
		t.Error("activated ticket must grant access")
	}
}

func TestValidUnknownTicket(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, srv, http.MethodGet, "/v1/tickets/42/valid", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown ticket returned %d, want 404", resp.StatusCode)
	}
}

func TestTransferEndpoint(t *testing.T) {
	srv := newTestServer(t)
	id := mintOne(t, srv, buyerWallet, "1000")

	resp, _ := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/tickets/%d/transfer", id), buyerWallet, map[string]string{
		"to": strangerWallet,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer returned %d", resp.StatusCode)
	}

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/wallets/"+strangerWallet+"/tickets", "", nil)
	if ids := body["ticket_ids"].([]interface{}); len(ids) != 1 {
		t.Errorf("recipient ticket count = %d, want 1", len(ids))
	}
	resp, body = doJSON(t, srv, http.MethodGet, "/v1/wallets/"+buyerWallet+"/tickets", "", nil)
	if ids := body["ticket_ids"].([]interface{}); len(ids) != 0 {
		t.Errorf("sender ticket count = %d, want 0", len(ids))
	}
}

func TestPolicyEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/policy", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get policy returned %d", resp.StatusCode)
	}
	if body["price_wei"].(string) != "1000" {
		t.Errorf("price_wei = %v, want 1000", body["price_wei"])
	}

	// Policy update without the authority token is rejected.
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/policy", bytes.NewBufferString(`{"price_wei":"2000"}`))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Errorf("unauthorized policy update returned %d, want 403", resp2.StatusCode)
	}

	// With the token it goes through.
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/v1/policy", bytes.NewBufferString(`{"price_wei":"2000","default_duration_secs":1800}`))
	req.Header.Set("Authorization", "Bearer "+authorityToken)
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("policy update returned %d", resp3.StatusCode)
	}

	_, body = doJSON(t, srv, http.MethodGet, "/v1/policy", "", nil)
	if body["price_wei"].(string) != "2000" || body["default_duration_secs"].(float64) != 1800 {
		t.Errorf("policy not updated: %v", body)
	}
}

func TestTreasuryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	mintOne(t, srv, buyerWallet, "1500")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/treasury", nil)
	req.Header.Set("Authorization", "Bearer "+authorityToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("treasury returned %d", resp.StatusCode)
	}
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["revenue_wei"].(string) != "1500" {
		t.Errorf("revenue_wei = %v, want 1500 (overpayment retained)", body["revenue_wei"])
	}
}

func TestBindingsNotConfigured(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/bindings", "", map[string]string{
		"wallet": buyerWallet,
		"mac":    "aa:bb:cc:dd:ee:ff",
	})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("bindings without redis returned %d, want 501", resp.StatusCode)
	}
}

func TestMissingIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/tickets/mint", bytes.NewBufferString(`{"quantity":1,"payment":"1000"}`))
	req.Header.Set("X-Wallet-Address", buyerWallet)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST without Idempotency-Key returned %d, want 400", resp.StatusCode)
	}
}
