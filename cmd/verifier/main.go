// Command verifier is the router-side access check: given a wallet and the
// client's MAC address it asks the ticket service whether the wallet holds
// a valid ticket and emits the matching iptables whitelist command. Exit
// status 0 means access granted.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/robertarktes/wifi-access-tickets/internal/portal"
	flag "github.com/spf13/pflag"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "ticket service base URL")
	chain := flag.String("chain", "internet_access", "iptables chain to manage")
	bind := flag.Bool("bind", true, "register the wallet/MAC binding for automatic revocation")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	apply := flag.Bool("apply", false, "run iptables instead of printing the command")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: verifier [flags] <wallet-address> <mac-address>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	wallet, err := domain.ParseAddress(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid wallet address %q\n", flag.Arg(0))
		os.Exit(2)
	}
	mac := flag.Arg(1)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	access, err := checkAccess(ctx, *apiURL, wallet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verification error: %v\n", err)
		os.Exit(1)
	}

	var firewall portal.Firewall
	if *apply {
		firewall = &portal.IPTables{Chain: *chain}
	} else {
		firewall = &portal.CommandWriter{Chain: *chain, W: os.Stdout}
	}

	if access {
		fmt.Printf("access granted for %s\n", wallet)
		if err := firewall.Allow(mac); err != nil {
			fmt.Fprintf(os.Stderr, "firewall error: %v\n", err)
			os.Exit(1)
		}
		if *bind {
			if err := setBinding(ctx, *apiURL, http.MethodPost, wallet, mac); err != nil {
				fmt.Fprintf(os.Stderr, "warning: binding not registered: %v\n", err)
			}
		}
		os.Exit(0)
	}

	fmt.Printf("access denied for %s\n", wallet)
	if err := firewall.Revoke(mac); err != nil {
		fmt.Fprintf(os.Stderr, "firewall error: %v\n", err)
	}
	if *bind {
		if err := setBinding(ctx, *apiURL, http.MethodDelete, wallet, mac); err != nil {
			fmt.Fprintf(os.Stderr, "warning: binding not removed: %v\n", err)
		}
	}
	os.Exit(1)
}

func checkAccess(ctx context.Context, apiURL string, wallet domain.Address) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/v1/access/"+wallet.String(), nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var body struct {
		Access bool `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Access, nil
}

func setBinding(ctx context.Context, apiURL, method string, wallet domain.Address, mac string) error {
	payload, _ := json.Marshal(map[string]string{
		"wallet": wallet.String(),
		"mac":    mac,
	})
	req, err := http.NewRequestWithContext(ctx, method, apiURL+"/v1/bindings", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", fmt.Sprintf("bind-%s-%s-%d", wallet, mac, time.Now().UnixNano()))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
