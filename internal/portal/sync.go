package portal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
)

// AccessChecker answers the aggregate access query. The engine satisfies
// this; a remote deployment can plug an HTTP client instead.
type AccessChecker interface {
	CheckAccess(ctx context.Context, holder domain.Address) (bool, error)
}

// BindingStore tracks which MACs are whitelisted per wallet. The redis
// bindings adapter satisfies this.
type BindingStore interface {
	Remove(ctx context.Context, wallet domain.Address, mac string) error
	MACs(ctx context.Context, wallet domain.Address) ([]string, error)
	Wallets(ctx context.Context) ([]domain.Address, error)
}

// EventSource delivers ticket lifecycle events. The rabbit consumer
// satisfies this.
type EventSource interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// Delivery is one consumed ticket event.
type Delivery struct {
	RoutingKey string
	Body       []byte
	Ack        func() error
	Nack       func() error
}

// Syncer grants firewall access when a bound wallet activates a ticket and
// revokes it when the wallet no longer holds any valid ticket. Expiry is
// derived, never evented, so revocation comes from the periodic sweep.
type Syncer struct {
	bindings BindingStore
	checker  AccessChecker
	firewall Firewall
	events   EventSource
	logger   observability.Logger
}

func NewSyncer(bindings BindingStore, checker AccessChecker, firewall Firewall, events EventSource, logger observability.Logger) *Syncer {
	return &Syncer{
		bindings: bindings,
		checker:  checker,
		firewall: firewall,
		events:   events,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, reacting to activation events and
// sweeping all bindings every interval.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	var deliveries <-chan Delivery
	if s.events != nil {
		var err error
		deliveries, err = s.events.Consume(ctx)
		if err != nil {
			return err
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				deliveries = nil
				continue
			}
			s.handleEvent(ctx, d)
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Syncer) handleEvent(ctx context.Context, d Delivery) {
	if d.RoutingKey != "ticket.activated" {
		d.Ack()
		return
	}
	var event struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(d.Body, &event); err != nil {
		s.logger.Error("malformed ticket event", err)
		d.Ack()
		return
	}
	wallet, err := domain.ParseAddress(event.Owner)
	if err != nil {
		s.logger.Error("ticket event with bad owner address", err)
		d.Ack()
		return
	}

	if err := s.grant(ctx, wallet); err != nil {
		s.logger.Error("failed to grant access", err)
		d.Nack()
		return
	}
	d.Ack()
}

func (s *Syncer) grant(ctx context.Context, wallet domain.Address) error {
	// Re-verify against the engine; the event alone is not proof the
	// ticket is still valid by the time we act on it.
	access, err := s.checker.CheckAccess(ctx, wallet)
	if err != nil {
		return err
	}
	if !access {
		return nil
	}
	macs, err := s.bindings.MACs(ctx, wallet)
	if err != nil {
		return err
	}
	for _, mac := range macs {
		if err := s.withRetry(ctx, func() error { return s.firewall.Allow(mac) }); err != nil {
			return err
		}
		s.logger.WithField("wallet", wallet.String()).WithField("mac", mac).Info("access granted")
	}
	return nil
}

// sweep revokes every binding whose wallet no longer has a valid ticket.
func (s *Syncer) sweep(ctx context.Context) {
	wallets, err := s.bindings.Wallets(ctx)
	if err != nil {
		s.logger.Error("failed to list bindings", err)
		return
	}
	for _, wallet := range wallets {
		access, err := s.checker.CheckAccess(ctx, wallet)
		if err != nil {
			s.logger.Error("access check failed during sweep", err)
			continue
		}
		observability.AccessChecks.WithLabelValues(boolLabel(access)).Inc()
		if access {
			continue
		}
		macs, err := s.bindings.MACs(ctx, wallet)
		if err != nil {
			s.logger.Error("failed to read bindings", err)
			continue
		}
		for _, mac := range macs {
			if err := s.withRetry(ctx, func() error { return s.firewall.Revoke(mac) }); err != nil {
				s.logger.Error("failed to revoke access", err)
				continue
			}
			if err := s.bindings.Remove(ctx, wallet, mac); err != nil {
				s.logger.Error("failed to remove binding", err)
			}
			s.logger.WithField("wallet", wallet.String()).WithField("mac", mac).Info("access revoked")
		}
	}
}

func (s *Syncer) withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
