// Package engine implements the ticket registry and validity engine: mint
// with payment, single-use activation, derived expiry, and the aggregate
// access query a captive-portal verifier asks.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
)

// Engine serializes all mutating operations with one exclusive lock so that
// mint, activate, transfer and policy updates form a single sequential
// ledger of operations. Read-only queries go straight to the latest
// committed state.
type Engine struct {
	mu      sync.Mutex
	ledger  Ledger
	maxMint int
	now     func() time.Time
}

// New builds an engine over the given ledger. maxMint caps the quantity of
// a single mint call. A nil clock means time.Now.
func New(ledger Ledger, maxMint int, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{ledger: ledger, maxMint: maxMint, now: now}
}

// Mint creates quantity tickets owned by caller. payment must cover
// price*quantity; underpayment rejects the whole call and creates nothing.
// Overpayment is accepted and retained.
func (e *Engine) Mint(ctx context.Context, caller domain.Address, quantity int, payment *uint256.Int) ([]uint64, error) {
	if quantity < 1 || quantity > e.maxMint || payment == nil {
		return nil, domain.ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	policy, err := e.ledger.Policy(ctx)
	if err != nil {
		return nil, err
	}
	required, err := domain.RequiredPayment(policy.Price, uint64(quantity))
	if err != nil {
		return nil, err
	}
	if payment.Lt(required) {
		return nil, domain.ErrInsufficientPayment
	}

	return e.ledger.InsertTickets(ctx, caller, quantity, payment)
}

// Activate starts the validity countdown of a ticket. Owner only, exactly
// once. The policy's current default duration is snapshotted onto the
// ticket so later policy changes never alter it.
func (e *Engine) Activate(ctx context.Context, caller domain.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.ledger.Ticket(ctx, id)
	if err != nil {
		return err
	}
	if t.Owner != caller {
		return domain.ErrNotAuthorized
	}
	if t.Activated() {
		return domain.ErrAlreadyActivated
	}

	policy, err := e.ledger.Policy(ctx)
	if err != nil {
		return err
	}
	return e.ledger.ActivateTicket(ctx, id, e.now(), policy.DefaultDuration)
}

// Transfer moves a ticket to a new owner. Validity is unaffected: an active
// ticket keeps running, a fresh one stays activatable by the new owner.
func (e *Engine) Transfer(ctx context.Context, caller domain.Address, id uint64, to domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.ledger.Ticket(ctx, id)
	if err != nil {
		return err
	}
	if t.Owner != caller {
		return domain.ErrNotAuthorized
	}
	return e.ledger.TransferTicket(ctx, id, caller, to)
}

// IsValid reports whether the ticket grants access right now. Unknown ids
// fail with ErrNotFound so callers can tell "never minted" from "expired".
func (e *Engine) IsValid(ctx context.Context, id uint64) (bool, error) {
	t, err := e.ledger.Ticket(ctx, id)
	if err != nil {
		return false, err
	}
	return t.ValidAt(e.now()), nil
}

// Ticket returns the full ticket record.
func (e *Engine) Ticket(ctx context.Context, id uint64) (domain.Ticket, error) {
	return e.ledger.Ticket(ctx, id)
}

// CheckAccess is the verifier entry point: true iff holder owns at least
// one currently valid ticket. A holder with no tickets gets false, not an
// error.
func (e *Engine) CheckAccess(ctx context.Context, holder domain.Address) (bool, error) {
	tickets, err := e.ledger.TicketsOf(ctx, holder)
	if err != nil {
		return false, err
	}
	now := e.now()
	for _, t := range tickets {
		if t.ValidAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// TicketsOf returns holder's tickets in ascending id order.
func (e *Engine) TicketsOf(ctx context.Context, holder domain.Address) ([]domain.Ticket, error) {
	return e.ledger.TicketsOf(ctx, holder)
}

// UserTicketIDs returns just the ids, in the same order as TicketsOf.
func (e *Engine) UserTicketIDs(ctx context.Context, holder domain.Address) ([]uint64, error) {
	tickets, err := e.ledger.TicketsOf(ctx, holder)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	return ids, nil
}

func (e *Engine) Policy(ctx context.Context) (domain.Policy, error) {
	return e.ledger.Policy(ctx)
}

// SetPrice updates the per-ticket mint price. Authority only; the HTTP
// layer enforces the bearer token.
func (e *Engine) SetPrice(ctx context.Context, price *uint256.Int) error {
	if price == nil {
		return domain.ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	policy, err := e.ledger.Policy(ctx)
	if err != nil {
		return err
	}
	policy.Price = price
	return e.ledger.UpdatePolicy(ctx, policy)
}

// SetDefaultDuration updates the duration applied at activation time.
// Already-activated tickets keep their snapshot.
func (e *Engine) SetDefaultDuration(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return domain.ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	policy, err := e.ledger.Policy(ctx)
	if err != nil {
		return err
	}
	policy.DefaultDuration = d
	return e.ledger.UpdatePolicy(ctx, policy)
}

// Revenue returns the treasury total of retained mint payments.
func (e *Engine) Revenue(ctx context.Context) (*uint256.Int, error) {
	return e.ledger.Revenue(ctx)
}
