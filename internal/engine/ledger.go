package engine

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
)

// Ledger is the persistent ticket registry the engine mutates. Every method
// is atomic: it either fully applies or fully rejects. Implementations live
// in internal/adapters (CockroachDB for production, SQLite embedded).
type Ledger interface {
	Policy(ctx context.Context) (domain.Policy, error)
	UpdatePolicy(ctx context.Context, p domain.Policy) error

	// InsertTickets creates quantity tickets owned by owner with fresh
	// monotonic ids and adds payment to the treasury, all in one commit.
	InsertTickets(ctx context.Context, owner domain.Address, quantity int, payment *uint256.Int) ([]uint64, error)

	Ticket(ctx context.Context, id uint64) (domain.Ticket, error)

	// ActivateTicket stamps activation onto a never-activated ticket.
	// Returns domain.ErrAlreadyActivated if the ticket is already stamped,
	// domain.ErrNotFound if it does not exist.
	ActivateTicket(ctx context.Context, id uint64, at time.Time, duration time.Duration) error

	// TicketsOf returns every ticket owned by owner in ascending id order.
	TicketsOf(ctx context.Context, owner domain.Address) ([]domain.Ticket, error)

	// TransferTicket moves ownership. Activation state is untouched.
	TransferTicket(ctx context.Context, id uint64, from, to domain.Address) error

	Revenue(ctx context.Context) (*uint256.Int, error)
}
