// Package sqlite provides an embedded, file-backed ticket ledger with the
// same semantics as the CockroachDB adapter. It backs single-node
// deployments and tests; the driver is CGo-free.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	_ "modernc.org/sqlite"
)

type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path and seeds the policy
// and registry rows on first run. Use ":memory:" for an ephemeral ledger.
func Open(path string, seed domain.Policy) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger")
	}
	// The engine serializes writers; one connection keeps sqlite happy too.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.migrate(seed); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate ledger")
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate(seed domain.Policy) error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY,
		owner TEXT NOT NULL,
		activated_at INTEGER NOT NULL DEFAULT 0,
		duration_secs INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS tickets_owner_idx ON tickets (owner, id);
	CREATE TABLE IF NOT EXISTS registry_state (
		singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
		next_ticket_id INTEGER NOT NULL,
		revenue_wei TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS policy (
		singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
		price_wei TEXT NOT NULL,
		default_duration_secs INTEGER NOT NULL
	);
	`)
	if err != nil {
		return err
	}

	_, err = l.db.Exec(`
		INSERT OR IGNORE INTO registry_state (singleton, next_ticket_id, revenue_wei)
		VALUES (1, 1, '0')
	`)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(`
		INSERT OR IGNORE INTO policy (singleton, price_wei, default_duration_secs)
		VALUES (1, ?, ?)
	`, seed.Price.Dec(), int64(seed.DefaultDuration/time.Second))
	return err
}

func (l *Ledger) Policy(ctx context.Context) (domain.Policy, error) {
	var priceDec string
	var durationSecs int64
	err := l.db.QueryRowContext(ctx, `
		SELECT price_wei, default_duration_secs FROM policy WHERE singleton = 1
	`).Scan(&priceDec, &durationSecs)
	if err != nil {
		return domain.Policy{}, err
	}
	price, err := uint256.FromDecimal(priceDec)
	if err != nil {
		return domain.Policy{}, errors.Wrap(err, "corrupt price_wei")
	}
	return domain.Policy{
		Price:           price,
		DefaultDuration: time.Duration(durationSecs) * time.Second,
	}, nil
}

func (l *Ledger) UpdatePolicy(ctx context.Context, p domain.Policy) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE policy SET price_wei = ?, default_duration_secs = ? WHERE singleton = 1
	`, p.Price.Dec(), int64(p.DefaultDuration/time.Second))
	return err
}

func (l *Ledger) InsertTickets(ctx context.Context, owner domain.Address, quantity int, payment *uint256.Int) ([]uint64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var nextID int64
	var revenueDec string
	err = tx.QueryRowContext(ctx, `
		SELECT next_ticket_id, revenue_wei FROM registry_state WHERE singleton = 1
	`).Scan(&nextID, &revenueDec)
	if err != nil {
		return nil, err
	}
	revenue, err := uint256.FromDecimal(revenueDec)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt revenue_wei")
	}
	revenue.Add(revenue, payment)

	_, err = tx.ExecContext(ctx, `
		UPDATE registry_state SET next_ticket_id = ?, revenue_wei = ? WHERE singleton = 1
	`, nextID+int64(quantity), revenue.Dec())
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, quantity)
	for i := 0; i < quantity; i++ {
		id := uint64(nextID) + uint64(i)
		ids[i] = id
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tickets (id, owner) VALUES (?, ?)
		`, int64(id), owner.String())
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *Ledger) Ticket(ctx context.Context, id uint64) (domain.Ticket, error) {
	var t domain.Ticket
	var owner string
	var activatedUnix, durationSecs int64
	err := l.db.QueryRowContext(ctx, `
		SELECT id, owner, activated_at, duration_secs FROM tickets WHERE id = ?
	`, int64(id)).Scan(&t.ID, &owner, &activatedUnix, &durationSecs)
	if err == sql.ErrNoRows {
		return domain.Ticket{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	t.Owner = domain.Address(owner)
	if activatedUnix != 0 {
		t.ActivatedAt = time.Unix(activatedUnix, 0).UTC()
	}
	t.Duration = time.Duration(durationSecs) * time.Second
	return t, nil
}

func (l *Ledger) ActivateTicket(ctx context.Context, id uint64, at time.Time, duration time.Duration) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE tickets SET activated_at = ?, duration_secs = ?
		WHERE id = ? AND activated_at = 0
	`, at.Unix(), int64(duration/time.Second), int64(id))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := l.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM tickets WHERE id = ?)
		`, int64(id)).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return domain.ErrAlreadyActivated
		}
		return domain.ErrNotFound
	}
	return nil
}

func (l *Ledger) TicketsOf(ctx context.Context, owner domain.Address) ([]domain.Ticket, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, owner, activated_at, duration_secs
		FROM tickets WHERE owner = ? ORDER BY id ASC
	`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var own string
		var activatedUnix, durationSecs int64
		if err := rows.Scan(&t.ID, &own, &activatedUnix, &durationSecs); err != nil {
			return nil, err
		}
		t.Owner = domain.Address(own)
		if activatedUnix != 0 {
			t.ActivatedAt = time.Unix(activatedUnix, 0).UTC()
		}
		t.Duration = time.Duration(durationSecs) * time.Second
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (l *Ledger) TransferTicket(ctx context.Context, id uint64, from, to domain.Address) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE tickets SET owner = ? WHERE id = ? AND owner = ?
	`, to.String(), int64(id), from.String())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := l.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM tickets WHERE id = ?)
		`, int64(id)).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return domain.ErrNotAuthorized
		}
		return domain.ErrNotFound
	}
	return nil
}

func (l *Ledger) Revenue(ctx context.Context) (*uint256.Int, error) {
	var revenueDec string
	err := l.db.QueryRowContext(ctx, `
		SELECT revenue_wei FROM registry_state WHERE singleton = 1
	`).Scan(&revenueDec)
	if err != nil {
		return nil, err
	}
	revenue, err := uint256.FromDecimal(revenueDec)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt revenue_wei")
	}
	return revenue, nil
}
