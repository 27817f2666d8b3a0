package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	SerializationFailureCode = "40001"
)

// Repository is the CockroachDB-backed ticket ledger. All mutations run in
// serializable transactions; outbox rows are written in the same commit as
// the state change they announce.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the schema and seeds the policy and registry state rows
// on first run. Seed values are ignored once the rows exist.
func (r *Repository) Migrate(ctx context.Context, seed domain.Policy) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id BIGINT PRIMARY KEY,
			owner TEXT NOT NULL,
			activated_at TIMESTAMPTZ,
			duration_secs BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS tickets_owner_idx ON tickets (owner, id);
		CREATE TABLE IF NOT EXISTS registry_state (
			singleton BOOL PRIMARY KEY DEFAULT true CHECK (singleton),
			next_ticket_id BIGINT NOT NULL,
			revenue_wei TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS policy (
			singleton BOOL PRIMARY KEY DEFAULT true CHECK (singleton),
			price_wei TEXT NOT NULL,
			default_duration_secs BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS outbox (
			id UUID PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload_json BYTES NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			published_at TIMESTAMPTZ,
			status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
			dedupe_key TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO registry_state (next_ticket_id, revenue_wei)
		VALUES (1, '0') ON CONFLICT (singleton) DO NOTHING
	`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO policy (price_wei, default_duration_secs)
		VALUES ($1, $2) ON CONFLICT (singleton) DO NOTHING
	`, seed.Price.Dec(), int64(seed.DefaultDuration/time.Second))
	return err
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) Policy(ctx context.Context) (domain.Policy, error) {
	var priceDec string
	var durationSecs int64
	err := r.pool.QueryRow(ctx, `
		SELECT price_wei, default_duration_secs FROM policy
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

func (r *Repository) UpdatePolicy(ctx context.Context, p domain.Policy) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE policy SET price_wei = $1, default_duration_secs = $2
	`, p.Price.Dec(), int64(p.DefaultDuration/time.Second))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) InsertTickets(ctx context.Context, owner domain.Address, quantity int, payment *uint256.Int) ([]uint64, error) {
	var ids []uint64
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var nextID int64
		var revenueDec string
		err := tx.QueryRow(ctx, `
			SELECT next_ticket_id, revenue_wei FROM registry_state FOR UPDATE
		`).Scan(&nextID, &revenueDec)
		if err != nil {
			return err
		}
		revenue, err := uint256.FromDecimal(revenueDec)
		if err != nil {
			return errors.Wrap(err, "corrupt revenue_wei")
		}
		revenue.Add(revenue, payment)

		_, err = tx.Exec(ctx, `
			UPDATE registry_state SET next_ticket_id = $1, revenue_wei = $2
		`, nextID+int64(quantity), revenue.Dec())
		if err != nil {
			return err
		}

		ids = make([]uint64, quantity)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < quantity; i++ {
			id := uint64(nextID) + uint64(i)
			ids[i] = id
			g.Go(func() error {
				_, err := tx.Exec(gctx, `
					INSERT INTO tickets (id, owner) VALUES ($1, $2)
				`, int64(id), owner.String())
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"owner":      owner.String(),
			"ticket_ids": ids,
		})
		return r.InsertOutbox(ctx, tx, NewTicketEvent("ticket.minted", owner, payload))
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) Ticket(ctx context.Context, id uint64) (domain.Ticket, error) {
	var t domain.Ticket
	var owner string
	var activatedAt *time.Time
	var durationSecs int64
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner, activated_at, duration_secs FROM tickets WHERE id = $1
	`, int64(id)).Scan(&t.ID, &owner, &activatedAt, &durationSecs)
	if err == pgx.ErrNoRows {
		return domain.Ticket{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	t.Owner = domain.Address(owner)
	if activatedAt != nil {
		t.ActivatedAt = *activatedAt
	}
	t.Duration = time.Duration(durationSecs) * time.Second
	return t, nil
}

func (r *Repository) ActivateTicket(ctx context.Context, id uint64, at time.Time, duration time.Duration) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE tickets SET activated_at = $2, duration_secs = $3
			WHERE id = $1 AND activated_at IS NULL
		`, int64(id), at, int64(duration/time.Second))
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)
			`, int64(id)).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return domain.ErrAlreadyActivated
			}
			return domain.ErrNotFound
		}

		var owner string
		if err := tx.QueryRow(ctx, `
			SELECT owner FROM tickets WHERE id = $1
		`, int64(id)).Scan(&owner); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"ticket_id":    id,
			"owner":        owner,
			"activated_at": at.UTC().Format(time.RFC3339),
			"expires_at":   at.Add(duration).UTC().Format(time.RFC3339),
		})
		return r.InsertOutbox(ctx, tx, NewTicketEvent("ticket.activated", domain.Address(owner), payload))
	})
}

func (r *Repository) TicketsOf(ctx context.Context, owner domain.Address) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner, activated_at, duration_secs
		FROM tickets WHERE owner = $1 ORDER BY id ASC
	`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var own string
		var activatedAt *time.Time
		var durationSecs int64
		if err := rows.Scan(&t.ID, &own, &activatedAt, &durationSecs); err != nil {
			return nil, err
		}
		t.Owner = domain.Address(own)
		if activatedAt != nil {
			t.ActivatedAt = *activatedAt
		}
		t.Duration = time.Duration(durationSecs) * time.Second
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *Repository) TransferTicket(ctx context.Context, id uint64, from, to domain.Address) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE tickets SET owner = $3 WHERE id = $1 AND owner = $2
		`, int64(id), from.String(), to.String())
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)
			`, int64(id)).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return domain.ErrNotAuthorized
			}
			return domain.ErrNotFound
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"ticket_id": id,
			"from":      from.String(),
			"to":        to.String(),
		})
		return r.InsertOutbox(ctx, tx, NewTicketEvent("ticket.transferred", to, payload))
	})
}

func (r *Repository) Revenue(ctx context.Context) (*uint256.Int, error) {
	var revenueDec string
	err := r.pool.QueryRow(ctx, `
		SELECT revenue_wei FROM registry_state
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

// NewTicketEvent builds an outbox record for a ticket lifecycle event.
func NewTicketEvent(eventType string, holder domain.Address, payload []byte) OutboxRecord {
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "ticket",
		AggregateID:   holder.String(),
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	}
}
