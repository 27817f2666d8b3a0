package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/crdb"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	buyer    = domain.Address("0x1111111111111111111111111111111111111111")
	stranger = domain.Address("0x2222222222222222222222222222222222222222")
)

func startRepository(t *testing.T) *crdb.Repository {
	t.Helper()
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	dsn, err := crdbContainer.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	err = repo.Migrate(ctx, domain.Policy{
		Price:           uint256.NewInt(1000),
		DefaultDuration: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestRepository_MintAndActivate(t *testing.T) {
	ctx := context.Background()
	repo := startRepository(t)

	policy, err := repo.Policy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if policy.Price.Uint64() != 1000 || policy.DefaultDuration != time.Hour {
		t.Errorf("unexpected seeded policy %+v", policy)
	}

	ids, err := repo.InsertTickets(ctx, buyer, 3, uint256.NewInt(3000))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("expected ids [1 2 3], got %v", ids)
	}

	more, err := repo.InsertTickets(ctx, stranger, 1, uint256.NewInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	if more[0] != 4 {
		t.Errorf("ids must keep counting across batches, got %v", more)
	}

	revenue, err := repo.Revenue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if revenue.Uint64() != 4000 {
		t.Errorf("revenue = %s, want 4000", revenue.Dec())
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := repo.ActivateTicket(ctx, ids[0], at, policy.DefaultDuration); err != nil {
		t.Fatal(err)
	}

	ticket, err := repo.Ticket(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if !ticket.Activated() || !ticket.ActivatedAt.Equal(at) || ticket.Duration != time.Hour {
		t.Errorf("activation not persisted: %+v", ticket)
	}

	err = repo.ActivateTicket(ctx, ids[0], at.Add(time.Minute), policy.DefaultDuration)
	if !errors.Is(err, domain.ErrAlreadyActivated) {
		t.Errorf("second activation = %v, want ErrAlreadyActivated", err)
	}
	if err := repo.ActivateTicket(ctx, 99, at, time.Hour); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown activation = %v, want ErrNotFound", err)
	}

	tickets, err := repo.TicketsOf(ctx, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 3 || tickets[0].ID != 1 || tickets[2].ID != 3 {
		t.Errorf("expected buyer tickets [1 2 3], got %+v", tickets)
	}
}

func TestRepository_TransferAndOutbox(t *testing.T) {
	ctx := context.Background()
	repo := startRepository(t)

	ids, err := repo.InsertTickets(ctx, buyer, 1, uint256.NewInt(1000))
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.TransferTicket(ctx, ids[0], stranger, stranger); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("transfer by non-owner = %v, want ErrNotAuthorized", err)
	}
	if err := repo.TransferTicket(ctx, ids[0], buyer, stranger); err != nil {
		t.Fatal(err)
	}

	ticket, err := repo.Ticket(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Owner != stranger {
		t.Errorf("owner = %s, want %s", ticket.Owner, stranger)
	}

	// Mint and transfer each left a NEW outbox row in the same commit.
	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 unpublished events, got %d", len(records))
	}
	if records[0].EventType != "ticket.minted" || records[1].EventType != "ticket.transferred" {
		t.Errorf("unexpected event order: %s, %s", records[0].EventType, records[1].EventType)
	}

	if err := repo.MarkPublished(ctx, records[0].ID, time.Now(), records[0].DedupeKey); err != nil {
		t.Fatal(err)
	}
	remaining, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].EventType != "ticket.transferred" {
		t.Errorf("expected only the transfer event left, got %+v", remaining)
	}
}
