package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/crdb"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/wifi-access-tickets/internal/adapters/redis"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/sqlite"
	"github.com/robertarktes/wifi-access-tickets/internal/config"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/robertarktes/wifi-access-tickets/internal/engine"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
	"github.com/robertarktes/wifi-access-tickets/internal/portal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	seed := domain.Policy{Price: cfg.TicketPrice, DefaultDuration: cfg.DefaultDuration}

	var ledger engine.Ledger
	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		ledger = crdb.NewRepository(pool)
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "tickets.db"
		}
		embedded, err := sqlite.Open(path, seed)
		if err != nil {
			log.Fatalf("failed to open embedded ledger: %v", err)
		}
		defer embedded.Close()
		ledger = embedded
	}
	eng := engine.New(ledger, cfg.MaxMintQuantity, nil)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	bindings := redisadapter.NewBindings(redisClient)

	var events portal.EventSource
	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		consumer, err := rabbit.NewConsumer(conn, "portal-sync.q", "ticket.activated")
		if err != nil {
			log.Fatalf("failed to create consumer: %v", err)
		}
		events = &rabbitEvents{consumer: consumer}
	}

	syncer := portal.NewSyncer(bindings, eng, &portal.IPTables{}, events, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := syncer.Run(ctx, time.Minute); err != nil && err != context.Canceled {
			logger.Error("syncer stopped", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown portal sync")
}

// rabbitEvents adapts the amqp consumer to the portal event source.
type rabbitEvents struct {
	consumer *rabbit.Consumer
}

func (r *rabbitEvents) Consume(ctx context.Context) (<-chan portal.Delivery, error) {
	deliveries, err := r.consumer.Consume(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan portal.Delivery)
	go func() {
		defer close(out)
		for d := range deliveries {
			d := d
			out <- portal.Delivery{
				RoutingKey: d.RoutingKey,
				Body:       d.Body,
				Ack:        func() error { return d.Ack(false) },
				Nack:       func() error { return d.Nack(false, true) },
			}
		}
	}()
	return out, nil
}
