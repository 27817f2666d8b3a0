package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/wifi-access-tickets/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/wifi-access-tickets/internal/adapters/redis"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/sqlite"
	"github.com/robertarktes/wifi-access-tickets/internal/config"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/robertarktes/wifi-access-tickets/internal/engine"
	httphandler "github.com/robertarktes/wifi-access-tickets/internal/http"
	"github.com/robertarktes/wifi-access-tickets/internal/idempotency"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
	"github.com/robertarktes/wifi-access-tickets/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	seed := domain.Policy{Price: cfg.TicketPrice, DefaultDuration: cfg.DefaultDuration}

	var ledger engine.Ledger
	if cfg.CRDBDSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(context.Background(), seed); err != nil {
			log.Fatalf("failed to migrate ledger: %v", err)
		}
		ledger = repo
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
		logger.WithField("path", path).Info("using embedded sqlite ledger")
	}

	eng := engine.New(ledger, cfg.MaxMintQuantity, nil)

	var audit *mongoadapter.AuditLogger
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		audit = mongoadapter.NewAuditLogger(mongoClient.Database("wat"), logger)
	}

	var redisIdemp *redisadapter.Idempotency
	var redisCache *redisadapter.Cache
	var bindings *redisadapter.Bindings
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		redisCache = redisadapter.NewCache(redisClient)
		redisIdemp = redisadapter.NewIdempotency(redisClient)
		bindings = redisadapter.NewBindings(redisClient)
	}
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	handlers := httphandler.NewHandlers(cfg, eng, idemp, audit, bindings)

	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
