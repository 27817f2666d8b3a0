package config

import (
	"os"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr      string
	CRDBDSN         string
	SQLitePath      string
	MongoURI        string
	RedisAddr       string
	RabbitURL       string
	AuthorityToken  string
	OTLPEndpoint    string
	TicketPrice     *uint256.Int  // wei per ticket
	DefaultDuration time.Duration // validity applied at activation
	MaxMintQuantity int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	price := uint256.NewInt(1_000_000_000_000_000) // 0.001 ether
	if v := os.Getenv("TICKET_PRICE_WEI"); v != "" {
		p, err := uint256.FromDecimal(v)
		if err != nil {
			return nil, err
		}
		price = p
	}

	duration, _ := time.ParseDuration(os.Getenv("DEFAULT_DURATION"))
	if duration == 0 {
		duration = time.Hour
	}

	maxMint := 100
	if v := os.Getenv("MAX_MINT_QUANTITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		maxMint = n
	}

	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		listen = ":8080"
	}

	return &Config{
		ListenAddr:      listen,
		CRDBDSN:         os.Getenv("CRDB_DSN"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		MongoURI:        os.Getenv("MONGO_URI"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		AuthorityToken:  os.Getenv("AUTHORITY_TOKEN"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TicketPrice:     price,
		DefaultDuration: duration,
		MaxMintQuantity: maxMint,
	}, nil
}
