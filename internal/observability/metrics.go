package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicketsMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wat_tickets_minted_total",
			Help: "Total number of tickets minted",
		},
	)

	TicketsActivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wat_tickets_activated_total",
			Help: "Total number of tickets activated",
		},
	)

	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wat_access_checks_total",
			Help: "Total access checks by result",
		},
		[]string{"result"},
	)

	MintRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wat_mint_rejections_total",
			Help: "Total rejected mints by reason",
		},
		[]string{"reason"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wat_db_tx_seconds",
			Help:    "Duration of ledger transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wat_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wat_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
