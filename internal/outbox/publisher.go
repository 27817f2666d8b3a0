// Package outbox relays committed ticket events from the ledger's outbox
// table to RabbitMQ, so consumers see an event iff its mutation committed.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/crdb"
	"github.com/robertarktes/wifi-access-tickets/internal/adapters/rabbit"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
)

type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishBatch(ctx)
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, 50)
	if err != nil {
		p.logger.Error("failed to fetch outbox", err)
		return
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.Error("failed to publish outbox record", err)
			continue
		}
		now := time.Now()
		observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())
		if err := p.repo.MarkPublished(ctx, rec.ID, now, rec.DedupeKey); err != nil {
			p.logger.Error("failed to mark outbox record published", err)
		}
	}
}
