package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/wifi-access-tickets/internal/domain"
	"github.com/robertarktes/wifi-access-tickets/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records every ticket mutation for the issuing authority.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	Wallet    string    `bson:"wallet"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, wallet domain.Address, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Wallet:    wallet.String(),
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogMint(ctx context.Context, owner domain.Address, ids []uint64, payment string) error {
	data := map[string]interface{}{
		"ticket_ids": ids,
		"payment":    payment,
	}
	return a.LogEvent(ctx, "ticket.minted", owner, data)
}

func (a *AuditLogger) LogActivation(ctx context.Context, t domain.Ticket) error {
	data := map[string]interface{}{
		"ticket_id":    t.ID,
		"activated_at": t.ActivatedAt.Format(time.RFC3339),
		"expires_at":   t.ActivatedAt.Add(t.Duration).Format(time.RFC3339),
	}
	return a.LogEvent(ctx, "ticket.activated", t.Owner, data)
}

func (a *AuditLogger) LogTransfer(ctx context.Context, id uint64, from, to domain.Address) error {
	data := map[string]interface{}{
		"ticket_id": id,
		"to":        to.String(),
	}
	return a.LogEvent(ctx, "ticket.transferred", from, data)
}
