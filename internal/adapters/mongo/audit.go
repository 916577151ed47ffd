package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hoanghamhok/ticket-booking/internal/domain"
	"github.com/hoanghamhok/ticket-booking/internal/observability"
)

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
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogAction(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	entry := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, entry)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogHold(ctx context.Context, booking domain.Booking) error {
	return a.LogAction(ctx, "booking.held", booking.UserID, map[string]interface{}{
		"booking_id": booking.ID,
		"total":      booking.Total,
		"tickets":    len(booking.Items),
		"expires_at": booking.ExpiresAt.Format(time.RFC3339),
	})
}

func (a *AuditLogger) LogPayment(ctx context.Context, booking domain.Booking) error {
	return a.LogAction(ctx, "booking.paid", booking.UserID, map[string]interface{}{
		"booking_id": booking.ID,
		"total":      booking.Total,
	})
}
