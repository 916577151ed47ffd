package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hoanghamhok/ticket-booking/internal/observability"
)

// CatalogRepository is the event catalog collaborator. The reservation
// engine only reads it; event metadata CRUD happens elsewhere. Tickets
// are fungible per event, so events carry no seat map.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          uuid.UUID `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Venue       string    `bson:"venue"`
	Date        time.Time `bson:"date"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *CatalogRepository) EventExists(ctx context.Context, id uuid.UUID) (bool, error) {
	count, err := c.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		c.logger.WithError(err).Error("event existence check failed")
		return false, err
	}
	return count > 0, nil
}

// EventNames resolves display names for a set of events in one query.
// Unknown ids are simply absent from the result.
func (c *CatalogRepository) EventNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	cursor, err := c.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	names := make(map[uuid.UUID]string, len(ids))
	for cursor.Next(ctx) {
		var event EventDoc
		if err := cursor.Decode(&event); err != nil {
			return nil, err
		}
		names[event.ID] = event.Name
	}
	return names, cursor.Err()
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.WithError(err).Error("failed to create event")
		return err
	}
	return nil
}
