package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"pricepulse/models"
)

// MongoDB names.
const (
	MongoDBName          = "pricepulse"
	MongoAlertCollection = "alerts"
)

// StoreOpTimeout bounds every durable-store call so one slow deactivate
// can never stall trigger evaluation of other connections.
const StoreOpTimeout = 5 * time.Second

// AlertStore is the durable side of an alert's life: created on setAlert,
// deactivated exactly once (trigger, replacement, or disconnect), never
// reactivated.
type AlertStore interface {
	Create(ctx context.Context, ownerID string, input models.AlertInput) (*models.Alert, error)
	ListActive(ctx context.Context) ([]models.Alert, error)
	Deactivate(ctx context.Context, alertID string) (*models.Alert, error)
	Close(ctx context.Context) error
}

// Compile-time check
var _ AlertStore = (*MongoAlertStore)(nil)

// MongoAlertStore implements AlertStore on a MongoDB collection.
type MongoAlertStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoAlertStore connects to MongoDB and verifies the connection with
// a ping. A failure here is process-fatal by contract: the service does
// not start without its durable store.
func NewMongoAlertStore(ctx context.Context, uri string, logger *zap.Logger) (*MongoAlertStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("MONGODB_URI is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	store := &MongoAlertStore{
		client:     client,
		collection: client.Database(MongoDBName).Collection(MongoAlertCollection),
		logger:     logger,
	}
	store.createIndexes(ctx)

	logger.Info("alert store connected to MongoDB")
	return store, nil
}

// createIndexes creates the indexes the store queries by.
func (s *MongoAlertStore) createIndexes(ctx context.Context) {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
	})
	if err != nil {
		s.logger.Warn("failed to create alert indexes", zap.Error(err))
	}
}

// Create inserts a new active alert owned by the given connection.
func (s *MongoAlertStore) Create(ctx context.Context, ownerID string, input models.AlertInput) (*models.Alert, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, StoreOpTimeout)
	defer cancel()

	alert := &models.Alert{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		InstrumentID: input.InstrumentID,
		TargetPrice:  input.TargetPrice,
		Condition:    input.Condition,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := s.collection.InsertOne(ctx, alert); err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return alert, nil
}

// ListActive returns every alert still marked active. Includes orphans
// whose owning connection vanished without a clean disconnect.
func (s *MongoAlertStore) ListActive(ctx context.Context) ([]models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, StoreOpTimeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer cursor.Close(ctx)

	var alerts []models.Alert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("decode active alerts: %w", err)
	}
	return alerts, nil
}

// Deactivate marks an alert inactive and returns the updated record.
// Deactivation is irreversible; a missing id yields ErrAlertNotFound.
func (s *MongoAlertStore) Deactivate(ctx context.Context, alertID string) (*models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, StoreOpTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var alert models.Alert
	err := s.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": alertID},
		bson.M{"$set": bson.M{"is_active": false}},
		opts,
	).Decode(&alert)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrAlertNotFound
		}
		return nil, fmt.Errorf("deactivate alert %s: %w", alertID, err)
	}
	return &alert, nil
}

// Ping verifies the MongoDB connection, for readiness checks.
func (s *MongoAlertStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, StoreOpTimeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *MongoAlertStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
