package db

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"codeclash/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client
var MongoDatabase *mongo.Database
var DuelCollection *mongo.Collection

// GetCollection returns a collection by name
func GetCollection(collectionName string) *mongo.Collection {
	return MongoDatabase.Collection(collectionName)
}

// extractDBName parses the database name from the URI, defaulting to "codeclash"
func extractDBName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "codeclash"
	}
	if u.Path != "" && u.Path != "/" {
		return u.Path[1:] // Trim leading '/'
	}
	return "codeclash"
}

// ConnectMongoDB establishes a connection to MongoDB using the provided URI
func ConnectMongoDB(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection with a ping
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	MongoClient = client
	dbName := extractDBName(uri)
	log.Printf("Using database: %s", dbName)

	MongoDatabase = client.Database(dbName)
	DuelCollection = MongoDatabase.Collection("duels")
	return nil
}

// DuelArchiver writes session state through to Mongo after every mutation.
// It is nil-safe: when Mongo is not configured the engine runs in-memory
// only and history endpoints return nothing.
type DuelArchiver struct{}

// NewDuelArchiver returns an archiver, or nil when Mongo is unavailable.
func NewDuelArchiver() *DuelArchiver {
	if MongoDatabase == nil {
		return nil
	}
	return &DuelArchiver{}
}

// ArchiveSession upserts the full session document keyed by session ID.
func (a *DuelArchiver) ArchiveSession(s *models.DuelSession) {
	if a == nil || DuelCollection == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	filter := bson.M{"id": s.ID}
	update := bson.M{"$set": s}
	opts := options.Update().SetUpsert(true)
	if _, err := DuelCollection.UpdateOne(ctx, filter, update, opts); err != nil {
		log.Printf("Error archiving duel %s: %v", s.ID, err)
	}
}

// GetDuelHistory returns the user's finished duels, newest first.
func GetDuelHistory(ctx context.Context, userID string, limit int64) ([]models.DuelSession, error) {
	if DuelCollection == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	filter := bson.M{
		"participants.userId": userID,
		"status":              bson.M{"$in": []string{"completed", "timed_out", "cancelled"}},
	}
	opts := options.Find().SetSort(bson.M{"createdAt": -1}).SetLimit(limit)

	cursor, err := DuelCollection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query duel history: %w", err)
	}
	defer cursor.Close(ctx)

	var duels []models.DuelSession
	if err := cursor.All(ctx, &duels); err != nil {
		return nil, fmt.Errorf("failed to decode duel history: %w", err)
	}
	return duels, nil
}

// GetDuel fetches one archived duel by session ID.
func GetDuel(ctx context.Context, sessionID string) (*models.DuelSession, error) {
	if DuelCollection == nil {
		return nil, fmt.Errorf("%w: persistence not configured", models.ErrNotFound)
	}

	var duel models.DuelSession
	err := DuelCollection.FindOne(ctx, bson.M{"id": sessionID}).Decode(&duel)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("%w: duel %s", models.ErrNotFound, sessionID)
		}
		return nil, err
	}
	return &duel, nil
}
