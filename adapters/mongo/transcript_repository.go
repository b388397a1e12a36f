package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

const (
	utterancesCollection = "utterances"
	factsCollection      = "property_facts"
)

// TranscriptRepository stores call transcripts and setup-interview facts
type TranscriptRepository struct {
	utterances *mongo.Collection
	facts      *mongo.Collection
}

var (
	_ repositories.TranscriptSink = (*TranscriptRepository)(nil)
	_ repositories.FactSink       = (*TranscriptRepository)(nil)
)

// NewTranscriptRepository creates a new MongoDB transcript repository
func NewTranscriptRepository(db *mongo.Database) *TranscriptRepository {
	return &TranscriptRepository{
		utterances: db.Collection(utterancesCollection),
		facts:      db.Collection(factsCollection),
	}
}

// EnsureIndexes creates the lookup indexes used by ListByCall and fact queries
func (r *TranscriptRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.utterances.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "call_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to index utterances: %w", err)
	}
	_, err = r.facts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "property_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to index property facts: %w", err)
	}
	return nil
}

// SaveUtterance implements repositories.TranscriptSink
func (r *TranscriptRepository) SaveUtterance(ctx context.Context, utterance entities.Utterance) error {
	if utterance.ID == "" {
		return errors.New("utterance ID cannot be empty")
	}
	if err := utterance.Validate(); err != nil {
		return err
	}

	_, err := r.utterances.InsertOne(ctx, utterance)
	if err != nil {
		return fmt.Errorf("failed to save utterance: %w", err)
	}
	return nil
}

// ListByCall implements repositories.TranscriptSink
func (r *TranscriptRepository) ListByCall(ctx context.Context, callID string) ([]entities.Utterance, error) {
	if callID == "" {
		return nil, errors.New("call ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := r.utterances.Find(ctx, bson.M{"call_id": callID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances for call %s: %w", callID, err)
	}
	defer cursor.Close(ctx)

	utterances := []entities.Utterance{}
	if err := cursor.All(ctx, &utterances); err != nil {
		return nil, fmt.Errorf("failed to decode utterances: %w", err)
	}
	return utterances, nil
}

// SaveFact implements repositories.FactSink
func (r *TranscriptRepository) SaveFact(ctx context.Context, fact entities.PropertyFact) error {
	if fact.ID == "" {
		return errors.New("fact ID cannot be empty")
	}
	if err := fact.Validate(); err != nil {
		return err
	}

	_, err := r.facts.InsertOne(ctx, fact)
	if err != nil {
		return fmt.Errorf("failed to save property fact: %w", err)
	}
	return nil
}

// ListFacts returns the facts recorded for a property, newest first
func (r *TranscriptRepository) ListFacts(ctx context.Context, propertyID string) ([]entities.PropertyFact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.facts.Find(ctx, bson.M{"property_id": propertyID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts for property %s: %w", propertyID, err)
	}
	defer cursor.Close(ctx)

	facts := []entities.PropertyFact{}
	if err := cursor.All(ctx, &facts); err != nil {
		return nil, fmt.Errorf("failed to decode property facts: %w", err)
	}
	return facts, nil
}
