package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

const (
	utterancePrefix = "utt/"
	factPrefix      = "fact/"
)

// Store is an embedded transcript and fact sink for single-node deployments.
// Keys embed the timestamp so a prefix scan returns records in time order.
type Store struct {
	db *badger.DB
}

var (
	_ repositories.TranscriptSink = (*Store)(nil)
	_ repositories.FactSink       = (*Store)(nil)
)

// Open opens or creates the database under path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil

	return open(opts)
}

// OpenInMemory opens a database that is discarded on Close
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveUtterance implements repositories.TranscriptSink
func (s *Store) SaveUtterance(ctx context.Context, utterance entities.Utterance) error {
	if utterance.CallID == "" || utterance.ID == "" {
		return errors.New("utterance needs a call ID and an ID")
	}
	if err := utterance.Validate(); err != nil {
		return err
	}

	key := fmt.Sprintf("%s%s/%020d/%s", utterancePrefix, utterance.CallID, utterance.Timestamp.UnixNano(), utterance.ID)
	return s.put(key, utterance)
}

// ListByCall implements repositories.TranscriptSink
func (s *Store) ListByCall(ctx context.Context, callID string) ([]entities.Utterance, error) {
	utterances := []entities.Utterance{}
	err := s.scan(utterancePrefix+callID+"/", func(val []byte) error {
		var u entities.Utterance
		if err := json.Unmarshal(val, &u); err != nil {
			return err
		}
		utterances = append(utterances, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances for call %s: %w", callID, err)
	}
	return utterances, nil
}

// SaveFact implements repositories.FactSink
func (s *Store) SaveFact(ctx context.Context, fact entities.PropertyFact) error {
	if fact.PropertyID == "" || fact.ID == "" {
		return errors.New("fact needs a property ID and an ID")
	}
	if err := fact.Validate(); err != nil {
		return err
	}

	key := fmt.Sprintf("%s%s/%020d/%s", factPrefix, fact.PropertyID, fact.CreatedAt.UnixNano(), fact.ID)
	return s.put(key, fact)
}

// ListFacts returns the facts recorded for a property, oldest first
func (s *Store) ListFacts(ctx context.Context, propertyID string) ([]entities.PropertyFact, error) {
	facts := []entities.PropertyFact{}
	err := s.scan(factPrefix+propertyID+"/", func(val []byte) error {
		var f entities.PropertyFact
		if err := json.Unmarshal(val, &f); err != nil {
			return err
		}
		facts = append(facts, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list facts for property %s: %w", propertyID, err)
	}
	return facts, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
