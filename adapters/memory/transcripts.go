package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

// TranscriptStore keeps utterances and property facts in process memory.
// It is the default storage for local runs.
type TranscriptStore struct {
	mu         sync.RWMutex
	utterances map[string][]entities.Utterance // call_id -> utterances
	facts      map[string][]entities.PropertyFact // property_id -> facts
}

var (
	_ repositories.TranscriptSink = (*TranscriptStore)(nil)
	_ repositories.FactSink       = (*TranscriptStore)(nil)
)

// NewTranscriptStore creates an empty store
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{
		utterances: make(map[string][]entities.Utterance),
		facts:      make(map[string][]entities.PropertyFact),
	}
}

// SaveUtterance implements repositories.TranscriptSink
func (s *TranscriptStore) SaveUtterance(ctx context.Context, utterance entities.Utterance) error {
	if utterance.CallID == "" {
		return errors.New("call ID cannot be empty")
	}
	if err := utterance.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances[utterance.CallID] = append(s.utterances[utterance.CallID], utterance)
	return nil
}

// ListByCall implements repositories.TranscriptSink
func (s *TranscriptStore) ListByCall(ctx context.Context, callID string) ([]entities.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	utterances := append([]entities.Utterance{}, s.utterances[callID]...)
	sort.SliceStable(utterances, func(i, j int) bool {
		return utterances[i].Timestamp.Before(utterances[j].Timestamp)
	})
	return utterances, nil
}

// SaveFact implements repositories.FactSink
func (s *TranscriptStore) SaveFact(ctx context.Context, fact entities.PropertyFact) error {
	if err := fact.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.PropertyID] = append(s.facts[fact.PropertyID], fact)
	return nil
}

// Facts returns the facts recorded for a property in insertion order
func (s *TranscriptStore) Facts(propertyID string) []entities.PropertyFact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.PropertyFact{}, s.facts[propertyID]...)
}
