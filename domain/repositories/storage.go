package repositories

import (
	"context"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

// TranscriptSink persists finalized utterances
type TranscriptSink interface {
	SaveUtterance(ctx context.Context, utterance entities.Utterance) error
	ListByCall(ctx context.Context, callID string) ([]entities.Utterance, error)
}

// FactSink persists facts collected in the property-setup interview
type FactSink interface {
	SaveFact(ctx context.Context, fact entities.PropertyFact) error
}
