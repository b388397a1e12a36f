package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

var ErrUnknownTopic = errors.New("no answer recorded for topic")

// PropertyDirectory answers guest questions from facts collected in the
// setup interview. Devices are mapped to the property they are installed in.
type PropertyDirectory struct {
	mu         sync.RWMutex
	properties map[string]string            // device_id -> property_id
	answers    map[string]map[string]string // property_id -> topic -> detail
}

var (
	_ repositories.PropertyDirectory = (*PropertyDirectory)(nil)
	_ repositories.FactSink          = (*PropertyDirectory)(nil)
)

// NewPropertyDirectory creates an empty directory
func NewPropertyDirectory() *PropertyDirectory {
	return &PropertyDirectory{
		properties: make(map[string]string),
		answers:    make(map[string]map[string]string),
	}
}

// Assign records which property a device belongs to
func (d *PropertyDirectory) Assign(deviceID, propertyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.properties[deviceID] = propertyID
}

// SaveFact implements repositories.FactSink; later facts on a topic replace
// earlier ones
func (d *PropertyDirectory) SaveFact(ctx context.Context, fact entities.PropertyFact) error {
	if err := fact.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	topics, ok := d.answers[fact.PropertyID]
	if !ok {
		topics = make(map[string]string)
		d.answers[fact.PropertyID] = topics
	}
	topics[normalizeTopic(fact.Topic)] = fact.Detail
	return nil
}

// Lookup implements repositories.PropertyDirectory. Devices without an
// assignment are treated as their own property, which is how the setup
// interview records facts.
func (d *PropertyDirectory) Lookup(ctx context.Context, deviceID, topic string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	propertyID, ok := d.properties[deviceID]
	if !ok {
		propertyID = deviceID
	}
	detail, ok := d.answers[propertyID][normalizeTopic(topic)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return detail, nil
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// FactFanout saves each fact to every sink in order and stops at the first error
type FactFanout []repositories.FactSink

func (f FactFanout) SaveFact(ctx context.Context, fact entities.PropertyFact) error {
	for _, sink := range f {
		if err := sink.SaveFact(ctx, fact); err != nil {
			return err
		}
	}
	return nil
}
