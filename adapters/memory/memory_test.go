package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/satriahrh/concierge-voice/domain/entities"
)

func TestTranscriptStoreListByCall(t *testing.T) {
	store := NewTranscriptStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	utterances := []entities.Utterance{
		{ID: "2", CallID: "call-1", Role: entities.RoleAssistant, Text: "Welcome!", Timestamp: base.Add(time.Second)},
		{ID: "1", CallID: "call-1", Role: entities.RoleUser, Text: "Hello", Timestamp: base},
		{ID: "3", CallID: "call-2", Role: entities.RoleUser, Text: "Other", Timestamp: base},
	}
	for _, u := range utterances {
		if err := store.SaveUtterance(ctx, u); err != nil {
			t.Fatalf("SaveUtterance() error = %v", err)
		}
	}

	got, err := store.ListByCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("ListByCall() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("Expected call-1 utterances in timestamp order, got %+v", got)
	}

	if err := store.SaveUtterance(ctx, entities.Utterance{CallID: "call-1", Role: entities.RoleUser}); err == nil {
		t.Error("Expected empty text to be rejected")
	}
	if err := store.SaveUtterance(ctx, entities.Utterance{Role: entities.RoleUser, Text: "x"}); err == nil {
		t.Error("Expected missing call ID to be rejected")
	}
}

func TestPropertyDirectory(t *testing.T) {
	directory := NewPropertyDirectory()
	ctx := context.Background()

	// facts recorded by the setup device land on its own property
	err := directory.SaveFact(ctx, entities.PropertyFact{PropertyID: "villa-1", Topic: " WiFi ", Detail: "VillaGuest / sunrise42"})
	if err != nil {
		t.Fatalf("SaveFact() error = %v", err)
	}
	directory.Assign("guest-tablet", "villa-1")

	answer, err := directory.Lookup(ctx, "guest-tablet", "wifi")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if answer != "VillaGuest / sunrise42" {
		t.Errorf("Lookup() = %q", answer)
	}

	answer, err = directory.Lookup(ctx, "villa-1", "WIFI")
	if err != nil || answer == "" {
		t.Errorf("Expected unassigned device to resolve to its own property, got %q, %v", answer, err)
	}

	if _, err := directory.Lookup(ctx, "guest-tablet", "parking"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("Lookup() error = %v, want ErrUnknownTopic", err)
	}
}

func TestFactFanout(t *testing.T) {
	store := NewTranscriptStore()
	directory := NewPropertyDirectory()
	fanout := FactFanout{store, directory}

	fact := entities.PropertyFact{ID: "f1", PropertyID: "villa-1", Topic: "checkout", Detail: "11am"}
	if err := fanout.SaveFact(context.Background(), fact); err != nil {
		t.Fatalf("SaveFact() error = %v", err)
	}
	if len(store.Facts("villa-1")) != 1 {
		t.Error("Expected fact in transcript store")
	}
	if answer, _ := directory.Lookup(context.Background(), "villa-1", "checkout"); answer != "11am" {
		t.Errorf("Expected fact in directory, got %q", answer)
	}

	if err := fanout.SaveFact(context.Background(), entities.PropertyFact{Topic: "x"}); err == nil {
		t.Error("Expected invalid fact to be rejected")
	}
}

func TestStaticInstructions(t *testing.T) {
	instructions := StaticInstructions{"guest": "You are the concierge for device {device_id}."}

	got, err := instructions.Instruction(context.Background(), "guest", "tablet-7")
	if err != nil {
		t.Fatalf("Instruction() error = %v", err)
	}
	if got != "You are the concierge for device tablet-7." {
		t.Errorf("Instruction() = %q", got)
	}

	if got, _ := instructions.Instruction(context.Background(), "setup", "tablet-7"); got != "" {
		t.Errorf("Expected empty instruction for unknown profile, got %q", got)
	}
}
