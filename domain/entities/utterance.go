package entities

import (
	"errors"
	"time"
)

// Role identifies the speaker of a transcript
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one finalized piece of transcript
type Utterance struct {
	ID        string    `json:"id" bson:"_id"`
	CallID    string    `json:"call_id" bson:"call_id"`
	DeviceID  string    `json:"device_id" bson:"device_id"`
	Role      Role      `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// PropertyFact is a fact captured during the property-setup interview
type PropertyFact struct {
	ID         string    `json:"id" bson:"_id"`
	CallID     string    `json:"call_id" bson:"call_id"`
	PropertyID string    `json:"property_id" bson:"property_id"`
	Topic      string    `json:"topic" bson:"topic"`
	Detail     string    `json:"detail" bson:"detail"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

func (u *Utterance) Validate() error {
	if u.Text == "" {
		return errors.New("text is required")
	}
	if u.Role != RoleUser && u.Role != RoleAssistant {
		return errors.New("invalid role")
	}
	return nil
}

func (f *PropertyFact) Validate() error {
	if f.Topic == "" {
		return errors.New("topic is required")
	}
	if f.Detail == "" {
		return errors.New("detail is required")
	}
	return nil
}
