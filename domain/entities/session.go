package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CallState represents the lifecycle state of a call
type CallState string

const (
	CallStateIdle     CallState = "idle"
	CallStateStarting CallState = "starting"
	CallStateActive   CallState = "active"
	CallStateStopping CallState = "stopping"
)

// EndReason records why a call left the active state
type EndReason string

const (
	EndReasonUser          EndReason = "user"
	EndReasonRemote        EndReason = "remote_closed"
	EndReasonTimeout       EndReason = "timeout"
	EndReasonCaptureLost   EndReason = "capture_lost"
	EndReasonReconnectFail EndReason = "reconnect_failed"
	EndReasonStartFailed   EndReason = "start_failed"
	EndReasonTool          EndReason = "tool"
	EndReasonShutdown      EndReason = "shutdown"
)

// IsError reports whether the reason should be surfaced to the user as a failure
func (r EndReason) IsError() bool {
	switch r {
	case EndReasonCaptureLost, EndReasonReconnectFail, EndReasonStartFailed:
		return true
	}
	return false
}

// CallSession represents one call attempt between a device and the speech service
type CallSession struct {
	ID               string     `json:"id"`
	DeviceID         string     `json:"device_id"`
	Profile          string     `json:"profile"`
	State            CallState  `json:"state"`
	ResumptionHandle string     `json:"-"`
	StartedAt        time.Time  `json:"started_at"`
	ActiveAt         *time.Time `json:"active_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Interruptions    int        `json:"interruptions"`
	Reconnects       int        `json:"reconnects"`
	EndReason        EndReason  `json:"end_reason,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// NewCallSession creates a new call session in the starting state
func NewCallSession(deviceID, profile string, now time.Time) *CallSession {
	return &CallSession{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Profile:   profile,
		State:     CallStateStarting,
		StartedAt: now,
	}
}

// MarkActive moves the session into the active state
func (s *CallSession) MarkActive(now time.Time) {
	s.State = CallStateActive
	if s.ActiveAt == nil {
		s.ActiveAt = &now
	}
}

// RecordInterruption increments the barge-in counter and returns the new total
func (s *CallSession) RecordInterruption() int {
	s.Interruptions++
	return s.Interruptions
}

// UpdateResumptionHandle stores the latest handle issued by the remote service.
// Empty handles are ignored so a non-resumable update never erases a usable one.
func (s *CallSession) UpdateResumptionHandle(handle string) {
	if handle == "" {
		return
	}
	s.ResumptionHandle = handle
}

// CanReconnect reports whether another reconnect attempt is allowed
func (s *CallSession) CanReconnect(maxAttempts int) bool {
	return s.Reconnects < maxAttempts
}

// End marks the session as finished
func (s *CallSession) End(reason EndReason, err error, now time.Time) {
	s.State = CallStateIdle
	s.EndReason = reason
	s.EndedAt = &now
	if err != nil {
		s.Error = err.Error()
	}
}

// Duration returns how long the call has been (or was) running
func (s *CallSession) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Validate validates the session data
func (s *CallSession) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Profile == "" {
		return errors.New("profile is required")
	}

	switch s.State {
	case CallStateIdle, CallStateStarting, CallStateActive, CallStateStopping:
	default:
		return errors.New("invalid call state")
	}

	return nil
}
