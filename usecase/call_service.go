package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/call"
	"github.com/satriahrh/concierge-voice/internal/config"
)

var (
	// ErrCallRejected wraps every failure that happens before a call starts
	ErrCallRejected = errors.New("call rejected")

	ErrUnknownProfile = fmt.Errorf("%w: unknown profile", ErrCallRejected)
)

// CallService keeps one call per device and forwards its notifications to
// whoever started it
type CallService struct {
	builder     *call.Builder
	profiles    map[string]config.Profile
	transcripts repositories.TranscriptSink
	clock       clock.Clock
	logger      *zap.Logger

	mu    sync.Mutex
	calls map[string]*deviceCall
}

type deviceCall struct {
	machine  *call.Machine
	starting bool
	lastUsed time.Time

	stop    chan struct{}
	done    chan struct{}
	retired bool
}

// NewCallService creates a new call service
func NewCallService(
	builder *call.Builder,
	profiles map[string]config.Profile,
	transcripts repositories.TranscriptSink,
	clk clock.Clock,
	logger *zap.Logger,
) *CallService {
	if clk == nil {
		clk = clock.New()
	}
	return &CallService{
		builder:     builder,
		profiles:    profiles,
		transcripts: transcripts,
		clock:       clk,
		logger:      logger,
		calls:       make(map[string]*deviceCall),
	}
}

// StartCall builds a fresh call for the device and starts it. An empty
// profile selects the guest profile.
func (s *CallService) StartCall(
	ctx context.Context,
	deviceID, profileName string,
	devices call.Devices,
	notify func(entities.Notification),
) (*entities.CallSession, error) {
	if profileName == "" {
		profileName = config.ProfileGuest
	}
	profile, ok := s.profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profileName)
	}

	s.mu.Lock()
	if previous := s.calls[deviceID]; previous != nil {
		if previous.starting || previous.machine.State() != entities.CallStateIdle {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrCallRejected, call.ErrCallInProgress)
		}
		previous.retire()
	}

	machine, err := s.builder.Build(profile, deviceID, devices)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrCallRejected, err)
	}
	current := &deviceCall{
		machine:  machine,
		starting: true,
		lastUsed: s.clock.Now(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.calls[deviceID] = current
	s.mu.Unlock()

	go current.forward(notify)

	session, err := machine.Start(ctx)

	s.mu.Lock()
	current.starting = false
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	s.logger.Info("Call started",
		zap.String("deviceID", deviceID),
		zap.String("callID", session.ID),
		zap.String("profile", profileName))
	return session, nil
}

// EndCall ends the device's active or starting call
func (s *CallService) EndCall(deviceID string, reason entities.EndReason) error {
	s.mu.Lock()
	current := s.calls[deviceID]
	s.mu.Unlock()

	if current == nil {
		return call.ErrNoActiveCall
	}
	return current.machine.End(reason)
}

// Session returns a snapshot of the device's latest call
func (s *CallService) Session(deviceID string) (*entities.CallSession, bool) {
	s.mu.Lock()
	current := s.calls[deviceID]
	s.mu.Unlock()

	if current == nil {
		return nil, false
	}
	session := current.machine.Session()
	return session, session != nil
}

// Transcript returns the stored utterances of a call
func (s *CallService) Transcript(ctx context.Context, callID string) ([]entities.Utterance, error) {
	if s.transcripts == nil {
		return nil, errors.New("transcript storage is not configured")
	}
	return s.transcripts.ListByCall(ctx, callID)
}

// Shutdown ends every call and waits for their notifications to be delivered
func (s *CallService) Shutdown() {
	s.mu.Lock()
	calls := make([]*deviceCall, 0, len(s.calls))
	for id, current := range s.calls {
		calls = append(calls, current)
		delete(s.calls, id)
	}
	s.mu.Unlock()

	for _, current := range calls {
		if err := current.machine.End(entities.EndReasonShutdown); err != nil && !errors.Is(err, call.ErrNoActiveCall) {
			s.logger.Warn("Failed to end call on shutdown", zap.Error(err))
		}
		s.mu.Lock()
		current.retire()
		s.mu.Unlock()
		<-current.done
	}
}

// StartCleanup periodically forgets devices whose call has been idle longer
// than idleAfter. It stops when ctx is done.
func (s *CallService) StartCleanup(ctx context.Context, interval, idleAfter time.Duration) {
	go func() {
		ticker := s.clock.Ticker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.sweepIdle(idleAfter); removed > 0 {
					s.logger.Info("Removed idle devices", zap.Int("count", removed))
				}
			}
		}
	}()
	s.logger.Info("Call cleanup started", zap.Duration("interval", interval))
}

func (s *CallService) sweepIdle(idleAfter time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, current := range s.calls {
		if current.starting || current.machine.State() != entities.CallStateIdle {
			continue
		}
		if s.clock.Since(current.idleSince()) < idleAfter {
			continue
		}
		current.retire()
		delete(s.calls, id)
		removed++
	}
	return removed
}

// idleSince is when the device last started or finished a call
func (d *deviceCall) idleSince() time.Time {
	since := d.lastUsed
	if session := d.machine.Session(); session != nil && session.EndedAt != nil && session.EndedAt.After(since) {
		since = *session.EndedAt
	}
	return since
}

// retire stops forwarding once buffered notifications are delivered. Callers
// hold the service lock.
func (d *deviceCall) retire() {
	if d.retired {
		return
	}
	d.retired = true
	close(d.stop)
}

func (d *deviceCall) forward(notify func(entities.Notification)) {
	defer close(d.done)
	notifications := d.machine.Notifications()
	for {
		select {
		case n := <-notifications:
			notify(n)
		case <-d.stop:
			for {
				select {
				case n := <-notifications:
					notify(n)
				default:
					return
				}
			}
		}
	}
}
