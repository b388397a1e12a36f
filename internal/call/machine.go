package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/capture"
	"github.com/satriahrh/concierge-voice/internal/config"
	"github.com/satriahrh/concierge-voice/internal/metrics"
	"github.com/satriahrh/concierge-voice/internal/netquality"
	"github.com/satriahrh/concierge-voice/internal/noise"
	"github.com/satriahrh/concierge-voice/internal/playback"
	"github.com/satriahrh/concierge-voice/internal/transcript"
)

var (
	// ErrCallInProgress is returned by Start when the machine is not idle
	ErrCallInProgress = errors.New("a call is already in progress")
	// ErrNoActiveCall is returned by End when there is nothing to end
	ErrNoActiveCall = errors.New("no active call")
	// ErrConnectionInsufficient blocks a call on a link too poor for voice
	ErrConnectionInsufficient = errors.New("connection is not good enough for a voice call")
	// ErrCaptureDenied means the capture device could not be opened
	ErrCaptureDenied = errors.New("capture device access denied")
	// ErrNoCredential means no credential for the speech service was available
	ErrNoCredential = errors.New("no credential for the speech service")
	// ErrReconnectFailed ends a call whose single reconnect attempt was used up or failed
	ErrReconnectFailed = errors.New("reconnect to the speech service failed")
	// ErrSetupTimeout means the speech service never acknowledged the session
	ErrSetupTimeout = errors.New("speech service did not acknowledge the session")
)

const (
	defaultSetupTimeout = 10 * time.Second
	notificationBuffer  = 64
	sinkTimeout         = 5 * time.Second
)

// QualityGate is the view of connection quality the machine needs
type QualityGate interface {
	Sufficient() bool
	Subscribe() (<-chan netquality.Quality, func())
}

// LinkGate reports whether the device's own network link can carry a call
type LinkGate interface {
	Sufficient() bool
}

// Devices are the device-side endpoints of one call
type Devices struct {
	Capture  repositories.CaptureDevice
	Playback repositories.PlaybackDevice
	Link     LinkGate // Optional: the device link is not gated when nil
}

// Deps are the collaborators shared by every call built by a Builder
type Deps struct {
	Dialer       repositories.Dialer
	Credentials  repositories.CredentialProvider
	Instructions repositories.InstructionProvider // Optional: falls back to the profile instruction
	Quality      QualityGate                      // Optional: no gating when nil
	Transcripts  repositories.TranscriptSink      // Optional: utterances are only notified when nil
	Tools        *Registry
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	SetupTimeout time.Duration
}

// pipeline holds the per-call audio and transcript components
type pipeline struct {
	encoder    *capture.Encoder
	noise      *noise.Monitor
	scheduler  *playback.Scheduler
	aggregator *transcript.Aggregator
}

// Machine drives one device's calls through idle, starting, active and stopping.
// It runs at most one call at a time and can be reused after a call ends.
type Machine struct {
	profile      config.Profile
	base         entities.SessionConfig
	deviceID     string
	devices      Devices
	deps         Deps
	clock        clock.Clock
	logger       *zap.Logger
	metrics      *metrics.Metrics
	setupTimeout time.Duration

	notifications chan entities.Notification

	mu            sync.Mutex
	state         entities.CallState
	session       *entities.CallSession
	generation    uint64 // bumped per call
	connection    uint64 // bumped whenever the transport is replaced or dropped
	transport     repositories.Transport
	pipeline      *pipeline
	sessionConfig entities.SessionConfig
	vad           entities.VADProfile
	endAfterTurn  bool

	ctx         context.Context
	cancel      context.CancelFunc
	group       *errgroup.Group
	abortStart  context.CancelFunc
	abortReason entities.EndReason

	warningTimer   *clock.Timer
	hardStopTimer  *clock.Timer
	reconnectTimer *clock.Timer
}

// Notifications delivers state changes, advisories, utterances and call endings.
// The channel is shared by every call the machine runs and is never closed.
func (m *Machine) Notifications() <-chan entities.Notification {
	return m.notifications
}

// State returns the current lifecycle state
func (m *Machine) State() entities.CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a snapshot of the current or most recent call, or nil
func (m *Machine) Session() *entities.CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	snapshot := *m.session
	return &snapshot
}

// Profile returns the profile the machine was built from
func (m *Machine) Profile() config.Profile {
	return m.profile
}

// Start runs the startup steps and returns once the speech service has
// acknowledged the session. A failed step undoes the earlier ones.
func (m *Machine) Start(ctx context.Context) (*entities.CallSession, error) {
	m.mu.Lock()
	if m.state != entities.CallStateIdle {
		m.mu.Unlock()
		return nil, ErrCallInProgress
	}
	m.generation++
	gen := m.generation
	m.state = entities.CallStateStarting
	m.session = entities.NewCallSession(m.deviceID, m.profile.Name, m.clock.Now())
	m.vad = m.profile.QuietVAD
	m.endAfterTurn = false
	startCtx, abort := context.WithCancel(ctx)
	m.abortStart = abort
	m.abortReason = entities.EndReasonStartFailed
	callID := m.session.ID
	m.mu.Unlock()
	defer abort()

	m.logger.Info("Starting call", zap.String("callID", callID), zap.String("profile", m.profile.Name))
	m.notifyState(callID, entities.CallStateStarting)

	steps := m.startupSteps()
	s := &startup{}
	if err := runSteps(startCtx, m.logger, steps, s); err != nil {
		m.failStart(callID, err)
		return nil, err
	}

	m.mu.Lock()
	if startCtx.Err() != nil {
		// Ended while the last step was finishing
		m.mu.Unlock()
		for i := len(steps) - 1; i >= 0; i-- {
			steps[i].Compensate(s)
		}
		err := startCtx.Err()
		m.failStart(callID, err)
		return nil, err
	}

	callCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(callCtx)
	m.ctx = callCtx
	m.cancel = cancel
	m.group = group
	m.abortStart = nil
	m.state = entities.CallStateActive
	m.session.MarkActive(m.clock.Now())
	m.transport = s.transport
	m.pipeline = s.pipeline
	m.sessionConfig = s.config
	m.connection++
	conn := m.connection
	m.armSessionTimers(gen)
	m.startPipeline(groupCtx, group, gen, s.pipeline)
	go m.consume(gen, conn, s.transport)
	snapshot := *m.session
	m.mu.Unlock()

	m.metrics.CallsStarted.Inc()
	m.metrics.ActiveCalls.Inc()

	if m.profile.OpeningUtterance != "" {
		if err := s.transport.SendText(m.profile.OpeningUtterance); err != nil {
			m.logger.Warn("Failed to send opening utterance", zap.String("callID", callID), zap.Error(err))
		}
	}

	m.logger.Info("Call active", zap.String("callID", callID))
	m.notifyState(callID, entities.CallStateActive)
	return &snapshot, nil
}

// failStart returns a call that never became active to idle
func (m *Machine) failStart(callID string, cause error) {
	m.notifyState(callID, entities.CallStateStopping)

	m.mu.Lock()
	reason := m.abortReason
	var recorded error
	if reason == entities.EndReasonStartFailed {
		recorded = cause
	}
	m.session.End(reason, recorded, m.clock.Now())
	m.state = entities.CallStateIdle
	m.abortStart = nil
	m.mu.Unlock()

	m.metrics.CallsEnded.WithLabelValues(string(reason)).Inc()

	if errors.Is(cause, ErrConnectionInsufficient) {
		m.advise(callID, entities.AdvisoryConnectionUnstable)
	}
	ended := entities.Notification{Kind: entities.NotificationCallEnded, CallID: callID, Reason: reason}
	if recorded != nil {
		m.logger.Warn("Call failed to start", zap.String("callID", callID), zap.Error(cause))
		m.notify(entities.Notification{Kind: entities.NotificationError, CallID: callID, Error: cause.Error()})
		ended.Error = cause.Error()
	}
	m.notify(ended)
	m.notifyState(callID, entities.CallStateIdle)
}

// End ends the current call. A call still starting is aborted.
func (m *Machine) End(reason entities.EndReason) error {
	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	if !m.terminate(gen, reason, nil) {
		return ErrNoActiveCall
	}
	return nil
}

// terminate tears the call down. Only the first caller for a generation
// does the work; later callers and stale timers return false.
func (m *Machine) terminate(gen uint64, reason entities.EndReason, cause error) bool {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return false
	}
	switch m.state {
	case entities.CallStateStarting:
		m.abortReason = reason
		if m.abortStart != nil {
			m.abortStart()
		}
		m.mu.Unlock()
		return true
	case entities.CallStateActive:
	default:
		m.mu.Unlock()
		return false
	}

	m.state = entities.CallStateStopping
	t := m.transport
	m.transport = nil
	m.connection++
	stopTimer(&m.warningTimer)
	stopTimer(&m.hardStopTimer)
	stopTimer(&m.reconnectTimer)
	p := m.pipeline
	m.pipeline = nil
	cancel, group := m.cancel, m.group
	callID := m.session.ID
	m.mu.Unlock()

	m.logger.Info("Ending call", zap.String("callID", callID), zap.String("reason", string(reason)))
	m.notifyState(callID, entities.CallStateStopping)

	if t != nil {
		if err := t.EndActivity(); err != nil {
			m.logger.Debug("Failed to send end of turn", zap.Error(err))
		}
		if err := t.Close(); err != nil {
			m.logger.Debug("Failed to close transport", zap.Error(err))
		}
	}

	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, capture.ErrCaptureLost) {
		m.logger.Debug("Call goroutine exited with error", zap.Error(err))
	}

	p.scheduler.Close()
	p.aggregator.Close()
	m.drainUtterances(p.aggregator)
	for _, u := range p.aggregator.Flush() {
		m.publishUtterance(u)
	}

	if err := m.devices.Capture.Close(); err != nil {
		m.logger.Warn("Failed to release capture device", zap.Error(err))
	}

	m.mu.Lock()
	now := m.clock.Now()
	m.session.End(reason, cause, now)
	m.state = entities.CallStateIdle
	ended := *m.session
	m.mu.Unlock()

	m.metrics.ActiveCalls.Dec()
	m.metrics.CallsEnded.WithLabelValues(string(reason)).Inc()
	m.metrics.CallDuration.Observe(ended.Duration(now).Seconds())

	if reason.IsError() {
		m.logger.Error("Call ended with error", zap.String("callID", callID), zap.String("reason", string(reason)), zap.Error(cause))
		if cause != nil {
			m.notify(entities.Notification{Kind: entities.NotificationError, CallID: callID, Error: cause.Error()})
		}
	} else {
		m.logger.Info("Call ended", zap.String("callID", callID), zap.String("reason", string(reason)),
			zap.Duration("duration", ended.Duration(now)), zap.Int("interruptions", ended.Interruptions))
	}
	m.notify(entities.Notification{
		Kind:   entities.NotificationCallEnded,
		CallID: callID,
		Reason: reason,
		Error:  ended.Error,
	})
	m.notifyState(callID, entities.CallStateIdle)
	return true
}

func stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// armSessionTimers schedules the ending-soon warning and the hard stop; the
// caller holds the lock
func (m *Machine) armSessionTimers(gen uint64) {
	if lead := m.profile.MaxDuration - m.profile.WarningLead; m.profile.WarningLead > 0 && lead > 0 {
		m.warningTimer = m.clock.AfterFunc(lead, func() { m.warnEndingSoon(gen) })
	}
	m.hardStopTimer = m.clock.AfterFunc(m.profile.MaxDuration, func() {
		m.terminate(gen, entities.EndReasonTimeout, nil)
	})
}

func (m *Machine) warnEndingSoon(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.state != entities.CallStateActive {
		m.mu.Unlock()
		return
	}
	callID := m.session.ID
	m.mu.Unlock()

	m.advise(callID, entities.AdvisorySessionEndingSoon)
}

// startPipeline launches the per-call goroutines under the call's errgroup
func (m *Machine) startPipeline(ctx context.Context, group *errgroup.Group, gen uint64, p *pipeline) {
	group.Go(func() error {
		err := p.encoder.Run(ctx, m.devices.Capture)
		if errors.Is(err, capture.ErrCaptureLost) {
			go m.terminate(gen, entities.EndReasonCaptureLost, err)
		}
		return err
	})
	group.Go(func() error {
		m.forwardAudio(p.encoder.Envelopes())
		return nil
	})
	group.Go(func() error {
		p.noise.Run(ctx)
		return nil
	})
	group.Go(func() error {
		m.watchNoise(ctx, gen, p.noise)
		return nil
	})
	group.Go(func() error {
		m.collectUtterances(ctx, p.aggregator)
		return nil
	})
	if m.deps.Quality != nil {
		group.Go(func() error {
			m.watchQuality(ctx, gen)
			return nil
		})
	}
}

// forwardAudio sends encoder envelopes to whichever transport is current.
// Envelopes captured while reconnecting are dropped.
func (m *Machine) forwardAudio(envelopes <-chan entities.AudioEnvelope) {
	for envelope := range envelopes {
		m.mu.Lock()
		t := m.transport
		m.mu.Unlock()
		if t == nil {
			m.metrics.DroppedEnvelopes.Inc()
			continue
		}
		if err := t.SendAudio(envelope); err != nil {
			m.logger.Debug("Failed to send audio", zap.Error(err))
			m.metrics.DroppedEnvelopes.Inc()
		}
	}
}

func (m *Machine) watchNoise(ctx context.Context, gen uint64, monitor *noise.Monitor) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-monitor.Signals():
			switch signal.Kind {
			case entities.NoiseProfileChange:
				m.applyNoiseProfile(ctx, gen, signal.Noisy)
			case entities.NoiseAdvisory:
				m.adviseCurrent(entities.AdvisoryNoisyEnvironment)
			case entities.NoiseFallbackOffer:
				m.adviseCurrent(entities.AdvisoryTextFallback)
			}
		}
	}
}

// applyNoiseProfile switches VAD sensitivity on the live session. While
// reconnecting the profile is only recorded; the resumed session picks it up.
func (m *Machine) applyNoiseProfile(ctx context.Context, gen uint64, noisy bool) {
	vad := m.profile.QuietVAD
	if noisy {
		vad = m.profile.NoisyVAD
	}

	m.mu.Lock()
	if m.generation != gen || m.state != entities.CallStateActive {
		m.mu.Unlock()
		return
	}
	m.vad = vad
	t := m.transport
	m.mu.Unlock()

	m.metrics.NoiseProfileChanges.WithLabelValues(vad.Name).Inc()
	m.logger.Info("Switching VAD profile", zap.String("profile", vad.Name), zap.Bool("noisy", noisy))
	if t == nil {
		return
	}
	if err := t.Reconfigure(ctx, vad); err != nil {
		m.logger.Warn("Failed to reconfigure VAD", zap.String("profile", vad.Name), zap.Error(err))
	}
}

func (m *Machine) watchQuality(ctx context.Context, gen uint64) {
	updates, unsubscribe := m.deps.Quality.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-updates:
			if !ok {
				return
			}
			if q.Sufficient {
				continue
			}
			m.logger.Warn("Connection degraded during call",
				zap.String("class", string(q.Class)), zap.Duration("rtt", q.RTT), zap.Int("failures", q.Failures))
			m.adviseCurrent(entities.AdvisoryConnectionUnstable)
		}
	}
}

func (m *Machine) collectUtterances(ctx context.Context, aggregator *transcript.Aggregator) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-aggregator.Utterances():
			m.publishUtterance(u)
		}
	}
}

func (m *Machine) drainUtterances(aggregator *transcript.Aggregator) {
	for {
		select {
		case u := <-aggregator.Utterances():
			m.publishUtterance(u)
		default:
			return
		}
	}
}

// publishUtterance persists a finalized utterance and notifies the device
func (m *Machine) publishUtterance(u entities.Utterance) {
	m.mu.Lock()
	u.CallID = m.session.ID
	u.DeviceID = m.deviceID
	m.mu.Unlock()

	m.metrics.Utterances.WithLabelValues(string(u.Role)).Inc()

	if m.deps.Transcripts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := m.deps.Transcripts.SaveUtterance(ctx, u); err != nil {
			m.logger.Warn("Failed to save utterance", zap.String("callID", u.CallID), zap.Error(err))
		}
		cancel()
	}

	m.notify(entities.Notification{
		Kind:      entities.NotificationUtterance,
		CallID:    u.CallID,
		Utterance: &u,
	})
}

// consume runs the event loop for one transport connection
func (m *Machine) consume(gen, conn uint64, t repositories.Transport) {
	for event := range t.Events() {
		m.handleEvent(gen, conn, t, event)
	}
}

func (m *Machine) handleEvent(gen, conn uint64, t repositories.Transport, event entities.LiveEvent) {
	m.mu.Lock()
	if m.generation != gen || m.connection != conn || m.state != entities.CallStateActive {
		m.mu.Unlock()
		return
	}
	p := m.pipeline
	m.mu.Unlock()

	switch e := event.(type) {
	case entities.AudioFrame:
		p.scheduler.Enqueue(e)

	case entities.TranscriptFragment:
		p.aggregator.Add(e.Role, e.Text)

	case entities.Interrupted:
		m.interrupt(gen, p)

	case entities.TurnComplete:
		m.mu.Lock()
		hangUp := m.endAfterTurn
		m.mu.Unlock()
		if hangUp {
			go m.terminate(gen, entities.EndReasonTool, nil)
		}

	case entities.ToolCall:
		m.handleToolCall(gen, t, e)

	case entities.ResumptionUpdate:
		if e.Resumable {
			m.mu.Lock()
			m.session.UpdateResumptionHandle(e.Handle)
			m.mu.Unlock()
		}

	case entities.GoAway:
		m.logger.Warn("Speech service is going away", zap.Duration("timeLeft", e.TimeLeft))

	case entities.SetupComplete:
		m.logger.Debug("Session setup acknowledged again")

	case entities.Closed:
		m.onClosed(gen, conn, e)
	}
}

// interrupt flushes playback and the assistant's partial transcript. It is
// safe to call repeatedly; a second flush finds nothing to stop.
func (m *Machine) interrupt(gen uint64, p *pipeline) {
	p.scheduler.Interrupt()
	p.aggregator.DiscardInFlight(entities.RoleAssistant)
	p.noise.RecordInterruption()

	m.mu.Lock()
	if m.generation == gen && m.session != nil {
		m.session.RecordInterruption()
	}
	m.mu.Unlock()
	m.metrics.Interruptions.Inc()
}

func (m *Machine) handleToolCall(gen uint64, t repositories.Transport, call entities.ToolCall) {
	m.mu.Lock()
	info := CallInfo{CallID: m.session.ID, DeviceID: m.deviceID, Profile: m.profile.Name}
	ctx := m.ctx
	m.mu.Unlock()

	responses, endsCall := runTools(ctx, m.deps.Tools, info, call.Calls)
	if err := t.SendToolResponses(responses); err != nil {
		m.logger.Warn("Failed to send tool responses", zap.String("callID", info.CallID), zap.Error(err))
	}
	if !endsCall {
		return
	}

	m.mu.Lock()
	if m.generation == gen {
		m.endAfterTurn = true
	}
	m.mu.Unlock()
	m.logger.Info("Model asked to end the call", zap.String("callID", info.CallID))
}

// onClosed handles the transport closing under an active call. A normal close
// ends the call; an abrupt one schedules the single reconnect attempt.
func (m *Machine) onClosed(gen, conn uint64, closed entities.Closed) {
	if closed.Normal {
		m.logger.Info("Speech service closed the session", zap.Int("code", closed.Code))
		go m.terminate(gen, entities.EndReasonRemote, nil)
		return
	}

	m.mu.Lock()
	if m.generation != gen || m.connection != conn || m.state != entities.CallStateActive {
		m.mu.Unlock()
		return
	}
	if !m.session.CanReconnect(m.profile.MaxReconnects) {
		m.mu.Unlock()
		m.logger.Error("Transport closed abruptly with no reconnect left", zap.Int("code", closed.Code), zap.Error(closed.Err))
		go m.terminate(gen, entities.EndReasonReconnectFail,
			fmt.Errorf("%w: connection closed abruptly again (code %d)", ErrReconnectFailed, closed.Code))
		return
	}
	m.session.Reconnects++
	m.transport = nil
	m.connection++
	m.reconnectTimer = m.clock.AfterFunc(m.profile.ReconnectDelay, func() { m.reconnect(gen) })
	callID := m.session.ID
	m.mu.Unlock()

	m.metrics.Reconnects.Inc()
	m.logger.Warn("Transport closed abruptly, reconnecting",
		zap.String("callID", callID), zap.Int("code", closed.Code), zap.Duration("delay", m.profile.ReconnectDelay), zap.Error(closed.Err))
}

// reconnect resumes the session on a fresh transport. Capture keeps running
// and the opening utterance is not sent again.
func (m *Machine) reconnect(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || m.state != entities.CallStateActive {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	cfg := m.sessionConfig.WithResumption(m.session.ResumptionHandle)
	cfg.VAD = m.vad
	ctx := m.ctx
	p := m.pipeline
	callID := m.session.ID
	m.mu.Unlock()

	if cfg.ResumptionHandle == "" {
		m.logger.Warn("Reconnecting without a resumption handle", zap.String("callID", callID))
	}

	t, err := m.redial(ctx, cfg, func(event entities.LiveEvent) {
		if _, ok := event.(entities.Interrupted); ok {
			m.interrupt(gen, p)
		}
	})
	if err != nil {
		m.logger.Error("Reconnect failed", zap.String("callID", callID), zap.Error(err))
		m.terminate(gen, entities.EndReasonReconnectFail, fmt.Errorf("%w: %v", ErrReconnectFailed, err))
		return
	}

	m.mu.Lock()
	if m.generation != gen || m.state != entities.CallStateActive {
		m.mu.Unlock()
		t.Close()
		return
	}
	m.transport = t
	m.connection++
	conn := m.connection
	m.mu.Unlock()

	go m.consume(gen, conn, t)
	m.logger.Info("Reconnected to speech service", zap.String("callID", callID))
}

func (m *Machine) redial(ctx context.Context, cfg entities.SessionConfig, early func(entities.LiveEvent)) (repositories.Transport, error) {
	credential, err := m.credential(ctx)
	if err != nil {
		return nil, err
	}
	t, err := m.deps.Dialer.Dial(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}
	if err := m.awaitSetup(ctx, t, cfg, early); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// sessionConfigFor builds the configuration for a new call
func (m *Machine) sessionConfigFor(ctx context.Context) entities.SessionConfig {
	cfg := m.base
	cfg.VAD = m.profile.QuietVAD
	if m.deps.Instructions == nil {
		return cfg
	}

	instruction, err := m.deps.Instructions.Instruction(ctx, m.profile.Name, m.deviceID)
	if err != nil {
		m.logger.Warn("Failed to load system instruction, using profile default", zap.String("profile", m.profile.Name), zap.Error(err))
		return cfg
	}
	if instruction != "" {
		cfg.SystemInstruction = instruction
	}
	return cfg
}

func (m *Machine) newPipeline() (*pipeline, error) {
	monitor, err := noise.NewMonitor(m.profile.Noise, m.clock, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create noise monitor: %w", err)
	}
	encoder, err := capture.NewEncoder(capture.Config{}, m.clock, monitor, m.logger, m.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return &pipeline{
		encoder:    encoder,
		noise:      monitor,
		scheduler:  playback.NewScheduler(m.devices.Playback, m.profile.Playback, m.clock, m.logger, m.metrics),
		aggregator: transcript.NewAggregator(m.profile.TranscriptDelay, m.clock, m.logger),
	}, nil
}

func (m *Machine) notifyState(callID string, state entities.CallState) {
	m.notify(entities.Notification{Kind: entities.NotificationState, CallID: callID, State: state})
}

func (m *Machine) advise(callID string, advisory entities.Advisory) {
	m.notify(entities.Notification{
		Kind:     entities.NotificationAdvisory,
		CallID:   callID,
		Advisory: advisory,
		Message:  advisory.Message(),
	})
}

func (m *Machine) adviseCurrent(advisory entities.Advisory) {
	m.mu.Lock()
	callID := m.session.ID
	m.mu.Unlock()
	m.advise(callID, advisory)
}

func (m *Machine) notify(n entities.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = m.clock.Now()
	}
	select {
	case m.notifications <- n:
	default:
		m.logger.Warn("Notification channel full, dropping notification", zap.String("type", string(n.Kind)))
	}
}
