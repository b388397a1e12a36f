package call

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/config"
	"github.com/satriahrh/concierge-voice/internal/metrics"
)

// Builder assembles Machines from call profiles. The guest call and the
// setup interview differ only in the profile they are built from.
type Builder struct {
	deps Deps
}

// NewBuilder validates the shared dependencies and fills in defaults
func NewBuilder(deps Deps) (*Builder, error) {
	if deps.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if deps.Credentials == nil {
		return nil, errors.New("credential provider is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Tools == nil {
		deps.Tools = NewRegistry()
	}
	if deps.SetupTimeout <= 0 {
		deps.SetupTimeout = defaultSetupTimeout
	}
	return &Builder{deps: deps}, nil
}

// Build creates an idle Machine for one device
func (b *Builder) Build(profile config.Profile, deviceID string, devices Devices) (*Machine, error) {
	if err := config.ValidateProfile(profile); err != nil {
		return nil, err
	}
	if devices.Capture == nil || devices.Playback == nil {
		return nil, errors.New("capture and playback devices are required")
	}

	tools, err := b.deps.Tools.Declarations(profile.Tools)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	base := entities.SessionConfig{
		Model:               profile.Model,
		Voice:               profile.Voice,
		Language:            profile.Language,
		SystemInstruction:   profile.Instruction,
		Tools:               tools,
		InputTranscription:  true,
		OutputTranscription: true,
		VAD:                 profile.QuietVAD,
	}
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	return &Machine{
		profile:       profile,
		base:          base,
		deviceID:      deviceID,
		devices:       devices,
		deps:          b.deps,
		clock:         b.deps.Clock,
		logger:        b.deps.Logger.With(zap.String("deviceID", deviceID), zap.String("profile", profile.Name)),
		metrics:       b.deps.Metrics,
		setupTimeout:  b.deps.SetupTimeout,
		notifications: make(chan entities.Notification, notificationBuffer),
		state:         entities.CallStateIdle,
	}, nil
}
