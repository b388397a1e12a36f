package call

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

// StepID names one startup step
type StepID string

const (
	StepCheckConnection StepID = "check_connection"
	StepOpenCapture     StepID = "open_capture"
	StepCredential      StepID = "credential"
	StepInstruction     StepID = "instruction"
	StepDial            StepID = "dial"
	StepConfigure       StepID = "configure"
	StepPipeline        StepID = "pipeline"
)

// startup carries what earlier steps produced to the later ones
type startup struct {
	credential entities.Credential
	config     entities.SessionConfig
	transport  repositories.Transport
	pipeline   *pipeline
}

// step is one unit of call startup. Compensate undoes a completed Execute.
type step interface {
	ID() StepID
	Execute(ctx context.Context, s *startup) error
	Compensate(s *startup)
}

// funcStep adapts a pair of functions to the step interface
type funcStep struct {
	id         StepID
	execute    func(ctx context.Context, s *startup) error
	compensate func(s *startup)
}

func (f funcStep) ID() StepID { return f.id }

func (f funcStep) Execute(ctx context.Context, s *startup) error {
	return f.execute(ctx, s)
}

func (f funcStep) Compensate(s *startup) {
	if f.compensate != nil {
		f.compensate(s)
	}
}

// runSteps executes steps in order. When one fails, every completed step is
// compensated in reverse order and the failing step's error is returned.
func runSteps(ctx context.Context, logger *zap.Logger, steps []step, s *startup) error {
	lastCompleted := -1
	var failure error

	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			failure = err
			break
		}
		if err := st.Execute(ctx, s); err != nil {
			logger.Warn("Startup step failed", zap.String("step", string(st.ID())), zap.Error(err))
			failure = err
			break
		}
		logger.Debug("Startup step completed", zap.String("step", string(st.ID())))
		lastCompleted = i
	}

	if failure == nil {
		return nil
	}

	for i := lastCompleted; i >= 0; i-- {
		logger.Debug("Compensating startup step", zap.String("step", string(steps[i].ID())))
		steps[i].Compensate(s)
	}
	return failure
}

// startupSteps lists the ordered steps that take a call from starting to active
func (m *Machine) startupSteps() []step {
	return []step{
		funcStep{
			id: StepCheckConnection,
			execute: func(ctx context.Context, s *startup) error {
				if m.deps.Quality != nil && !m.deps.Quality.Sufficient() {
					return ErrConnectionInsufficient
				}
				if m.devices.Link != nil && !m.devices.Link.Sufficient() {
					return fmt.Errorf("%w: device link", ErrConnectionInsufficient)
				}
				return nil
			},
		},
		funcStep{
			id: StepOpenCapture,
			execute: func(ctx context.Context, s *startup) error {
				if err := m.devices.Capture.Open(ctx); err != nil {
					return fmt.Errorf("%w: %v", ErrCaptureDenied, err)
				}
				return nil
			},
			compensate: func(s *startup) {
				if err := m.devices.Capture.Close(); err != nil {
					m.logger.Warn("Failed to release capture device", zap.Error(err))
				}
			},
		},
		funcStep{
			id: StepCredential,
			execute: func(ctx context.Context, s *startup) error {
				credential, err := m.credential(ctx)
				if err != nil {
					return err
				}
				s.credential = credential
				return nil
			},
		},
		funcStep{
			id: StepInstruction,
			execute: func(ctx context.Context, s *startup) error {
				s.config = m.sessionConfigFor(ctx)
				return nil
			},
		},
		funcStep{
			id: StepDial,
			execute: func(ctx context.Context, s *startup) error {
				transport, err := m.deps.Dialer.Dial(ctx, s.credential)
				if err != nil {
					return fmt.Errorf("failed to open transport: %w", err)
				}
				s.transport = transport
				return nil
			},
			compensate: func(s *startup) {
				if s.transport != nil {
					s.transport.Close()
				}
			},
		},
		funcStep{
			id: StepConfigure,
			execute: func(ctx context.Context, s *startup) error {
				return m.awaitSetup(ctx, s.transport, s.config, nil)
			},
		},
		funcStep{
			id: StepPipeline,
			execute: func(ctx context.Context, s *startup) error {
				p, err := m.newPipeline()
				if err != nil {
					return err
				}
				s.pipeline = p
				return nil
			},
			compensate: func(s *startup) {
				if s.pipeline != nil {
					s.pipeline.scheduler.Close()
					s.pipeline.aggregator.Close()
				}
			},
		},
	}
}

// credential fetches a usable credential or fails with ErrNoCredential
func (m *Machine) credential(ctx context.Context) (entities.Credential, error) {
	if m.deps.Credentials == nil {
		return entities.Credential{}, ErrNoCredential
	}
	credential, err := m.deps.Credentials.Credential(ctx)
	if err != nil {
		return entities.Credential{}, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	if credential.Token == "" {
		return entities.Credential{}, ErrNoCredential
	}
	return credential, nil
}

// awaitSetup sends the session configuration and waits for the acknowledgement.
// Events arriving before it are passed to early when set.
func (m *Machine) awaitSetup(ctx context.Context, transport repositories.Transport, config entities.SessionConfig, early func(entities.LiveEvent)) error {
	if err := transport.Configure(ctx, config); err != nil {
		return fmt.Errorf("failed to configure session: %w", err)
	}

	timeout := m.clock.Timer(m.setupTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return ErrSetupTimeout
		case event, ok := <-transport.Events():
			if !ok {
				return errors.New("transport closed before setup completed")
			}
			switch e := event.(type) {
			case entities.SetupComplete:
				return nil
			case entities.Closed:
				return fmt.Errorf("transport closed before setup completed (code %d): %v", e.Code, e.Err)
			default:
				if early != nil {
					early(event)
					continue
				}
				m.logger.Debug("Ignoring event before setup completed", zap.String("event", fmt.Sprintf("%T", event)))
			}
		}
	}
}
