package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/internal/noise"
	"github.com/satriahrh/concierge-voice/internal/playback"
)

// Built-in profile names
const (
	ProfileGuest = "guest"
	ProfileSetup = "setup"
)

// Profile describes one flavour of voice call. The guest call and the
// property-setup interview run the same pipeline with different profiles.
type Profile struct {
	Name             string   `yaml:"name"`
	Model            string   `yaml:"model"`
	Voice            string   `yaml:"voice"`
	Language         string   `yaml:"language"`
	Instruction      string   `yaml:"instruction"`
	OpeningUtterance string   `yaml:"opening_utterance"`
	Tools            []string `yaml:"tools"`

	MaxDuration     time.Duration `yaml:"max_duration"`
	WarningLead     time.Duration `yaml:"warning_lead"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	TranscriptDelay time.Duration `yaml:"transcript_delay"`

	QuietVAD entities.VADProfile `yaml:"quiet_vad"`
	NoisyVAD entities.VADProfile `yaml:"noisy_vad"`
	Noise    noise.Config        `yaml:"noise"`
	Playback playback.Config     `yaml:"playback"`
}

type profilesFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// DefaultProfiles returns the built-in guest and setup profiles
func DefaultProfiles() map[string]Profile {
	guest := Profile{
		Name:             ProfileGuest,
		Voice:            "Aoede",
		Language:         "en-US",
		Instruction:      "You are the voice concierge for this property. Answer guest questions briefly and warmly.",
		OpeningUtterance: "Hello! Please greet me as my concierge.",
		Tools:            []string{"lookup_property", "end_call"},
	}
	setup := Profile{
		Name:             ProfileSetup,
		Voice:            "Charon",
		Language:         "en-US",
		Instruction:      "You are interviewing a host to learn about their property. Ask one question at a time and record each fact.",
		OpeningUtterance: "Start the property setup interview.",
		Tools:            []string{"record_property_fact", "end_call"},
	}
	return map[string]Profile{
		ProfileGuest: applyProfileDefaults(guest),
		ProfileSetup: applyProfileDefaults(setup),
	}
}

func applyProfileDefaults(p Profile) Profile {
	if p.Model == "" {
		p.Model = "gemini-2.0-flash-live-001"
	}
	if p.Voice == "" {
		p.Voice = "Aoede"
	}
	if p.Language == "" {
		p.Language = "en-US"
	}
	if p.MaxDuration == 0 {
		p.MaxDuration = 14 * time.Minute
	}
	if p.WarningLead == 0 {
		p.WarningLead = time.Minute
	}
	if p.ReconnectDelay == 0 {
		p.ReconnectDelay = 500 * time.Millisecond
	}
	if p.MaxReconnects == 0 {
		p.MaxReconnects = 1
	}
	if p.TranscriptDelay == 0 {
		p.TranscriptDelay = 4 * time.Second
	}
	if p.QuietVAD.Name == "" {
		p.QuietVAD = entities.SensitiveVAD()
	}
	if p.NoisyVAD.Name == "" {
		p.NoisyVAD = entities.NoisyVAD()
	}
	return p
}

// ValidateProfile validates a profile after defaults have been applied
func ValidateProfile(p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.WarningLead >= p.MaxDuration {
		return fmt.Errorf("profile %s: warning lead %s must be shorter than max duration %s", p.Name, p.WarningLead, p.MaxDuration)
	}
	if p.MaxReconnects < 0 {
		return fmt.Errorf("profile %s: max reconnects must not be negative", p.Name)
	}
	if err := noise.ValidateConfig(p.Noise); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return nil
}

// LoadProfiles reads call profiles from a YAML file. Profiles in the file
// replace built-in profiles of the same name; a missing file yields the
// built-in set.
func LoadProfiles(path string, logger *zap.Logger) (map[string]Profile, error) {
	profiles := DefaultProfiles()
	if path == "" {
		logger.Info("Using default call profiles")
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Profiles file not found, using default call profiles", zap.String("path", path))
		return profiles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for _, p := range file.Profiles {
		p = applyProfileDefaults(p)
		if err := ValidateProfile(p); err != nil {
			return nil, err
		}
		profiles[p.Name] = p
		logger.Info("Loaded call profile", zap.String("profile", p.Name), zap.Strings("tools", p.Tools))
	}
	return profiles, nil
}
