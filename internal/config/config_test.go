package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestValidateConfig(t *testing.T) {
	valid := Config{JWTSecret: "s", Transport: TransportGemini, GeminiAPIKey: "k", Storage: StorageMemory}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"gemini without key", func(c *Config) { c.GeminiAPIKey = "" }, true},
		{"relay without url", func(c *Config) { c.Transport = TransportRelay; c.RelaySecret = "r" }, true},
		{"relay", func(c *Config) { c.Transport = TransportRelay; c.RelayURL = "wss://relay"; c.RelaySecret = "r" }, false},
		{"mock", func(c *Config) { c.Transport = TransportMock; c.GeminiAPIKey = "" }, false},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }, true},
		{"mongo without uri", func(c *Config) { c.Storage = StorageMongo }, true},
		{"badger without path", func(c *Config) { c.Storage = StorageBadger }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := ValidateConfig(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	c := ApplyDefaults(Config{RelayURL: "wss://relay"}, zaptest.NewLogger(t))
	if c.Port != "8080" {
		t.Errorf("Expected default port, got %q", c.Port)
	}
	if c.Transport != TransportRelay {
		t.Errorf("Expected relay transport when RELAY_URL is set, got %q", c.Transport)
	}
	if c.Storage != StorageMemory {
		t.Errorf("Expected memory storage by default, got %q", c.Storage)
	}
	if c.ProbeURL != "https://relay/" {
		t.Errorf("Unexpected probe URL %q", c.ProbeURL)
	}
}

func TestApplyDefaultsTargetsSpeechServiceHost(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want string
	}{
		{"secure relay", Config{RelayURL: "wss://relay.example.com:8443/live"}, "https://relay.example.com:8443/"},
		{"plain relay", Config{RelayURL: "ws://10.0.0.5:9000/ws"}, "http://10.0.0.5:9000/"},
		{"gemini", Config{GeminiAPIKey: "k"}, GeminiProbeURL},
		{"mock runs in-process", Config{Port: "9090"}, "http://localhost:9090/api/v1/ping"},
		{"explicit", Config{GeminiAPIKey: "k", ProbeURL: "https://probe.example.com/ping"}, "https://probe.example.com/ping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ApplyDefaults(tt.in, zaptest.NewLogger(t))
			if c.ProbeURL != tt.want {
				t.Errorf("ProbeURL = %q, want %q", c.ProbeURL, tt.want)
			}
		})
	}
}

func TestApplyDefaultsTransport(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want string
	}{
		{"relay url wins", Config{RelayURL: "wss://relay", GeminiAPIKey: "k"}, TransportRelay},
		{"gemini key", Config{GeminiAPIKey: "k"}, TransportGemini},
		{"nothing configured", Config{}, TransportMock},
		{"explicit", Config{Transport: TransportGemini}, TransportGemini},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ApplyDefaults(tt.in, zaptest.NewLogger(t))
			if c.Transport != tt.want {
				t.Errorf("Transport = %q, want %q", c.Transport, tt.want)
			}
		})
	}
}

func TestParseDeviceKeys(t *testing.T) {
	keys := ParseDeviceKeys("lobby-tablet:abc, villa-2:def,broken,:nokey,empty:")
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %v", keys)
	}
	if keys["lobby-tablet"] != "abc" || keys["villa-2"] != "def" {
		t.Errorf("Unexpected keys %v", keys)
	}
	if len(ParseDeviceKeys("")) != 0 {
		t.Error("Expected no keys from an empty string")
	}
}

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	for _, name := range []string{ProfileGuest, ProfileSetup} {
		p, ok := profiles[name]
		if !ok {
			t.Fatalf("Expected built-in profile %s", name)
		}
		if err := ValidateProfile(p); err != nil {
			t.Errorf("Built-in profile %s is invalid: %v", name, err)
		}
		if p.MaxDuration != 14*time.Minute || p.WarningLead != time.Minute {
			t.Errorf("Unexpected session limits for %s: %s/%s", name, p.MaxDuration, p.WarningLead)
		}
		if p.MaxReconnects != 1 || p.ReconnectDelay != 500*time.Millisecond {
			t.Errorf("Unexpected reconnect policy for %s", name)
		}
	}
}

func TestLoadProfilesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := `
profiles:
  - name: guest
    voice: Kore
    language: de-DE
    max_duration: 10m
    tools: [lookup_property]
    noise:
      noisy_threshold: 0.05
      quiet_threshold: 0.03
  - name: spa
    instruction: You book spa treatments.
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write profiles: %v", err)
	}

	profiles, err := LoadProfiles(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("LoadProfiles failed: %v", err)
	}

	guest := profiles[ProfileGuest]
	if guest.Voice != "Kore" || guest.Language != "de-DE" || guest.MaxDuration != 10*time.Minute {
		t.Errorf("Guest profile not overridden: %+v", guest)
	}
	if guest.Noise.NoisyThreshold != 0.05 {
		t.Errorf("Expected noise override, got %+v", guest.Noise)
	}
	if _, ok := profiles[ProfileSetup]; !ok {
		t.Error("Expected built-in setup profile to remain")
	}
	spa, ok := profiles["spa"]
	if !ok {
		t.Fatal("Expected custom spa profile")
	}
	if spa.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("Expected defaults applied to custom profile, got %s", spa.ReconnectDelay)
	}
}

func TestLoadProfilesMissingFile(t *testing.T) {
	profiles, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("Expected 2 built-in profiles, got %d", len(profiles))
	}
}

func TestLoadProfilesRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := "profiles:\n  - name: broken\n    max_duration: 30s\n    warning_lead: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write profiles: %v", err)
	}
	if _, err := LoadProfiles(path, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for warning lead longer than max duration")
	}
}
