package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Transport kinds
const (
	TransportRelay  = "relay"
	TransportGemini = "gemini"
	TransportMock   = "mock"
)

// Storage kinds
const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
	StorageBadger = "badger"
)

// Config holds process configuration for the voice bridge
type Config struct {
	Port     string
	LogLevel string

	// Device authentication
	JWTSecret  string
	TokenTTL   time.Duration
	DeviceKeys map[string]string // device_id -> provisioning secret

	// Speech service
	Transport    string // relay, gemini or mock
	RelayURL     string
	RelaySecret  string // signs bearer tokens presented to the relay
	GeminiAPIKey string
	LiveModel    string

	// Connection quality probe target
	ProbeURL      string
	ProbeInterval time.Duration

	// Transcript persistence
	Storage       string // memory, mongo or badger
	MongoURI      string
	MongoDatabase string
	BadgerPath    string

	ProfilesFile string
}

// NewConfigFromEnv loads .env when present and reads the configuration from
// environment variables
func NewConfigFromEnv() Config {
	// A missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	config := Config{
		Port:          os.Getenv("PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		Transport:     os.Getenv("VOICE_TRANSPORT"),
		RelayURL:      os.Getenv("RELAY_URL"),
		RelaySecret:   os.Getenv("RELAY_SECRET"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		LiveModel:     os.Getenv("LIVE_MODEL"),
		ProbeURL:      os.Getenv("PROBE_URL"),
		Storage:       os.Getenv("TRANSCRIPT_STORAGE"),
		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: os.Getenv("MONGODB_DATABASE"),
		BadgerPath:    os.Getenv("BADGER_PATH"),
		ProfilesFile:  os.Getenv("PROFILES_FILE"),
	}

	config.DeviceKeys = ParseDeviceKeys(os.Getenv("DEVICE_KEYS"))

	if ttl := os.Getenv("TOKEN_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			config.TokenTTL = d
		}
	}
	if interval := os.Getenv("PROBE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil && d > 0 {
			config.ProbeInterval = d
		}
	}

	return config
}

// ParseDeviceKeys reads "device:secret" pairs separated by commas. Malformed
// pairs are skipped.
func ParseDeviceKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		id, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" || secret == "" {
			continue
		}
		keys[id] = secret
	}
	return keys
}

// ValidateConfig validates the Config after defaults have been applied
func ValidateConfig(config Config) error {
	if config.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch config.Transport {
	case TransportRelay:
		if config.RelayURL == "" {
			return fmt.Errorf("RELAY_URL is required for the relay transport")
		}
		if config.RelaySecret == "" {
			return fmt.Errorf("RELAY_SECRET is required for the relay transport")
		}
	case TransportGemini:
		if config.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini transport")
		}
	case TransportMock:
	default:
		return fmt.Errorf("unknown transport %q", config.Transport)
	}

	switch config.Storage {
	case StorageMemory:
	case StorageMongo:
		if config.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for mongo storage")
		}
	case StorageBadger:
		if config.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required for badger storage")
		}
	default:
		return fmt.Errorf("unknown transcript storage %q", config.Storage)
	}

	return nil
}

// GeminiProbeURL is the host the Gemini Live API is served from
const GeminiProbeURL = "https://generativelanguage.googleapis.com/"

// speechProbeURL targets the host of the configured speech service. The mock
// service runs in-process, so the bridge's own ping route stands in for it.
func speechProbeURL(config Config) string {
	switch config.Transport {
	case TransportRelay:
		u, err := url.Parse(config.RelayURL)
		if err != nil || u.Host == "" {
			break
		}
		scheme := "http"
		if u.Scheme == "wss" || u.Scheme == "https" {
			scheme = "https"
		}
		return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/"}).String()
	case TransportGemini:
		return GeminiProbeURL
	}
	return "http://localhost:" + config.Port + "/api/v1/ping"
}

// ApplyDefaults fills optional fields and logs every default used
func ApplyDefaults(config Config, logger *zap.Logger) Config {
	if config.Port == "" {
		config.Port = "8080"
		logger.Info("Using default port", zap.String("port", config.Port))
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = 24 * time.Hour
		logger.Info("Using default token TTL", zap.Duration("tokenTTL", config.TokenTTL))
	}
	if config.Transport == "" {
		switch {
		case config.RelayURL != "":
			config.Transport = TransportRelay
		case config.GeminiAPIKey != "":
			config.Transport = TransportGemini
		default:
			config.Transport = TransportMock
			logger.Warn("No speech service configured, calls will use the in-process mock")
		}
		logger.Info("Using default transport", zap.String("transport", config.Transport))
	}
	if config.ProbeURL == "" {
		config.ProbeURL = speechProbeURL(config)
		logger.Info("Using default probe URL", zap.String("probeURL", config.ProbeURL))
	}
	if config.ProbeInterval == 0 {
		config.ProbeInterval = 10 * time.Second
	}
	if config.Storage == "" {
		config.Storage = StorageMemory
		if config.MongoURI != "" {
			config.Storage = StorageMongo
		}
		logger.Info("Using default transcript storage", zap.String("storage", config.Storage))
	}
	if config.MongoDatabase == "" {
		config.MongoDatabase = "concierge"
	}
	return config
}
