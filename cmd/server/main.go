package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/satriahrh/concierge-voice/adapters/badger"
	"github.com/satriahrh/concierge-voice/adapters/live"
	"github.com/satriahrh/concierge-voice/adapters/memory"
	"github.com/satriahrh/concierge-voice/adapters/mongo"
	"github.com/satriahrh/concierge-voice/domain/repositories"
	"github.com/satriahrh/concierge-voice/internal/api"
	"github.com/satriahrh/concierge-voice/internal/auth"
	"github.com/satriahrh/concierge-voice/internal/call"
	"github.com/satriahrh/concierge-voice/internal/config"
	"github.com/satriahrh/concierge-voice/internal/metrics"
	"github.com/satriahrh/concierge-voice/internal/netquality"
	"github.com/satriahrh/concierge-voice/internal/transport"
	"github.com/satriahrh/concierge-voice/internal/websocket"
	"github.com/satriahrh/concierge-voice/usecase"
)

const (
	cleanupInterval = 10 * time.Minute
	idleDeviceAfter = 30 * time.Minute
)

// storage bundles the configured sinks and how to release them
type storage struct {
	transcripts repositories.TranscriptSink
	facts       repositories.FactSink
	close       func(ctx context.Context) error
}

func main() {
	cfg := config.NewConfigFromEnv()

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	cfg = config.ApplyDefaults(cfg, logger)
	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	profiles, err := config.LoadProfiles(cfg.ProfilesFile, logger)
	if err != nil {
		logger.Fatal("Failed to load call profiles", zap.Error(err))
	}
	instructions := memory.StaticInstructions{}
	for name, profile := range profiles {
		if cfg.LiveModel != "" {
			profile.Model = cfg.LiveModel
			profiles[name] = profile
		}
		instructions[name] = profile.Instruction
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open transcript storage", zap.Error(err))
	}

	dialer, credentials, err := newSpeechService(cfg, clk, logger, m)
	if err != nil {
		logger.Fatal("Failed to set up speech service", zap.Error(err))
	}

	prober := netquality.NewHTTPProber(cfg.ProbeURL, nil, clk)
	quality := netquality.NewMonitor(prober, netquality.Config{Interval: cfg.ProbeInterval}, clk, logger, m)
	go quality.Run(ctx)

	// Facts recorded in the setup interview answer guest questions right away
	directory := memory.NewPropertyDirectory()
	tools := call.NewRegistry()
	tools.Register(call.EndCallTool())
	tools.Register(call.LookupPropertyTool(directory))
	tools.Register(call.RecordPropertyFactTool(memory.FactFanout{store.facts, directory}, clk))

	builder, err := call.NewBuilder(call.Deps{
		Dialer:       dialer,
		Credentials:  credentials,
		Instructions: instructions,
		Quality:      quality,
		Transcripts:  store.transcripts,
		Tools:        tools,
		Clock:        clk,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		logger.Fatal("Failed to create call builder", zap.Error(err))
	}

	calls := usecase.NewCallService(builder, profiles, store.transcripts, clk, logger)
	calls.StartCleanup(ctx, cleanupInterval, idleDeviceAfter)

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL, clk)
	if err != nil {
		logger.Fatal("Failed to create token signer", zap.Error(err))
	}

	hub := websocket.NewHub(calls, clk, logger)
	go hub.Run(ctx)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Deps{
		Hub:        hub,
		Calls:      calls,
		Signer:     signer,
		DeviceKeys: cfg.DeviceKeys,
		Network:    quality,
		Gatherer:   registry,
		Logger:     logger,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Voice bridge started",
		zap.String("port", cfg.Port),
		zap.String("transport", cfg.Transport),
		zap.String("storage", cfg.Storage),
		zap.Int("devices", len(cfg.DeviceKeys)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	calls.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()
	if err := store.close(shutdownCtx); err != nil {
		logger.Error("Failed to close transcript storage", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage, error) {
	switch cfg.Storage {
	case config.StorageMongo:
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return storage{}, err
		}
		repo := mongo.NewTranscriptRepository(client.Database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to create transcript indexes", zap.Error(err))
		}
		return storage{transcripts: repo, facts: repo, close: client.Close}, nil

	case config.StorageBadger:
		store, err := badger.Open(cfg.BadgerPath)
		if err != nil {
			return storage{}, err
		}
		logger.Info("Opened embedded transcript storage", zap.String("path", cfg.BadgerPath))
		return storage{
			transcripts: store,
			facts:       store,
			close:       func(context.Context) error { return store.Close() },
		}, nil

	default:
		store := memory.NewTranscriptStore()
		return storage{
			transcripts: store,
			facts:       store,
			close:       func(context.Context) error { return nil },
		}, nil
	}
}

func newSpeechService(cfg config.Config, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) (repositories.Dialer, repositories.CredentialProvider, error) {
	switch cfg.Transport {
	case config.TransportRelay:
		dialer, err := transport.NewDialer(transport.Config{URL: cfg.RelayURL}, logger, m)
		if err != nil {
			return nil, nil, err
		}
		credentials, err := auth.NewRelayCredentials(cfg.RelaySecret, "concierge-voice", clk)
		if err != nil {
			return nil, nil, err
		}
		return dialer, credentials, nil

	case config.TransportGemini:
		dialer := live.NewGeminiDialer(live.GeminiConfig{Model: cfg.LiveModel}, logger, m)
		return dialer, auth.StaticCredentials{Key: cfg.GeminiAPIKey}, nil

	default:
		return live.NewMockDialer(), auth.StaticCredentials{Key: "mock"}, nil
	}
}
