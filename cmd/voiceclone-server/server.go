package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voiceclone-go/voiceclone-go/internal/api"
	"github.com/voiceclone-go/voiceclone-go/internal/backend"
	"github.com/voiceclone-go/voiceclone-go/internal/config"
	"github.com/voiceclone-go/voiceclone-go/internal/migrate"
	"github.com/voiceclone-go/voiceclone-go/internal/queue"
	"github.com/voiceclone-go/voiceclone-go/internal/session"
	"github.com/voiceclone-go/voiceclone-go/internal/synth"
	"github.com/voiceclone-go/voiceclone-go/internal/voice"
)

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("listen", cfg.Server.Listen).
		Str("engine", cfg.Engine.URL).
		Str("data_dir", cfg.Storage.Root).
		Str("log_level", cfg.Logging.Level).
		Msg("Starting voiceclone server")

	fs := afero.NewOsFs()

	// A failed migration leaves the legacy data untouched and is retried on
	// the next start; the server still comes up on whatever the new root has.
	outcome, err := migrate.New(fs, migrate.Options{
		LegacyRoot: cfg.Storage.LegacyRoot,
		Root:       cfg.Storage.Root,
		Logger:     logger,
	}).RunOnce()
	if err != nil {
		logger.Error().Err(err).Msg("Storage migration failed; will retry on next start")
	} else {
		logger.Info().Str("outcome", outcome.String()).Msg("Storage migration checked")
	}

	voices, err := voice.Open(fs, cfg.Storage.Root, voice.Options{
		DefaultScript: cfg.Synthesis.DefaultScript,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open voice registry: %w", err)
	}

	engine := backend.NewClient(&cfg.Engine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := engine.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Engine health check failed - server will start but synthesis may not work")
	} else {
		logger.Info().Str("engine", engine.Endpoint()).Msg("Engine connection verified")
	}
	cancel()

	jobs := queue.NewManager(queue.Config{
		Workers:  1,
		MaxQueue: cfg.Synthesis.QueueSize,
		Logger:   logger,
	})
	metrics := api.NewMetrics(jobs.Stats)

	dispatcher := synth.NewDispatcher(engine, voices, synth.Options{
		Language:      cfg.Synthesis.Language,
		ModelID:       cfg.Synthesis.ModelID,
		MaxTextLength: cfg.Limits.MaxTextLength,
		Logger:        logger,
		Metrics:       metrics,
	})
	controller := session.New(voices, dispatcher, jobs, session.Options{Logger: logger})

	router := api.NewRouter(cfg, api.Deps{
		Session: controller,
		Voices:  voices,
		Engine:  engine,
		Metrics: metrics,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	}

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := jobs.Shutdown(ctx); err != nil {
		return fmt.Errorf("job queue shutdown error: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// loadConfig reads the merged flag, environment, file and default values
// from viper. Zero values fall back to the built-in defaults.
func loadConfig(_ *cobra.Command) (*config.Config, error) {
	defaults := config.Default()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Listen:       viper.GetString("server.listen"),
			ReadTimeout:  viper.GetDuration("server.read_timeout"),
			WriteTimeout: viper.GetDuration("server.write_timeout"),
		},
		Engine: config.EngineConfig{
			URL:            viper.GetString("engine.url"),
			Timeout:        viper.GetDuration("engine.timeout"),
			MaxConnections: viper.GetInt("engine.max_connections"),
		},
		Storage: config.StorageConfig{
			Root:       viper.GetString("storage.root"),
			LegacyRoot: viper.GetString("storage.legacy_root"),
		},
		Synthesis: config.SynthesisConfig{
			Language:      viper.GetString("synthesis.language"),
			ModelID:       viper.GetString("synthesis.model_id"),
			QueueSize:     viper.GetInt("synthesis.queue_size"),
			DefaultScript: viper.GetString("synthesis.default_script"),
		},
		Auth: config.AuthConfig{
			APIKey: viper.GetString("auth.api_key"),
		},
		Limits: config.LimitsConfig{
			MaxTextLength:  viper.GetInt("limits.max_text_length"),
			MaxUploadBytes: viper.GetInt64("limits.max_upload_bytes"),
		},
		Logging: config.LoggingConfig{
			Level:  viper.GetString("logging.level"),
			Format: viper.GetString("logging.format"),
		},
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if cfg.Engine.URL == "" {
		cfg.Engine.URL = defaults.Engine.URL
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = defaults.Engine.Timeout
	}
	if cfg.Engine.MaxConnections == 0 {
		cfg.Engine.MaxConnections = defaults.Engine.MaxConnections
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = defaults.Storage.Root
	}
	if cfg.Synthesis.Language == "" {
		cfg.Synthesis.Language = defaults.Synthesis.Language
	}
	if cfg.Synthesis.ModelID == "" {
		cfg.Synthesis.ModelID = defaults.Synthesis.ModelID
	}
	if cfg.Limits.MaxUploadBytes == 0 {
		cfg.Limits.MaxUploadBytes = defaults.Limits.MaxUploadBytes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}

	if cfg.Synthesis.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must not be negative, got %d", cfg.Synthesis.QueueSize)
	}

	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
