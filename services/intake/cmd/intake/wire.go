package main

import (
	"fmt"
	"log/slog"
	"time"

	"greenlight/internal/util"
	"greenlight/pkg/ai"
	"greenlight/pkg/storage"
	"greenlight/services/intake/internal/app"
	"greenlight/services/intake/internal/config"
)

// setup loads configuration, installs the logger and builds the app. The
// returned func flushes the log file.
func setup() (config.FileConfig, *app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config: %w", err)
	}
	_, closeLog := util.InitLogger(util.LogOptions{
		Level:   cfg.LogLevel,
		Service: "intake",
		Dir:     cfg.LogsDir,
	})

	appCfg, err := appConfig(cfg)
	if err != nil {
		closeLog()
		return cfg, nil, nil, err
	}
	a, err := app.New(appCfg)
	if err != nil {
		closeLog()
		return cfg, nil, nil, fmt.Errorf("init app: %w", err)
	}
	slog.Info("intake configured",
		"database", cfg.DatabaseDriver,
		"queue", queueKind(cfg),
		"llm_provider", cfg.LLMProvider,
		"object_store", cfg.MinioEndpoint != "",
	)
	return cfg, a, closeLog, nil
}

func appConfig(cfg config.FileConfig) (app.Config, error) {
	staleAfter, err := config.ParseDuration(cfg.StaleAfter, 0)
	if err != nil {
		return app.Config{}, fmt.Errorf("staleAfter: %w", err)
	}
	retryDelay, err := config.ParseDuration(cfg.QueueRetryDelay, 0)
	if err != nil {
		return app.Config{}, fmt.Errorf("queueRetryDelay: %w", err)
	}
	return app.Config{
		DatabaseDriver:   cfg.DatabaseDriver,
		DatabaseURL:      cfg.DatabaseURL,
		RedisAddr:        cfg.RedisAddr,
		RedisPassword:    cfg.RedisPassword,
		QueueName:        cfg.QueueName,
		QueueGroup:       cfg.QueueGroup,
		QueueConcurrency: cfg.QueueConcurrency,
		QueueMaxRetries:  cfg.QueueMaxRetries,
		QueueRetryDelay:  retryDelay,
		Minio: storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		},
		LLM: ai.GeneratorConfig{
			Provider:    cfg.LLMProvider,
			Model:       cfg.LLMModel,
			APIKey:      cfg.LLMAPIKey,
			BaseURL:     cfg.LLMBaseURL,
			Temperature: cfg.LLMTemperature,
		},
		MaxUploadBytes:    cfg.MaxUploadBytes(),
		MaxPages:          cfg.MaxPages,
		SynopsisMaxChars:  cfg.SynopsisMaxChars,
		ExcerptChars:      cfg.ExcerptChars,
		CacheTTL:          time.Duration(cfg.CacheDurationHours) * time.Hour,
		CacheMaxEntries:   cfg.CacheMaxEntries,
		StaleAfter:        staleAfter,
		MaxAttempts:       cfg.MaxAttempts,
		ReconcileSchedule: cfg.ReconcileSchedule,
	}, nil
}

func queueKind(cfg config.FileConfig) string {
	if cfg.RedisAddr == "" {
		return "memory"
	}
	return "redis"
}
