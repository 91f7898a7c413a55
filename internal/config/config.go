// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/danielpatrickdp/preference-engine/internal/orchestrator"
	"github.com/danielpatrickdp/preference-engine/internal/update"
)

// Config holds every setting the engine and its commands read.
type Config struct {
	DBPath   string `env:"PREFENGINE_DB" envDefault:"preference_engine.db"`
	HTTPAddr string `env:"PREFENGINE_HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"PREFENGINE_LOG_LEVEL" envDefault:"info"`

	// Generation and embedding backends.
	Generator   string        `env:"PREFENGINE_GENERATOR" envDefault:"ollama"` // ollama | codec | none
	Embedder    string        `env:"PREFENGINE_EMBEDDER" envDefault:"hashing"` // hashing | ollama | codec
	HashingDims int           `env:"PREFENGINE_HASHING_DIMS" envDefault:"256"`
	CodecAddr   string        `env:"CODEC_ADDR" envDefault:"localhost:50051"`
	OllamaURL   string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaModel string        `env:"OLLAMA_MODEL" envDefault:"mistral"`
	EmbedModel  string        `env:"OLLAMA_EMBED_MODEL" envDefault:"nomic-embed-text"`
	GenTimeout  time.Duration `env:"PREFENGINE_GENERATE_TIMEOUT" envDefault:"60s"`
	GenRPS      float64       `env:"PREFENGINE_GENERATE_RPS" envDefault:"0"` // 0 is unlimited

	// Retrain policy.
	MinFeedback int    `env:"PREFENGINE_MIN_FEEDBACK" envDefault:"3"`
	BatchSize   int    `env:"PREFENGINE_BATCH_SIZE" envDefault:"3"`
	SyncRetrain bool   `env:"PREFENGINE_SYNC_RETRAIN" envDefault:"false"`
	SweepSpec   string `env:"PREFENGINE_SWEEP_CRON"` // empty disables the periodic sweep

	// Learning-rate schedule.
	RateBase  float64 `env:"PREFENGINE_RATE_BASE" envDefault:"0.25"`
	RateFloor float64 `env:"PREFENGINE_RATE_FLOOR" envDefault:"0.05"`
	RateDecay float64 `env:"PREFENGINE_RATE_DECAY" envDefault:"0.85"`

	// Optional Redis for a lock shared between processes.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL       time.Duration `env:"PREFENGINE_LOCK_TTL" envDefault:"5m"`
}

// Load reads the given .env files (missing files are ignored) and then
// parses the environment.
func Load(files ...string) (*Config, error) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("PREFENGINE_DB must not be empty"))
	}
	if c.MinFeedback < 1 {
		errs = append(errs, fmt.Errorf("PREFENGINE_MIN_FEEDBACK must be >= 1, got %d", c.MinFeedback))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("PREFENGINE_BATCH_SIZE must be >= 1, got %d", c.BatchSize))
	}
	if c.RateFloor < 0 || c.RateBase < c.RateFloor || c.RateBase > 1 {
		errs = append(errs, fmt.Errorf("learning rate needs 0 <= floor <= base <= 1, got floor=%v base=%v", c.RateFloor, c.RateBase))
	}
	if c.RateDecay <= 0 || c.RateDecay > 1 {
		errs = append(errs, fmt.Errorf("PREFENGINE_RATE_DECAY must be in (0, 1], got %v", c.RateDecay))
	}
	switch c.Generator {
	case "ollama", "codec", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown PREFENGINE_GENERATOR %q", c.Generator))
	}
	return errors.Join(errs...)
}

// Schedule returns the configured learning-rate schedule.
func (c *Config) Schedule() update.Schedule {
	return update.Schedule{Base: c.RateBase, Floor: c.RateFloor, Decay: c.RateDecay}
}

// Retrain returns the configured retrain policy.
func (c *Config) Retrain() orchestrator.Config {
	return orchestrator.Config{MinFeedback: c.MinFeedback, BatchSize: c.BatchSize}
}
