package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/codec"
	"github.com/danielpatrickdp/preference-engine/internal/config"
	"github.com/danielpatrickdp/preference-engine/internal/contrast"
	"github.com/danielpatrickdp/preference-engine/internal/dataset"
	"github.com/danielpatrickdp/preference-engine/internal/embedding"
	"github.com/danielpatrickdp/preference-engine/internal/engine"
	"github.com/danielpatrickdp/preference-engine/internal/generator"
	"github.com/danielpatrickdp/preference-engine/internal/logging"
	"github.com/danielpatrickdp/preference-engine/internal/orchestrator"
	"github.com/danielpatrickdp/preference-engine/internal/reward"
	"github.com/danielpatrickdp/preference-engine/internal/state"
)

// App holds every wired component for one process.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Store        *state.Store
	Generator    contrast.Generator // nil when generation is disabled
	Embedder     embedding.Embedder
	Orchestrator *orchestrator.Orchestrator
	Engine       *engine.Engine
	Registry     *prometheus.Registry

	codec *codec.CodecClient
	redis *redis.Client
}

// NewApp opens the store and builds the pipeline described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}

	store, err := state.NewStore(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	if err := logging.EnsureSchema(store.DB()); err != nil {
		a.Close()
		return nil, fmt.Errorf("retrain log schema: %w", err)
	}

	if cfg.Generator == "codec" || cfg.Embedder == "codec" {
		a.codec, err = codec.NewCodecClient(cfg.CodecAddr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect codec service at %s: %w", cfg.CodecAddr, err)
		}
	}

	switch cfg.Generator {
	case "ollama":
		a.Generator = generator.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	case "codec":
		a.Generator = a.codec
	}

	embedOpts := embedding.Options{
		Kind:        cfg.Embedder,
		HashingDims: cfg.HashingDims,
		OllamaURL:   cfg.OllamaURL,
		OllamaModel: cfg.EmbedModel,
	}
	if a.codec != nil {
		embedOpts.Remote = a.codec
	}
	a.Embedder, err = embedding.New(embedOpts)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithConfig(cfg.Retrain()),
		orchestrator.WithMetrics(orchestrator.NewMetrics(a.Registry)),
		orchestrator.WithDecisionLog(store.DB()),
		orchestrator.WithLogger(logger),
	}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process retrain lock", zap.Error(err))
			a.redis.Close()
			a.redis = nil
		} else {
			opts = append(opts, orchestrator.WithLocker(orchestrator.NewRedisLocker(a.redis, cfg.LockTTL)))
		}
		cancel()
	}

	synth := contrast.NewSynthesizer(a.Generator,
		contrast.WithTimeout(cfg.GenTimeout),
		contrast.WithRateLimit(cfg.GenRPS),
		contrast.WithLogger(logger),
	)
	builder := dataset.NewBuilder(synth, store, logger)
	trainer := reward.NewTrainer(store, a.Embedder, nil, logger)
	a.Orchestrator = orchestrator.New(store, builder, trainer, opts...)
	a.Engine = engine.New(store, a.Orchestrator, reward.NewScorer(store, a.Embedder, logger),
		engine.WithSchedule(cfg.Schedule()),
		engine.WithSyncRetrain(cfg.SyncRetrain),
		engine.WithLogger(logger),
	)
	return a, nil
}

// Close drains background retrains and releases every connection.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Close()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.codec != nil {
		errs = append(errs, a.codec.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
