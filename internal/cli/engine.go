package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/insight/internal/aggregate"
	"github.com/ppiankov/insight/internal/briefing"
	"github.com/ppiankov/insight/internal/config"
	"github.com/ppiankov/insight/internal/executor"
	"github.com/ppiankov/insight/internal/logger"
	"github.com/ppiankov/insight/internal/normalize"
	"github.com/ppiankov/insight/internal/privacy"
	"github.com/ppiankov/insight/internal/source"
	"github.com/ppiankov/insight/internal/store"
	"github.com/ppiankov/insight/internal/summarize"
	"github.com/ppiankov/insight/internal/telemetry"
)

// engine is everything one command needs to run the aggregation pipeline.
type engine struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *telemetry.Metrics
	orch    *aggregate.Orchestrator
}

func newEngine(cfg *config.Config) (*engine, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	var redactor *privacy.Redactor
	if cfg.Privacy.Redact.Enabled && len(cfg.Privacy.Redact.Patterns) > 0 {
		redactor, err = privacy.New(cfg.Privacy.Redact.Patterns)
		if err != nil {
			return nil, err
		}
	}

	metrics := telemetry.New()
	exec := executor.New(executor.Config{
		Timeout:    cfg.Engine.Timeout.Duration,
		PerSource:  cfg.Engine.PerSourceTimeout.Duration,
		MaxTimeout: cfg.Engine.MaxTimeout.Duration,
	}, log, metrics)
	norm := normalize.New(normalize.Options{
		Redactor:        redactor,
		MaxContentRunes: cfg.Engine.MaxContentChars,
	}, log)

	orch, err := aggregate.New(aggregate.Config{
		Registry:    registry,
		Provider:    cfg,
		Executor:    exec,
		Normalizer:  norm,
		Logger:      log,
		Observer:    metrics,
		Concurrency: cfg.Engine.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	return &engine{cfg: cfg, log: log, metrics: metrics, orch: orch}, nil
}

// buildRegistry registers a connector for every enabled platform.
func buildRegistry(cfg *config.Config, log logger.Logger) (*source.Registry, error) {
	registry, err := source.NewRegistry()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Engine.Timeout.Duration
	s := cfg.Sources

	var connectors []source.Connector
	if s.RSS.IsEnabled() {
		connectors = append(connectors, source.NewRSS(timeout, log))
	}
	if s.YouTube.IsEnabled() {
		connectors = append(connectors, source.NewYouTube(timeout, log))
	}
	if s.Reddit.IsEnabled() {
		connectors = append(connectors, source.NewReddit(timeout, log))
	}
	if s.HN.IsEnabled() {
		hn, err := source.NewHN(s.HN.MinPoints, timeout, log)
		if err != nil {
			return nil, fmt.Errorf("create hn connector: %w", err)
		}
		connectors = append(connectors, hn)
	}
	if s.Telegram.IsEnabled() {
		tg, err := source.NewTelegram(source.TelegramOptions{
			Script:     cfg.TelegramScript(),
			PythonPath: s.Telegram.PythonPath,
			APIID:      s.Telegram.APIID,
			APIHash:    s.Telegram.APIHash,
			SessionDir: s.Telegram.SessionDir,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("create telegram connector: %w", err)
		}
		connectors = append(connectors, tg)
	}

	for _, c := range connectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildCollaborator returns the topic collaborator for the configured
// provider, or nil when briefings run without one.
func buildCollaborator(ctx context.Context, cfg *config.Config, log logger.Logger) (briefing.Collaborator, error) {
	b := cfg.Briefing
	var gen summarize.Generator
	switch b.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOpenAI:
		if b.APIKey == "" {
			return nil, fmt.Errorf("briefing: openai provider needs an API key in $%s", b.APIKeyEnv)
		}
		gen = summarize.NewOpenAI(b.APIKey, b.Model, b.MaxTokens, b.Endpoint)
	case config.ProviderGemini:
		if b.APIKey == "" {
			return nil, fmt.Errorf("briefing: gemini provider needs an API key in $%s", b.APIKeyEnv)
		}
		g, err := summarize.NewGemini(ctx, b.APIKey, b.Model)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		gen = g
	default:
		return nil, fmt.Errorf("briefing: unknown provider %q", b.Provider)
	}
	return summarize.NewTopicCollaborator(gen, b.MaxContentChars, log), nil
}

func (e *engine) composer(collab briefing.Collaborator) (*briefing.Composer, error) {
	policy, err := briefing.ParseDuplicatePolicy(e.cfg.Briefing.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	return briefing.NewComposer(collab, briefing.Options{
		Policy:  policy,
		Timeout: e.cfg.Briefing.Timeout.Duration,
	}, e.log, e.metrics), nil
}

// finish records the run in the history store and writes textfile metrics.
// Failures are warnings: the run output has already been written.
func (e *engine) finish(ctx context.Context, warn io.Writer, run store.Run) {
	var errs []error

	if e.cfg.Storage.RecordsRuns() {
		if err := recordRun(ctx, e.cfg, run); err != nil {
			e.log.Warn("Failed to record run", logger.Error(err))
			errs = append(errs, err)
		}
	}

	path := metricsFile
	if path == "" {
		path = e.cfg.Telemetry.MetricsFile
	}
	if path != "" {
		if err := e.metrics.WriteTextfile(path); err != nil {
			e.log.Warn("Failed to write metrics", logger.String("path", path), logger.Error(err))
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		fmt.Fprintf(warn, "warning: %v\n", err)
	}
	_ = e.log.Sync()
}

func recordRun(ctx context.Context, cfg *config.Config, run store.Run) error {
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.RecordRun(ctx, run); err != nil {
		return err
	}
	if _, err := db.PruneOld(ctx, cfg.Storage.RetainDays); err != nil {
		return err
	}
	return nil
}

// loadConfig loads the config from the --config directory.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
