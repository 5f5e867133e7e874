package cli

import (
	"fmt"

	"github.com/andywolf/skillctx/internal/config"
	"github.com/andywolf/skillctx/internal/engine"
	"github.com/andywolf/skillctx/internal/events"
	"github.com/andywolf/skillctx/internal/logging"
	"github.com/andywolf/skillctx/internal/skills"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// session bundles what a command needs: configuration, a logger and an
// engine over the configured roots.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *engine.Engine
}

func openSession() (*session, error) {
	logger, err := logging.New(logging.Options{
		Verbose: viper.GetBool("verbose"),
		JSON:    viper.GetBool("json_logs"),
	})
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	roots, err := cfg.SkillRoots()
	if err != nil {
		return nil, err
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	var sink events.Sink
	if cfg.EventsFile != "" {
		fs, err := events.NewFileSink(skills.ExpandHome(cfg.EventsFile))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		sink = fs
	}

	eng, err := engine.New(engine.Options{
		Roots:         roots,
		TTL:           cfg.Cache.TTL,
		MaxBytes:      cfg.Budget.MaxBytes,
		PrefixWindow:  cfg.Match.PrefixWindow,
		MinTokenLen:   cfg.Match.MinTokenLen,
		IncludeMirror: cfg.IncludeMirror,
		Pins:          cfg.PinConfig(),
		Logger:        logger,
		Events:        sink,
	}, store)
	if err != nil {
		_ = store.Close()
		if sink != nil {
			_ = sink.Close()
		}
		return nil, err
	}

	for _, w := range eng.Warnings() {
		logger.Warn("persisted state", zap.String("warning", w))
	}

	return &session{cfg: cfg, logger: logger, engine: eng}, nil
}

func (s *session) Close() error {
	err := s.engine.Close()
	_ = s.logger.Sync()
	return err
}
