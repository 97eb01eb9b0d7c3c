package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hed1ad/vlogguard/internal/config"
	"github.com/hed1ad/vlogguard/internal/explain"
	"github.com/hed1ad/vlogguard/internal/logging"
	"github.com/hed1ad/vlogguard/pkg/analyzer"
	"github.com/hed1ad/vlogguard/pkg/artifact"
	"github.com/hed1ad/vlogguard/pkg/interpret"
	"github.com/hed1ad/vlogguard/pkg/preprocess"
	"github.com/hed1ad/vlogguard/pkg/profile"
)

// app is the state shared by analyze and serve.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	analyzer *analyzer.Analyzer
}

func loadApp(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath, flags.envFiles...)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		return nil, err
	}

	p, err := profile.Get(cfg.Model.Profile)
	if err != nil {
		return nil, err
	}
	bundle, err := artifact.Load(cfg.Model.ScalerPath, cfg.Model.ForestPath)
	if err != nil {
		return nil, err
	}
	policy, err := preprocess.ParsePolicy(cfg.Preprocess.Policy)
	if err != nil {
		return nil, err
	}
	mode, err := interpret.ParseMode(cfg.Interpret.Mode)
	if err != nil {
		return nil, err
	}

	opts := []analyzer.Option{analyzer.WithLogger(logger)}
	if cfg.Explain.Enabled {
		opts = append(opts,
			analyzer.WithEnricher(explain.New(explain.Config{
				APIKey:  cfg.Explain.APIKey,
				BaseURL: cfg.Explain.BaseURL,
				Model:   cfg.Explain.Model,
				Timeout: cfg.Explain.Timeout,
			}, logger)),
			analyzer.WithAdviceLimit(cfg.Explain.MaxRows),
		)
	}

	a, err := analyzer.FromBundle(analyzer.Setup{
		Profile: p,
		Bundle:  bundle,
		Policy:  policy,
		Mode:    mode,
		Rules:   cfg.Interpret.Rules,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("build analyzer: %w", err)
	}

	logger.Info("model loaded",
		zap.String("profile", p.Name),
		zap.String("model_version", bundle.Version),
		zap.Float64("threshold", bundle.Forest.Threshold()),
		zap.String("policy", string(policy)),
		zap.String("mode", string(mode)),
		zap.Bool("explain", cfg.Explain.Enabled),
	)
	return &app{cfg: cfg, logger: logger, analyzer: a}, nil
}
