package cmd

import (
	"fmt"

	"github.com/dativo-io/aegis/internal/config"
	"github.com/dativo-io/aegis/internal/detect"
	"github.com/dativo-io/aegis/internal/mask"
	"github.com/dativo-io/aegis/internal/shield"
)

// buildShield assembles the masker, detector adapters and orchestrator
// from resolved configuration. The local adapter is always present; the
// azure adapter joins when the endpoint and key are configured.
func buildShield(cfg *config.Config) (*shield.Shield, error) {
	masker, err := mask.NewMasker(
		mask.WithHashAlgorithm(cfg.HashAlgorithm),
		mask.WithMaskChar([]rune(cfg.MaskChar)[0]),
		mask.WithMaskLength(cfg.MaskLength),
	)
	if err != nil {
		return nil, fmt.Errorf("building masker: %w", err)
	}

	var localOpts []detect.LocalOption
	if cfg.PatternFile != "" {
		localOpts = append(localOpts, detect.WithPatternFile(cfg.PatternFile))
	}
	local, err := detect.NewLocalDetector(localOpts...)
	if err != nil {
		return nil, fmt.Errorf("building local detector: %w", err)
	}

	adapters := []shield.Adapter{}
	if cfg.AzureConfigured() {
		azure, err := detect.NewAzureDetector(cfg.AzureEndpoint, cfg.AzureKey,
			detect.WithRateLimit(float64(cfg.AzureRateLimit), cfg.AzureRateLimit))
		if err != nil {
			return nil, fmt.Errorf("building azure detector: %w", err)
		}
		// Azure first so primary-fallback degrades from cloud to local.
		adapters = append(adapters, shield.Adapter{Name: "azure", Detector: azure})
	}
	adapters = append(adapters, shield.Adapter{Name: "local", Detector: local})

	if cfg.Mode == "single" && len(adapters) > 1 {
		// Single mode with azure configured: the cloud adapter wins.
		adapters = adapters[:1]
	}

	sh, err := shield.New(shield.Options{
		Adapters:        adapters,
		Mode:            shield.Mode(cfg.Mode),
		DefaultLanguage: cfg.Language,
		ScoreThreshold:  cfg.ScoreThreshold,
		AdapterTimeout:  cfg.AdapterTimeout,
		Masker:          masker,
		DefaultStrategy: cfg.Strategy,
	})
	if err != nil {
		return nil, fmt.Errorf("building shield: %w", err)
	}
	return sh, nil
}
