package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/threadsketch/internal/config"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		if cfg == nil {
			return fmt.Errorf("nil config")
		}
		a.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from path and the environment.
func WithConfigFile(path string) Option {
	return func(a *App) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithLedger sets the run ledger instead of opening the configured one.
func WithLedger(store ports.RunStore) Option {
	return func(a *App) error {
		a.ledger = store
		return nil
	}
}

// WithImageGenerator replaces the configured image capability.
func WithImageGenerator(images ports.ImageGenerator) Option {
	return func(a *App) error {
		a.images = images
		return nil
	}
}

// WithTextGenerator replaces the configured text capability.
func WithTextGenerator(text ports.TextGenerator) Option {
	return func(a *App) error {
		a.text = text
		return nil
	}
}

// WithCommerce replaces the configured commerce platform.
func WithCommerce(commerce ports.Commerce) Option {
	return func(a *App) error {
		a.commerce = commerce
		return nil
	}
}
