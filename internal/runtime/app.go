// Package runtime assembles the ThreadSketch service from configuration and
// manages its lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tjfontaine/threadsketch/internal/api/shopify"
	"github.com/tjfontaine/threadsketch/internal/artifact"
	"github.com/tjfontaine/threadsketch/internal/config"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/frontdoor"
	"github.com/tjfontaine/threadsketch/internal/imaging"
	"github.com/tjfontaine/threadsketch/internal/listing"
	"github.com/tjfontaine/threadsketch/internal/metrics"
	"github.com/tjfontaine/threadsketch/internal/pipeline"
	"github.com/tjfontaine/threadsketch/internal/provider/anthropic"
	"github.com/tjfontaine/threadsketch/internal/provider/stability"
	"github.com/tjfontaine/threadsketch/internal/publish"
	"github.com/tjfontaine/threadsketch/internal/server"
	"github.com/tjfontaine/threadsketch/internal/storage"
	"github.com/tjfontaine/threadsketch/internal/telemetry"
	"github.com/tjfontaine/threadsketch/internal/theme"
)

// App is the assembled service: artifact store, run ledger, design pipeline,
// publish orchestrator and HTTP server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	ledger    ports.RunStore
	images    ports.ImageGenerator
	text      ports.TextGenerator
	commerce  ports.Commerce
	artifacts *artifact.Store
	pipeline  *pipeline.Orchestrator
	publisher *publish.Service
	server    *server.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New builds an App. A configuration is required (WithConfig or
// WithConfigFile). Missing provider credentials are logged, not fatal.
func New(opts ...Option) (*App, error) {
	a := &App{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if a.cfg == nil {
		return nil, fmt.Errorf("config required (use WithConfig or WithConfigFile)")
	}

	if err := a.init(); err != nil {
		if a.ledger != nil {
			a.ledger.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg := a.cfg

	for _, missing := range cfg.MissingCredentials() {
		a.logger.Warn("credential not configured", slog.String("setting", missing))
	}

	if a.ledger == nil {
		ledger, err := storage.Open(cfg.Storage.Ledger)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		a.ledger = ledger
	}

	artifacts, err := artifact.New(cfg.Storage.ArtifactDir,
		artifact.WithPublicPrefix(cfg.Storage.PublicPrefix),
		artifact.WithFallback(cfg.Storage.FallbackImage),
		artifact.WithTTL(cfg.Storage.SessionTTL),
		artifact.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.artifacts = artifacts

	if a.images == nil {
		a.images = stability.CreateFromConfig(cfg.Stability, a.logger)
	}
	if a.text == nil && cfg.Anthropic.APIKey != "" {
		a.text = anthropic.CreateFromConfig(cfg.Anthropic, a.logger)
	}
	if a.commerce == nil && cfg.Shopify.HasCommerceCredentials() {
		httpClient := telemetry.HTTPClient()
		httpClient.Timeout = cfg.Shopify.Timeout
		a.commerce = shopify.NewClient(cfg.Shopify.StoreURL, cfg.Shopify.AdminToken,
			shopify.WithAPIVersion(cfg.Shopify.APIVersion),
			shopify.WithHTTPClient(httpClient))
	}

	bg, err := imaging.ParseBackground(cfg.Canvas.Background)
	if err != nil {
		return fmt.Errorf("canvas.background: %w", err)
	}
	canvas := pipeline.Canvas{Size: cfg.Canvas.Size, Background: bg}

	a.pipeline = pipeline.NewOrchestrator(artifacts,
		pipeline.NewGenerationStage(a.images, artifacts, canvas, a.logger),
		pipeline.NewEnhancementStage(a.images, a.text, artifacts, canvas, a.logger),
		pipeline.WithLedger(a.ledger),
		pipeline.WithLogger(a.logger))

	listings := listing.NewGenerator(a.text,
		listing.WithBrandTag(cfg.Listing.BrandTag),
		listing.WithDefaultGarment(cfg.Listing.DefaultGarment),
		listing.WithLogger(a.logger))

	publishOpts := []publish.Option{
		publish.WithSettings(publish.Settings{
			Vendor:          cfg.Listing.Vendor,
			ProductType:     cfg.Listing.ProductType,
			Price:           cfg.Listing.Price,
			ThemeArchiveURL: cfg.Shopify.ThemeArchiveURL,
			PublishTheme:    cfg.Shopify.PublishTheme,
		}),
		publish.WithLedger(a.ledger),
		publish.WithLogger(a.logger),
		publish.WithRunTimeout(cfg.Server.RequestTimeout),
	}
	if a.commerce != nil {
		publishOpts = append(publishOpts,
			publish.WithThemes(theme.NewInstaller(a.commerce, cfg.Shopify.ThemeName, a.logger)))
	}
	a.publisher = publish.New(a.commerce, artifacts, listings, publishOpts...)

	a.server = server.New(cfg.Server.Port, a.logger, cfg.Server.RequestTimeout,
		server.WithCORS(cfg.Server.CORSOrigins...))
	handler := frontdoor.NewHandler(a.pipeline, a.publisher, artifacts,
		frontdoor.WithMaxUpload(cfg.Server.MaxUploadSize),
		frontdoor.WithLedger(a.ledger),
		frontdoor.WithLogger(a.logger))
	handler.Mount(a.server.Router, cfg.Storage.PublicPrefix)

	return nil
}

// Handler returns the HTTP handler with every route mounted.
func (a *App) Handler() http.Handler {
	return a.server.Router
}

// Pipeline returns the design pipeline orchestrator.
func (a *App) Pipeline() *pipeline.Orchestrator {
	return a.pipeline
}

// Publisher returns the publish orchestrator.
func (a *App) Publisher() *publish.Service {
	return a.publisher
}

// Start starts the session janitor and the HTTP server. It returns once the
// server is listening in the background; serve errors are logged.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, a.cancel = context.WithCancel(ctx)

	if interval := a.cfg.Storage.SweepInterval; interval > 0 && a.cfg.Storage.SessionTTL > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.janitor(ctx, interval)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Start(); err != nil {
			a.logger.Error("server failed", slog.String("error", err.Error()))
		}
	}()

	a.logger.Info("threadsketch started",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("artifacts", a.artifacts.Root()),
		slog.String("ledger", a.cfg.Storage.Ledger.Type),
		slog.Bool("commerce", a.commerce != nil),
		slog.Bool("text", a.text != nil))
	return nil
}

// Shutdown stops the server and janitor and closes the ledger.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("shutting down")

	if a.cancel != nil {
		a.cancel()
	}

	var shutdownErr error
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		shutdownErr = err
	}
	a.wg.Wait()

	if err := a.ledger.Close(); err != nil {
		a.logger.Error("failed to close ledger", slog.String("error", err.Error()))
	}

	a.logger.Info("shutdown complete")
	return shutdownErr
}

// janitor evicts idle sessions until ctx is done.
func (a *App) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.sweep(ctx, now)
		}
	}
}

func (a *App) sweep(ctx context.Context, now time.Time) int {
	n, err := a.artifacts.Sweep(ctx, now)
	if err != nil {
		a.logger.Warn("session sweep failed", slog.String("error", err.Error()))
	}
	if n > 0 {
		metrics.SessionsEvictedTotal.Add(float64(n))
		a.logger.Info("evicted idle sessions", slog.Int("count", n))
	}
	return n
}
