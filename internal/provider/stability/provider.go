// Package stability adapts the Stability AI client to the image-to-image
// capability.
package stability

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	stabilityapi "github.com/tjfontaine/threadsketch/internal/api/stability"
	"github.com/tjfontaine/threadsketch/internal/config"
	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/telemetry"
)

// maxSeed bounds randomly chosen seeds.
const maxSeed = 1_000_000

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// WithEngine sets the generation engine id.
func WithEngine(engine string) ProviderOption {
	return func(p *Provider) {
		p.engine = engine
	}
}

// WithTimeout bounds each Transform call.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithSeedFunc overrides how seeds are chosen for requests without one.
func WithSeedFunc(fn func() int64) ProviderOption {
	return func(p *Provider) {
		p.seed = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider implements ports.ImageGenerator.
type Provider struct {
	client     *stabilityapi.Client
	apiKey     string
	baseURL    string
	engine     string
	httpClient *http.Client
	timeout    time.Duration
	seed       func() int64
	logger     *slog.Logger
}

var _ ports.ImageGenerator = (*Provider)(nil)

// New creates a new Stability provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey: apiKey,
		seed:   func() int64 { return rand.Int64N(maxSeed) },
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.httpClient == nil {
		p.httpClient = telemetry.HTTPClient()
	}

	clientOpts := []stabilityapi.ClientOption{
		stabilityapi.WithHTTPClient(p.httpClient),
		stabilityapi.WithEngine(p.engine),
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, stabilityapi.WithBaseURL(p.baseURL))
	}

	p.client = stabilityapi.NewClient(apiKey, clientOpts...)
	return p
}

// CreateFromConfig creates a new Stability provider from configuration.
func CreateFromConfig(cfg config.StabilityConfig, logger *slog.Logger) *Provider {
	opts := []ProviderOption{
		WithEngine(cfg.Engine),
		WithTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return New(cfg.APIKey, opts...)
}

func (p *Provider) Name() string {
	return "stability"
}

// Ready returns a configuration error when no API key is set.
func (p *Provider) Ready() error {
	if p.apiKey == "" {
		return domain.ErrConfiguration("stability api key not configured")
	}
	return nil
}

// Transform runs one image-to-image generation and returns the decoded image.
func (p *Provider) Transform(ctx context.Context, req *ports.ImageRequest) (img []byte, err error) {
	if err := p.Ready(); err != nil {
		return nil, err
	}

	seed := req.Seed
	if seed == 0 {
		seed = p.seed()
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(ctx, "stability.image_to_image",
		attribute.String("engine", p.client.Engine()),
		attribute.String("style_preset", req.StylePreset),
		attribute.Float64("strength", req.Strength),
		attribute.Int64("seed", seed),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	apiReq := &stabilityapi.ImageToImageRequest{
		InitImage:     req.Image,
		ImageStrength: req.Strength,
		CFGScale:      req.CFGScale,
		Samples:       1,
		Steps:         req.Steps,
		StylePreset:   req.StylePreset,
		Seed:          seed,
	}
	for _, pr := range req.Prompts {
		apiReq.TextPrompts = append(apiReq.TextPrompts, stabilityapi.TextPrompt{Text: pr.Text, Weight: pr.Weight})
	}

	start := time.Now()
	resp, err := p.client.ImageToImage(ctx, apiReq)
	if err != nil {
		return nil, domain.ClassifyProviderError(fmt.Errorf("stability: %w", err))
	}

	img, err = resp.Image()
	if err != nil {
		return nil, err
	}

	p.logger.Debug("image transform complete",
		slog.String("style_preset", req.StylePreset),
		slog.Int64("seed", seed),
		slog.Duration("duration", time.Since(start)),
		slog.Int("bytes", len(img)))
	return img, nil
}
