// Package anthropic adapts the Anthropic Messages client to the
// text-generation capability.
package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	anthropicapi "github.com/tjfontaine/threadsketch/internal/api/anthropic"
	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/telemetry"
	"github.com/tjfontaine/threadsketch/internal/tokens"
)

const (
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 500
)

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

// WithModel sets the model id.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithPromptBudget truncates prompts longer than n tokens. Zero disables it.
func WithPromptBudget(n int) ProviderOption {
	return func(p *Provider) {
		p.promptBudget = n
	}
}

// WithTimeout bounds each Generate call.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider implements ports.TextGenerator.
type Provider struct {
	client       *anthropicapi.Client
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	model        string
	maxTokens    int
	promptBudget int
	timeout      time.Duration
	counter      *tokens.Counter
	logger       *slog.Logger
}

var _ ports.TextGenerator = (*Provider)(nil)

// New creates a new Anthropic provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		counter:   tokens.NewCounter(""),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.httpClient == nil {
		p.httpClient = telemetry.HTTPClient()
	}

	clientOpts := []anthropicapi.ClientOption{anthropicapi.WithHTTPClient(p.httpClient)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}

	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return "anthropic"
}

// Generate sends prompt as a single user message and returns the reply text.
func (p *Provider) Generate(ctx context.Context, prompt string) (text string, err error) {
	if p.apiKey == "" {
		return "", domain.ErrConfiguration("anthropic api key not configured")
	}

	if p.promptBudget > 0 {
		if cut, truncated := p.counter.Truncate(prompt, p.promptBudget); truncated {
			p.logger.Warn("prompt exceeds token budget, truncating",
				slog.Int("budget", p.promptBudget))
			prompt = cut
		}
	}
	promptTokens, estimated := p.counter.Count(prompt)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(ctx, "anthropic.messages",
		attribute.String("model", p.model),
		attribute.Int("prompt_tokens", promptTokens),
		attribute.Bool("prompt_tokens_estimated", estimated),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	resp, err := p.client.CreateMessage(ctx, &anthropicapi.MessagesRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  []anthropicapi.Message{anthropicapi.UserText(prompt)},
	})
	if err != nil {
		return "", domain.ClassifyProviderError(fmt.Errorf("anthropic: %w", err))
	}

	text = strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("anthropic: empty completion (stop_reason %q)", resp.StopReason)
	}
	span.SetAttributes(attribute.Int("output_tokens", resp.Usage.OutputTokens))
	return text, nil
}
