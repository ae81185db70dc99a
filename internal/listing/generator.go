// Package listing produces the title, description and tags for a commerce
// listing. Generation asks the text capability for a JSON object and falls
// back to a fixed listing whenever that fails, so callers always get a
// complete result.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/metrics"
)

// Fallback listing values.
const (
	FallbackTitle       = "Custom ThreadSketch Design"
	FallbackDescription = "Unique design created in ThreadSketch. Coming soon - join the waitlist to be notified when this drops!"
)

const (
	defaultBrandTag = "ThreadSketch"
	defaultGarment  = "t-shirt"
	customTag       = "custom"
	comingSoonTag   = "coming-soon"
)

// Context carries the hints used to build the prompt.
type Context struct {
	// GarmentType defaults to t-shirt.
	GarmentType string
}

// Option configures a Generator.
type Option func(*Generator)

// WithBrandTag sets the tag every listing carries.
func WithBrandTag(tag string) Option {
	return func(g *Generator) {
		if tag != "" {
			g.brandTag = tag
		}
	}
}

// WithDefaultGarment sets the garment hint used when none is given.
func WithDefaultGarment(garment string) Option {
	return func(g *Generator) {
		if garment != "" {
			g.defaultGarment = garment
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// Generator builds listing metadata.
type Generator struct {
	text           ports.TextGenerator
	brandTag       string
	defaultGarment string
	logger         *slog.Logger
}

// NewGenerator creates a generator. text may be nil, in which case every
// listing is the fallback.
func NewGenerator(text ports.TextGenerator, opts ...Option) *Generator {
	g := &Generator{
		text:           text,
		brandTag:       defaultBrandTag,
		defaultGarment: defaultGarment,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns listing metadata for lc. It never fails: any capability
// error or unusable completion yields the fallback listing.
func (g *Generator) Generate(ctx context.Context, lc Context) domain.ListingMetadata {
	garment := lc.GarmentType
	if garment == "" {
		garment = g.defaultGarment
	}

	meta, reason := g.fromText(ctx, garment)
	if reason != "" {
		g.logger.Warn("using fallback listing",
			slog.String("garment", garment),
			slog.String("reason", reason))
		meta = g.Fallback()
	}

	metrics.ListingSourceTotal.WithLabelValues(string(meta.Source)).Inc()
	return meta
}

// fromText returns the AI listing or a non-empty reason it could not be used.
func (g *Generator) fromText(ctx context.Context, garment string) (domain.ListingMetadata, string) {
	if g.text == nil {
		return domain.ListingMetadata{}, "no text generator configured"
	}

	start := time.Now()
	completion, err := g.text.Generate(ctx, Prompt(garment))
	if err != nil {
		return domain.ListingMetadata{}, domain.ClassifyProviderError(err).Error()
	}

	parsed, ok := Parse(completion)
	if !ok {
		return domain.ListingMetadata{}, fmt.Sprintf("completion had no usable listing object (%d bytes)", len(completion))
	}

	g.logger.Info("generated listing",
		slog.String("provider", g.text.Name()),
		slog.String("title", parsed.Title),
		slog.Duration("duration", time.Since(start)))

	return domain.ListingMetadata{
		Title:       parsed.Title,
		Description: DescriptionHTML(parsed.Description),
		Tags:        NormalizeTags(parsed.Tags, g.brandTag, customTag),
		Source:      domain.ListingSourceAI,
	}, ""
}

// Fallback returns the fixed listing used when generation fails.
func (g *Generator) Fallback() domain.ListingMetadata {
	return domain.ListingMetadata{
		Title:       FallbackTitle,
		Description: DescriptionHTML(FallbackDescription),
		Tags:        NormalizeTags([]string{g.brandTag, customTag, comingSoonTag}),
		Source:      domain.ListingSourceFallback,
	}
}

// Prompt is the listing request sent to the text capability.
func Prompt(garment string) string {
	return fmt.Sprintf(`Generate a simple product name and short description for a custom designed %s created with ThreadSketch.

Keep it simple and include:
- A catchy product name
- Short description (2-3 sentences max)
- Mention it was "Created in ThreadSketch"
- Add "Coming Soon" messaging

Return a JSON object with: title, description (plain text, not HTML), tags (array).

Example:
{
  "title": "Urban Sketch Tee",
  "description": "Custom designed %s created in ThreadSketch. This unique piece features your personal design. Coming soon - join the waitlist!",
  "tags": ["ThreadSketch", "custom", "coming-soon"]
}`, garment, garment)
}
