// Package publish turns a session's final design into a commerce listing.
//
// A publish run selects the image to use, generates listing copy, optionally
// installs a storefront theme, creates the product and attaches the image.
// Only product creation is mandatory; every other step degrades into a
// recorded advisory outcome on the result.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/threadsketch/internal/artifact"
	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/listing"
	"github.com/tjfontaine/threadsketch/internal/metrics"
	"github.com/tjfontaine/threadsketch/internal/telemetry"
	"github.com/tjfontaine/threadsketch/internal/theme"
)

// Fixed listing and image values.
const (
	SuccessMessage = "Product added to waitlist! Customers can now sign up for updates."
	ImageFilename  = "thread-it-design.png"
	ImageAlt       = "Custom ThreadSketch Design"
)

// DefaultRunTimeout bounds a shared publish run.
const DefaultRunTimeout = 5 * time.Minute

// Step outcome labels used in metrics and the ledger.
const (
	statusOK       = "ok"
	statusFailed   = "failed"
	statusAdvisory = "advisory_failed"
	statusSkipped  = "skipped"
)

// Artifacts reads the images a publish run may attach.
type Artifacts interface {
	Get(ctx context.Context, session string, role domain.Role) ([]byte, error)
	Fallback(ctx context.Context) ([]byte, error)
}

// Listings produces listing metadata. Implementations never fail.
type Listings interface {
	Generate(ctx context.Context, lc listing.Context) domain.ListingMetadata
}

// Themes installs and publishes storefront themes.
type Themes interface {
	InstallAndPublish(ctx context.Context, archiveURL string, publish bool) domain.ThemeInstallResult
}

// Settings are the product defaults and theme behaviour.
type Settings struct {
	Vendor          string
	ProductType     string
	Price           string
	ThemeArchiveURL string
	PublishTheme    bool
}

// DefaultSettings match the storefront's waitlist listings.
var DefaultSettings = Settings{
	Vendor:      "ThreadSketch",
	ProductType: "Custom Apparel",
	Price:       "29.99",
}

// Request is one publish request. Every field is optional.
type Request struct {
	Session     string `json:"session,omitempty"`
	GarmentType string `json:"garmentType,omitempty"`

	// ThemeArchiveURL overrides the configured archive for this run.
	ThemeArchiveURL string `json:"themeArchiveUrl,omitempty"`
	// PublishTheme overrides the configured publish behaviour when set.
	PublishTheme *bool `json:"publishTheme,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithThemes sets the theme installer. By default one is built on the
// commerce client.
func WithThemes(t Themes) Option {
	return func(s *Service) {
		s.themes = t
	}
}

// WithSettings sets product defaults and theme behaviour.
func WithSettings(settings Settings) Option {
	return func(s *Service) {
		s.settings = settings
	}
}

// WithLedger records every run to store.
func WithLedger(store ports.RunStore) Option {
	return func(s *Service) {
		s.ledger = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRunTimeout bounds a shared same-session run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithClock overrides the time source used for SKUs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs publish requests.
type Service struct {
	commerce  ports.Commerce
	artifacts Artifacts
	listings  Listings
	themes    Themes
	settings  Settings
	ledger    ports.RunStore
	logger    *slog.Logger
	now       func() time.Time

	runTimeout time.Duration
	group      singleflight.Group
}

// New creates a publish service. commerce is nil when credentials are not
// configured; every Publish then fails with a configuration error.
func New(commerce ports.Commerce, artifacts Artifacts, listings Listings, opts ...Option) *Service {
	s := &Service{
		commerce:  commerce,
		artifacts: artifacts,
		listings:  listings,
		settings:  DefaultSettings,
		logger:    slog.Default(),
		now:       time.Now,

		runTimeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.themes == nil && commerce != nil {
		s.themes = theme.NewInstaller(commerce, "", s.logger)
	}
	return s
}

// Publish runs one publish request. Concurrent requests for the same session
// share a single run and its result. The shared run is detached from the
// callers' contexts and bounded by the run timeout, so a caller that goes
// away only abandons its own wait.
func (s *Service) Publish(ctx context.Context, req Request) (*domain.PublishResult, error) {
	if s.commerce == nil {
		return nil, domain.ErrConfiguration("commerce credentials not configured: set shopify.store_url and shopify.admin_token")
	}
	if req.Session != "" && !artifact.ValidSession(req.Session) {
		return nil, domain.ErrValidation(fmt.Sprintf("invalid session id %q", req.Session))
	}
	if req.Session == "" {
		return s.publish(ctx, req)
	}

	ch := s.group.DoChan(req.Session, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
		defer cancel()
		return s.publish(runCtx, req)
	})

	select {
	case <-ctx.Done():
		s.logger.Warn("publish caller gone, run continues",
			slog.String("session", req.Session),
			slog.String("error", ctx.Err().Error()))
		return nil, domain.ClassifyProviderError(ctx.Err())
	case res := <-ch:
		if res.Shared {
			s.logger.Info("publish collapsed into in-flight run", slog.String("session", req.Session))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.PublishResult), nil
	}
}

func (s *Service) publish(ctx context.Context, req Request) (result *domain.PublishResult, err error) {
	runID := uuid.NewString()
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "publish.run",
		attribute.String("run_id", runID),
		attribute.String("session", req.Session))
	defer func() { telemetry.EndSpan(span, err) }()

	rec := &ports.PublishRun{ID: runID, Session: req.Session, CreatedAt: start}
	defer func() {
		rec.Duration = time.Since(start)
		if err != nil {
			rec.Status = "error"
			rec.Error = err.Error()
			metrics.PublishRunsTotal.WithLabelValues("error").Inc()
		} else {
			rec.Status = "published"
			metrics.PublishRunsTotal.WithLabelValues("published").Inc()
		}
		s.record(ctx, rec)
	}()

	s.logger.Info("publish started", slog.String("run_id", runID), slog.String("session", req.Session))

	image, source := s.selectArtifact(ctx, req.Session)
	rec.ArtifactSource = source
	metrics.ObservePublishStep("artifact", string(source))

	meta := s.listings.Generate(ctx, listing.Context{GarmentType: req.GarmentType})
	rec.ListingSource = meta.Source
	metrics.ObservePublishStep("listing", string(meta.Source))

	themeOutcome := s.installTheme(ctx, req)
	rec.ThemeStatus = themeStatus(themeOutcome)
	metrics.ObservePublishStep("theme", rec.ThemeStatus)

	product, err := s.commerce.CreateProduct(ctx, s.buildProduct(meta))
	if err != nil {
		metrics.ObservePublishStep("product", statusFailed)
		s.logger.Error("product creation failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		pubErr := domain.NewError(domain.KindProvider, "product creation failed").
			WithCause(domain.ClassifyProviderError(err))
		// Rejections of the listing itself keep the platform's status.
		var hs interface{ HTTPStatus() int }
		if errors.As(err, &hs) && hs.HTTPStatus() >= 400 && hs.HTTPStatus() < 500 {
			pubErr.WithStatusCode(hs.HTTPStatus())
		}
		return nil, pubErr
	}
	metrics.ObservePublishStep("product", statusOK)
	rec.ProductID = product.ID
	rec.ProductTitle = product.Title

	result = &domain.PublishResult{
		RunID:           runID,
		Session:         req.Session,
		Message:         SuccessMessage,
		Product:         *product,
		AIDetails:       meta,
		Theme:           themeOutcome,
		ArtifactSource:  source,
		WaitlistEnabled: true,
	}

	rec.ImageStatus = statusSkipped
	if image != nil {
		uploaded, err := s.commerce.AttachImage(ctx, product.ID, &ports.ImageUpload{
			Attachment: image,
			Filename:   ImageFilename,
			Alt:        ImageAlt,
		})
		if err != nil {
			adv := domain.Failed[*domain.ProductImage]("image", nil, err)
			result.ImageError = adv.ErrorString()
			rec.ImageStatus = statusAdvisory
			s.logger.Warn("image upload failed", slog.Int64("product_id", product.ID), slog.String("error", result.ImageError))
		} else {
			result.UploadedImage = uploaded
			rec.ImageStatus = statusOK
		}
	}
	metrics.ObservePublishStep("image", rec.ImageStatus)

	s.logger.Info("publish complete",
		slog.String("run_id", runID),
		slog.Int64("product_id", product.ID),
		slog.String("title", product.Title),
		slog.String("listing_source", string(meta.Source)),
		slog.String("artifact_source", string(source)),
		slog.String("image", rec.ImageStatus),
		slog.String("theme", rec.ThemeStatus),
		slog.Duration("duration", time.Since(start)))

	return result, nil
}

// selectArtifact prefers the session's final image, then the fallback
// screenshot. Read errors other than absence are logged and treated as
// absence.
func (s *Service) selectArtifact(ctx context.Context, session string) ([]byte, domain.ArtifactSource) {
	if session != "" {
		data, err := s.artifacts.Get(ctx, session, domain.RoleFinal)
		if err == nil {
			return data, domain.ArtifactSourceFinal
		}
		if !errors.Is(err, domain.ErrArtifactNotFound) {
			s.logger.Warn("failed to read final artifact", slog.String("session", session), slog.String("error", err.Error()))
		}
	}

	data, err := s.artifacts.Fallback(ctx)
	if err == nil {
		return data, domain.ArtifactSourceFallback
	}
	if !errors.Is(err, domain.ErrArtifactNotFound) {
		s.logger.Warn("failed to read fallback image", slog.String("error", err.Error()))
	}
	return nil, domain.ArtifactSourceNone
}

func (s *Service) installTheme(ctx context.Context, req Request) domain.ThemeOutcome {
	archive := req.ThemeArchiveURL
	if archive == "" {
		archive = s.settings.ThemeArchiveURL
	}
	if archive == "" || s.themes == nil {
		return domain.ThemeOutcome{}
	}

	publish := s.settings.PublishTheme
	if req.PublishTheme != nil {
		publish = *req.PublishTheme
	}

	return domain.ThemeOutcome{
		Attempted:          true,
		ThemeInstallResult: s.themes.InstallAndPublish(ctx, archive, publish),
	}
}

func themeStatus(t domain.ThemeOutcome) string {
	switch {
	case !t.Attempted:
		return statusSkipped
	case !t.Success || t.Error != "":
		return statusAdvisory
	default:
		return statusOK
	}
}

func (s *Service) buildProduct(meta domain.ListingMetadata) *domain.Product {
	return &domain.Product{
		Title:       meta.Title,
		BodyHTML:    meta.Description,
		Vendor:      s.settings.Vendor,
		ProductType: s.settings.ProductType,
		Status:      "active",
		Tags:        meta.Tags,
		Variants: []domain.ProductVariant{{
			Price:               s.settings.Price,
			SKU:                 fmt.Sprintf("TS-%d", s.now().UnixMilli()),
			InventoryManagement: "shopify",
			InventoryQuantity:   0,
			InventoryPolicy:     "deny",
		}},
	}
}

func (s *Service) record(ctx context.Context, run *ports.PublishRun) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordPublishRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("failed to record publish run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
}
