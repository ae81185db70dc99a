package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"time"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/imaging"
)

// ArtifactStore is the subset of the artifact store the stages use.
type ArtifactStore interface {
	Put(ctx context.Context, session string, role domain.Role, data []byte) (domain.ArtifactRef, error)
	Get(ctx context.Context, session string, role domain.Role) ([]byte, error)
	Delete(ctx context.Context, session string, role domain.Role) error
}

// Stage is one mandatory step of the design pipeline.
type Stage interface {
	Name() string
	Process(ctx context.Context, in *StageInput) (*StageOutput, error)
}

// StageInput identifies the session a stage operates on.
type StageInput struct {
	RunID   string
	Session string
}

// StageOutput is the artifact a stage produced plus any advisory sub-steps
// it ran along the way.
type StageOutput struct {
	Artifact domain.ArtifactRef
	Advisory []domain.StageEntry
}

// Canvas is the square the capability expects images on.
type Canvas struct {
	Size       int
	Background color.Color
}

// DefaultCanvas is 1024x1024 on white.
var DefaultCanvas = Canvas{Size: 1024, Background: imaging.White}

// GenerationStage turns the raw sketch into a generated product image.
type GenerationStage struct {
	images ports.ImageGenerator
	store  ArtifactStore
	canvas Canvas
	params Params
	logger *slog.Logger
}

// NewGenerationStage creates the generation stage.
func NewGenerationStage(images ports.ImageGenerator, store ArtifactStore, canvas Canvas, logger *slog.Logger) *GenerationStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationStage{
		images: images,
		store:  store,
		canvas: canvas,
		params: GenerationParams,
		logger: logger,
	}
}

func (s *GenerationStage) Name() string { return domain.StageGeneration }

// Ready reports whether the image capability can be called.
func (s *GenerationStage) Ready() error {
	if rc, ok := s.images.(ports.ReadyChecker); ok {
		return rc.Ready()
	}
	return nil
}

func (s *GenerationStage) Process(ctx context.Context, in *StageInput) (*StageOutput, error) {
	raw, err := s.store.Get(ctx, in.Session, domain.RoleRaw)
	if err != nil {
		return nil, fmt.Errorf("read raw sketch: %w", err)
	}

	initImage, err := imaging.Normalize(raw, s.canvas.Size, s.canvas.Background)
	if err != nil {
		return nil, domain.ErrValidation("uploaded sketch is not a decodable image").WithCause(err)
	}

	out, err := s.images.Transform(ctx, s.params.request(initImage))
	if err != nil {
		return nil, err
	}
	if _, _, err := imaging.Decode(out); err != nil {
		return nil, fmt.Errorf("%s returned a malformed image: %w", s.images.Name(), err)
	}

	ref, err := s.store.Put(ctx, in.Session, domain.RoleGenerated, out)
	if err != nil {
		return nil, fmt.Errorf("store generated image: %w", err)
	}

	if err := s.store.Delete(ctx, in.Session, domain.RoleRaw); err != nil {
		s.logger.Warn("failed to delete raw sketch", slog.String("session", in.Session), slog.String("error", err.Error()))
	}

	return &StageOutput{Artifact: ref}, nil
}

// EnhancementStage refines the generated image into the final artifact.
type EnhancementStage struct {
	images ports.ImageGenerator
	text   ports.TextGenerator
	store  ArtifactStore
	canvas Canvas
	params Params
	logger *slog.Logger
}

// NewEnhancementStage creates the enhancement stage. text may be nil, in
// which case the suggestion step is skipped.
func NewEnhancementStage(images ports.ImageGenerator, text ports.TextGenerator, store ArtifactStore, canvas Canvas, logger *slog.Logger) *EnhancementStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancementStage{
		images: images,
		text:   text,
		store:  store,
		canvas: canvas,
		params: EnhancementParams,
		logger: logger,
	}
}

func (s *EnhancementStage) Name() string { return domain.StageEnhancement }

// Ready reports whether the image capability can be called.
func (s *EnhancementStage) Ready() error {
	if rc, ok := s.images.(ports.ReadyChecker); ok {
		return rc.Ready()
	}
	return nil
}

func (s *EnhancementStage) Process(ctx context.Context, in *StageInput) (*StageOutput, error) {
	generated, err := s.store.Get(ctx, in.Session, domain.RoleGenerated)
	if err != nil {
		return nil, fmt.Errorf("read generated image: %w", err)
	}

	advisory := []domain.StageEntry{s.suggest(ctx, in)}

	initImage, err := imaging.Normalize(generated, s.canvas.Size, s.canvas.Background)
	if err != nil {
		return nil, fmt.Errorf("normalize generated image: %w", err)
	}

	out, err := s.images.Transform(ctx, s.params.request(initImage))
	if err != nil {
		return nil, err
	}

	img, _, err := imaging.Decode(out)
	if err != nil {
		return nil, fmt.Errorf("%s returned a malformed image: %w", s.images.Name(), err)
	}
	if b := img.Bounds(); b.Dx() != s.canvas.Size || b.Dy() != s.canvas.Size {
		out, err = imaging.EncodePNG(imaging.Letterbox(img, s.canvas.Size, s.canvas.Background))
		if err != nil {
			return nil, err
		}
	}

	ref, err := s.store.Put(ctx, in.Session, domain.RoleFinal, out)
	if err != nil {
		return nil, fmt.Errorf("store final image: %w", err)
	}

	if err := s.store.Delete(ctx, in.Session, domain.RoleGenerated); err != nil {
		s.logger.Warn("failed to delete generated image", slog.String("session", in.Session), slog.String("error", err.Error()))
	}

	return &StageOutput{Artifact: ref, Advisory: advisory}, nil
}

// suggest runs the advisory suggestion step. It never fails the stage.
func (s *EnhancementStage) suggest(ctx context.Context, in *StageInput) domain.StageEntry {
	entry := domain.StageEntry{Stage: domain.StageSuggestions}
	if s.text == nil {
		entry.Status = domain.StatusSkipped
		entry.Detail = "no text generator configured"
		return entry
	}

	start := time.Now()
	suggestions, err := s.text.Generate(ctx, SuggestionPrompt)
	entry.Duration = time.Since(start)

	if err != nil {
		adv := domain.Failed(domain.StageSuggestions, "", err)
		s.logger.Warn("enhancement suggestions unavailable",
			slog.String("session", in.Session),
			slog.String("error", adv.Err.Error()))
		entry.Status = domain.StatusAdvisoryFailed
		entry.Detail = adv.ErrorString()
		return entry
	}

	s.logger.Info("enhancement suggestions",
		slog.String("session", in.Session),
		slog.String("provider", s.text.Name()),
		slog.String("suggestions", suggestions))
	entry.Status = domain.StatusOK
	entry.Detail = fmt.Sprintf("%d characters of suggestions", len(suggestions))
	return entry
}
