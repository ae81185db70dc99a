// Package ports defines the core interfaces between the orchestrators and the
// external capabilities they drive.
package ports

import (
	"context"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
)

// ImagePrompt is one weighted text prompt. Negative weights steer away.
type ImagePrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// ImageRequest is an image-to-image generation request.
type ImageRequest struct {
	// Image is the PNG-encoded init image.
	Image       []byte
	Prompts     []ImagePrompt
	Strength    float64
	CFGScale    float64
	Steps       int
	StylePreset string
	// Seed of zero lets the implementation pick one.
	Seed int64
}

// ImageGenerator is the image-to-image generation capability.
// Used by the generation stage and by the enhancement transform.
type ImageGenerator interface {
	Name() string
	Transform(ctx context.Context, req *ImageRequest) ([]byte, error)
}

// ReadyChecker is implemented by capabilities that can report missing
// configuration without making a call.
type ReadyChecker interface {
	Ready() error
}

// TextGenerator is the text-generation capability: prompt in, free text out.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageUpload is an image to attach to a product.
type ImageUpload struct {
	Attachment []byte
	Filename   string
	Alt        string
}

// Commerce is the subset of the commerce platform REST contract the publish
// orchestrator and theme installer rely on.
type Commerce interface {
	CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error)
	AttachImage(ctx context.Context, productID int64, img *ImageUpload) (*domain.ProductImage, error)
	CreateTheme(ctx context.Context, name, src, role string) (*domain.Theme, error)
	UpdateThemeRole(ctx context.Context, themeID int64, role string) (*domain.Theme, error)
}
