package pipeline

import "github.com/tjfontaine/threadsketch/internal/core/ports"

// Params are the fixed sampling parameters of one image-to-image call.
type Params struct {
	Prompts     []ports.ImagePrompt
	Strength    float64
	CFGScale    float64
	Steps       int
	StylePreset string
}

func (p Params) request(image []byte) *ports.ImageRequest {
	return &ports.ImageRequest{
		Image:       image,
		Prompts:     p.Prompts,
		Strength:    p.Strength,
		CFGScale:    p.CFGScale,
		Steps:       p.Steps,
		StylePreset: p.StylePreset,
	}
}

// GenerationParams turn a sketch into a product photo while keeping the
// design's concept.
var GenerationParams = Params{
	Prompts: []ports.ImagePrompt{
		{
			Text: "A creative and artistic product photo of a t-shirt. The t-shirt is displayed on a pure white background. " +
				"Take the design elements and interpret them artistically - add depth, dimension, and creative flair while keeping the core concept. " +
				"Premium screen print with artistic interpretation, creative details, and professional finish. " +
				"Natural cotton fabric texture. Clean product template for e-commerce.",
			Weight: 1,
		},
		{
			Text: "changed design, modified elements, altered colors, distorted text, wrong font, different style, wrong placement, " +
				"blurry design, flat design, marker drawing, digital art, illustration, cartoon style, unrealistic fabric, " +
				"drawing style, sketchy look, artificial appearance",
			Weight: -1,
		},
	},
	Strength:    0.42,
	CFGScale:    6.8,
	Steps:       50,
	StylePreset: "photographic",
}

// EnhancementParams refine a generated product image. Lower strength keeps
// the generated image mostly intact.
var EnhancementParams = Params{
	Prompts: []ports.ImagePrompt{
		{
			Text: "Enhanced version of this t-shirt design with premium quality improvements. " +
				"Add subtle visual effects, refined colors, professional depth and dimension. " +
				"Maintain the original design concept but elevate it with premium finishing touches, better contrast, and artistic refinement. " +
				"High-quality product photography with enhanced visual appeal.",
			Weight: 1,
		},
		{
			Text: "completely different design, wrong colors, changed concept, altered graphics, different style, poor quality, " +
				"blurry, distorted, unprofessional, cheap looking, flat design, amateur finish",
			Weight: -1,
		},
	},
	Strength:    0.3,
	CFGScale:    7.5,
	Steps:       50,
	StylePreset: "enhance",
}

// SuggestionPrompt asks the text capability for enhancement ideas.
const SuggestionPrompt = `Analyze this ThreadSketch design and suggest creative enhancements that would make it more appealing as a product. Focus on:
1. Color palette improvements
2. Visual effects that could be added
3. Style refinements
4. Professional finishing touches

Keep suggestions practical for t-shirt design. Return as JSON with specific actionable suggestions.`
