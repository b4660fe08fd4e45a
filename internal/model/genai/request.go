package genai

import "strings"

// GenerateRequest is the body POSTed to models/{model}:generateContent.
// GenerationConfig is omitted entirely when empty; the endpoint rejects
// unexpected null members on some model variants.
type GenerateRequest struct {
	Contents         []Content      `json:"contents"`
	GenerationConfig map[string]any `json:"generationConfig,omitempty"`
}

// ImageGenerationConfig returns the directives an image-generating model
// needs to emit both text and image modalities.
func ImageGenerationConfig() map[string]any {
	return map[string]any{
		"responseMimeType":   "text/plain",
		"responseModalities": []string{"Text", "Image"},
	}
}

// IsImageModel reports whether a model identifier names an image-generating
// variant. Image models take single-turn contents only.
func IsImageModel(model string) bool {
	return strings.Contains(model, "image")
}
