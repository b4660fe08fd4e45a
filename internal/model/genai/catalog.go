package genai

// ModelInfo describes one selectable model for the models action.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog returns the models the relay exposes to callers.
func Catalog() []ModelInfo {
	return []ModelInfo{
		{
			ID:          "gemini-3-pro-preview",
			Name:        "Gemini 3 Pro",
			Description: "Advanced reasoning and text generation",
		},
		{
			ID:          "gemini-3-pro-image-preview",
			Name:        "Gemini 3 Pro Image (Nano Banana 2)",
			Description: "High-quality image generation, up to 4K resolution",
		},
	}
}
