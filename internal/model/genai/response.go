package genai

import "fmt"

// GenerateResponse is the subset of the generateContent response body the
// relay consumes. Unknown members are ignored on decode.
type GenerateResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one generated answer.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// APIError mirrors the {"error": {...}} envelope of non-200 responses.
type APIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details any    `json:"details"`
	} `json:"error"`
}

// Image is one inline image extracted from a response.
type Image struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// SplitParts walks the first candidate and separates text from inline
// images. The returned parts slice is the model turn to append to history,
// preserving part order. A candidate with no parts but a finish reason
// yields a placeholder text so the caller still gets an answer.
func SplitParts(resp *GenerateResponse) (text string, images []Image, parts []Part) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", nil, nil
	}

	cand := resp.Candidates[0]
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			text += part.Text
			parts = append(parts, TextPart(part.Text))
		}
		if part.InlineData != nil {
			images = append(images, Image{Data: part.InlineData.Data, MimeType: part.InlineData.MimeType})
			parts = append(parts, ImagePart(part.InlineData.MimeType, part.InlineData.Data))
		}
	}

	if len(parts) == 0 && cand.FinishReason != "" {
		text = fmt.Sprintf("No response could be generated. (reason: %s)", cand.FinishReason)
		parts = append(parts, TextPart(text))
	}

	return text, images, parts
}
