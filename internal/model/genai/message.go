package genai

// Roles used in multi-turn contents.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Content is one turn of a conversation sent to or returned by the
// generateContent endpoint.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a tagged union: exactly one of Text or InlineData is set.
// Part order inside a Content is significant and must survive storage.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData carries base64-encoded binary content, typically an image.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// TextPart builds a text-only part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart builds an inline-binary part.
func ImagePart(mimeType, data string) Part {
	return Part{InlineData: &InlineData{MimeType: mimeType, Data: data}}
}

// UserContent wraps parts into a user turn.
func UserContent(parts ...Part) Content {
	return Content{Role: RoleUser, Parts: parts}
}

// ModelContent wraps parts into a model turn.
func ModelContent(parts ...Part) Content {
	return Content{Role: RoleModel, Parts: parts}
}
