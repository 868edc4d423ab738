package ocr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ocrd/internal/engine"
)

// Type selects the default prompt.
type Type string

const (
	TypeDocument Type = "document"
	TypeImage    Type = "image"
)

// Default prompts per request type.
const (
	DocumentPrompt = "Recognize the text in " + engine.ImagePlaceholder + "."
	ImagePrompt    = "Describe " + engine.ImagePlaceholder + " in detail."
)

// MaxPromptLength bounds custom prompts, in characters.
const MaxPromptLength = 1000

// Request is one OCR request as accepted by the HTTP layer.
type Request struct {
	Type          Type
	CustomPrompt  string
	CropMode      bool
	Temperature   *float64
	MaxTokens     *int
	IncludeRaw    bool
	SaveImageRefs bool
	RenderHTML    bool
}

// NewRequest returns a document request with the stock options: native
// resolution, image annotations dropped from the text.
func NewRequest() Request {
	return Request{Type: TypeDocument, CropMode: true}
}

// Prompt returns the custom prompt if set, else the default for Type.
func (r Request) Prompt() string {
	if strings.TrimSpace(r.CustomPrompt) != "" {
		return r.CustomPrompt
	}
	if r.Type == TypeImage {
		return ImagePrompt
	}
	return DocumentPrompt
}

// Validate checks the request type and custom prompt.
func (r Request) Validate() error {
	switch r.Type {
	case TypeDocument, TypeImage, "":
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("must be %q or %q", TypeDocument, TypeImage)}
	}
	if strings.TrimSpace(r.CustomPrompt) == "" {
		return nil
	}
	if !strings.Contains(r.CustomPrompt, engine.ImagePlaceholder) {
		return &ValidationError{Field: "custom_prompt", Reason: "custom prompt must contain " + engine.ImagePlaceholder + " placeholder"}
	}
	if n := len([]rune(r.CustomPrompt)); n > MaxPromptLength {
		return &ValidationError{Field: "custom_prompt", Reason: fmt.Sprintf("custom prompt too long: %d characters (max %d)", n, MaxPromptLength)}
	}
	return nil
}

// ValidationError reports a malformed OCR request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string   { return e.Field + ": " + e.Reason }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *ValidationError) Details() map[string]any {
	return map[string]any{"field": e.Field, "reason": e.Reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
