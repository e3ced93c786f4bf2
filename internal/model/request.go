package model

import "strings"

type Intent string

const (
	IntentChat     Intent = "chat"
	IntentCode     Intent = "code"
	IntentImage    Intent = "image"
	IntentAnalysis Intent = "analysis"
)

func (i Intent) String() string { return string(i) }

// ParseIntent normalizes input; empty => chat.
// Returns (value, true) if valid; otherwise (chat, false).
func ParseIntent(s string) (Intent, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chat":
		return IntentChat, true
	case "code":
		return IntentCode, true
	case "image":
		return IntentImage, true
	case "analysis":
		return IntentAnalysis, true
	default:
		return IntentChat, false
	}
}

// MediaType is the catalog media type an intent needs.
func (i Intent) MediaType() string {
	if i == IntentImage {
		return MediaImage
	}
	return MediaText
}

const (
	MediaText  = "text"
	MediaImage = "image"
)

// AutoSelectModel lets the gateway pick the model.
const AutoSelectModel = "auto-select"

type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// InferenceRequest is a validated request ready for dispatch.
type InferenceRequest struct {
	Intent      Intent
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float32

	// image intent
	Prompt string
	N      int
	Size   string
}

// CatalogModel is one entry of a provider's advertised model list.
type CatalogModel struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	ContextLength int    `json:"context_length"`
	OwnedBy       string `json:"owned_by,omitempty"`
}

type Image struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

// DispatchResult is the normalized outcome of a successful upstream call.
type DispatchResult struct {
	ProviderID       string
	Model            string
	Content          string
	FinishReason     string
	Images           []Image
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int64
}
