package llm

import (
	"context"
	"encoding/json"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single message in a model conversation.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Schema describes the JSON shape a structured-output call must return.
// The Schema field holds a plain JSON Schema document.
type Schema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Usage reports token counts for a single model invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Options control a single model invocation.
type Options struct {
	// Temperature overrides the provider default when non-nil.
	Temperature *float64
	// UseCostModel selects the cheap/fast model tier instead of the
	// quality tier. Classification and background work use this.
	UseCostModel bool
}

// Result is the outcome of a structured-output invocation. Data holds the
// raw JSON object the model produced; callers unmarshal it into their own
// response types.
type Result struct {
	Data  json.RawMessage
	Usage Usage
}

// LanguageModel is the capability the engine consumes for all narrative
// generation and classification. Implementations must support two model
// tiers, selected via Options.UseCostModel. A hard failure (network, auth,
// unparseable body) is returned as an error; the core never assumes success.
type LanguageModel interface {
	Invoke(ctx context.Context, messages []Message, schema *Schema, opts Options) (*Result, error)
}

// Temp is a convenience for building Options with a literal temperature.
func Temp(t float64) *float64 {
	return &t
}
