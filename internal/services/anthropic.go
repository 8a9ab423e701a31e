package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/indraastra/iffy-sub000/pkg/llm"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	DefaultAnthropicTemperature = 0.7
	DefaultAnthropicMaxTokens   = 2048
)

// AnthropicModel implements llm.LanguageModel for Anthropic Claude.
type AnthropicModel struct {
	apiKey        string
	modelName     string
	costModelName string
	baseURL       string
	httpClient    *http.Client
	logger        *slog.Logger
}

type anthropicChatRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
	Messages    []anthropicTurn   `json:"messages"`
	System      string            `json:"system,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type anthropicTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicChatResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicModel(apiKey string, modelName string, costModelName string, logger *slog.Logger) *AnthropicModel {
	return &AnthropicModel{
		apiKey:        apiKey,
		modelName:     modelName,
		costModelName: costModelName,
		baseURL:       anthropicBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// splitMessages extracts and combines all system messages into a single system
// prompt and returns the remaining non-system messages.
func splitMessages(messages []llm.Message) (string, []anthropicTurn) {
	var systemParts []string
	var turns []anthropicTurn

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			turns = append(turns, anthropicTurn{Role: msg.Role, Content: msg.Content})
		}
	}

	return strings.Join(systemParts, "\n\n"), turns
}

func (a *AnthropicModel) Invoke(ctx context.Context, messages []llm.Message, schema *llm.Schema, opts llm.Options) (*llm.Result, error) {
	systemPrompt, turns := splitMessages(messages)

	// Anthropic has no native response_format parameter. Structured output
	// is requested through the system prompt and recovered from the text.
	if schema != nil {
		schemaJSON, err := json.Marshal(schema.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		instruction := fmt.Sprintf(
			"Respond with a single JSON object matching this schema, and nothing else:\n%s",
			string(schemaJSON))
		if systemPrompt != "" {
			systemPrompt += "\n\n" + instruction
		} else {
			systemPrompt = instruction
		}
	}

	modelName := a.modelName
	if opts.UseCostModel && a.costModelName != "" {
		modelName = a.costModelName
	}

	temperature := DefaultAnthropicTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	anthropicReq := anthropicChatRequest{
		Model:       modelName,
		MaxTokens:   DefaultAnthropicMaxTokens,
		Temperature: &temperature,
		Messages:    turns,
		System:      systemPrompt,
		Stream:      false,
	}

	reqBody, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var anthropicResp anthropicChatResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if anthropicResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", anthropicResp.Error.Message)
	}

	var responseText string
	for _, content := range anthropicResp.Content {
		if content.Type == "text" {
			responseText += content.Text
		}
	}

	if schema != nil {
		responseText = extractJSON(responseText)
	}

	return &llm.Result{
		Data: json.RawMessage(responseText),
		Usage: llm.Usage{
			InputTokens:  anthropicResp.Usage.InputTokens,
			OutputTokens: anthropicResp.Usage.OutputTokens,
		},
	}, nil
}

// extractJSON trims prose and markdown fences around a JSON object. Models
// sometimes wrap structured output even when told not to.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if fenced, ok := strings.CutPrefix(text, "```json"); ok {
		text = fenced
	} else if fenced, ok := strings.CutPrefix(text, "```"); ok {
		text = fenced
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return text
	}
	return text[start : end+1]
}
