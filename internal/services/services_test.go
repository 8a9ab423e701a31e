package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indraastra/iffy-sub000/internal/config"
	"github.com/indraastra/iffy-sub000/pkg/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewModel(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		wantNil  bool
		wantErr  bool
		wantType any
	}{
		{
			name:    "no provider returns nil model",
			cfg:     &config.Config{},
			wantNil: true,
		},
		{
			name: "anthropic",
			cfg: &config.Config{
				LLMProvider:     "anthropic",
				AnthropicAPIKey: "key",
				ModelName:       "claude-sonnet-4",
			},
			wantType: &AnthropicModel{},
		},
		{
			name:    "anthropic without key",
			cfg:     &config.Config{LLMProvider: "anthropic"},
			wantErr: true,
		},
		{
			name: "openai",
			cfg: &config.Config{
				LLMProvider:  "openai",
				OpenAIAPIKey: "key",
				ModelName:    "gpt-4o",
			},
			wantType: &OpenAIModel{},
		},
		{
			name:    "unknown provider",
			cfg:     &config.Config{LLMProvider: "bedrock"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			model, err := NewModel(tc.cfg, testLogger())
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.wantNil {
				assert.Nil(t, model)
				return
			}
			assert.IsType(t, tc.wantType, model)
		})
	}
}

func TestSplitMessages(t *testing.T) {
	system, turns := splitMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "You are a narrator."},
		{Role: llm.RoleSystem, Content: "Keep it short."},
		{Role: llm.RoleUser, Content: "look around"},
		{Role: llm.RoleAssistant, Content: "You see a door."},
	})

	assert.Equal(t, "You are a narrator.\n\nKeep it short.", system)
	require.Len(t, turns, 2)
	assert.Equal(t, llm.RoleUser, turns[0].Role)
	assert.Equal(t, llm.RoleAssistant, turns[1].Role)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare object",
			input: `{"choice": "continue"}`,
			want:  `{"choice": "continue"}`,
		},
		{
			name:  "fenced",
			input: "```json\n{\"choice\": \"T0\"}\n```",
			want:  `{"choice": "T0"}`,
		},
		{
			name:  "surrounding prose",
			input: "Here is the result:\n{\"reasoning\": \"ok\"}\nHope that helps!",
			want:  `{"reasoning": "ok"}`,
		},
		{
			name:  "array",
			input: "Sure: [\"one\", \"two\"]",
			want:  `["one", "two"]`,
		},
		{
			name:  "no json at all",
			input: "I cannot do that.",
			want:  "I cannot do that.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.input))
		})
	}
}

func TestAnthropicModel_Invoke(t *testing.T) {
	var gotReq anthropicChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := anthropicChatResponse{
			Content: []anthropicContentBlock{
				{Type: "text", Text: "```json\n{\"choice\": \"T1\"}\n```"},
			},
		}
		resp.Usage.InputTokens = 120
		resp.Usage.OutputTokens = 15
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	model := NewAnthropicModel("test-key", "big-model", "small-model", testLogger())
	model.baseURL = server.URL

	result, err := model.Invoke(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "Classify the action."},
		{Role: llm.RoleUser, Content: "open the door"},
	}, &llm.Schema{Name: "classify", Schema: map[string]any{"type": "object"}}, llm.Options{
		Temperature:  llm.Temp(0.1),
		UseCostModel: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "small-model", gotReq.Model)
	require.NotNil(t, gotReq.Temperature)
	assert.Equal(t, 0.1, *gotReq.Temperature)
	// Schema instruction is folded into the system prompt.
	assert.Contains(t, gotReq.System, "Classify the action.")
	assert.Contains(t, gotReq.System, "JSON object")
	require.Len(t, gotReq.Messages, 1)

	assert.JSONEq(t, `{"choice": "T1"}`, string(result.Data))
	assert.Equal(t, 120, result.Usage.InputTokens)
	assert.Equal(t, 15, result.Usage.OutputTokens)
}

func TestAnthropicModel_InvokeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit", "message": "slow down"}}`))
	}))
	defer server.Close()

	model := NewAnthropicModel("test-key", "big-model", "", testLogger())
	model.baseURL = server.URL

	_, err := model.Invoke(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil, llm.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIModel_Invoke(t *testing.T) {
	var gotReq openAIChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := openAIChatResponse{
			Choices: []openAIChatChoice{{}},
		}
		resp.Choices[0].Message.Role = "assistant"
		resp.Choices[0].Message.Content = `{"narrative": ["The door creaks open."]}`
		resp.Usage.PromptTokens = 80
		resp.Usage.CompletionTokens = 20
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	model := NewOpenAIModel("test-key", "gpt-4o", "gpt-4o-mini", server.URL)

	result, err := model.Invoke(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "open the door"},
	}, &llm.Schema{Name: "narrate", Schema: map[string]any{"type": "object"}}, llm.Options{})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", gotReq.Model)
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_schema", gotReq.ResponseFormat.Type)
	assert.Equal(t, "narrate", gotReq.ResponseFormat.JSONSchema.Name)

	assert.JSONEq(t, `{"narrative": ["The door creaks open."]}`, string(result.Data))
	assert.Equal(t, 80, result.Usage.InputTokens)
	assert.Equal(t, 20, result.Usage.OutputTokens)
}

func TestOpenAIModel_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	model := NewOpenAIModel("test-key", "gpt-4o", "", server.URL)
	_, err := model.Invoke(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil, llm.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
