package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		Model:      "gpt-4o",
		APIKey:     "sk-test",
		BaseURL:    baseURL,
		MaxRetries: 1,
		RetryDelay: 1,
	})
}

func completionHandler(t *testing.T, capture *wireRequest, response string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}
}

func TestGenerate(t *testing.T) {
	var captured wireRequest
	srv := httptest.NewServer(completionHandler(t, &captured, `{
		"choices": [{
			"message": {"role": "assistant", "content": "hello there"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
	}`))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.Generate(context.Background(), []model.Message{
		model.NewSystemMessage("be brief"),
		model.NewUserMessage("hi"),
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.Input)
	assert.Equal(t, 4, resp.Usage.Output)

	assert.Equal(t, "gpt-4o", captured.Model)
	assert.False(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "hi", captured.Messages[1].Content)
}

func TestGenerateSendsTools(t *testing.T) {
	var captured wireRequest
	srv := httptest.NewServer(completionHandler(t, &captured, `{
		"choices": [{
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}
				}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 20, "completion_tokens": 8}
	}`))
	defer srv.Close()

	client := newTestClient(srv.URL)
	tools := []llm.ToolDefinition{{
		Name:        "get_weather",
		Description: "Gets the weather",
		Parameters:  map[string]any{"type": "object"},
	}}
	resp, err := client.Generate(context.Background(), []model.Message{
		model.NewUserMessage("weather in paris"),
	}, tools, nil)
	require.NoError(t, err)

	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "function", captured.Tools[0].Type)
	assert.Equal(t, "get_weather", captured.Tools[0].Function.Name)

	require.Len(t, resp.ToolCalls, 1)
	call := resp.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, call.Function.Arguments)
	assert.Empty(t, call.Function.ParseError)
}

func TestGenerateKeepsMalformedArguments(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t, nil, `{
		"choices": [{
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "get_weather", "arguments": "{broken"}
				}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {}
	}`))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.Generate(context.Background(), []model.Message{
		model.NewUserMessage("go"),
	}, nil, nil)
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "{broken", resp.ToolCalls[0].Function.ArgumentsRaw)
	assert.NotEmpty(t, resp.ToolCalls[0].Function.ParseError)
	assert.Nil(t, resp.ToolCalls[0].Function.Arguments)
}

func TestGenerateEncodesToolHistory(t *testing.T) {
	var captured wireRequest
	srv := httptest.NewServer(completionHandler(t, &captured, `{
		"choices": [{"message": {"role": "assistant", "content": "done"}, "finish_reason": "stop"}],
		"usage": {}
	}`))
	defer srv.Close()

	assistant := model.Message{
		Role: model.RoleAssistant,
		ToolCalls: []model.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: model.FunctionCall{
				Name:      "echo",
				Arguments: map[string]any{"text": "hi"},
			},
		}},
	}
	toolMsg := model.NewToolMessage("call_1", "echo", "hi")

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), []model.Message{
		model.NewUserMessage("echo hi"),
		assistant,
		toolMsg,
	}, nil, nil)
	require.NoError(t, err)

	require.Len(t, captured.Messages, 3)
	require.Len(t, captured.Messages[1].ToolCalls, 1)
	assert.JSONEq(t, `{"text":"hi"}`, captured.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_1", captured.Messages[2].ToolCallID)
	assert.Equal(t, "tool", captured.Messages[2].Role)
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Incorrect API key", "type": "invalid_request_error", "code": "invalid_api_key"}}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), []model.Message{model.NewUserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "Incorrect API key")
	assert.Contains(t, err.Error(), "invalid_api_key")
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t, nil, `{"choices": [], "usage": {}}`))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), []model.Message{model.NewUserMessage("hi")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response choices")
}

func sseBody(chunks ...string) string {
	out := ""
	for _, chunk := range chunks {
		out += "data: " + chunk + "\n\n"
	}
	return out + "data: [DONE]\n\n"
}

func TestGenerateStreamContent(t *testing.T) {
	var captured wireRequest
	srv := httptest.NewServer(completionHandler(t, &captured, sseBody(
		`{"choices": [{"delta": {"content": "Hel"}}]}`,
		`{"choices": [{"delta": {"content": "lo"}}]}`,
		`{"choices": [{"delta": {}, "finish_reason": "stop"}]}`,
		`{"choices": [], "usage": {"prompt_tokens": 9, "completion_tokens": 2}}`,
	)))
	defer srv.Close()

	client := newTestClient(srv.URL)

	var deltas []string
	var done *model.Response
	for chunk, err := range client.GenerateStream(context.Background(), []model.Message{model.NewUserMessage("hi")}, nil, nil) {
		require.NoError(t, err)
		switch chunk.Type {
		case model.ChunkContentDelta:
			deltas = append(deltas, chunk.Delta)
		case model.ChunkDone:
			done = chunk.Response
		}
	}

	assert.True(t, captured.Stream)
	require.NotNil(t, captured.StreamOptions)
	assert.True(t, captured.StreamOptions.IncludeUsage)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	require.NotNil(t, done)
	assert.Equal(t, "Hello", done.Content)
	assert.Equal(t, "stop", done.FinishReason)
	assert.Equal(t, 9, done.Usage.Input)
	assert.Equal(t, 2, done.Usage.Output)
}

func TestGenerateStreamAccumulatesToolCallDeltas(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t, nil, sseBody(
		`{"choices": [{"delta": {"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": ""}}]}}]}`,
		`{"choices": [{"delta": {"tool_calls": [{"function": {"arguments": "{\"city\":"}}]}}]}`,
		`{"choices": [{"delta": {"tool_calls": [{"function": {"arguments": "\"Paris\"}"}}]}}]}`,
		`{"choices": [{"delta": {}, "finish_reason": "tool_calls"}]}`,
	)))
	defer srv.Close()

	client := newTestClient(srv.URL)

	var toolChunks []*model.ToolCall
	var done *model.Response
	for chunk, err := range client.GenerateStream(context.Background(), []model.Message{model.NewUserMessage("weather")}, nil, nil) {
		require.NoError(t, err)
		switch chunk.Type {
		case model.ChunkToolUse:
			toolChunks = append(toolChunks, chunk.ToolCall)
		case model.ChunkDone:
			done = chunk.Response
		}
	}

	require.Len(t, toolChunks, 1)
	assert.Equal(t, "call_1", toolChunks[0].ID)
	assert.Equal(t, "get_weather", toolChunks[0].Function.Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, toolChunks[0].Function.Arguments)

	require.NotNil(t, done)
	require.Len(t, done.ToolCalls, 1)
	assert.Equal(t, "tool_calls", done.FinishReason)
}

func TestGenerateStreamAPIError(t *testing.T) {
	srv := httptest.NewServer(completionHandler(t, nil, sseBody(
		`{"choices": [{"delta": {"content": "par"}}]}`,
		`{"error": {"message": "stream cut short", "type": "server_error"}}`,
	)))
	defer srv.Close()

	client := newTestClient(srv.URL)

	var sawError bool
	for _, err := range client.GenerateStream(context.Background(), []model.Message{model.NewUserMessage("hi")}, nil, nil) {
		if err != nil {
			sawError = true
			assert.Contains(t, err.Error(), "stream cut short")
			break
		}
	}
	assert.True(t, sawError)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.withDefaults()

	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, 0.7, *cfg.Temperature)
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, 120, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2, cfg.RetryDelay)
}
