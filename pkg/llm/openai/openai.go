// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai adapts the OpenAI chat completions API (and compatible
// endpoints) to the llm.Client interface.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/omni/pkg/httpclient"
	"github.com/kadirpekel/omni/pkg/llm"
	"github.com/kadirpekel/omni/pkg/model"
)

// Config configures the adapter. Zero values get defaults from
// withDefaults; only APIKey is commonly required.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature *float64
	MaxTokens   int

	// Timeout per request in seconds.
	Timeout int

	// MaxRetries on rate limits and server errors.
	MaxRetries int

	// RetryDelay backoff base in seconds.
	RetryDelay int
}

func (c *Config) withDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg  Config
	http *httpclient.Client
}

var _ llm.Client = (*Client)(nil)

// New creates a client. Works against any endpoint speaking the chat
// completions protocol by overriding BaseURL.
func New(cfg Config) *Client {
	cfg.withDefaults()
	return &Client{
		cfg: cfg,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
	}
}

// Wire types for the chat completions protocol.

type wireRequest struct {
	Model         string             `json:"model"`
	Messages      []wireMessage      `json:"messages"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StreamOptions *wireStreamOptions `json:"stream_options,omitempty"`
	Tools         []wireTool         `json:"tools,omitempty"`
}

type wireStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage  `json:"usage"`
	Error *wireError `json:"error,omitempty"`
}

type wireStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content,omitempty"`
			ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

// Generate performs a blocking completion.
func (c *Client) Generate(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) (*model.Response, error) {
	req := c.buildRequest(messages, tools, false)

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := resp.Choices[0]
	return &model.Response{
		Content:      choice.Message.Content,
		ToolCalls:    decodeToolCalls(choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
		Usage: &model.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}

// GenerateStream performs a streaming completion. The terminal ChunkDone
// carries the assembled response with usage when the server reports it.
func (c *Client) GenerateStream(ctx context.Context, messages []model.Message, tools []llm.ToolDefinition, metadata llm.Metadata) iter.Seq2[*model.StreamChunk, error] {
	return func(yield func(*model.StreamChunk, error) bool) {
		req := c.buildRequest(messages, tools, true)

		body, err := c.post(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		defer body.Close()

		var content strings.Builder
		var calls []wireToolCall
		var usage wireUsage
		finishReason := ""

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("failed to read stream: %w", err))
				return
			}

			line = bytes.TrimSpace(line)
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			line = line[6:]
			if bytes.Equal(line, []byte("[DONE]")) {
				break
			}

			var chunk wireStreamResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				yield(nil, fmt.Errorf("API error: %s", chunk.Error.Message))
				return
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}

			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if !yield(&model.StreamChunk{Type: model.ChunkContentDelta, Delta: choice.Delta.Content}, nil) {
					return
				}
			}

			for _, delta := range choice.Delta.ToolCalls {
				// A delta with an id starts a new call; argument fragments
				// append to the most recent one.
				if delta.ID != "" {
					calls = append(calls, delta)
				} else if len(calls) > 0 {
					calls[len(calls)-1].Function.Arguments += delta.Function.Arguments
				}
			}
		}

		toolCalls := decodeToolCalls(calls)
		for i := range toolCalls {
			if !yield(&model.StreamChunk{Type: model.ChunkToolUse, ToolCall: &toolCalls[i]}, nil) {
				return
			}
		}

		yield(&model.StreamChunk{
			Type: model.ChunkDone,
			Response: &model.Response{
				Content:      content.String(),
				ToolCalls:    toolCalls,
				FinishReason: finishReason,
				Usage: &model.TokenUsage{
					Input:  usage.PromptTokens,
					Output: usage.CompletionTokens,
				},
			},
		}, nil)
	}
}

func (c *Client) buildRequest(messages []model.Message, tools []llm.ToolDefinition, stream bool) wireRequest {
	req := wireRequest{
		Model:       c.cfg.Model,
		Messages:    encodeMessages(messages),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &wireStreamOptions{IncludeUsage: true}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

func (c *Client) post(ctx context.Context, request wireRequest) (io.ReadCloser, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorBody(body); apiErr != nil {
			return nil, fmt.Errorf("API request failed with status %d: %s (type: %s, code: %s)",
				resp.StatusCode, apiErr.Message, apiErr.Type, apiErr.Code)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp.Body, nil
}

func parseErrorBody(body []byte) *wireError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func encodeMessages(messages []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			args := call.Function.ArgumentsRaw
			if args == "" {
				data, err := json.Marshal(call.Function.Arguments)
				if err != nil {
					data = []byte("{}")
				}
				args = string(data)
			}
			wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      call.Function.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, wire)
	}
	return out
}

// decodeToolCalls converts wire tool calls, decoding the JSON argument
// string. A decode failure is preserved on the call instead of dropping it
// so the loop can report it back to the model.
func decodeToolCalls(calls []wireToolCall) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]model.ToolCall, 0, len(calls))
	for _, call := range calls {
		decoded := model.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: model.FunctionCall{
				Name: call.Function.Name,
			},
		}
		if call.Function.Arguments != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				decoded.Function.ArgumentsRaw = call.Function.Arguments
				decoded.Function.ParseError = err.Error()
			} else {
				decoded.Function.Arguments = args
			}
		}
		out = append(out, decoded)
	}
	return out
}
