// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package anthropic is the reference streaming provider, speaking the
// Anthropic Messages API over raw HTTP with SSE.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/agentos/pkg/llm"
	"github.com/teradata-labs/agentos/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the default Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default per-request output cap.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	tokenEncoding = "cl100k_base"
)

// Config holds client configuration. Zero fields take defaults, with the
// ANTHROPIC_API_ENDPOINT and ANTHROPIC_DEFAULT_MODEL environment variables
// consulted before the compiled-in values.
type Config struct {
	APIKey      string
	Model       string
	Endpoint    string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Client implements llm.Provider against the Anthropic Messages API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewClient creates an Anthropic client with defaults applied.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
	}
}

// Name implements llm.Provider.
func (c *Client) Name() string {
	return "anthropic"
}

// convertMessages extracts system content into the separate system field the
// Messages API requires and maps the rest to Anthropic content blocks. Tool
// results travel as user messages with tool_result blocks.
func (c *Client) convertMessages(messages []types.Message) (string, []Message) {
	var systemPrompts []string
	var apiMessages []Message

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				systemPrompts = append(systemPrompts, msg.Content)
			}

		case types.RoleUser:
			apiMessages = append(apiMessages, Message{
				Role:    "user",
				Content: []ContentBlock{{Type: "text", Text: msg.Content}},
			})

		case types.RoleAssistant:
			var content []ContentBlock
			if msg.Content != "" {
				content = append(content, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := map[string]any{}
				if tc.Arguments != "" {
					// The API requires non-null input for tool_use blocks.
					_ = json.Unmarshal([]byte(tc.Arguments), &input)
				}
				content = append(content, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(content) > 0 {
				apiMessages = append(apiMessages, Message{Role: "assistant", Content: content})
			}

		case types.RoleTool:
			apiMessages = append(apiMessages, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		}
	}
	return strings.Join(systemPrompts, "\n\n"), apiMessages
}

func convertTools(tools []types.ToolDefinition) []APITool {
	var apiTools []APITool
	for _, tool := range tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		apiTools = append(apiTools, APITool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return apiTools
}

// StreamCompletion implements llm.Provider. The HTTP request runs before the
// channel is returned, so connection failures surface synchronously and the
// service can rotate to a fallback.
func (c *Client) StreamCompletion(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, opts llm.CompletionOptions) (<-chan llm.StreamChunk, error) {
	system, apiMessages := c.convertMessages(messages)

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	req := &MessagesRequest{
		Model:       model,
		Messages:    apiMessages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Tools:       convertTools(tools),
		Stream:      true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, fmt.Errorf("api error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	out := make(chan llm.StreamChunk, 16)
	go c.consumeSSE(ctx, httpResp.Body, out)
	return out, nil
}

// consumeSSE parses the event stream and translates it into chunks. The
// channel is closed after the terminal chunk.
func (c *Client) consumeSSE(ctx context.Context, body io.ReadCloser, out chan<- llm.StreamChunk) {
	defer close(out)
	defer func() { _ = body.Close() }()

	emit := func(chunk llm.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	usage := types.Usage{}
	var stopReason string
	// content block index → tool call id, for input_json_delta attribution
	blockToolID := make(map[int]string)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event StreamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Skip malformed events but continue processing.
			continue
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				blockToolID[event.Index] = event.ContentBlock.ID
				if !emit(llm.StreamChunk{
					Type: llm.ChunkToolCallDelta,
					ToolCall: &llm.ToolCallDelta{
						ID:   event.ContentBlock.ID,
						Name: event.ContentBlock.Name,
					},
				}) {
					return
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					if !emit(llm.StreamChunk{Type: llm.ChunkTextDelta, Text: event.Delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				if id, ok := blockToolID[event.Index]; ok && event.Delta.PartialJSON != "" {
					if !emit(llm.StreamChunk{
						Type:     llm.ChunkToolCallDelta,
						ToolCall: &llm.ToolCallDelta{ID: id, Arguments: event.Delta.PartialJSON},
					}) {
						return
					}
				}
			}

		case "content_block_stop":
			delete(blockToolID, event.Index)

		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			if !emit(llm.StreamChunk{Type: llm.ChunkUsage, Usage: &usage}) {
				return
			}
			emit(llm.StreamChunk{Type: llm.ChunkDone, FinishReason: mapStopReason(stopReason)})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(llm.StreamChunk{Type: llm.ChunkError, Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	// Stream ended without message_stop.
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if emit(llm.StreamChunk{Type: llm.ChunkUsage, Usage: &usage}) {
		emit(llm.StreamChunk{Type: llm.ChunkDone, FinishReason: mapStopReason(stopReason)})
	}
}

func mapStopReason(stopReason string) string {
	switch stopReason {
	case "tool_use":
		return "tool_calls"
	case "end_turn", "":
		return "stop"
	default:
		return stopReason
	}
}

// CountTokens estimates prompt tokens with a tiktoken encoding, falling back
// to ceil(chars/4) when the encoding is unavailable offline.
func (c *Client) CountTokens(messages []types.Message) (int, error) {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		chars := 0
		for _, m := range messages {
			chars += len(m.Content)
			for _, tc := range m.ToolCalls {
				chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
			}
		}
		return (chars + 3) / 4, nil
	}
	total := 0
	for _, m := range messages {
		total += len(enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(enc.Encode(tc.Name+tc.Arguments, nil, nil))
		}
	}
	return total, nil
}
