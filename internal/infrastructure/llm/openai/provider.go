package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	llm "github.com/agentforge/runtime/internal/infrastructure/llm"
)

func init() {
	llm.RegisterFactory("openai", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is a Go-native OpenAI-compatible HTTP client implementing the
// chat-completions dialect named in spec §4.4. Compatible with: OpenAI,
// Bailian (Qwen), MiniMax, DeepSeek, Ollama, vLLM, and any server speaking
// the same wire format. Grounded on the teacher's
// internal/infrastructure/llm/openai/provider.go transport setup.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	retry   *retrier
	logger  *zap.Logger
}

func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Transport: transport},
		retry:   newRetrier(cfg),
		logger:  logger.With(zap.String("provider", "openai")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return "openai" }

// Invoke implements the blocking, non-streaming half of the provider
// contract (spec §4.4), wrapped in the retry policy.
func (p *Provider) Invoke(ctx context.Context, req llm.ModelRequest) (llm.ModelResponse, error) {
	apiReq := buildAPIRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return llm.ModelResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	var parsed llm.ModelResponse
	err = p.retry.do(ctx, p.logger, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, err
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, &httpStatusError{status: resp.StatusCode, body: string(respBody), headers: resp.Header}
		}

		parsed, err = parseAPIResponse(respBody)
		return resp.StatusCode, err
	})
	return parsed, err
}

// Stream implements the incremental half of the provider contract.
func (p *Provider) Stream(ctx context.Context, req llm.ModelRequest, onDelta llm.DeltaFunc) (llm.ModelResponse, error) {
	apiReq := buildAPIRequest(req)
	streamBody := StreamRequest{
		Request:       apiReq,
		Stream:        true,
		StreamOptions: map[string]interface{}{"include_usage": true},
	}
	body, err := json.Marshal(streamBody)
	if err != nil {
		return llm.ModelResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	var parsed llm.ModelResponse
	err = p.retry.do(ctx, p.logger, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return resp.StatusCode, &httpStatusError{status: resp.StatusCode, body: string(respBody), headers: resp.Header}
		}

		streamDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				resp.Body.Close()
			case <-streamDone:
			}
		}()

		parsed, err = parseSSEStream(ctx, resp.Body, onDelta, p.logger)
		close(streamDone)
		return resp.StatusCode, err
	})
	return parsed, err
}

func buildAPIRequest(req llm.ModelRequest) *Request {
	apiReq := &Request{Model: req.Model}
	if req.Temperature != nil {
		apiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	if req.SystemPrompt != "" {
		apiReq.Messages = append(apiReq.Messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, toAPIMessage(m))
	}

	for _, td := range req.ToolDefs {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			},
		})
	}
	return apiReq
}

// toAPIMessage maps an entity.Message (parts form) onto the chat-completions
// dialect (spec §4.4): assistant tool calls become a tool_calls array with
// empty content; tool responses become role=tool with tool_call_id.
func toAPIMessage(m entity.Message) Message {
	apiMsg := Message{Role: string(m.Role)}
	for _, part := range m.Parts {
		switch part.Type {
		case entity.PartText:
			apiMsg.Content += part.Text
		case entity.PartToolCall:
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
				ID:   part.ToolCallID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      part.ToolCallName,
					Arguments: MarshalToolCallArgs(part.ToolCallArgs),
				},
			})
		case entity.PartToolCallResponse:
			apiMsg.ToolCallID = part.ToolResponseFor
			apiMsg.Content = responseToString(part.ToolResponse)
		}
	}
	if len(apiMsg.ToolCalls) > 0 {
		apiMsg.Content = ""
	}
	return apiMsg
}

func responseToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func parseAPIResponse(body []byte) (llm.ModelResponse, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return llm.ModelResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return llm.ModelResponse{}, fmt.Errorf("empty response: no choices")
	}

	choice := apiResp.Choices[0]
	msg := entity.Message{Role: entity.RoleAssistant, FinishReason: choice.FinishReason}
	if choice.Message.Content != "" {
		msg.Parts = append(msg.Parts, entity.Part{Type: entity.PartText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return llm.ModelResponse{}, fmt.Errorf("parse tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		msg.Parts = append(msg.Parts, entity.Part{
			Type: entity.PartToolCall, ToolCallID: tc.ID, ToolCallName: tc.Function.Name, ToolCallArgs: args,
		})
	}

	return llm.ModelResponse{
		Message: msg,
		Usage:   llm.Usage{InputTokens: int64(apiResp.Usage.PromptTokens), OutputTokens: int64(apiResp.Usage.CompletionTokens)},
	}, nil
}
