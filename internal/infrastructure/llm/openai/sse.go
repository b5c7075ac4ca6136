package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	llm "github.com/agentforge/runtime/internal/infrastructure/llm"
)

// toolCallAccumulator accumulates tool call fragments across SSE chunks.
type toolCallAccumulator struct {
	ID          string
	Name        string
	ArgsBuilder strings.Builder
}

// parseSSEStream reads a text/event-stream response, emitting text deltas
// and accumulating the final response. Grounded on the teacher's
// ParseSSEStream (internal/infrastructure/llm/openai/sse.go); same
// three-tier termination handling (finish_reason, idle timeout, caller
// context), retargeted at llm.DeltaFunc / llm.ModelResponse.
func parseSSEStream(ctx context.Context, reader io.Reader, onDelta llm.DeltaFunc, logger *zap.Logger) (llm.ModelResponse, error) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	toolCallMap := make(map[int]*toolCallAccumulator)
	var usage Usage
	var finishReason string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return llm.ModelResponse{}, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk StreamChunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		delta := choice.Delta
		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
		}

		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			if _, ok := toolCallMap[idx]; !ok {
				toolCallMap[idx] = &toolCallAccumulator{ID: tc.ID, Name: tc.Function.Name}
			}
			acc := toolCallMap[idx]
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.ArgsBuilder.WriteString(tc.Function.Arguments)
		}

		if finishReason != "" {
			logger.Debug("SSE stream finished", zap.String("finish_reason", finishReason))
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout", zap.Duration("idle_timeout", idleTimeout))
			if contentBuilder.Len() == 0 && len(toolCallMap) == 0 {
				return llm.ModelResponse{}, fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return llm.ModelResponse{}, fmt.Errorf("SSE scan error: %w", err)
		}
	}

	msg := entity.Message{Role: entity.RoleAssistant, FinishReason: finishReason}
	if contentBuilder.Len() > 0 {
		msg.Parts = append(msg.Parts, entity.Part{Type: entity.PartText, Text: contentBuilder.String()})
	}
	for i := 0; i < len(toolCallMap); i++ {
		acc := toolCallMap[i]
		var args map[string]any
		if argsStr := acc.ArgsBuilder.String(); argsStr != "" {
			if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
				logger.Warn("failed to parse streamed tool call args", zap.String("tool", acc.Name), zap.Error(err))
				continue
			}
		}
		msg.Parts = append(msg.Parts, entity.Part{Type: entity.PartToolCall, ToolCallID: acc.ID, ToolCallName: acc.Name, ToolCallArgs: args})
	}

	return llm.ModelResponse{
		Message: msg,
		Usage:   llm.Usage{InputTokens: int64(usage.PromptTokens), OutputTokens: int64(usage.CompletionTokens)},
	}, nil
}

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read deadline.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
