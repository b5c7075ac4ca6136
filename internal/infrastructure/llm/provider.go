package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
)

// ToolChoice selects how the model should use the offered tool defs.
type ToolChoice struct {
	Mode     string // "auto" | "function"
	Function string // set when Mode == "function"
}

// ResponseFormat constrains the model's output shape.
type ResponseFormat struct {
	Kind   string // "text" | "json" | "schema"
	Schema map[string]any
}

// ToolDef is the provider-facing tool definition built from a domain tool's
// Meta (spec §4.4: "tool definitions become {type:function, function:
// {name, description, parameters}}; missing parameter schemas default to
// an open object").
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelRequest is the provider-agnostic request shape built by the step
// loop's ModelPlan (spec §4.4/§4.6).
type ModelRequest struct {
	Model          string
	SystemPrompt   string
	Messages       []entity.Message
	ToolDefs       []ToolDef
	ToolChoice     ToolChoice
	ResponseFormat ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	Stop           []string
}

// Usage reports token accounting for one model call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// ModelResponse is returned by both invoke and stream.
type ModelResponse struct {
	Message entity.Message
	Usage   Usage
}

// DeltaFunc receives incremental chunks during a streamed call.
type DeltaFunc func(textDelta string)

// Provider is the infrastructure-layer adaptor contract (spec §4.4):
// `invoke(request, {signal}) -> {message, usage?}` and
// `stream(request, onDelta) -> {message, usage?}`.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error)
	Stream(ctx context.Context, req ModelRequest, onDelta DeltaFunc) (ModelResponse, error)
}

// ProviderConfig holds configuration for constructing a Provider.
type ProviderConfig struct {
	Type    string // "openai" (default representative chat-completions dialect)
	BaseURL string
	APIKey  string
	Model   string

	RetryMax          int
	RetryBackoffMS    int64
	RetryMaxBackoffMS int64
	RetryJitterRatio  float64
	RetryStatusCodes  []int

	CircuitBreakerThreshold int
	CircuitBreakerRecovery  int64 // seconds
}

// ProviderFactory creates a Provider from config. Providers register
// themselves via init() in their own package (spec §4.4 dialect adaptor),
// grounded on the teacher's RegisterFactory/CreateProvider self-registering
// factory pattern (internal/infrastructure/llm/provider.go).
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}

	return factory(cfg, logger), nil
}
