package plugin

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/domain/service"
)

// loggerHook logs every lifecycle transition at debug level, the native
// equivalent of the teacher's LoggingHook (domain/service/hooks.go).
type loggerHook struct {
	service.PluginBase
	logger *zap.Logger
}

func newLoggerHook(m Manifest, logger *zap.Logger) service.Hooks {
	return &loggerHook{
		PluginBase: service.PluginBase{PluginName: m.Name, PluginTags: m.Tags},
		logger:     logger,
	}
}

func (h *loggerHook) OnEvent(ctx *service.PluginContext, event entity.Event) {
	h.logger.Debug("agent event",
		zap.String("agent_id", ctx.AgentID), zap.String("type", event.Type.String()))
}

// varsPromptHook appends a system-prompt fragment listing the agency's
// current vars to every model call (spec §9's "reflective vars mapping",
// surfaced to the model the way the teacher's MetricsHook surfaces counters
// into observability rather than the prompt; this is the prompt-facing
// analogue).
type varsPromptHook struct {
	service.PluginBase
}

func newVarsPromptHook(m Manifest) service.Hooks {
	return &varsPromptHook{PluginBase: service.PluginBase{PluginName: m.Name, PluginTags: m.Tags}}
}

func (h *varsPromptHook) BeforeModel(ctx *service.PluginContext, plan *service.ModelPlan) {
	if len(ctx.Vars) == 0 {
		return
	}
	encoded, err := json.Marshal(ctx.Vars)
	if err != nil {
		return
	}
	plan.AddPromptFragment(fmt.Sprintf("Current agency vars:\n%s", string(encoded)))
}

// RegisterBuiltinPlugins wires the native hook factories available to any
// plugin.yaml naming them via hookType, grounded on the teacher's
// RegisterBuiltinPlugins(loader) registration shape.
func RegisterBuiltinPlugins(loader *Loader, logger *zap.Logger) {
	loader.RegisterFactory("logger", func(m Manifest) (service.Hooks, error) {
		return newLoggerHook(m, logger), nil
	})
	loader.RegisterFactory("vars_prompt", func(m Manifest) (service.Hooks, error) {
		return newVarsPromptHook(m), nil
	})
}
