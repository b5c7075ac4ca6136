package monitoring

import (
	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/domain/service"
)

// MetricsHook is a plugin that instruments every agent run with Monitor
// counters by watching the same OnEvent feed every other plugin sees.
// Grounded on the teacher's AgentHook-based MetricsHook, adapted from the
// deleted AgentLoop's BeforeLLMCall/AfterLLMCall/BeforeToolCall/AfterToolCall
// callback set onto the surviving Hooks.OnEvent dispatch: one agency-wide
// Monitor accumulates counts across every agent and plugin dispatch in that
// agency, exposed over HTTP via Monitor.PrometheusHandler.
type MetricsHook struct {
	service.PluginBase
	monitor *Monitor
}

// NewMetricsHook builds the builtin metrics plugin around one Monitor. Every
// Agency shares a single Monitor instance injected at plugin-load time, so
// /metrics reports process-wide totals, not per-tenant ones (spec's
// Non-goals exclude per-tenant observability dashboards).
func NewMetricsHook(monitor *Monitor) service.Hooks {
	return &MetricsHook{
		PluginBase: service.PluginBase{PluginName: "metrics", PluginTags: []string{"observability"}},
		monitor:    monitor,
	}
}

func (h *MetricsHook) OnEvent(ctx *service.PluginContext, event entity.Event) {
	switch event.Type {
	case entity.EventInferenceDetails:
		h.monitor.IncModelCall()
		h.monitor.IncRequestTotal()
		h.monitor.IncRequestSuccess()
		if usage, ok := event.Data["usage"].(map[string]any); ok {
			h.monitor.AddTokensUsed(toInt(usage["inputTokens"]) + toInt(usage["outputTokens"]))
		}
	case entity.EventToolStart:
		h.monitor.IncToolCallTotal()
	case entity.EventToolFinish:
		h.monitor.IncToolCallSuccess()
	case entity.EventToolError:
		h.monitor.IncToolCallFailed()
	case entity.EventAgentError:
		h.monitor.IncError()
		h.monitor.IncRequestFailed()
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
