package service

import (
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// ModelPlan accumulates the system prompt, options, and tools a
// step's beforeModel hooks contribute (spec §4.6 step 4a). SystemPrompt()
// concatenates the blueprint prompt and every added fragment, joined by
// blank lines.
type ModelPlan struct {
	basePrompt      string
	promptFragments []string
	Temperature     *float64
	MaxTokens       *int
	ephemeralTools  []domaintool.Tool
}

func NewModelPlan(basePrompt string) *ModelPlan {
	return &ModelPlan{basePrompt: basePrompt}
}

// AddPromptFragment appends a system-prompt fragment contributed by a
// plugin's beforeModel hook.
func (p *ModelPlan) AddPromptFragment(fragment string) {
	if fragment == "" {
		return
	}
	p.promptFragments = append(p.promptFragments, fragment)
}

// RegisterTool adds a tool for this step's model call. The step loop
// registers it into the agent's tool registry before the call; it is not
// removed when the step ends.
func (p *ModelPlan) RegisterTool(t domaintool.Tool) {
	p.ephemeralTools = append(p.ephemeralTools, t)
}

func (p *ModelPlan) EphemeralTools() []domaintool.Tool { return p.ephemeralTools }

// SystemPrompt is the blueprint prompt followed by every fragment added by
// a plugin, joined by blank lines (spec §4.6 step 4a).
func (p *ModelPlan) SystemPrompt() string {
	out := p.basePrompt
	for _, f := range p.promptFragments {
		out += "\n\n" + f
	}
	return out
}

// ToolCall mirrors a model-issued tool call, used by hook signatures.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Hooks is the bag of optional lifecycle callbacks a plugin may implement
// (spec §4.5). All methods are optional; PluginBase supplies no-op
// defaults so a plugin only overrides what it needs, following the
// teacher's hooks.go optional-hook-bag pattern.
type Hooks interface {
	Name() string
	Tags() []string

	OnInit(ctx *PluginContext)
	OnTick(ctx *PluginContext)
	BeforeModel(ctx *PluginContext, plan *ModelPlan)
	OnModelResult(ctx *PluginContext, response entity.Message)
	OnToolStart(ctx *PluginContext, call ToolCall)
	OnToolResult(ctx *PluginContext, call ToolCall, out any)
	OnToolError(ctx *PluginContext, call ToolCall, err error)
	OnRunComplete(ctx *PluginContext, final entity.Message)
	OnEvent(ctx *PluginContext, event entity.Event)
}

// PluginBase gives every hook a no-op body; plugins embed it and override
// only the hooks they implement.
type PluginBase struct {
	PluginName string
	PluginTags []string
}

func (PluginBase) OnInit(*PluginContext)                            {}
func (PluginBase) OnTick(*PluginContext)                            {}
func (PluginBase) BeforeModel(*PluginContext, *ModelPlan)            {}
func (PluginBase) OnModelResult(*PluginContext, entity.Message)      {}
func (PluginBase) OnToolStart(*PluginContext, ToolCall)              {}
func (PluginBase) OnToolResult(*PluginContext, ToolCall, any)        {}
func (PluginBase) OnToolError(*PluginContext, ToolCall, error)       {}
func (PluginBase) OnRunComplete(*PluginContext, entity.Message)      {}
func (PluginBase) OnEvent(*PluginContext, entity.Event)              {}
func (p PluginBase) Name() string                                   { return p.PluginName }
func (p PluginBase) Tags() []string                                 { return p.PluginTags }

// PluginContext is the mutable handle passed to every hook invocation. It
// lets a hook pause the run and read/write the run's vars map; tools are
// registered through ModelPlan.RegisterTool inside BeforeModel.
type PluginContext struct {
	AgentID    string
	AgencyID   string
	RunState   entity.RunState
	Paused     bool
	PauseReason string
	Vars       map[string]any
	Logger     *zap.Logger
}

// Pause marks the agent to transition to paused at the end of this hook
// dispatch (spec §4.6 step 3: "If any plugin transitions status to
// paused, return").
func (c *PluginContext) Pause(reason string) {
	c.Paused = true
	c.PauseReason = reason
}

// HookDispatcher runs each registered plugin's hooks in registration
// order, matching spec §4.5's listed invocation order, swallowing panics
// and errors per the propagation policy in spec §7 ("plugin hook
// exceptions are logged and swallowed").
type HookDispatcher struct {
	plugins []Hooks
	logger  *zap.Logger
}

func NewHookDispatcher(logger *zap.Logger, plugins ...Hooks) *HookDispatcher {
	return &HookDispatcher{plugins: plugins, logger: logger}
}

func (d *HookDispatcher) Add(p Hooks) { d.plugins = append(d.plugins, p) }

func (d *HookDispatcher) DispatchInit(ctx *PluginContext) {
	d.each(ctx, func(p Hooks) { p.OnInit(ctx) })
}

func (d *HookDispatcher) DispatchTick(ctx *PluginContext) {
	d.each(ctx, func(p Hooks) { p.OnTick(ctx) })
}

func (d *HookDispatcher) DispatchBeforeModel(ctx *PluginContext, plan *ModelPlan) {
	d.each(ctx, func(p Hooks) { p.BeforeModel(ctx, plan) })
}

func (d *HookDispatcher) DispatchOnModelResult(ctx *PluginContext, resp entity.Message) {
	d.each(ctx, func(p Hooks) { p.OnModelResult(ctx, resp) })
}

func (d *HookDispatcher) DispatchOnToolStart(ctx *PluginContext, call ToolCall) {
	d.each(ctx, func(p Hooks) { p.OnToolStart(ctx, call) })
}

func (d *HookDispatcher) DispatchOnToolResult(ctx *PluginContext, call ToolCall, out any) {
	d.each(ctx, func(p Hooks) { p.OnToolResult(ctx, call, out) })
}

func (d *HookDispatcher) DispatchOnToolError(ctx *PluginContext, call ToolCall, err error) {
	d.each(ctx, func(p Hooks) { p.OnToolError(ctx, call, err) })
}

func (d *HookDispatcher) DispatchOnRunComplete(ctx *PluginContext, final entity.Message) {
	d.each(ctx, func(p Hooks) { p.OnRunComplete(ctx, final) })
}

func (d *HookDispatcher) DispatchOnEvent(ctx *PluginContext, event entity.Event) {
	d.each(ctx, func(p Hooks) { p.OnEvent(ctx, event) })
}

func (d *HookDispatcher) each(ctx *PluginContext, call func(Hooks)) {
	for _, p := range d.plugins {
		d.safely(ctx, p, call)
	}
}

func (d *HookDispatcher) safely(ctx *PluginContext, p Hooks, call func(Hooks)) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("plugin hook panicked", zap.String("plugin", p.Name()), zap.Any("recover", r))
		}
	}()
	call(p)
}
