package tool

import "context"

// Meta describes a tool to the model: name, optional human description,
// and an optional JSON Schema for its arguments (spec §4.5). A nil
// Parameters value defaults to an open object at the provider adaptor
// boundary (internal/infrastructure/llm).
type Meta struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ExecContext carries the calling agent's identity and environment into a
// tool invocation, matching spec §4.6 step 5's `execute(args, {agent, env,
// callId})`.
type ExecContext struct {
	AgentID  string
	AgencyID string
	CallID   string
	Env      map[string]string
}

// Tool is `{meta, execute(input, ctx) -> string|object|null}` (spec §4.5).
// A nil result with a nil error is the "no tool result yet" signal used by
// the subagent spawn tools (task, message_agent), which resolve
// asynchronously via the parent's subagent_result action instead of
// returning directly.
type Tool interface {
	Meta() Meta
	Tags() []string
	Execute(ctx context.Context, args map[string]any, execCtx ExecContext) (any, error)
}

// Registry holds every tool resolvable by name or tag for an agent's
// capability set. Grounded on the teacher's InMemoryRegistry
// (internal/domain/tool/tool.go's original Register/Get/List/Has), extended
// with tag lookup for the `@tag` capability pattern (spec §4.5).
type Registry interface {
	Register(t Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []Meta
	Has(name string) bool
	ByTag(tag string) []Tool
	All() []Tool
}

// InMemoryRegistry is the default Registry implementation. Tools a plugin
// registers inside beforeModel are added to this same registry and stay
// there after the step.
type InMemoryRegistry struct {
	tools map[string]Tool
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(t Tool) error {
	r.tools[t.Meta().Name] = t
	return nil
}

func (r *InMemoryRegistry) Unregister(name string) error {
	delete(r.tools, name)
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *InMemoryRegistry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *InMemoryRegistry) List() []Meta {
	out := make([]Meta, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Meta())
	}
	return out
}

func (r *InMemoryRegistry) ByTag(tag string) []Tool {
	var out []Tool
	for _, t := range r.tools {
		for _, tg := range t.Tags() {
			if tg == tag {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func (r *InMemoryRegistry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// RemoteCatalog is the narrow surface the capability resolver needs from
// an MCP server manager (spec §9: "the runtime sees only listTools() and
// callTool(serverId, name, args)"), kept here so domain/service can resolve
// `mcp:*` patterns without importing the infrastructure layer.
type RemoteCatalog interface {
	AllTools() []Tool
	ServerTools(serverID string) []Tool
	Tool(serverID, name string) (Tool, bool)
}

// FuncTool adapts a plain function into a Tool; used for builtin tools and
// for tools a plugin registers dynamically inside beforeModel.
type FuncTool struct {
	meta    Meta
	tags    []string
	execute func(ctx context.Context, args map[string]any, execCtx ExecContext) (any, error)
}

func NewFuncTool(meta Meta, tags []string, execute func(context.Context, map[string]any, ExecContext) (any, error)) *FuncTool {
	return &FuncTool{meta: meta, tags: tags, execute: execute}
}

func (f *FuncTool) Meta() Meta      { return f.meta }
func (f *FuncTool) Tags() []string  { return f.tags }
func (f *FuncTool) Execute(ctx context.Context, args map[string]any, execCtx ExecContext) (any, error) {
	return f.execute(ctx, args, execCtx)
}
