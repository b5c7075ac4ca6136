package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// ExtensionRegistry tracks which permanent tools were registered into the
// shared tool.Registry by which loaded plugin, so UnregisterPluginTools can
// clean up on unload/reload. Tools added through ModelPlan.RegisterTool
// (spec §4.5) are not tracked here, so unloading a plugin does not remove them.
type ExtensionRegistry struct {
	pluginTools map[string][]string // plugin name -> tool names
	logger      *zap.Logger
	mu          sync.RWMutex
}

func NewExtensionRegistry(logger *zap.Logger) *ExtensionRegistry {
	return &ExtensionRegistry{pluginTools: make(map[string][]string), logger: logger}
}

// RegisterToolFromPlugin registers a tool exported by a plugin's OnInit
// hook into the shared registry, tracking ownership for later cleanup.
func (r *ExtensionRegistry) RegisterToolFromPlugin(pluginName string, t domaintool.Tool, registry domaintool.Registry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := registry.Register(t); err != nil {
		return fmt.Errorf("failed to register tool %s from plugin %s: %w", t.Meta().Name, pluginName, err)
	}
	r.pluginTools[pluginName] = append(r.pluginTools[pluginName], t.Meta().Name)

	r.logger.Info("plugin tool registered", zap.String("plugin", pluginName), zap.String("tool", t.Meta().Name))
	return nil
}

// UnregisterPluginTools removes every tool registered by pluginName.
func (r *ExtensionRegistry) UnregisterPluginTools(pluginName string, registry domaintool.Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tools, exists := r.pluginTools[pluginName]
	if !exists {
		return
	}
	for _, name := range tools {
		_ = registry.Unregister(name)
		r.logger.Info("plugin tool unregistered", zap.String("plugin", pluginName), zap.String("tool", name))
	}
	delete(r.pluginTools, pluginName)
}

func (r *ExtensionRegistry) GetPluginTools(pluginName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := r.pluginTools[pluginName]
	out := make([]string, len(tools))
	copy(out, tools)
	return out
}

func (r *ExtensionRegistry) PluginCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pluginTools)
}

// SetupLoaderCallbacks wires this registry's cleanup into the Loader's
// unload lifecycle, so a plugin's permanent tools disappear when it does.
func (r *ExtensionRegistry) SetupLoaderCallbacks(loader *Loader, registry domaintool.Registry) {
	loader.SetCallbacks(
		func(name string) {
			r.logger.Info("plugin loaded, ready for tool registration", zap.String("plugin", name))
		},
		func(name string) {
			r.UnregisterPluginTools(name, registry)
		},
		func(name string) {
			r.logger.Info("plugin reloaded", zap.String("plugin", name))
		},
	)
}
