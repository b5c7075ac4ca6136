package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentforge/runtime/internal/domain/service"
	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// testHooks implements service.Hooks for testing.
type testHooks struct {
	service.PluginBase
	inited bool
}

func (h *testHooks) OnInit(ctx *service.PluginContext) { h.inited = true }

func setupTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	loader, err := NewLoader(&LoaderConfig{PluginDir: dir, EnableHotLoad: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	return loader, dir
}

func createPluginDir(t *testing.T, baseDir, name string, m Manifest) string {
	t.Helper()
	pluginDir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "plugin.yaml"), data, 0644); err != nil {
		t.Fatalf("failed to write plugin.yaml: %v", err)
	}
	return pluginDir
}

func TestLoader_LoadAll_EmptyDir(t *testing.T) {
	loader, _ := setupTestLoader(t)

	if err := loader.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll on empty dir should succeed: %v", err)
	}
	if len(loader.List()) != 0 {
		t.Errorf("expected 0 plugins, got %d", len(loader.List()))
	}
}

func TestLoader_Load_ValidPlugin(t *testing.T) {
	loader, dir := setupTestLoader(t)

	loader.RegisterFactory("test_hook", func(m Manifest) (service.Hooks, error) {
		return &testHooks{PluginBase: service.PluginBase{PluginName: m.Name}}, nil
	})

	createPluginDir(t, dir, "hello_plugin", Manifest{
		Name: "hello_plugin", HookType: "test_hook", Enabled: true,
	})

	if err := loader.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll should succeed: %v", err)
	}

	plugins := loader.List()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}
	if plugins[0].Name != "hello_plugin" {
		t.Errorf("expected plugin name 'hello_plugin', got %q", plugins[0].Name)
	}
}

func TestLoader_Load_DisabledPlugin(t *testing.T) {
	loader, dir := setupTestLoader(t)

	loader.RegisterFactory("test_hook", func(m Manifest) (service.Hooks, error) {
		return &testHooks{PluginBase: service.PluginBase{PluginName: m.Name}}, nil
	})

	createPluginDir(t, dir, "disabled_plugin", Manifest{
		Name: "disabled_plugin", HookType: "test_hook", Enabled: false,
	})

	_ = loader.LoadAll(context.Background())

	if len(loader.List()) != 0 {
		t.Errorf("disabled plugin should not be loaded, got %d plugins", len(loader.List()))
	}
}

func TestLoader_Load_InvalidManifest(t *testing.T) {
	loader, dir := setupTestLoader(t)

	pluginDir := filepath.Join(dir, "bad_plugin")
	_ = os.MkdirAll(pluginDir, 0755)
	_ = os.WriteFile(filepath.Join(pluginDir, "plugin.yaml"), []byte("name: [unterminated\n  - bad"), 0644)

	if err := loader.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll should not fail overall: %v", err)
	}
	if len(loader.List()) != 0 {
		t.Error("invalid plugin should not be loaded")
	}
}

func TestLoader_Unload(t *testing.T) {
	loader, dir := setupTestLoader(t)

	loader.RegisterFactory("test_hook", func(m Manifest) (service.Hooks, error) {
		return &testHooks{PluginBase: service.PluginBase{PluginName: m.Name}}, nil
	})

	createPluginDir(t, dir, "unload_plugin", Manifest{
		Name: "unload_plugin", HookType: "test_hook", Enabled: true,
	})

	_ = loader.LoadAll(context.Background())
	if len(loader.List()) != 1 {
		t.Fatal("expected 1 plugin loaded")
	}

	if err := loader.Unload(context.Background(), "unload_plugin"); err != nil {
		t.Fatalf("Unload should succeed: %v", err)
	}
	if len(loader.List()) != 0 {
		t.Error("expected 0 plugins after unload")
	}
}

func TestLoader_Callbacks(t *testing.T) {
	loader, dir := setupTestLoader(t)

	var loadedNames, unloadedNames []string
	loader.SetCallbacks(
		func(name string) { loadedNames = append(loadedNames, name) },
		func(name string) { unloadedNames = append(unloadedNames, name) },
		nil,
	)

	loader.RegisterFactory("test_hook", func(m Manifest) (service.Hooks, error) {
		return &testHooks{PluginBase: service.PluginBase{PluginName: m.Name}}, nil
	})

	createPluginDir(t, dir, "callback_plugin", Manifest{
		Name: "callback_plugin", HookType: "test_hook", Enabled: true,
	})

	_ = loader.LoadAll(context.Background())
	_ = loader.Unload(context.Background(), "callback_plugin")

	if len(loadedNames) != 1 || loadedNames[0] != "callback_plugin" {
		t.Errorf("expected load callback for 'callback_plugin', got %v", loadedNames)
	}
	if len(unloadedNames) != 1 || unloadedNames[0] != "callback_plugin" {
		t.Errorf("expected unload callback for 'callback_plugin', got %v", unloadedNames)
	}
}

func TestExtensionRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewExtensionRegistry(zap.NewNop())
	toolRegistry := domaintool.NewInMemoryRegistry()

	myTool := domaintool.NewFuncTool(
		domaintool.Meta{Name: "my_tool", Description: "a test tool"},
		nil,
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			return "ok", nil
		},
	)

	if err := registry.RegisterToolFromPlugin("my_plugin", myTool, toolRegistry); err != nil {
		t.Fatalf("RegisterToolFromPlugin failed: %v", err)
	}

	tools := registry.GetPluginTools("my_plugin")
	if len(tools) != 1 || tools[0] != "my_tool" {
		t.Errorf("expected [my_tool], got %v", tools)
	}
	if !toolRegistry.Has("my_tool") {
		t.Error("tool should be registered in the tool registry")
	}

	registry.UnregisterPluginTools("my_plugin", toolRegistry)
	if len(registry.GetPluginTools("my_plugin")) != 0 {
		t.Errorf("expected empty tools after unregister, got %v", registry.GetPluginTools("my_plugin"))
	}
	if toolRegistry.Has("my_tool") {
		t.Error("tool should be unregistered from the tool registry")
	}
}
