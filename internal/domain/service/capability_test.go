package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

func newNamedTool(name string, tags ...string) domaintool.Tool {
	return domaintool.NewFuncTool(
		domaintool.Meta{Name: name},
		tags,
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			return nil, nil
		},
	)
}

// fakeRemoteCatalog is a minimal domaintool.RemoteCatalog backed by a flat
// list, standing in for the MCP manager.
type fakeRemoteCatalog struct {
	byServer map[string][]domaintool.Tool
}

func (f *fakeRemoteCatalog) AllTools() []domaintool.Tool {
	var out []domaintool.Tool
	for _, ts := range f.byServer {
		out = append(out, ts...)
	}
	return out
}

func (f *fakeRemoteCatalog) ServerTools(serverID string) []domaintool.Tool {
	return f.byServer[serverID]
}

func (f *fakeRemoteCatalog) Tool(serverID, name string) (domaintool.Tool, bool) {
	for _, t := range f.byServer[serverID] {
		if t.Meta().Name == name {
			return t, true
		}
	}
	return nil, false
}

func TestResolveCapabilities_ByExactName(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	require.NoError(t, reg.Register(newNamedTool("fs_read")))
	require.NoError(t, reg.Register(newNamedTool("fs_write")))

	out := ResolveCapabilities([]string{"fs_read"}, reg, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "fs_read", out[0].Meta().Name)
}

func TestResolveCapabilities_ByTag(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	require.NoError(t, reg.Register(newNamedTool("fs_read", "fs")))
	require.NoError(t, reg.Register(newNamedTool("fs_write", "fs")))
	require.NoError(t, reg.Register(newNamedTool("http_get", "net")))

	out := ResolveCapabilities([]string{"@fs"}, reg, nil)
	require.Len(t, out, 2)
}

func TestResolveCapabilities_DedupesAcrossPatterns(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	require.NoError(t, reg.Register(newNamedTool("fs_read", "fs")))

	out := ResolveCapabilities([]string{"fs_read", "@fs"}, reg, nil)
	assert.Len(t, out, 1)
}

func TestResolveCapabilities_PreservesFirstAppearanceOrder(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	require.NoError(t, reg.Register(newNamedTool("a")))
	require.NoError(t, reg.Register(newNamedTool("b")))
	require.NoError(t, reg.Register(newNamedTool("c")))

	out := ResolveCapabilities([]string{"c", "a", "b"}, reg, nil)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{out[0].Meta().Name, out[1].Meta().Name, out[2].Meta().Name})
}

func TestResolveCapabilities_MCPAllServersWildcard(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	catalog := &fakeRemoteCatalog{byServer: map[string][]domaintool.Tool{
		"srv1": {newNamedTool("srv1.search")},
		"srv2": {newNamedTool("srv2.fetch")},
	}}

	out := ResolveCapabilities([]string{"mcp:*"}, reg, catalog)
	assert.Len(t, out, 2)
}

func TestResolveCapabilities_MCPSingleServer(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	catalog := &fakeRemoteCatalog{byServer: map[string][]domaintool.Tool{
		"srv1": {newNamedTool("srv1.search"), newNamedTool("srv1.browse")},
		"srv2": {newNamedTool("srv2.fetch")},
	}}

	out := ResolveCapabilities([]string{"mcp:srv1"}, reg, catalog)
	assert.Len(t, out, 2)
}

func TestResolveCapabilities_MCPSingleTool(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	catalog := &fakeRemoteCatalog{byServer: map[string][]domaintool.Tool{
		"srv1": {newNamedTool("search"), newNamedTool("browse")},
	}}

	out := ResolveCapabilities([]string{"mcp:srv1:search"}, reg, catalog)
	require.Len(t, out, 1)
	assert.Equal(t, "search", out[0].Meta().Name)
}

func TestResolveCapabilities_MCPPatternIgnoredWhenCatalogNil(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	out := ResolveCapabilities([]string{"mcp:*"}, reg, nil)
	assert.Empty(t, out)
}

func TestResolveCapabilities_UnknownNamePatternSkipped(t *testing.T) {
	reg := domaintool.NewInMemoryRegistry()
	out := ResolveCapabilities([]string{"does_not_exist"}, reg, nil)
	assert.Empty(t, out)
}

func TestInterpolateArgs_WholeValueReplacedPreservingType(t *testing.T) {
	args := map[string]any{"limit": "$MAX_RESULTS"}
	vars := map[string]any{"MAX_RESULTS": 10}

	out := InterpolateArgs(args, vars)
	assert.Equal(t, 10, out["limit"])
}

func TestInterpolateArgs_EmbeddedTokenStringified(t *testing.T) {
	args := map[string]any{"path": "/home/$USER/data"}
	vars := map[string]any{"USER": "alice"}

	out := InterpolateArgs(args, vars)
	assert.Equal(t, "/home/alice/data", out["path"])
}

func TestInterpolateArgs_UnknownVarPassesThrough(t *testing.T) {
	args := map[string]any{"path": "/home/$MISSING/data"}
	out := InterpolateArgs(args, map[string]any{})
	assert.Equal(t, "/home/$MISSING/data", out["path"])
}

func TestInterpolateArgs_NonStringArgsUntouched(t *testing.T) {
	args := map[string]any{"count": 5, "flag": true}
	out := InterpolateArgs(args, map[string]any{"count": 99})
	assert.Equal(t, 5, out["count"])
	assert.Equal(t, true, out["flag"])
}
