package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// mcpRemoteDef is one tool advertised by a remote MCP server's listTools
// response.
type mcpRemoteDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// MCPAdapter speaks the runtime's narrow view of MCP to a single remote
// server: listTools()/callTool(name, args) (spec §9 "treat as a pluggable
// remote tool catalog"). Grounded on the teacher's MCPAdapter
// (internal/infrastructure/tool/mcp_adapter.go)'s HTTP-transport shape.
type MCPAdapter struct {
	serverID string
	url      string
	headers  map[string]string
	client   *http.Client
}

func NewMCPAdapter(serverID, url string, headers map[string]string) *MCPAdapter {
	return &MCPAdapter{serverID: serverID, url: url, headers: headers, client: &http.Client{Timeout: 15 * time.Second}}
}

func (a *MCPAdapter) ListTools(ctx context.Context) ([]mcpRemoteDef, error) {
	var out struct {
		Tools []mcpRemoteDef `json:"tools"`
	}
	if err := a.rpc(ctx, "tools/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

func (a *MCPAdapter) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	var out struct {
		Result any    `json:"result"`
		Error  string `json:"error"`
	}
	payload := map[string]any{"name": name, "arguments": args}
	if err := a.rpc(ctx, "tools/call", payload, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("mcp tool %s/%s: %s", a.serverID, name, out.Error)
	}
	return out.Result, nil
}

func (a *MCPAdapter) rpc(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("mcp server %s returned %d", a.serverID, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// remoteTool wraps one mcpRemoteDef as a domaintool.Tool named
// "mcp:<server>:<tool>" so it composes with the capability resolver and
// the provider adaptor's tool_defs the same as any local tool.
type remoteTool struct {
	adapter *MCPAdapter
	def     mcpRemoteDef
}

func (r *remoteTool) Meta() domaintool.Meta {
	return domaintool.Meta{
		Name:        fmt.Sprintf("mcp:%s:%s", r.adapter.serverID, r.def.Name),
		Description: r.def.Description,
		Parameters:  r.def.InputSchema,
	}
}

func (r *remoteTool) Tags() []string {
	return []string{"mcp", "mcp:" + r.adapter.serverID}
}

func (r *remoteTool) Execute(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
	return r.adapter.CallTool(ctx, r.def.Name, args)
}
