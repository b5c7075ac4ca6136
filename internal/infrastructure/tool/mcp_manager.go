package tool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
	"github.com/agentforge/runtime/internal/infrastructure/config"
)

// MCPManager owns the per-agency catalog of remote tool servers (spec §4.9,
// §6 "/agency/:id/mcp"). It is the Agency actor's MCP state: servers are
// added/removed/refreshed here and persisted to the per-agency mcp.json,
// not into the agent-level tool registry, since the same catalog is shared
// across every agent under one agency.
type MCPManager struct {
	agencyID   string
	homeDir    string
	configPath string

	mu       sync.RWMutex
	adapters map[string]*MCPAdapter
	tools    map[string]map[string]*remoteTool // serverID -> toolName -> tool

	logger *zap.Logger
}

func NewMCPManager(homeDir, agencyID string, logger *zap.Logger) *MCPManager {
	return &MCPManager{
		agencyID: agencyID,
		homeDir:  homeDir,
		adapters: make(map[string]*MCPAdapter),
		tools:    make(map[string]map[string]*remoteTool),
		logger:   logger,
	}
}

// LoadFromDisk discovers tools for every enabled server in the per-agency
// mcp.json.
func (m *MCPManager) LoadFromDisk(ctx context.Context) {
	cfg, path, err := config.LoadMCPFile(m.homeDir, m.agencyID)
	if err != nil {
		m.logger.Warn("mcp config load failed", zap.String("agency", m.agencyID), zap.Error(err))
		return
	}
	m.configPath = path
	for _, srv := range cfg.Servers {
		if err := m.AddServer(ctx, srv.ID, srv.Name, srv.URL, srv.Headers, false); err != nil {
			m.logger.Warn("mcp server discovery failed", zap.String("server", srv.ID), zap.Error(err))
		}
	}
}

// AddServer discovers a server's tools and, unless persist is false (used
// by LoadFromDisk to avoid rewriting the file it just read), appends it to
// the per-agency mcp.json.
func (m *MCPManager) AddServer(ctx context.Context, id, name, url string, headers map[string]string, persist bool) error {
	adapter := NewMCPAdapter(id, url, headers)
	discoverCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	defs, err := adapter.ListTools(discoverCtx)
	if err != nil {
		return err
	}

	byName := make(map[string]*remoteTool, len(defs))
	for _, def := range defs {
		byName[def.Name] = &remoteTool{adapter: adapter, def: def}
	}

	m.mu.Lock()
	m.adapters[id] = adapter
	m.tools[id] = byName
	m.mu.Unlock()

	m.logger.Info("mcp server registered", zap.String("agency", m.agencyID), zap.String("server", id), zap.Int("tools", len(defs)))

	if persist {
		cfg, path, err := config.LoadMCPFile(m.homeDir, m.agencyID)
		if err != nil {
			return err
		}
		cfg.Servers = append(cfg.Servers, config.MCPServerEntry{ID: id, Name: name, URL: url, Headers: headers})
		return config.SaveMCPFile(path, cfg)
	}
	return nil
}

func (m *MCPManager) RemoveServer(id string) error {
	m.mu.Lock()
	delete(m.adapters, id)
	delete(m.tools, id)
	m.mu.Unlock()

	cfg, path, err := config.LoadMCPFile(m.homeDir, m.agencyID)
	if err != nil {
		return err
	}
	filtered := cfg.Servers[:0]
	for _, s := range cfg.Servers {
		if s.ID != id {
			filtered = append(filtered, s)
		}
	}
	cfg.Servers = filtered
	return config.SaveMCPFile(path, cfg)
}

// ServerTools returns every tool advertised by one server.
func (m *MCPManager) ServerTools(serverID string) []domaintool.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.tools[serverID]
	if !ok {
		return nil
	}
	out := make([]domaintool.Tool, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	return out
}

// AllTools returns every tool from every registered server; implements
// the `mcp:*` capability pattern and the boundary-case guarantee that it
// yields every remote tool with no duplicates.
func (m *MCPManager) AllTools() []domaintool.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domaintool.Tool
	for _, byName := range m.tools {
		for _, t := range byName {
			out = append(out, t)
		}
	}
	return out
}

// Tool resolves one named tool on one server; implements
// `mcp:<server>:<tool>`.
func (m *MCPManager) Tool(serverID, name string) (domaintool.Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.tools[serverID]
	if !ok {
		return nil, false
	}
	t, ok := byName[name]
	return t, ok
}

// ListServers is the REST surface's view of this agency's MCP catalog
// (spec §6).
type ServerSummary struct {
	ID        string `json:"id"`
	ToolCount int    `json:"toolCount"`
}

func (m *MCPManager) ListServers() []ServerSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerSummary, 0, len(m.tools))
	for id, byName := range m.tools {
		out = append(out, ServerSummary{ID: id, ToolCount: len(byName)})
	}
	return out
}
