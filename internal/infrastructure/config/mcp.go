package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// MCPFileConfig is the standalone ~/.agentforge/agencies/<id>/mcp.json file
// listing externally registered remote tool servers, persisted by the
// Agency actor's MCP management endpoints (spec §4.9, §6 "/agency/:id/mcp").
type MCPFileConfig struct {
	Servers []MCPServerEntry `json:"servers"`
}

type MCPServerEntry struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// LoadMCPFile loads (or lazily creates) the per-agency MCP server file.
func LoadMCPFile(homeDir, agencyID string) (*MCPFileConfig, string, error) {
	dir := filepath.Join(homeDir, ".agentforge", "agencies", agencyID)
	path := filepath.Join(dir, "mcp.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &MCPFileConfig{Servers: []MCPServerEntry{}}
			if mkErr := os.MkdirAll(dir, 0755); mkErr == nil {
				_ = SaveMCPFile(path, cfg)
			}
			return cfg, path, nil
		}
		return nil, path, err
	}

	var cfg MCPFileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func SaveMCPFile(path string, cfg *MCPFileConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
