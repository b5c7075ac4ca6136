package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// RegisterBuiltins wires the runtime's always-available tools into a
// registry. Grounded on the teacher's RegisterAllTools assembly function
// (internal/infrastructure/tool/registry.go), trimmed to the file and
// network primitives a conversational runtime needs once the sandboxed
// coding tools (bash, lsp, git, browser) are dropped as out of scope.
func RegisterBuiltins(registry domaintool.Registry, root string) {
	registry.Register(readFileTool(root))
	registry.Register(writeFileTool(root))
	registry.Register(listDirTool(root))
	registry.Register(httpFetchTool())
}

func readFileTool(root string) domaintool.Tool {
	return domaintool.NewFuncTool(
		domaintool.Meta{
			Name:        "read_file",
			Description: "Read a UTF-8 text file relative to the agent's working root.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		[]string{"fs", "@default"},
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			p, _ := args["path"].(string)
			if p == "" {
				return nil, fmt.Errorf("path is required")
			}
			data, err := os.ReadFile(resolveUnder(root, p))
			if err != nil {
				return nil, err
			}
			return string(data), nil
		},
	)
}

func writeFileTool(root string) domaintool.Tool {
	return domaintool.NewFuncTool(
		domaintool.Meta{
			Name:        "write_file",
			Description: "Write a UTF-8 text file relative to the agent's working root, creating parent directories as needed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
		[]string{"fs"},
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			p, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if p == "" {
				return nil, fmt.Errorf("path is required")
			}
			full := resolveUnder(root, p)
			if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(full, []byte(content), 0644); err != nil {
				return nil, err
			}
			return map[string]any{"bytesWritten": len(content)}, nil
		},
	)
}

func listDirTool(root string) domaintool.Tool {
	return domaintool.NewFuncTool(
		domaintool.Meta{
			Name:        "list_dir",
			Description: "List entries of a directory relative to the agent's working root.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		},
		[]string{"fs", "@default"},
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			p, _ := args["path"].(string)
			entries, err := os.ReadDir(resolveUnder(root, p))
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			return map[string]any{"entries": names}, nil
		},
	)
}

func httpFetchTool() domaintool.Tool {
	client := &http.Client{Timeout: 15 * time.Second}
	return domaintool.NewFuncTool(
		domaintool.Meta{
			Name:        "http_fetch",
			Description: "Fetch a URL over HTTP(S) and return its body as text.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"url": map[string]any{"type": "string"}},
				"required":   []string{"url"},
			},
		},
		[]string{"net", "@default"},
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return nil, fmt.Errorf("url is required")
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": resp.StatusCode, "body": string(body)}, nil
		},
	)
}

// resolveUnder joins a relative path onto root, refusing to escape it.
func resolveUnder(root, rel string) string {
	if root == "" {
		root = "."
	}
	joined := filepath.Join(root, filepath.Clean("/"+rel))
	return joined
}
