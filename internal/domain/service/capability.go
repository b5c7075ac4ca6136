package service

import (
	"fmt"
	"regexp"
	"strings"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// ResolveCapabilities expands a blueprint's capability pattern list into a
// concrete, deduplicated tool set (spec §4.5). Patterns:
//   - "@tag"            selects every tool bearing that tag.
//   - "name"             selects a single tool by exact name.
//   - "mcp:*"            selects every tool from every MCP server.
//   - "mcp:<server>"     selects every tool from one MCP server.
//   - "mcp:<server>:<t>" selects one tool from one MCP server.
//
// Order of first appearance is preserved, per spec. catalog may be nil if
// no MCP servers are configured for this agency.
func ResolveCapabilities(patterns []string, registry domaintool.Registry, catalog domaintool.RemoteCatalog) []domaintool.Tool {
	seen := make(map[string]bool)
	var out []domaintool.Tool

	add := func(t domaintool.Tool) {
		name := t.Meta().Name
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, t)
	}

	for _, pattern := range patterns {
		switch {
		case strings.HasPrefix(pattern, "@"):
			for _, t := range registry.ByTag(strings.TrimPrefix(pattern, "@")) {
				add(t)
			}

		case strings.HasPrefix(pattern, "mcp:"):
			if catalog == nil {
				continue
			}
			rest := strings.TrimPrefix(pattern, "mcp:")
			switch {
			case rest == "*":
				for _, t := range catalog.AllTools() {
					add(t)
				}
			case strings.Contains(rest, ":"):
				parts := strings.SplitN(rest, ":", 2)
				if t, ok := catalog.Tool(parts[0], parts[1]); ok {
					add(t)
				}
			default:
				for _, t := range catalog.ServerTools(rest) {
					add(t)
				}
			}

		default:
			if t, ok := registry.Get(pattern); ok {
				add(t)
			}
		}
	}
	return out
}

// varNamePattern implements the open question decision recorded in
// SPEC_FULL.md §13: interpolation only recognizes ASCII-safe names
// matching [A-Z][A-Z0-9_]*; anything else passes through unchanged.
var varNamePattern = regexp.MustCompile(`\$([A-Z][A-Z0-9_]*)`)

// InterpolateArgs substitutes $NAME tokens in string arguments with values
// from vars (spec §4.5), run by the step loop on every tool call's args
// immediately before execution. An argument that is
// exactly "$NAME" is replaced with the variable's value directly (type
// preserved); a $NAME token embedded in a larger string is stringified in
// place. Unknown variables pass through unchanged.
func InterpolateArgs(args map[string]any, vars map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = interpolateValue(v, vars)
	}
	return out
}

func interpolateValue(v any, vars map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if m := varNamePattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if val, ok := vars[m[1]]; ok {
			return val
		}
		return s
	}
	return varNamePattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[1:]
		val, ok := vars[name]
		if !ok {
			return tok
		}
		return fmt.Sprintf("%v", val)
	})
}
