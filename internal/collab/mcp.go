package collab

import (
	"context"

	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
)

// StaticMCP is a minimal MCP collaborator backed by an in-memory server ->
// tool registry, sufficient for embedding mlld without a live MCP
// transport (tests, single-binary deployments). A production host wires a
// real JSON-RPC/stdio or HTTP MCP client behind the same interface instead.
type StaticMCP struct {
	servers map[string]map[string]StaticTool
}

// StaticTool is one callable tool registered with a StaticMCP server.
type StaticTool struct {
	Spec ToolSpec
	Call func(ctx context.Context, args map[string]any) (any, error)
}

// NewStaticMCP builds an empty static MCP collaborator.
func NewStaticMCP() *StaticMCP {
	return &StaticMCP{servers: map[string]map[string]StaticTool{}}
}

// Register adds tool to server, creating the server's tool map lazily.
func (m *StaticMCP) Register(server string, tool StaticTool) {
	if m.servers[server] == nil {
		m.servers[server] = map[string]StaticTool{}
	}
	m.servers[server][tool.Spec.Name] = tool
}

func (m *StaticMCP) ListTools(_ context.Context, server string) ([]ToolSpec, error) {
	tools, ok := m.servers[server]
	if !ok {
		return nil, mlerr.New(mlerr.MCPError, "unknown mcp server %q", server)
	}
	out := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Spec)
	}
	return out, nil
}

func (m *StaticMCP) Call(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	tools, ok := m.servers[server]
	if !ok {
		return nil, mlerr.New(mlerr.MCPError, "unknown mcp server %q", server)
	}
	t, ok := tools[tool]
	if !ok {
		return nil, mlerr.New(mlerr.MCPError, "unknown tool %q on server %q", tool, server)
	}
	return t.Call(ctx, args)
}
