package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServerType names the transport a remote MCP server is reached over —
// the DB-backed remote tool endpoints of spec §4.3(b).
type MCPServerType string

const (
	MCPStdio MCPServerType = "stdio"
	MCPSSE   MCPServerType = "sse"
)

// MCPServer is a resolved remote tool endpoint record, the shape the tool
// registry's `get(tool_name) -> {type, url, headers}` contract (spec §6)
// is expected to produce.
type MCPServer struct {
	Type    MCPServerType
	Command string
	Args    []string
	Env     map[string]string
	URL     string
	Headers map[string]string
}

// mcpClient is the subset of the mcp-go client surface the adapter needs,
// narrowed so it can be faked in tests without a live MCP server.
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

func newMCPClient(server MCPServer) (mcpClient, error) {
	switch server.Type {
	case MCPStdio:
		env := make([]string, 0, len(server.Env))
		for k, v := range server.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(server.Command, env, server.Args...)
	case MCPSSE:
		return client.NewSSEMCPClient(server.URL, client.WithHeaders(server.Headers))
	default:
		return nil, fmt.Errorf("tools: unknown mcp server type %q", server.Type)
	}
}

// mcpTool adapts a single tool exposed by a remote MCP server into the
// Tool interface, qualifying its name as "{server}_{tool}" so multiple
// MCP servers can't collide in the registry.
type mcpTool struct {
	serverName string
	server     MCPServer
	descriptor mcp.Tool
}

func (t mcpTool) Info() Info {
	required := t.descriptor.InputSchema.Required
	if required == nil {
		required = []string{}
	}
	return Info{
		Name:        fmt.Sprintf("%s_%s", t.serverName, t.descriptor.Name),
		Description: t.descriptor.Description,
		Parameters:  t.descriptor.InputSchema.Properties,
		Required:    required,
		Async:       true,
	}
}

func (t mcpTool) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	c, err := newMCPClient(t.server)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}
	defer c.Close()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "convoengine", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = t.descriptor.Name
	callReq.Params.Arguments = args
	res, err := c.CallTool(ctx, callReq)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}

	var content string
	for _, item := range res.Content {
		if textItem, ok := item.(mcp.TextContent); ok {
			content = textItem.Text
			continue
		}
		content = fmt.Sprintf("%v", item)
	}
	return Result{Content: content, IsError: res.IsError}, nil
}

// DiscoverMCPTools connects to server, lists its tools, and returns each as
// a registry-ready Tool. Failures are logged by the caller and degrade to
// an empty slice — a single unreachable MCP server must not prevent the
// rest of the registry from being usable.
func DiscoverMCPTools(ctx context.Context, name string, server MCPServer) ([]Tool, error) {
	c, err := newMCPClient(server)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "convoengine", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("initialize mcp server %q: %w", name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools on mcp server %q: %w", name, err)
	}

	out := make([]Tool, 0, len(listed.Tools))
	for _, descriptor := range listed.Tools {
		out = append(out, mcpTool{serverName: name, server: server, descriptor: descriptor})
	}
	return out, nil
}
