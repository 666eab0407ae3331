package toolclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
)

// ToolInfo describes one tool exposed by the endpoint.
type ToolInfo struct {
	Name        string
	Description string
	// InputProperties lists the argument names the tool's schema declares.
	InputProperties []string
}

// CallResult is the normalized outcome of one tool invocation.
type CallResult struct {
	Text    string
	IsError bool
}

// Session is one live protocol session with the tool-invocation endpoint.
type Session interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error)
	Close() error
}

// Dialer establishes a Session for the given configuration.
type Dialer func(ctx context.Context, cfg *config.Config) (Session, error)

// mcpSession wraps a mark3labs client behind the Session interface.
type mcpSession struct {
	c *client.Client
}

// Dial opens a session matching the configured transport: a stdio process
// pipe for TransportStdio, a streamable-HTTP session otherwise.
func Dial(ctx context.Context, cfg *config.Config) (Session, error) {
	var (
		c   *client.Client
		err error
	)

	switch cfg.Transport {
	case config.TransportStdio:
		if cfg.ServerPath == "" {
			return nil, fmt.Errorf("stdio transport requires server_path")
		}
		c, err = client.NewStdioMCPClient(cfg.ServerPath, nil)
		if err != nil {
			return nil, err
		}
	default:
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("http transport requires server_url")
		}
		c, err = client.NewStreamableHttpClient(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
	}

	var initReq mcp.InitializeRequest
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "xhs-recipe", Version: "1"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, err
	}

	return &mcpSession{c: c}, nil
}

func (s *mcpSession) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := s.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		info := ToolInfo{Name: t.Name, Description: t.Description}
		for name := range t.InputSchema.Properties {
			info.InputProperties = append(info.InputProperties, name)
		}
		tools = append(tools, info)
	}
	return tools, nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := s.c.CallTool(ctx, req)
	if err != nil {
		return CallResult{}, err
	}

	var texts []string
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return CallResult{
		Text:    strings.Join(texts, "\n"),
		IsError: result.IsError,
	}, nil
}

func (s *mcpSession) Close() error {
	return s.c.Close()
}
