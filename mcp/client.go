// Package mcp exposes the tools of a Model Context Protocol server as
// tool.Tool values.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const clientName = "promptcall"

// ToolDefinition is a tool advertised by an MCP server.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CallError is returned when the server reports a failed tool call.
type CallError struct {
	Tool    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("mcp tool %s failed: %s", e.Tool, e.Message)
}

// ServerConfig describes how to reach an MCP server. Command selects the
// stdio transport, URL the streamable HTTP transport.
type ServerConfig struct {
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     []string          `yaml:"env,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Client is a started connection to one MCP server.
type Client struct {
	client *client.Client
	label  string
	// stdio clients start their transport on construction
	started bool
	logger  zerolog.Logger
}

// Connect creates a client for cfg and starts it.
func Connect(ctx context.Context, logger zerolog.Logger, cfg ServerConfig) (*Client, error) {
	var (
		c   *Client
		err error
	)
	switch {
	case cfg.Command != "":
		c, err = NewStdioClient(logger, cfg.Command, cfg.Args, cfg.Env)
	case cfg.URL != "":
		c, err = NewHTTPClient(logger, cfg.URL, cfg.Headers)
	default:
		return nil, errors.New("mcp server needs a command or a url")
	}
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewStdioClient launches command and talks to it over stdin/stdout.
// A command containing spaces is split into the executable and leading
// arguments.
func NewStdioClient(logger zerolog.Logger, command string, args, env []string) (*Client, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, errors.New("command is required for stdio MCP client")
	}
	cmdArgs := append(parts[1:len(parts):len(parts)], args...)

	logger = logger.With().Str("component", "mcp").Str("command", parts[0]).Logger()
	logger.Debug().Strs("args", cmdArgs).Msg("Launching stdio MCP server")

	mc, err := client.NewStdioMCPClient(parts[0], env, cmdArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio MCP client: %w", err)
	}
	return &Client{client: mc, label: parts[0], started: true, logger: logger}, nil
}

// NewHTTPClient connects to a streamable HTTP MCP endpoint. Headers are
// sent with every request.
func NewHTTPClient(logger zerolog.Logger, baseURL string, headers map[string]string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL is required for HTTP MCP client")
	}
	logger = logger.With().Str("component", "mcp").Str("base_url", baseURL).Logger()

	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}
	mc, err := client.NewStreamableHttpClient(baseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP MCP client: %w", err)
	}
	return &Client{client: mc, label: baseURL, logger: logger}, nil
}

// NewInProcessClient connects directly to srv without a transport.
func NewInProcessClient(logger zerolog.Logger, srv *server.MCPServer) (*Client, error) {
	mc, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process MCP client: %w", err)
	}
	return &Client{
		client: mc,
		label:  "in-process",
		logger: logger.With().Str("component", "mcp").Logger(),
	}, nil
}

// Start starts the transport if needed and performs the MCP handshake.
func (c *Client) Start(ctx context.Context) error {
	if !c.started {
		if err := c.client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MCP client %s: %w", c.label, err)
		}
		c.started = true
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1.0.0"}

	res, err := c.client.Initialize(ctx, initReq)
	if err != nil {
		return fmt.Errorf("failed to initialize MCP client %s: %w", c.label, err)
	}
	c.logger.Debug().
		Str("server", res.ServerInfo.Name).
		Str("protocol_version", res.ProtocolVersion).
		Msg("MCP client initialized")
	return nil
}

// ListTools returns every tool the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	c.logger.Debug().Int("tool_count", len(result.Tools)).Msg("Received tools from MCP server")

	defs := make([]ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		doc, err := inputSchema(t)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		defs = append(defs, ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: doc})
	}
	return defs, nil
}

// inputSchema prefers the server's raw schema and falls back to the
// structured one.
func inputSchema(t mcp.Tool) (map[string]any, error) {
	raw := t.RawInputSchema
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(t.InputSchema); err != nil {
			return nil, fmt.Errorf("encode input schema: %w", err)
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if _, ok := doc["type"]; !ok {
		doc["type"] = "object"
	}
	return doc, nil
}

// CallTool invokes name with args. Text content is returned as a string
// (joined by newlines when there are several parts); otherwise the
// structured content is returned. A result flagged as an error becomes a
// *CallError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	c.logger.Debug().Str("tool_name", name).Msg("Invoking tool on MCP server")

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke tool %s: %w", name, err)
	}

	texts := lo.FilterMap(result.Content, func(content mcp.Content, _ int) (string, bool) {
		if tc, ok := mcp.AsTextContent(content); ok {
			return tc.Text, true
		}
		text := mcp.GetTextFromContent(content)
		return text, text != ""
	})
	text := strings.Join(texts, "\n")

	if result.IsError {
		return nil, &CallError{Tool: name, Message: text}
	}
	if len(texts) == 0 && result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	return text, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
