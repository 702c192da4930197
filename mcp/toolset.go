package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/tool"
)

// ToSafeName maps an MCP tool name to one every provider accepts.
// Example: "gmail.messages.list" -> "gmail_messages_list"
func ToSafeName(original string) string {
	return strings.ReplaceAll(original, ".", "_")
}

// Tools lists the server's tools and wraps each one as a tool.Tool whose
// invocation is proxied back to the server. Names are made safe with
// ToSafeName and, when prefix is non-empty, prefixed with "<prefix>_".
func Tools(ctx context.Context, c *Client, prefix string) ([]*tool.Tool, error) {
	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]*tool.Tool, 0, len(defs))
	for _, def := range defs {
		name := ToSafeName(def.Name)
		if prefix != "" {
			name = prefix + "_" + name
		}
		tools = append(tools, tool.FromSchema(name, def.Description, def.InputSchema, proxy(c, def.Name)))
	}
	return tools, nil
}

func proxy(c *Client, original string) tool.RawHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		args, err := tool.DecodeArgs(raw)
		if err != nil {
			return nil, fmt.Errorf("decode arguments for %s: %w", original, err)
		}
		return c.CallTool(ctx, original, args)
	}
}
