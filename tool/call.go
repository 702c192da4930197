package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aschepis/backscratcher/promptcall/llm"
)

// Call is a decoded tool call ready to invoke.
type Call struct {
	ID   string
	Name string
	// Args is the decoded argument value: the tool's argument type for Func,
	// FromType and Model tools, map[string]any for FromSchema tools.
	Args any
	// Raw holds the arguments exactly as received.
	Raw json.RawMessage

	tool *Tool
}

// Tool returns the definition the call was decoded against.
func (c *Call) Tool() *Tool {
	return c.tool
}

// Invoke runs the tool. Errors returned by the tool are passed through
// unchanged.
func (c *Call) Invoke(ctx context.Context) (any, error) {
	if c.tool == nil || c.tool.invoke == nil {
		return nil, fmt.Errorf("tool %s: %w", c.Name, ErrNotInvocable)
	}
	return c.tool.invoke(ctx, c.Args, c.Raw)
}

// ToolUse returns the call as the assistant's tool-use block.
func (c *Call) ToolUse() llm.ToolUseBlock {
	return llm.ToolUseBlock{ID: c.ID, Name: c.Name, Input: c.Raw}
}

// Result builds the tool-result block answering this call. A non-nil err
// produces an error result carrying its message. Strings are sent as is;
// other outputs are JSON encoded.
func (c *Call) Result(output any, err error) llm.ToolResultBlock {
	return Result(c.ID, c.Name, output, err)
}

// Result builds a tool-result block for the call with the given id.
func Result(id, name string, output any, err error) llm.ToolResultBlock {
	block := llm.ToolResultBlock{ID: id, Name: name}
	if err != nil {
		block.Content = err.Error()
		block.IsError = true
		return block
	}

	switch v := output.(type) {
	case nil:
		block.Content = ""
	case string:
		block.Content = v
	case []byte:
		block.Content = string(v)
	default:
		raw, mErr := json.Marshal(v)
		if mErr != nil {
			block.Content = fmt.Sprintf("%v", v)
		} else {
			block.Content = string(raw)
		}
	}
	return block
}
