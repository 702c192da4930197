package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/llm"
	openai "github.com/sashabaranov/go-openai"
	"github.com/samber/lo"
)

// ToOpenAIMessages converts llm.Messages to OpenAI chat message format.
// A tool message with several results expands into one "tool" message per result.
func ToOpenAIMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == llm.RoleTool {
			result = append(result, toOpenAIToolMessages(msg)...)
			continue
		}
		openaiMsg, err := ToOpenAIMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, openaiMsg)
	}
	return result, nil
}

// toOpenAIToolMessages converts the results of a tool message to "tool" role messages.
func toOpenAIToolMessages(msg llm.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	for _, block := range msg.Content {
		switch {
		case block.Type == llm.ContentBlockTypeToolResult && block.ToolResult != nil:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    block.ToolResult.Content,
				Name:       block.ToolResult.Name,
				ToolCallID: block.ToolResult.ID,
			})
		case block.Type == llm.ContentBlockTypeText && block.Text != "":
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: block.Text,
			})
		}
	}
	return out
}

// ToOpenAIMessage converts a single llm.Message to OpenAI format.
func ToOpenAIMessage(msg llm.Message) (openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case llm.RoleUser:
		role = openai.ChatMessageRoleUser
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	case llm.RoleTool:
		role = openai.ChatMessageRoleTool
	default:
		return openai.ChatCompletionMessage{}, fmt.Errorf("unsupported role %q", msg.Role)
	}

	var content strings.Builder
	var toolCalls []openai.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if content.Len() > 0 {
				content.WriteString("\n")
			}
			content.WriteString(block.Text)
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse != nil {
				toolCalls = append(toolCalls, ToOpenAIToolCall(*block.ToolUse))
			}
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				if content.Len() > 0 {
					content.WriteString("\n")
				}
				content.WriteString(block.ToolResult.Content)
			}
		}
	}

	return openai.ChatCompletionMessage{
		Role:      role,
		Content:   content.String(),
		ToolCalls: toolCalls,
	}, nil
}

// ToOpenAIToolCall converts a tool use block to an OpenAI tool call, keeping
// the arguments byte-for-byte.
func ToOpenAIToolCall(use llm.ToolUseBlock) openai.ToolCall {
	args := string(use.Input)
	if args == "" {
		args = "{}"
	}
	return openai.ToolCall{
		ID:   use.ID,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      use.Name,
			Arguments: args,
		},
	}
}

// ToOpenAITools converts llm.ToolSpecs to OpenAI function format.
// OpenAI uses a JSON schema format for function definitions.
func ToOpenAITools(specs []llm.ToolSpec) ([]openai.Tool, error) {
	result := make([]openai.Tool, 0, len(specs))
	for i := range specs {
		tool, err := ToOpenAITool(&specs[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool %s: %w", specs[i].Name, err)
		}
		result = append(result, tool)
	}
	return result, nil
}

// ToOpenAITool converts a single llm.ToolSpec to OpenAI Tool format.
func ToOpenAITool(spec *llm.ToolSpec) (openai.Tool, error) {
	if spec.Name == "" {
		return openai.Tool{}, fmt.Errorf("tool name is required")
	}

	function := openai.FunctionDefinition{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  SchemaParameters(spec.Schema),
	}

	return openai.Tool{
		Type:     openai.ToolTypeFunction,
		Function: &function,
	}, nil
}

// SchemaParameters flattens a ToolSchema into a JSON schema object.
func SchemaParameters(schema llm.ToolSchema) map[string]interface{} {
	schemaType := schema.Type
	if schemaType == "" {
		schemaType = "object"
	}
	parameters := map[string]interface{}{
		"type":       schemaType,
		"properties": lo.Assign(map[string]interface{}{}, schema.Properties),
	}
	if len(schema.Required) > 0 {
		parameters["required"] = schema.Required
	}
	return lo.Assign(parameters, schema.ExtraFields)
}

// ToOpenAIToolChoice maps a neutral tool choice to the chat completion field.
func ToOpenAIToolChoice(choice llm.ToolChoice) any {
	switch choice.Mode {
	case llm.ToolChoiceRequired:
		return "required"
	case llm.ToolChoiceNone:
		return "none"
	case llm.ToolChoiceTool:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.Name},
		}
	default:
		return "auto"
	}
}

// FromOpenAIToolCall converts an OpenAI tool call response to llm.ToolUseBlock.
// Arguments are kept verbatim; decoding happens when the call is turned into a tool.
func FromOpenAIToolCall(toolCall openai.ToolCall) *llm.ToolUseBlock {
	args := toolCall.Function.Arguments
	if args == "" {
		args = "{}"
	}
	return &llm.ToolUseBlock{
		ID:    toolCall.ID,
		Name:  toolCall.Function.Name,
		Input: json.RawMessage(args),
	}
}
