package ollama

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// coerceArguments converts argument values to the types declared in the tool
// schema. Small local models often quote numbers and booleans. Values that do
// not convert are left untouched for the tool decoder to reject.
func coerceArguments(args map[string]interface{}, schema llm.ToolSchema) map[string]interface{} {
	result := make(map[string]interface{}, len(args))
	for k, v := range args {
		propSchema, exists := schema.Properties[k]
		if !exists {
			result[k] = v
			continue
		}
		if converted, ok := convertValueToType(v, getPropertyType(propSchema)); ok {
			result[k] = converted
		} else {
			result[k] = v
		}
	}
	return result
}

// getPropertyType extracts the type from a property schema definition
func getPropertyType(propSchema interface{}) string {
	if propMap, ok := propSchema.(map[string]interface{}); ok {
		if propType, ok := propMap["type"].(string); ok {
			return propType
		}
	}
	return ""
}

// convertValueToType converts a value to the specified JSON schema type.
func convertValueToType(v interface{}, targetType string) (interface{}, bool) {
	s, isString := v.(string)
	switch targetType {
	case "integer":
		if isString {
			i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			return i, err == nil
		}
	case "number":
		if isString {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			return f, err == nil
		}
	case "boolean":
		if isString {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "yes", "1":
				return true, true
			case "false", "no", "0":
				return false, true
			}
			return nil, false
		}
	}
	return v, true
}

// ToOllamaMessages converts llm.Messages to Ollama chat message format.
// A tool message with several results expands into one "tool" message per result.
func ToOllamaMessages(msgs []llm.Message) ([]api.Message, error) {
	result := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == llm.RoleTool {
			for _, block := range msg.Content {
				if block.ToolResult != nil {
					result = append(result, api.Message{Role: "tool", Content: block.ToolResult.Content})
				}
			}
			continue
		}
		ollamaMsg, err := ToOllamaMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, ollamaMsg)
	}
	return result, nil
}

// ToOllamaMessage converts a single llm.Message to Ollama format.
func ToOllamaMessage(msg llm.Message) (api.Message, error) {
	var content strings.Builder
	var toolCalls []api.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if content.Len() > 0 {
				content.WriteString("\n")
			}
			content.WriteString(block.Text)
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse != nil {
				args := make(api.ToolCallFunctionArguments)
				if len(block.ToolUse.Input) > 0 {
					if err := json.Unmarshal(block.ToolUse.Input, &args); err != nil {
						return api.Message{}, fmt.Errorf("tool %s arguments: %w", block.ToolUse.Name, err)
					}
				}
				toolCalls = append(toolCalls, api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      block.ToolUse.Name,
						Arguments: args,
					},
				})
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

	return api.Message{
		Role:      string(msg.Role),
		Content:   content.String(),
		ToolCalls: toolCalls,
	}, nil
}

// ToOllamaTools converts llm.ToolSpecs to Ollama function format.
func ToOllamaTools(specs []llm.ToolSpec) ([]api.Tool, error) {
	result := make([]api.Tool, 0, len(specs))
	for i := range specs {
		tool, err := ToOllamaTool(&specs[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool %s: %w", specs[i].Name, err)
		}
		result = append(result, tool)
	}
	return result, nil
}

// ToOllamaTool converts a single llm.ToolSpec to Ollama Tool format.
// The schema goes through JSON so nested properties, enums and
// descriptions survive the conversion.
func ToOllamaTool(spec *llm.ToolSpec) (api.Tool, error) {
	schemaType := lo.Ternary(spec.Schema.Type != "", spec.Schema.Type, "object")
	raw, err := json.Marshal(lo.Assign(map[string]interface{}{
		"type":       schemaType,
		"properties": lo.Assign(map[string]interface{}{}, spec.Schema.Properties),
		"required":   spec.Schema.Required,
	}, spec.Schema.ExtraFields))
	if err != nil {
		return api.Tool{}, fmt.Errorf("marshal schema: %w", err)
	}

	var parameters api.ToolFunctionParameters
	if err := json.Unmarshal(raw, &parameters); err != nil {
		return api.Tool{}, fmt.Errorf("convert schema: %w", err)
	}

	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  parameters,
		},
	}, nil
}

// FromOllamaToolCall converts an Ollama tool call response to llm.ToolUseBlock.
// Ollama does not assign call ids, so one is minted.
func FromOllamaToolCall(toolCall api.ToolCall, specs map[string]llm.ToolSpec) (*llm.ToolUseBlock, error) {
	args := map[string]interface{}(toolCall.Function.Arguments)
	if args == nil {
		args = map[string]interface{}{}
	}
	if spec, ok := specs[toolCall.Function.Name]; ok {
		args = coerceArguments(args, spec.Schema)
	}

	input, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments for %s: %w", toolCall.Function.Name, err)
	}

	return &llm.ToolUseBlock{
		ID:    "call_" + uuid.NewString(),
		Name:  toolCall.Function.Name,
		Input: input,
	}, nil
}

func toolSpecsByName(specs []llm.ToolSpec) map[string]llm.ToolSpec {
	return lo.SliceToMap(specs, func(spec llm.ToolSpec) (string, llm.ToolSpec) {
		return spec.Name, spec
	})
}
