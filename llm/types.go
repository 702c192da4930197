package llm

import (
	"encoding/json"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message represents a single message in a conversation.
// This is provider-neutral and can represent user, assistant, system or tool messages.
// Messages are treated as values; builders return fresh copies.
type Message struct {
	Role    MessageRole
	Content []ContentBlock
}

// ContentBlock represents a single content block within a message.
// It can be text, a tool use, or a tool result.
type ContentBlock struct {
	Type       ContentBlockType
	Text       string           // For text blocks
	ToolUse    *ToolUseBlock    // For tool use blocks
	ToolResult *ToolResultBlock // For tool result blocks
}

// ContentBlockType represents the type of content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ToolUseBlock represents a tool invocation request from the assistant.
// Input holds the arguments exactly as the provider serialized them.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock represents the result of a tool invocation.
type ToolResultBlock struct {
	ID      string
	Name    string
	Content string // JSON-serialized result
	IsError bool
}

// ToolSpec represents a tool definition that can be provided to an LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]interface{}
	Required    []string
	ExtraFields map[string]interface{} // For any additional schema fields
}

// ToolChoice controls whether and which tool the model must call.
// The zero value leaves the decision to the provider.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // For ToolChoiceTool
}

// ToolChoiceMode enumerates tool choice strategies.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceTool     ToolChoiceMode = "tool"
)

// CallParams are the sampling parameters of a call. Nil fields are left
// to the provider default.
type CallParams struct {
	MaxTokens   *int64   `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	Seed        *int64   `yaml:"seed,omitempty" json:"seed,omitempty"`
	Stop        []string `yaml:"stop,omitempty" json:"stop,omitempty"`
}

// Request represents a complete LLM API request.
type Request struct {
	Model      string
	Messages   []Message
	System     string
	Tools      []ToolSpec
	ToolChoice ToolChoice
	Params     CallParams
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// MaxTokensOr returns the configured max tokens or def when unset.
func (r *Request) MaxTokensOr(def int64) int64 {
	if r.Params.MaxTokens != nil && *r.Params.MaxTokens > 0 {
		return *r.Params.MaxTokens
	}
	return def
}

// Response represents a complete LLM API response.
type Response struct {
	ID         string
	Model      string
	Content    []ContentBlock
	Usage      *Usage
	StopReason string
	// Raw is the provider SDK response the fields above were derived from.
	Raw any
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	return TextOf(r.Content)
}

// ToolUses returns the tool use blocks of the response in order.
func (r *Response) ToolUses() []ToolUseBlock {
	return ToolUsesOf(r.Content)
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	// Provider-specific usage fields can be added here
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// StreamDelta represents a single delta in a streaming response.
type StreamDelta struct {
	Type StreamDeltaType
	Text string // For text deltas

	// Tool call fragments. Providers identify a tool call either by ID or by
	// its position in the message; ToolCallIndex is nil when unknown.
	ToolCallID    string
	ToolCallIndex *int
	ToolName      string
	ToolInput     string // Raw JSON fragment, concatenated in arrival order
}

// StreamDeltaType represents the type of streaming delta.
type StreamDeltaType string

const (
	StreamDeltaTypeText      StreamDeltaType = "text"
	StreamDeltaTypeToolUse   StreamDeltaType = "tool_use"
	StreamDeltaTypeToolInput StreamDeltaType = "tool_input"
)

// StreamEvent represents a complete streaming event.
type StreamEvent struct {
	Type       StreamEventType
	Delta      *StreamDelta
	Usage      *Usage
	Model      string
	StopReason string
	Done       bool
	// Raw is the provider chunk this event was derived from, when available.
	Raw any
}

// StreamEventType represents the type of streaming event.
type StreamEventType string

const (
	StreamEventTypeStart        StreamEventType = "start"
	StreamEventTypeContentBlock StreamEventType = "content_block"
	StreamEventTypeContentDelta StreamEventType = "content_delta"
	StreamEventTypeMessageDelta StreamEventType = "message_delta"
	StreamEventTypeStop         StreamEventType = "stop"
)

// NewTextMessage creates a new message with a single text block.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{
				Type: ContentBlockTypeText,
				Text: text,
			},
		},
	}
}

// NewToolUseMessage creates a new assistant message with tool use blocks.
func NewToolUseMessage(toolUses []ToolUseBlock) Message {
	content := make([]ContentBlock, len(toolUses))
	for i := range toolUses {
		tu := toolUses[i]
		content[i] = ContentBlock{
			Type:    ContentBlockTypeToolUse,
			ToolUse: &tu,
		}
	}
	return Message{
		Role:    RoleAssistant,
		Content: content,
	}
}

// NewToolResultMessage creates a new tool message with tool result blocks.
func NewToolResultMessage(toolResults []ToolResultBlock) Message {
	content := make([]ContentBlock, len(toolResults))
	for i := range toolResults {
		tr := toolResults[i]
		content[i] = ContentBlock{
			Type:       ContentBlockTypeToolResult,
			ToolResult: &tr,
		}
	}
	return Message{
		Role:    RoleTool,
		Content: content,
	}
}

// Text concatenates all text blocks of the message.
func (m Message) Text() string {
	return TextOf(m.Content)
}

// ToJSON marshals a message to JSON for debugging/logging purposes.
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TextOf concatenates the text blocks in content.
func TextOf(content []ContentBlock) string {
	var text string
	for _, block := range content {
		if block.Type == ContentBlockTypeText {
			text += block.Text
		}
	}
	return text
}

// ToolUsesOf returns the tool use blocks in content.
func ToolUsesOf(content []ContentBlock) []ToolUseBlock {
	var uses []ToolUseBlock
	for _, block := range content {
		if block.Type == ContentBlockTypeToolUse && block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}
