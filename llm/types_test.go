package llm

import (
	"encoding/json"
	"testing"
)

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Hello, world!")
	if msg.Role != RoleUser {
		t.Errorf("Expected role %v, got %v", RoleUser, msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Errorf("Expected 1 content block, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != ContentBlockTypeText {
		t.Errorf("Expected text block type, got %v", msg.Content[0].Type)
	}
	if msg.Text() != "Hello, world!" {
		t.Errorf("Expected text 'Hello, world!', got %q", msg.Text())
	}
}

func TestNewToolUseMessage(t *testing.T) {
	toolUses := []ToolUseBlock{
		{ID: "tool-1", Name: "test_tool", Input: json.RawMessage(`{"arg":"value"}`)},
		{ID: "tool-2", Name: "other_tool", Input: json.RawMessage(`{}`)},
	}
	msg := NewToolUseMessage(toolUses)
	if msg.Role != RoleAssistant {
		t.Errorf("Expected role %v, got %v", RoleAssistant, msg.Role)
	}
	uses := ToolUsesOf(msg.Content)
	if len(uses) != 2 {
		t.Fatalf("Expected 2 tool uses, got %d", len(uses))
	}
	if uses[0].ID != "tool-1" || uses[1].ID != "tool-2" {
		t.Errorf("Tool use order not preserved: %+v", uses)
	}

	// Builders must not alias the caller's slice.
	toolUses[0].ID = "mutated"
	if msg.Content[0].ToolUse.ID != "tool-1" {
		t.Error("Expected message to hold its own copy of the tool use")
	}
}

func TestNewToolResultMessage(t *testing.T) {
	toolResults := []ToolResultBlock{
		{ID: "tool-1", Content: `{"result": "success"}`, IsError: false},
	}
	msg := NewToolResultMessage(toolResults)
	if msg.Role != RoleTool {
		t.Errorf("Expected role %v, got %v", RoleTool, msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Errorf("Expected 1 content block, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != ContentBlockTypeToolResult {
		t.Errorf("Expected tool result block type, got %v", msg.Content[0].Type)
	}
	if msg.Content[0].ToolResult == nil {
		t.Fatal("Expected ToolResult to be set")
	}
	if msg.Content[0].ToolResult.ID != "tool-1" {
		t.Errorf("Expected tool ID 'tool-1', got %q", msg.Content[0].ToolResult.ID)
	}
}

func TestResponseAccessors(t *testing.T) {
	resp := &Response{
		Content: []ContentBlock{
			{Type: ContentBlockTypeText, Text: "Hello, "},
			{Type: ContentBlockTypeToolUse, ToolUse: &ToolUseBlock{ID: "a", Name: "lookup"}},
			{Type: ContentBlockTypeText, Text: "world"},
		},
	}
	if resp.Text() != "Hello, world" {
		t.Errorf("Text() = %q", resp.Text())
	}
	if len(resp.ToolUses()) != 1 {
		t.Errorf("ToolUses() = %d, want 1", len(resp.ToolUses()))
	}
}

func TestRequestMaxTokensOr(t *testing.T) {
	req := &Request{}
	if got := req.MaxTokensOr(1024); got != 1024 {
		t.Errorf("MaxTokensOr default = %d", got)
	}
	n := int64(64)
	req.Params.MaxTokens = &n
	if got := req.MaxTokensOr(1024); got != 64 {
		t.Errorf("MaxTokensOr configured = %d", got)
	}
}

func TestMessageToJSON(t *testing.T) {
	msg := NewTextMessage(RoleUser, "Test message")
	jsonData, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("Failed to marshal message to JSON: %v", err)
	}
	if len(jsonData) == 0 {
		t.Fatal("Expected non-empty JSON data")
	}
	var decoded Message
	if err := json.Unmarshal(jsonData, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	if decoded.Role != msg.Role {
		t.Errorf("Expected role %v, got %v", msg.Role, decoded.Role)
	}
}
