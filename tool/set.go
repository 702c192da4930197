package tool

import (
	"fmt"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/samber/lo"
)

// Set is an immutable collection of tools with unique names. A nil *Set is
// an empty set.
type Set struct {
	tools  []*Tool
	byName map[string]*Tool
}

// NewSet returns a set of tools, rejecting duplicate names.
func NewSet(tools ...*Tool) (*Set, error) {
	s := &Set{byName: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, dup := s.byName[t.name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.name)
		}
		s.byName[t.name] = t
		s.tools = append(s.tools, t)
	}
	return s, nil
}

// With returns a new set containing the receiver's tools followed by tools.
func (s *Set) With(tools ...*Tool) (*Set, error) {
	return NewSet(append(s.Tools(), tools...)...)
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}

// Tools returns the tools in registration order.
func (s *Set) Tools() []*Tool {
	if s == nil {
		return nil
	}
	return append([]*Tool(nil), s.tools...)
}

// Names returns the tool names in registration order.
func (s *Set) Names() []string {
	return lo.Map(s.Tools(), func(t *Tool, _ int) string { return t.name })
}

// Lookup finds a tool by name.
func (s *Set) Lookup(name string) (*Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// Specs returns the provider-neutral definitions of every tool.
func (s *Set) Specs() []llm.ToolSpec {
	return lo.Map(s.Tools(), func(t *Tool, _ int) llm.ToolSpec { return t.Spec() })
}

// Decode decodes a tool-use block against the tool it names. A name not in
// the set yields an *llm.ArgumentDecodeError wrapping llm.ErrUnknownTool.
func (s *Set) Decode(block llm.ToolUseBlock) (*Call, error) {
	t, ok := s.Lookup(block.Name)
	if !ok {
		return nil, &llm.ArgumentDecodeError{
			Tool:       block.Name,
			ToolCallID: block.ID,
			Input:      string(block.Input),
			Err:        llm.ErrUnknownTool,
		}
	}
	return t.FromCall(block)
}

// DecodeAll decodes blocks in order, stopping at the first error.
func (s *Set) DecodeAll(blocks []llm.ToolUseBlock) ([]*Call, error) {
	calls := make([]*Call, 0, len(blocks))
	for _, b := range blocks {
		c, err := s.Decode(b)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, nil
}
