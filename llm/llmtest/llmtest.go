// Package llmtest provides scripted llm.Client and llm.Stream implementations
// for tests that must not reach a provider.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aschepis/backscratcher/promptcall/llm"
)

// Client replays scripted responses and streams in order and records a copy
// of every request it receives.
type Client struct {
	mu        sync.Mutex
	responses []Result
	streams   [][]*llm.StreamEvent
	streamErr []error
	Requests  []*llm.Request
}

// Result is one scripted Synchronous outcome.
type Result struct {
	Response *llm.Response
	Err      error
}

// NewClient returns an empty scripted client.
func NewClient() *Client {
	return &Client{}
}

// Respond queues a successful response.
func (c *Client) Respond(resp *llm.Response) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, Result{Response: resp})
	return c
}

// Fail queues an error.
func (c *Client) Fail(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, Result{Err: err})
	return c
}

// StreamEvents queues a stream that yields events and then ends with err.
func (c *Client) StreamEvents(events []*llm.StreamEvent, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, events)
	c.streamErr = append(c.streamErr, err)
	return c
}

// Synchronous implements llm.Client.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, snapshot(req))
	if len(c.responses) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted response for request %d", len(c.Requests))
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return next.Response, next.Err
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, snapshot(req))
	if len(c.streams) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted stream for request %d", len(c.Requests))
	}
	events, err := c.streams[0], c.streamErr[0]
	c.streams, c.streamErr = c.streams[1:], c.streamErr[1:]
	return NewStream(events, err), nil
}

// snapshot copies the parts of a request callers tend to mutate between calls.
func snapshot(req *llm.Request) *llm.Request {
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	cp.Tools = append([]llm.ToolSpec(nil), req.Tools...)
	return &cp
}

// LastRequest returns the most recent request, or nil.
func (c *Client) LastRequest() *llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Requests) == 0 {
		return nil
	}
	return c.Requests[len(c.Requests)-1]
}

// Stream yields a fixed list of events, then reports err.
type Stream struct {
	events []*llm.StreamEvent
	err    error
	pos    int
	closed bool
}

// NewStream returns a stream over events.
func NewStream(events []*llm.StreamEvent, err error) *Stream {
	return &Stream{events: events, err: err, pos: -1}
}

func (s *Stream) Next() bool {
	if s.closed {
		return false
	}
	s.pos++
	return s.pos < len(s.events)
}

func (s *Stream) Event() *llm.StreamEvent {
	if s.pos < 0 || s.pos >= len(s.events) {
		return nil
	}
	return s.events[s.pos]
}

func (s *Stream) Err() error {
	if s.pos >= len(s.events) {
		return s.err
	}
	return nil
}

func (s *Stream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	return s.closed
}

// Text returns a text delta event.
func Text(text string) *llm.StreamEvent {
	return &llm.StreamEvent{
		Type:  llm.StreamEventTypeContentDelta,
		Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: text},
	}
}

// ToolStart returns a tool-call start event. index < 0 leaves the index unset.
func ToolStart(id string, index int, name string) *llm.StreamEvent {
	return &llm.StreamEvent{
		Type: llm.StreamEventTypeContentBlock,
		Delta: &llm.StreamDelta{
			Type:          llm.StreamDeltaTypeToolUse,
			ToolCallID:    id,
			ToolCallIndex: indexPtr(index),
			ToolName:      name,
		},
	}
}

// ToolArgs returns a tool-call argument fragment event. index < 0 leaves the index unset.
func ToolArgs(id string, index int, fragment string) *llm.StreamEvent {
	return &llm.StreamEvent{
		Type: llm.StreamEventTypeContentDelta,
		Delta: &llm.StreamDelta{
			Type:          llm.StreamDeltaTypeToolInput,
			ToolCallID:    id,
			ToolCallIndex: indexPtr(index),
			ToolInput:     fragment,
		},
	}
}

// Stop returns a terminal event with usage.
func Stop(model, reason string, input, output int64) *llm.StreamEvent {
	return &llm.StreamEvent{
		Type:       llm.StreamEventTypeStop,
		Model:      model,
		StopReason: reason,
		Usage:      &llm.Usage{InputTokens: input, OutputTokens: output},
		Done:       true,
	}
}

func indexPtr(i int) *int {
	if i < 0 {
		return nil
	}
	return &i
}
