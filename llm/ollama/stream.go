package ollama

import (
	"context"
	"sync"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/ollama/ollama/api"
)

// ollamaStream implements the llm.Stream interface for Ollama streaming responses.
// The SDK delivers chunks through a callback, so a goroutine runs Chat and hands
// events over an unbuffered channel; the callback blocks until the consumer
// asks for the next event, so nothing is read ahead of the caller.
type ollamaStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *api.Client
	req    *api.ChatRequest
	specs  map[string]llm.ToolSpec

	events chan *llm.StreamEvent
	errc   chan error

	mu      sync.Mutex
	event   *llm.StreamEvent
	err     error
	done    bool
	started bool
}

// newOllamaStream creates a new ollamaStream.
func newOllamaStream(ctx context.Context, client *api.Client, req *api.ChatRequest, specs map[string]llm.ToolSpec) *ollamaStream {
	ctx, cancel := context.WithCancel(ctx)
	return &ollamaStream{
		ctx:    ctx,
		cancel: cancel,
		client: client,
		req:    req,
		specs:  specs,
		events: make(chan *llm.StreamEvent),
		errc:   make(chan error, 1),
	}
}

// Next advances to the next event in the stream.
func (s *ollamaStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || s.done {
		return false
	}
	if !s.started {
		s.started = true
		go s.run()
	}

	event, ok := <-s.events
	if !ok {
		s.done = true
		if err := <-s.errc; err != nil {
			s.err = convertOllamaError(err)
		}
		return false
	}

	s.event = event
	return true
}

// Event returns the current event.
func (s *ollamaStream) Event() *llm.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

// Err returns any error that occurred during streaming.
func (s *ollamaStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the underlying request and releases resources.
func (s *ollamaStream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return nil
}

// run executes the chat request and forwards converted events.
func (s *ollamaStream) run() {
	defer close(s.events)

	index := 0
	stopped := false
	emit := func(ev *llm.StreamEvent) error {
		select {
		case s.events <- ev:
			return nil
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}

	if err := emit(&llm.StreamEvent{Type: llm.StreamEventTypeStart, Model: s.req.Model}); err != nil {
		s.errc <- err
		return
	}

	err := s.client.Chat(s.ctx, s.req, func(resp api.ChatResponse) error {
		// Ollama sends incremental deltas (just the new tokens), not cumulative content
		if resp.Message.Content != "" {
			if err := emit(&llm.StreamEvent{
				Type:  llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: resp.Message.Content},
				Raw:   resp,
			}); err != nil {
				return err
			}
		}

		// Tool calls arrive whole; each gets its own index.
		for _, toolCall := range resp.Message.ToolCalls {
			use, err := FromOllamaToolCall(toolCall, s.specs)
			if err != nil {
				return err
			}
			i := index
			index++
			if err := emit(&llm.StreamEvent{
				Type: llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{
					Type:          llm.StreamDeltaTypeToolUse,
					ToolCallID:    use.ID,
					ToolCallIndex: &i,
					ToolName:      use.Name,
				},
				Raw: resp,
			}); err != nil {
				return err
			}
			if err := emit(&llm.StreamEvent{
				Type: llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{
					Type:          llm.StreamDeltaTypeToolInput,
					ToolCallID:    use.ID,
					ToolCallIndex: &i,
					ToolInput:     string(use.Input),
				},
				Raw: resp,
			}); err != nil {
				return err
			}
		}

		if resp.Done {
			stopped = true
			return emit(&llm.StreamEvent{
				Type:       llm.StreamEventTypeStop,
				Usage:      usageOf(resp),
				Model:      resp.Model,
				StopReason: stopReasonOf(resp),
				Done:       true,
				Raw:        resp,
			})
		}
		return nil
	})

	if err == nil && !stopped {
		err = emit(&llm.StreamEvent{Type: llm.StreamEventTypeStop, Model: s.req.Model, Done: true})
	}
	s.errc <- err
}
