package anthropic

import (
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/aschepis/backscratcher/promptcall/llm"
)

// anthropicStream implements the llm.Stream interface for Anthropic streaming responses.
// Tool-call fragments are keyed by content block index; the id arrives on block start.
type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	client  *AnthropicClient
	pending []*llm.StreamEvent
	event   *llm.StreamEvent
	mu      sync.Mutex
	err     error
	done    bool

	model      string
	startUsage llm.Usage // input and cache counts from message_start
	usage      *llm.Usage
	stopReason string
}

// newAnthropicStream creates a new anthropicStream.
func newAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], client *AnthropicClient) *anthropicStream {
	return &anthropicStream{
		stream: stream,
		client: client,
	}
}

// Next advances to the next event in the stream.
func (s *anthropicStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 {
		if s.err != nil || s.done {
			return false
		}
		s.fill()
	}

	s.event = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

// Event returns the current event.
func (s *anthropicStream) Event() *llm.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

// Err returns any error that occurred during streaming.
func (s *anthropicStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the stream and releases resources.
func (s *anthropicStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}

// fill reads one SSE event and queues the neutral events it produces.
func (s *anthropicStream) fill() {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			s.err = convertAnthropicError(err)
			return
		}
		// Clean end of stream without message_stop.
		s.stop()
		return
	}

	event := s.stream.Current()
	switch evt := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		s.model = string(evt.Message.Model)
		s.startUsage = llm.Usage{
			InputTokens:              evt.Message.Usage.InputTokens,
			CacheCreationInputTokens: evt.Message.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     evt.Message.Usage.CacheReadInputTokens,
		}
		s.pending = append(s.pending, &llm.StreamEvent{
			Type:  llm.StreamEventTypeStart,
			Model: s.model,
			Raw:   evt,
		})

	case anthropic.ContentBlockStartEvent:
		index := int(evt.Index)
		switch block := evt.ContentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			if block.Text != "" {
				s.pending = append(s.pending, textEvent(block.Text, evt))
			}
		case anthropic.ToolUseBlock:
			s.pending = append(s.pending, &llm.StreamEvent{
				Type: llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{
					Type:          llm.StreamDeltaTypeToolUse,
					ToolCallID:    block.ID,
					ToolCallIndex: &index,
					ToolName:      block.Name,
				},
				Raw: evt,
			})
		}

	case anthropic.ContentBlockDeltaEvent:
		index := int(evt.Index)
		switch d := evt.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				s.pending = append(s.pending, textEvent(d.Text, evt))
			}
		case anthropic.InputJSONDelta:
			if d.PartialJSON != "" {
				s.pending = append(s.pending, &llm.StreamEvent{
					Type: llm.StreamEventTypeContentDelta,
					Delta: &llm.StreamDelta{
						Type:          llm.StreamDeltaTypeToolInput,
						ToolCallIndex: &index,
						ToolInput:     d.PartialJSON,
					},
					Raw: evt,
				})
			}
		}

	case anthropic.MessageDeltaEvent:
		s.usage = &llm.Usage{
			InputTokens:              orStart(evt.Usage.InputTokens, s.startUsage.InputTokens),
			OutputTokens:             evt.Usage.OutputTokens,
			CacheCreationInputTokens: orStart(evt.Usage.CacheCreationInputTokens, s.startUsage.CacheCreationInputTokens),
			CacheReadInputTokens:     orStart(evt.Usage.CacheReadInputTokens, s.startUsage.CacheReadInputTokens),
		}
		s.stopReason = string(evt.Delta.StopReason)
		s.client.logCacheStats(s.usage, "Prompt cache stats (stream)")
		s.pending = append(s.pending, &llm.StreamEvent{
			Type:       llm.StreamEventTypeMessageDelta,
			Usage:      s.usage,
			StopReason: s.stopReason,
			Raw:        evt,
		})

	case anthropic.MessageStopEvent:
		s.stop()
	}
}

// orStart prefers a count reported on message_delta over the one from
// message_start.
func orStart(delta, start int64) int64 {
	if delta != 0 {
		return delta
	}
	return start
}

// stop queues the terminal event.
func (s *anthropicStream) stop() {
	s.done = true
	if s.usage == nil && s.model != "" {
		usage := s.startUsage
		s.usage = &usage
	}
	s.pending = append(s.pending, &llm.StreamEvent{
		Type:       llm.StreamEventTypeStop,
		Usage:      s.usage,
		Model:      s.model,
		StopReason: s.stopReason,
		Done:       true,
	})
}

func textEvent(text string, raw any) *llm.StreamEvent {
	return &llm.StreamEvent{
		Type: llm.StreamEventTypeContentDelta,
		Delta: &llm.StreamDelta{
			Type: llm.StreamDeltaTypeText,
			Text: text,
		},
		Raw: raw,
	}
}
