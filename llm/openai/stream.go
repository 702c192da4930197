package openai

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/aschepis/backscratcher/promptcall/llm"
	openai "github.com/sashabaranov/go-openai"
)

// openaiStream implements the llm.Stream interface for OpenAI streaming responses.
// Chunks are pulled from the SDK on demand; nothing is read ahead.
type openaiStream struct {
	stream  *openai.ChatCompletionStream
	model   string
	pending []*llm.StreamEvent
	event   *llm.StreamEvent
	mu      sync.Mutex
	err     error
	done    bool
	started bool

	respModel    string
	finishReason string
	usage        *llm.Usage
	output       strings.Builder // text and argument fragments, for usage estimates
}

// newOpenAIStream creates a new openaiStream.
func newOpenAIStream(stream *openai.ChatCompletionStream, model string) *openaiStream {
	return &openaiStream{
		stream: stream,
		model:  model,
	}
}

// Next advances to the next event in the stream.
func (s *openaiStream) Next() bool {
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
func (s *openaiStream) Event() *llm.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

// Err returns any error that occurred during streaming.
func (s *openaiStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the stream and releases resources.
func (s *openaiStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}

// fill reads one chunk from the transport and queues the events it produces.
func (s *openaiStream) fill() {
	if !s.started {
		s.started = true
		s.pending = append(s.pending, &llm.StreamEvent{
			Type:  llm.StreamEventTypeStart,
			Model: s.model,
		})
		return
	}

	response, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		s.finish()
		return
	}
	if err != nil {
		s.err = convertOpenAIError(err)
		return
	}

	if response.Model != "" {
		s.respModel = response.Model
	}

	// The usage chunk arrives after the finish reason with no choices.
	if response.Usage != nil {
		s.usage = &llm.Usage{
			InputTokens:  int64(response.Usage.PromptTokens),
			OutputTokens: int64(response.Usage.CompletionTokens),
		}
	}

	if len(response.Choices) == 0 {
		return
	}
	choice := response.Choices[0]

	if choice.Delta.Content != "" {
		s.output.WriteString(choice.Delta.Content)
		s.pending = append(s.pending, &llm.StreamEvent{
			Type: llm.StreamEventTypeContentDelta,
			Delta: &llm.StreamDelta{
				Type: llm.StreamDeltaTypeText,
				Text: choice.Delta.Content,
			},
			Raw: response,
		})
	}

	for _, toolCallDelta := range choice.Delta.ToolCalls {
		index := toolCallDelta.Index
		if toolCallDelta.ID != "" || toolCallDelta.Function.Name != "" {
			s.pending = append(s.pending, &llm.StreamEvent{
				Type: llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{
					Type:          llm.StreamDeltaTypeToolUse,
					ToolCallID:    toolCallDelta.ID,
					ToolCallIndex: index,
					ToolName:      toolCallDelta.Function.Name,
				},
				Raw: response,
			})
		}
		if toolCallDelta.Function.Arguments != "" {
			s.output.WriteString(toolCallDelta.Function.Arguments)
			s.pending = append(s.pending, &llm.StreamEvent{
				Type: llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{
					Type:          llm.StreamDeltaTypeToolInput,
					ToolCallID:    toolCallDelta.ID,
					ToolCallIndex: index,
					ToolInput:     toolCallDelta.Function.Arguments,
				},
				Raw: response,
			})
		}
	}

	if choice.FinishReason != "" {
		s.finishReason = convertFinishReason(choice.FinishReason)
		s.pending = append(s.pending, &llm.StreamEvent{
			Type:       llm.StreamEventTypeMessageDelta,
			StopReason: s.finishReason,
			Raw:        response,
		})
	}
}

// finish queues the terminal event once the transport reports EOF.
func (s *openaiStream) finish() {
	s.done = true

	usage := s.usage
	if usage == nil {
		if n := estimateTokens(s.model, s.output.String()); n > 0 {
			usage = &llm.Usage{OutputTokens: n}
		}
	}

	model := s.respModel
	if model == "" {
		model = s.model
	}

	s.pending = append(s.pending, &llm.StreamEvent{
		Type:       llm.StreamEventTypeStop,
		Usage:      usage,
		Model:      model,
		StopReason: s.finishReason,
		Done:       true,
	})
}
