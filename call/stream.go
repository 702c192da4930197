package call

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// StreamState is the lifecycle position of a Stream.
type StreamState int

const (
	StreamNotStarted StreamState = iota
	StreamStreaming
	StreamFinalized
	StreamErrored
)

func (s StreamState) String() string {
	switch s {
	case StreamNotStarted:
		return "not_started"
	case StreamStreaming:
		return "streaming"
	case StreamFinalized:
		return "finalized"
	case StreamErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Chunk is one increment of a streamed response.
type Chunk struct {
	// Content is the text delta, possibly empty.
	Content string
	// ToolCall is set when the chunk carries a tool-call fragment.
	ToolCall *ToolCallDelta
	// Event is the provider-neutral event the chunk came from.
	Event *llm.StreamEvent
}

// ToolCallDelta is a fragment of a streamed tool call.
type ToolCallDelta struct {
	ID        string
	Index     int
	Name      string
	Arguments string
}

type fragment struct {
	id    string
	index int
	name  string
	args  strings.Builder
}

// Stream wraps a provider stream and accumulates it into a Response.
//
// Content deltas are concatenated in arrival order. Tool-call argument
// fragments are concatenated per tool call, matched by id or, for
// providers that only send it once, by position. The stream finalizes on
// the provider's terminal event or on a clean end of the transport; at
// that point every tool call's arguments must be valid JSON. A transport
// error moves the stream to StreamErrored and it cannot be resumed.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	ctx       context.Context
	inv       *Invocation
	src       llm.Stream
	observers []Observer
	logger    zerolog.Logger

	state StreamState
	chunk Chunk
	err   error
	start time.Time

	content   strings.Builder
	fragments []*fragment
	byID      map[string]*fragment
	byIndex   map[int]*fragment

	usage      llm.Usage
	hasUsage   bool
	model      string
	stopReason string

	resp   *Response
	closed bool
}

func newStream(ctx context.Context, inv *Invocation, src llm.Stream, observers []Observer, logger zerolog.Logger) *Stream {
	return &Stream{
		ctx:       ctx,
		inv:       inv,
		src:       src,
		observers: observers,
		logger:    logger,
		start:     time.Now(),
		byID:      make(map[string]*fragment),
		byIndex:   make(map[int]*fragment),
	}
}

// Next advances to the next chunk. It returns false once the stream has
// finalized or failed; check Err to tell the two apart.
func (s *Stream) Next() bool {
	for s.state == StreamNotStarted || s.state == StreamStreaming {
		if !s.src.Next() {
			if err := s.src.Err(); err != nil {
				s.fail(err)
			} else {
				s.finalize()
			}
			return false
		}

		ev := s.src.Event()
		if ev == nil {
			continue
		}
		s.state = StreamStreaming

		chunk, visible := s.apply(ev)
		if ev.Type == llm.StreamEventTypeStop || ev.Done {
			s.finalize()
			if s.state != StreamFinalized || !visible {
				return false
			}
		}
		if visible {
			s.chunk = chunk
			return true
		}
	}
	return false
}

// Chunk returns the current chunk.
func (s *Stream) Chunk() Chunk { return s.chunk }

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// State returns the lifecycle state.
func (s *Stream) State() StreamState { return s.state }

// Invocation returns the prepared call being streamed.
func (s *Stream) Invocation() *Invocation { return s.inv }

// Content returns the text accumulated so far.
func (s *Stream) Content() string { return s.content.String() }

// ToolCalls returns the tool calls accumulated so far with their raw,
// possibly incomplete, arguments.
func (s *Stream) ToolCalls() []llm.ToolUseBlock {
	return lo.Map(s.fragments, func(f *fragment, _ int) llm.ToolUseBlock {
		return llm.ToolUseBlock{ID: f.id, Name: f.name, Input: json.RawMessage(f.args.String())}
	})
}

// Usage returns the token usage reported so far.
func (s *Stream) Usage() llm.Usage { return s.usage }

// Model returns the model reported by the provider, or the requested model.
func (s *Stream) Model() string {
	if s.model != "" {
		return s.model
	}
	return s.inv.Model
}

// Response returns the finalized response. It fails with
// llm.ErrStreamNotFinalized until the stream has finalized, and with the
// stream's error once it has failed.
func (s *Stream) Response() (*Response, error) {
	switch s.state {
	case StreamFinalized:
		return s.resp, nil
	case StreamErrored:
		return nil, s.err
	default:
		return nil, llm.ErrStreamNotFinalized
	}
}

// Close releases the provider stream. Closing before the terminal event
// leaves the stream errored with llm.ErrStreamClosed.
func (s *Stream) Close() error {
	err := s.closeSource()
	if s.state == StreamNotStarted || s.state == StreamStreaming {
		s.fail(llm.ErrStreamClosed)
	}
	return err
}

func (s *Stream) closeSource() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}

// apply folds an event into the accumulated state and reports whether it
// produced a chunk worth surfacing.
func (s *Stream) apply(ev *llm.StreamEvent) (Chunk, bool) {
	if ev.Model != "" {
		s.model = ev.Model
	}
	if ev.StopReason != "" {
		s.stopReason = ev.StopReason
	}
	if ev.Usage != nil {
		s.hasUsage = true
		if ev.Usage.InputTokens > 0 {
			s.usage.InputTokens = ev.Usage.InputTokens
		}
		if ev.Usage.OutputTokens > 0 {
			s.usage.OutputTokens = ev.Usage.OutputTokens
		}
		if ev.Usage.CacheCreationInputTokens > 0 {
			s.usage.CacheCreationInputTokens = ev.Usage.CacheCreationInputTokens
		}
		if ev.Usage.CacheReadInputTokens > 0 {
			s.usage.CacheReadInputTokens = ev.Usage.CacheReadInputTokens
		}
	}

	d := ev.Delta
	if d == nil {
		return Chunk{}, false
	}

	switch d.Type {
	case llm.StreamDeltaTypeText:
		if d.Text == "" {
			return Chunk{}, false
		}
		s.content.WriteString(d.Text)
		return Chunk{Content: d.Text, Event: ev}, true

	case llm.StreamDeltaTypeToolUse, llm.StreamDeltaTypeToolInput:
		f := s.fragmentFor(d)
		if d.ToolName != "" && f.name == "" {
			f.name = d.ToolName
		}
		f.args.WriteString(d.ToolInput)
		return Chunk{
			ToolCall: &ToolCallDelta{ID: f.id, Index: f.index, Name: f.name, Arguments: d.ToolInput},
			Event:    ev,
		}, true
	}
	return Chunk{}, false
}

// fragmentFor finds the tool call a delta belongs to. A delta with neither
// id nor index continues the most recent tool call.
func (s *Stream) fragmentFor(d *llm.StreamDelta) *fragment {
	if d.ToolCallID != "" {
		if f, ok := s.byID[d.ToolCallID]; ok {
			if d.ToolCallIndex != nil {
				if _, taken := s.byIndex[*d.ToolCallIndex]; !taken {
					s.byIndex[*d.ToolCallIndex] = f
				}
			}
			return f
		}
	}
	if d.ToolCallIndex != nil {
		if f, ok := s.byIndex[*d.ToolCallIndex]; ok {
			if d.ToolCallID != "" && f.id == "" {
				f.id = d.ToolCallID
				s.byID[f.id] = f
			}
			if d.ToolCallID == "" || f.id == d.ToolCallID {
				return f
			}
		}
	}
	if d.ToolCallID == "" && d.ToolCallIndex == nil && len(s.fragments) > 0 {
		return s.fragments[len(s.fragments)-1]
	}

	f := &fragment{id: d.ToolCallID, index: len(s.fragments)}
	if d.ToolCallIndex != nil {
		f.index = *d.ToolCallIndex
		s.byIndex[f.index] = f
	}
	if f.id != "" {
		s.byID[f.id] = f
	}
	s.fragments = append(s.fragments, f)
	return f
}

func (s *Stream) finalize() {
	content := make([]llm.ContentBlock, 0, len(s.fragments)+1)
	if s.content.Len() > 0 {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: s.content.String()})
	}
	for _, f := range s.fragments {
		args := strings.TrimSpace(f.args.String())
		if args == "" {
			args = "{}"
		}
		var probe any
		if err := json.Unmarshal([]byte(args), &probe); err != nil {
			s.fail(&llm.StreamFinalizationError{
				Tool:       f.name,
				ToolCallID: f.id,
				Input:      args,
				Err:        err,
			})
			return
		}
		content = append(content, llm.ContentBlock{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: &llm.ToolUseBlock{ID: f.id, Name: f.name, Input: json.RawMessage(args)},
		})
	}

	raw := &llm.Response{
		Model:      s.Model(),
		Content:    content,
		StopReason: s.stopReason,
	}
	if s.hasUsage {
		usage := s.usage
		raw.Usage = &usage
	}

	s.resp = newResponse(s.inv, raw, time.Since(s.start))
	s.state = StreamFinalized
	s.logger.Debug().
		Int("content_len", s.content.Len()).
		Int("tool_calls", len(s.fragments)).
		Int64("output_tokens", s.usage.OutputTokens).
		Msg("Stream finalized")

	for _, o := range s.observers {
		o.AfterStream(s.ctx, s.inv, s, nil)
	}
}

func (s *Stream) fail(err error) {
	s.state = StreamErrored
	s.err = err
	_ = s.closeSource()
	for _, o := range s.observers {
		o.AfterStream(s.ctx, s.inv, s, err)
	}
}
