package llm

import (
	"context"

	"github.com/rs/zerolog"
)

// loggingMiddleware logs request shapes, usage and stream completion at debug level.
type loggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware returns a Middleware that also implements StreamMiddleware.
// It never alters requests, responses or errors.
func NewLoggingMiddleware(logger zerolog.Logger) Middleware {
	return &loggingMiddleware{logger: logger.With().Str("component", "llm").Logger()}
}

func (m *loggingMiddleware) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	m.logRequest("Sending request", req)
	return req, nil
}

func (m *loggingMiddleware) AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	ev := m.logger.Debug().
		Str("model", resp.Model).
		Str("stop_reason", resp.StopReason).
		Int("tool_calls", len(resp.ToolUses()))
	if resp.Usage != nil {
		ev = ev.Int64("input_tokens", resp.Usage.InputTokens).Int64("output_tokens", resp.Usage.OutputTokens)
	}
	ev.Msg("Received response")
	return resp, nil
}

func (m *loggingMiddleware) OnError(ctx context.Context, req *Request, err error) error {
	m.logger.Debug().Err(err).Str("model", req.Model).Msg("Request failed")
	return err
}

func (m *loggingMiddleware) BeforeStream(ctx context.Context, req *Request) (*Request, error) {
	m.logRequest("Opening stream", req)
	return req, nil
}

func (m *loggingMiddleware) OnStreamEvent(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error) {
	if event.Type == StreamEventTypeStop {
		ev := m.logger.Debug().Str("model", event.Model).Str("stop_reason", event.StopReason)
		if event.Usage != nil {
			ev = ev.Int64("input_tokens", event.Usage.InputTokens).Int64("output_tokens", event.Usage.OutputTokens)
		}
		ev.Msg("Stream finished")
	}
	return event, nil
}

func (m *loggingMiddleware) OnStreamError(ctx context.Context, req *Request, err error) error {
	m.logger.Debug().Err(err).Str("model", req.Model).Msg("Stream failed")
	return err
}

func (m *loggingMiddleware) logRequest(msg string, req *Request) {
	m.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Bool("json_mode", req.JSONMode).
		Str("tool_choice", string(req.ToolChoice.Mode)).
		Msg(msg)
}

var (
	_ Middleware       = (*loggingMiddleware)(nil)
	_ StreamMiddleware = (*loggingMiddleware)(nil)
)
