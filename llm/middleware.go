package llm

import "context"

// Middleware observes or rewrites synchronous calls made through a Client
// returned by WrapWithMiddleware.
type Middleware interface {
	// BeforeRequest may replace the request or abort the call.
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)

	// AfterResponse may replace the response or fail the call.
	AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error)

	// OnError may replace a provider error. Returning nil keeps the original.
	OnError(ctx context.Context, req *Request, err error) error
}

// StreamMiddleware is implemented by middleware that also wants to see
// streaming calls.
type StreamMiddleware interface {
	BeforeStream(ctx context.Context, req *Request) (*Request, error)

	// OnStreamEvent may replace an event. A non-nil error ends the stream
	// and is reported by its Err method.
	OnStreamEvent(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error)

	OnStreamError(ctx context.Context, req *Request, err error) error
}

// MiddlewareFunc adapts plain functions to Middleware. Nil fields pass
// values through unchanged.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, req *Request) (*Request, error)
	AfterResponseFunc func(ctx context.Context, req *Request, resp *Response) (*Response, error)
	OnErrorFunc       func(ctx context.Context, req *Request, err error) error
}

func (f MiddlewareFunc) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeRequestFunc == nil {
		return req, nil
	}
	return f.BeforeRequestFunc(ctx, req)
}

func (f MiddlewareFunc) AfterResponse(ctx context.Context, req *Request, resp *Response) (*Response, error) {
	if f.AfterResponseFunc == nil {
		return resp, nil
	}
	return f.AfterResponseFunc(ctx, req, resp)
}

func (f MiddlewareFunc) OnError(ctx context.Context, req *Request, err error) error {
	if f.OnErrorFunc == nil {
		return err
	}
	return f.OnErrorFunc(ctx, req, err)
}

// StreamMiddlewareFunc adapts plain functions to StreamMiddleware.
type StreamMiddlewareFunc struct {
	BeforeStreamFunc  func(ctx context.Context, req *Request) (*Request, error)
	OnStreamEventFunc func(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error)
	OnStreamErrorFunc func(ctx context.Context, req *Request, err error) error
}

func (f StreamMiddlewareFunc) BeforeStream(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeStreamFunc == nil {
		return req, nil
	}
	return f.BeforeStreamFunc(ctx, req)
}

func (f StreamMiddlewareFunc) OnStreamEvent(ctx context.Context, req *Request, event *StreamEvent) (*StreamEvent, error) {
	if f.OnStreamEventFunc == nil {
		return event, nil
	}
	return f.OnStreamEventFunc(ctx, req, event)
}

func (f StreamMiddlewareFunc) OnStreamError(ctx context.Context, req *Request, err error) error {
	if f.OnStreamErrorFunc == nil {
		return err
	}
	return f.OnStreamErrorFunc(ctx, req, err)
}

// WrapWithMiddleware returns a Client that runs mw around every call to
// client. Before hooks run in the given order and after hooks in reverse.
// Middleware that also implements StreamMiddleware sees streaming calls.
func WrapWithMiddleware(client Client, mw ...Middleware) Client {
	if len(mw) == 0 {
		return client
	}
	wrapped := &middlewareClient{next: client, sync: mw}
	for _, m := range mw {
		if sm, ok := m.(StreamMiddleware); ok {
			wrapped.stream = append(wrapped.stream, sm)
		}
	}
	return wrapped
}

type middlewareClient struct {
	next   Client
	sync   []Middleware
	stream []StreamMiddleware
}

var _ Client = (*middlewareClient)(nil)

func (c *middlewareClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	var err error
	for _, m := range c.sync {
		if req, err = m.BeforeRequest(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := c.next.Synchronous(ctx, req)
	if err != nil {
		for _, m := range c.sync {
			err = keepError(err, m.OnError(ctx, req, err))
		}
		return nil, err
	}

	for i := len(c.sync) - 1; i >= 0; i-- {
		if resp, err = c.sync[i].AfterResponse(ctx, req, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *middlewareClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	var err error
	for _, m := range c.stream {
		if req, err = m.BeforeStream(ctx, req); err != nil {
			return nil, err
		}
	}

	inner, err := c.next.Stream(ctx, req)
	if err != nil {
		return nil, c.streamError(ctx, req, err)
	}
	return &middlewareStream{Stream: inner, client: c, ctx: ctx, req: req}, nil
}

func (c *middlewareClient) streamError(ctx context.Context, req *Request, err error) error {
	for _, m := range c.stream {
		err = keepError(err, m.OnStreamError(ctx, req, err))
	}
	return err
}

// keepError returns replacement unless a hook declined to replace err.
func keepError(err, replacement error) error {
	if replacement == nil {
		return err
	}
	return replacement
}

// middlewareStream passes each event through the stream hooks.
type middlewareStream struct {
	Stream
	client  *middlewareClient
	ctx     context.Context
	req     *Request
	current *StreamEvent
	hookErr error
	done    bool
}

func (s *middlewareStream) Next() bool {
	if s.done {
		return false
	}
	for s.Stream.Next() {
		event := s.Stream.Event()
		if event == nil {
			break
		}
		event, s.hookErr = s.filter(event)
		if s.hookErr != nil {
			break
		}
		if event != nil {
			s.current = event
			return true
		}
	}
	s.done = true
	return false
}

// filter runs the hooks over one event. A nil event with a nil error
// means a hook dropped it.
func (s *middlewareStream) filter(event *StreamEvent) (*StreamEvent, error) {
	var err error
	for _, m := range s.client.stream {
		if event, err = m.OnStreamEvent(s.ctx, s.req, event); err != nil || event == nil {
			return nil, err
		}
	}
	return event, nil
}

func (s *middlewareStream) Event() *StreamEvent { return s.current }

func (s *middlewareStream) Err() error {
	if s.hookErr != nil {
		return s.hookErr
	}
	if err := s.Stream.Err(); err != nil {
		return s.client.streamError(s.ctx, s.req, err)
	}
	return nil
}
