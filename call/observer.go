package call

import "context"

// Observer is notified around every call a Function makes.
//
// BeforeCall may return a derived context; that context is the one passed
// to AfterCall or AfterStream. AfterStream runs once, when the stream
// finalizes, fails or is closed early. It receives a nil stream when the
// provider refused to open one.
type Observer interface {
	BeforeCall(ctx context.Context, inv *Invocation) context.Context
	AfterCall(ctx context.Context, inv *Invocation, resp *Response, err error)
	AfterStream(ctx context.Context, inv *Invocation, s *Stream, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	BeforeCallFunc  func(ctx context.Context, inv *Invocation) context.Context
	AfterCallFunc   func(ctx context.Context, inv *Invocation, resp *Response, err error)
	AfterStreamFunc func(ctx context.Context, inv *Invocation, s *Stream, err error)
}

func (o ObserverFuncs) BeforeCall(ctx context.Context, inv *Invocation) context.Context {
	if o.BeforeCallFunc != nil {
		return o.BeforeCallFunc(ctx, inv)
	}
	return ctx
}

func (o ObserverFuncs) AfterCall(ctx context.Context, inv *Invocation, resp *Response, err error) {
	if o.AfterCallFunc != nil {
		o.AfterCallFunc(ctx, inv, resp, err)
	}
}

func (o ObserverFuncs) AfterStream(ctx context.Context, inv *Invocation, s *Stream, err error) {
	if o.AfterStreamFunc != nil {
		o.AfterStreamFunc(ctx, inv, s, err)
	}
}

func beforeCall(ctx context.Context, observers []Observer, inv *Invocation) context.Context {
	for _, o := range observers {
		if next := o.BeforeCall(ctx, inv); next != nil {
			ctx = next
		}
	}
	return ctx
}
