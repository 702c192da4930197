package extract

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/aschepis/backscratcher/promptcall/schema"
)

// PartialStream yields progressively more complete values of T while the
// model streams its answer. Partial values are checked against the partial
// schema, in which no field is required; the final value is checked strictly.
// Streams are not retried.
type PartialStream[T any] struct {
	stream  *call.Stream
	target  *target[T]
	partial *schema.Schema
	check   func(any) error

	last    []byte
	current T
	final   T
	err     error
	done    bool
}

// ExtractStream starts a streamed extraction.
func ExtractStream[T any](ctx context.Context, fn *call.Function, args prompt.Args, opts ...Option) (*PartialStream[T], error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	t, err := newTarget[T](o.jsonMode)
	if err != nil {
		return nil, err
	}
	inv, err := fn.Prepare(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := t.prepare(inv); err != nil {
		return nil, err
	}
	s, err := fn.SendStream(ctx, inv)
	if err != nil {
		return nil, err
	}
	return &PartialStream[T]{
		stream:  s,
		target:  t,
		partial: t.schema.Partial(),
		check:   o.validator,
	}, nil
}

// Next advances until the partial value changes. It returns false when the
// stream ends; Value then reports the strictly validated result.
func (p *PartialStream[T]) Next() bool {
	if p.done {
		return false
	}
	for p.stream.Next() {
		raw := schema.CompletePartialJSON(p.pending())
		if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(raw, p.last) {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			continue
		}
		if err := p.partial.ValidateValue(doc); err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		p.last = raw
		p.current = v
		return true
	}

	p.done = true
	p.finish()
	return false
}

// pending returns the JSON text received so far.
func (p *PartialStream[T]) pending() []byte {
	if p.target.json {
		return []byte(JSONText(p.stream.Content()))
	}
	for _, b := range p.stream.ToolCalls() {
		if b.Name == p.target.tool.Name() {
			return b.Input
		}
	}
	return nil
}

func (p *PartialStream[T]) finish() {
	resp, err := p.stream.Response()
	if err != nil {
		p.err = err
		return
	}
	v, err := p.target.decode(resp)
	if err == nil && p.check != nil {
		err = p.check(v)
	}
	if err != nil {
		p.err = &llm.ExtractionError{Target: p.target.name(), Attempts: 1, Err: err}
		return
	}
	p.final = v
	p.current = v
}

// Partial returns the most recent partial value.
func (p *PartialStream[T]) Partial() T { return p.current }

// Value returns the final value once the stream has ended.
func (p *PartialStream[T]) Value() (T, error) {
	if !p.done {
		var zero T
		return zero, llm.ErrStreamNotFinalized
	}
	return p.final, p.err
}

// Err returns the error that ended the stream or failed final validation.
func (p *PartialStream[T]) Err() error { return p.err }

// Response returns the underlying finalized response.
func (p *PartialStream[T]) Response() (*call.Response, error) { return p.stream.Response() }

// Stream returns the underlying call stream.
func (p *PartialStream[T]) Stream() *call.Stream { return p.stream }

// Close releases the underlying stream.
func (p *PartialStream[T]) Close() error { return p.stream.Close() }
