// Package extract decodes model output into validated Go values.
//
// By default the target type is offered to the model as a tool it must
// call; with WithJSONMode the model is asked for a JSON object instead.
// Values that fail schema or custom validation are sent back to the model
// with the validation error, up to the configured number of retries.
// Provider errors end extraction immediately.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/aschepis/backscratcher/promptcall/schema"
	"github.com/aschepis/backscratcher/promptcall/tool"
	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
)

// Option configures extraction.
type Option func(*options)

type options struct {
	retries   int
	jsonMode  bool
	validator func(any) error
}

// WithRetries sets how many times a failed validation is sent back to the
// model. Zero, the default, means a single attempt.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = max(n, 0) }
}

// WithJSONMode extracts from a JSON-mode text response instead of a forced
// tool call.
func WithJSONMode() Option {
	return func(o *options) { o.jsonMode = true }
}

// Validate adds a check run after schema validation. Its error is sent back
// to the model like a schema violation.
func Validate[T any](fn func(T) error) Option {
	return func(o *options) {
		o.validator = func(v any) error { return fn(v.(T)) }
	}
}

// target describes how to decode T from a response.
type target[T any] struct {
	schema *schema.Schema
	tool   *tool.Tool
	json   bool
}

func newTarget[T any](jsonMode bool) (*target[T], error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("extraction target must be a struct, got %s", rt)
	}

	t, err := tool.Model[T]()
	if err != nil {
		return nil, err
	}
	return &target[T]{schema: t.Schema(), tool: t, json: jsonMode}, nil
}

func (t *target[T]) name() string { return t.schema.Name() }

// prepare switches the invocation to the extraction mode.
func (t *target[T]) prepare(inv *call.Invocation) error {
	if t.json {
		return inv.EnableJSONMode(t.schema)
	}
	return inv.ForceTool(t.tool)
}

// decode pulls T out of a finished response.
func (t *target[T]) decode(resp *call.Response) (T, error) {
	var zero T
	if t.json {
		raw := []byte(JSONText(resp.Content()))
		if err := t.schema.Validate(raw); err != nil {
			return zero, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, err
		}
		return v, nil
	}

	block, ok := lo.Find(resp.ToolCalls(), func(b llm.ToolUseBlock) bool { return b.Name == t.tool.Name() })
	if !ok {
		return zero, fmt.Errorf("the response did not call %s", t.tool.Name())
	}
	c, err := t.tool.FromCall(block)
	if err != nil {
		return zero, err
	}
	return c.Args.(T), nil
}

// correction builds the messages that report a failed attempt back to the model.
func (t *target[T]) correction(resp *call.Response, verr error) []llm.Message {
	calls := resp.ToolCalls()
	if t.json || len(calls) == 0 {
		return []llm.Message{
			resp.Message(),
			prompt.User(fmt.Sprintf("The previous response was invalid: %v\nRespond again, fixing these errors.", verr)),
		}
	}
	results := lo.Map(calls, func(b llm.ToolUseBlock, _ int) llm.ToolResultBlock {
		return tool.Result(b.ID, b.Name, nil, fmt.Errorf("validation failed: %v. Call %s again with corrected arguments", verr, t.tool.Name()))
	})
	return []llm.Message{resp.Message(), llm.NewToolResultMessage(results)}
}

// Extract calls fn with args and decodes the answer into a T. It returns the
// value together with the response it came from. After the retry budget is
// spent the last validation error is returned wrapped in
// *llm.ExtractionError; provider and template errors are returned as is.
func Extract[T any](ctx context.Context, fn *call.Function, args prompt.Args, opts ...Option) (T, *call.Response, error) {
	var zero T
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	t, err := newTarget[T](o.jsonMode)
	if err != nil {
		return zero, nil, err
	}
	inv, err := fn.Prepare(ctx, args)
	if err != nil {
		return zero, nil, err
	}
	if err := t.prepare(inv); err != nil {
		return zero, nil, err
	}

	var (
		value    T
		last     *call.Response
		attempts int
		invalid  error
	)
	attempt := func() error {
		attempts++
		resp, err := fn.Send(ctx, inv)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = resp

		v, err := t.decode(resp)
		if err == nil && o.validator != nil {
			err = o.validator(v)
		}
		if err != nil {
			invalid = err
			inv.Append(t.correction(resp, err)...)
			return err
		}
		value = v
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(o.retries)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		if invalid != nil && errors.Is(err, invalid) {
			return zero, last, &llm.ExtractionError{Target: t.name(), Attempts: attempts, Err: invalid}
		}
		return zero, last, err
	}
	return value, last, nil
}

// JSONText trims a model's JSON answer down to the JSON document, dropping
// Markdown code fences and surrounding prose.
func JSONText(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	first := strings.IndexAny(text, "{[")
	if first < 0 {
		return strings.TrimSpace(text)
	}
	for start := first; start >= 0; {
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var doc json.RawMessage
		err := dec.Decode(&doc)
		if err == nil {
			return string(doc)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// incomplete, as in a stream still in progress
			return text[start:]
		}
		next := strings.IndexAny(text[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return text[first:]
}
