// Package tool adapts Go functions and types into tool definitions a model
// can call, and decodes the model's tool calls back into invocable values.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/schema"
)

// ErrNotInvocable is returned by Invoke on tools that only describe a shape.
var ErrNotInvocable = errors.New("tool has no invocation")

// Invoker is implemented by argument types that carry their own behavior.
// The decoded value's Invoke method runs when the call is invoked.
type Invoker interface {
	Invoke(ctx context.Context) (any, error)
}

// Describer lets a tool type supply its own description.
type Describer interface {
	ToolDescription() string
}

// RawHandler invokes a tool with its undecoded JSON arguments.
type RawHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is an immutable tool definition.
type Tool struct {
	name        string
	description string
	schema      *schema.Schema

	decode func(raw json.RawMessage) (any, error)
	invoke func(ctx context.Context, args any, raw json.RawMessage) (any, error)
}

// Func wraps fn as a tool. The parameter schema is reflected from A, which
// should be a struct whose json tags name the arguments.
func Func[A, R any](name, description string, fn func(ctx context.Context, args A) (R, error)) (*Tool, error) {
	s, err := schema.For[A]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return &Tool{
		name:        name,
		description: description,
		schema:      s,
		decode:      decodeInto[A],
		invoke: func(ctx context.Context, args any, _ json.RawMessage) (any, error) {
			return fn(ctx, args.(A))
		},
	}, nil
}

// MustFunc is like Func but panics on error.
func MustFunc[A, R any](name, description string, fn func(ctx context.Context, args A) (R, error)) *Tool {
	t, err := Func(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// FromType builds a tool from a type that implements Invoker. The tool is
// named after the type; its description comes from ToolDescription when
// implemented and from the schema description otherwise.
func FromType[T Invoker]() (*Tool, error) {
	t, err := Model[T]()
	if err != nil {
		return nil, err
	}
	t.invoke = func(ctx context.Context, args any, _ json.RawMessage) (any, error) {
		return args.(T).Invoke(ctx)
	}
	return t, nil
}

// Model builds a non-invocable tool describing T. It is used to force the
// model to answer with a value of that shape.
func Model[T any]() (*Tool, error) {
	s, err := schema.For[T]()
	if err != nil {
		return nil, err
	}
	description := s.Description()
	var zero T
	if d, ok := any(zero).(Describer); ok {
		description = d.ToolDescription()
	} else if d, ok := any(new(T)).(Describer); ok {
		description = d.ToolDescription()
	}
	if description == "" {
		description = "Respond with a " + s.Name() + " value."
	}
	return &Tool{
		name:        s.Name(),
		description: description,
		schema:      s,
		decode:      decodeInto[T],
	}, nil
}

// FromSchema builds a tool from an existing JSON schema. Decoded arguments
// are a map[string]any with numbers kept as json.Number; fn receives the
// call's JSON exactly as the model sent it.
func FromSchema(name, description string, doc map[string]any, fn RawHandler) *Tool {
	t := &Tool{
		name:        name,
		description: description,
		schema:      schema.FromMap(name, doc),
		decode: func(raw json.RawMessage) (any, error) {
			return DecodeArgs(raw)
		},
	}
	if fn != nil {
		t.invoke = func(ctx context.Context, _ any, raw json.RawMessage) (any, error) {
			return fn(ctx, raw)
		}
	}
	return t
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.name }

// Description returns the tool description.
func (t *Tool) Description() string { return t.description }

// Schema returns the parameter schema.
func (t *Tool) Schema() *schema.Schema { return t.schema }

// Spec returns the provider-neutral tool definition.
func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.name,
		Description: t.description,
		Schema:      t.schema.ToolSchema(),
	}
}

// FromCall decodes a tool-use block into a Call. Malformed JSON, schema
// violations and a name mismatch are reported as *llm.ArgumentDecodeError.
func (t *Tool) FromCall(block llm.ToolUseBlock) (*Call, error) {
	raw := block.Input
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	fail := func(err error) (*Call, error) {
		return nil, &llm.ArgumentDecodeError{Tool: block.Name, ToolCallID: block.ID, Input: string(raw), Err: err}
	}

	if block.Name != t.name {
		return fail(fmt.Errorf("call names %q, not %q", block.Name, t.name))
	}
	if !json.Valid(raw) {
		return fail(errors.New("arguments are not valid JSON"))
	}
	if err := t.schema.Validate(raw); err != nil {
		return fail(err)
	}
	args, err := t.decode(raw)
	if err != nil {
		return fail(err)
	}

	return &Call{
		ID:   block.ID,
		Name: block.Name,
		Args: args,
		Raw:  append(json.RawMessage(nil), raw...),
		tool: t,
	}, nil
}

// DecodeArgs decodes a JSON object into a map, keeping numbers as
// json.Number so integers beyond float64 precision survive.
func DecodeArgs(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		v := reflect.New(rt.Elem())
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return nil, err
		}
		return v.Interface().(T), nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
