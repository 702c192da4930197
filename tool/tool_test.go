package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	City  string   `json:"city" jsonschema:"description=City name"`
	Days  int      `json:"days"`
	Units string   `json:"units,omitempty" jsonschema:"enum=metric,enum=imperial"`
	Tags  []string `json:"tags,omitempty"`
}

type weatherReport struct {
	Summary string `json:"summary"`
}

func weatherTool(t *testing.T) *Tool {
	t.Helper()
	tl, err := Func("get_weather", "Look up the forecast", func(ctx context.Context, args weatherArgs) (weatherReport, error) {
		return weatherReport{Summary: args.City + " is sunny"}, nil
	})
	require.NoError(t, err)
	return tl
}

type FormatBook struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

func (b FormatBook) Invoke(ctx context.Context) (any, error) {
	return b.Title + " by " + b.Author, nil
}

func (FormatBook) ToolDescription() string { return "Format a book recommendation." }

func TestFunc_Spec(t *testing.T) {
	spec := weatherTool(t).Spec()
	assert.Equal(t, "get_weather", spec.Name)
	assert.Equal(t, "Look up the forecast", spec.Description)
	assert.Equal(t, "object", spec.Schema.Type)
	assert.ElementsMatch(t, []string{"city", "days"}, spec.Schema.Required)
	assert.Contains(t, spec.Schema.Properties, "units")
}

func TestFunc_RoundTrip(t *testing.T) {
	tl := weatherTool(t)
	want := weatherArgs{City: "Lisbon", Days: 3, Units: "metric", Tags: []string{"a", "b"}}

	raw, err := json.Marshal(want)
	require.NoError(t, err)

	call, err := tl.FromCall(llm.ToolUseBlock{ID: "call_1", Name: "get_weather", Input: raw})
	require.NoError(t, err)
	assert.Equal(t, want, call.Args)
	assert.Equal(t, "call_1", call.ID)

	out, err := call.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, weatherReport{Summary: "Lisbon is sunny"}, out)
}

func TestFromCall_DecodeErrors(t *testing.T) {
	tl := weatherTool(t)
	cases := map[string]llm.ToolUseBlock{
		"malformed":    {ID: "1", Name: "get_weather", Input: json.RawMessage(`{"city": `)},
		"missing":      {ID: "2", Name: "get_weather", Input: json.RawMessage(`{"city": "Lisbon"}`)},
		"wrong type":   {ID: "3", Name: "get_weather", Input: json.RawMessage(`{"city": "Lisbon", "days": "three"}`)},
		"bad enum":     {ID: "4", Name: "get_weather", Input: json.RawMessage(`{"city": "Lisbon", "days": 1, "units": "kelvin"}`)},
		"name differs": {ID: "5", Name: "other", Input: json.RawMessage(`{"city": "Lisbon", "days": 1}`)},
	}
	for name, block := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tl.FromCall(block)
			var de *llm.ArgumentDecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, block.ID, de.ToolCallID)
		})
	}
}

func TestInvoke_PropagatesUserError(t *testing.T) {
	boom := errors.New("boom")
	tl := MustFunc("fail", "always fails", func(ctx context.Context, args struct{}) (any, error) {
		return nil, boom
	})

	call, err := tl.FromCall(llm.ToolUseBlock{ID: "x", Name: "fail"})
	require.NoError(t, err)

	_, err = call.Invoke(context.Background())
	assert.Same(t, boom, err)
}

func TestFromType(t *testing.T) {
	tl, err := FromType[FormatBook]()
	require.NoError(t, err)
	assert.Equal(t, "FormatBook", tl.Name())
	assert.Equal(t, "Format a book recommendation.", tl.Description())

	call, err := tl.FromCall(llm.ToolUseBlock{
		ID:    "t1",
		Name:  "FormatBook",
		Input: json.RawMessage(`{"title":"Dune","author":"Herbert"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, FormatBook{Title: "Dune", Author: "Herbert"}, call.Args)

	out, err := call.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Dune by Herbert", out)
}

func TestModel_NotInvocable(t *testing.T) {
	tl, err := Model[weatherReport]()
	require.NoError(t, err)
	assert.Equal(t, "weatherReport", tl.Name())

	call, err := tl.FromCall(llm.ToolUseBlock{Name: "weatherReport", Input: json.RawMessage(`{"summary":"ok"}`)})
	require.NoError(t, err)
	_, err = call.Invoke(context.Background())
	assert.ErrorIs(t, err, ErrNotInvocable)
}

func TestFromSchema(t *testing.T) {
	var got json.RawMessage
	tl := FromSchema("echo", "Echo input", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		got = args
		return "ok", nil
	})

	_, err := tl.FromCall(llm.ToolUseBlock{Name: "echo", Input: json.RawMessage(`{}`)})
	assert.True(t, llm.IsArgumentDecodeError(err))

	call, err := tl.FromCall(llm.ToolUseBlock{Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi"}, call.Args)

	_, err = call.Invoke(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(got))
}

func TestFromSchema_LargeIntegersPreserved(t *testing.T) {
	var got json.RawMessage
	tl := FromSchema("lookup", "Look up a record", map[string]any{
		"type":       "object",
		"properties": map[string]any{"id": map[string]any{"type": "integer"}},
		"required":   []any{"id"},
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		got = args
		return nil, nil
	})

	call, err := tl.FromCall(llm.ToolUseBlock{ID: "c1", Name: "lookup", Input: json.RawMessage(`{"id":9007199254740993}`)})
	require.NoError(t, err)
	args := call.Args.(map[string]any)
	assert.Equal(t, json.Number("9007199254740993"), args["id"])

	_, err = call.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(got))
}

func TestDecodeArgs(t *testing.T) {
	args, err := DecodeArgs(json.RawMessage(`{"n":12345678901234567890,"s":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), args["n"])
	assert.Equal(t, "x", args["s"])

	_, err = DecodeArgs(json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestResult(t *testing.T) {
	call := &Call{ID: "c1", Name: "get_weather"}

	r := call.Result(weatherReport{Summary: "sunny"}, nil)
	assert.Equal(t, "c1", r.ID)
	assert.JSONEq(t, `{"summary":"sunny"}`, r.Content)
	assert.False(t, r.IsError)

	r = call.Result("plain", nil)
	assert.Equal(t, "plain", r.Content)

	r = call.Result(nil, errors.New("nope"))
	assert.True(t, r.IsError)
	assert.Equal(t, "nope", r.Content)
}
