package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/llm/llmtest"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder() (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	return tp, exporter
}

func attrs(span tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func newFunction(t *testing.T, client llm.Client, tp *sdktrace.TracerProvider) *call.Function {
	t.Helper()
	fn, err := call.New(client, llm.ProviderOpenAI, "gpt-4o-mini",
		call.WithName("recommend_book"),
		call.WithTemplate("Recommend a {genre} book"),
		call.WithMetadata(map[string]any{"tags": []string{"demo"}}),
		call.WithObserver(NewObserver(tp)),
	)
	require.NoError(t, err)
	return fn
}

func TestObserver_Call(t *testing.T) {
	tp, exporter := newRecorder()
	client := llmtest.NewClient().Respond(&llm.Response{
		Model:   "gpt-4o-mini",
		Content: []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: "Dune"}},
		Usage:   &llm.Usage{InputTokens: 100, OutputTokens: 20},
		Raw:     map[string]any{"id": "chatcmpl-1"},
	})

	_, err := newFunction(t, client, tp).Call(context.Background(), prompt.Args{"genre": "sci-fi"})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "recommend_book", span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)

	a := attrs(span)
	assert.Equal(t, "gpt-4o-mini", a[AttrModel].AsString())
	assert.Equal(t, "openai", a[AttrProvider].AsString())
	assert.Equal(t, "Recommend a {genre} book", a[AttrPromptTemplate].AsString())
	assert.JSONEq(t, `{"genre":"sci-fi"}`, a[AttrTemplateVariables].AsString())
	assert.Contains(t, a[AttrMessages].AsString(), "Recommend a sci-fi book")
	assert.Equal(t, "Dune", a[AttrOutputContent].AsString())
	assert.Equal(t, int64(100), a[AttrOutputInput].AsInt64())
	assert.Equal(t, int64(20), a[AttrOutputOutput].AsInt64())
	assert.Greater(t, a[AttrOutputCost].AsFloat64(), 0.0)
	assert.JSONEq(t, `{"id":"chatcmpl-1"}`, a[AttrResponseData].AsString())
	assert.Contains(t, a[AttrMetadata].AsString(), "demo")
}

func TestObserver_CallError(t *testing.T) {
	tp, exporter := newRecorder()
	client := llmtest.NewClient().Fail(llm.NewProviderError("down", nil))

	_, err := newFunction(t, client, tp).Call(context.Background(), prompt.Args{"genre": "x"})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestObserver_Stream(t *testing.T) {
	tp, exporter := newRecorder()
	client := llmtest.NewClient().StreamEvents([]*llm.StreamEvent{
		llmtest.Text("Du"),
		llmtest.Text("ne"),
		llmtest.ToolStart("c1", 0, "lookup"),
		llmtest.ToolArgs("", 0, `{"q":1}`),
		llmtest.Stop("gpt-4o-mini", "stop", 10, 2),
	}, nil)

	s, err := newFunction(t, client, tp).Stream(context.Background(), prompt.Args{"genre": "x"})
	require.NoError(t, err)
	assert.Empty(t, exporter.GetSpans(), "span stays open while streaming")
	for s.Next() {
	}
	require.NoError(t, s.Close())

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	a := attrs(spans[0])
	assert.Equal(t, "Dune", a[AttrOutputContent].AsString())
	assert.Equal(t, "finalized", a[AttrStreamState].AsString())
	assert.Contains(t, a[AttrOutputToolCalls].AsString(), "lookup")
	assert.Equal(t, int64(2), a[AttrOutputOutput].AsInt64())
}

func TestObserver_StreamOpenError(t *testing.T) {
	tp, exporter := newRecorder()
	_, err := newFunction(t, llmtest.NewClient(), tp).Stream(context.Background(), prompt.Args{"genre": "x"})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestLogProvider(t *testing.T) {
	var buf bytes.Buffer
	tp := NewLogProvider(zerolog.New(&buf))
	client := llmtest.NewClient().Respond(&llm.Response{Model: "gpt-4o-mini"})

	_, err := newFunction(t, client, tp).Call(context.Background(), prompt.Args{"genre": "x"})
	require.NoError(t, err)
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"span":"recommend_book"`)
	assert.Contains(t, buf.String(), `"promptcall.model":"gpt-4o-mini"`)
}
