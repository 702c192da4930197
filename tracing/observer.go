// Package tracing records prompt function calls as OpenTelemetry spans.
package tracing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aschepis/backscratcher/promptcall"

// Attribute keys set on call spans.
const (
	AttrModel             = "promptcall.model"
	AttrProvider          = "promptcall.provider"
	AttrPromptTemplate    = "promptcall.prompt_template"
	AttrTemplateVariables = "promptcall.template_variables"
	AttrMessages          = "promptcall.messages"
	AttrCallParams        = "promptcall.call_params"
	AttrMetadata          = "promptcall.metadata"
	AttrOutputContent     = "promptcall.output.content"
	AttrOutputToolCalls   = "promptcall.output.tool_calls"
	AttrOutputCost        = "promptcall.output.cost"
	AttrOutputInput       = "promptcall.output.input_tokens"
	AttrOutputOutput      = "promptcall.output.output_tokens"
	AttrResponseData      = "promptcall.response_data"
	AttrStreamState       = "promptcall.stream.state"
)

// Observer opens a client span for every call and closes it with the
// call's output.
type Observer struct {
	tracer trace.Tracer
}

var _ call.Observer = (*Observer)(nil)

// NewObserver returns an observer that creates spans with tp.
func NewObserver(tp trace.TracerProvider) *Observer {
	return &Observer{tracer: tp.Tracer(instrumentationName)}
}

// BeforeCall starts the span and records the call's inputs.
func (o *Observer) BeforeCall(ctx context.Context, inv *call.Invocation) context.Context {
	ctx, _ = o.tracer.Start(ctx, inv.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(inputAttributes(inv)...),
	)
	return ctx
}

// AfterCall records the response, or the error, and ends the span.
func (o *Observer) AfterCall(ctx context.Context, inv *call.Invocation, resp *call.Response, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if err != nil {
		fail(span, err)
		return
	}
	span.SetAttributes(outputAttributes(resp.Content(), resp.ToolCalls(), resp.Usage())...)
	if c, ok := resp.Cost(); ok {
		span.SetAttributes(attribute.Float64(AttrOutputCost, c))
	}
	if raw := resp.Raw(); raw != nil {
		span.SetAttributes(attribute.String(AttrResponseData, jsonString(raw)))
	}
	span.SetStatus(codes.Ok, "")
}

// AfterStream records the accumulated stream state and ends the span.
func (o *Observer) AfterStream(ctx context.Context, inv *call.Invocation, s *call.Stream, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if s != nil {
		span.SetAttributes(outputAttributes(s.Content(), s.ToolCalls(), s.Usage())...)
		span.SetAttributes(
			attribute.String(AttrModel, s.Model()),
			attribute.String(AttrStreamState, s.State().String()),
		)
		if resp, rerr := s.Response(); rerr == nil {
			if c, ok := resp.Cost(); ok {
				span.SetAttributes(attribute.Float64(AttrOutputCost, c))
			}
		}
	}
	if err != nil {
		fail(span, err)
		return
	}
	span.SetStatus(codes.Ok, "")
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func inputAttributes(inv *call.Invocation) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrModel, inv.Model),
		attribute.String(AttrProvider, inv.Provider),
		attribute.String(AttrPromptTemplate, inv.Template),
		attribute.String(AttrTemplateVariables, jsonString(inv.Args)),
		attribute.String(AttrMessages, jsonString(inv.Request.Messages)),
		attribute.String(AttrCallParams, jsonString(inv.Request.Params)),
	}
	if len(inv.Metadata) > 0 {
		attrs = append(attrs, attribute.String(AttrMetadata, jsonString(inv.Metadata)))
	}
	return attrs
}

func outputAttributes(content string, toolCalls []llm.ToolUseBlock, usage llm.Usage) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrOutputContent, content),
		attribute.Int64(AttrOutputInput, usage.InputTokens),
		attribute.Int64(AttrOutputOutput, usage.OutputTokens),
	}
	if len(toolCalls) > 0 {
		attrs = append(attrs, attribute.String(AttrOutputToolCalls, jsonString(toolCalls)))
	}
	return attrs
}

// jsonString encodes v for a span attribute, falling back to fmt for
// values JSON cannot represent.
func jsonString(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(raw)
}
