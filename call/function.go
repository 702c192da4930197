// Package call turns a prompt template and a provider client into a callable
// prompt function with uniform responses, streams and dynamic configuration.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/aschepis/backscratcher/promptcall/schema"
	"github.com/aschepis/backscratcher/promptcall/tool"
	"github.com/rs/zerolog"
)

const jsonInstruction = "Respond ONLY with a valid JSON object and no other text or formatting."

// Option configures a Function.
type Option func(*Function)

// WithTemplate sets the prompt template. It is parsed by New.
func WithTemplate(source string) Option {
	return func(f *Function) { f.templateSource = source }
}

// WithSystem sets a system prompt sent ahead of the rendered messages.
func WithSystem(system string) Option {
	return func(f *Function) { f.system = system }
}

// WithConfig sets the function that computes per-call overrides.
func WithConfig(fn ConfigFunc) Option {
	return func(f *Function) { f.configFn = fn }
}

// WithTools sets the default tools offered to the model.
func WithTools(tools ...*tool.Tool) Option {
	return func(f *Function) { f.tools = tools }
}

// WithToolChoice controls whether the model must call a tool.
func WithToolChoice(choice llm.ToolChoice) Option {
	return func(f *Function) { f.toolChoice = choice }
}

// WithCallParams sets the default sampling parameters.
func WithCallParams(params llm.CallParams) Option {
	return func(f *Function) { f.params = params }
}

// WithMetadata sets default metadata recorded with every call.
func WithMetadata(metadata map[string]any) Option {
	return func(f *Function) { f.metadata = metadata }
}

// WithJSONMode asks the provider for a JSON object response.
func WithJSONMode() Option {
	return func(f *Function) { f.jsonMode = true }
}

// WithObserver adds an observer. Observers run in the order added.
func WithObserver(o Observer) Option {
	return func(f *Function) { f.observers = append(f.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Function) { f.logger = logger }
}

// WithName names the function in logs, traces and stored records.
func WithName(name string) Option {
	return func(f *Function) { f.name = name }
}

// Function is a prompt bound to a provider and model. It is immutable after
// New and safe for concurrent use.
type Function struct {
	name     string
	client   llm.Client
	provider string
	model    string

	templateSource string
	template       *prompt.Template
	system         string
	configFn       ConfigFunc
	tools          []*tool.Tool
	toolChoice     llm.ToolChoice
	params         llm.CallParams
	metadata       map[string]any
	jsonMode       bool
	observers      []Observer
	logger         zerolog.Logger
}

// New builds a Function. A template is required unless a ConfigFunc
// supplies messages for every call.
func New(client llm.Client, provider, model string, opts ...Option) (*Function, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if model == "" {
		return nil, errors.New("model is required")
	}

	f := &Function{
		name:     "prompt",
		client:   client,
		provider: provider,
		model:    model,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "call").Str("function", f.name).Logger()

	if f.templateSource == "" && f.configFn == nil {
		return nil, errors.New("a template or a config function is required")
	}
	if f.templateSource != "" {
		t, err := prompt.Parse(f.templateSource)
		if err != nil {
			return nil, err
		}
		f.template = t
	}
	if _, err := tool.NewSet(f.tools...); err != nil {
		return nil, err
	}
	return f, nil
}

// Name returns the function name.
func (f *Function) Name() string { return f.name }

// Provider returns the provider name.
func (f *Function) Provider() string { return f.provider }

// Model returns the model name.
func (f *Function) Model() string { return f.model }

// Template returns the parsed template, or nil.
func (f *Function) Template() *prompt.Template { return f.template }

// Invocation is a fully prepared call. Its Request may be adjusted before
// it is sent.
type Invocation struct {
	Name     string
	Provider string
	Model    string
	Template string
	Args     prompt.Args
	Metadata map[string]any
	Tools    *tool.Set
	Request  *llm.Request

	// messages before the JSON instruction was added, and the message
	// count right after it
	instructed    bool
	preJSON       []llm.Message
	instructedLen int
}

// EnableJSONMode switches the request to JSON mode: the provider is asked
// for a JSON object, tools are dropped and an instruction is appended to
// the last user message. When s is non-nil the instruction includes it.
// An instruction added by an earlier call is replaced.
func (inv *Invocation) EnableJSONMode(s *schema.Schema) error {
	inv.Request.JSONMode = true
	inv.Request.Tools = nil
	inv.Request.ToolChoice = llm.ToolChoice{}

	instruction := jsonInstruction
	if s != nil {
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode schema: %w", err)
		}
		instruction = fmt.Sprintf("Extract ONLY a valid JSON object (NOT THE SCHEMA) that adheres to this schema:\n%s\n%s", raw, jsonInstruction)
	}
	inv.dropJSONInstruction()
	inv.preJSON = inv.Request.Messages
	inv.Request.Messages = prompt.AppendToLastUser(inv.Request.Messages, instruction)
	inv.instructedLen = len(inv.Request.Messages)
	inv.instructed = true
	return nil
}

// dropJSONInstruction restores the messages as they were before
// EnableJSONMode, keeping anything appended since.
func (inv *Invocation) dropJSONInstruction() {
	if !inv.instructed || len(inv.Request.Messages) < inv.instructedLen {
		return
	}
	msgs := make([]llm.Message, 0, len(inv.preJSON)+len(inv.Request.Messages)-inv.instructedLen)
	msgs = append(msgs, inv.preJSON...)
	msgs = append(msgs, inv.Request.Messages[inv.instructedLen:]...)
	inv.Request.Messages = msgs
	inv.instructed = false
	inv.preJSON = nil
}

// ForceTool offers only t and requires the model to call it. JSON mode and
// its instruction are removed.
func (inv *Invocation) ForceTool(t *tool.Tool) error {
	set, err := tool.NewSet(t)
	if err != nil {
		return err
	}
	inv.dropJSONInstruction()
	inv.Tools = set
	inv.Request.Tools = set.Specs()
	inv.Request.ToolChoice = llm.ToolChoice{Mode: llm.ToolChoiceTool, Name: t.Name()}
	inv.Request.JSONMode = false
	return nil
}

// Append adds messages to the end of the conversation.
func (inv *Invocation) Append(msgs ...llm.Message) {
	inv.Request.Messages = append(inv.Request.Messages, msgs...)
}

// Prepare resolves dynamic configuration, renders the template and builds
// the provider request. Template and config errors are returned as is.
func (f *Function) Prepare(ctx context.Context, args prompt.Args) (*Invocation, error) {
	settings := Settings{
		CallParams: f.params,
		Metadata:   f.metadata,
		Tools:      f.tools,
		Args:       args,
	}

	var dyn *DynamicConfig
	if f.configFn != nil {
		var err error
		if dyn, err = f.configFn(ctx, args); err != nil {
			return nil, err
		}
	}
	settings, err := MergeDynamicConfig(settings, dyn)
	if err != nil {
		return nil, err
	}

	msgs := settings.Messages
	if msgs == nil {
		if f.template == nil {
			return nil, errors.New("no template and the config function returned no messages")
		}
		if msgs, err = f.template.Format(settings.Args); err != nil {
			return nil, err
		}
	}

	set, err := tool.NewSet(settings.Tools...)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{
		Name:     f.name,
		Provider: f.provider,
		Model:    f.model,
		Template: f.templateSource,
		Args:     settings.Args,
		Metadata: settings.Metadata,
		Tools:    set,
		Request: &llm.Request{
			Model:      f.model,
			Messages:   append([]llm.Message(nil), msgs...),
			System:     f.system,
			Tools:      set.Specs(),
			ToolChoice: f.toolChoice,
			Params:     settings.CallParams,
		},
	}
	if f.jsonMode {
		if err := inv.EnableJSONMode(nil); err != nil {
			return nil, err
		}
	}

	f.logger.Debug().
		Int("messages", len(inv.Request.Messages)).
		Int("tools", len(inv.Request.Tools)).
		Bool("json_mode", inv.Request.JSONMode).
		Msg("Prepared call")
	return inv, nil
}

// Send makes a synchronous call. Provider errors are returned unmodified.
func (f *Function) Send(ctx context.Context, inv *Invocation) (*Response, error) {
	ctx = beforeCall(ctx, f.observers, inv)

	start := time.Now()
	raw, err := f.client.Synchronous(ctx, inv.Request)
	elapsed := time.Since(start)

	var resp *Response
	if err == nil {
		resp = newResponse(inv, raw, elapsed)
		f.logger.Debug().
			Str("model", resp.Model()).
			Int64("input_tokens", resp.InputTokens()).
			Int64("output_tokens", resp.OutputTokens()).
			Dur("elapsed", elapsed).
			Msg("Call completed")
	}

	for _, o := range f.observers {
		o.AfterCall(ctx, inv, resp, err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// SendStream opens a stream. The returned Stream must be closed.
func (f *Function) SendStream(ctx context.Context, inv *Invocation) (*Stream, error) {
	ctx = beforeCall(ctx, f.observers, inv)

	src, err := f.client.Stream(ctx, inv.Request)
	if err != nil {
		for _, o := range f.observers {
			o.AfterStream(ctx, inv, nil, err)
		}
		return nil, err
	}
	return newStream(ctx, inv, src, f.observers, f.logger), nil
}

// Call prepares and sends a synchronous call.
func (f *Function) Call(ctx context.Context, args prompt.Args) (*Response, error) {
	inv, err := f.Prepare(ctx, args)
	if err != nil {
		return nil, err
	}
	return f.Send(ctx, inv)
}

// Stream prepares a call and opens a stream.
func (f *Function) Stream(ctx context.Context, args prompt.Args) (*Stream, error) {
	inv, err := f.Prepare(ctx, args)
	if err != nil {
		return nil, err
	}
	return f.SendStream(ctx, inv)
}
