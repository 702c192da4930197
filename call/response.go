package call

import (
	"sync"
	"time"

	"github.com/aschepis/backscratcher/promptcall/cost"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/aschepis/backscratcher/promptcall/tool"
)

// Response is a read-only view of a completed call.
type Response struct {
	inv     *Invocation
	raw     *llm.Response
	elapsed time.Duration

	// snapshot of what was sent; the invocation may be extended afterwards
	system   string
	messages []llm.Message
	params   llm.CallParams
	toolSet  *tool.Set

	toolsOnce sync.Once
	tools     []*tool.Call
	toolsErr  error
}

func newResponse(inv *Invocation, raw *llm.Response, elapsed time.Duration) *Response {
	if raw == nil {
		raw = &llm.Response{}
	}
	return &Response{
		inv:      inv,
		raw:      raw,
		elapsed:  elapsed,
		system:   inv.Request.System,
		messages: inv.Request.Messages[:len(inv.Request.Messages):len(inv.Request.Messages)],
		params:   inv.Request.Params,
		toolSet:  inv.Tools,
	}
}

// Invocation returns the prepared call this response answers.
func (r *Response) Invocation() *Invocation { return r.inv }

// ID returns the provider's response id.
func (r *Response) ID() string { return r.raw.ID }

// Content returns the concatenated text of the response.
func (r *Response) Content() string { return r.raw.Text() }

// ToolCalls returns the raw tool calls in the order the model made them.
func (r *Response) ToolCalls() []llm.ToolUseBlock { return r.raw.ToolUses() }

// Tools decodes the tool calls against the invocation's tools. The result
// is computed once and cached.
func (r *Response) Tools() ([]*tool.Call, error) {
	r.toolsOnce.Do(func() {
		r.tools, r.toolsErr = r.toolSet.DecodeAll(r.ToolCalls())
	})
	return r.tools, r.toolsErr
}

// Tool returns the first decoded tool call, or nil when the model made none.
func (r *Response) Tool() (*tool.Call, error) {
	calls, err := r.Tools()
	if err != nil || len(calls) == 0 {
		return nil, err
	}
	return calls[0], nil
}

// Model returns the model that answered, falling back to the requested one.
func (r *Response) Model() string {
	if r.raw.Model != "" {
		return r.raw.Model
	}
	return r.inv.Model
}

// Provider returns the provider name.
func (r *Response) Provider() string { return r.inv.Provider }

// Usage returns token usage; zero when the provider reported none.
func (r *Response) Usage() llm.Usage {
	if r.raw.Usage == nil {
		return llm.Usage{}
	}
	return *r.raw.Usage
}

// InputTokens returns the prompt token count.
func (r *Response) InputTokens() int64 { return r.Usage().InputTokens }

// OutputTokens returns the completion token count.
func (r *Response) OutputTokens() int64 { return r.Usage().OutputTokens }

// Cost returns the USD cost of the call. It reports false when usage is
// missing or the model is not priced.
func (r *Response) Cost() (float64, bool) {
	if r.raw.Usage == nil {
		return 0, false
	}
	return cost.Calculate(r.inv.Provider, r.Model(), r.InputTokens(), r.OutputTokens())
}

// Elapsed returns the wall time of the provider call.
func (r *Response) Elapsed() time.Duration { return r.elapsed }

// Raw returns the provider SDK response.
func (r *Response) Raw() any { return r.raw.Raw }

// StopReason returns the provider's finish reason.
func (r *Response) StopReason() string { return r.raw.StopReason }

// Message returns the assistant message to append to the conversation.
func (r *Response) Message() llm.Message {
	return llm.Message{
		Role:    llm.RoleAssistant,
		Content: append([]llm.ContentBlock(nil), r.raw.Content...),
	}
}

// Messages returns the messages that were sent, with the system prompt first
// when one was set.
func (r *Response) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(r.messages)+1)
	if r.system != "" {
		msgs = append(msgs, prompt.System(r.system))
	}
	return append(msgs, r.messages...)
}

// History returns the sent messages followed by the assistant reply.
func (r *Response) History() []llm.Message {
	return append(r.Messages(), r.Message())
}

// Template returns the template source.
func (r *Response) Template() string { return r.inv.Template }

// Args returns the template arguments, including computed fields.
func (r *Response) Args() prompt.Args { return r.inv.Args }

// Metadata returns the merged metadata.
func (r *Response) Metadata() map[string]any { return r.inv.Metadata }

// CallParams returns the sampling parameters that were sent.
func (r *Response) CallParams() llm.CallParams { return r.params }
