package call

import (
	"context"
	"fmt"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/aschepis/backscratcher/promptcall/tool"
	"github.com/samber/lo"
)

// DynamicConfig is what a ConfigFunc may return to override a function's
// defaults for a single call. Nil fields leave the defaults in place.
type DynamicConfig struct {
	// Messages replaces the rendered template entirely.
	Messages []llm.Message
	// CallParams are merged field by field over the defaults.
	CallParams *llm.CallParams
	// Metadata is merged key by key over the defaults.
	Metadata map[string]any
	// Tools replaces the default tools.
	Tools []*tool.Tool
	// ComputedFields add or override template arguments for this call.
	ComputedFields prompt.Args
}

// ConfigFunc computes the dynamic configuration of a call from its arguments.
type ConfigFunc func(ctx context.Context, args prompt.Args) (*DynamicConfig, error)

// Settings is the effective configuration of one call after merging.
type Settings struct {
	Messages   []llm.Message
	CallParams llm.CallParams
	Metadata   map[string]any
	Tools      []*tool.Tool
	Args       prompt.Args
}

// MergeDynamicConfig overlays dyn on base. Messages and tools replace
// wholesale; call params, metadata and arguments merge with dyn taking
// precedence. base is not modified.
func MergeDynamicConfig(base Settings, dyn *DynamicConfig) (Settings, error) {
	out := Settings{
		Messages:   base.Messages,
		CallParams: base.CallParams,
		Metadata:   lo.Assign(map[string]any{}, base.Metadata),
		Tools:      base.Tools,
		Args:       lo.Assign(prompt.Args{}, base.Args),
	}
	if base.CallParams.Stop != nil {
		out.CallParams.Stop = append([]string(nil), base.CallParams.Stop...)
	}
	if dyn == nil {
		return out, nil
	}

	if dyn.Messages != nil {
		out.Messages = dyn.Messages
	}
	if dyn.CallParams != nil {
		if err := mergo.Merge(&out.CallParams, *dyn.CallParams, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return Settings{}, fmt.Errorf("merge call params: %w", err)
		}
	}
	if dyn.Metadata != nil {
		out.Metadata = lo.Assign(out.Metadata, dyn.Metadata)
	}
	if dyn.Tools != nil {
		out.Tools = dyn.Tools
	}
	if dyn.ComputedFields != nil {
		out.Args = lo.Assign(out.Args, dyn.ComputedFields)
	}
	return out, nil
}
