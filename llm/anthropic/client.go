package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/rs/zerolog"
)

// defaultMaxTokens is sent when the request does not set one; the
// Messages API requires it.
const defaultMaxTokens = 1024

// AnthropicClient implements the llm.Client interface for Anthropic's API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger zerolog.Logger
}

// NewAnthropicClient creates a new AnthropicClient with the given API key.
// baseURL and model are optional.
func NewAnthropicClient(apiKey, baseURL, model string, logger zerolog.Logger, opts ...option.RequestOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	client := anthropic.NewClient(reqOpts...)
	return &AnthropicClient{
		client: &client,
		model:  model,
		logger: logger.With().Str("component", "anthropic").Logger(),
	}, nil
}

// Synchronous implements llm.Client.Synchronous.
func (c *AnthropicClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, convertAnthropicError(err)
	}

	resp := FromMessage(message)
	c.logCacheStats(resp.Usage, "Prompt cache stats")
	return resp, nil
}

// Stream implements llm.Client.Stream.
func (c *AnthropicClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	return newAnthropicStream(stream, c), nil
}

// buildParams converts a provider-neutral request into Messages API params.
func (c *AnthropicClient) buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("model is required")
	}

	// System messages are lifted out of the conversation into system blocks.
	system, conversation := splitSystem(req)

	anthropicMsgs, err := ToMessageParams(conversation)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: req.MaxTokensOr(defaultMaxTokens),
		Messages:  anthropicMsgs,
		System:    buildSystemBlocks(system),
	}

	if !req.JSONMode && len(req.Tools) > 0 {
		params.Tools = ToToolUnionParams(req.Tools)
		params.ToolChoice = ToToolChoiceParam(req.ToolChoice)
	}

	if req.Params.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = anthropic.Float(*req.Params.TopP)
	}
	if len(req.Params.Stop) > 0 {
		params.StopSequences = req.Params.Stop
	}

	return params, nil
}

// logCacheStats logs prompt cache information for tracking efficacy.
func (c *AnthropicClient) logCacheStats(usage *llm.Usage, msg string) {
	if usage == nil || (usage.CacheCreationInputTokens == 0 && usage.CacheReadInputTokens == 0) {
		return
	}
	cacheEfficiency := float64(0)
	if usage.InputTokens > 0 {
		cacheEfficiency = float64(usage.CacheReadInputTokens) / float64(usage.InputTokens) * 100
	}
	c.logger.Debug().
		Int64("input_tokens", usage.InputTokens).
		Int64("cache_creation_tokens", usage.CacheCreationInputTokens).
		Int64("cache_read_tokens", usage.CacheReadInputTokens).
		Float64("cache_efficiency", cacheEfficiency).
		Msg(msg)
}

// splitSystem joins the request system prompt with any system-role messages
// and returns the remaining conversation.
func splitSystem(req *llm.Request) (string, []llm.Message) {
	system := req.System
	conversation := make([]llm.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role != llm.RoleSystem {
			conversation = append(conversation, msg)
			continue
		}
		if system != "" {
			system += "\n\n"
		}
		system += msg.Text()
	}
	return system, conversation
}

// buildSystemBlocks creates system text blocks with prompt caching enabled.
// Placing cache_control on the system block caches the full prefix: tools,
// system, and messages up to and including the block.
func buildSystemBlocks(systemPrompt string) []anthropic.TextBlockParam {
	if systemPrompt == "" {
		return nil
	}
	return []anthropic.TextBlockParam{
		{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
	}
}

// convertAnthropicError converts Anthropic API errors to llm.Error types.
func convertAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.NewStatusError(apiErr.StatusCode, "Anthropic API error", err)
	}
	return llm.NewProviderError("Anthropic API error", err)
}
