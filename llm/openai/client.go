package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/aschepis/backscratcher/promptcall/llm"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI API errors don't directly expose retry-after headers
// We'll use a default retry after duration for rate limits
const defaultRetryAfter = 60 * time.Second

const defaultAzureAPIVersion = "2024-06-01"

// OpenAIClient implements the llm.Client interface for OpenAI's API and
// every provider that speaks the same wire protocol.
type OpenAIClient struct {
	client   *openai.Client
	provider string
	model    string // Default model to use if not specified in request
	// streamUsage requests a trailing usage chunk on streams.
	streamUsage bool
}

// NewOpenAIClient creates a new OpenAIClient.
// If apiKey is empty, it will return an error.
// If baseURL is empty, it will use the default OpenAI API endpoint.
// If model is empty, it will use the default from config or request.
func NewOpenAIClient(apiKey, baseURL, model, organization string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	config := openai.DefaultConfig(apiKey)

	// Set custom base URL if provided
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	// Set organization if provided
	if organization != "" {
		config.OrgID = organization
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		provider:    llm.ProviderOpenAI,
		model:       model,
		streamUsage: true,
	}, nil
}

// NewAzureClient creates a client for an Azure OpenAI deployment.
// The request model is used as the deployment name.
func NewAzureClient(apiKey, endpoint, apiVersion, model string) (*OpenAIClient, error) {
	if apiKey == "" || endpoint == "" {
		return nil, fmt.Errorf("azure api key and endpoint are required")
	}

	config := openai.DefaultAzureConfig(apiKey, endpoint)
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}
	config.APIVersion = apiVersion

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		provider:    llm.ProviderAzure,
		model:       model,
		streamUsage: true,
	}, nil
}

// NewCompatibleClient creates a client for an OpenAI-compatible endpoint
// (Groq, Mistral, Cohere, LiteLLM, Vertex). LiteLLM proxies may run without a key.
func NewCompatibleClient(provider, apiKey, baseURL, model string) (*OpenAIClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", provider)
	}
	if apiKey == "" && provider != llm.ProviderLiteLLM {
		return nil, fmt.Errorf("%s: api key is required", provider)
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(config),
		provider: provider,
		model:    model,
		// Mistral and Cohere reject stream_options; they report usage
		// on the final chunk on their own.
		streamUsage: provider != llm.ProviderMistral && provider != llm.ProviderCohere,
	}, nil
}

// Provider returns the provider name this client was built for.
func (c *OpenAIClient) Provider() string {
	return c.provider
}

// Synchronous implements llm.Client.Synchronous.
func (c *OpenAIClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}

	return FromOpenAIResponse(chatResp)
}

// Stream implements llm.Client.Stream.
func (c *OpenAIClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true
	if c.streamUsage {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}

	return newOpenAIStream(stream, chatReq.Model), nil
}

// buildRequest converts a provider-neutral request into a chat completion request.
func (c *OpenAIClient) buildRequest(req *llm.Request) (openai.ChatCompletionRequest, error) {
	if req == nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return openai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}

	openaiMsgs, err := ToOpenAIMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMsgs,
	}

	// OpenAI supports system role in messages
	if req.System != "" {
		systemMsg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		}
		chatReq.Messages = append([]openai.ChatCompletionMessage{systemMsg}, openaiMsgs...)
	}

	if req.JSONMode {
		// JSON mode replaces tool calling entirely.
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	} else if len(req.Tools) > 0 {
		openaiTools, err := ToOpenAITools(req.Tools)
		if err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		chatReq.Tools = openaiTools
		chatReq.ToolChoice = ToOpenAIToolChoice(req.ToolChoice)
	}

	applyCallParams(&chatReq, req.Params)
	return chatReq, nil
}

// applyCallParams copies the set sampling parameters onto chatReq.
func applyCallParams(chatReq *openai.ChatCompletionRequest, params llm.CallParams) {
	if params.MaxTokens != nil && *params.MaxTokens > 0 {
		chatReq.MaxTokens = int(*params.MaxTokens)
	}
	if params.Temperature != nil {
		chatReq.Temperature = nonZero(*params.Temperature)
	}
	if params.TopP != nil {
		chatReq.TopP = nonZero(*params.TopP)
	}
	if params.Seed != nil {
		seed := int(*params.Seed)
		chatReq.Seed = &seed
	}
	if len(params.Stop) > 0 {
		chatReq.Stop = params.Stop
	}
}

// nonZero keeps an explicit zero on the wire. go-openai omits zero-valued
// float fields, which the API treats as its default of 1.
func nonZero(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

// FromOpenAIResponse converts a chat completion into a provider-neutral response.
func FromOpenAIResponse(chatResp openai.ChatCompletionResponse) (*llm.Response, error) {
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	content := make([]llm.ContentBlock, 0, 1+len(choice.Message.ToolCalls))

	if choice.Message.Content != "" {
		content = append(content, llm.ContentBlock{
			Type: llm.ContentBlockTypeText,
			Text: choice.Message.Content,
		})
	}

	for _, toolCall := range choice.Message.ToolCalls {
		content = append(content, llm.ContentBlock{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: FromOpenAIToolCall(toolCall),
		})
	}

	return &llm.Response{
		ID:      chatResp.ID,
		Model:   chatResp.Model,
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  int64(chatResp.Usage.PromptTokens),
			OutputTokens: int64(chatResp.Usage.CompletionTokens),
		},
		StopReason: convertFinishReason(choice.FinishReason),
		Raw:        chatResp,
	}, nil
}

// convertFinishReason maps an OpenAI finish reason to the neutral stop reason.
func convertFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_calls"
	case openai.FinishReasonContentFilter:
		return "content_filter"
	case "":
		return ""
	default:
		return "stop"
	}
}

// convertOpenAIError converts OpenAI API errors to llm.Error types.
func convertOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return llm.NewStatusError(reqErr.HTTPStatusCode, "OpenAI request error", err)
		}
		// Not an OpenAI API error, return as provider error
		return llm.NewProviderError("OpenAI API error", err)
	}

	if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		retryAfter := defaultRetryAfter
		return llm.NewRateLimitError(
			fmt.Sprintf("OpenAI rate limit: %s", apiErr.Message),
			&retryAfter,
			err,
		)
	}
	return llm.NewStatusError(apiErr.HTTPStatusCode, fmt.Sprintf("OpenAI API error: %s", apiErr.Message), err)
}
