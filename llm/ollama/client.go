package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/ollama/ollama/api"
)

// OllamaClient implements the llm.Client interface for Ollama's API.
type OllamaClient struct {
	client *api.Client
	model  string // Default model to use if not specified in request
}

// NewOllamaClient creates a new OllamaClient.
// If host is empty, it will use the default from environment (OLLAMA_HOST or http://localhost:11434).
func NewOllamaClient(host, model string) (*OllamaClient, error) {
	var client *api.Client

	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &OllamaClient{
		client: client,
		model:  model,
	}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	// If host doesn't have a scheme, add http://
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Synchronous implements llm.Client.Synchronous.
func (c *OllamaClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	chatReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var chatResp api.ChatResponse
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, convertOllamaError(err)
	}

	specs := toolSpecsByName(req.Tools)
	content := make([]llm.ContentBlock, 0, 1+len(chatResp.Message.ToolCalls))

	if chatResp.Message.Content != "" {
		content = append(content, llm.ContentBlock{
			Type: llm.ContentBlockTypeText,
			Text: chatResp.Message.Content,
		})
	}

	for _, toolCall := range chatResp.Message.ToolCalls {
		toolUseBlock, err := FromOllamaToolCall(toolCall, specs)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool call: %w", err)
		}
		content = append(content, llm.ContentBlock{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: toolUseBlock,
		})
	}

	return &llm.Response{
		Model:      chatResp.Model,
		Content:    content,
		Usage:      usageOf(chatResp),
		StopReason: stopReasonOf(chatResp),
		Raw:        chatResp,
	}, nil
}

// Stream implements llm.Client.Stream.
func (c *OllamaClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	chatReq, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	return newOllamaStream(ctx, c.client, chatReq, toolSpecsByName(req.Tools)), nil
}

// buildRequest converts a provider-neutral request into a chat request.
func (c *OllamaClient) buildRequest(req *llm.Request, stream bool) (*api.ChatRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	ollamaMsgs, err := ToOllamaMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	// Ollama supports system messages in the messages array
	if req.System != "" {
		systemMsg := api.Message{
			Role:    "system",
			Content: req.System,
		}
		ollamaMsgs = append([]api.Message{systemMsg}, ollamaMsgs...)
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMsgs,
		Stream:   &stream,
		Options:  callOptions(req.Params),
	}

	if req.JSONMode {
		chatReq.Format = json.RawMessage(`"json"`)
	} else if len(req.Tools) > 0 {
		ollamaTools, err := ToOllamaTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		chatReq.Tools = ollamaTools
	}

	return chatReq, nil
}

// callOptions maps sampling parameters onto Ollama runtime options.
func callOptions(params llm.CallParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.MaxTokens != nil && *params.MaxTokens > 0 {
		options["num_predict"] = int(*params.MaxTokens)
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.Seed != nil {
		options["seed"] = int(*params.Seed)
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

func usageOf(resp api.ChatResponse) *llm.Usage {
	return &llm.Usage{
		InputTokens:  int64(resp.PromptEvalCount),
		OutputTokens: int64(resp.EvalCount),
	}
}

func stopReasonOf(resp api.ChatResponse) string {
	if resp.DoneReason != "" {
		return resp.DoneReason
	}
	if resp.Done {
		return "stop"
	}
	return ""
}

// convertOllamaError converts Ollama API errors to llm.Error types.
func convertOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.NewStatusError(statusErr.StatusCode, "Ollama API error", err)
	}
	return &llm.Error{
		Type:        llm.ErrorTypeNetwork,
		Message:     "ollama chat request failed",
		Provider:    llm.ProviderOllama,
		ProviderErr: err,
	}
}
