package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewOllamaClient(server.URL, "llama3.2")
	require.NoError(t, err)
	return client
}

var bookTool = llm.ToolSpec{
	Name: "Book",
	Schema: llm.ToolSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"title": map[string]interface{}{"type": "string", "description": "Book title"},
			"pages": map[string]interface{}{"type": "integer"},
		},
		Required: []string{"title"},
	},
}

func TestSynchronous_CoercesQuotedNumbers(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		fmt.Fprint(w, `{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"Book","arguments":{"title":"Dune","pages":"412"}}}]},"done":true,"done_reason":"stop","prompt_eval_count":9,"eval_count":4}`)
	})

	resp, err := client.Synchronous(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "a sci-fi book")},
		Tools:    []llm.ToolSpec{bookTool},
	})
	require.NoError(t, err)

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	params := tools[0].(map[string]any)["function"].(map[string]any)["parameters"].(map[string]any)
	title := params["properties"].(map[string]any)["title"].(map[string]any)
	assert.Equal(t, "Book title", title["description"])

	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.True(t, strings.HasPrefix(uses[0].ID, "call_"))
	assert.JSONEq(t, `{"title":"Dune","pages":412}`, string(uses[0].Input))
	assert.Equal(t, int64(9), resp.Usage.InputTokens)
	assert.Equal(t, int64(4), resp.Usage.OutputTokens)
	assert.Equal(t, "stop", resp.StopReason)
}

func TestSynchronous_JSONMode(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		fmt.Fprint(w, `{"model":"llama3.2","message":{"role":"assistant","content":"{}"},"done":true}`)
	})

	_, err := client.Synchronous(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "json")},
		Tools:    []llm.ToolSpec{bookTool},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "json", body["format"])
	assert.NotContains(t, body, "tools")
}

func TestStream_DeliversChunksInOrder(t *testing.T) {
	lines := []string{
		`{"model":"llama3.2","message":{"role":"assistant","content":"Once "},"done":false}`,
		`{"model":"llama3.2","message":{"role":"assistant","content":"upon"},"done":false}`,
		`{"model":"llama3.2","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"Book","arguments":{"title":"Dune"}}}]},"done":false}`,
		`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":5}`,
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	})

	stream, err := client.Stream(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "story")},
		Tools:    []llm.ToolSpec{bookTool},
	})
	require.NoError(t, err)
	defer stream.Close()

	var text strings.Builder
	var toolInput string
	var last *llm.StreamEvent
	for stream.Next() {
		ev := stream.Event()
		last = ev
		if ev.Delta == nil {
			continue
		}
		switch ev.Delta.Type {
		case llm.StreamDeltaTypeText:
			text.WriteString(ev.Delta.Text)
		case llm.StreamDeltaTypeToolInput:
			toolInput += ev.Delta.ToolInput
			require.NotNil(t, ev.Delta.ToolCallIndex)
			assert.Equal(t, 0, *ev.Delta.ToolCallIndex)
		}
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, "Once upon", text.String())
	assert.JSONEq(t, `{"title":"Dune"}`, toolInput)
	require.NotNil(t, last)
	assert.True(t, last.Done)
	assert.Equal(t, int64(5), last.Usage.OutputTokens)
}

func TestStream_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"nope\" not found"}`)
	})

	stream, err := client.Stream(context.Background(), &llm.Request{
		Model:    "nope",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
	})
	require.NoError(t, err)
	defer stream.Close()

	for stream.Next() {
	}
	require.Error(t, stream.Err())
	assert.True(t, llm.IsTransportError(stream.Err()))
}

func TestCoerceArguments(t *testing.T) {
	schema := llm.ToolSchema{Properties: map[string]interface{}{
		"n":    map[string]interface{}{"type": "integer"},
		"x":    map[string]interface{}{"type": "number"},
		"flag": map[string]interface{}{"type": "boolean"},
		"bad":  map[string]interface{}{"type": "integer"},
	}}
	got := coerceArguments(map[string]interface{}{
		"n":     "7",
		"x":     "2.5",
		"flag":  "yes",
		"bad":   "seven",
		"extra": "kept",
	}, schema)

	assert.Equal(t, int64(7), got["n"])
	assert.Equal(t, 2.5, got["x"])
	assert.Equal(t, true, got["flag"])
	assert.Equal(t, "seven", got["bad"])
	assert.Equal(t, "kept", got["extra"])
}
