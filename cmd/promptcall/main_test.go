package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/llm/llmtest"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/aschepis/backscratcher/promptcall/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs([]string{"genre=fantasy", "count=3", `tags=["a","b"]`, "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "fantasy", args["genre"])
	assert.Equal(t, float64(3), args["count"])
	assert.Equal(t, []any{"a", "b"}, args["tags"])
	assert.Equal(t, "a=b", args["note"])

	_, err = parseArgs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseArgs([]string{"=x"})
	assert.Error(t, err)
}

func TestLoadTemplate(t *testing.T) {
	src, err := loadTemplate("Recommend a {genre} book")
	require.NoError(t, err)
	assert.Equal(t, "Recommend a {genre} book", src)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("SYSTEM: be brief\nUSER: hi"), 0o600))
	src, err = loadTemplate("@" + path)
	require.NoError(t, err)
	assert.Contains(t, src, "SYSTEM:")

	_, err = loadTemplate("@" + filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

type weatherArgs struct {
	City string `json:"city"`
}

func TestCallPrompt_ToolLoop(t *testing.T) {
	weather := tool.MustFunc("weather", "Current weather", func(ctx context.Context, a weatherArgs) (string, error) {
		return "sunny in " + a.City, nil
	})
	client := llmtest.NewClient().
		Respond(&llm.Response{
			Model: "gpt-4o-mini",
			Content: []llm.ContentBlock{{
				Type:    llm.ContentBlockTypeToolUse,
				ToolUse: &llm.ToolUseBlock{ID: "c1", Name: "weather", Input: []byte(`{"city":"Oslo"}`)},
			}},
		}).
		Respond(&llm.Response{
			Model:   "gpt-4o-mini",
			Content: []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: "It is sunny."}},
			Usage:   &llm.Usage{InputTokens: 20, OutputTokens: 4},
		})

	fn, err := call.New(client, llm.ProviderOpenAI, "gpt-4o-mini",
		call.WithTemplate("Weather in {city}?"), call.WithTools(weather))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, callPrompt(context.Background(), fn, prompt.Args{"city": "Oslo"}, 5, &out))

	assert.Contains(t, out.String(), "-> weather")
	assert.Contains(t, out.String(), "It is sunny.")
	assert.Contains(t, out.String(), "20 in, 4 out")

	require.Len(t, client.Requests, 2)
	second := client.Requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "sunny in Oslo", second[2].Content[0].ToolResult.Content)
}

func TestCallPrompt_MaxTurns(t *testing.T) {
	loop := tool.MustFunc("again", "", func(ctx context.Context, a struct{}) (string, error) { return "ok", nil })
	client := llmtest.NewClient()
	for i := 0; i < 2; i++ {
		client.Respond(&llm.Response{Content: []llm.ContentBlock{{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: &llm.ToolUseBlock{ID: "c", Name: "again", Input: []byte(`{}`)},
		}}})
	}
	fn, err := call.New(client, llm.ProviderOpenAI, "gpt-4o-mini", call.WithTemplate("go"), call.WithTools(loop))
	require.NoError(t, err)

	err = callPrompt(context.Background(), fn, prompt.Args{}, 2, &bytes.Buffer{})
	assert.ErrorContains(t, err, "after 2 turns")
}

func TestStreamPrompt(t *testing.T) {
	client := llmtest.NewClient().StreamEvents([]*llm.StreamEvent{
		llmtest.Text("Hello"),
		llmtest.Text(", world"),
		llmtest.Stop("gpt-4o-mini", "stop", 3, 2),
	}, nil)
	fn, err := call.New(client, llm.ProviderOpenAI, "gpt-4o-mini", call.WithTemplate("greet"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, streamPrompt(context.Background(), fn, prompt.Args{}, &out))
	assert.Contains(t, out.String(), "Hello, world\n")
	assert.Contains(t, out.String(), "3 in, 2 out")
}

func TestCostCommand(t *testing.T) {
	var out bytes.Buffer
	costCmd.SetOut(&out)
	require.NoError(t, runCost(costCmd, []string{"openai", "gpt-4o-mini", "1000000", "0"}))
	assert.Regexp(t, `^\$0\.\d+\n$`, out.String())

	out.Reset()
	require.NoError(t, runCost(costCmd, []string{"openai"}))
	assert.Contains(t, out.String(), "gpt-4o-mini")

	assert.Error(t, runCost(costCmd, []string{"openai", "no-such-model"}))
	assert.Error(t, runCost(costCmd, []string{"openai", "gpt-4o-mini", "10"}))
}
