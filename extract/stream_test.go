package extract

import (
	"context"
	"testing"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/llm/llmtest"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStream_ToolPartials(t *testing.T) {
	client := llmtest.NewClient().StreamEvents([]*llm.StreamEvent{
		llmtest.ToolStart("c1", 0, "Book"),
		llmtest.ToolArgs("", 0, `{"ti`),
		llmtest.ToolArgs("", 0, `tle": "Du`),
		llmtest.ToolArgs("", 0, `ne", "auth`),
		llmtest.ToolArgs("", 0, `or": "Frank`),
		llmtest.ToolArgs("", 0, ` Herbert"}`),
		llmtest.Stop("gpt-4o-mini", "tool_use", 5, 5),
	}, nil)

	ps, err := ExtractStream[Book](context.Background(), newFunction(t, client), prompt.Args{"genre": "x"})
	require.NoError(t, err)
	defer ps.Close()

	_, err = ps.Value()
	assert.ErrorIs(t, err, llm.ErrStreamNotFinalized)

	var titles []string
	for ps.Next() {
		titles = append(titles, ps.Partial().Title)
	}
	assert.Equal(t, []string{"", "Du", "Dune", "Dune", "Dune"}, titles)

	book, err := ps.Value()
	require.NoError(t, err)
	assert.Equal(t, Book{Title: "Dune", Author: "Frank Herbert"}, book)

	resp, err := ps.Response()
	require.NoError(t, err)
	assert.Equal(t, int64(5), resp.OutputTokens())

	req := client.LastRequest()
	assert.Equal(t, llm.ToolChoiceTool, req.ToolChoice.Mode)
}

func TestExtractStream_FinalValidationIsStrict(t *testing.T) {
	client := llmtest.NewClient().StreamEvents([]*llm.StreamEvent{
		llmtest.ToolStart("c1", 0, "Book"),
		llmtest.ToolArgs("", 0, `{"title": "Dune"}`),
		llmtest.Stop("gpt-4o-mini", "tool_use", 1, 1),
	}, nil)

	ps, err := ExtractStream[Book](context.Background(), newFunction(t, client), prompt.Args{"genre": "x"})
	require.NoError(t, err)

	n := 0
	for ps.Next() {
		n++
		assert.Equal(t, "Dune", ps.Partial().Title)
	}
	assert.Equal(t, 1, n, "the partial schema accepts the missing author")

	_, err = ps.Value()
	assert.True(t, llm.IsExtractionError(err))
	assert.Equal(t, err, ps.Err())
}

func TestExtractStream_JSONMode(t *testing.T) {
	var events []*llm.StreamEvent
	for _, piece := range []string{"```json\n", `{"title": `, `"Emma", `, `"author": "Jane Austen"}`, "\n```"} {
		events = append(events, llmtest.Text(piece))
	}
	events = append(events, llmtest.Stop("gpt-4o-mini", "stop", 1, 1))
	client := llmtest.NewClient().StreamEvents(events, nil)

	ps, err := ExtractStream[Book](context.Background(), newFunction(t, client), prompt.Args{"genre": "x"}, WithJSONMode())
	require.NoError(t, err)

	var last Book
	for ps.Next() {
		last = ps.Partial()
	}
	book, err := ps.Value()
	require.NoError(t, err)
	assert.Equal(t, "Jane Austen", book.Author)
	assert.Equal(t, "Jane Austen", last.Author)
	assert.True(t, client.LastRequest().JSONMode)
}

func TestExtractStream_TransportError(t *testing.T) {
	transport := llm.NewProviderError("reset", nil)
	client := llmtest.NewClient().StreamEvents([]*llm.StreamEvent{
		llmtest.ToolStart("c1", 0, "Book"),
		llmtest.ToolArgs("", 0, `{"title": "Du`),
	}, transport)

	ps, err := ExtractStream[Book](context.Background(), newFunction(t, client), prompt.Args{"genre": "x"})
	require.NoError(t, err)
	for ps.Next() {
	}
	_, err = ps.Value()
	assert.Same(t, transport, err)
}
