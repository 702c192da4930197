package callstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/llm/llmtest"
	"github.com/aschepis/backscratcher/promptcall/prompt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newFunction(t *testing.T, client llm.Client, store *Store) *call.Function {
	t.Helper()
	fn, err := call.New(client, llm.ProviderOpenAI, "gpt-4o-mini",
		call.WithName("recommend_book"),
		call.WithTemplate("Recommend a {genre} book"),
		call.WithObserver(store),
	)
	require.NoError(t, err)
	return fn
}

func TestStore_RecordsCall(t *testing.T) {
	store := setupStore(t)
	client := llmtest.NewClient().Respond(&llm.Response{
		Model: "gpt-4o-mini",
		Content: []llm.ContentBlock{
			{Type: llm.ContentBlockTypeText, Text: "Dune"},
			{Type: llm.ContentBlockTypeToolUse, ToolUse: &llm.ToolUseBlock{ID: "c1", Name: "lookup", Input: json.RawMessage(`{}`)}},
		},
		Usage: &llm.Usage{InputTokens: 1000, OutputTokens: 500},
	})

	_, err := newFunction(t, client, store).Call(context.Background(), prompt.Args{"genre": "sci-fi"})
	require.NoError(t, err)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "recommend_book", rec.Name)
	assert.Equal(t, "openai", rec.Provider)
	assert.Equal(t, "gpt-4o-mini", rec.Model)
	assert.Equal(t, "Recommend a {genre} book", rec.Template)
	assert.JSONEq(t, `{"genre":"sci-fi"}`, rec.Args)
	assert.Equal(t, "Dune", rec.Content)
	assert.Contains(t, rec.ToolCalls, "lookup")
	assert.Equal(t, int64(1000), rec.InputTokens)
	assert.Equal(t, int64(500), rec.OutputTokens)
	require.NotNil(t, rec.Cost)
	assert.Greater(t, *rec.Cost, 0.0)
	assert.False(t, rec.Streamed)
	assert.Empty(t, rec.Error)

	total, err := store.TotalCost(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, *rec.Cost, total, 1e-12)
}

func TestStore_RecordsError(t *testing.T) {
	store := setupStore(t)
	client := llmtest.NewClient().Fail(llm.NewProviderError("upstream down", nil))

	_, err := newFunction(t, client, store).Call(context.Background(), prompt.Args{"genre": "x"})
	require.Error(t, err)

	recs, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Error, "upstream down")
	assert.Nil(t, recs[0].Cost)
}

func TestStore_RecordsStream(t *testing.T) {
	store := setupStore(t)
	client := llmtest.NewClient().StreamEvents([]*llm.StreamEvent{
		llmtest.Text("Du"),
		llmtest.Text("ne"),
		llmtest.Stop("gpt-4o-mini", "stop", 10, 2),
	}, nil)

	s, err := newFunction(t, client, store).Stream(context.Background(), prompt.Args{"genre": "x"})
	require.NoError(t, err)
	for s.Next() {
	}
	require.NoError(t, s.Close())

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Streamed)
	assert.Equal(t, "Dune", recs[0].Content)
	assert.Equal(t, int64(2), recs[0].OutputTokens)
}

func TestStore_RecentOrderAndLimit(t *testing.T) {
	store := setupStore(t)
	base := time.Unix(1700000000, 0)
	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.Insert(context.Background(), &Record{
			Name:      name,
			Provider:  "openai",
			Model:     "gpt-4o",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recs, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].Name)
	assert.Equal(t, "b", recs[1].Name)
	assert.True(t, recs[0].CreatedAt.Equal(base.Add(2*time.Second)))

	total, err := store.TotalCost(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}
