package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_SingleUserMessage(t *testing.T) {
	msgs, err := Render("Recommend a {genre} book", Args{"genre": "fantasy"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "Recommend a fantasy book", msgs[0].Text())
}

func TestFormat_MatchesManualSubstitution(t *testing.T) {
	cases := []struct {
		template string
		args     Args
	}{
		{"{a}", Args{"a": "x"}},
		{"{a} and {b}", Args{"a": "one", "b": 2}},
		{"Tell me about {topic} in {n} words.", Args{"topic": "Go", "n": 50}},
		{"{a}{a}{a}", Args{"a": "ab"}},
		{"no placeholders at all", Args{}},
	}

	for _, tc := range cases {
		t.Run(tc.template, func(t *testing.T) {
			want := tc.template
			for k, v := range tc.args {
				want = strings.ReplaceAll(want, "{"+k+"}", fmt.Sprint(v))
			}

			msgs, err := Render(tc.template, tc.args)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, want, msgs[0].Text())
		})
	}
}

func TestFormat_MissingArgument(t *testing.T) {
	tmpl := MustParse("Recommend a {genre} book about {topic}")
	_, err := tmpl.Format(Args{"genre": "fantasy"})
	require.Error(t, err)

	var te *llm.TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "topic", te.Placeholder)
	assert.True(t, llm.IsTemplateError(err))
}

func TestFormat_RoleSections(t *testing.T) {
	tmpl := MustParse(`
		SYSTEM: You are a librarian who loves {genre}.
		USER: Recommend a {genre} book.
		ASSISTANT: How about Dune?
		USER: Something shorter.
	`)

	msgs, err := tmpl.Format(Args{"genre": "sci-fi"})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a librarian who loves sci-fi.", msgs[0].Text())
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Equal(t, "Recommend a sci-fi book.", msgs[1].Text())
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, llm.RoleUser, msgs[3].Role)
}

func TestFormat_MultilineSectionDedent(t *testing.T) {
	tmpl := MustParse(`
		SYSTEM:
		You are helpful.
		  Indented line.

		USER: {q}
	`)
	msgs, err := tmpl.Format(Args{"q": "hi"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "You are helpful.\n  Indented line.", msgs[0].Text())
	assert.Equal(t, "hi", msgs[1].Text())
}

func TestFormat_MessagesSplice(t *testing.T) {
	tmpl := MustParse(`
		SYSTEM: Be brief.
		MESSAGES: {history}
		USER: {question}
	`)
	history := []llm.Message{User("first"), Assistant("reply")}

	msgs, err := tmpl.Format(Args{"history": history, "question": "second"})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[1].Text())
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "second", msgs[3].Text())

	assert.Equal(t, []string{"history", "question"}, tmpl.Placeholders())
}

func TestFormat_MessagesWrongType(t *testing.T) {
	tmpl := MustParse("MESSAGES: {history}")
	_, err := tmpl.Format(Args{"history": "not messages"})
	assert.True(t, llm.IsTemplateError(err))
}

func TestParse_MessagesNeedsSinglePlaceholder(t *testing.T) {
	_, err := Parse("MESSAGES: {a} and {b}")
	assert.True(t, llm.IsTemplateError(err))
}

func TestFormat_EscapedBraces(t *testing.T) {
	msgs, err := Render(`Return {{"name": "{name}"}}`, Args{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, `Return {"name": "x"}`, msgs[0].Text())
}

func TestFormat_DottedAccess(t *testing.T) {
	type author struct {
		Name string `json:"name"`
	}
	type book struct {
		Title  string
		Author *author
	}

	args := Args{
		"book": book{Title: "Dune", Author: &author{Name: "Herbert"}},
		"meta": map[string]any{"year": 1965},
	}
	msgs, err := Render("{book.Title} by {book.Author.name} ({meta.year})", args)
	require.NoError(t, err)
	assert.Equal(t, "Dune by Herbert (1965)", msgs[0].Text())

	_, err = Render("{book.Missing}", args)
	var te *llm.TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "book.Missing", te.Placeholder)
}

func TestFormat_ListFormats(t *testing.T) {
	msgs, err := Render("Books:\n{books:list}", Args{"books": []string{"Dune", "Emma"}})
	require.NoError(t, err)
	assert.Equal(t, "Books:\nDune\nEmma", msgs[0].Text())

	msgs, err = Render("{groups:lists}", Args{"groups": [][]string{{"a", "b"}, {"c"}}})
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n\nc", msgs[0].Text())
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{"unclosed {genre", "empty {}", "bad {1abc}", "fmt {x:upper}"} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			assert.True(t, llm.IsTemplateError(err), "got %v", err)
		})
	}
}

func TestFormat_EmptySectionDropped(t *testing.T) {
	msgs, err := Render("SYSTEM: {sys}\nUSER: hello", Args{"sys": ""})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
}

func TestAppendToLastUser(t *testing.T) {
	in := []llm.Message{System("s"), User("question"), Assistant("a")}
	out := AppendToLastUser(in, "Respond only with JSON.")

	assert.Equal(t, "question\n\nRespond only with JSON.", out[1].Text())
	assert.Equal(t, "question", in[1].Text(), "input must not be modified")

	out = AppendToLastUser([]llm.Message{System("s")}, "x")
	require.Len(t, out, 2)
	assert.Equal(t, llm.RoleUser, out[1].Role)
}
