package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletePartialJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{``, ``},
		{`{`, `{}`},
		{`{"title"`, `{}`},
		{`{"title":`, `{}`},
		{`{"title": "Du`, `{"title": "Du"}`},
		{`{"title": "Dune", "pa`, `{"title": "Dune"}`},
		{`{"title": "Dune", "pages": 41`, `{"title": "Dune", "pages": 41}`},
		{`{"pages": 4.`, `{}`},
		{`{"ok": tr`, `{}`},
		{`{"ok": true`, `{"ok": true}`},
		{`{"tags": ["a", "b`, `{"tags": ["a", "b"]}`},
		{`{"tags": ["a",`, `{"tags": ["a"]}`},
		{`{"author": {"first": "F"`, `{"author": {"first": "F"}}`},
		{`{"q": "say \"hi`, `{"q": "say \"hi"}`},
		{`{"q": "trailing \`, `{"q": "trailing "}`},
		{`{"q": "\u00`, `{"q": ""}`},
		{`[1, 2, [3`, `[1, 2, [3]]`},
		{`{"a": 1}`, `{"a": 1}`},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := string(CompletePartialJSON([]byte(tc.in)))
			assert.Equal(t, tc.want, got)
			if got != "" {
				assert.True(t, json.Valid([]byte(got)), "output must be valid JSON: %s", got)
			}
		})
	}
}

func TestCompletePartialJSON_EveryPrefixDecodes(t *testing.T) {
	doc := `{"title": "Dune", "author": {"first": "Frank", "last": "Herbert"}, "tags": ["sf", "classic"], "pages": 412, "read": false}`
	for i := 1; i <= len(doc); i++ {
		got := CompletePartialJSON([]byte(doc[:i]))
		assert.True(t, json.Valid(got), "prefix %q completed to invalid %q", doc[:i], got)
	}
}

func TestCompletePartialJSON_SplitRune(t *testing.T) {
	full := `{"name": "café"}`
	// cut inside the two-byte é
	prefix := full[:len(`{"name": "caf`)+1]
	got := CompletePartialJSON([]byte(prefix))
	assert.Equal(t, `{"name": "caf"}`, string(got))
}
