// Package prompt turns prompt templates into provider-neutral messages.
//
// A template is plain text with {placeholders}. Lines starting with SYSTEM:,
// USER: or ASSISTANT: open a new message with that role; MESSAGES: {name}
// splices a []llm.Message argument into the conversation. A template with no
// role markers produces a single user message. {{ and }} are literal braces.
//
// Placeholders may reach into arguments with dots ({book.title}) and may carry
// a format spec: {items:list} renders one item per line and {groups:lists}
// renders nested lists as blank-line separated blocks.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/samber/lo"
)

// Args maps placeholder names to values.
type Args map[string]any

var sectionMarker = regexp.MustCompile(`(?m)^[ \t]*(SYSTEM|USER|ASSISTANT|MESSAGES)[ \t]*:`)

// Template is a parsed prompt template. It is immutable and safe for concurrent use.
type Template struct {
	source   string
	sections []section
}

type section struct {
	role     llm.MessageRole
	parts    []part
	messages *placeholder // MESSAGES: sections splice a message list
}

type part struct {
	literal     string
	placeholder *placeholder
}

type placeholder struct {
	raw    string
	path   []string
	format string
}

// Parse parses a template. Syntax errors (an unclosed brace, an empty
// placeholder, a MESSAGES: section that is not exactly one placeholder) are
// reported as *llm.TemplateError.
func Parse(source string) (*Template, error) {
	t := &Template{source: source}

	locs := sectionMarker.FindAllStringSubmatchIndex(source, -1)
	if len(locs) == 0 {
		parts, err := parseParts(source, cleandoc(source))
		if err != nil {
			return nil, err
		}
		t.sections = []section{{role: llm.RoleUser, parts: parts}}
		return t, nil
	}

	if lead := cleandoc(source[:locs[0][0]]); lead != "" {
		parts, err := parseParts(source, lead)
		if err != nil {
			return nil, err
		}
		t.sections = append(t.sections, section{role: llm.RoleUser, parts: parts})
	}

	for i, loc := range locs {
		marker := source[loc[2]:loc[3]]
		end := len(source)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := cleandoc(source[loc[1]:end])

		if marker == "MESSAGES" {
			ph, err := parseMessagesSection(source, body)
			if err != nil {
				return nil, err
			}
			t.sections = append(t.sections, section{messages: ph})
			continue
		}

		parts, err := parseParts(source, body)
		if err != nil {
			return nil, err
		}
		t.sections = append(t.sections, section{role: roleOf(marker), parts: parts})
	}
	return t, nil
}

// MustParse is like Parse but panics on error. It is meant for templates
// declared as package-level variables.
func MustParse(source string) *Template {
	t, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the template text as written.
func (t *Template) Source() string {
	return t.source
}

// Placeholders returns the distinct top-level argument names the template
// references, in order of first appearance.
func (t *Template) Placeholders() []string {
	var names []string
	for _, s := range t.sections {
		if s.messages != nil {
			names = append(names, s.messages.path[0])
			continue
		}
		for _, p := range s.parts {
			if p.placeholder != nil {
				names = append(names, p.placeholder.path[0])
			}
		}
	}
	return lo.Uniq(names)
}

func roleOf(marker string) llm.MessageRole {
	switch marker {
	case "SYSTEM":
		return llm.RoleSystem
	case "ASSISTANT":
		return llm.RoleAssistant
	default:
		return llm.RoleUser
	}
}

func parseMessagesSection(source, body string) (*placeholder, error) {
	parts, err := parseParts(source, body)
	if err != nil {
		return nil, err
	}
	if len(parts) != 1 || parts[0].placeholder == nil {
		return nil, &llm.TemplateError{
			Placeholder: "MESSAGES",
			Template:    source,
			Err:         fmt.Errorf("MESSAGES: must be followed by exactly one placeholder, got %q", body),
		}
	}
	return parts[0].placeholder, nil
}

// parseParts splits text into literal runs and placeholders.
func parseParts(source, text string) ([]part, error) {
	var parts []part
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, part{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, &llm.TemplateError{
					Placeholder: text[i+1:],
					Template:    source,
					Err:         fmt.Errorf("unclosed placeholder"),
				}
			}
			ph, err := parsePlaceholder(source, text[i+1:i+1+end])
			if err != nil {
				return nil, err
			}
			flush()
			parts = append(parts, part{placeholder: ph})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return parts, nil
}

func parsePlaceholder(source, raw string) (*placeholder, error) {
	expr, format, _ := strings.Cut(strings.TrimSpace(raw), ":")
	path := strings.Split(strings.TrimSpace(expr), ".")
	for _, name := range path {
		if !isIdentifier(name) {
			return nil, &llm.TemplateError{
				Placeholder: raw,
				Template:    source,
				Err:         fmt.Errorf("invalid placeholder name %q", name),
			}
		}
	}
	format = strings.TrimSpace(format)
	switch format {
	case "", "list", "lists":
	default:
		return nil, &llm.TemplateError{
			Placeholder: raw,
			Template:    source,
			Err:         fmt.Errorf("unknown format spec %q", format),
		}
	}
	return &placeholder{raw: raw, path: path, format: format}, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// cleandoc strips leading and trailing blank lines and removes the
// indentation common to the remaining lines after the first.
func cleandoc(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")

	indent := -1
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		if n := len(line) - len(trimmed); indent < 0 || n < indent {
			indent = n
		}
	}

	lines[0] = strings.TrimLeft(lines[0], " \t")
	if indent > 0 {
		for i := 1; i < len(lines); i++ {
			if len(lines[i]) >= indent {
				lines[i] = lines[i][indent:]
			} else {
				lines[i] = strings.TrimLeft(lines[i], " \t")
			}
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
