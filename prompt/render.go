package prompt

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aschepis/backscratcher/promptcall/llm"
)

// Format renders the template with args. Every referenced placeholder must
// resolve; otherwise Format returns *llm.TemplateError naming it.
// Sections that render to empty text are dropped.
func (t *Template) Format(args Args) ([]llm.Message, error) {
	var msgs []llm.Message
	for _, s := range t.sections {
		if s.messages != nil {
			spliced, err := t.spliceMessages(s.messages, args)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, spliced...)
			continue
		}

		var b strings.Builder
		for _, p := range s.parts {
			if p.placeholder == nil {
				b.WriteString(p.literal)
				continue
			}
			v, err := t.resolve(p.placeholder, args)
			if err != nil {
				return nil, err
			}
			b.WriteString(formatValue(v, p.placeholder.format))
		}

		if text := b.String(); strings.TrimSpace(text) != "" {
			msgs = append(msgs, llm.NewTextMessage(s.role, text))
		}
	}
	return msgs, nil
}

// Render parses and formats source in one step.
func Render(source string, args Args) ([]llm.Message, error) {
	t, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return t.Format(args)
}

func (t *Template) spliceMessages(ph *placeholder, args Args) ([]llm.Message, error) {
	v, err := t.resolve(ph, args)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case []llm.Message:
		return append([]llm.Message(nil), m...), nil
	case llm.Message:
		return []llm.Message{m}, nil
	case nil:
		return nil, nil
	default:
		return nil, &llm.TemplateError{
			Placeholder: ph.raw,
			Template:    t.source,
			Err:         fmt.Errorf("MESSAGES placeholder needs []llm.Message, got %T", v),
		}
	}
}

// resolve walks the placeholder path through maps and struct fields.
func (t *Template) resolve(ph *placeholder, args Args) (any, error) {
	root, ok := args[ph.path[0]]
	if !ok {
		return nil, &llm.TemplateError{Placeholder: ph.raw, Template: t.source}
	}

	cur := root
	for _, name := range ph.path[1:] {
		next, ok := field(cur, name)
		if !ok {
			return nil, &llm.TemplateError{
				Placeholder: ph.raw,
				Template:    t.source,
				Err:         fmt.Errorf("%T has no field or key %q", cur, name),
			}
		}
		cur = next
	}
	return cur, nil
}

// field looks name up as a map key, an exported struct field, or a field
// whose json tag carries that name.
func field(v any, name string) (any, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true

	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if f.Name == name || tag == name {
				return rv.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

func formatValue(v any, format string) string {
	switch format {
	case "list":
		return strings.Join(items(v), "\n")
	case "lists":
		groups := listOf(v)
		rendered := make([]string, len(groups))
		for i, g := range groups {
			rendered[i] = strings.Join(items(g), "\n")
		}
		return strings.Join(rendered, "\n\n")
	default:
		return scalar(v)
	}
}

func items(v any) []string {
	list := listOf(v)
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = scalar(item)
	}
	return out
}

// listOf returns the elements of a slice or array, or v itself as a single element.
func listOf(v any) []any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func scalar(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case llm.Message:
		return s.Text()
	default:
		return fmt.Sprint(v)
	}
}
