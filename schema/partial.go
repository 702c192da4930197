package schema

import (
	"encoding/json"
	"unicode/utf8"
)

type frame struct {
	kind      byte
	expectKey bool
}

// CompletePartialJSON closes a truncated JSON document so it can be decoded.
// Unterminated string values are closed, open objects and arrays are
// closed, and trailing fragments that cannot be completed (a dangling key,
// a half-written literal, a trailing comma) are dropped. Complete documents
// are returned unchanged. Input that is not a JSON prefix is returned
// truncated at the last point it was still well formed.
func CompletePartialJSON(data []byte) []byte {
	var (
		stack     []frame
		safe      int
		safeStack []frame
	)

	markSafe := func(pos int) {
		safe = pos
		safeStack = append(safeStack[:0], stack...)
	}
	inKey := func() bool {
		return len(stack) > 0 && stack[len(stack)-1].kind == '{' && stack[len(stack)-1].expectKey
	}

	n := len(data)
	for i := 0; i < n; {
		c := data[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '{':
			stack = append(stack, frame{kind: '{', expectKey: true})
			i++
			markSafe(i)
		case c == '[':
			stack = append(stack, frame{kind: '['})
			i++
			markSafe(i)
		case c == '}' || c == ']':
			if len(stack) == 0 {
				return closeAt(data, safe, safeStack)
			}
			stack = stack[:len(stack)-1]
			i++
			markSafe(i)
		case c == ',':
			if len(stack) > 0 && stack[len(stack)-1].kind == '{' {
				stack[len(stack)-1].expectKey = true
			}
			i++
		case c == ':':
			i++
		case c == '"':
			end, closed, cut := scanString(data, i)
			key := inKey()
			if !closed {
				if key {
					return closeAt(data, safe, safeStack)
				}
				out := append([]byte(nil), data[:trimPartialRune(data, i+1, cut)]...)
				out = append(out, '"')
				return appendClosers(out, stack)
			}
			if key {
				stack[len(stack)-1].expectKey = false
			} else {
				markSafe(end)
			}
			i = end
		default:
			j := i
			for j < n && !isDelimiter(data[j]) {
				j++
			}
			if j == n {
				if json.Valid(data[i:j]) {
					markSafe(j)
				}
				return closeAt(data, safe, safeStack)
			}
			markSafe(j)
			i = j
		}
	}
	return closeAt(data, safe, safeStack)
}

// scanString scans the string starting at the quote at start. It returns
// the index after the closing quote and true, or false with the offset
// before any incomplete escape sequence.
func scanString(data []byte, start int) (end int, closed bool, cut int) {
	n := len(data)
	for i := start + 1; i < n; {
		switch data[i] {
		case '\\':
			if i+1 >= n {
				return n, false, i
			}
			if data[i+1] == 'u' {
				if i+6 > n {
					return n, false, i
				}
				i += 6
				continue
			}
			i += 2
		case '"':
			return i + 1, true, 0
		default:
			i++
		}
	}
	return n, false, n
}

// trimPartialRune backs cut off a multi-byte rune that was split mid-sequence.
func trimPartialRune(data []byte, from, cut int) int {
	for k := 0; k < utf8.UTFMax-1 && cut > from; k++ {
		r, size := utf8.DecodeLastRune(data[from:cut])
		if r != utf8.RuneError || size > 1 {
			break
		}
		cut--
	}
	return cut
}

func isDelimiter(c byte) bool {
	switch c {
	case ',', '}', ']', ' ', '\t', '\n', '\r', ':', '"':
		return true
	}
	return false
}

func closeAt(data []byte, pos int, stack []frame) []byte {
	out := append([]byte(nil), data[:pos]...)
	return appendClosers(out, stack)
}

func appendClosers(out []byte, stack []frame) []byte {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].kind == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}
	return out
}
