package synthesis

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/medscribe/internal/note"
)

var (
	errNoObject    = errors.New("no JSON object in response")
	errInvalidJSON = errors.New("malformed JSON object")
)

// Parse extracts a note from a provider payload. The payload may wrap the
// JSON object in prose or markdown fences; the first top-level object is
// used. Values are read leniently: non-string values keep their raw JSON
// text, nulls count as absent. A valid object without any usable field is
// not an error; it yields empty content.
func Parse(text string) (note.Content, error) {
	obj, err := firstObject(text)
	if err != nil {
		return note.Content{}, &ParseError{Raw: text, Err: err}
	}

	root := gjson.Parse(obj)
	var c note.Content
	for _, f := range note.Fields() {
		v := root.Get(f.ID.String())
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		_ = c.Set(f.ID, strings.TrimSpace(v.String()))
	}
	return c, nil
}

// firstObject returns the first balanced {...} substring of text that is
// valid JSON, falling back to the span from the first '{' to the last '}'.
func firstObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errNoObject
	}
	if end := balancedEnd(text[start:]); end > 0 {
		if candidate := text[start : start+end]; gjson.Valid(candidate) {
			return candidate, nil
		}
	}
	last := strings.LastIndexByte(text, '}')
	if last < start {
		return "", errNoObject
	}
	candidate := text[start : last+1]
	if !gjson.Valid(candidate) || !gjson.Parse(candidate).IsObject() {
		return "", errInvalidJSON
	}
	return candidate, nil
}

// balancedEnd returns the length of the brace-balanced prefix of s, which
// must start with '{', or 0 if the braces never balance. Braces inside JSON
// strings are ignored.
func balancedEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}
