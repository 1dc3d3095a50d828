// Package jsonrepair recovers structured data from noisy LLM output.
//
// Model responses are not guaranteed to be syntactically valid JSON: they
// arrive wrapped in markdown fences, with raw newlines inside string
// literals, stray backslashes, unescaped quotes, or trailing commas. Parse
// attempts a direct decode first and then applies a bounded number of
// progressively more aggressive textual repairs before giving up.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"strings"

	"deepresearch/internal/helpers"
)

// DefaultAttempts is the repair pass budget applied by Parse.
const DefaultAttempts = 2

// ErrMalformed is returned once the repair budget is exhausted. Cause is the
// error from the original (pre-repair) parse attempt.
type ErrMalformed struct {
	Cause error
}

func (e ErrMalformed) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Cause)
}

func (e ErrMalformed) Unwrap() error { return e.Cause }

// Parse decodes text into a generic JSON value, repairing if needed.
func Parse(text string) (interface{}, error) {
	return ParseWithBudget(text, DefaultAttempts)
}

// ParseObject decodes text and asserts the top-level value is an object.
func ParseObject(text string) (map[string]interface{}, error) {
	v, err := ParseWithBudget(text, DefaultAttempts)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrMalformed{Cause: fmt.Errorf("expected JSON object, got %T", v)}
	}
	return obj, nil
}

// ParseWithBudget decodes text, applying at most attempts repair passes.
// Each pass targets a strictly narrower class of malformations than the
// previous one left behind; after the budget the original parse error is
// surfaced so callers see what the model actually produced.
func ParseWithBudget(text string, attempts int) (interface{}, error) {
	candidate := helpers.TrimBOM(strings.TrimSpace(text))

	v, origErr := tryDecode(candidate)
	if origErr == nil {
		return v, nil
	}

	for pass := 1; pass <= attempts; pass++ {
		candidate = repairPass(candidate, pass)
		if v, err := tryDecode(candidate); err == nil {
			return v, nil
		}
	}

	return nil, ErrMalformed{Cause: origErr}
}

func tryDecode(s string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// repairPass applies one round of textual surgery. Pass 1 is conservative
// (fences, control characters, trailing commas); pass 2 rewrites string
// interiors (stray backslashes, unescaped quotes, raw newlines) and patches
// missing outer delimiters.
func repairPass(s string, pass int) string {
	switch pass {
	case 1:
		if inner, err := helpers.ExtractJSON(s); err == nil {
			s = inner
		}
		s = sanitizeControl(s)
		s = dropTrailingCommas(s)
		return s
	default:
		s = escapeStrayBackslashes(s)
		s = escapeInteriorQuotes(s)
		s = sanitizeControl(s)
		s = dropTrailingCommas(s)
		s = wrapDelimiters(s)
		return s
	}
}

// sanitizeControl escapes raw newlines/tabs inside string literals and drops
// every other control character and BOM.
func sanitizeControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if r == '\uFEFF' {
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteRune(r)
			case r == '\\':
				escaped = true
				b.WriteRune(r)
			case r == '"':
				inString = false
				b.WriteRune(r)
			case r == '\n':
				b.WriteString(`\n`)
			case r == '\t':
				b.WriteString(`\t`)
			case r == '\r':
				b.WriteString(`\r`)
			case r < 0x20:
				// drop
			default:
				b.WriteRune(r)
			}
			continue
		}
		switch {
		case r == '"':
			inString = true
			b.WriteRune(r)
		case r == '\n' || r == '\t' || r == '\r' || r >= 0x20:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escapeStrayBackslashes doubles any backslash inside a string literal that
// does not begin a valid JSON escape sequence.
func escapeStrayBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = false
			b.WriteByte(c)
		case '\\':
			if validEscapeAt(s, i+1) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// validEscapeAt reports whether s[i:] begins a valid JSON escape tail.
// \u counts only when followed by four hex digits.
func validEscapeAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	switch s[i] {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		return true
	case 'u':
		if i+4 >= len(s) {
			return false
		}
		for j := i + 1; j <= i+4; j++ {
			if !isHex(s[j]) {
				return false
			}
		}
		return true
	}
	return false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// escapeInteriorQuotes escapes quotes that appear to sit inside a string
// literal rather than close it. A quote inside a string is treated as the
// closing quote only when the next non-space character is structural
// (comma, colon, or a closing bracket). This deliberately runs as a single
// structural-quote-safe pass: re-applying a universal escape rule would
// mangle the JSON's own delimiters.
func escapeInteriorQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			escaped = true
			b.WriteByte(c)
		case '"':
			if quoteCloses(s, i) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// quoteCloses reports whether the quote at index i plausibly terminates the
// current string literal.
func quoteCloses(s string, i int) bool {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true // end of input closes the string
}

// dropTrailingCommas removes commas that directly precede a closing brace or
// bracket, ignoring commas inside string literals.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // skip the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// wrapDelimiters patches a missing outer brace/bracket when the text ends
// (or starts) with one but not the other.
func wrapDelimiters(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	startsOpen := t[0] == '{' || t[0] == '['
	endsClosed := t[len(t)-1] == '}' || t[len(t)-1] == ']'
	if startsOpen && !endsClosed {
		if t[0] == '{' {
			return t + "}"
		}
		return t + "]"
	}
	if !startsOpen && endsClosed {
		if t[len(t)-1] == '}' {
			return "{" + t
		}
		return "[" + t
	}
	return t
}
