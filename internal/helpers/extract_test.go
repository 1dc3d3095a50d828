package helpers

import "testing"

func TestExtractJSONBare(t *testing.T) {
	out, err := ExtractJSON(`{"queries":[{"query":"a"}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"queries":[{"query":"a"}]}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	in := "Here is the result:\n```json\n{\"learnings\": [\"x\"]}\n```\nDone."
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"learnings": ["x"]}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	in := `Sure! The answer is {"a": {"b": [1, 2]}, "c": "br{ace"} as requested.`
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"a": {"b": [1, 2]}, "c": "br{ace"}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONIgnoresBracesInStrings(t *testing.T) {
	in := `{"text": "open { never closed"}`
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	if _, err := ExtractJSON("no structured data here"); err == nil {
		t.Fatalf("expected error for input without JSON")
	}
}

func TestTrimBOM(t *testing.T) {
	if got := TrimBOM("\uFEFF{}"); got != "{}" {
		t.Fatalf("BOM not trimmed: %q", got)
	}
	if got := TrimBOM("{}"); got != "{}" {
		t.Fatalf("unexpected change: %q", got)
	}
}
