package sanitizer

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// Plain usernames pass through unchanged apart from surrounding whitespace
func TestProperty_CleanKeepsPlainIdentifiers(t *testing.T) {
	s := NewInputSanitizer()

	rapid.Check(t, func(t *rapid.T) {
		value := rapid.StringMatching(`[a-zA-Z0-9_]{1,50}`).Draw(t, "value")
		padding := rapid.StringMatching(`[ \t\n]{0,4}`).Draw(t, "padding")

		got := s.Clean(padding + value + padding)
		if got != value {
			t.Fatalf("expected %q, got %q", value, got)
		}
	})
}

// No markup survives cleaning
func TestProperty_CleanRemovesMarkup(t *testing.T) {
	s := NewInputSanitizer()

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z0-9 <>"'&/=]{0,40}`).Draw(t, "text")
		tag := rapid.SampledFrom([]string{"b", "script", "img", "a", "div"}).Draw(t, "tag")

		got := s.Clean("<" + tag + ">" + text + "</" + tag + ">")
		if strings.ContainsAny(got, "<>") {
			t.Fatalf("markup survived cleaning: %q", got)
		}
	})
}

func TestClean(t *testing.T) {
	s := NewInputSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"trim", "  alice  ", "alice"},
		{"email", "bob@example.com", "bob@example.com"},
		{"escaped quote", `o\'brien`, "o&#39;brien"},
		{"ampersand", "a&b", "a&amp;b"},
		{"script", "<script>alert(1)</script>carol", "carol"},
		{"bold", "<b>dave</b>", "dave"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripSlashes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`plain`, `plain`},
		{`a\b`, `ab`},
		{`a\\b`, `a\b`},
		{`trailing\`, `trailing`},
		{`\"quoted\"`, `"quoted"`},
	}

	for _, tt := range tests {
		if got := StripSlashes(tt.input); got != tt.want {
			t.Errorf("StripSlashes(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
