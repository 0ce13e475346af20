package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	if got := StripTags("<b>Team</b> room"); got != "Team room" {
		t.Errorf("StripTags() = %q", got)
	}
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML chars", "<div>Hello</div>", "&lt;div&gt;Hello&lt;/div&gt;"},
		{"Quotes", `"Hello" 'World'`, "&#34;Hello&#34; &#39;World&#39;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.expected {
				t.Errorf("Escape() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRender(t *testing.T) {
	got := Render("see https://example.com now")
	if !strings.Contains(got, `href="https://example.com"`) {
		t.Errorf("expected link in %q", got)
	}
	if !strings.Contains(got, `target="_blank"`) {
		t.Errorf("expected target=_blank in %q", got)
	}

	got = Render("<script>alert(1)</script>hi")
	if strings.Contains(got, "<script") {
		t.Errorf("script survived rendering: %q", got)
	}
}

func TestValidUsername(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"user123", true},
		{"user_name", true},
		{"ab", false},
		{"abcdefghijklmnopqrstu", false},
		{"user.name", false},
		{"user name", false},
		{"<script>", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ValidUsername(tt.input); got != tt.want {
				t.Errorf("ValidUsername(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidRoomCode(t *testing.T) {
	for code, want := range map[string]bool{
		"1234":  true,
		"0000":  true,
		"123":   false,
		"12345": false,
		"12a4":  false,
		" 123":  false,
	} {
		if got := ValidRoomCode(code); got != want {
			t.Errorf("ValidRoomCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestGenerateRoomCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := GenerateRoomCode()
		if !ValidRoomCode(code) || code[0] == '0' {
			t.Fatalf("bad code %q", code)
		}
	}
}

func TestEmailLocalPart(t *testing.T) {
	if got := EmailLocalPart("alice@example.com"); got != "alice" {
		t.Errorf("EmailLocalPart() = %q", got)
	}
	if got := EmailLocalPart("nobody"); got != "nobody" {
		t.Errorf("EmailLocalPart() = %q", got)
	}
}
