package httputil

import (
	"net/http"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid HTTPS", "https://example.com/path", false},
		{"HTTP rejected", "http://example.com/path", true},
		{"javascript scheme rejected", "javascript:alert(1)", true},
		{"data scheme rejected", "data:text/html,<h1>Hi</h1>", true},
		{"empty string", "", true},
		{"no host", "https://", true},
		{"valid with query", "https://example.com/search?q=test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid series ID", "series/frieren-beyond-journeys-end-1234", false},
		{"valid numeric", "12345", false},
		{"empty", "", true},
		{"path traversal dots", "../../etc/passwd", true},
		{"shell injection semicolon", "123; rm -rf /", true},
		{"command substitution", "$(cat /etc/passwd)", true},
		{"newline injection", "123\n456", true},
		{"too long", strings.Repeat("a", 300), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"episode title", "Frieren - Episode 3", "Frieren - Episode 3"},
		{"path traversal", "../../etc/passwd", "____etc_passwd"},
		{"null bytes", "movie\x00.mkv", "movie.mkv"},
		{"windows special chars", "a<>:\"|?*b", "a_______b"},
		{"empty string", "", "untitled"},
		{"just dot", ".", "untitled"},
		{"just dots", "..", "untitled"},
		{"surrounding space", "  Show  ", "Show"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSafeDownloadPath(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"Show - Episode 1.mkv", "../../etc/passwd", "$(whoami).mkv"} {
		path, err := SafeDownloadPath(dir, name)
		if err != nil {
			t.Fatalf("SafeDownloadPath(%q) error: %v", name, err)
		}
		if filepath.Dir(path) != dir {
			t.Errorf("SafeDownloadPath(%q) = %q, escapes %q", name, path, dir)
		}
	}
}

func TestResolveReference(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"https://dl.example.com/e/abc", "/file/1080.mp4", "https://dl.example.com/file/1080.mp4"},
		{"https://dl.example.com/e/abc", "https://cdn.example.com/x.mp4", "https://cdn.example.com/x.mp4"},
		{"https://dl.example.com/e/abc", "  next  ", "https://dl.example.com/e/next"},
	}

	for _, tt := range tests {
		if got := ResolveReference(tt.base, tt.href); got != tt.want {
			t.Errorf("ResolveReference(%q, %q) = %q, want %q", tt.base, tt.href, got, tt.want)
		}
	}
}

func TestIdentity(t *testing.T) {
	id := NewIdentity()
	if id.UserAgent == "" {
		t.Fatal("NewIdentity() returned empty user agent")
	}

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	id.Apply(req)
	if req.Header.Get("User-Agent") != id.UserAgent {
		t.Errorf("User-Agent = %q, want %q", req.Header.Get("User-Agent"), id.UserAgent)
	}

	var empty Identity
	empty.Apply(req)
	if req.Header.Get("User-Agent") == "" {
		t.Error("zero identity should still send a user agent")
	}
}
