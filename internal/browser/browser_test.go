package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in string
		ok bool
	}{
		{"https://example.com/path", true},
		{"http://localhost:8080", true},
		{"file:///etc/passwd", false},
		{"javascript:alert(1)", false},
		{"example.com", false},
		{"https://", false},
	}
	for _, tt := range tests {
		if err := validateURL(tt.in); (err == nil) != tt.ok {
			t.Errorf("validateURL(%q) err=%v, want ok=%v", tt.in, err, tt.ok)
		}
	}
}

func TestResolveLinks(t *testing.T) {
	t.Parallel()

	hrefs := []string{"/about", "#top", "https://other.test/x", "/about", " contact ", "javascript:void(0)", ""}

	relative := resolveLinks("https://site.test/docs/index.html", hrefs, false)
	if diff := cmp.Diff([]string{"/about", "https://other.test/x", "contact"}, relative); diff != "" {
		t.Errorf("relative links mismatch (-want +got):\n%s", diff)
	}

	absolute := resolveLinks("https://site.test/docs/index.html", hrefs, true)
	want := []string{"https://site.test/about", "https://other.test/x", "https://site.test/docs/contact"}
	if diff := cmp.Diff(want, absolute); diff != "" {
		t.Errorf("absolute links mismatch (-want +got):\n%s", diff)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	if got := collapseWhitespace("  Hello\n\n  world\t!  "); got != "Hello world !" {
		t.Fatalf("got %q", got)
	}
}

func TestToolsNames(t *testing.T) {
	t.Parallel()

	var names []string
	for _, tool := range NewManager(Config{}).Tools("u/s") {
		names = append(names, tool.Name())
	}
	want := []string{
		"navigate_browser", "previous_webpage", "current_webpage",
		"extract_text", "extract_hyperlinks", "get_elements", "click_element",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("tool names mismatch (-want +got):\n%s", diff)
	}
}

func TestDisabledManagerNeverLaunches(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{Enabled: false})
	tl := m.Tools("u/s")

	if _, err := tl[2].Call(context.Background(), nil); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := tl[0].Call(context.Background(), json.RawMessage(`{"url":"ftp://x"}`)); err == nil ||
		!strings.Contains(err.Error(), "http") {
		t.Fatalf("expected scheme error before launching, got %v", err)
	}
	if m.PageCount() != 0 {
		t.Fatal("no page should be opened")
	}
	m.ClosePage("u/s")
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
