package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/tools"
)

func newToolkit(t *testing.T) *Toolkit {
	t.Helper()
	k, err := Open(filepath.Join(t.TempDir(), "sandbox"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func TestWriteReadAppend(t *testing.T) {
	t.Parallel()
	k := newToolkit(t)

	out, err := k.WriteFile("notes/today.md", "hello", false)
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if out != "File written successfully to notes/today.md." {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := k.WriteFile("notes/today.md", " world", true); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := k.ReadFile("notes/today.md")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}

	if _, err := k.ReadFile("missing.txt"); err == nil || err.Error() != "no such file or directory: missing.txt" {
		t.Fatalf("unexpected missing file error %v", err)
	}
}

func TestPathEscapesAreDenied(t *testing.T) {
	t.Parallel()
	k := newToolkit(t)

	for _, p := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		_, err := k.ReadFile(p)
		if err == nil || !strings.HasPrefix(err.Error(), "Access denied to file_path: "+p) {
			t.Errorf("ReadFile(%q) error = %v, want access denied", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(k.Dir()), "outside.txt")); !os.IsNotExist(err) {
		t.Fatal("write escaped the sandbox")
	}
}

func TestListCopyMoveDelete(t *testing.T) {
	t.Parallel()
	k := newToolkit(t)

	if out, _ := k.ListDirectory("."); out != "No files found in directory ." {
		t.Fatalf("unexpected empty listing %q", out)
	}

	if _, err := k.WriteFile("b.txt", "B", false); err != nil {
		t.Fatal(err)
	}
	if out, err := k.CopyFile("b.txt", "copies/a.txt"); err != nil || out != "File copied successfully from b.txt to copies/a.txt." {
		t.Fatalf("CopyFile = %q, %v", out, err)
	}
	if out, err := k.MoveFile("b.txt", "c.txt"); err != nil || out != "File moved successfully from b.txt to c.txt." {
		t.Fatalf("MoveFile = %q, %v", out, err)
	}

	out, err := k.ListDirectory(".")
	if err != nil {
		t.Fatalf("ListDirectory failed: %v", err)
	}
	if out != "c.txt\ncopies" {
		t.Fatalf("unexpected listing %q", out)
	}

	if out, err := k.DeleteFile("c.txt"); err != nil || out != "File deleted successfully: c.txt." {
		t.Fatalf("DeleteFile = %q, %v", out, err)
	}
	if _, err := k.DeleteFile("c.txt"); err == nil {
		t.Fatal("expected error deleting missing file")
	}
	if _, err := k.MoveFile("ghost.txt", "x.txt"); err == nil || !strings.Contains(err.Error(), "no such file or directory") {
		t.Fatalf("unexpected move error %v", err)
	}
}

func TestSearchFiles(t *testing.T) {
	t.Parallel()
	k := newToolkit(t)

	for _, p := range []string{"report.md", "docs/plan.md", "docs/deep/notes.md", "docs/data.csv"} {
		if _, err := k.WriteFile(p, "x", false); err != nil {
			t.Fatal(err)
		}
	}

	out, err := k.SearchFiles("docs", "*.md")
	if err != nil {
		t.Fatalf("SearchFiles failed: %v", err)
	}
	if out != "deep/notes.md\nplan.md" {
		t.Fatalf("unexpected matches %q", out)
	}

	out, _ = k.SearchFiles(".", "*.pdf")
	if out != "No files found for pattern *.pdf in directory ." {
		t.Fatalf("unexpected empty search output %q", out)
	}
}

func TestToolsThroughRegistry(t *testing.T) {
	t.Parallel()
	k := newToolkit(t)
	reg := tools.NewRegistry(k.Tools()...)

	want := []string{"copy_file", "file_delete", "file_search", "list_directory", "move_file", "read_file", "write_file"}
	if got := reg.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("tool names = %v, want %v", got, want)
	}

	res := reg.Execute(context.Background(), domain.ToolCall{
		ID: "1", Name: "write_file", Arguments: json.RawMessage(`{"file_path":"out.txt","text":"42"}`),
	})
	if res.Output != "File written successfully to out.txt." {
		t.Fatalf("unexpected output %q", res.Output)
	}

	res = reg.Execute(context.Background(), domain.ToolCall{
		ID: "2", Name: "read_file", Arguments: json.RawMessage(`{"file_path":"../secret"}`),
	})
	if !strings.HasPrefix(res.Output, "Error: Access denied to file_path: ../secret.") {
		t.Fatalf("unexpected output %q", res.Output)
	}

	res = reg.Execute(context.Background(), domain.ToolCall{ID: "3", Name: "list_directory"})
	if res.Output != "out.txt" {
		t.Fatalf("unexpected listing %q", res.Output)
	}
}
