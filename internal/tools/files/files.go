// Package files provides file management tools confined to a sandbox directory.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashureev/sidekick/internal/tools"
)

// Toolkit exposes file tools rooted at one directory.
type Toolkit struct {
	dir  string
	root *os.Root
}

// Open creates the sandbox directory if needed and roots the toolkit in it.
func Open(dir string) (*Toolkit, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file tool root: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open file tool root: %w", err)
	}
	return &Toolkit{dir: dir, root: root}, nil
}

// Dir returns the sandbox directory.
func (k *Toolkit) Dir() string { return k.dir }

// Close releases the root handle.
func (k *Toolkit) Close() error {
	return k.root.Close()
}

// resolve validates a user supplied path and returns it relative to the root.
func resolve(arg, value string) (string, error) {
	p := strings.TrimSpace(value)
	if p == "" {
		p = "."
	}
	p = filepath.Clean(p)
	if p != "." && !filepath.IsLocal(p) {
		return "", fmt.Errorf("Access denied to %s: %s. Permission granted exclusively to the current working directory", arg, value)
	}
	return p, nil
}

func (k *Toolkit) mkdirAll(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	var current string
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		current = filepath.Join(current, part)
		if err := k.root.Mkdir(current, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

func notFound(err error, p string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no such file or directory: %s", p)
	}
	return err
}

// ReadFile returns the content of a file.
func (k *Toolkit) ReadFile(filePath string) (string, error) {
	p, err := resolve("file_path", filePath)
	if err != nil {
		return "", err
	}
	f, err := k.root.Open(p)
	if err != nil {
		return "", notFound(err, filePath)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes text to a file, creating parent directories.
func (k *Toolkit) WriteFile(filePath, text string, appendMode bool) (string, error) {
	p, err := resolve("file_path", filePath)
	if err != nil {
		return "", err
	}
	if err := k.mkdirAll(filepath.Dir(p)); err != nil {
		return "", err
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := k.root.OpenFile(p, flag, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(f, text); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("File written successfully to %s.", filePath), nil
}

// ListDirectory lists the entries of a directory.
func (k *Toolkit) ListDirectory(dirPath string) (string, error) {
	p, err := resolve("dir_path", dirPath)
	if err != nil {
		return "", err
	}
	f, err := k.root.Open(p)
	if err != nil {
		return "", notFound(err, dirPath)
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No files found in directory %s", dirPath), nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (k *Toolkit) copy(src, dst string) error {
	in, err := k.root.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if err := k.mkdirAll(filepath.Dir(dst)); err != nil {
		return err
	}
	out, err := k.root.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// CopyFile copies a file within the sandbox.
func (k *Toolkit) CopyFile(sourcePath, destinationPath string) (string, error) {
	src, err := resolve("source_path", sourcePath)
	if err != nil {
		return "", err
	}
	dst, err := resolve("destination_path", destinationPath)
	if err != nil {
		return "", err
	}
	if err := k.copy(src, dst); err != nil {
		return "", notFound(err, sourcePath)
	}
	return fmt.Sprintf("File copied successfully from %s to %s.", sourcePath, destinationPath), nil
}

// MoveFile moves a file within the sandbox.
func (k *Toolkit) MoveFile(sourcePath, destinationPath string) (string, error) {
	src, err := resolve("source_path", sourcePath)
	if err != nil {
		return "", err
	}
	dst, err := resolve("destination_path", destinationPath)
	if err != nil {
		return "", err
	}
	if _, err := k.root.Stat(src); err != nil {
		return "", notFound(err, sourcePath)
	}
	if src == dst {
		return fmt.Sprintf("File moved successfully from %s to %s.", sourcePath, destinationPath), nil
	}
	if err := k.copy(src, dst); err != nil {
		return "", err
	}
	if err := k.root.Remove(src); err != nil {
		return "", err
	}
	return fmt.Sprintf("File moved successfully from %s to %s.", sourcePath, destinationPath), nil
}

// DeleteFile removes a file.
func (k *Toolkit) DeleteFile(filePath string) (string, error) {
	p, err := resolve("file_path", filePath)
	if err != nil {
		return "", err
	}
	if p == "." {
		return "", fmt.Errorf("refusing to delete the sandbox root")
	}
	if err := k.root.Remove(p); err != nil {
		return "", notFound(err, filePath)
	}
	return fmt.Sprintf("File deleted successfully: %s.", filePath), nil
}

// SearchFiles finds files whose base name matches a glob pattern, recursively.
func (k *Toolkit) SearchFiles(dirPath, pattern string) (string, error) {
	p, err := resolve("dir_path", dirPath)
	if err != nil {
		return "", err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	base := filepath.ToSlash(p)
	var matches []string
	err = fs.WalkDir(k.root.FS(), base, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := path.Match(pattern, d.Name()); ok {
			rel := name
			if base != "." {
				rel = strings.TrimPrefix(name, base+"/")
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return "", notFound(err, dirPath)
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No files found for pattern %s in directory %s", pattern, dirPath), nil
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n"), nil
}

type filePathArgs struct {
	FilePath string `json:"file_path"`
}

type writeArgs struct {
	FilePath string `json:"file_path"`
	Text     string `json:"text"`
	Append   bool   `json:"append"`
}

type dirArgs struct {
	DirPath string `json:"dir_path"`
}

type transferArgs struct {
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
}

type searchArgs struct {
	DirPath string `json:"dir_path"`
	Pattern string `json:"pattern"`
}

// Tools returns the file tools bound to this toolkit.
func (k *Toolkit) Tools() []tools.Tool {
	return []tools.Tool{
		&tools.Func[filePathArgs]{
			ToolName:        "read_file",
			ToolDescription: "Read file from disk",
			Schema:          tools.Object(map[string]any{"file_path": tools.String("name of file")}, "file_path"),
			Fn: func(_ context.Context, a filePathArgs) (string, error) {
				return k.ReadFile(a.FilePath)
			},
		},
		&tools.Func[writeArgs]{
			ToolName:        "write_file",
			ToolDescription: "Write file to disk",
			Schema: tools.Object(map[string]any{
				"file_path": tools.String("name of file"),
				"text":      tools.String("text to write to file"),
				"append":    tools.Boolean("Whether to append to an existing file."),
			}, "file_path", "text"),
			Fn: func(_ context.Context, a writeArgs) (string, error) {
				return k.WriteFile(a.FilePath, a.Text, a.Append)
			},
		},
		&tools.Func[dirArgs]{
			ToolName:        "list_directory",
			ToolDescription: "List files and directories in a specified folder",
			Schema:          tools.Object(map[string]any{"dir_path": tools.String("Subdirectory to list.")}),
			Fn: func(_ context.Context, a dirArgs) (string, error) {
				return k.ListDirectory(defaultDir(a.DirPath))
			},
		},
		&tools.Func[transferArgs]{
			ToolName:        "copy_file",
			ToolDescription: "Create a copy of a file in a specified location",
			Schema: tools.Object(map[string]any{
				"source_path":      tools.String("Path of the file to copy"),
				"destination_path": tools.String("Path to save the copied file"),
			}, "source_path", "destination_path"),
			Fn: func(_ context.Context, a transferArgs) (string, error) {
				return k.CopyFile(a.SourcePath, a.DestinationPath)
			},
		},
		&tools.Func[transferArgs]{
			ToolName:        "move_file",
			ToolDescription: "Move or rename a file from one location to another",
			Schema: tools.Object(map[string]any{
				"source_path":      tools.String("Path of the file to move"),
				"destination_path": tools.String("New path for the moved file"),
			}, "source_path", "destination_path"),
			Fn: func(_ context.Context, a transferArgs) (string, error) {
				return k.MoveFile(a.SourcePath, a.DestinationPath)
			},
		},
		&tools.Func[filePathArgs]{
			ToolName:        "file_delete",
			ToolDescription: "Delete a file",
			Schema:          tools.Object(map[string]any{"file_path": tools.String("Path of the file to delete")}, "file_path"),
			Fn: func(_ context.Context, a filePathArgs) (string, error) {
				return k.DeleteFile(a.FilePath)
			},
		},
		&tools.Func[searchArgs]{
			ToolName:        "file_search",
			ToolDescription: "Recursively search for files in a subdirectory that match the regex pattern",
			Schema: tools.Object(map[string]any{
				"dir_path": tools.String("Subdirectory to search in."),
				"pattern":  tools.String("Unix shell regex, where * matches everything."),
			}, "pattern"),
			Fn: func(_ context.Context, a searchArgs) (string, error) {
				return k.SearchFiles(defaultDir(a.DirPath), a.Pattern)
			},
		},
	}
}

func defaultDir(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return "."
	}
	return dir
}
