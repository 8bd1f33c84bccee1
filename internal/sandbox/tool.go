package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/sidekick/internal/tools"
)

// NoOutput is reported when a snippet prints nothing.
const NoOutput = "(no output; use print() to see results)"

type replArgs struct {
	Code  string `json:"code"`
	Query string `json:"query"`
}

// Tool exposes an Executor as the "python_repl" tool.
func Tool(exec Executor) tools.Tool {
	return &tools.Func[replArgs]{
		ToolName: "python_repl",
		ToolDescription: "A Python shell. Use this to execute python commands. Input should be a valid python command. " +
			"If you want to see the output of a value, you should print it out with `print(...)`.",
		Schema: tools.Object(map[string]any{"code": tools.String("Python source to execute")}, "code"),
		Fn: func(ctx context.Context, a replArgs) (string, error) {
			code := a.Code
			if code == "" {
				code = a.Query
			}
			code = sanitizeInput(code)
			if code == "" {
				return "", errors.New("code is required")
			}
			out, err := exec.Execute(ctx, code)
			if errors.Is(err, ErrTimeout) {
				if out != "" && out != NoOutput {
					return out + "\n" + err.Error(), nil
				}
				return "", err
			}
			return out, err
		},
	}
}

// sanitizeInput strips surrounding whitespace and markdown code fences.
func sanitizeInput(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "```") {
		code = strings.TrimPrefix(code, "```python")
		code = strings.TrimPrefix(code, "```py")
		code = strings.TrimPrefix(code, "```")
		code = strings.TrimSuffix(strings.TrimSpace(code), "```")
	}
	return strings.TrimSpace(code)
}
