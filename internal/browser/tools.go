package browser

import (
	"context"
	"strings"

	"github.com/ashureev/sidekick/internal/tools"
)

type navigateArgs struct {
	URL string `json:"url"`
}

type linksArgs struct {
	AbsoluteURLs bool `json:"absolute_urls"`
}

type elementsArgs struct {
	Selector   string   `json:"selector"`
	Attributes []string `json:"attributes"`
}

type clickArgs struct {
	Selector string `json:"selector"`
}

// Tools returns the browser tools bound to one session page.
func (m *Manager) Tools(key string) []tools.Tool {
	return []tools.Tool{
		&tools.Func[navigateArgs]{
			ToolName:        "navigate_browser",
			ToolDescription: "Navigate a browser to the specified URL",
			Schema: tools.Object(map[string]any{
				"url": tools.String("url to navigate to"),
			}, "url"),
			Fn: func(ctx context.Context, a navigateArgs) (string, error) {
				return m.Navigate(ctx, key, a.URL)
			},
		},
		&tools.Func[struct{}]{
			ToolName:        "previous_webpage",
			ToolDescription: "Navigate back to the previous page in the browser history",
			Fn: func(ctx context.Context, _ struct{}) (string, error) {
				return m.Back(ctx, key)
			},
		},
		&tools.Func[struct{}]{
			ToolName:        "current_webpage",
			ToolDescription: "Returns the URL of the current page",
			Fn: func(ctx context.Context, _ struct{}) (string, error) {
				return m.CurrentURL(ctx, key)
			},
		},
		&tools.Func[struct{}]{
			ToolName:        "extract_text",
			ToolDescription: "Extract all the text on the current webpage",
			Fn: func(ctx context.Context, _ struct{}) (string, error) {
				return m.Text(ctx, key)
			},
		},
		&tools.Func[linksArgs]{
			ToolName:        "extract_hyperlinks",
			ToolDescription: "Extract all hyperlinks on the current webpage",
			Schema: tools.Object(map[string]any{
				"absolute_urls": tools.Boolean("Return absolute URLs instead of relative URLs"),
			}),
			Fn: func(ctx context.Context, a linksArgs) (string, error) {
				return m.Links(ctx, key, a.AbsoluteURLs)
			},
		},
		&tools.Func[elementsArgs]{
			ToolName:        "get_elements",
			ToolDescription: "Retrieve elements in the current web page matching the given CSS selector",
			Schema: tools.Object(map[string]any{
				"selector": tools.String("CSS selector, such as '*', 'div', 'p', 'a', #id, .classname"),
				"attributes": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Set of attributes to retrieve for each element, default innerText",
				},
			}, "selector"),
			Fn: func(ctx context.Context, a elementsArgs) (string, error) {
				return m.Elements(ctx, key, strings.TrimSpace(a.Selector), a.Attributes)
			},
		},
		&tools.Func[clickArgs]{
			ToolName:        "click_element",
			ToolDescription: "Click on an element with the given CSS selector",
			Schema: tools.Object(map[string]any{
				"selector": tools.String("CSS selector for the element to click"),
			}, "selector"),
			Fn: func(ctx context.Context, a clickArgs) (string, error) {
				return m.Click(ctx, key, a.Selector)
			},
		},
	}
}
