package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ashureev/sidekick/internal/tools"
)

const (
	wikiTopK      = 3
	wikiMaxChars  = 4000
	noWikiResult  = "No good Wikipedia Search Result was found"
	wikiUserAgent = "sidekick/1.0 (personal co-worker)"
)

// WikipediaConfig configures the Wikipedia client.
type WikipediaConfig struct {
	Lang string
	// BaseURL overrides https://<lang>.wikipedia.org/w/api.php.
	BaseURL    string
	HTTPClient *http.Client
}

// Wikipedia looks up page summaries through the MediaWiki action API.
type Wikipedia struct {
	endpoint   string
	httpClient *http.Client
}

// NewWikipedia creates a Wikipedia client.
func NewWikipedia(cfg WikipediaConfig) *Wikipedia {
	lang := strings.TrimSpace(cfg.Lang)
	if lang == "" {
		lang = "en"
	}
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = "https://" + lang + ".wikipedia.org/w/api.php"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Wikipedia{endpoint: endpoint, httpClient: httpClient}
}

type wikiResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Index   int    `json:"index"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

// Lookup searches Wikipedia and returns the top page summaries.
func (w *Wikipedia) Lookup(ctx context.Context, query string) (string, error) {
	params := url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"formatversion": {"2"},
		"generator":     {"search"},
		"gsrsearch":     {query},
		"gsrlimit":      {fmt.Sprint(wikiTopK)},
		"prop":          {"extracts"},
		"exintro":       {"1"},
		"explaintext":   {"1"},
		"redirects":     {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build wikipedia request: %w", err)
	}
	req.Header.Set("User-Agent", wikiUserAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("wikipedia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("wikipedia returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded wikiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode wikipedia response: %w", err)
	}

	pages := decoded.Query.Pages
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	var summaries []string
	for _, p := range pages {
		if p.Missing || strings.TrimSpace(p.Extract) == "" {
			continue
		}
		summaries = append(summaries, fmt.Sprintf("Page: %s\nSummary: %s", p.Title, strings.TrimSpace(p.Extract)))
	}
	if len(summaries) == 0 {
		return noWikiResult, nil
	}

	out := strings.Join(summaries, "\n\n")
	if r := []rune(out); len(r) > wikiMaxChars {
		out = string(r[:wikiMaxChars])
	}
	return out, nil
}

// Tool exposes Lookup as the "wikipedia" tool.
func (w *Wikipedia) Tool() tools.Tool {
	return &tools.Func[queryArgs]{
		ToolName: "wikipedia",
		ToolDescription: "A wrapper around Wikipedia. Useful for when you need to answer general questions about " +
			"people, places, companies, facts, historical events, or other subjects. Input should be a search query.",
		Schema: tools.Object(map[string]any{"query": tools.String("query to look up on wikipedia")}, "query"),
		Fn: func(ctx context.Context, a queryArgs) (string, error) {
			return w.Lookup(ctx, a.Query)
		},
	}
}
