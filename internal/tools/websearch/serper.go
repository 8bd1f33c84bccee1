// Package websearch provides Google (Serper) and Wikipedia lookup tools.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/tools"
)

const (
	defaultSerperURL = "https://google.serper.dev/search"
	defaultTimeout   = 30 * time.Second
	organicLimit     = 10

	noSerperResult = "No good Google Search Result was found"
)

// ErrNoAPIKey is returned when the search key is missing.
var ErrNoAPIKey = errors.New("SERPER_API_KEY not configured")

// SerperConfig configures the Serper client.
type SerperConfig struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
}

// Serper queries Google through serper.dev.
type Serper struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// NewSerper creates a Serper client.
func NewSerper(cfg SerperConfig) *Serper {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = defaultSerperURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Serper{apiKey: strings.TrimSpace(cfg.APIKey), url: url, httpClient: httpClient}
}

type serperResponse struct {
	AnswerBox *struct {
		Answer             string   `json:"answer"`
		Snippet            string   `json:"snippet"`
		SnippetHighlighted []string `json:"snippetHighlighted"`
	} `json:"answerBox"`
	KnowledgeGraph *struct {
		Title       string            `json:"title"`
		Type        string            `json:"type"`
		Description string            `json:"description"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"knowledgeGraph"`
	Organic []struct {
		Title      string            `json:"title"`
		Link       string            `json:"link"`
		Snippet    string            `json:"snippet"`
		Attributes map[string]string `json:"attributes"`
	} `json:"organic"`
}

// Search runs a query and returns the result snippets joined by spaces.
func (s *Serper) Search(ctx context.Context, query string) (string, error) {
	if s.apiKey == "" {
		return "", ErrNoAPIKey
	}

	payload, err := json.Marshal(map[string]any{"q": query})
	if err != nil {
		return "", fmt.Errorf("encode serper request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build serper request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("serper returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode serper response: %w", err)
	}
	return summarize(decoded), nil
}

func summarize(r serperResponse) string {
	if ab := r.AnswerBox; ab != nil {
		switch {
		case ab.Answer != "":
			return ab.Answer
		case ab.Snippet != "":
			return strings.ReplaceAll(ab.Snippet, "\n", " ")
		case len(ab.SnippetHighlighted) > 0:
			return strings.Join(ab.SnippetHighlighted, " ")
		}
	}

	var snippets []string
	if kg := r.KnowledgeGraph; kg != nil {
		if kg.Type != "" {
			snippets = append(snippets, fmt.Sprintf("%s: %s.", kg.Title, kg.Type))
		}
		if kg.Description != "" {
			snippets = append(snippets, kg.Description)
		}
		for attr, value := range kg.Attributes {
			snippets = append(snippets, fmt.Sprintf("%s %s: %s.", kg.Title, attr, value))
		}
	}

	for i, o := range r.Organic {
		if i >= organicLimit {
			break
		}
		if o.Snippet != "" {
			snippets = append(snippets, o.Snippet)
		}
		for attr, value := range o.Attributes {
			snippets = append(snippets, fmt.Sprintf("%s: %s.", attr, value))
		}
	}

	if len(snippets) == 0 {
		return noSerperResult
	}
	return strings.Join(snippets, " ")
}

type queryArgs struct {
	Query string `json:"query"`
}

// Tool exposes Search as the "search" tool.
func (s *Serper) Tool() tools.Tool {
	return &tools.Func[queryArgs]{
		ToolName:        "search",
		ToolDescription: "Use this tool when you want to get the results of an online web search",
		Schema:          tools.Object(map[string]any{"query": tools.String("search query")}, "query"),
		Fn: func(ctx context.Context, a queryArgs) (string, error) {
			return s.Search(ctx, a.Query)
		},
	}
}
