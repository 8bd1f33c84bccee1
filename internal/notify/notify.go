// Package notify sends push notifications through an ntfy server.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/sidekick/internal/tools"
)

// ErrNotConfigured is returned when no topic is set.
var ErrNotConfigured = errors.New("NTFY_TOPIC not configured")

const defaultServer = "https://ntfy.sh"

// Client publishes messages to one ntfy topic.
type Client struct {
	server     string
	topic      string
	httpClient *http.Client
}

// New creates a notification client. An empty topic yields a client whose
// Send reports ErrNotConfigured.
func New(server, topic string, httpClient *http.Client) *Client {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		server = defaultServer
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{server: server, topic: strings.TrimSpace(topic), httpClient: httpClient}
}

// Configured reports whether a topic is set.
func (c *Client) Configured() bool {
	return c.topic != ""
}

// Send posts text to the topic.
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/"+c.topic, strings.NewReader(text))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ntfy returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type pushArgs struct {
	Text string `json:"text"`
}

// Tool exposes Send as "send_push_notification". It reports "success" or
// an "error: ..." string instead of failing the call.
func (c *Client) Tool() tools.Tool {
	return &tools.Func[pushArgs]{
		ToolName:        "send_push_notification",
		ToolDescription: "Use this tool when you want to send a push notification",
		Schema:          tools.Object(map[string]any{"text": tools.String("The message text to send")}, "text"),
		Fn: func(ctx context.Context, a pushArgs) (string, error) {
			if err := c.Send(ctx, a.Text); err != nil {
				return "error: " + err.Error(), nil
			}
			return "success", nil
		},
	}
}
