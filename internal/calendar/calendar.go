// Package calendar creates and lists Google Calendar events using an OAuth
// token file.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultMaxResults is the number of upcoming events listed by default.
	DefaultMaxResults = 5

	noUpcomingEvents = "No upcoming events found."
)

// APIError is a failure reported by the Calendar API.
type APIError struct {
	Code int
	Body string
}

func (e *APIError) Error() string {
	return "Calendar API error: " + e.Body
}

// ExceptionError is any other failure while talking to the Calendar API.
type ExceptionError struct {
	Err error
}

func (e *ExceptionError) Error() string {
	return "Calendar API exception: " + e.Err.Error()
}

func (e *ExceptionError) Unwrap() error {
	return e.Err
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := strings.TrimSpace(gerr.Body)
		if body == "" {
			body = gerr.Message
		}
		return &APIError{Code: gerr.Code, Body: body}
	}
	return &ExceptionError{Err: err}
}

// Config configures the calendar client.
type Config struct {
	TokenPath       string
	CalendarID      string
	DefaultTimezone string
	// ClientOptions are appended after the token source (endpoint overrides in tests).
	ClientOptions []option.ClientOption
}

// EventInput describes an event to create. Start and End are naive
// "YYYY-MM-DDTHH:MM:SS" datetimes interpreted in Timezone.
type EventInput struct {
	Summary     string
	Description string
	Start       string
	End         string
	Timezone    string
	CalendarID  string
}

// EventSummary is one listed event.
type EventSummary struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Start    string `json:"start"`
	End      string `json:"end"`
	HTMLLink string `json:"html_link"`
}

// Client wraps the Calendar API. The service is built on first use so a
// missing token file only fails calendar calls.
type Client struct {
	cfg Config

	mu  sync.Mutex
	svc *gcal.Service
}

// New creates a calendar client.
func New(cfg Config) *Client {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	return &Client{cfg: cfg}
}

// CalendarID returns the default calendar.
func (c *Client) CalendarID() string { return c.cfg.CalendarID }

// DefaultTimezone returns the timezone used when a call names none.
func (c *Client) DefaultTimezone() string { return c.cfg.DefaultTimezone }

func (c *Client) service(ctx context.Context) (*gcal.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.svc != nil {
		return c.svc, nil
	}

	// The token source outlives this call, so it must not inherit its deadline.
	ts, err := TokenSource(context.WithoutCancel(ctx), c.cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.cfg.ClientOptions...)
	svc, err := gcal.NewService(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	c.svc = svc
	return svc, nil
}

// CreateEvent inserts an event and returns "Event created: <link>".
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (string, error) {
	calID := in.CalendarID
	if calID == "" {
		calID = c.cfg.CalendarID
	}
	tz := in.Timezone
	if tz == "" {
		tz = c.cfg.DefaultTimezone
	}

	svc, err := c.service(ctx)
	if err != nil {
		return "", classify(err)
	}

	event := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &gcal.EventDateTime{DateTime: in.Start, TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: in.End, TimeZone: tz},
	}
	created, err := svc.Events.Insert(calID, event).Context(ctx).Do()
	if err != nil {
		slog.Warn("Calendar insert failed", "calendar_id", calID, "error", err)
		return "", classify(err)
	}

	slog.Info("Calendar event created", "calendar_id", calID, "event_id", created.Id)
	return "Event created: " + created.HtmlLink, nil
}

// Upcoming lists events starting from now, ordered by start time.
func (c *Client) Upcoming(ctx context.Context, calendarID string, maxResults int) ([]EventSummary, error) {
	if calendarID == "" {
		calendarID = c.cfg.CalendarID
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	svc, err := c.service(ctx)
	if err != nil {
		return nil, classify(err)
	}

	res, err := svc.Events.List(calendarID).
		TimeMin(time.Now().UTC().Format(time.RFC3339)).
		MaxResults(int64(maxResults)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		slog.Warn("Calendar list failed", "calendar_id", calendarID, "error", err)
		return nil, classify(err)
	}

	events := make([]EventSummary, 0, len(res.Items))
	for _, item := range res.Items {
		events = append(events, EventSummary{
			ID:       item.Id,
			Summary:  item.Summary,
			Start:    when(item.Start),
			End:      when(item.End),
			HTMLLink: item.HtmlLink,
		})
	}
	return events, nil
}

// ListUpcoming returns upcoming events as "<start> — <summary>" lines.
func (c *Client) ListUpcoming(ctx context.Context, calendarID string, maxResults int) (string, error) {
	events, err := c.Upcoming(ctx, calendarID, maxResults)
	if err != nil {
		return "", err
	}
	return FormatEvents(events), nil
}

// FormatEvents renders events one per line.
func FormatEvents(events []EventSummary) string {
	if len(events) == 0 {
		return noUpcomingEvents
	}
	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = e.Start + " — " + e.Summary
	}
	return strings.Join(lines, "\n")
}

func when(dt *gcal.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.DateTime != "" {
		return dt.DateTime
	}
	return dt.Date
}
