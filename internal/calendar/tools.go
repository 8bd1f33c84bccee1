package calendar

import (
	"context"

	"github.com/ashureev/sidekick/internal/tools"
)

type createArgs struct {
	Summary     string `json:"summary"`
	StartISO    string `json:"start_iso"`
	EndISO      string `json:"end_iso"`
	Description string `json:"description"`
	CalendarID  string `json:"calendar_id"`
	Timezone    string `json:"timezone"`
}

type listArgs struct {
	CalendarID string `json:"calendar_id"`
	MaxResults int    `json:"max_results"`
}

// Tools returns the calendar tools. Calendar failures are reported as the
// tool's text output so the model can relay them.
func (c *Client) Tools() []tools.Tool {
	return []tools.Tool{
		&tools.Func[createArgs]{
			ToolName: "create_calendar_event",
			ToolDescription: "Schedule an event: summary, start_iso (YYYY-MM-DDTHH:MM:SS, no offset), " +
				"end_iso (same format), [description], [calendar_id], [timezone, IANA name]",
			Schema: tools.Object(map[string]any{
				"summary":     tools.String("Event title"),
				"start_iso":   tools.String("Start datetime as YYYY-MM-DDTHH:MM:SS without offset"),
				"end_iso":     tools.String("End datetime as YYYY-MM-DDTHH:MM:SS without offset"),
				"description": tools.String("Event description"),
				"calendar_id": tools.String("Calendar to use; defaults to the configured calendar"),
				"timezone":    tools.String("IANA timezone of the datetimes, e.g. Asia/Kolkata"),
			}, "summary", "start_iso", "end_iso"),
			Fn: func(ctx context.Context, a createArgs) (string, error) {
				out, err := c.CreateEvent(ctx, EventInput{
					Summary:     a.Summary,
					Description: a.Description,
					Start:       a.StartISO,
					End:         a.EndISO,
					Timezone:    a.Timezone,
					CalendarID:  a.CalendarID,
				})
				if err != nil {
					return err.Error(), nil
				}
				return out, nil
			},
		},
		&tools.Func[listArgs]{
			ToolName:        "list_upcoming_events",
			ToolDescription: "List upcoming events on the specified or primary calendar.",
			Schema: tools.Object(map[string]any{
				"calendar_id": tools.String("Calendar to list; defaults to the configured calendar"),
				"max_results": tools.Integer("Maximum number of events, default 5"),
			}),
			Fn: func(ctx context.Context, a listArgs) (string, error) {
				out, err := c.ListUpcoming(ctx, a.CalendarID, a.MaxResults)
				if err != nil {
					return err.Error(), nil
				}
				return out, nil
			},
		},
	}
}
