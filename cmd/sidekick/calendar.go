package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/sidekick/internal/calendar"
	"github.com/spf13/cobra"
)

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Google Calendar helpers",
		Long: `Authorize and use the Google Calendar the agent works with.

Available subcommands:
  auth - Run the OAuth consent flow and write the token file
  list - Show upcoming events
  add  - Create an event`,
	}
	cmd.AddCommand(calendarAuthCmd(), calendarListCmd(), calendarAddCmd())
	return cmd
}

func calendarAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize calendar access and save the token file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return calendar.Authorize(cmd.Context(), cfg.Calendar.CredentialsPath, cfg.Calendar.TokenPath, cmd.OutOrStdout())
		},
	}
}

func calendarListCmd() *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upcoming events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := calendar.New(calendar.Config{
				TokenPath:       cfg.Calendar.TokenPath,
				CalendarID:      cfg.Calendar.CalendarID,
				DefaultTimezone: cfg.Calendar.DefaultTimezone,
			})
			out, err := client.ListUpcoming(cmd.Context(), "", maxResults)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxResults, "max", "n", calendar.DefaultMaxResults, "number of events")
	return cmd
}

func calendarAddCmd() *cobra.Command {
	var form calendar.EventForm
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an event",
		Example: `  sidekick calendar add --title "Dentist" --start 2026-10-20T09:00:00 \
    --end 2026-10-20T10:00:00 --timezone Europe/London`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if form.Timezone == "" {
				_, form.Timezone = calendar.Timezones(cfg.Calendar.DefaultTimezone)
			}
			form.Start = normalizeDateTime(form.Start)
			form.End = normalizeDateTime(form.End)
			if msg := calendar.ValidateEvent(form); msg != "" {
				return errors.New(msg)
			}

			client := calendar.New(calendar.Config{
				TokenPath:       cfg.Calendar.TokenPath,
				CalendarID:      cfg.Calendar.CalendarID,
				DefaultTimezone: cfg.Calendar.DefaultTimezone,
			})
			out, err := client.CreateEvent(cmd.Context(), calendar.EventInput{
				Summary:     form.Summary,
				Description: form.Description,
				Start:       form.Start,
				End:         form.End,
				Timezone:    form.Timezone,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&form.Summary, "title", "", "event title")
	cmd.Flags().StringVar(&form.Start, "start", "", "start, YYYY-MM-DDTHH:MM[:SS] or \"YYYY-MM-DD HH:MM\"")
	cmd.Flags().StringVar(&form.End, "end", "", "end, same format as --start")
	cmd.Flags().StringVar(&form.Description, "description", "", "event description")
	cmd.Flags().StringVar(&form.Timezone, "timezone", "", "IANA timezone (default DEFAULT_TIMEZONE or the local zone)")
	return cmd
}

// normalizeDateTime accepts "date time" or "dateTtime" with optional seconds.
func normalizeDateTime(s string) string {
	date, clock, ok := strings.Cut(strings.TrimSpace(s), "T")
	if !ok {
		date, clock, ok = strings.Cut(strings.TrimSpace(s), " ")
	}
	if !ok {
		return s
	}
	iso, _, _ := calendar.PrepareDateTimes(date, clock, date, clock)
	return iso
}
