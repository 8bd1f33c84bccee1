package main

import (
	"fmt"
	"strings"

	"github.com/ashureev/sidekick/internal/notify"
	"github.com/spf13/cobra"
)

func notifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify [text]",
		Short: "Send a push notification to the configured ntfy topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := notify.New(cfg.Notify.Server, cfg.Notify.Topic, nil)
			if err := client.Send(cmd.Context(), strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "success")
			return nil
		},
	}
}
