package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/sidekick/internal/agent"
	"github.com/ashureev/sidekick/internal/identity"
	"github.com/spf13/cobra"
)

const cliUserID = "anon_00000000000000000000000000000c11"

func askCmd() *cobra.Command {
	var (
		criteria string
		session  string
		reset    bool
	)
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Run one superstep from the terminal",
		Long: `Send one message to Sidekick and print its progress, reply and the
evaluator's feedback. Conversations persist per --session like browser tabs do.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx = identity.WithIdentity(ctx, cliUserID, session)
			sessionID := identity.SessionIDFromContext(ctx)
			if reset {
				if err := rt.manager.ResetSession(ctx, cliUserID, sessionID); err != nil {
					return err
				}
			}
			return ask(ctx, rt.manager, cmd.OutOrStdout(), agent.ChatRequest{
				Message:         strings.Join(args, " "),
				SuccessCriteria: criteria,
				UserID:          cliUserID,
				SessionID:       sessionID,
			})
		},
	}
	cmd.Flags().StringVarP(&criteria, "criteria", "c", "", "success criteria (default: "+agent.DefaultSuccessCriteria+")")
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "conversation to continue")
	cmd.Flags().BoolVar(&reset, "reset", false, "start a fresh conversation first")
	return cmd
}

func ask(ctx context.Context, p agent.Processor, out io.Writer, req agent.ChatRequest) error {
	for ev, err := range p.Chat(ctx, req) {
		if err != nil {
			return err
		}
		switch ev.Type {
		case agent.EventStep:
			fmt.Fprintf(out, "· %s (iteration %d)\n", ev.Node, ev.Iteration)
			for i, task := range ev.Subtasks {
				fmt.Fprintf(out, "    %d. %s\n", i+1, task)
			}
		case agent.EventTool:
			if ev.Content == "" {
				fmt.Fprintf(out, "  → %s\n", ev.Tool)
			}
		case agent.EventDone:
			fmt.Fprintf(out, "\n%s\n\n%s\n", ev.Reply, ev.Feedback)
		}
	}
	return nil
}
