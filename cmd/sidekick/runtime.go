package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/sidekick/internal/agent"
	"github.com/ashureev/sidekick/internal/browser"
	"github.com/ashureev/sidekick/internal/calendar"
	"github.com/ashureev/sidekick/internal/config"
	"github.com/ashureev/sidekick/internal/llm"
	"github.com/ashureev/sidekick/internal/notify"
	"github.com/ashureev/sidekick/internal/sandbox"
	"github.com/ashureev/sidekick/internal/store"
	"github.com/ashureev/sidekick/internal/tools"
	"github.com/ashureev/sidekick/internal/tools/files"
	"github.com/ashureev/sidekick/internal/tools/websearch"
)

// runtime holds the process-wide dependencies shared by the HTTP server and
// the one-shot CLI.
type runtime struct {
	cfg      *config.Config
	repo     *store.SQLiteStore
	model    llm.ChatModel
	calendar *calendar.Client
	notifier *notify.Client
	files    *files.Toolkit
	browser  *browser.Manager
	runner   *sandbox.DockerRunner
	shared   []tools.Tool
	manager  *agent.Manager
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	rt.repo = repo
	if err := repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	model, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initialize model: %w", err)
	}
	rt.model = model
	slog.Info("Chat model ready", "model", model.Name())

	rt.calendar = calendar.New(calendar.Config{
		TokenPath:       cfg.Calendar.TokenPath,
		CalendarID:      cfg.Calendar.CalendarID,
		DefaultTimezone: cfg.Calendar.DefaultTimezone,
	})
	rt.notifier = notify.New(cfg.Notify.Server, cfg.Notify.Topic, nil)

	if rt.files, err = files.Open(cfg.Files.Root); err != nil {
		return nil, err
	}

	rt.browser = browser.NewManager(browser.Config{
		Enabled:    cfg.Browser.Enabled,
		Headless:   cfg.Browser.Headless,
		ControlURL: cfg.Browser.ControlURL,
	})

	if cfg.CodeRunner.Enabled {
		rt.runner = startRunner(ctx, cfg.CodeRunner)
	}

	var exec sandbox.Executor
	if rt.runner != nil {
		exec = rt.runner
	}
	rt.shared = sharedTools(cfg, rt.files, rt.calendar, rt.notifier, exec)

	roles, err := agent.LoadRoles(cfg.Agent.AgentsFile)
	if err != nil {
		return nil, err
	}
	if n := cfg.Agent.DelegateRounds; n > 0 {
		roles.Researcher.MaxRounds = n
		roles.Coder.MaxRounds = n
	}

	rt.manager, err = agent.NewManager(agent.ManagerConfig{
		Model: model,
		Repo:  repo,
		Tools: rt.toolset,
		Roles: roles,
		Options: agent.Options{
			MaxIterations:  cfg.Agent.MaxIterations,
			RecursionLimit: cfg.Agent.RecursionLimit,
			PlannerEnabled: cfg.Agent.PlannerEnabled,
			EvaluatorModel: cfg.LLM.EvaluatorModel,
		},
		OnRelease: func(userID, sessionID string) {
			rt.browser.ClosePage(browserKey(userID, sessionID))
		},
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

// startRunner connects to Docker. A missing daemon disables python_repl
// instead of failing startup.
func startRunner(ctx context.Context, cfg config.CodeRunnerConfig) *sandbox.DockerRunner {
	runner, err := sandbox.NewDockerRunner(sandbox.Config{
		Image:   cfg.Image,
		Runtime: cfg.Runtime,
		Timeout: cfg.Timeout,
	})
	if err == nil {
		err = runner.Ping(ctx)
	}
	if err != nil {
		slog.Warn("Docker unavailable, python_repl disabled", "error", err)
		if runner != nil {
			_ = runner.Close()
		}
		return nil
	}
	if _, err := runner.Reap(ctx); err != nil {
		slog.Warn("Failed to reap leftover sandbox containers", "error", err)
	}
	return runner
}

// sharedTools returns the tools that are the same for every session.
func sharedTools(cfg *config.Config, fs *files.Toolkit, cal *calendar.Client, n *notify.Client, runner sandbox.Executor) []tools.Tool {
	var out []tools.Tool
	out = append(out, fs.Tools()...)
	out = append(out, websearch.NewWikipedia(websearch.WikipediaConfig{Lang: cfg.Search.WikipediaLang}).Tool())
	if cfg.Search.SerperAPIKey != "" {
		out = append(out, websearch.NewSerper(websearch.SerperConfig{
			APIKey: cfg.Search.SerperAPIKey,
			URL:    cfg.Search.SerperURL,
		}).Tool())
	} else {
		slog.Info("SERPER_API_KEY not set, search tool disabled")
	}
	if n.Configured() {
		out = append(out, n.Tool())
	} else {
		slog.Info("NTFY_TOPIC not set, push notifications disabled")
	}
	out = append(out, cal.Tools()...)
	if runner != nil {
		out = append(out, sandbox.Tool(runner))
	}
	return out
}

func browserKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// toolset builds the tools of one session: the shared set plus a browser
// page of its own.
func (rt *runtime) toolset(userID, sessionID string) []tools.Tool {
	out := append([]tools.Tool(nil), rt.shared...)
	if rt.browser.Enabled() {
		out = append(out, rt.browser.Tools(browserKey(userID, sessionID))...)
	}
	return out
}

// Close releases everything newRuntime opened.
func (rt *runtime) Close() {
	if rt.manager != nil {
		rt.manager.Close()
	}
	var errs []error
	if rt.browser != nil {
		errs = append(errs, rt.browser.Close())
	}
	if rt.runner != nil {
		errs = append(errs, rt.runner.Close())
	}
	if rt.files != nil {
		errs = append(errs, rt.files.Close())
	}
	if rt.repo != nil {
		errs = append(errs, rt.repo.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to release resources", "error", err)
	}
}
