package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	cfg, err := Load()
	if err == nil {
		t.Fatalf("expected empty LLM_PROVIDER to be rejected, got %+v", cfg.LLM)
	}

	t.Setenv("LLM_PROVIDER", "openrouter")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Model != "openai/gpt-oss-120b:free" {
		t.Errorf("unexpected default model %q", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("unexpected default base url %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.APIKey() != "or-key" {
		t.Errorf("expected openrouter key, got %q", cfg.LLM.APIKey())
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("expected 10 max iterations, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Calendar.CalendarID != "primary" {
		t.Errorf("expected primary calendar, got %q", cfg.Calendar.CalendarID)
	}
	if cfg.Notify.Server != "https://ntfy.sh" {
		t.Errorf("expected public ntfy server, got %q", cfg.Notify.Server)
	}
	if cfg.Files.Root != "sandbox" {
		t.Errorf("expected sandbox file root, got %q", cfg.Files.Root)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("MAX_ITERATIONS", "3")
	t.Setenv("CODE_RUNNER_TIMEOUT", "5s")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("PLANNER_ENABLED", "off")
	t.Setenv("RATE_LIMIT_WINDOW", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != ProviderGemini {
		t.Errorf("expected gemini provider, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("unexpected gemini model %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey() != "g-key" {
		t.Errorf("expected google key, got %q", cfg.LLM.APIKey())
	}
	if cfg.Agent.MaxIterations != 3 {
		t.Errorf("expected 3 max iterations, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.PlannerEnabled {
		t.Error("expected planner to be disabled")
	}
	if cfg.CodeRunner.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", cfg.CodeRunner.Timeout)
	}
	if cfg.RateLimit.WindowDuration != time.Minute {
		t.Errorf("expected fallback window, got %s", cfg.RateLimit.WindowDuration)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Port:   "7860",
			DBPath: "db",
			LLM:    LLMConfig{Provider: ProviderOllama, Model: "m"},
			Agent:  AgentConfig{MaxIterations: 1, RecursionLimit: 1},
			Files:  FilesConfig{Root: "sandbox"},
			RateLimit: RateLimitConfig{
				RequestsPerWindow: 1,
			},
			ConversationLog: ConversationLogConfig{Dir: "d", GlobalPath: "g", QueueSize: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"empty port", func(c *Config) { c.Port = "" }, false},
		{"bad provider", func(c *Config) { c.LLM.Provider = "claude" }, false},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, false},
		{"runner without image", func(c *Config) { c.CodeRunner.Enabled = true }, false},
		{"empty file root", func(c *Config) { c.Files.Root = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
