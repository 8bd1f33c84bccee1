// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported LLM providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	CORSOrigins    []string
	GRPCHealthPort string
	SessionTTL     time.Duration

	LLM             LLMConfig
	Agent           AgentConfig
	Calendar        CalendarConfig
	Notify          NotifyConfig
	Search          SearchConfig
	Files           FilesConfig
	Browser         BrowserConfig
	CodeRunner      CodeRunnerConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig selects the chat model provider.
type LLMConfig struct {
	Provider         string
	Model            string
	EvaluatorModel   string
	BaseURL          string
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	GoogleAPIKey     string
	Timeout          time.Duration
}

// AgentConfig controls the worker/evaluator graph.
type AgentConfig struct {
	MaxIterations  int
	RecursionLimit int
	PlannerEnabled bool
	AgentsFile     string
	DelegateRounds int
}

// CalendarConfig holds Google Calendar settings.
type CalendarConfig struct {
	TokenPath       string
	CredentialsPath string
	CalendarID      string
	DefaultTimezone string
}

// NotifyConfig holds ntfy push notification settings.
type NotifyConfig struct {
	Server string
	Topic  string
}

// SearchConfig holds web search settings.
type SearchConfig struct {
	SerperAPIKey  string
	SerperURL     string
	WikipediaLang string
}

// FilesConfig holds the file tool sandbox settings.
type FilesConfig struct {
	Root string
}

// BrowserConfig holds browser automation settings.
type BrowserConfig struct {
	Enabled    bool
	Headless   bool
	ControlURL string
}

// CodeRunnerConfig holds the Docker code runner settings.
type CodeRunnerConfig struct {
	Enabled bool
	Image   string
	Timeout time.Duration
	Runtime string // Docker runtime: "" = default (runc), "runsc" = gVisor
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls server-sent event streams.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenRouter))

	cfg := &Config{
		Port:           getEnv("PORT", "7860"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/sidekick.db"),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"*"}),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		LLM: LLMConfig{
			Provider:         provider,
			Model:            getEnv("LLM_MODEL", defaultModel(provider)),
			EvaluatorModel:   getEnv("EVALUATOR_MODEL", ""),
			BaseURL:          getEnv("LLM_BASE_URL", defaultBaseURL(provider)),
			OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			GoogleAPIKey:     getEnv("GOOGLE_API_KEY", ""),
			Timeout:          getEnvDuration("LLM_TIMEOUT", 2*time.Minute),
		},
		Agent: AgentConfig{
			MaxIterations:  getEnvInt("MAX_ITERATIONS", 10),
			RecursionLimit: getEnvInt("GRAPH_RECURSION_LIMIT", 50),
			PlannerEnabled: getEnvBool("PLANNER_ENABLED", true),
			AgentsFile:     getEnv("AGENTS_FILE", ""),
			DelegateRounds: getEnvInt("DELEGATE_MAX_ROUNDS", 5),
		},
		Calendar: CalendarConfig{
			TokenPath:       getEnv("GOOGLE_TOKEN_PATH", "token.json"),
			CredentialsPath: getEnv("GOOGLE_CREDENTIALS_PATH", "credentials.json"),
			CalendarID:      getEnv("GOOGLE_CALENDAR_ID", "primary"),
			DefaultTimezone: getEnv("DEFAULT_TIMEZONE", ""),
		},
		Notify: NotifyConfig{
			Server: getEnv("NTFY_SERVER", "https://ntfy.sh"),
			Topic:  getEnv("NTFY_TOPIC", ""),
		},
		Search: SearchConfig{
			SerperAPIKey:  getEnv("SERPER_API_KEY", ""),
			SerperURL:     getEnv("SERPER_URL", "https://google.serper.dev/search"),
			WikipediaLang: getEnv("WIKIPEDIA_LANG", "en"),
		},
		Files: FilesConfig{
			Root: getEnv("FILE_TOOL_ROOT", "sandbox"),
		},
		Browser: BrowserConfig{
			Enabled:    getEnvBool("BROWSER_ENABLED", true),
			Headless:   getEnvBool("BROWSER_HEADLESS", true),
			ControlURL: getEnv("BROWSER_CONTROL_URL", ""),
		},
		CodeRunner: CodeRunnerConfig{
			Enabled: getEnvBool("CODE_RUNNER_ENABLED", true),
			Image:   getEnv("CODE_RUNNER_IMAGE", "python:3.12-slim"),
			Timeout: getEnvDuration("CODE_RUNNER_TIMEOUT", 30*time.Second),
			Runtime: getEnv("CONTAINER_RUNTIME", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("MAX_ITERATIONS must be > 0")
	}
	if c.Agent.RecursionLimit <= 0 {
		return fmt.Errorf("GRAPH_RECURSION_LIMIT must be > 0")
	}
	if c.Files.Root == "" {
		return fmt.Errorf("FILE_TOOL_ROOT cannot be empty")
	}
	if c.CodeRunner.Enabled && c.CodeRunner.Image == "" {
		return fmt.Errorf("CODE_RUNNER_IMAGE cannot be empty when the code runner is enabled")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// APIKey returns the key of the selected provider.
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case ProviderOpenRouter:
		return c.OpenRouterAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGemini:
		return c.GoogleAPIKey
	case ProviderOllama:
		return "ollama"
	}
	return ""
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGemini:
		return "gemini-2.0-flash"
	case ProviderOllama:
		return "gpt-oss:20b"
	default:
		return "openai/gpt-oss-120b:free"
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case ProviderOpenRouter:
		return "https://openrouter.ai/api/v1"
	case ProviderOllama:
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
