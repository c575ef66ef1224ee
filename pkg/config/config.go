// Package config loads the service configuration from YAML with
// environment-variable fallback for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// HTTP
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	StaticDir   string `yaml:"static_dir"`

	// CORS
	ExtraOrigin string `yaml:"extra_origin"` // e.g. an ngrok URL

	// LLM provider
	Provider    string        `yaml:"provider"` // openai, gemini
	OpenAIKey   string        `yaml:"openai_key"`
	GeminiKey   string        `yaml:"gemini_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	LLMTimeout  time.Duration `yaml:"llm_timeout"`

	// Transcript store
	Store           string        `yaml:"store"` // sheets, firestore, memory
	SheetID         string        `yaml:"sheet_id"`
	Worksheet       string        `yaml:"worksheet"`
	GCPProject      string        `yaml:"gcp_project"`
	GCPCredentials  string        `yaml:"gcp_credentials"`
	StoreTimeout    time.Duration `yaml:"store_timeout"`
	RequeueSchedule string        `yaml:"requeue_schedule"` // cron spec

	// History cache
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	HistoryTTL    time.Duration `yaml:"history_ttl"`

	// Arms
	AssignPolicy string               `yaml:"assign_policy"` // deterministic, random
	ShortRatio   int                  `yaml:"short_ratio"`   // percent assigned to the short arm
	Arms         map[string]ArmConfig `yaml:"arms"`

	// Moderation
	Moderation ModerationConfig `yaml:"moderation"`

	// Rate limiting
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ArmConfig holds the prompt material for one experiment condition.
type ArmConfig struct {
	SystemPrompt    string `yaml:"system_prompt"`
	ContextDocument string `yaml:"context_document"`
}

// ModerationConfig configures answer-leak checking.
type ModerationConfig struct {
	// Checker selects the leak detector: pattern or classifier.
	Checker string `yaml:"checker"`
	// ForbiddenAnswers are per-task final answers that must never appear
	// as a standalone answer in an assistant reply.
	ForbiddenAnswers []string `yaml:"forbidden_answers"`
	// RewriteRounds bounds how many times a leaking reply is resubmitted
	// before falling back to the safe hint template.
	RewriteRounds int `yaml:"rewrite_rounds"`
	// FallbackHint is returned when rewrites are exhausted.
	FallbackHint string `yaml:"fallback_hint"`
	// HistoryBudget is the approximate token budget for prompt history.
	HistoryBudget int `yaml:"history_budget"`
}

// Load reads configuration from a YAML file and applies defaults and
// environment fallbacks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// Default returns a configuration suitable for local development with the
// in-memory store.
func Default() *Config {
	cfg := &Config{Store: "memory"}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 150
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = 30 * time.Second
	}
	if c.Store == "" {
		c.Store = "sheets"
	}
	if c.Worksheet == "" {
		c.Worksheet = "conversations"
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.RequeueSchedule == "" {
		c.RequeueSchedule = "@every 1m"
	}
	if c.HistoryTTL == 0 {
		c.HistoryTTL = 24 * time.Hour
	}
	if c.AssignPolicy == "" {
		c.AssignPolicy = "deterministic"
	}
	if c.ShortRatio == 0 {
		c.ShortRatio = 50
	}
	if c.Moderation.Checker == "" {
		c.Moderation.Checker = "pattern"
	}
	if c.Moderation.RewriteRounds == 0 {
		c.Moderation.RewriteRounds = 1
	}
	if c.Moderation.FallbackHint == "" {
		c.Moderation.FallbackHint = "I can't give you the answer directly, but try re-reading the problem and checking whether your first instinct actually satisfies every condition it states."
	}
	if c.Moderation.HistoryBudget == 0 {
		c.Moderation.HistoryBudget = 2048
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
}

func (c *Config) applyEnv() {
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.GeminiKey == "" {
		c.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.SheetID == "" {
		c.SheetID = os.Getenv("SHEET_ID")
	}
	if c.GCPProject == "" {
		c.GCPProject = os.Getenv("GCP_PROJECT")
	}
	if c.GCPCredentials == "" {
		c.GCPCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if c.RedisAddr == "" {
		c.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if c.ExtraOrigin == "" {
		c.ExtraOrigin = os.Getenv("ALLOWED_ORIGIN")
	}
}

// Validate checks that the configuration can actually run.
func (c *Config) Validate() error {
	switch c.Provider {
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("openai_key is required for the openai provider")
		}
	case "gemini":
		if c.GeminiKey == "" {
			return fmt.Errorf("gemini_key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	switch c.Store {
	case "sheets":
		if c.SheetID == "" {
			return fmt.Errorf("sheet_id is required for the sheets store")
		}
	case "firestore":
		if c.GCPProject == "" {
			return fmt.Errorf("gcp_project is required for the firestore store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.AssignPolicy != "deterministic" && c.AssignPolicy != "random" {
		return fmt.Errorf("unknown assign_policy %q", c.AssignPolicy)
	}
	if c.ShortRatio < 0 || c.ShortRatio > 100 {
		return fmt.Errorf("short_ratio must be between 0 and 100")
	}
	if len(c.Arms) == 0 {
		return fmt.Errorf("at least one arm must be configured")
	}

	return nil
}
