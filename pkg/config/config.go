package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Companion   CompanionConfig   `json:"companion"`
	Providers   ProvidersConfig   `json:"providers"`
	Gateway     GatewayConfig     `json:"gateway"`
	Identity    IdentityConfig    `json:"identity"`
	Memory      MemoryConfig      `json:"memory"`
	Channels    ChannelsConfig    `json:"channels"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Log         LogConfig         `json:"log"`
	mu          sync.RWMutex
}

// CompanionConfig controls the reply side of a turn: which provider/model
// answers the user, how sampling behaves, how much recent history is
// replayed, and what is said when the provider yields nothing usable.
type CompanionConfig struct {
	Workspace        string  `json:"workspace" env:"MINDFUL_COMPANION_WORKSPACE"`
	Provider         string  `json:"provider" env:"MINDFUL_COMPANION_PROVIDER"`
	Model            string  `json:"model" env:"MINDFUL_COMPANION_MODEL"`
	MaxTokens        int     `json:"max_tokens" env:"MINDFUL_COMPANION_MAX_TOKENS"`
	Temperature      float64 `json:"temperature" env:"MINDFUL_COMPANION_TEMPERATURE"`
	TopP             float64 `json:"top_p" env:"MINDFUL_COMPANION_TOP_P"`
	FrequencyPenalty float64 `json:"frequency_penalty" env:"MINDFUL_COMPANION_FREQUENCY_PENALTY"`
	PresencePenalty  float64 `json:"presence_penalty" env:"MINDFUL_COMPANION_PRESENCE_PENALTY"`
	HistoryWindow    int     `json:"history_window" env:"MINDFUL_COMPANION_HISTORY_WINDOW"`
	StyleExemplars   bool    `json:"style_exemplars" env:"MINDFUL_COMPANION_STYLE_EXEMPLARS"`
	FallbackReply    string  `json:"fallback_reply" env:"MINDFUL_COMPANION_FALLBACK_REPLY"`
	RequestTimeout   int     `json:"request_timeout_seconds" env:"MINDFUL_COMPANION_REQUEST_TIMEOUT_SECONDS"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	OpenAI     OpenAIConfig   `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"MINDFUL_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"MINDFUL_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"MINDFUL_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey           string `json:"api_key" env:"MINDFUL_PROVIDERS_OPENAI_API_KEY"`
	OAuthAccessToken string `json:"oauth_access_token,omitempty" env:"MINDFUL_PROVIDERS_OPENAI_OAUTH_ACCESS_TOKEN"`
	OAuthTokenFile   string `json:"oauth_token_file,omitempty" env:"MINDFUL_PROVIDERS_OPENAI_OAUTH_TOKEN_FILE"`
	APIBase          string `json:"api_base" env:"MINDFUL_PROVIDERS_OPENAI_API_BASE"`
	Organization     string `json:"organization,omitempty" env:"MINDFUL_PROVIDERS_OPENAI_ORGANIZATION"`
	Project          string `json:"project,omitempty" env:"MINDFUL_PROVIDERS_OPENAI_PROJECT"`
	Proxy            string `json:"proxy,omitempty" env:"MINDFUL_PROVIDERS_OPENAI_PROXY"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"MINDFUL_GATEWAY_HOST"`
	Port int    `json:"port" env:"MINDFUL_GATEWAY_PORT"`
}

type IdentityConfig struct {
	CookieName   string `json:"cookie_name" env:"MINDFUL_IDENTITY_COOKIE_NAME"`
	CookieMaxAge int    `json:"cookie_max_age_seconds" env:"MINDFUL_IDENTITY_COOKIE_MAX_AGE_SECONDS"`
	CookieSecure bool   `json:"cookie_secure" env:"MINDFUL_IDENTITY_COOKIE_SECURE"`
}

// MemoryConfig tunes consolidation: the constrained secondary completion
// that folds each exchange into the per-user memory record, and the
// background worker that runs it off the response path.
type MemoryConfig struct {
	Model              string  `json:"model" env:"MINDFUL_MEMORY_MODEL"`
	MaxTokens          int     `json:"max_tokens" env:"MINDFUL_MEMORY_MAX_TOKENS"`
	Temperature        float64 `json:"temperature" env:"MINDFUL_MEMORY_TEMPERATURE"`
	WorkerPollMS       int     `json:"worker_poll_ms" env:"MINDFUL_MEMORY_WORKER_POLL_MS"`
	WorkerLeaseSeconds int     `json:"worker_lease_seconds" env:"MINDFUL_MEMORY_WORKER_LEASE_SECONDS"`
	TimeoutSeconds     int     `json:"timeout_seconds" env:"MINDFUL_MEMORY_TIMEOUT_SECONDS"`
	JobRetentionDays   int     `json:"job_retention_days" env:"MINDFUL_MEMORY_JOB_RETENTION_DAYS"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"MINDFUL_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MINDFUL_CHANNELS_DISCORD_ALLOW_FROM"`
}

type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled" env:"MINDFUL_MAINTENANCE_ENABLED"`
	Schedule string `json:"schedule" env:"MINDFUL_MAINTENANCE_SCHEDULE"` // cron expression
}

type LogConfig struct {
	Level  string `json:"level" env:"MINDFUL_LOG_LEVEL"`
	Format string `json:"format" env:"MINDFUL_LOG_FORMAT"` // console or json
}

func DefaultConfig() *Config {
	return &Config{
		Companion: CompanionConfig{
			Workspace:        "~/.mindful",
			Provider:         "openrouter",
			Model:            "anthropic/claude-3.5-sonnet",
			MaxTokens:        900,
			Temperature:      0.7,
			TopP:             0.9,
			FrequencyPenalty: 0.3,
			PresencePenalty:  0.2,
			HistoryWindow:    16,
			StyleExemplars:   true,
			FallbackReply:    "I'm here with you. Could you share a bit more?",
			RequestTimeout:   60,
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
			OpenAI:     OpenAIConfig{},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8480,
		},
		Identity: IdentityConfig{
			CookieName:   "anon_id",
			CookieMaxAge: 60 * 60 * 24 * 365, // 1 year
			CookieSecure: true,
		},
		Memory: MemoryConfig{
			Model:              "anthropic/claude-3.5-sonnet",
			MaxTokens:          400,
			Temperature:        0.2,
			WorkerPollMS:       700,
			WorkerLeaseSeconds: 60,
			TimeoutSeconds:     120,
			JobRetentionDays:   14,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "*/30 * * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if perr := env.Parse(cfg); perr != nil {
				return nil, perr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Companion.Workspace)
}

func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
