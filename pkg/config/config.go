package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
)

// ErrMissingCredentials is returned by Validate when the hosted API cannot be
// reached because the endpoint or key is not configured.
var ErrMissingCredentials = errors.New("missing Azure OpenAI credentials")

// DefaultSystemPrompt is sent as the first message of every request unless
// SYSTEM_PROMPT overrides it. The tool list is appended at runtime.
const DefaultSystemPrompt = `You are a helpful AI assistant with access to various tools.

When a user asks you to perform operations that these tools can handle, use the appropriate tool.
Always provide clear, helpful responses and explain what you're doing.`

// Config defines the business-level application configuration.
// It is populated from environment variables (optionally seeded from a .env
// file) and holds the hosted API credentials, UI port and tool sandbox.
type Config struct {
	// AzureAPIKey authenticates every request to the Azure OpenAI resource.
	AzureAPIKey string
	// AzureEndpoint is the resource URL, e.g. https://my-res.openai.azure.com/.
	AzureEndpoint string
	// AzureDeployment names the model deployment that serves chat completions.
	AzureDeployment string
	// AzureAPIVersion is sent as the api-version query parameter.
	AzureAPIVersion string
	// FallbackDeployments are tried in order when the primary deployment fails.
	FallbackDeployments []string

	// AppPort is the TCP port of the web channel.
	AppPort int
	// FileBasePath is the only directory the file tools may read.
	FileBasePath string
	// MaxHistory caps how many history messages are sent with each request.
	MaxHistory int
	// MaxTokens caps the completion length of every request.
	MaxTokens int
	// SystemPrompt is the persona/instruction string sent as the system message.
	SystemPrompt string
	// HistoryDir enables on-disk session persistence when non-empty.
	HistoryDir string
	// TelegramToken enables the Telegram channel when non-empty.
	TelegramToken string
}

// Validate ensures the hosted API can be addressed at all. A failing Config
// does not stop the service; every chat turn reports the failure instead.
func (c *Config) Validate() error {
	var missing []string
	if c.AzureEndpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	if c.AzureAPIKey == "" {
		missing = append(missing, "AZURE_OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if c.AzureDeployment == "" {
		return fmt.Errorf("AZURE_OPENAI_DEPLOYMENT must not be empty")
	}
	return nil
}

// Deployments returns the primary deployment followed by the fallbacks,
// with duplicates removed.
func (c *Config) Deployments() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range append([]string{c.AzureDeployment}, c.FallbackDeployments...) {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// SystemConfig defines engine-level technical parameters.
// These settings are stored in system.json and control the
// performance, reliability, and technical behavior of the chat engine.
type SystemConfig struct {
	// MaxRetries is the number of attempts per deployment when the hosted
	// API reports a transient error (429, 5xx, timeouts).
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base back-off (in milliseconds) between attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for a whole
	// chat turn. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// DefaultTemperature is used when a message does not carry its own.
	DefaultTemperature float64 `json:"default_temperature"`
	// MaxToolRounds limits how many tool invocation rounds a single user
	// message may trigger before the final answer is requested without tools.
	MaxToolRounds int `json:"max_tool_rounds"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream chunks.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the time to wait before showing the
	// "thinking" indicator when the first token has not arrived yet.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses are split.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// BreakerFailureRatio trips the circuit breaker around the hosted API
	// once this share of requests in the current interval failed.
	BreakerFailureRatio float64 `json:"breaker_failure_ratio"`
	// BreakerMinRequests is the minimum sample before the ratio is evaluated.
	BreakerMinRequests uint32 `json:"breaker_min_requests"`
	// BreakerOpenSeconds is how long the breaker stays open before probing.
	BreakerOpenSeconds int `json:"breaker_open_seconds"`
	// DebugChunks saves every raw completion chunk under debug/chunks.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles function calling. When false the model
	// is never offered any tool, whatever the per-message toggle says.
	EnableTools bool `json:"enable_tools"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            2,
		RetryDelayMs:          500,
		LLMTimeoutMs:          120000,
		DefaultTemperature:    0.7,
		MaxToolRounds:         1,
		InternalChannelBuffer: 100,
		ThinkingInitDelayMs:   500,
		TelegramMessageLimit:  4000,
		BreakerFailureRatio:   0.8,
		BreakerMinRequests:    5,
		BreakerOpenSeconds:    30,
		LogLevel:              "info",
		EnableTools:           true,
	}
}

// Load reads the application configuration from the environment after
// applying envFile (if it exists), then loads the engine configuration
// from sysPath. Neither file is mandatory.
func Load(envFile, sysPath string) (*Config, *SystemConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := LoadEnv()
	if err != nil {
		return nil, nil, err
	}

	return cfg, LoadSystemConfig(sysPath), nil
}

// LoadEnv builds a Config from the process environment, applying the
// documented defaults for every unset variable.
func LoadEnv() (*Config, error) {
	cfg := &Config{
		AzureAPIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
		AzureEndpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureDeployment: envString("AZURE_OPENAI_DEPLOYMENT", "gpt-4"),
		AzureAPIVersion: envString("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),
		FileBasePath:    envString("FILE_SERVER_PATH", "./test_files"),
		SystemPrompt:    envString("SYSTEM_PROMPT", DefaultSystemPrompt),
		HistoryDir:      os.Getenv("HISTORY_DIR"),
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	for _, d := range strings.Split(os.Getenv("AZURE_OPENAI_FALLBACK_DEPLOYMENTS"), ",") {
		if d = strings.TrimSpace(d); d != "" {
			cfg.FallbackDeployments = append(cfg.FallbackDeployments, d)
		}
	}

	var err error
	if cfg.AppPort, err = envInt("APP_PORT", 7860); err != nil {
		return nil, err
	}
	if cfg.MaxHistory, err = envInt("MAX_HISTORY", 50); err != nil {
		return nil, err
	}
	if cfg.MaxTokens, err = envInt("MAX_TOKENS", 2000); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		slog.Warn("Invalid system config, using defaults", "file", path, "error", err)
		return DefaultSystemConfig()
	}

	cfg.clamp(path)
	return cfg
}

// clamp resets values that would stall the engine to their defaults.
// Zero delays are allowed, zero limits and timeouts are not.
func (c *SystemConfig) clamp(path string) {
	type setting struct {
		key string
		val *int
		def int
	}
	def := DefaultSystemConfig()
	positive := []setting{
		{"max_retries", &c.MaxRetries, def.MaxRetries},
		{"llm_timeout_ms", &c.LLMTimeoutMs, def.LLMTimeoutMs},
		{"max_tool_rounds", &c.MaxToolRounds, def.MaxToolRounds},
		{"telegram_message_limit", &c.TelegramMessageLimit, def.TelegramMessageLimit},
		{"breaker_open_seconds", &c.BreakerOpenSeconds, def.BreakerOpenSeconds},
	}
	for _, f := range positive {
		if *f.val <= 0 {
			slog.Warn("Non-positive system setting, using default", "file", path, "key", f.key, "value", *f.val, "default", f.def)
			*f.val = f.def
		}
	}

	nonNegative := []setting{
		{"retry_delay_ms", &c.RetryDelayMs, def.RetryDelayMs},
		{"internal_channel_buffer", &c.InternalChannelBuffer, def.InternalChannelBuffer},
		{"thinking_init_delay_ms", &c.ThinkingInitDelayMs, def.ThinkingInitDelayMs},
	}
	for _, f := range nonNegative {
		if *f.val < 0 {
			slog.Warn("Negative system setting, using default", "file", path, "key", f.key, "value", *f.val, "default", f.def)
			*f.val = f.def
		}
	}

	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.DefaultTemperature < 0 {
		c.DefaultTemperature = def.DefaultTemperature
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return n, nil
}
