// Package config handles loading and validating the Orbit configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the Orbit daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Assistant  AssistantConfig  `mapstructure:"assistant"`
	Ableton    AbletonConfig    `mapstructure:"ableton"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AssistantConfig selects and configures the chat backend.
type AssistantConfig struct {
	Backend      string           `mapstructure:"backend"` // "openrouter", "nat" or "embedded"
	SystemPrompt string           `mapstructure:"system_prompt"`
	MaxToolSteps int              `mapstructure:"max_tool_steps"`
	MaxTokens    int              `mapstructure:"max_tokens"`
	OpenRouter   OpenRouterConfig `mapstructure:"openrouter"`
	NAT          NATConfig        `mapstructure:"nat"`
	Embedded     EmbeddedConfig   `mapstructure:"embedded"`
}

// OpenRouterConfig holds model provider settings. An empty Models list
// uses the built-in free-tier fallback list.
type OpenRouterConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Referer string        `mapstructure:"referer"`
	Title   string        `mapstructure:"title"`
	Models  []ModelConfig `mapstructure:"models"`
}

// ModelConfig is one entry of the fallback list, in order.
type ModelConfig struct {
	ID     string `mapstructure:"id"`
	Vision bool   `mapstructure:"vision"`
}

// NATConfig holds the self-hosted agent server settings.
type NATConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserName  string        `mapstructure:"user_name"`
	UserEmail string        `mapstructure:"user_email"`
}

// EmbeddedConfig describes the agent process run by the embedded backend.
type EmbeddedConfig struct {
	Command []string `mapstructure:"command"`
	Dir     string   `mapstructure:"dir"`
	Env     []string `mapstructure:"env"`
}

// AbletonConfig holds the UDP endpoints of the Live remote script.
type AbletonConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	LocalPort    int           `mapstructure:"local_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	AutoConnect  bool          `mapstructure:"auto_connect"`
}

// CaptureConfig configures the screenshot tool. Commands use "{path}" for
// the image file.
type CaptureConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	ScreenshotCommand []string `mapstructure:"screenshot_command"`
	OCRCommand        []string `mapstructure:"ocr_command"`
	Dir               string   `mapstructure:"dir"`
	Keep              bool     `mapstructure:"keep"`
}

// MemoryConfig selects where conversation history is kept.
type MemoryConfig struct {
	Backend  string      `mapstructure:"backend"` // "none", "memory" or "redis"
	MaxTurns int         `mapstructure:"max_turns"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./orbit.yaml, ./configs/orbit.yaml, /etc/orbit/orbit.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", true)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("assistant.backend", "openrouter")
	v.SetDefault("assistant.max_tool_steps", 5)
	v.SetDefault("assistant.openrouter.api_key", "${OPENROUTER_API_KEY}")
	v.SetDefault("assistant.openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("assistant.openrouter.timeout", "60s")
	v.SetDefault("assistant.openrouter.referer", "https://orbit.app")
	v.SetDefault("assistant.openrouter.title", "Orbit")
	v.SetDefault("assistant.nat.base_url", "http://localhost:8000")
	v.SetDefault("assistant.nat.timeout", "30s")
	v.SetDefault("assistant.nat.user_name", "orbit")
	v.SetDefault("assistant.nat.user_email", "default")
	v.SetDefault("ableton.host", "127.0.0.1")
	v.SetDefault("ableton.port", 11000)
	v.SetDefault("ableton.local_port", 11001)
	v.SetDefault("ableton.read_timeout", "100ms")
	v.SetDefault("ableton.query_timeout", "5s")
	v.SetDefault("ableton.auto_connect", false)
	v.SetDefault("capture.enabled", true)
	v.SetDefault("capture.screenshot_command", []string{"screencapture", "-x", "{path}"})
	v.SetDefault("memory.backend", "memory")
	v.SetDefault("memory.max_turns", 10)
	v.SetDefault("memory.redis.addr", "localhost:6379")
	v.SetDefault("memory.redis.ttl", "24h")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("orbit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/orbit")
	}

	// Environment variables: ORBIT_SERVER_HEALTH_PORT, ORBIT_ASSISTANT_BACKEND, etc.
	v.SetEnvPrefix("ORBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional: env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENROUTER_API_KEY}")
	cfg.Assistant.OpenRouter.APIKey = resolveEnvRef(cfg.Assistant.OpenRouter.APIKey)
	cfg.Memory.Redis.Password = resolveEnvRef(cfg.Memory.Redis.Password)

	return &cfg, nil
}

// Validate reports settings the daemon cannot start with. A missing API key
// is caught here rather than on the first request.
func (c *Config) Validate() error {
	var errs []error

	if !c.Transports.GRPC.Enabled && !c.Transports.HTTP.Enabled {
		errs = append(errs, errors.New("no transports enabled; enable at least one"))
	}

	switch c.Assistant.Backend {
	case "openrouter":
		if key := c.Assistant.OpenRouter.APIKey; key == "" || isEnvRef(key) {
			errs = append(errs, errors.New("assistant.openrouter.api_key is empty; set OPENROUTER_API_KEY"))
		}
		for i, m := range c.Assistant.OpenRouter.Models {
			if m.ID == "" {
				errs = append(errs, fmt.Errorf("assistant.openrouter.models[%d] has no id", i))
			}
		}
	case "nat":
		if c.Assistant.NAT.BaseURL == "" {
			errs = append(errs, errors.New("assistant.nat.base_url is empty"))
		}
	case "embedded":
		if len(c.Assistant.Embedded.Command) == 0 {
			errs = append(errs, errors.New("assistant.embedded.command is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown assistant backend %q", c.Assistant.Backend))
	}

	if c.Ableton.Port <= 0 || c.Ableton.Port > 65535 {
		errs = append(errs, fmt.Errorf("ableton.port %d out of range", c.Ableton.Port))
	}
	if c.Ableton.LocalPort < 0 || c.Ableton.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("ableton.local_port %d out of range", c.Ableton.LocalPort))
	}

	switch c.Memory.Backend {
	case "none", "memory":
	case "redis":
		if c.Memory.Redis.Addr == "" {
			errs = append(errs, errors.New("memory.redis.addr is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown memory backend %q", c.Memory.Backend))
	}

	if c.Capture.Enabled && len(c.Capture.ScreenshotCommand) == 0 {
		errs = append(errs, errors.New("capture.screenshot_command is empty"))
	}

	return errors.Join(errs...)
}

func isEnvRef(val string) bool {
	return strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}")
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if isEnvRef(val) {
		if envVal := os.Getenv(val[2 : len(val)-1]); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
