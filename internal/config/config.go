package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the tidyflow server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Artifacts ArtifactConfig
	Pipeline  PipelineConfig
	Engine    EngineConfig
	AI        AIConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	MaxUploadBytes  int64
	RateLimitPerMin int
	APIKeyHashes    []string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL            string
	StatusCacheTTL time.Duration
}

type ArtifactConfig struct {
	Backend string
	DataDir string
}

type PipelineConfig struct {
	StageTimeout  time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
}

type EngineConfig struct {
	Kind    string
	BaseURL string
	Token   string
	Timeout time.Duration
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	FallbackToRules  bool
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type LogConfig struct {
	Level slog.Level
	File  string
}

var validProviders = map[string]bool{
	"rules":     true,
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

var validBackends = map[string]bool{
	"fs":       true,
	"postgres": true,
}

var validEngines = map[string]bool{
	"local":  true,
	"remote": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("TIDYFLOW_PORT", 8080),
			Env:             envString("TIDYFLOW_ENV", "development"),
			MaxUploadBytes:  int64(envInt("TIDYFLOW_MAX_UPLOAD_BYTES", 32<<20)),
			RateLimitPerMin: envInt("TIDYFLOW_RATE_LIMIT_PER_MIN", 120),
			APIKeyHashes:    envList("TIDYFLOW_API_KEY_HASHES"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("TIDYFLOW_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL:            os.Getenv("REDIS_URL"),
			StatusCacheTTL: envDuration("TIDYFLOW_STATUS_CACHE_TTL", 30*time.Minute),
		},
		Artifacts: ArtifactConfig{
			Backend: envString("TIDYFLOW_ARTIFACT_BACKEND", "fs"),
			DataDir: envString("TIDYFLOW_DATA_DIR", "/tmp/data"),
		},
		Pipeline: PipelineConfig{
			StageTimeout:  envDuration("TIDYFLOW_STAGE_TIMEOUT", 2*time.Minute),
			SweepInterval: envDuration("TIDYFLOW_SWEEP_INTERVAL", 30*time.Second),
			Retention:     envDuration("TIDYFLOW_RETENTION", 7*24*time.Hour),
		},
		Engine: EngineConfig{
			Kind:    envString("TIDYFLOW_ENGINE", "local"),
			BaseURL: os.Getenv("ENGINE_BASE_URL"),
			Token:   os.Getenv("ENGINE_TOKEN"),
			Timeout: envDuration("ENGINE_TIMEOUT", 30*time.Second),
		},
		AI: AIConfig{
			Provider:         envString("AI_PROVIDER", "rules"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			FallbackToRules:  envBool("AI_FALLBACK_TO_RULES", true),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Log: LogConfig{
			Level: ParseLogLevel(envString("TIDYFLOW_LOG_LEVEL", "INFO")),
			File:  os.Getenv("TIDYFLOW_LOG_FILE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.Artifacts.Backend] {
		return fmt.Errorf("TIDYFLOW_ARTIFACT_BACKEND must be one of fs, postgres; got %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "fs" && c.Artifacts.DataDir == "" {
		return fmt.Errorf("TIDYFLOW_DATA_DIR is required when TIDYFLOW_ARTIFACT_BACKEND is fs")
	}

	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("TIDYFLOW_STAGE_TIMEOUT must be positive, got %s", c.Pipeline.StageTimeout)
	}
	if c.Pipeline.SweepInterval <= 0 {
		return fmt.Errorf("TIDYFLOW_SWEEP_INTERVAL must be positive, got %s", c.Pipeline.SweepInterval)
	}
	if c.Pipeline.Retention < 0 {
		return fmt.Errorf("TIDYFLOW_RETENTION must not be negative, got %s", c.Pipeline.Retention)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("TIDYFLOW_MAX_UPLOAD_BYTES must be positive")
	}

	if !validEngines[c.Engine.Kind] {
		return fmt.Errorf("TIDYFLOW_ENGINE must be one of local, remote; got %q", c.Engine.Kind)
	}
	if c.Engine.Kind == "remote" {
		if c.Engine.BaseURL == "" {
			return fmt.Errorf("ENGINE_BASE_URL is required when TIDYFLOW_ENGINE is remote")
		}
		if !strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
			return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
		}
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of rules, ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	return nil
}

// ParseLogLevel maps DEBUG/INFO/WARN/ERROR to a slog level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
