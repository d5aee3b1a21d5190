package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Memory    MemoryConfig    `mapstructure:"memory"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Timezone string `mapstructure:"timezone"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"` // empty disables bearer auth
}

// LLMConfig selects and tunes the text-generation service
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"` // openai, anthropic
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	EmbeddingKey   string        `mapstructure:"embedding_api_key"` // defaults to api_key
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a text-generation client can be built.
func (l LLMConfig) Enabled() bool { return strings.TrimSpace(l.APIKey) != "" }

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", l.Provider)
	}
	if l.Enabled() && strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model required when llm.api_key is set")
	}
	return nil
}

// AgentsConfig tunes the orchestration loop
type AgentsConfig struct {
	MaxIterations         int           `mapstructure:"max_iterations"`
	MaxCallsPerRound      int           `mapstructure:"max_calls_per_round"`
	WorkerPoolSize        int           `mapstructure:"worker_pool_size"`
	ToolTimeout           time.Duration `mapstructure:"tool_timeout"`
	LLMTimeout            time.Duration `mapstructure:"llm_timeout"`
	PersistTimeout        time.Duration `mapstructure:"persist_timeout"`
	SynthesisContextLimit int           `mapstructure:"synthesis_context_limit"`
	SummaryLimit          int           `mapstructure:"summary_limit"`
}

// Normalize applies defaults for unset values.
func (a AgentsConfig) Normalize() AgentsConfig {
	if a.MaxIterations <= 0 {
		a.MaxIterations = 3
	}
	if a.MaxCallsPerRound <= 0 {
		a.MaxCallsPerRound = 5
	}
	if a.WorkerPoolSize <= 0 {
		a.WorkerPoolSize = 4
	}
	if a.ToolTimeout <= 0 {
		a.ToolTimeout = 10 * time.Second
	}
	if a.LLMTimeout <= 0 {
		a.LLMTimeout = 30 * time.Second
	}
	if a.PersistTimeout <= 0 {
		a.PersistTimeout = 5 * time.Second
	}
	if a.SynthesisContextLimit <= 0 {
		a.SynthesisContextLimit = 10
	}
	if a.SummaryLimit <= 0 {
		a.SummaryLimit = 5
	}
	return a
}

func (a AgentsConfig) Validate() error {
	if a.MaxIterations > 10 {
		return fmt.Errorf("agents.max_iterations must be <= 10")
	}
	return nil
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
	MaxRecords      int           `mapstructure:"max_records"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring an explicit url.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// MemoryConfig controls session memory behaviour.
type MemoryConfig struct {
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
	RecallTopK          int     `mapstructure:"recall_top_k"`
	RecallThreshold     float64 `mapstructure:"recall_threshold"`
	ProfileTopK         int     `mapstructure:"profile_top_k"`
	PageChunkSize       int     `mapstructure:"page_chunk_size"`
	MaxPageChunks       int     `mapstructure:"max_page_chunks"`
}

// Normalize applies defaults for unset memory values.
func (m MemoryConfig) Normalize() MemoryConfig {
	if m.EmbeddingDimensions <= 0 {
		m.EmbeddingDimensions = 1536
	}
	if m.RecallTopK <= 0 {
		m.RecallTopK = 5
	}
	if m.RecallThreshold <= 0 {
		m.RecallThreshold = 0.8
	}
	if m.ProfileTopK <= 0 {
		m.ProfileTopK = 5
	}
	if m.PageChunkSize <= 0 {
		m.PageChunkSize = 1200
	}
	if m.MaxPageChunks <= 0 {
		m.MaxPageChunks = 8
	}
	return m
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.timezone", "Local")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("agents.max_iterations", 3)
	v.SetDefault("agents.max_calls_per_round", 5)
	v.SetDefault("agents.worker_pool_size", 4)
	v.SetDefault("agents.tool_timeout", "10s")
	v.SetDefault("agents.llm_timeout", "30s")
	v.SetDefault("agents.persist_timeout", "5s")
	v.SetDefault("agents.synthesis_context_limit", 10)
	v.SetDefault("agents.summary_limit", 5)
	v.SetDefault("telemetry.service_name", "lifecontext")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.redis.conversation_ttl", "720h")
	v.SetDefault("storage.redis.max_records", 200)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.dbname", "lifecontext")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("memory.embedding_dimensions", 1536)
	v.SetDefault("memory.recall_top_k", 5)
	v.SetDefault("memory.recall_threshold", 0.8)
}

// LoadConfig loads config from file and environment (LIFECONTEXT_*). A
// missing config file is not an error; defaults and env still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("LIFECONTEXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about
	_ = v.BindEnv("llm.api_key")
	_ = v.BindEnv("llm.embedding_api_key")
	_ = v.BindEnv("llm.base_url")
	_ = v.BindEnv("server.jwt_secret")
	_ = v.BindEnv("storage.postgres.url")
	_ = v.BindEnv("storage.postgres.user")
	_ = v.BindEnv("storage.postgres.password")
	_ = v.BindEnv("storage.redis.password")
	_ = v.BindEnv("telemetry.enabled")
	_ = v.BindEnv("telemetry.otlp_endpoint")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Agents = cfg.Agents.Normalize()
	cfg.Memory = cfg.Memory.Normalize()

	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Agents.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
