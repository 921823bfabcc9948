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

// Config holds all configuration for the orchestration service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Threads   ThreadsConfig   `mapstructure:"threads"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// Debug turns on echo debug mode and per-request logging.
	Debug bool `mapstructure:"debug"`
	// DefaultTimeout applies to LLM providers and storage connections that set none.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address          string   `mapstructure:"address"`
	RunStreamEnabled bool     `mapstructure:"run_stream_enabled"`
	CORSOrigins      []string `mapstructure:"cors_origins"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai or any OpenAI-compatible endpoint
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Planning      string `mapstructure:"planning"`      // plan extraction and itinerary rewrites
	Chatting      string `mapstructure:"chatting"`      // user facing responses
	Tools         string `mapstructure:"tools"`         // tool-calling loop
	Summarization string `mapstructure:"summarization"` // thread summaries
	Fallback      string `mapstructure:"fallback"`
}

// Model resolves the configured model for a task, falling back when unset.
func (r LLMRoutingConfig) Model(task string) string {
	var m string
	switch task {
	case "planning":
		m = r.Planning
	case "chatting":
		m = r.Chatting
	case "tools":
		m = r.Tools
	case "summarization":
		m = r.Summarization
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// EmbeddingConfig selects the embedding model and its vector size.
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

func (e EmbeddingConfig) Normalize() EmbeddingConfig {
	if strings.TrimSpace(e.Model) == "" {
		e.Model = "text-embedding-3-small"
	}
	if e.Dimensions <= 0 {
		e.Dimensions = 1536
	}
	return e
}

// SearchConfig tunes activity search.
type SearchConfig struct {
	DefaultLimit        int     `mapstructure:"default_limit"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	CandidateLimit      int     `mapstructure:"candidate_limit"`
	BatchSize           int     `mapstructure:"batch_size"`
}

func (s SearchConfig) Normalize() SearchConfig {
	if s.DefaultLimit <= 0 {
		s.DefaultLimit = 10
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		s.SimilarityThreshold = 0
	}
	if s.CandidateLimit <= 0 {
		s.CandidateLimit = 500
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	return s
}

// AgentsConfig controls the agent chain.
type AgentsConfig struct {
	ToolCalling        bool          `mapstructure:"tool_calling"`
	MaxIterations      int           `mapstructure:"max_iterations"`
	MaxRecommendations int           `mapstructure:"max_recommendations"`
	ReflectTopK        int           `mapstructure:"reflect_top_k"`
	MinScore           float64       `mapstructure:"min_score"`
	HistoryWindow      int           `mapstructure:"history_window"`
	SearchLimit        int           `mapstructure:"search_limit"`
	RunTimeout         time.Duration `mapstructure:"run_timeout"`
}

func (a AgentsConfig) Normalize() AgentsConfig {
	if a.MaxIterations <= 0 {
		a.MaxIterations = 10
	}
	if a.MaxRecommendations <= 0 {
		a.MaxRecommendations = 4
	}
	if a.ReflectTopK <= 0 {
		a.ReflectTopK = 3
	}
	if a.MinScore <= 0 || a.MinScore >= 1 {
		a.MinScore = 0.3
	}
	if a.HistoryWindow <= 0 {
		a.HistoryWindow = 5
	}
	if a.SearchLimit <= 0 {
		a.SearchLimit = 5
	}
	return a
}

// ThreadsConfig controls conversation thread management.
type ThreadsConfig struct {
	SummarizationThreshold int     `mapstructure:"summarization_threshold"`
	RecentMessageCount     int     `mapstructure:"recent_message_count"`
	SearchLimit            int     `mapstructure:"search_limit"`
	SearchThreshold        float64 `mapstructure:"search_threshold"`
	KeyPrefix              string  `mapstructure:"key_prefix"`
	LexicalFallback        bool    `mapstructure:"lexical_fallback"`
}

func (t ThreadsConfig) Normalize() ThreadsConfig {
	if t.SummarizationThreshold <= 0 {
		t.SummarizationThreshold = 6000
	}
	if t.RecentMessageCount <= 0 {
		t.RecentMessageCount = 10
	}
	if t.SearchLimit <= 0 {
		t.SearchLimit = 10
	}
	if t.SearchThreshold <= 0 || t.SearchThreshold > 1 {
		t.SearchThreshold = 0.7
	}
	if strings.TrimSpace(t.KeyPrefix) == "" {
		t.KeyPrefix = "drew:"
	}
	return t
}

// StorageConfig groups the backing stores.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
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

// DSN builds a lib/pq connection string. An explicit url wins.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
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

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.ServiceName) == "" {
		return fmt.Errorf("telemetry.service_name required when telemetry is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.default_timeout", 60*time.Second)
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.run_stream_enabled", true)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("llm.providers.openai.type", "openai")
	v.SetDefault("llm.providers.openai.api_key", "")
	v.SetDefault("llm.providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.candidate_limit", 500)
	v.SetDefault("search.batch_size", 100)
	v.SetDefault("agents.tool_calling", false)
	v.SetDefault("agents.max_iterations", 10)
	v.SetDefault("agents.max_recommendations", 4)
	v.SetDefault("agents.reflect_top_k", 3)
	v.SetDefault("agents.min_score", 0.3)
	v.SetDefault("agents.history_window", 5)
	v.SetDefault("agents.search_limit", 5)
	v.SetDefault("agents.run_timeout", 2*time.Minute)
	v.SetDefault("threads.summarization_threshold", 6000)
	v.SetDefault("threads.recent_message_count", 10)
	v.SetDefault("threads.search_limit", 10)
	v.SetDefault("threads.search_threshold", 0.7)
	v.SetDefault("threads.key_prefix", "drew:")
	v.SetDefault("threads.lexical_fallback", true)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "drew")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "drew")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "drew")
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// Load reads configuration from path (or the default search paths when empty),
// applies DREW_* environment overrides, and normalizes every section.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DREW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// running purely from env and defaults is allowed when no path was given
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Embedding = cfg.Embedding.Normalize()
	cfg.Search = cfg.Search.Normalize()
	cfg.Agents = cfg.Agents.Normalize()
	cfg.Threads = cfg.Threads.Normalize()
	cfg.applyDefaultTimeout()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaultTimeout fills unset provider and storage timeouts from general.default_timeout.
func (c *Config) applyDefaultTimeout() {
	d := c.General.DefaultTimeout
	if d <= 0 {
		return
	}
	for name, p := range c.LLM.Providers {
		if p.Timeout <= 0 {
			p.Timeout = d
			c.LLM.Providers[name] = p
		}
	}
	if c.Storage.Postgres.Timeout <= 0 {
		c.Storage.Postgres.Timeout = d
	}
	if c.Storage.Redis.Timeout <= 0 {
		c.Storage.Redis.Timeout = d
	}
}

// LoadConfig is Load for command entrypoints: it panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// Validate checks cross-section requirements.
func (c *Config) Validate() error {
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0")
	}
	return nil
}
