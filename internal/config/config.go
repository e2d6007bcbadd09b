package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	LLMProvider     string `mapstructure:"LLM_PROVIDER"`
	LLMBaseURL      string `mapstructure:"LLM_BASE_URL"`
	LLMModel        string `mapstructure:"LLM_MODEL"`
	LLMAPIKey       string `mapstructure:"LLM_API_KEY"`
	LLMMaxTokens    int    `mapstructure:"LLM_MAX_TOKENS"`
	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`

	EmbeddingBaseURL  string        `mapstructure:"EMBEDDING_BASE_URL"`
	EmbeddingModel    string        `mapstructure:"EMBEDDING_MODEL"`
	EmbeddingAPIKey   string        `mapstructure:"EMBEDDING_API_KEY"`
	RetrievalTopK     int           `mapstructure:"RETRIEVAL_TOP_K"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	EmbeddingCacheTTL time.Duration `mapstructure:"EMBEDDING_CACHE_TTL"`

	RulesFile        string `mapstructure:"RULES_FILE"`
	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`
}

var keys = []string{
	"ENV", "PORT", "DATABASE_URL", "ADMIN_KEY", "CORS_ALLOWED_ORIGINS", "REQUEST_TIMEOUT", "LOG_LEVEL",
	"LLM_PROVIDER", "LLM_BASE_URL", "LLM_MODEL", "LLM_API_KEY", "LLM_MAX_TOKENS", "ANTHROPIC_API_KEY",
	"EMBEDDING_BASE_URL", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "RETRIEVAL_TOP_K", "REDIS_URL",
	"EMBEDDING_CACHE_TTL", "RULES_FILE", "METRICS_NAMESPACE",
}

func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile reads an optional dotenv file; environment variables take precedence.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()
	// Unmarshal only sees keys viper already knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("LLM_MAX_TOKENS", 1024)
	v.SetDefault("EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("RETRIEVAL_TOP_K", 1)
	v.SetDefault("EMBEDDING_CACHE_TTL", "24h")
	v.SetDefault("METRICS_NAMESPACE", "helpdesk")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	return cfg, nil
}

// Provider resolves the answer synthesizer backend. Without credentials or an
// endpoint the deterministic mock is used.
func (c Config) Provider() string {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey != "" || c.LLMAPIKey != "" {
			return "anthropic"
		}
	case "openai":
		if c.LLMBaseURL != "" && c.LLMModel != "" {
			return "openai"
		}
	case "":
		if c.AnthropicAPIKey != "" {
			return "anthropic"
		}
		if c.LLMBaseURL != "" && c.LLMModel != "" {
			return "openai"
		}
	}
	return "mock"
}

// VectorSearchEnabled reports whether embeddings can be produced for pgvector retrieval.
func (c Config) VectorSearchEnabled() bool {
	return c.EmbeddingAPIKey != "" || c.EmbeddingBaseURL != ""
}
