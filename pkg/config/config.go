package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingCredential = errors.New("missing required credential")

const (
	VectorBackendMilvus = "milvus"
	VectorBackendMemory = "memory"
)

type Config struct {
	Server     ServerConfig
	Zilliz     ZillizConfig
	Vector     VectorConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Retrieval  RetrievalConfig
	Guardrails GuardrailsConfig
	Memory     MemoryConfig
	Ingestion  IngestionConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxQueryLength int
	AllowedOrigins []string
	Development    bool
}

type ZillizConfig struct {
	Endpoint            string
	APIKey              string
	CollectionName      string
	VectorDim           int
	CustomerNamespace   string
	BackgroundNamespace string
}

type VectorConfig struct {
	Backend string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL time.Duration
}

type LLMConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	EmbeddingModel     string
	EmbeddingDim       int
	EmbeddingBatchSize int
	MaxRetries         int
	TimeoutSec         int
}

type RetrievalConfig struct {
	TopK int
}

type GuardrailsConfig struct {
	ConfidenceThreshold      float64
	StrictAmountVerification bool
	MaxQuoteWords            int
}

type MemoryConfig struct {
	MaxHistory int
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/billing-agent")

	v.SetEnvPrefix("BILLING_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The upstream deployment names this one without the prefix.
	_ = v.BindEnv("openai_api_key", "OPENAI_API_KEY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = v.GetString("openai_api_key")
	}

	return &config, nil
}

// Validate reports configuration that must stop the process before any query
// is accepted.
func (c *Config) Validate() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.apiKey")
	}
	switch c.Vector.Backend {
	case VectorBackendMilvus:
		if c.Zilliz.Endpoint == "" {
			missing = append(missing, "zilliz.endpoint")
		}
	case VectorBackendMemory:
	default:
		return fmt.Errorf("unknown vector backend %q", c.Vector.Backend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}

	if c.Guardrails.ConfidenceThreshold < 0 || c.Guardrails.ConfidenceThreshold > 1 {
		return fmt.Errorf("guardrails.confidenceThreshold must be within [0,1], got %v", c.Guardrails.ConfidenceThreshold)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.topK must be positive, got %d", c.Retrieval.TopK)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.maxQueryLength", 5000)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", true)

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionName", "telecom_billing")
	v.SetDefault("zilliz.vectorDim", 1536)
	v.SetDefault("zilliz.customerNamespace", "telecom_docs")
	v.SetDefault("zilliz.backgroundNamespace", "wiki_docs")

	v.SetDefault("vector.backend", VectorBackendMilvus)

	v.SetDefault("sqlite.path", "./data/sessions.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", 24*time.Hour)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.embeddingBatchSize", 100)
	v.SetDefault("llm.maxRetries", 3)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("retrieval.topK", 4)

	// Demo-tuned values; production deployments override both.
	v.SetDefault("guardrails.confidenceThreshold", 0.40)
	v.SetDefault("guardrails.strictAmountVerification", false)
	v.SetDefault("guardrails.maxQuoteWords", 20)

	v.SetDefault("memory.maxHistory", 10)

	v.SetDefault("ingestion.chunkSize", 400)
	v.SetDefault("ingestion.chunkOverlap", 75)

	v.SetDefault("ratelimit.requestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
