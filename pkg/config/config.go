package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMisconfiguredCredentials is returned by Validate when a stage that needs
// the language model is enabled without an API key.
var ErrMisconfiguredCredentials = errors.New("misconfigured credentials")

type Config struct {
	Server    ServerConfig
	Vector    VectorConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	OCR       OCRConfig
	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Reranker  RerankerConfig
	Ingestion IngestionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
	AllowedOrigins     []string
	Development        bool
}

type VectorConfig struct {
	Backend        string
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
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
	QueryTTL     time.Duration
	EmbeddingTTL time.Duration
}

type LLMConfig struct {
	Provider           string
	Model              string
	APIKey             string
	BaseURL            string
	Temperature        float32
	MaxTokens          int
	TimeoutSec         int
	EmbeddingModel     string
	EmbeddingDim       int
	EmbeddingBatchSize int
	RequestsPerSecond  float64
	AllowDisabled      bool
}

type OCRConfig struct {
	Enabled        bool
	Model          string
	DPI            int
	MinNativeChars int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RendererBinary string
}

type ChunkingConfig struct {
	Size     int
	Overlap  int
	MinChars int
}

type RetrievalConfig struct {
	K            int
	SparseWeight float64
	DenseWeight  float64
	RRFK         float64
	Expansion    bool
	Paraphrases  int
	Compression  bool
	Rerank       bool
	RerankTopN   int
	Timeout      time.Duration
	Parallelism  int
}

type RerankerConfig struct {
	URL        string
	APIKey     string
	TimeoutSec int
}

type IngestionConfig struct {
	SourceDir   string
	PersistPath string
	Workers     int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads .env, an optional config.yaml and RAG_* environment variables,
// in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/rag-pipeline")

	return load(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.Ingestion.Workers <= 0 {
		config.Ingestion.Workers = runtime.NumCPU()
	}

	return &config, nil
}

// Validate checks invariants that must hold before any client is built.
// When the API key is missing and AllowDisabled is set, every stage that
// would call the language model is switched off instead of failing. The
// returned slice names the stages that were disabled.
func (c *Config) Validate() ([]string, error) {
	if c.Chunking.Size <= 0 {
		return nil, fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return nil, fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Retrieval.K <= 0 {
		return nil, fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}
	if c.Retrieval.SparseWeight < 0 || c.Retrieval.DenseWeight < 0 {
		return nil, fmt.Errorf("retrieval weights must be non-negative")
	}
	switch c.Vector.Backend {
	case "milvus", "memory":
	default:
		return nil, fmt.Errorf("unknown vector.backend %q", c.Vector.Backend)
	}

	if c.LLM.APIKey != "" {
		return nil, nil
	}

	var needs []string
	if c.OCR.Enabled {
		needs = append(needs, "ocr")
	}
	if c.Retrieval.Expansion {
		needs = append(needs, "expansion")
	}
	if c.Retrieval.Compression {
		needs = append(needs, "compression")
	}
	if len(needs) == 0 {
		return nil, nil
	}
	if !c.LLM.AllowDisabled {
		return nil, fmt.Errorf("%w: llm.apiKey is empty but %s enabled", ErrMisconfiguredCredentials, strings.Join(needs, ", "))
	}

	c.OCR.Enabled = false
	c.Retrieval.Expansion = false
	c.Retrieval.Compression = false
	return needs, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.rateLimitPerMinute", 60)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("vector.backend", "milvus")
	v.SetDefault("vector.endpoint", "localhost:19530")
	v.SetDefault("vector.apiKey", "")
	v.SetDefault("vector.collectionName", "legal_docs")
	v.SetDefault("vector.vectorDim", 1536)

	v.SetDefault("sqlite.path", "./legal_db/catalogue.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queryTTL", "1h")
	v.SetDefault("redis.embeddingTTL", "168h")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.embeddingBatchSize", 64)
	v.SetDefault("llm.requestsPerSecond", 5)
	v.SetDefault("llm.allowDisabled", false)

	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.model", "gpt-4o-mini")
	v.SetDefault("ocr.dpi", 200)
	v.SetDefault("ocr.minNativeChars", 50)
	v.SetDefault("ocr.maxAttempts", 3)
	v.SetDefault("ocr.backoffBase", "500ms")
	v.SetDefault("ocr.backoffMax", "8s")
	v.SetDefault("ocr.rendererBinary", "pdftoppm")

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)
	v.SetDefault("chunking.minChars", 30)

	v.SetDefault("retrieval.k", 5)
	v.SetDefault("retrieval.sparseWeight", 0.5)
	v.SetDefault("retrieval.denseWeight", 0.5)
	v.SetDefault("retrieval.rrfK", 60)
	v.SetDefault("retrieval.expansion", true)
	v.SetDefault("retrieval.paraphrases", 3)
	v.SetDefault("retrieval.compression", true)
	v.SetDefault("retrieval.rerank", true)
	v.SetDefault("retrieval.rerankTopN", 5)
	v.SetDefault("retrieval.timeout", "20s")
	v.SetDefault("retrieval.parallelism", 4)

	v.SetDefault("reranker.url", "")
	v.SetDefault("reranker.apiKey", "")
	v.SetDefault("reranker.timeoutSec", 15)

	v.SetDefault("ingestion.sourceDir", "./Ministry Of Defence")
	v.SetDefault("ingestion.persistPath", "./legal_db")
	v.SetDefault("ingestion.workers", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
