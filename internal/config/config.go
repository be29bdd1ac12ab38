package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"policyrag"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"policyrag"`

	VectorBackend         string `envconfig:"VECTOR_BACKEND" default:"weaviate"` // weaviate | memory
	WeaviateHost          string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme        string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	EmbeddingDimension    int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	VectorDeleteScanLimit int    `envconfig:"VECTOR_DELETE_SCAN_LIMIT" default:"10000"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	EnableNSQ  bool   `envconfig:"ENABLE_NSQ" default:"true"`

	// Providers
	EmbeddingProvider    string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`  // gemini | openai
	GenerationProvider   string `envconfig:"GENERATION_PROVIDER" default:"gemini"` // gemini | openai
	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbeddingModel string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"text-embedding-004"`
	GeminiChatModel      string `envconfig:"GEMINI_CHAT_MODEL" default:"gemini-1.5-flash"`
	OpenAIBaseURL        string `envconfig:"OPENAI_BASE_URL" default:"http://localhost:11434/v1"`
	OpenAIAPIKey         string `envconfig:"OPENAI_API_KEY" default:"none"`
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"nomic-embed-text"`
	OpenAIChatModel      string `envconfig:"OPENAI_CHAT_MODEL" default:"llama3.1"`

	// Extraction & chunking
	Extractor        string `envconfig:"EXTRACTOR" default:"docling"` // docling | plain
	DoclingURL       string `envconfig:"DOCLING_URL" default:"http://docling:8000"`
	ChunkMaxChars    int    `envconfig:"CHUNK_MAX_CHARS" default:"2000"`
	ChunkOverlap     int    `envconfig:"CHUNK_OVERLAP" default:"200"`
	EmbedConcurrency int    `envconfig:"EMBED_CONCURRENCY" default:"1"`

	// Ingestion
	JobTimeout time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
	FactPolicy string        `envconfig:"FACT_POLICY" default:"append"` // append | replace
	InboxDir   string        `envconfig:"INBOX_DIR"`
	InboxQuiet time.Duration `envconfig:"INBOX_QUIET" default:"2s"`
	UploadDir  string        `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Retrieval
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.7"`
	OverfetchFactor     int     `envconfig:"OVERFETCH_FACTOR" default:"2"`
	DefaultTopK         int     `envconfig:"DEFAULT_TOP_K" default:"5"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	if !oneOf(c.VectorBackend, "weaviate", "memory") {
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalid, c.VectorBackend)
	}
	if !oneOf(c.EmbeddingProvider, "gemini", "openai") {
		return fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", ErrInvalid, c.EmbeddingProvider)
	}
	if !oneOf(c.GenerationProvider, "gemini", "openai") {
		return fmt.Errorf("%w: GENERATION_PROVIDER=%q", ErrInvalid, c.GenerationProvider)
	}
	if !oneOf(c.Extractor, "docling", "plain") {
		return fmt.Errorf("%w: EXTRACTOR=%q", ErrInvalid, c.Extractor)
	}
	if !oneOf(c.FactPolicy, "append", "replace") {
		return fmt.Errorf("%w: FACT_POLICY=%q", ErrInvalid, c.FactPolicy)
	}

	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrInvalid)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be in (0, 1]", ErrInvalid)
	}
	if c.OverfetchFactor < 1 {
		return fmt.Errorf("%w: OVERFETCH_FACTOR must be >= 1", ErrInvalid)
	}
	if c.DefaultTopK < 1 {
		return fmt.Errorf("%w: DEFAULT_TOP_K must be >= 1", ErrInvalid)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
