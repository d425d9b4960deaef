// Package config loads the environment-driven configuration: a typed Config
// struct populated by simple getenv helpers that read the environment
// through viper's AutomaticEnv; no command-line flags are bound through it.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database   DatabaseConfig
	Ephemeral  EphemeralConfig
	Router     RouterConfig
	Ingestion  IngestionConfig
	Scheduler  SchedulerConfig
	Retrieval  RetrievalConfig
	Backends   BackendsConfig
	Security   SecurityConfig
	App        AppConfig
}

type DatabaseConfig struct {
	URL              string        // DATABASE_URL
	Driver           string        // derived: "postgres" or "sqlite"
	MinConns         int           // DB_MIN_CONNS
	MaxConns         int           // DB_MAX_CONNS
	StatementTimeout time.Duration // DB_STATEMENT_TIMEOUT (seconds)
}

type EphemeralConfig struct {
	RedisURL string // REDIS_URL (valkey-compatible)
}

type RouterConfig struct {
	DebounceMs       int // DEBOUNCE_MS
	DebounceMax      int // DEBOUNCE_MAX
	RateLimitPerMin  int // RATE_LIMIT_PER_MIN (per contact)
}

type IngestionConfig struct {
	MaxUploadBytes       int64         // MAX_UPLOAD_BYTES
	MaxConcurrent        int           // INGESTION_MAX_CONCURRENT
	ProcessTimeout       time.Duration // INGESTION_PROCESS_TIMEOUT (seconds)
	MaxAttempts          int           // INGESTION_MAX_ATTEMPTS
	PurgeWindowDays      int           // INGESTION_PURGE_WINDOW_DAYS
	OCREnabled           bool          // OCR_ENABLED
	OCRMinTextThreshold  int           // TIKA_MIN_TEXT_THRESHOLD
}

type SchedulerConfig struct {
	PollInterval           time.Duration // SCHEDULER_POLL_INTERVAL (seconds)
	MaxConcurrencyExtract  int           // SCHEDULER_MAX_CONCURRENCY_EXTRACT
	MaxConcurrencyChunk    int           // SCHEDULER_MAX_CONCURRENCY_CHUNK
	MaxConcurrencyEmbed    int           // SCHEDULER_MAX_CONCURRENCY_EMBED
	PriorityExtract        int           // PRIORITY_EXTRACT
	PriorityChunk          int           // PRIORITY_CHUNK
	PriorityEmbed          int           // PRIORITY_EMBED
	EmbeddingConcurrency   int           // EMBEDDING_CONCURRENCY
	EmbeddingCBFails       int           // EMBEDDING_CB_FAILS
	EmbeddingCBWindowSec   int           // EMBEDDING_CB_WINDOW_SEC
	EmbeddingCBCooldownSec int           // EMBEDDING_CB_COOLDOWN_SEC
}

type RetrievalConfig struct {
	RRFK       int // RRF_K
	TopNBM25   int // TOPN_BM25
	TopNVector int // TOPN_VECTOR
	MaxQueryLen int // MAX_QUERY_LEN
	MaxTopK    int // MAX_TOP_K
}

type BackendsConfig struct {
	LLMProvider      string // LLM_PROVIDER: openai | gemini | anthropic
	LLMModel         string // LLM_MODEL
	OpenAIAPIKey     string // OPENAI_API_KEY
	GeminiAPIKey     string // GEMINI_API_KEY
	AnthropicAPIKey  string // ANTHROPIC_API_KEY
	EmbeddingModel   string // EMBEDDING_MODEL
	EmbeddingDim     int    // EMBEDDING_DIMENSIONS
	OCRBinary        string // OCR_BINARY
	BlobDir          string // BLOB_DIR
	ProviderSendURL  string // PROVIDER_SEND_URL (WhatsApp vendor messages endpoint)
	CalendarBaseURL  string // CALENDAR_BASE_URL
}

type SecurityConfig struct {
	AdminToken        string // ADMIN_TOKEN
	MetricsKey        string // METRICS_KEY
	EncryptionKey     string // ENCRYPTION_KEY
	ProviderAuthToken string // PROVIDER_AUTH_TOKEN
}

type AppConfig struct {
	Port               string
	LogLevel           string // LOG_LEVEL
	CORSAllowOrigins   []string // CORS_ALLOW_ORIGINS
	AllowJSONWebhook   bool
}

// Load reads configuration from the process environment (and an optional
// .env file for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Database: DatabaseConfig{
			URL:              getEnv(v, "DATABASE_URL", "file:loomwire.db?_journal_mode=WAL&_foreign_keys=on"),
			Driver:           driverFromURL(getEnv(v, "DATABASE_URL", "")),
			MinConns:         getEnvInt(v, "DB_MIN_CONNS", 2),
			MaxConns:         getEnvInt(v, "DB_MAX_CONNS", 20),
			StatementTimeout: time.Duration(getEnvInt(v, "DB_STATEMENT_TIMEOUT", 30)) * time.Second,
		},
		Ephemeral: EphemeralConfig{
			RedisURL: getEnv(v, "REDIS_URL", "127.0.0.1:6379"),
		},
		Router: RouterConfig{
			DebounceMs:      getEnvInt(v, "DEBOUNCE_MS", 700),
			DebounceMax:     getEnvInt(v, "DEBOUNCE_MAX", 5),
			RateLimitPerMin: getEnvInt(v, "RATE_LIMIT_PER_MIN", 20),
		},
		Ingestion: IngestionConfig{
			MaxUploadBytes:      getEnvInt64(v, "MAX_UPLOAD_BYTES", 10<<20),
			MaxConcurrent:       getEnvInt(v, "INGESTION_MAX_CONCURRENT", 5),
			ProcessTimeout:      time.Duration(getEnvInt(v, "INGESTION_PROCESS_TIMEOUT", 60)) * time.Second,
			MaxAttempts:         getEnvInt(v, "INGESTION_MAX_ATTEMPTS", 5),
			PurgeWindowDays:     getEnvInt(v, "INGESTION_PURGE_WINDOW_DAYS", 30),
			OCREnabled:          getEnvBool(v, "OCR_ENABLED", false),
			OCRMinTextThreshold: getEnvInt(v, "TIKA_MIN_TEXT_THRESHOLD", 400),
		},
		Scheduler: SchedulerConfig{
			PollInterval:           time.Duration(getEnvInt(v, "SCHEDULER_POLL_INTERVAL", 5)) * time.Second,
			MaxConcurrencyExtract:  getEnvInt(v, "SCHEDULER_MAX_CONCURRENCY_EXTRACT", 1),
			MaxConcurrencyChunk:    getEnvInt(v, "SCHEDULER_MAX_CONCURRENCY_CHUNK", 2),
			MaxConcurrencyEmbed:    getEnvInt(v, "SCHEDULER_MAX_CONCURRENCY_EMBED", 2),
			PriorityExtract:        getEnvInt(v, "PRIORITY_EXTRACT", 100),
			PriorityChunk:          getEnvInt(v, "PRIORITY_CHUNK", 60),
			PriorityEmbed:          getEnvInt(v, "PRIORITY_EMBED", 20),
			EmbeddingConcurrency:   getEnvInt(v, "EMBEDDING_CONCURRENCY", 4),
			EmbeddingCBFails:       getEnvInt(v, "EMBEDDING_CB_FAILS", 5),
			EmbeddingCBWindowSec:   getEnvInt(v, "EMBEDDING_CB_WINDOW_SEC", 60),
			EmbeddingCBCooldownSec: getEnvInt(v, "EMBEDDING_CB_COOLDOWN_SEC", 45),
		},
		Retrieval: RetrievalConfig{
			RRFK:        getEnvInt(v, "RRF_K", 60),
			TopNBM25:    getEnvInt(v, "TOPN_BM25", 20),
			TopNVector:  getEnvInt(v, "TOPN_VECTOR", 20),
			MaxQueryLen: getEnvInt(v, "MAX_QUERY_LEN", 1024),
			MaxTopK:     getEnvInt(v, "MAX_TOP_K", 50),
		},
		Backends: BackendsConfig{
			LLMProvider:     getEnv(v, "LLM_PROVIDER", "openai"),
			LLMModel:        getEnv(v, "LLM_MODEL", "gpt-4o-mini"),
			OpenAIAPIKey:    getEnv(v, "OPENAI_API_KEY", ""),
			GeminiAPIKey:    getEnv(v, "GEMINI_API_KEY", ""),
			AnthropicAPIKey: getEnv(v, "ANTHROPIC_API_KEY", ""),
			EmbeddingModel:  getEnv(v, "EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDim:    getEnvInt(v, "EMBEDDING_DIMENSIONS", 1536),
			OCRBinary:       getEnv(v, "OCR_BINARY", "ocrmypdf"),
			BlobDir:         getEnv(v, "BLOB_DIR", "storages/blobs"),
			ProviderSendURL: getEnv(v, "PROVIDER_SEND_URL", ""),
			CalendarBaseURL: getEnv(v, "CALENDAR_BASE_URL", ""),
		},
		Security: SecurityConfig{
			AdminToken:        getEnv(v, "ADMIN_TOKEN", ""),
			MetricsKey:        getEnv(v, "METRICS_KEY", ""),
			EncryptionKey:     getEnv(v, "ENCRYPTION_KEY", ""),
			ProviderAuthToken: getEnv(v, "PROVIDER_AUTH_TOKEN", ""),
		},
		App: AppConfig{
			Port:             getEnv(v, "APP_PORT", "3000"),
			LogLevel:         getEnv(v, "LOG_LEVEL", "info"),
			CORSAllowOrigins: splitCSV(getEnv(v, "CORS_ALLOW_ORIGINS", "*")),
			AllowJSONWebhook: getEnvBool(v, "ALLOW_JSON_WEBHOOK", false),
		},
	}
	return cfg, nil
}

func driverFromURL(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(v *viper.Viper, key, fallback string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return fallback
}

func getEnvInt(v *viper.Viper, key string, fallback int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return fallback
}

func getEnvInt64(v *viper.Viper, key string, fallback int64) int64 {
	if v.IsSet(key) {
		return v.GetInt64(key)
	}
	return fallback
}

func getEnvBool(v *viper.Viper, key string, fallback bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return fallback
}
