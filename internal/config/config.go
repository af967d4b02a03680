package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	Env     string
	LLM     LLMConfig
	Store   StoreConfig
	Archive ArchiveConfig
	Engine  EngineConfig
}

type LLMConfig struct {
	Provider   string // gemini, groq, fake
	Model      string
	EmbedModel string
	GroqAPIKey string
	MaxTokens  int
}

type StoreConfig struct {
	DatabaseURL string // postgres when set, file store otherwise
	RecordsFile string
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type EngineConfig struct {
	RecordID          string
	WriterConcurrency int
	WriteTimeout      time.Duration
	SaveQuiet         time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:    *port,
		Env:     env,
		LLM:     loadLLMConfig(),
		Store:   loadStoreConfig(),
		Archive: loadArchiveConfig(env),
		Engine:  loadEngineConfig(),
	}, nil
}

func loadLLMConfig() LLMConfig {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	groqKey := strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	if provider == "" {
		// Pick from available credentials; the fake backend keeps local
		// runs working without any key.
		switch {
		case strings.TrimSpace(os.Getenv("GEMINI_API_KEY")) != "":
			provider = "gemini"
		case groqKey != "":
			provider = "groq"
		default:
			provider = "fake"
		}
	}
	return LLMConfig{
		Provider:   provider,
		Model:      strings.TrimSpace(os.Getenv("LLM_MODEL")),
		EmbedModel: strings.TrimSpace(os.Getenv("LLM_EMBED_MODEL")),
		GroqAPIKey: groqKey,
		MaxTokens:  intEnv("LLM_MAX_TOKENS", 0),
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RecordsFile: firstNonEmpty(strings.TrimSpace(os.Getenv("RECORDS_FILE")), ".storyloom/records.json"),
	}
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")), "storyloom-snapshots"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("ARCHIVE_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		RecordID:          firstNonEmpty(strings.TrimSpace(os.Getenv("RECORD_ID")), "workspace"),
		WriterConcurrency: intEnv("WRITER_CONCURRENCY", 3),
		WriteTimeout:      durationEnv("WRITE_TIMEOUT", 2*time.Minute),
		SaveQuiet:         durationEnv("SAVE_QUIET", 2*time.Second),
	}
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
