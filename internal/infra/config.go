package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
// Orchestrator tunables live here so tests and callers inject them explicitly
// instead of reading ambient state.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Generation provider.
	GenAIAPIKey         string
	GenAIBaseURL        string
	TextModel           string
	ImageModel          string
	VideoModel          string
	ProviderHTTPTimeout time.Duration

	// Durable object store.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string

	// Local fallback store used when MinIO is not configured.
	StoragePath string

	// Orchestrator tunables.
	ImageConcurrency int
	VideoConcurrency int
	PollInterval     time.Duration
	PollBudget       int
	RetryMax         int
	RetryBaseDelay   time.Duration

	// Merge.
	FFmpegPath string
	WorkDir    string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	AllowedOrigins     []string
	RateLimitPerMinute int

	// PublicBaseURL prefixes durable URLs served by the filesystem store.
	PublicBaseURL string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		GenAIAPIKey:         os.Getenv("GENAI_API_KEY"),
		GenAIBaseURL:        getEnv("GENAI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		TextModel:           getEnv("TEXT_MODEL", "gemini-2.0-flash"),
		ImageModel:          getEnv("IMAGE_MODEL", "gemini-2.0-flash"),
		VideoModel:          getEnv("VIDEO_MODEL", "veo-2.0"),
		ProviderHTTPTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_HTTP_TIMEOUT_SECONDS", 60)),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "reels"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioPublicURL: os.Getenv("MINIO_PUBLIC_URL"),

		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		ImageConcurrency: getEnvInt("IMAGE_CONCURRENCY", 3),
		VideoConcurrency: getEnvInt("VIDEO_CONCURRENCY", 2),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		PollBudget:       getEnvInt("POLL_BUDGET", 200),
		RetryMax:         getEnvInt("RETRY_MAX", 3),
		RetryBaseDelay:   time.Millisecond * time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 2000)),

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		WorkDir:    getEnv("WORK_DIR", os.TempDir()),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", "http://localhost:"+cfg.Port+"/static")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ImageConcurrency < 1 || cfg.VideoConcurrency < 1 {
		return nil, fmt.Errorf("concurrency ceilings must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
