// Package config loads runner configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"mvrender/internal/pkg/logger"
	"mvrender/internal/retry"
)

const (
	DefaultProjectID       = "850b5eb8-9dbf-4ce2-add4-a5087d4d8e86"
	DefaultBucket          = "blob.api.app.ontoworks.org"
	DefaultProjectName     = "Project"
	DefaultRendererBaseURL = "http://127.0.0.1:7860"
	DefaultStatusBaseURL   = "https://api.app.ontoworks.org"
	DefaultDataDir         = "data"
	DefaultQueueName       = "mvrender:renders"
)

type Config struct {
	Project  ProjectConfig
	Renderer RendererConfig
	Status   StatusConfig
	Storage  StorageConfig
	Ledger   LedgerConfig
	Queue    QueueConfig
	Log      logger.Config

	HTTPPort string
	// CORSOrigins lists the browser origins the API answers; empty disables CORS.
	CORSOrigins []string
	// VideoURLTTL is the lifetime of presigned video links.
	VideoURLTTL time.Duration
}

// ProjectConfig identifies what to render. The CLI overrides these from flags.
type ProjectConfig struct {
	ID     string
	Name   string
	Bucket string
}

type RendererConfig struct {
	BaseURL string
	Submit  retry.Policy
	// PollInterval is the delay between job status requests.
	PollInterval time.Duration
	// PollTimeout bounds the whole poll loop; zero means no bound.
	PollTimeout     time.Duration
	SecondsPerFrame int
	DataDir         string
	CleanupFrames   bool
}

type StatusConfig struct {
	BaseURL string
	Token   string
}

type StorageConfig struct {
	// Provider is one of s3, localfs, gdrive.
	Provider  string
	LocalRoot string

	S3Region    string
	S3Endpoint  string
	S3PathStyle bool

	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string
}

// LedgerConfig selects the run ledger. DatabaseURL wins over SQLitePath;
// with neither set runs are not recorded.
type LedgerConfig struct {
	DatabaseURL string
	SQLitePath  string
}

type QueueConfig struct {
	// Backend is redis or sqs.
	Backend   string
	RedisAddr string
	Name      string
	SQSURL    string
}

// Load reads .env (if any) and the environment. serviceName is used when
// SERVICE_NAME is unset.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Project: ProjectConfig{
			ID:     Env("PROJECT_ID", DefaultProjectID),
			Name:   Env("PROJECT_NAME", DefaultProjectName),
			Bucket: Env("S3_BUCKET_NAME", DefaultBucket),
		},
		Renderer: RendererConfig{
			BaseURL: strings.TrimRight(Env("RENDERER_HTTP_BASEURL", DefaultRendererBaseURL), "/"),
			Submit: retry.Policy{
				MaxAttempts: IntEnv("SUBMIT_MAX_ATTEMPTS", 10),
				Delay:       DurationEnv("SUBMIT_RETRY_DELAY", 15*time.Second),
			},
			PollInterval:    DurationEnv("POLL_INTERVAL", 5*time.Second),
			PollTimeout:     DurationEnv("POLL_TIMEOUT", 0),
			SecondsPerFrame: IntEnv("SECONDS_PER_FRAME", 5),
			DataDir:         Env("DATA_DIR", DefaultDataDir),
			CleanupFrames:   BoolEnv("CLEANUP_FRAMES", true),
		},
		Status: StatusConfig{
			BaseURL: strings.TrimRight(Env("STATUS_API_BASEURL", DefaultStatusBaseURL), "/"),
			Token:   Env("STATUS_API_TOKEN", ""),
		},
		Storage: StorageConfig{
			Provider:           Env("STORAGE_PROVIDER", "s3"),
			LocalRoot:          Env("STORAGE_LOCAL_ROOT", "/data"),
			S3Region:           Env("S3_REGION", "us-east-1"),
			S3Endpoint:         Env("S3_ENDPOINT", ""),
			S3PathStyle:        BoolEnv("S3_PATH_STYLE", false),
			GDriveClientID:     Env("GDRIVE_CLIENT_ID", ""),
			GDriveClientSecret: Env("GDRIVE_CLIENT_SECRET", ""),
			GDriveRefreshToken: Env("GDRIVE_REFRESH_TOKEN", ""),
			GDriveFolderID:     Env("GDRIVE_FOLDER_ID", ""),
		},
		Ledger: LedgerConfig{
			DatabaseURL: Env("DATABASE_URL", ""),
			SQLitePath:  Env("SQLITE_PATH", ""),
		},
		Queue: QueueConfig{
			Backend:   strings.ToLower(Env("QUEUE_BACKEND", "redis")),
			RedisAddr: Env("REDIS_ADDR", "localhost:6379"),
			Name:      Env("JOB_QUEUE_NAME", DefaultQueueName),
			SQSURL:    Env("SQS_QUEUE_URL", ""),
		},
		Log: logger.Config{
			Level:       Env("LOG_LEVEL", "info"),
			Format:      Env("LOG_FORMAT", "json"),
			AddSource:   BoolEnv("LOG_SOURCE", false),
			ServiceName: Env("SERVICE_NAME", serviceName),
		},
		HTTPPort:    Env("HTTP_PORT", "8080"),
		CORSOrigins: CSVEnv("CORS_ALLOWED_ORIGINS"),
		VideoURLTTL: DurationEnv("VIDEO_URL_TTL", 15*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every binary depends on.
func (c *Config) Validate() error {
	if c.Renderer.Submit.MaxAttempts < 1 {
		return fmt.Errorf("SUBMIT_MAX_ATTEMPTS must be >= 1, got %d", c.Renderer.Submit.MaxAttempts)
	}
	if c.Renderer.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Renderer.SecondsPerFrame < 1 {
		return fmt.Errorf("SECONDS_PER_FRAME must be >= 1, got %d", c.Renderer.SecondsPerFrame)
	}
	switch c.Storage.Provider {
	case "s3", "localfs", "gdrive":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	switch c.Queue.Backend {
	case "redis", "sqs":
	default:
		return fmt.Errorf("unknown queue backend: %s", c.Queue.Backend)
	}
	return nil
}

// Validate checks the fields a single render needs.
func (p ProjectConfig) Validate() error {
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("project id %q is not a UUID: %w", p.ID, err)
	}
	if strings.TrimSpace(p.Bucket) == "" {
		return fmt.Errorf("bucket name is required")
	}
	return nil
}
