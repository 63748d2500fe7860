package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime configuration for the orchestrator service.
type Config struct {
	Environment string
	Addr        string
	DatabaseURL string

	MigrationsDir string

	DockerHost string

	BaseDomain   string
	CertResolver string

	TraceDir string

	NotifyWebhookURL string
	NotifyRedisAddr  string
	NotifyRedisPass  string
	NotifyRedisDB    int
	NotifyChannel    string

	DeployTimeout     time.Duration
	ScaleToZeroAfter  time.Duration
	StreamSendTimeout time.Duration
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("ORCHESTRATOR_ADDR", ":4500"),
		DatabaseURL:       GetString("DATABASE_URL", "postgres://skyhook:skyhook@db:5432/skyhook?sslmode=disable"),
		MigrationsDir:     GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		DockerHost:        GetString("DOCKER_HOST_URL", ""),
		BaseDomain:        GetString("BASE_DOMAIN", "skyhook.local"),
		CertResolver:      GetString("TLS_CERT_RESOLVER", "letsencrypt"),
		TraceDir:          GetString("TRACE_DIR", filepath.Join(os.TempDir(), "skyhook-traces")),
		NotifyWebhookURL:  GetString("NOTIFY_WEBHOOK_URL", ""),
		NotifyRedisAddr:   GetString("NOTIFY_REDIS_ADDR", ""),
		NotifyRedisPass:   GetString("NOTIFY_REDIS_PASSWORD", ""),
		NotifyRedisDB:     GetInt("NOTIFY_REDIS_DB", 0),
		NotifyChannel:     GetString("NOTIFY_CHANNEL", "skyhook:releases"),
		DeployTimeout:     GetDuration("DEPLOY_TIMEOUT_SECONDS", 10*time.Minute),
		ScaleToZeroAfter:  GetDuration("SCALE_TO_ZERO_SECONDS", 5*time.Minute),
		StreamSendTimeout: GetDuration("STREAM_SEND_TIMEOUT_SECONDS", 30*time.Second),
	}
}

// IsDevelopment reports whether the service runs in a development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// TraceFile returns the progress log path for a trace id.
func (c Config) TraceFile(traceID string) string {
	return filepath.Join(c.TraceDir, traceID+".jsonl")
}
