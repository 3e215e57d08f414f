package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendPostgREST = "postgrest"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string
	LogLevel string

	StoreBackend    string
	SupabaseURL     string
	SupabaseKey     string
	DatabaseURL     string
	StoreTimeout    time.Duration
	CORSOrigins     []string
	RedisAddr       string
	QueueBackend    string
	AuditEnabled    bool
	RateLimitPerMin int
	LockTTL         time.Duration

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	QRBaseURL string
}

// Load reads an optional .env file and returns application config populated
// from environment variables with sensible defaults.
func Load() App {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only.
func FromEnv() App {
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", BackendPostgREST)),
		SupabaseURL:     strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseKey:     os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StoreTimeout:    durationEnv("STORE_TIMEOUT", 15*time.Second),
		CORSOrigins:     listEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		AuditEnabled:    boolEnv("AUDIT_ENABLED", false),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		LockTTL:         durationEnv("LOCK_TTL", 5*time.Second),

		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "certificate_templates"),

		QRBaseURL: strings.TrimRight(getEnv("QR_BASE_URL", "http://localhost:5173"), "/"),
	}
}

// Production reports whether the app runs with production settings.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// MissingStoreSettings names the environment variables the selected store
// backend needs but does not have.
func (a App) MissingStoreSettings() []string {
	var missing []string
	switch a.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if a.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		if a.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if a.SupabaseKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
		}
	}
	return missing
}

// Validate reports settings that can never work, as opposed to missing store
// credentials which only degrade the data endpoints.
func (a App) Validate() error {
	switch a.StoreBackend {
	case BackendPostgREST, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", a.StoreBackend)
	}
	switch a.QueueBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", a.QueueBackend)
	}
	if a.QueueBackend == "redis" && a.RedisAddr == "" {
		return errors.New("QUEUE_BACKEND=redis requires REDIS_ADDR")
	}
	return nil
}

// CloudinaryConfigured reports whether certificate template uploads are possible.
func (a App) CloudinaryConfigured() bool {
	return a.CloudinaryCloudName != "" && a.CloudinaryAPIKey != "" && a.CloudinaryAPISecret != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

// listEnv splits a comma-separated origin list. Entries without a scheme are
// taken as plain http origins.
func listEnv(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, fallback), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "://") {
			part = "http://" + part
		}
		out = append(out, strings.TrimRight(part, "/"))
	}
	return out
}
