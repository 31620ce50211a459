package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAnalyzeURL     = "https://www.vstu.ru/student/raspisaniya/zanyatiy/"
	DefaultStartPath      = "Расписания/Расписание занятий/"
	DefaultUpdateMinutes  = 180
	DefaultExpirationDays = 7
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Observability (optional)
	SentryDSN string

	// Pass defaults, overridable at runtime through the settings table
	AnalyzeURL      string
	StartPaths      []string
	UpdateMinutes   int
	DownloadStorage string
	GoogleJSONDir   string
	SchedulerOn     bool

	// Working directories
	TempDir     string
	VisDir      string
	SnapshotDir string

	// Network
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	UserAgent       string

	// Visualization
	ExpirationDays    int
	HighlightAgeFrom  string // "earliest" or "latest" history entry drives the fill
	DiffSourceStorage string

	// Task queue
	TaskWorkers   int
	TaskQueueSize int

	// Backends enabled for replication, in order
	StorageBackends []string

	// Local backend
	LocalRoot      string
	LocalPublicURL string

	// Google Drive backend
	DriveRootFolderID string

	// S3 backend (S3-compatible: MinIO, AWS S3, Cloudflare R2, etc.)
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3Endpoint      string
	S3PublicURL     string
	S3PresignExpiry time.Duration

	// Admin endpoints rate limit
	RateLimit       int
	RateLimitWindow time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	appURL := envString("APP_URL", "http://localhost:8090")

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Timetable Tracker"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		AppURL:  appURL,
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/timetable.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Pass
		AnalyzeURL:      envString("ANALYZE_URL", DefaultAnalyzeURL),
		StartPaths:      envList("TIMETABLE_START_PATHS", []string{DefaultStartPath}),
		UpdateMinutes:   envMinutes("TIME_UPDATE", DefaultUpdateMinutes),
		DownloadStorage: envString("DOWNLOAD_STORAGE", "local"),
		GoogleJSONDir:   envString("GOOGLE_JSON_DIR", ""),
		SchedulerOn:     envBool("SCHEDULER_ENABLED", true),

		// Working directories
		TempDir:     envString("TEMP_DIR", "./data/tmp"),
		VisDir:      envString("VIS_DIR", "./data/vis"),
		SnapshotDir: envString("SNAPSHOT_DIR", "./data/snapshots"),

		// Network
		DownloadTimeout: envDuration("DOWNLOAD_TIMEOUT", 2*time.Minute),
		UploadTimeout:   envDuration("UPLOAD_TIMEOUT", 5*time.Minute),
		UserAgent:       envString("USER_AGENT", "timetable-tracker/1.0"),

		// Visualization
		ExpirationDays:    envInt("EXPIRATION_DAYS", DefaultExpirationDays),
		HighlightAgeFrom:  envChoice("HIGHLIGHT_AGE_FROM", "earliest", "earliest", "latest"),
		DiffSourceStorage: envString("DIFF_SOURCE_STORAGE", "google drive"),

		// Task queue
		TaskWorkers:   envInt("TASK_WORKERS", 2),
		TaskQueueSize: envInt("TASK_QUEUE_SIZE", 16),

		StorageBackends: envList("STORAGE_BACKENDS", []string{"local"}),

		// Local backend
		LocalRoot:      envString("LOCAL_ROOT", "./data/files"),
		LocalPublicURL: envString("LOCAL_PUBLIC_URL", appURL),

		// Google Drive backend
		DriveRootFolderID: envString("DRIVE_ROOT_FOLDER_ID", ""),

		// S3 backend
		S3Region:        envString("S3_REGION", "us-east-1"),
		S3Bucket:        envString("S3_BUCKET", ""),
		S3AccessKey:     envString("S3_ACCESS_KEY", ""),
		S3SecretKey:     envString("S3_SECRET_KEY", ""),
		S3Endpoint:      envString("S3_ENDPOINT", ""), // Optional: for non-AWS providers
		S3PublicURL:     envString("S3_PUBLIC_URL", ""),
		S3PresignExpiry: envDuration("S3_PRESIGN_EXPIRY", 168*time.Hour), // 7 days

		RateLimit:       envInt("ADMIN_RATE_LIMIT", 30),
		RateLimitWindow: envDuration("ADMIN_RATE_LIMIT_WINDOW", time.Minute),
	}

	if cfg.ExpirationDays < 1 {
		slog.Warn("config invalid expiration days, using default", "value", cfg.ExpirationDays, "default", DefaultExpirationDays)
		cfg.ExpirationDays = DefaultExpirationDays
	}
	if cfg.TaskWorkers < 1 {
		cfg.TaskWorkers = 1
	}
	if cfg.TaskQueueSize < 1 {
		cfg.TaskQueueSize = 1
	}

	return cfg
}

// AnalyzeURLs splits the semicolon separated root list.
func (c *Config) AnalyzeURLs() []string {
	return SplitList(c.AnalyzeURL)
}

func (c *Config) HasBackend(storageType string) bool {
	for _, b := range c.StorageBackends {
		if b == storageType {
			return true
		}
	}
	return false
}

// SplitList splits a semicolon separated value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseMinutes validates an update interval. Anything that is not a
// positive integer is rejected.
func ParseMinutes(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envMinutes(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, valid := ParseMinutes(v)
	if !valid {
		slog.Warn("config invalid interval, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	items := SplitList(os.Getenv(key))
	if len(items) == 0 {
		return def
	}
	return items
}

func envChoice(key, def string, allowed ...string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	slog.Warn("config invalid choice, using default", "key", key, "value", v, "allowed", allowed, "default", def)
	return def
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
