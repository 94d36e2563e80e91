package config

import (
	"log"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	DatabaseURL     string
	SQLitePath      string
	Env             string
	Threads         int
	MaxSessions     int
	ReferencesURL   string
}

// Load reads configuration from an optional TOML file and environment
// variables. Environment variables win over file values.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("KANA_CONFIG")); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			log.Printf("config: ignoring %s: %v", path, err)
		} else {
			file = loaded
		}
	}

	env := normalizeEnv(getEnv("ENV", orDefault(file.Env, "dev")))
	dbURL := getEnv("DATABASE_URL", file.Database.URL)

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", orDefault(file.Port, "8080")),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", orDefault(strings.Join(file.CORSAllowOrigins, ","), "http://localhost:5173"))),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", orDefault(file.ObjectStore.Type, "local"))),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", orDefault(file.ObjectStore.LocalDir, "./data")),
		AWSRegion:       getEnv("AWS_REGION", file.ObjectStore.Region),
		S3Bucket:        getEnv("S3_BUCKET", file.ObjectStore.Bucket),
		S3Prefix:        getEnv("S3_PREFIX", file.ObjectStore.Prefix),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", file.ObjectStore.KMSKeyID),
		DatabaseURL:     dbURL,
		SQLitePath:      getEnv("SQLITE_PATH", file.Database.SQLitePath),
		Env:             env,
		Threads:         normalizeThreads(getEnvInt("KANA_THREADS", file.Threads)),
		MaxSessions:     normalizeMaxSessions(getEnvInt("KANA_MAX_SESSIONS", file.MaxSessions)),
		ReferencesURL:   getEnv("REFERENCES_URL", file.ReferencesURL),
	}
}

// DefaultThreads mirrors the worker sizing: two thirds of the available cores.
func DefaultThreads() int {
	n := int(math.Round(float64(runtime.NumCPU()) * 2 / 3))
	if n < 1 {
		return 1
	}
	return n
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s invalid int: %v", key, err)
		return def
	}
	return val
}

func orDefault(val, def string) string {
	if strings.TrimSpace(val) == "" {
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "memory", "mem":
		return "memory"
	default:
		return "local"
	}
}

func normalizeMaxSessions(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}

func normalizeThreads(n int) int {
	if n <= 0 {
		return DefaultThreads()
	}
	return n
}
