package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr         string
	MongoURI         string
	MongoDatabase    string
	MongoCollection  string
	LogLevel         string
	LogFormat        string
	TorrentDataDir   string
	MetadataTimeout  time.Duration
	ProgressInterval time.Duration
	SessionRetention time.Duration
	StaticDir        string
	AllowedOrigins   []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DB", "magnetstream"),
		MongoCollection:  getEnv("MONGO_COLLECTION", "sessions"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:   getEnv("TORRENT_DATA_DIR", "data"),
		MetadataTimeout:  getEnvDuration("TORRENT_METADATA_TIMEOUT", 2*time.Minute),
		ProgressInterval: getEnvDuration("PROGRESS_INTERVAL", time.Second),
		SessionRetention: getEnvDuration("SESSION_RETENTION", time.Hour),
		StaticDir:        getEnv("STATIC_DIR", ""),
		AllowedOrigins:   splitCommaList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	// Bare numbers are treated as seconds.
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func splitCommaList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
