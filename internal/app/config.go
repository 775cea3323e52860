package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	MongoURI           string
	MongoDatabase      string
	MongoCollection    string
	LogLevel           string
	LogFormat          string
	TransferDataDir    string
	DownloadDir        string
	ListenPort         int
	PollInterval       time.Duration
	MetadataTimeout    time.Duration
	RedisAddr          string // empty = in-memory status snapshots
	RedisPassword      string
	RedisDB            int
	SnapshotTTL        time.Duration
	CORSAllowedOrigins []string
	OTLPEndpoint       string // empty = tracing off
	TraceSampleRate    float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DB", "filedrop"),
		MongoCollection:    getEnv("MONGO_COLLECTION", "drop_requests"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TransferDataDir:    getEnv("TRANSFER_DATA_DIR", "data"),
		DownloadDir:        getEnv("DOWNLOAD_DIR", "downloads"),
		ListenPort:         int(getEnvInt64("TRANSFER_LISTEN_PORT", 42069)),
		PollInterval:       getEnvDuration("TRANSFER_POLL_INTERVAL", time.Second),
		MetadataTimeout:    getEnvDuration("TRANSFER_METADATA_TIMEOUT", 10*time.Minute),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            int(getEnvInt64("REDIS_DB", 0)),
		SnapshotTTL:        getEnvDuration("STATUS_SNAPSHOT_TTL", time.Hour),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate:    getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("90s", "10m"). Non-positive or
// malformed values fall back.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	return parseCSV(os.Getenv(key))
}

func parseCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
