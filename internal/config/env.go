package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
    Port string
}

// StorageConfig defines where artifacts live on disk and the optional S3 mirror.
type StorageConfig struct {
    UploadDir    string
    ConvertedDir string
    S3Bucket     string // empty disables mirroring
    S3Region     string
    S3AccessKey  string
    S3SecretKey  string
    S3Passphrase string // empty disables at-rest encryption of mirrored copies
}

// DatabaseConfig defines record store connectivity. An empty RedisURL selects
// the in-memory store.
type DatabaseConfig struct {
    RedisURL string
}

// RetentionConfig defines the artifact retention window and history visibility
// for anonymous callers ("all" or "none").
type RetentionConfig struct {
    Window           time.Duration
    AnonymousHistory string
}

// UploadConfig defines per-request upload limits.
type UploadConfig struct {
    MaxFiles      int
    MaxFileSizeMB int
}

// ConverterConfig defines LibreOffice converter behavior.
type ConverterConfig struct {
    MaxWorkers int
    Timeout    time.Duration
}

// Config is the top-level configuration.
type Config struct {
    Server    ServerConfig
    Logging   LoggingConfig
    Axiom     AxiomConfig
    Storage   StorageConfig
    Database  DatabaseConfig
    Retention RetentionConfig
    Upload    UploadConfig
    Converter ConverterConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    cfg.Server = ServerConfig{
        Port: getEnv("PORT", "8080"),
    }

    // Logging defaults
    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/pdfbridge.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    // Axiom defaults
    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_pdfbridge",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    // Storage defaults
    cfg.Storage = StorageConfig{
        UploadDir:    getEnv("UPLOAD_DIR", "uploaded"),
        ConvertedDir: getEnv("CONVERTED_DIR", "converted"),
        S3Bucket:     getEnv("AWS_S3_BUCKET", ""),
        S3Region:     getEnv("AWS_REGION", ""),
        S3AccessKey:  getEnv("AWS_ACCESS_KEY_ID", ""),
        S3SecretKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
        S3Passphrase: getEnv("S3_MIRROR_PASSPHRASE", ""),
    }

    cfg.Database = DatabaseConfig{
        RedisURL: getEnv("REDIS_URL", ""),
    }

    // Retention defaults
    cfg.Retention = RetentionConfig{
        Window:           parseDuration(getEnv("RETENTION_WINDOW", "2m"), 2*time.Minute),
        AnonymousHistory: normalizeAnonMode(getEnv("HISTORY_ANONYMOUS", "none")),
    }

    // Upload defaults
    cfg.Upload = UploadConfig{
        MaxFiles:      parseInt(getEnv("UPLOAD_MAX_FILES", "10"), 10),
        MaxFileSizeMB: parseInt(getEnv("UPLOAD_MAX_FILE_SIZE_MB", "10"), 10),
    }

    // Converter defaults
    cfg.Converter = ConverterConfig{
        MaxWorkers: parseInt(getEnv("CONVERTER_MAX_WORKERS", "4"), 4),
        Timeout:    parseDuration(getEnv("CONVERTER_TIMEOUT", "180s"), 180*time.Second),
    }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func normalizeAnonMode(s string) string {
    v := strings.ToLower(strings.TrimSpace(s))
    if v == "all" { return "all" }
    return "none"
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
