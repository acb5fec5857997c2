package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minJWTSecretLength = 32

// Config aggregates runtime configuration for the Routemate services.
type Config struct {
	Environment    string
	HTTPPort       int
	DatabaseURL    string
	DataStore      string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	PublicBaseURL  string
	FrontendURL    string

	JWTSecret          string
	IDTokenTTL         time.Duration
	SessionTTL         time.Duration
	ProfileWaitTimeout time.Duration
	ClaimsTimeout      time.Duration
	InviteTTL          time.Duration

	Storage       StorageConfig
	MaxImageBytes int64

	AuthRateLimit string
	RedisURL      string

	Google GoogleConfig
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Backend   string
	LocalPath string
	S3        S3Config
}

// S3Config holds settings for S3-compatible object storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// GoogleConfig enables optional Google sign-in for existing accounts.
type GoogleConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AllowedDomains []string
}

// Enabled reports whether Google sign-in is fully configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RedirectURL != ""
}

// Load reads configuration from environment variables with sensible defaults for local development.
// A .env file in the working directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/routemate_database_url")
	if err != nil {
		return Config{}, err
	}

	jwtSecret, err := getEnvOrFile("JWT_SECRET", "/run/secrets/routemate_jwt_secret")
	if err != nil {
		return Config{}, err
	}

	googleSecret, err := getEnvOrFile("AUTH_GOOGLE_CLIENT_SECRET", "")
	if err != nil {
		return Config{}, err
	}

	s3Secret, err := getEnvOrFile("S3_SECRET_ACCESS_KEY", "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		DatabaseURL:    databaseURL,
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		PublicBaseURL:  strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL:    strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		JWTSecret:      strings.TrimSpace(jwtSecret),
		Storage: StorageConfig{
			Backend:   strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "data/uploads"),
			S3: S3Config{
				Bucket:          getEnv("S3_BUCKET", ""),
				Region:          getEnv("S3_REGION", ""),
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: s3Secret,
			},
		},
		AuthRateLimit: getEnv("RATE_LIMIT_AUTH", "20-M"),
		RedisURL:      getEnv("REDIS_URL", ""),
		Google: GoogleConfig{
			ClientID:       getEnv("AUTH_GOOGLE_CLIENT_ID", ""),
			ClientSecret:   strings.TrimSpace(googleSecret),
			RedirectURL:    getEnv("AUTH_GOOGLE_REDIRECT_URL", ""),
			AllowedDomains: parseCSV(getEnv("AUTH_GOOGLE_ALLOWED_DOMAINS", "")),
		},
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"ID_TOKEN_TTL", time.Hour, &cfg.IDTokenTTL},
		{"SESSION_TTL", 30 * 24 * time.Hour, &cfg.SessionTTL},
		{"AUTH_PROFILE_TIMEOUT", 5 * time.Second, &cfg.ProfileWaitTimeout},
		{"AUTH_CLAIMS_TIMEOUT", 10 * time.Second, &cfg.ClaimsTimeout},
		{"INVITE_TTL", 7 * 24 * time.Hour, &cfg.InviteTTL},
	}
	for _, d := range durations {
		value, err := getDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = value
	}

	maxImage := getEnv("MAX_IMAGE_BYTES", "10485760")
	cfg.MaxImageBytes, err = strconv.ParseInt(maxImage, 10, 64)
	if err != nil || cfg.MaxImageBytes <= 0 {
		return Config{}, fmt.Errorf("invalid MAX_IMAGE_BYTES %q", maxImage)
	}

	if cfg.DataStore != "memory" && cfg.DataStore != "postgres" {
		return Config{}, fmt.Errorf("unsupported DATA_STORE %q (must be memory or postgres)", cfg.DataStore)
	}

	if cfg.DataStore == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
	}

	if !cfg.IsDevelopment() && len(cfg.JWTSecret) < minJWTSecretLength {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least %d characters outside development", minJWTSecretLength)
	}

	if !cfg.IsDevelopment() {
		if len(cfg.AllowedOrigins) == 0 {
			return Config{}, fmt.Errorf("ALLOWED_ORIGINS must define at least one origin outside development")
		}
		for _, origin := range cfg.AllowedOrigins {
			if origin == "*" {
				return Config{}, fmt.Errorf("ALLOWED_ORIGINS cannot contain wildcard outside development")
			}
		}
	}

	if cfg.Storage.Backend == "s3" && cfg.Storage.S3.Bucket == "" {
		return Config{}, fmt.Errorf("STORAGE_BACKEND is s3 but S3_BUCKET is not set")
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repositories should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// IsDevelopment reports whether the service runs in the development environment.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return value, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
