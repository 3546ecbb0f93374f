package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the registry daemon.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Redis   RedisConfig   `yaml:"redis"`
	Index   IndexConfig   `yaml:"index"`
	Jobs    JobsConfig    `yaml:"jobs"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DataConfig holds on-disk layout settings (registry.db, storage/, index/).
type DataConfig struct {
	Root string `yaml:"root"`
}

// DatabasePath returns the path to the embedded SQLite metadata store.
func (d *DataConfig) DatabasePath() string {
	return d.Root + "/registry.db"
}

// StorageRoot returns the path to the content-addressed artifact store.
func (d *DataConfig) StorageRoot() string {
	return d.Root + "/storage"
}

// IndexRoot returns the path to the git-backed index working tree.
func (d *DataConfig) IndexRoot() string {
	return d.Root + "/index"
}

// RedisConfig holds the optional advisory-cache connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// RedisAddr returns the Redis address.
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// IndexConfig holds git-index settings: commit author, branch, protocol toggles.
type IndexConfig struct {
	AuthorName    string `yaml:"author_name"`
	AuthorEmail   string `yaml:"author_email"`
	Branch        string `yaml:"branch"`
	AllowGit      bool   `yaml:"allow_git"`
	AllowSparse   bool   `yaml:"allow_sparse"`
	DownloadBase  string `yaml:"download_base"`
	APIBase       string `yaml:"api_base"`
	RegistryTitle string `yaml:"registry_title"`
}

// JobsConfig holds docs/deps worker tuning.
type JobsConfig struct {
	DocsMaxRetries   int           `yaml:"docs_max_retries"`
	DocsBuildCommand string        `yaml:"docs_build_command"`
	DepsScanInterval time.Duration `yaml:"deps_scan_interval"`
	AdvisoryFeedURL  string        `yaml:"advisory_feed_url"`
}

// OAuthConfig holds the client settings consumed by the (out-of-core-scope)
// cookie/OAuth HTTP layer. Only the shape is owned here; exchanging codes
// for tokens is the HTTP boundary's job, not the registry engine's.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	RedirectURL  string `yaml:"redirect_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// SetupLogging configures the global zerolog logger from this config.
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if l.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Data: DataConfig{
			Root: getEnv("DATA_ROOT", "./data"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
		},
		Index: IndexConfig{
			AuthorName:    getEnv("INDEX_AUTHOR_NAME", "registry-bot"),
			AuthorEmail:   getEnv("INDEX_AUTHOR_EMAIL", "registry-bot@localhost"),
			Branch:        getEnv("INDEX_BRANCH", "master"),
			AllowGit:      getEnv("INDEX_ALLOW_GIT", "true") == "true",
			AllowSparse:   getEnv("INDEX_ALLOW_SPARSE", "true") == "true",
			DownloadBase:  getEnv("INDEX_DOWNLOAD_BASE", "http://localhost:8080/api/v1/crates"),
			APIBase:       getEnv("INDEX_API_BASE", "http://localhost:8080"),
			RegistryTitle: getEnv("INDEX_REGISTRY_TITLE", "local registry"),
		},
		Jobs: JobsConfig{
			DocsMaxRetries:   getEnvInt("JOBS_DOCS_MAX_RETRIES", 3),
			DocsBuildCommand: getEnv("JOBS_DOCS_BUILD_COMMAND", "docbuild"),
			DepsScanInterval: getEnvDuration("JOBS_DEPS_SCAN_INTERVAL", time.Hour),
			AdvisoryFeedURL:  getEnv("JOBS_ADVISORY_FEED_URL", "https://example.invalid/advisories.jsonl"),
		},
		OAuth: OAuthConfig{
			ClientID:     getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
			AuthURL:      getEnv("OAUTH_AUTH_URL", ""),
			TokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
			RedirectURL:  getEnv("OAUTH_REDIRECT_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
