package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"paper2slides/pkg/domain"
)

// ConfigPath is the default config location, relative to the working directory.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel           string         `yaml:"logLevel"`
	BackendURL         string         `yaml:"backendURL"`
	RequestTimeoutMs   int            `yaml:"requestTimeoutMs"`
	PollIntervalMs     int            `yaml:"pollIntervalMs"`
	ResultRetryDelayMs int            `yaml:"resultRetryDelayMs"`
	StatePath          string         `yaml:"statePath"`
	DatabaseURL        string         `yaml:"databaseURL"`
	RedisAddr          string         `yaml:"redisAddr"`
	RedisPassword      string         `yaml:"redisPassword"`
	FetchGuardTTLMs    int            `yaml:"fetchGuardTtlMs"`
	Archive            ArchiveConfig  `yaml:"archive"`
	Defaults           DefaultsConfig `yaml:"defaults"`
}

// ArchiveConfig selects where finished artifacts are copied. Both empty disables archiving.
type ArchiveConfig struct {
	Dir            string `yaml:"dir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
}

// DefaultsConfig seeds the generation settings of new conversations.
type DefaultsConfig struct {
	Content  string `yaml:"content"`
	Style    string `yaml:"style"`
	Output   string `yaml:"output"`
	Length   string `yaml:"length"`
	Density  string `yaml:"density"`
	FastMode *bool  `yaml:"fastMode"`
	Language string `yaml:"language"`
}

// Load reads config from path (defaults to config.yaml), after loading a local .env file.
// A missing default config file is not an error; everything can come from the environment.
func Load(path string) (FileConfig, error) {
	_ = godotenv.Load()
	cfg := FileConfig{}
	explicit := path != ""
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("P2S_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("P2S_BACKEND_URL"); v != "" {
		cfg.BackendURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("P2S_STATE_PATH"); v != "" {
		cfg.StatePath = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setInt(&cfg.RequestTimeoutMs, "P2S_REQUEST_TIMEOUT_MS")
	setInt(&cfg.PollIntervalMs, "P2S_POLL_INTERVAL_MS")
	setInt(&cfg.ResultRetryDelayMs, "P2S_RESULT_RETRY_DELAY_MS")
	setInt(&cfg.FetchGuardTTLMs, "P2S_FETCH_GUARD_TTL_MS")
	if v := os.Getenv("P2S_ARCHIVE_DIR"); v != "" {
		cfg.Archive.Dir = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Archive.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Archive.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Archive.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Archive.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Archive.MinioUseSSL = b
		}
	}
	if v := os.Getenv("P2S_LANGUAGE"); v != "" {
		cfg.Defaults.Language = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 30000
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = 1500
	}
	if cfg.ResultRetryDelayMs == 0 {
		cfg.ResultRetryDelayMs = 2000
	}
	if cfg.FetchGuardTTLMs == 0 {
		cfg.FetchGuardTTLMs = 600000
	}
	if cfg.StatePath == "" && cfg.DatabaseURL == "" {
		cfg.StatePath = ".paper2slides/conversations.db"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.BackendURL) == "" {
		return errors.New("config: backendURL is required (set in config.yaml or P2S_BACKEND_URL)")
	}
	u, err := url.Parse(cfg.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: backendURL %q must be an absolute URL", cfg.BackendURL)
	}
	if cfg.RequestTimeoutMs < 0 || cfg.PollIntervalMs < 0 || cfg.ResultRetryDelayMs < 0 || cfg.FetchGuardTTLMs < 0 {
		return errors.New("config: durations must be >= 0")
	}
	a := cfg.Archive
	if a.MinioEndpoint != "" && (a.MinioAccessKey == "" || a.MinioSecretKey == "" || a.MinioBucket == "") {
		return errors.New("config: archive.minioAccessKey, minioSecretKey and minioBucket are required with minioEndpoint")
	}
	d := cfg.Defaults
	if d.Content != "" && d.Content != string(domain.ContentPaper) && d.Content != string(domain.ContentGeneral) {
		return fmt.Errorf("config: defaults.content must be paper or general, got %q", d.Content)
	}
	if d.Output != "" && d.Output != string(domain.OutputSlides) && d.Output != string(domain.OutputPoster) {
		return fmt.Errorf("config: defaults.output must be slides or poster, got %q", d.Output)
	}
	return nil
}

// GenerationDefaults merges configured defaults over the built-in ones.
func (c FileConfig) GenerationDefaults() domain.GenerationConfig {
	g := domain.DefaultConfig()
	d := c.Defaults
	if d.Content != "" {
		g.Content = domain.ContentType(d.Content)
	}
	if d.Style != "" {
		g.Style = d.Style
	}
	if d.Output != "" {
		g.Output = domain.OutputType(d.Output)
	}
	if d.Length != "" {
		g.Length = d.Length
	}
	if d.Density != "" {
		g.Density = d.Density
	}
	if d.FastMode != nil {
		g.FastMode = *d.FastMode
	}
	g.Language = d.Language
	return g
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
