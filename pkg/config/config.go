package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-cadcheck.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Upload    UploadConfig    `yaml:"upload"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Rules     RulesConfig     `yaml:"rules"`
	DWG       DWGConfig       `yaml:"dwg"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// CORSOriginsStr is a comma-separated list of allowed browser origins.
	CORSOriginsStr string   `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"http://localhost:3000"`
	CORSOrigins    []string `yaml:"-"`
}

// UploadConfig controls document ingestion.
type UploadConfig struct {
	Dir                  string   `yaml:"dir" env:"UPLOAD_DIR" env-default:"./uploads"`
	MaxBytes             int64    `yaml:"max_bytes" env:"UPLOAD_MAX_BYTES" env-default:"10485760"`
	AllowedExtensionsStr string   `yaml:"allowed_extensions" env:"UPLOAD_ALLOWED_EXTENSIONS" env-default:"dxf,dwg"`
	AllowedExtensions    []string `yaml:"-"`
	// RetentionHours is how long uploaded documents and finished jobs are kept. 0 disables pruning.
	RetentionHours int `yaml:"retention_hours" env:"UPLOAD_RETENTION_HOURS" env-default:"72"`
}

// AnalysisConfig controls the analysis job orchestrator and scoring.
type AnalysisConfig struct {
	Workers         int     `yaml:"workers" env:"ANALYSIS_WORKERS" env-default:"4"`
	TimeoutSeconds  int     `yaml:"timeout_seconds" env:"ANALYSIS_TIMEOUT_SECONDS" env-default:"60"`
	DefaultStandard string  `yaml:"default_standard" env:"ANALYSIS_DEFAULT_STANDARD" env-default:"GB/T 14665-2012"`
	PassThreshold   float64 `yaml:"pass_threshold" env:"ANALYSIS_PASS_THRESHOLD" env-default:"80"`
	CriticalWeight  float64 `yaml:"critical_weight" env:"ANALYSIS_CRITICAL_WEIGHT" env-default:"15"`
	WarningWeight   float64 `yaml:"warning_weight" env:"ANALYSIS_WARNING_WEIGHT" env-default:"5"`
	InfoWeight      float64 `yaml:"info_weight" env:"ANALYSIS_INFO_WEIGHT" env-default:"1"`
}

// Timeout returns the per-job wall-clock bound.
func (c *AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RulesConfig controls where rule-set parameters come from.
type RulesConfig struct {
	// Path is an optional YAML rule-set file. Built-in defaults are used when empty.
	Path  string `yaml:"path" env:"RULES_PATH" env-default:""`
	Watch bool   `yaml:"watch" env:"RULES_WATCH" env-default:"false"`
}

// DWGConfig controls conversion of DWG uploads to DXF.
type DWGConfig struct {
	// ConverterPath is the ODA File Converter or LibreDWG dwg2dxf executable. Empty disables conversion.
	ConverterPath  string `yaml:"converter_path" env:"DWG_CONVERTER_PATH" env-default:""`
	ConverterKind  string `yaml:"converter_kind" env:"DWG_CONVERTER_KIND" env-default:"dwg2dxf"`
	TempDir        string `yaml:"temp_dir" env:"DWG_TEMP_DIR" env-default:"./temp"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"DWG_TIMEOUT_SECONDS" env-default:"45"`
}

// DatabaseConfig holds optional PostgreSQL configuration for the job registry.
// When Host is empty the registry is kept in memory.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_cadcheck"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// Enabled reports whether a PostgreSQL database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// RateLimitConfig limits upload-heavy endpoints per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS" env-default:"5"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST" env-default:"10"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.parseComplexFields()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Upload.AllowedExtensions = parseExtensions(c.Upload.AllowedExtensionsStr)
	c.CORSOrigins = splitList(c.CORSOriginsStr)
}

func (c *Config) validate() error {
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return errors.New("upload.allowed_extensions must not be empty")
	}
	if c.Analysis.Workers < 1 {
		return errors.New("analysis.workers must be at least 1")
	}
	if c.Analysis.TimeoutSeconds < 1 {
		return errors.New("analysis.timeout_seconds must be at least 1")
	}
	if c.Analysis.PassThreshold < 0 || c.Analysis.PassThreshold > 100 {
		return errors.New("analysis.pass_threshold must be between 0 and 100")
	}
	for name, w := range map[string]float64{
		"critical_weight": c.Analysis.CriticalWeight,
		"warning_weight":  c.Analysis.WarningWeight,
		"info_weight":     c.Analysis.InfoWeight,
	} {
		if w < 0 {
			return fmt.Errorf("analysis.%s must not be negative", name)
		}
	}
	return nil
}

// parseExtensions normalizes "DXF, .dwg" into ["dxf", "dwg"].
func parseExtensions(value string) []string {
	var out []string
	for _, ext := range splitList(value) {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(strings.Trim(ResolveHostForDocker(c.Host), "[]"), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
