package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"nexusradar/internal/domain"
)

type Config struct {
	Env                string
	ListenAddr         string
	DatabaseURL        string
	RedisURL           string
	ReportCacheTTL     time.Duration
	ReportWorkers      int
	WorkerPollInterval time.Duration
	RulesFile          string
	DefaultBasis       string
	DefaultRange       string
	Log                LogConfig
	QBO                QBOConfig
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// QBOConfig points at the accounting platform's query API. The bearer token
// is obtained by the connect flow outside this service.
type QBOConfig struct {
	BaseURL      string
	AccessToken  string
	MinorVersion int
	PageSize     int
	Timeout      time.Duration
}

// Enabled reports whether an upstream source is configured.
func (c QBOConfig) Enabled() bool { return c.BaseURL != "" && c.AccessToken != "" }

// Error lists every problem found by Validate.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads configuration with this priority (highest first):
//  1. environment variables with the NEXUS_ prefix (NEXUS_QBO_ACCESS_TOKEN),
//     plus the bare DATABASE_URL, LISTEN_ADDR, REDIS_URL and APP_ENV
//  2. config.toml in . or /app
//  3. built-in defaults
//
// A .env file in the working directory is loaded into the environment first.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"database_url": "DATABASE_URL",
		"listen_addr":  "LISTEN_ADDR",
		"redis_url":    "REDIS_URL",
		"app.env":      "APP_ENV",
	} {
		prefixed := "NEXUS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := Config{
		Env:                v.GetString("app.env"),
		ListenAddr:         v.GetString("listen_addr"),
		DatabaseURL:        v.GetString("database_url"),
		RedisURL:           v.GetString("redis_url"),
		ReportCacheTTL:     v.GetDuration("report_cache_ttl"),
		ReportWorkers:      v.GetInt("report_workers"),
		WorkerPollInterval: v.GetDuration("worker_poll_interval"),
		RulesFile:          v.GetString("rules_file"),
		DefaultBasis:       v.GetString("default_basis"),
		DefaultRange:       v.GetString("default_range"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		QBO: QBOConfig{
			BaseURL:      v.GetString("qbo.base_url"),
			AccessToken:  v.GetString("qbo.access_token"),
			MinorVersion: v.GetInt("qbo.minor_version"),
			PageSize:     v.GetInt("qbo.page_size"),
			Timeout:      v.GetDuration("qbo.timeout"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("report_cache_ttl", 10*time.Minute)
	v.SetDefault("report_workers", 2)
	v.SetDefault("worker_poll_interval", 500*time.Millisecond)
	v.SetDefault("rules_file", "")
	v.SetDefault("default_basis", string(domain.BasisAccrual))
	v.SetDefault("default_range", string(domain.RangeLast12))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("qbo.base_url", "")
	v.SetDefault("qbo.access_token", "")
	v.SetDefault("qbo.minor_version", 65)
	v.SetDefault("qbo.page_size", 1000)
	v.SetDefault("qbo.timeout", 30*time.Second)
}

// Validate performs the startup checks. Problems are returned together so an
// operator can fix them in one pass.
func (c Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" && c.Env == "production" {
		problems = append(problems, "DATABASE_URL is required in production")
	}
	if (c.QBO.BaseURL == "") != (c.QBO.AccessToken == "") {
		problems = append(problems, "qbo.base_url and qbo.access_token must be set together")
	}
	if c.QBO.PageSize <= 0 || c.QBO.PageSize > 1000 {
		problems = append(problems, fmt.Sprintf("qbo.page_size must be between 1 and 1000, got %d", c.QBO.PageSize))
	}
	if _, err := domain.ParseBasis(c.DefaultBasis); err != nil {
		problems = append(problems, fmt.Sprintf("default_basis: %v", err))
	}
	if preset, err := domain.ParseRangePreset(c.DefaultRange); err != nil {
		problems = append(problems, fmt.Sprintf("default_range: %v", err))
	} else if preset == domain.RangeCustom {
		problems = append(problems, "default_range cannot be custom")
	}
	if c.ReportWorkers < 0 {
		problems = append(problems, "report_workers must not be negative")
	}
	if c.ReportWorkers > 0 && c.WorkerPollInterval <= 0 {
		problems = append(problems, "worker_poll_interval must be positive when workers are enabled")
	}
	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}
