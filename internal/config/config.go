package config

import (
	"fmt"
	"time"
)

type Config struct {
	Logger         LoggerConfig         `mapstructure:"logger"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Probe          ProbeConfig          `mapstructure:"probe"`
	Projects       ProjectsConfig       `mapstructure:"projects"`
	Tools          ToolsConfig          `mapstructure:"tools"`
	Classification ClassificationConfig `mapstructure:"classification"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// DatabaseConfig selects the finding store backend. An empty DSN with the
// sqlite3 driver means "the project's results.db".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
}

type HTTPConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	UserAgent       string            `mapstructure:"user_agent"`
	Proxy           string            `mapstructure:"proxy"`
	FollowRedirects bool              `mapstructure:"follow_redirects"`
	MaxBodyBytes    int64             `mapstructure:"max_body_bytes"`
	BlockPrivateIPs bool              `mapstructure:"block_private_ips"`
	Headers         map[string]string `mapstructure:"headers"`
}

// ProbeConfig bounds sequential probe runs. MaxRange is enforced by the
// caller before the engine is invoked.
type ProbeConfig struct {
	MaxRange        int64         `mapstructure:"max_range"`
	Concurrency     int           `mapstructure:"concurrency"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
}

type ProjectsConfig struct {
	Root string `mapstructure:"root"`
}

// ToolsConfig holds paths of the external recon and exploitation binaries.
// They are only checked for availability; invocation lives outside the core.
type ToolsConfig struct {
	Arjun       string `mapstructure:"arjun"`
	SQLMap      string `mapstructure:"sqlmap"`
	FFUF        string `mapstructure:"ffuf"`
	GAU         string `mapstructure:"gau"`
	WaybackURLs string `mapstructure:"waybackurls"`
	Nuclei      string `mapstructure:"nuclei"`
	Subfinder   string `mapstructure:"subfinder"`
}

// Binaries returns tool name to configured path, skipping empty entries.
func (t ToolsConfig) Binaries() map[string]string {
	all := map[string]string{
		"arjun":       t.Arjun,
		"sqlmap":      t.SQLMap,
		"ffuf":        t.FFUF,
		"gau":         t.GAU,
		"waybackurls": t.WaybackURLs,
		"nuclei":      t.Nuclei,
		"subfinder":   t.Subfinder,
	}
	for name, path := range all {
		if path == "" {
			delete(all, name)
		}
	}
	return all
}

type ClassificationConfig struct {
	// RulesFile, when set, replaces Rules with the table read from a YAML file.
	RulesFile string               `mapstructure:"rules_file"`
	Rules     []ClassificationRule `mapstructure:"rules"`
}

// ClassificationRule maps one category to its substring patterns and risk
// tier. Rules are evaluated in slice order; the first match wins.
type ClassificationRule struct {
	Category string   `mapstructure:"category" yaml:"category"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
	Risk     string   `mapstructure:"risk" yaml:"risk"`
}

// DefaultClassificationRules is the stock rule table. Order is significant:
// "auth_search" is Authentication because Authentication is declared first.
func DefaultClassificationRules() []ClassificationRule {
	return []ClassificationRule{
		{Category: "Authentication", Patterns: []string{"token", "session", "api_key", "auth", "password", "key"}, Risk: "high"},
		{Category: "Business Logic", Patterns: []string{"price", "quantity", "user_id", "order", "amount"}, Risk: "high"},
		{Category: "File Operations", Patterns: []string{"file", "path", "upload", "download", "dir"}, Risk: "high"},
		{Category: "Debug/Admin", Patterns: []string{"debug", "test", "admin", "console", "backup"}, Risk: "high"},
		{Category: "Search/Filter", Patterns: []string{"q", "search", "filter", "sort", "page"}, Risk: "low"},
		{Category: "Miscellaneous", Patterns: []string{"callback", "redirect", "lang", "version", "mode"}, Risk: "medium"},
	}
}

func (c *Config) Validate() error {
	if c.Probe.MaxRange < 0 {
		return fmt.Errorf("probe.max_range must not be negative")
	}
	if c.Probe.Concurrency < 0 {
		return fmt.Errorf("probe.concurrency must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}
	if c.Projects.Root == "" {
		return fmt.Errorf("projects.root must be set")
	}
	switch c.Database.Driver {
	case "sqlite3":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if len(c.Classification.Rules) == 0 && c.Classification.RulesFile == "" {
		return fmt.Errorf("classification rules are empty")
	}
	return nil
}

// DefaultConfig mirrors the viper defaults registered in cmd/root.go.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			MaxConnections:  1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
			BusyTimeout:     5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "paramhunt",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         5,
			MinDelay:          100 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Timeout:         10 * time.Second,
			UserAgent:       "paramhunt/1.0",
			FollowRedirects: false,
			MaxBodyBytes:    1 << 20,
			BlockPrivateIPs: false,
		},
		Probe: ProbeConfig{
			MaxRange:        10000,
			Concurrency:     1,
			RequestTimeout:  10 * time.Second,
			CheckpointEvery: 25,
		},
		Projects: ProjectsConfig{
			Root: "projects",
		},
		Tools: ToolsConfig{
			Arjun:       "arjun",
			SQLMap:      "sqlmap",
			FFUF:        "ffuf",
			GAU:         "gau",
			WaybackURLs: "waybackurls",
			Nuclei:      "nuclei",
			Subfinder:   "subfinder",
		},
		Classification: ClassificationConfig{
			Rules: DefaultClassificationRules(),
		},
	}
}
