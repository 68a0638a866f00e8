package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the yank relay server.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	UpstreamURL    string        `yaml:"upstream_url"`
	DefaultModel   string        `yaml:"default_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	APIKey         string        `yaml:"api_key"`
	RedisAddr      string        `yaml:"redis_addr"`
	CaptureLimit   int           `yaml:"capture_limit"`
	MaxLineBytes   int           `yaml:"max_line_bytes"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	ConfigFile     string        `yaml:"-"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.UpstreamURL == "" {
		c.UpstreamURL = "http://localhost:11434"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "llama3.2"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 120 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.CaptureLimit == 0 {
		c.CaptureLimit = 100
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = 1 << 20
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("LOG_FORMAT", ""); v != "" {
		c.LogFormat = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := GetEnv("OLLAMA_BASE_URL", ""); v != "" {
		c.UpstreamURL = v
	}
	if v := GetEnv("DEFAULT_MODEL", ""); v != "" {
		c.DefaultModel = v
	}
	if v := GetEnv("API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("CAPTURE_LIMIT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CaptureLimit = n
		}
	}
	if v := GetEnv("MAX_LINE_BYTES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxLineBytes = n
		}
	}
}

// BindFlags binds command line flags on fs using the current config values as
// defaults.
func (c *ServerConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log output format (console, json)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the public API")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; empty serves /metrics on --port")
	fs.StringVar(&c.UpstreamURL, "upstream-url", c.UpstreamURL, "base URL of the Ollama compatible generation server")
	fs.StringVar(&c.DefaultModel, "default-model", c.DefaultModel, "model used when a request does not name one")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "client API key required for /api requests; leave empty to disable auth")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for the shared capture log; empty keeps it in memory")
	fs.IntVar(&c.CaptureLimit, "capture-limit", c.CaptureLimit, "number of captures kept before the oldest is evicted")
	fs.IntVar(&c.MaxLineBytes, "max-line-bytes", c.MaxLineBytes, "upstream line length above which a warning is logged; longer lines are still relayed")
	fs.Func("request-timeout", "seconds without upstream data before a relay call is aborted", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight relay calls on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFile populates the config from a YAML file. Durations accept Go
// duration strings such as "90s".
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// LoadDotEnv seeds the process environment from a dotenv file. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// MetricsOnMainPort reports whether /metrics is served by the public listener.
func (c *ServerConfig) MetricsOnMainPort() bool {
	return c.MetricsAddr == "" || c.MetricsAddr == fmt.Sprintf(":%d", c.Port)
}

// Validate checks the values that would otherwise fail at first use.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream url %q", c.UpstreamURL)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	if c.CaptureLimit <= 0 {
		return fmt.Errorf("capture limit must be positive")
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("max line bytes must be positive")
	}
	return nil
}

// Load resolves the configuration with precedence defaults < config file <
// environment (including the dotenv file named by ENV_FILE, default ".env") <
// command line flags.
func Load(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	var c ServerConfig
	c.SetDefaults()
	if err := LoadDotEnv(GetEnv("ENV_FILE", ".env")); err != nil {
		return c, err
	}
	c.ApplyEnv()
	c.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	if err := c.LoadFile(c.ConfigFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return c, fmt.Errorf("load config %s: %w", c.ConfigFile, err)
		}
	} else {
		// the file may have overwritten values set by env or flags
		c.ApplyEnv()
		if err := fs.Parse(args); err != nil {
			return c, err
		}
	}
	return c, c.Validate()
}
