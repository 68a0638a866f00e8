package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "ENV_FILE", "LOG_LEVEL", "LOG_FORMAT", "PORT", "METRICS_PORT",
	"OLLAMA_BASE_URL", "DEFAULT_MODEL", "API_KEY", "REDIS_ADDR", "REQUEST_TIMEOUT",
	"DRAIN_TIMEOUT", "ALLOWED_ORIGINS", "CAPTURE_LIMIT", "MAX_LINE_BYTES",
}

// clearEnv unsets every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	dir := t.TempDir()
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	return dir
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("yank", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3000 || cfg.UpstreamURL != "http://localhost:11434" || cfg.DefaultModel != "llama3.2" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RequestTimeout != 120*time.Second || cfg.CaptureLimit != 100 || cfg.MaxLineBytes != 1<<20 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if !cfg.MetricsOnMainPort() {
		t.Fatalf("metrics should default to the main port")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := clearEnv(t)
	file := filepath.Join(dir, "server.yaml")
	yaml := "port: 4000\ndefault_model: from-file\nupstream_url: http://file:11434\nrequest_timeout: 90s\ncapture_limit: 7\nmax_line_bytes: 2048\n"
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", file)
	t.Setenv("DEFAULT_MODEL", "from-env")
	t.Setenv("OLLAMA_BASE_URL", "http://env:11434")

	cfg, err := Load(newFlagSet(), []string{"--upstream-url", "http://flag:11434"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("port = %d; want file value", cfg.Port)
	}
	if cfg.RequestTimeout != 90*time.Second || cfg.CaptureLimit != 7 || cfg.MaxLineBytes != 2048 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.DefaultModel != "from-env" {
		t.Errorf("model = %q; env should beat file", cfg.DefaultModel)
	}
	if cfg.UpstreamURL != "http://flag:11434" {
		t.Errorf("upstream = %q; flag should beat env", cfg.UpstreamURL)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := clearEnv(t)
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("DEFAULT_MODEL=dotenv-model\nREQUEST_TIMEOUT=1.5\nPORT=5000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", envFile)
	t.Setenv("PORT", "6000")

	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != "dotenv-model" {
		t.Errorf("model = %q", cfg.DefaultModel)
	}
	if cfg.RequestTimeout != 1500*time.Millisecond {
		t.Errorf("timeout = %v", cfg.RequestTimeout)
	}
	if cfg.Port != 6000 {
		t.Errorf("port = %d; process env should beat the dotenv file", cfg.Port)
	}
}

func TestLoadFlags(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(newFlagSet(), []string{
		"--port", "8081",
		"--metrics-port", ":9090",
		"--request-timeout", "2.5",
		"--allowed-origins", "https://a.example, https://b.example",
		"--redis-addr", "redis://localhost:6379/1",
		"--max-line-bytes", "65536",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8081 || cfg.MetricsAddr != ":9090" || cfg.MetricsOnMainPort() {
		t.Errorf("ports: %+v", cfg)
	}
	if cfg.RequestTimeout != 2500*time.Millisecond {
		t.Errorf("timeout = %v", cfg.RequestTimeout)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.RedisAddr != "redis://localhost:6379/1" {
		t.Errorf("redis = %q", cfg.RedisAddr)
	}
	if cfg.MaxLineBytes != 65536 {
		t.Errorf("max line bytes = %d", cfg.MaxLineBytes)
	}
}

func TestMaxLineBytesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_LINE_BYTES", "4096")
	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxLineBytes != 4096 {
		t.Fatalf("max line bytes = %d", cfg.MaxLineBytes)
	}
}

func TestMetricsPortEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("METRICS_PORT", "9100")
	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsAddr != ":9100" {
		t.Fatalf("metrics addr = %q", cfg.MetricsAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"port", []string{"--port", "70000"}},
		{"upstream", []string{"--upstream-url", "localhost"}},
		{"timeout", []string{"--request-timeout", "-1"}},
		{"limit", []string{"--capture-limit", "-3"}},
		{"max line", []string{"--max-line-bytes", "-1"}},
		{"unknown flag", []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(newFlagSet(), tt.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadBadConfigFile(t *testing.T) {
	dir := clearEnv(t)
	file := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(file, []byte("port: [nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", file)
	if _, err := Load(newFlagSet(), nil); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		home        string
		programData string
		want        string
	}{
		{name: "linux", goos: "linux", home: "/home/user", want: "/etc/yank/server.yaml"},
		{name: "darwin", goos: "darwin", home: "/Users/test", want: "/Users/test/Library/Application Support/yank/server.yaml"},
		{name: "windows", goos: "windows", programData: "C:\\ProgramData", want: "C:/ProgramData/yank/server.yaml"},
		{name: "windows default ProgramData", goos: "windows", want: "C:/ProgramData/yank/server.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveConfigPath(tt.goos, tt.home, tt.programData, "server.yaml")
			got = strings.ReplaceAll(got, "\\", "/")
			if got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}
