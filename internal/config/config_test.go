package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8080 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Session.ReceiveLimit != 64*1024 {
		t.Errorf("ReceiveLimit = %d, want 65536", cfg.Session.ReceiveLimit)
	}
	if cfg.Session.DefaultWidth != 640 || cfg.Session.DefaultHeight != 480 {
		t.Errorf("default viewport = %vx%v", cfg.Session.DefaultWidth, cfg.Session.DefaultHeight)
	}
	if cfg.Publish.RetryDelay != 5*time.Second {
		t.Errorf("RetryDelay = %v, want 5s", cfg.Publish.RetryDelay)
	}
	if cfg.Telemetry.Endpoint != "" {
		t.Errorf("telemetry enabled by default: %q", cfg.Telemetry.Endpoint)
	}
}

func TestThrottleInterval(t *testing.T) {
	tests := []struct {
		fps  int
		want time.Duration
	}{
		{30, time.Second / 30},
		{60, time.Second / 60},
		{1, time.Second},
		{0, time.Second / 30},
		{-5, time.Second / 30},
	}

	for _, tt := range tests {
		cfg := &Config{Session: SessionConfig{MaxFPS: tt.fps}}
		if got := cfg.ThrottleInterval(); got != tt.want {
			t.Errorf("ThrottleInterval(fps=%d) = %v, want %v", tt.fps, got, tt.want)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ooui.yaml")

	yaml := `
server:
  port: 9090
  host: "127.0.0.1"
  client_script: "/srv/ooui.js"
session:
  max_fps: 60
  write_timeout: 3s
publish:
  retry_delay: 250ms
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ClientScript != "/srv/ooui.js" {
		t.Errorf("ClientScript = %q", cfg.Server.ClientScript)
	}
	if cfg.ThrottleInterval() != time.Second/60 {
		t.Errorf("ThrottleInterval = %v", cfg.ThrottleInterval())
	}
	if cfg.Session.WriteTimeout != 3*time.Second {
		t.Errorf("WriteTimeout = %v, want 3s", cfg.Session.WriteTimeout)
	}
	if cfg.Publish.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", cfg.Publish.RetryDelay)
	}
	// Unset fields keep their defaults.
	if cfg.Session.ReceiveLimit != 64*1024 {
		t.Errorf("ReceiveLimit = %d, want default", cfg.Session.ReceiveLimit)
	}
	if cfg.Publish.JSONCacheTTL != time.Second {
		t.Errorf("JSONCacheTTL = %v, want default", cfg.Publish.JSONCacheTTL)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ooui.toml")

	doc := `
[server]
port = 7000
allowed_origins = ["https://example.com"]

[session]
max_fps = 10
receive_limit = 1024

[telemetry]
endpoint = "http://collector:4318"
`
	if err := os.WriteFile(cfgPath, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Session.ReceiveLimit != 1024 {
		t.Errorf("ReceiveLimit = %d, want 1024", cfg.Session.ReceiveLimit)
	}
	if cfg.Telemetry.Endpoint != "http://collector:4318" {
		t.Errorf("Endpoint = %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ooui.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 9090\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OOUI_PORT", "9191")
	t.Setenv("OOUI_MAX_FPS", "15")
	t.Setenv("OOUI_ALLOWED_ORIGINS", "https://a.test,https://b.test")
	t.Setenv("OOUI_RETRY_DELAY", "1s")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Session.MaxFPS != 15 {
		t.Errorf("MaxFPS = %d, want 15", cfg.Session.MaxFPS)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Publish.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Publish.RetryDelay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/ooui.yaml")
	if err == nil {
		t.Error("Load with missing file should return error")
	}
}

func TestLoadMissingDefaultPath(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, err := Load(DefaultPath)
	if err != nil {
		t.Fatalf("Load(DefaultPath) without a file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":\n  :\n    - [invalid"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Error("Load with invalid YAML should return error")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ooui.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 70000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load accepted an out-of-range port")
	}
}
