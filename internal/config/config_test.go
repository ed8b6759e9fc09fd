package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 25554 {
		t.Errorf("Port = %d, want 25554", cfg.Port)
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
	if cfg.PingPeriod != 54*time.Second {
		t.Errorf("PingPeriod = %v", cfg.PingPeriod)
	}
	if cfg.PongWait() <= cfg.PingPeriod {
		t.Errorf("PongWait %v must exceed PingPeriod %v", cfg.PongWait(), cfg.PingPeriod)
	}
}

func TestLoadFileYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := strings.Join([]string{
		"mode: debug",
		"port: 9000",
		"send_buffer: 8",
		"ice_servers:",
		"  - stun:example.org:3478",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESHVOICE_PORT", "9100")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "debug" || cfg.SendBuffer != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, env should win", cfg.Port)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0] != "stun:example.org:3478" {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{Port: 0, ReadLimit: 1, PingPeriod: time.Second, SendBuffer: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("port 0 should be rejected")
	}
	cfg.Port = 80
	cfg.JoinRateLimit = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("rate limit without interval should be rejected")
	}
}

func TestLoadClient(t *testing.T) {
	v := NewClientViper()
	v.Set("room", "r1")
	v.Set("name", "alice")
	cfg, err := LoadClient(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "ws://localhost:25554/ws" {
		t.Errorf("Server = %q", cfg.Server)
	}

	v.Set("mic", true)
	if _, err := LoadClient(v); err == nil {
		t.Error("mic without voice should be rejected")
	}
	v.Set("voice", true)
	v.Set("server", "http://localhost")
	if _, err := LoadClient(v); err == nil {
		t.Error("non-websocket server should be rejected")
	}
}
