package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "sfdps:\n  host: sfdps.example\n  vpn: default\nhttp:\n  listen_addr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load[Config](path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SFDPS.Host != "sfdps.example" {
		t.Errorf("SFDPS.Host = %q, want sfdps.example", cfg.SFDPS.Host)
	}
	if cfg.HTTP.ListenAddr != ":9090" {
		t.Errorf("HTTP.ListenAddr = %q, want :9090", cfg.HTTP.ListenAddr)
	}
}

func TestLoadDotEnv(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	envBody := "# comment\nSFDPS_USER=alice\nSFDPS_PASS = \"s3cret\"\n\nSFDPS_QUEUE=q1\n"
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte(envBody), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	os.Unsetenv("SFDPS_USER")
	os.Unsetenv("SFDPS_PASS")
	os.Unsetenv("SFDPS_QUEUE")

	path, err := LoadDotEnv(nested)
	if err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if path == "" {
		t.Fatal("LoadDotEnv() found no .env, want the one in root")
	}
	if got := os.Getenv("SFDPS_USER"); got != "alice" {
		t.Errorf("SFDPS_USER = %q, want alice", got)
	}
	if got := os.Getenv("SFDPS_PASS"); got != "s3cret" {
		t.Errorf("SFDPS_PASS = %q, want s3cret", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	os.Setenv("SFDPS_HOST", "override.example")
	defer os.Unsetenv("SFDPS_HOST")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if cfg.SFDPS.Host != "override.example" {
		t.Errorf("SFDPS.Host = %q, want override.example", cfg.SFDPS.Host)
	}
}

func TestBrokerConfigValidate(t *testing.T) {
	var b BrokerConfig
	if err := b.Validate("sfdps"); err == nil {
		t.Fatal("Validate() on empty config should error")
	}
	b = BrokerConfig{Host: "h", Username: "u", Password: "p", Queue: "q"}
	if err := b.Validate("sfdps"); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
