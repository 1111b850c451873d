package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("", t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ListenHTTP != ":8080" {
		t.Fatalf("ListenHTTP = %q, want default :8080", cfg.Node.ListenHTTP)
	}
	if cfg.Blobstore.MaxBytes != 1<<30 {
		t.Fatalf("MaxBytes = %d, want default 1<<30", cfg.Blobstore.MaxBytes)
	}
}

func TestLoadReadsDefaultFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "node:\n  listen_http: \":9999\"\nblobstore:\n  max_bytes: 42\n")

	cfg, err := Load("", dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ListenHTTP != ":9999" {
		t.Fatalf("ListenHTTP = %q, want :9999", cfg.Node.ListenHTTP)
	}
	if cfg.Blobstore.MaxBytes != 42 {
		t.Fatalf("MaxBytes = %d, want 42", cfg.Blobstore.MaxBytes)
	}
}

func TestLoadMergesNamedOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "signaling:\n  follows_pool_size: 24\n  other_pool_size: 48\n")
	writeConfigFile(t, dir, "bootstrap.yaml", "signaling:\n  follows_pool_size: 100\n")

	cfg, err := Load("bootstrap", dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signaling.FollowsPoolSize != 100 {
		t.Fatalf("FollowsPoolSize = %d, want 100 from override", cfg.Signaling.FollowsPoolSize)
	}
	if cfg.Signaling.OtherPoolSize != 48 {
		t.Fatalf("OtherPoolSize = %d, want 48 from base file", cfg.Signaling.OtherPoolSize)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "node:\n  data_dir: \"/from/file\"\n")

	t.Setenv("HASHTREE_NODE_DATA_DIR", "/from/env")

	cfg, err := Load("", dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.DataDir != "/from/env" {
		t.Fatalf("DataDir = %q, want /from/env", cfg.Node.DataDir)
	}
}
