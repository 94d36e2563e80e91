package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileOverlayUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kana.toml")
	body := `
env = "staging"
port = "9090"
threads = 3

[database]
sqlite_path = "/tmp/kana.db"

[object_store]
type = "s3"
bucket = "kana-artifacts"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("KANA_CONFIG", path)
	t.Setenv("PORT", "7000")
	t.Setenv("ENV", "")
	t.Setenv("OBJECT_STORE", "")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("KANA_THREADS", "")

	cfg := Load()
	if cfg.Port != "7000" {
		t.Fatalf("env should win over file, got port %q", cfg.Port)
	}
	if cfg.Env != "staging" {
		t.Fatalf("Env = %q, want staging", cfg.Env)
	}
	if cfg.ObjectStoreType != "s3" || cfg.S3Bucket != "kana-artifacts" {
		t.Fatalf("object store not taken from file: %+v", cfg)
	}
	if cfg.SQLitePath != "/tmp/kana.db" {
		t.Fatalf("SQLitePath = %q", cfg.SQLitePath)
	}
	if cfg.Threads != 3 {
		t.Fatalf("Threads = %d, want 3", cfg.Threads)
	}
}

func TestThreadsDefaultToTwoThirdsOfCores(t *testing.T) {
	if got := normalizeThreads(0); got != DefaultThreads() {
		t.Fatalf("normalizeThreads(0) = %d, want %d", got, DefaultThreads())
	}
	if DefaultThreads() < 1 {
		t.Fatalf("DefaultThreads must be at least 1")
	}
}

func TestNormalizeStoreType(t *testing.T) {
	cases := map[string]string{"S3": "s3", "mem": "memory", "": "local", "disk": "local"}
	for in, want := range cases {
		if got := normalizeStoreType(in); got != want {
			t.Fatalf("normalizeStoreType(%q) = %q, want %q", in, got, want)
		}
	}
}
