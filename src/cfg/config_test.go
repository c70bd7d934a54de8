package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %d, got %d", defaultPort, cfg.Port)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notelink.yaml")
	cfg := Defaults()
	cfg.Port = 9999
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", loaded.Port)
	}
}

func TestLoadAppliesDefaultsForPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("port: 4000\n"), 0644); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 4000 {
		t.Fatalf("expected port 4000, got %d", cfg.Port)
	}
	if cfg.ServerName != defaultServerName {
		t.Fatalf("expected default server name, got %q", cfg.ServerName)
	}
}
