package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/natefinch/lumberjack"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestLoad_Datasets(t *testing.T) {
	content := `
server:
  port: 9000
data:
  datasets:
    liver:
      path: /data/liver
    embryo:
      path: /data/embryo
      sqlite_path: /db/embryo.sqlite
jobs:
  max_concurrent: 4
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if ids := cfg.Data.DatasetIDs(); len(ids) != 2 || ids[0] != "embryo" || ids[1] != "liver" {
		t.Fatalf("unexpected dataset ids %v", ids)
	}
	if cfg.Data.DefaultDataset != "embryo" {
		t.Errorf("expected first dataset as default, got %q", cfg.Data.DefaultDataset)
	}
	if got := cfg.Data.Datasets["liver"].SQLitePath; got != filepath.Join("/data/liver", "annotations.sqlite") {
		t.Errorf("unexpected liver sqlite path %q", got)
	}
	if got := cfg.Data.Datasets["embryo"].SQLitePath; got != "/db/embryo.sqlite" {
		t.Errorf("unexpected embryo sqlite path %q", got)
	}
	if cfg.Jobs.MaxConcurrent != 4 || cfg.Jobs.RetentionDays != 7 {
		t.Errorf("unexpected jobs config %+v", cfg.Jobs)
	}
	if cfg.Render.TileSize != 256 || cfg.Cache.QueryCacheSize != 1000 {
		t.Errorf("expected defaults applied, got render=%+v cache=%+v", cfg.Render, cfg.Cache)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Data.DefaultDataset != "default" {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONTRAST_PORT", "9100")
	t.Setenv("CONTRAST_LOG_FILE", "/var/log/contrast.log")
	t.Setenv("CONTRAST_JOBS_SQLITE", "/tmp/jobs.sqlite")

	cfg := loadFromString(t, "server:\n  port: 9000\n")
	if cfg.Server.Port != 9100 {
		t.Errorf("expected env port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Log.File != "/var/log/contrast.log" {
		t.Errorf("unexpected log file %q", cfg.Log.File)
	}
	if cfg.Jobs.SQLitePath != "/tmp/jobs.sqlite" {
		t.Errorf("unexpected jobs sqlite %q", cfg.Jobs.SQLitePath)
	}

	t.Setenv("CONTRAST_PORT", "not-a-port")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for invalid CONTRAST_PORT")
	}
}

func TestLogWriter(t *testing.T) {
	if w := (LogConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without a file, got %T", w)
	}
	w := LogConfig{File: "/tmp/contrast.log", MaxSizeMB: 10, MaxAgeDays: 3}.Writer()
	l, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("expected lumberjack logger, got %T", w)
	}
	if l.MaxSize != 10 || l.MaxAge != 3 {
		t.Fatalf("unexpected rotation settings %+v", l)
	}
}
