// Package config handles configuration loading for the contrast-tiles server.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/natefinch/lumberjack"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Jobs   JobsConfig   `yaml:"jobs"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig locates one dataset and its annotation database.
type DatasetConfig struct {
	Path       string `yaml:"path"`
	SQLitePath string `yaml:"sqlite_path"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	DefaultDataset string                   `yaml:"default_dataset"`
	Datasets       map[string]DatasetConfig `yaml:"datasets"`
}

// DatasetIDs returns the configured dataset ids in sorted order.
func (d DataConfig) DatasetIDs() []string {
	ids := make([]string, 0, len(d.Datasets))
	for id := range d.Datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize    int     `yaml:"tile_size"`
	PointRadius float64 `yaml:"point_radius"`
	LineWidth   float64 `yaml:"line_width"`
}

// JobsConfig contains compute job settings.
type JobsConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig contains log output settings. An empty File logs to stderr.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Writer returns a rotating writer for the log file, or nil when logging
// to stderr.
func (c LogConfig) Writer() io.Writer {
	if c.File == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename: c.File,
		MaxSize:  c.MaxSizeMB,  // megabytes
		MaxAge:   c.MaxAgeDays, // days
	}
}

// envOverrides are environment variables that take precedence over the file.
type envOverrides struct {
	Port       int    `env:"CONTRAST_PORT"`
	LogFile    string `env:"CONTRAST_LOG_FILE"`
	JobsSQLite string `env:"CONTRAST_JOBS_SQLITE"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		var fromFile Config
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		applyDefaults(&fromFile)
		cfg = &fromFile
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if overrides.Port != 0 {
		cfg.Server.Port = overrides.Port
	}
	if overrides.LogFile != "" {
		cfg.Log.File = overrides.LogFile
	}
	if overrides.JobsSQLite != "" {
		cfg.Jobs.SQLitePath = overrides.JobsSQLite
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {Path: "./data/default"},
			},
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			QueryCacheSize: 1000,
		},
		Render: RenderConfig{
			TileSize:    256,
			PointRadius: 4,
			LineWidth:   2,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 1,
			SQLitePath:    "./data/jobs.sqlite",
			RetentionDays: 7,
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxAgeDays: 28,
		},
	}
	applyDatasetDefaults(&cfg.Data)
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data.Datasets = defaults.Data.Datasets
	}
	applyDatasetDefaults(&cfg.Data)
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.PointRadius == 0 {
		cfg.Render.PointRadius = defaults.Render.PointRadius
	}
	if cfg.Render.LineWidth == 0 {
		cfg.Render.LineWidth = defaults.Render.LineWidth
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = defaults.Jobs.MaxConcurrent
	}
	if cfg.Jobs.SQLitePath == "" {
		cfg.Jobs.SQLitePath = defaults.Jobs.SQLitePath
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = defaults.Log.MaxAgeDays
	}
}

// applyDatasetDefaults keeps each annotation database next to its dataset
// and falls back to the first dataset id when no valid default is set.
func applyDatasetDefaults(d *DataConfig) {
	for id, ds := range d.Datasets {
		if ds.SQLitePath == "" {
			ds.SQLitePath = filepath.Join(ds.Path, "annotations.sqlite")
			d.Datasets[id] = ds
		}
	}
	if _, ok := d.Datasets[d.DefaultDataset]; !ok {
		d.DefaultDataset = ""
		if ids := d.DatasetIDs(); len(ids) > 0 {
			d.DefaultDataset = ids[0]
		}
	}
}
