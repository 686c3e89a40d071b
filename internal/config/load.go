package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const configFileName = "relay.json"

// Load reads the global config file and applies environment overrides.
func Load() (*Config, error) {
	return LoadFromFile(GlobalConfigPath())
}

// LoadFromFile builds a Config in three layers: built-in defaults, the JSON
// file at path (a missing file is fine), then environment variables. A .env
// file in the working directory is loaded first; it never overrides
// variables already set in the process environment.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if err := loadFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	//nolint:gosec // G304: Path is from trusted config locations, not user input.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// applyDefaults fills values a config file may have blanked out.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = def.LLM.DefaultModel
	}
	if cfg.LLM.TitleModel == "" {
		cfg.LLM.TitleModel = cfg.LLM.DefaultModel
	}
	if len(cfg.Catalog.Models) == 0 {
		cfg.Catalog.Models = def.Catalog.Models
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = def.Server.URL
	}
	if cfg.Worker.RecoveryGrace <= 0 {
		cfg.Worker.RecoveryGrace = def.Worker.RecoveryGrace
	}
}

// GlobalConfigPath returns the path to the global configuration file.
func GlobalConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}
