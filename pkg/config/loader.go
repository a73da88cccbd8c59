package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads .env (if present), loads path as YAML, expands
// environment variables, merges the result over DefaultConfig(), and
// validates it. Mirrors tarsy/pkg/config/loader.go's Initialize(ctx,
// configDir) entry point, trimmed from "directory of several YAML files
// merged with a built-in registry" to "one YAML file merged with in-code
// defaults" since this config surface has no registries to merge.
func Initialize(ctx context.Context, path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("loading configuration")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "error", err)
	}

	cfg, err := load(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration loaded",
		"max_depth", cfg.Runtime.MaxDepth,
		"primary_model", cfg.Primary.Model,
		"sub_model_delegation", cfg.Sub != nil)
	return cfg, nil
}

func load(_ context.Context, path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Path: path, Err: ErrConfigNotFound}
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	expanded := ExpandEnv(raw)

	var fromFile Config
	if err := yaml.Unmarshal(expanded, &fromFile); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	merged := DefaultConfig()
	if err := mergo.Merge(&merged, fromFile, mergo.WithOverride); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("merge defaults: %w", err)}
	}
	return &merged, nil
}
