package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configVersion  = 1
	appName        = "glimpse"
	configFileName = "config.json"

	defaultModel = "gpt-4o-mini"
)

type appConfig struct {
	Version         int    `json:"version"`
	Model           string `json:"model"`
	BaseURL         string `json:"base_url,omitempty"`
	TranscribeModel string `json:"transcribe_model,omitempty"`
	// MaxImageDim bounds the longer edge of uploaded captures.
	MaxImageDim int `json:"max_image_dim,omitempty"`
	// Timeouts in seconds; zero means the client default.
	StreamTimeoutSeconds     int `json:"stream_timeout_seconds,omitempty"`
	DescribeTimeoutSeconds   int `json:"describe_timeout_seconds,omitempty"`
	ValidateTimeoutSeconds   int `json:"validate_timeout_seconds,omitempty"`
	TranscribeTimeoutSeconds int `json:"transcribe_timeout_seconds,omitempty"`
}

type appConfigStore struct {
	path string
	data appConfig
}

func defaultAppConfig() appConfig {
	return appConfig{
		Version: configVersion,
		Model:   defaultModel,
	}
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cli config: resolve config dir: %w", err)
	}
	return filepath.Join(base, appName), nil
}

func loadOrInitAppConfig(path string) (*appConfigStore, error) {
	if strings.TrimSpace(path) == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, configFileName)
	}
	store := &appConfigStore{path: path, data: defaultAppConfig()}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cli config: read %q: %w", path, err)
		}
		if err := store.save(); err != nil {
			return nil, err
		}
		return store, nil
	}

	var loaded appConfig
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("cli config: parse %q: %w", path, err)
	}
	if loaded.Version == 0 {
		loaded.Version = configVersion
	}
	if strings.TrimSpace(loaded.Model) == "" {
		loaded.Model = defaultModel
	}
	store.data = loaded
	return store, nil
}

func (s *appConfigStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cli config: create dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("cli config: write %q: %w", s.path, err)
	}
	return nil
}
