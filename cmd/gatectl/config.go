package main

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration.
type CLIConfig struct {
	Address   string `yaml:"address"`
	TLSCACert string `yaml:"tls_ca_cert"`

	// Local gate settings.
	FlagFile         string        `yaml:"flag_file"`
	EncryptionSecret string        `yaml:"encryption_secret"`
	SessionKey       string        `yaml:"session_key"`
	PasscodeHash     string        `yaml:"passcode_hash"`
	MaxAttempts      int           `yaml:"max_attempts"`
	Lockout          time.Duration `yaml:"lockout"`
}

var cfg CLIConfig

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".journalgate")
}

// configPath returns the path to the CLI config file.
func configPath() string {
	if v := os.Getenv("GATECTL_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(configDir(), "config.yaml")
}

// loadConfig loads the CLI config from disk.
func loadConfig() {
	cfg = CLIConfig{
		Address:  "http://127.0.0.1:8300",
		FlagFile: filepath.Join(configDir(), "flags.json"),
	}
	data, err := os.ReadFile(configPath())
	if err != nil {
		return // Use defaults
	}
	yaml.Unmarshal(data, &cfg) //nolint:errcheck
}

// saveConfig persists the CLI config to disk.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
