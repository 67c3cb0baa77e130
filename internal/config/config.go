package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.chatcore/config.toml.
type Config struct {
	Relay      RelayConfig      `toml:"relay"`
	Upload     UploadConfig     `toml:"upload"`
	Credential CredentialConfig `toml:"credential"`
	Typing     TypingConfig     `toml:"typing"`
}

// RelayConfig locates the message relay.
type RelayConfig struct {
	APIURL            string `toml:"api_url"`
	SocketURL         string `toml:"socket_url"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
}

// UploadConfig describes the object-storage upload profile.
type UploadConfig struct {
	Endpoint string `toml:"endpoint"`
	Preset   string `toml:"preset"`
	MaxBytes int64  `toml:"max_bytes"`
}

// CredentialConfig locates the stored bearer credential.
type CredentialConfig struct {
	TokenPath string `toml:"token_path"`
}

// TypingConfig tunes the typing-indicator auto-clear.
type TypingConfig struct {
	TTLMillis int `toml:"ttl_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			APIURL:            "http://localhost:5000",
			SocketURL:         "ws://localhost:5000/ws",
			RequestTimeoutSec: 15,
		},
		Upload: UploadConfig{
			MaxBytes: 10 << 20,
		},
		Credential: CredentialConfig{
			TokenPath: TokenPath(),
		},
		Typing: TypingConfig{
			TTLMillis: 1000,
		},
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Relay.RequestTimeoutSec <= 0 {
		cfg.Relay.RequestTimeoutSec = 15
	}
	if cfg.Upload.MaxBytes <= 0 {
		cfg.Upload.MaxBytes = 10 << 20
	}
	if cfg.Typing.TTLMillis <= 0 {
		cfg.Typing.TTLMillis = 1000
	}
	if cfg.Credential.TokenPath == "" {
		cfg.Credential.TokenPath = TokenPath()
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// RequestTimeout returns the REST/upload timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Relay.RequestTimeoutSec) * time.Second
}

// TypingTTL returns the typing-indicator auto-clear interval.
func (c *Config) TypingTTL() time.Duration {
	return time.Duration(c.Typing.TTLMillis) * time.Millisecond
}
