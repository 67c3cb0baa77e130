package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatcore.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatcore")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// TokenPath returns the default stored-credential path.
func TokenPath() string {
	return filepath.Join(BaseDir(), "token")
}

// CacheDBPath returns the SQLite cache path.
func CacheDBPath() string {
	return filepath.Join(BaseDir(), "cache.db")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "chatcored.log")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func EnsureDirs() error {
	for _, d := range []string{BaseDir(), LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
